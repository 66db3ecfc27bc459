package relay

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// connectLimiter enforces the per-(ip, userId, sessionId) connection
// budget over a sliding window. Each key keeps the timestamps of its
// recent attempts; attempts older than the window are pruned on use.
type connectLimiter struct {
	window time.Duration
	burst  int
	now    func() time.Time

	mu      sync.Mutex
	entries map[string][]time.Time
}

func newConnectLimiter(window time.Duration, burst int) *connectLimiter {
	return &connectLimiter{
		window:  window,
		burst:   burst,
		now:     time.Now,
		entries: make(map[string][]time.Time),
	}
}

// Allow records a connection attempt for key and reports whether it
// fits in the window.
func (l *connectLimiter) Allow(key string) bool {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	attempts := l.entries[key]
	kept := attempts[:0]
	for _, t := range attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.burst {
		l.entries[key] = kept
		return false
	}

	l.entries[key] = append(kept, now)
	return true
}

// Prune drops keys with no attempts inside the window. Called from the
// registry sweep so the map does not grow with every address ever seen.
func (l *connectLimiter) Prune() {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, attempts := range l.entries {
		live := false
		for _, t := range attempts {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.entries, key)
		}
	}
}

// byteWindow tracks bytes accepted over a rolling window. Used for the
// host media budget where the unit is bytes, not messages.
type byteWindow struct {
	window time.Duration
	limit  int64
	now    func() time.Time

	mu      sync.Mutex
	samples []byteSample
	total   int64
}

type byteSample struct {
	at time.Time
	n  int64
}

func newByteWindow(window time.Duration, limit int64) *byteWindow {
	return &byteWindow{
		window: window,
		limit:  limit,
		now:    time.Now,
	}
}

// Allow accounts n bytes and reports whether the rolling total stays
// within the limit. The offending sample is still counted, so a burst
// keeps the window saturated until it ages out.
func (w *byteWindow) Allow(n int64) bool {
	now := w.now()
	cutoff := now.Add(-w.window)

	w.mu.Lock()
	defer w.mu.Unlock()

	idx := 0
	for idx < len(w.samples) && !w.samples[idx].at.After(cutoff) {
		w.total -= w.samples[idx].n
		idx++
	}
	w.samples = w.samples[idx:]

	w.samples = append(w.samples, byteSample{at: now, n: n})
	w.total += n
	return w.total <= w.limit
}

// newClientMsgLimiter returns the steady-rate limiter for client text
// messages.
func newClientMsgLimiter(msgsPerSec int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(msgsPerSec), msgsPerSec)
}
