package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectLimiterBlocksOverBurst(t *testing.T) {
	now := time.Unix(1000, 0)
	l := newConnectLimiter(10*time.Second, 3)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("key"), "attempt %d should pass", i)
	}
	assert.False(t, l.Allow("key"))

	// Other keys have their own budget.
	assert.True(t, l.Allow("other"))
}

func TestConnectLimiterWindowSlides(t *testing.T) {
	now := time.Unix(1000, 0)
	l := newConnectLimiter(10*time.Second, 2)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("key"))
	now = now.Add(6 * time.Second)
	assert.True(t, l.Allow("key"))
	assert.False(t, l.Allow("key"))

	// The first attempt falls out of the window; one slot frees up.
	now = now.Add(5 * time.Second)
	assert.True(t, l.Allow("key"))
	assert.False(t, l.Allow("key"))
}

func TestConnectLimiterPrune(t *testing.T) {
	now := time.Unix(1000, 0)
	l := newConnectLimiter(10*time.Second, 2)
	l.now = func() time.Time { return now }

	l.Allow("stale")
	l.Allow("fresh")
	now = now.Add(11 * time.Second)
	l.Allow("fresh")

	l.Prune()

	l.mu.Lock()
	_, staleKept := l.entries["stale"]
	_, freshKept := l.entries["fresh"]
	l.mu.Unlock()

	assert.False(t, staleKept)
	assert.True(t, freshKept)
}

func TestByteWindowBudget(t *testing.T) {
	now := time.Unix(1000, 0)
	w := newByteWindow(time.Second, 1000)
	w.now = func() time.Time { return now }

	assert.True(t, w.Allow(600))
	assert.True(t, w.Allow(400))
	assert.False(t, w.Allow(1))

	// Old samples age out after the window passes.
	now = now.Add(1100 * time.Millisecond)
	assert.True(t, w.Allow(1000))
}

func TestByteWindowSingleOversizedFrame(t *testing.T) {
	w := newByteWindow(time.Second, 1000)
	assert.False(t, w.Allow(1001))
}
