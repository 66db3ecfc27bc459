package sink

import (
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"lancast/internal/core/domain"
)

// queueDepth bounds how many frames may be pending toward a slow
// consumer before Write starts shedding.
const queueDepth = 32

// writeQueue serializes writes to an underlying consumer through a
// single goroutine, so frame payloads reach the decoder in delivery
// order with at most one write in flight.
type writeQueue struct {
	out    io.WriteCloser
	frames chan []byte
	done   chan struct{}
	logger *zap.SugaredLogger

	mu        sync.Mutex
	closed    bool
	written   uint64
	dropped   uint64
	fpsWindow time.Time
	fpsCount  int
	fps       float64
}

func newWriteQueue(out io.WriteCloser, logger *zap.SugaredLogger) *writeQueue {
	q := &writeQueue{
		out:       out,
		frames:    make(chan []byte, queueDepth),
		done:      make(chan struct{}),
		logger:    logger,
		fpsWindow: time.Now(),
	}
	go q.consume()
	return q
}

func (q *writeQueue) consume() {
	defer close(q.done)
	for payload := range q.frames {
		if _, err := q.out.Write(payload); err != nil {
			q.logger.Warnw("sink write failed", "error", err)
			continue
		}
		q.mu.Lock()
		q.written++
		q.fpsCount++
		if elapsed := time.Since(q.fpsWindow); elapsed >= time.Second {
			q.fps = float64(q.fpsCount) / elapsed.Seconds()
			q.fpsCount = 0
			q.fpsWindow = time.Now()
		}
		q.mu.Unlock()
	}
}

// Write enqueues a payload for ordered delivery. A full queue sheds the
// frame rather than blocking the receiver's event loop. The closed
// check and the channel send sit under one lock so a concurrent Close
// can never close the channel between them.
func (q *writeQueue) Write(payload []byte) error {
	buf := make([]byte, len(payload))
	copy(buf, payload)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return domain.ErrSinkClosed
	}

	select {
	case q.frames <- buf:
	default:
		q.dropped++
	}
	return nil
}

// ReportedFps returns the consumer-side write rate over the last
// completed window, or 0 before the first window closes.
func (q *writeQueue) ReportedFps() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fps
}

// Close drains queued frames, then closes the underlying consumer.
func (q *writeQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	close(q.frames)
	<-q.done
	return q.out.Close()
}
