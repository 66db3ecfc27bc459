// Package encoder provides frame sources for the sender. Real capture
// encoders live outside this module; the synthetic encoder exists so
// the transport can be exercised end to end at a controlled bitrate.
package encoder

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"
)

// keyframeEvery is the synthetic GOP length.
const keyframeEvery = 120

// SyntheticEncoder emits pseudo-random frames sized so that the stream
// averages the configured bitrate at the configured fps. Keyframes are
// larger than delta frames, the way real encoders behave.
type SyntheticEncoder struct {
	bitrateKbps int
	fps         int
	rng         *rand.Rand

	mu         sync.Mutex
	frameCount uint64
	forceIDR   bool
	closed     bool
}

func NewSynthetic(bitrateKbps, fps int) *SyntheticEncoder {
	if fps <= 0 {
		fps = 60
	}
	return &SyntheticEncoder{
		bitrateKbps: bitrateKbps,
		fps:         fps,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewSyntheticFactory adapts the synthetic encoder to the sender's
// rebuild-on-bitrate-change contract.
func NewSyntheticFactory(fps int) ports.EncoderFactory {
	return func(bitrateKbps int) (ports.FrameEncoder, error) {
		return NewSynthetic(bitrateKbps, fps), nil
	}
}

func (e *SyntheticEncoder) Encode(ctx context.Context) (*domain.EncodedFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, domain.ErrEncoderUnavailable
	}
	isKeyframe := e.forceIDR || e.frameCount%keyframeEvery == 0
	e.forceIDR = false
	e.frameCount++
	e.mu.Unlock()

	// Keyframes take 4x the average; deltas shrink just enough that a
	// full GOP still averages out to the target bitrate.
	avg := e.bitrateKbps * 1000 / 8 / e.fps
	size := avg * (keyframeEvery - 4) / (keyframeEvery - 1)
	if isKeyframe {
		size = avg * 4
	}
	if size < 1 {
		size = 1
	}

	payload := make([]byte, size)
	e.rng.Read(payload)

	return &domain.EncodedFrame{
		Bytes:        payload,
		IsKeyframe:   isKeyframe,
		ProducedAtUs: uint64(time.Now().UnixMicro()),
	}, nil
}

func (e *SyntheticEncoder) BitrateKbps() int {
	return e.bitrateKbps
}

func (e *SyntheticEncoder) ForceKeyframe() {
	e.mu.Lock()
	e.forceIDR = true
	e.mu.Unlock()
}

func (e *SyntheticEncoder) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}
