package encoder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lancast/internal/core/domain"
)

func TestSyntheticKeyframeCadence(t *testing.T) {
	e := NewSynthetic(8000, 60)
	ctx := context.Background()

	first, err := e.Encode(ctx)
	require.NoError(t, err)
	assert.True(t, first.IsKeyframe, "first frame must be a keyframe")

	for i := 1; i < keyframeEvery; i++ {
		frame, err := e.Encode(ctx)
		require.NoError(t, err)
		assert.False(t, frame.IsKeyframe, "frame %d should be delta", i)
	}

	gop, err := e.Encode(ctx)
	require.NoError(t, err)
	assert.True(t, gop.IsKeyframe, "GOP boundary must be a keyframe")
}

func TestSyntheticForceKeyframe(t *testing.T) {
	e := NewSynthetic(8000, 60)
	ctx := context.Background()

	_, err := e.Encode(ctx)
	require.NoError(t, err)

	e.ForceKeyframe()
	frame, err := e.Encode(ctx)
	require.NoError(t, err)
	assert.True(t, frame.IsKeyframe)
}

func TestSyntheticAverageBitrate(t *testing.T) {
	const bitrateKbps, fps = 6000, 60
	e := NewSynthetic(bitrateKbps, fps)
	ctx := context.Background()

	var total int
	const frames = keyframeEvery * 2
	for i := 0; i < frames; i++ {
		frame, err := e.Encode(ctx)
		require.NoError(t, err)
		total += len(frame.Bytes)
	}

	wantPerFrame := bitrateKbps * 1000 / 8 / fps
	gotPerFrame := total / frames
	assert.InDelta(t, wantPerFrame, gotPerFrame, float64(wantPerFrame)/4,
		"average frame size should track the target bitrate")
}

func TestSyntheticClosedEncoder(t *testing.T) {
	e := NewSynthetic(8000, 60)
	require.NoError(t, e.Close())

	_, err := e.Encode(context.Background())
	assert.ErrorIs(t, err, domain.ErrEncoderUnavailable)
}
