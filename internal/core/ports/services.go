package ports

import (
	"context"

	"lancast/internal/core/domain"
)

// FrameEncoder is the opaque encoder collaborator. Implementations wrap
// a hardware or software codec; the transport only sees encoded access
// units. Encode blocks until the next frame is ready or ctx is done.
type FrameEncoder interface {
	Encode(ctx context.Context) (*domain.EncodedFrame, error)
	BitrateKbps() int
	ForceKeyframe()
	Close() error
}

// EncoderFactory rebuilds an encoder with a new target bitrate. The
// sender calls it on every applied bitrate change; a construction error
// leaves the previous encoder in service.
type EncoderFactory func(bitrateKbps int) (FrameEncoder, error)

// DecoderSink accepts ordered, fully reassembled payload buffers.
// Write never blocks the caller longer than its internal queue allows;
// ReportedFps returns 0 when the sink cannot observe decode rate.
type DecoderSink interface {
	Write(payload []byte) error
	ReportedFps() float64
	Close() error
}

// TokenResolver turns an opaque stream token into its resolved record.
// DeriveStreamID must be deterministic for a given token so both relay
// admission and the sender agree on the expected stream id.
type TokenResolver interface {
	Resolve(token string) (*domain.StreamToken, error)
	DeriveStreamID(token string) (string, error)
}

// SessionDirectory is the transport's read-mostly view of marketplace
// sessions. The relay consults it at admission and during sweeps.
type SessionDirectory interface {
	Get(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	Put(ctx context.Context, session *domain.Session) error
	Delete(ctx context.Context, id domain.SessionID) error
}
