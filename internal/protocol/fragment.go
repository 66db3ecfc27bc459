package protocol

import (
	"math"

	"lancast/internal/core/domain"
)

// Fragmenter splits encoded frames into MTU-bounded chunk packets. One
// Fragmenter belongs to one sending stream; Next assigns seq numbers
// monotonically and never resets them, including across encoder
// reconfigurations.
type Fragmenter struct {
	streamID        domain.StreamID
	maxPayloadBytes int
	nextSeq         uint32
}

// NewFragmenter clamps maxPayloadBytes into the supported range.
func NewFragmenter(streamID domain.StreamID, maxPayloadBytes int) *Fragmenter {
	if maxPayloadBytes < domain.MinPayloadBytes {
		maxPayloadBytes = domain.MinPayloadBytes
	}
	if maxPayloadBytes > domain.MaxPayloadCap {
		maxPayloadBytes = domain.MaxPayloadCap
	}
	return &Fragmenter{
		streamID:        streamID,
		maxPayloadBytes: maxPayloadBytes,
	}
}

// MaxPayloadBytes returns the effective chunk payload budget.
func (f *Fragmenter) MaxPayloadBytes() int {
	return f.maxPayloadBytes
}

// NextSeq returns the seq the next frame will be assigned.
func (f *Fragmenter) NextSeq() uint32 {
	return f.nextSeq
}

// Next fragments one encoded frame. All chunks share the frame's seq,
// timestamp and flags; chunkIndex orders them. An empty frame still
// produces a single empty chunk so the seq is observable downstream.
// A frame whose chunk count would not fit the u16 wire field returns
// nil without consuming a seq.
func (f *Fragmenter) Next(frame *domain.EncodedFrame) []*domain.StreamPacket {
	var flags uint8
	if frame.IsKeyframe {
		flags |= domain.FlagKeyframe
	}

	total := (len(frame.Bytes) + f.maxPayloadBytes - 1) / f.maxPayloadBytes
	if total == 0 {
		total = 1
	}
	if total > math.MaxUint16 {
		return nil
	}

	seq := f.nextSeq
	f.nextSeq++

	packets := make([]*domain.StreamPacket, 0, total)
	for i := 0; i < total; i++ {
		start := i * f.maxPayloadBytes
		end := start + f.maxPayloadBytes
		if end > len(frame.Bytes) {
			end = len(frame.Bytes)
		}
		packets = append(packets, &domain.StreamPacket{
			StreamID:    f.streamID,
			Seq:         seq,
			TimestampUs: frame.ProducedAtUs,
			Flags:       flags,
			TotalChunks: uint16(total),
			ChunkIndex:  uint16(i),
			Payload:     frame.Bytes[start:end],
		})
	}
	return packets
}
