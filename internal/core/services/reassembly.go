package services

import (
	"sort"
	"time"

	"lancast/internal/core/domain"

	"go.uber.org/zap"
)

// jitterWeight is the RFC 3550 EWMA smoothing weight (1/16).
const jitterWeight = 1.0 / 16.0

// PendingFrame is a partially received frame. Exclusively owned by the
// ReassemblyBuffer; created on the first chunk of a new seq, destroyed
// on completion or eviction.
type PendingFrame struct {
	Seq           uint32
	TimestampUs   uint64
	Flags         uint8
	TotalChunks   uint16
	Chunks        [][]byte
	ReceivedCount uint16
	FirstArrival  time.Time
	LastArrival   time.Time
}

func (f *PendingFrame) missing() int {
	return int(f.TotalChunks) - int(f.ReceivedCount)
}

// ReassemblyBufferConfig tunes eviction policy.
type ReassemblyBufferConfig struct {
	ExpectedStreamID domain.StreamID // zero value: lock onto first observed
	MaxFrameAge      time.Duration
	MaxPendingFrames int
}

// DeliverFunc receives each completed frame's payload in strict seq
// order. It runs inside the buffer's lock discipline; implementations
// must not call back into the buffer.
type DeliverFunc func(payload []byte, frame *PendingFrame)

// ReassemblyBuffer is the receiver's jitter buffer: it accumulates
// chunks per seq, detects completion, duplicates, gaps and loss, and
// evicts on timeout or queue pressure. Delivery is strictly monotonic
// in seq; once a newer frame completes, older pending frames are gone
// for good. Not safe for concurrent use — the owning receiver
// serializes packet handling, sweeps and snapshots.
type ReassemblyBuffer struct {
	cfg     ReassemblyBufferConfig
	deliver DeliverFunc
	logger  *zap.SugaredLogger

	activeStream domain.StreamID
	locked       bool

	pending          map[uint32]*PendingFrame
	lastDeliveredSeq uint32
	deliveredAny     bool

	stats domain.ReceiverStats

	// RFC 3550 interarrival jitter state
	jitterUs      float64
	lastTransitUs int64
	haveTransit   bool

	now func() time.Time
}

// NewReassemblyBuffer builds a jitter buffer delivering through fn.
func NewReassemblyBuffer(cfg ReassemblyBufferConfig, fn DeliverFunc, logger *zap.SugaredLogger) *ReassemblyBuffer {
	if cfg.MaxFrameAge <= 0 {
		cfg.MaxFrameAge = 40 * time.Millisecond
	}
	if cfg.MaxPendingFrames <= 0 {
		cfg.MaxPendingFrames = 96
	}
	b := &ReassemblyBuffer{
		cfg:     cfg,
		deliver: fn,
		logger:  logger,
		pending: make(map[uint32]*PendingFrame),
		now:     time.Now,
	}
	if !cfg.ExpectedStreamID.IsZero() {
		b.activeStream = cfg.ExpectedStreamID
		b.locked = true
	}
	return b
}

// Push processes one parsed packet through the per-seq state machine.
func (b *ReassemblyBuffer) Push(p *domain.StreamPacket) {
	b.stats.PacketsReceived++
	now := b.now()

	// stream filter: configured id, else lock onto the first observed
	if !b.locked {
		b.activeStream = p.StreamID
		b.locked = true
	} else if p.StreamID != b.activeStream {
		b.stats.PacketsMismatch++
		return
	}

	if b.deliveredAny && p.Seq <= b.lastDeliveredSeq {
		b.stats.PacketsLate++
		return
	}

	frame, ok := b.pending[p.Seq]
	if !ok {
		frame = &PendingFrame{
			Seq:          p.Seq,
			TimestampUs:  p.TimestampUs,
			Flags:        p.Flags,
			TotalChunks:  p.TotalChunks,
			Chunks:       make([][]byte, p.TotalChunks),
			FirstArrival: now,
		}
		b.pending[p.Seq] = frame
	} else if frame.TotalChunks != p.TotalChunks {
		// header disagreement within one seq: the frame is garbage
		b.stats.PacketsInvalid++
		b.stats.CountDrop(domain.DropInvalid)
		delete(b.pending, p.Seq)
		return
	}

	if int(p.ChunkIndex) >= len(frame.Chunks) {
		b.stats.PacketsInvalid++
		return
	}
	if frame.Chunks[p.ChunkIndex] != nil {
		b.stats.PacketsDuplicate++
		return
	}

	chunk := make([]byte, len(p.Payload))
	copy(chunk, p.Payload)
	frame.Chunks[p.ChunkIndex] = chunk
	frame.ReceivedCount++
	frame.LastArrival = now
	b.stats.PacketsAccepted++

	b.updateJitter(p.TimestampUs, now)

	if frame.ReceivedCount == frame.TotalChunks {
		b.finalize(frame)
	}
}

// finalize assembles and delivers a complete frame, evicting any older
// pending frames the completion implies are permanently lost.
func (b *ReassemblyBuffer) finalize(frame *PendingFrame) {
	delete(b.pending, frame.Seq)

	// re-check: a frame may complete after a newer one already delivered
	if b.deliveredAny && frame.Seq <= b.lastDeliveredSeq {
		b.stats.CountDrop(domain.DropLate)
		return
	}

	// completion of seq N abandons everything older still pending
	if b.deliveredAny && frame.Seq > b.lastDeliveredSeq+1 {
		b.evictBelow(frame.Seq)
	} else if !b.deliveredAny && frame.Seq > 0 {
		b.evictBelow(frame.Seq)
	}

	var size int
	for _, c := range frame.Chunks {
		size += len(c)
	}
	payload := make([]byte, 0, size)
	for i, c := range frame.Chunks {
		if c == nil {
			// unreachable while ReceivedCount bookkeeping holds, but a
			// hole must never reach the decoder
			b.logger.Warnw("assembled frame has empty chunk slot", "seq", frame.Seq, "chunk", i)
			b.stats.MissingChunks++
			b.stats.CountDrop(domain.DropTimedOut)
			return
		}
		payload = append(payload, c...)
	}

	b.lastDeliveredSeq = frame.Seq
	b.deliveredAny = true
	b.stats.FramesCompleted++
	b.stats.BytesReassembled += uint64(len(payload))
	if frame.Flags&domain.FlagKeyframe != 0 {
		b.stats.KeyframesSeen++
	}

	if b.deliver != nil {
		b.deliver(payload, frame)
	}
}

// evictBelow drops every pending frame with seq < bound as GapEvicted.
func (b *ReassemblyBuffer) evictBelow(bound uint32) {
	for seq, f := range b.pending {
		if seq < bound {
			b.stats.MissingChunks += uint64(f.missing())
			b.stats.CountDrop(domain.DropGapEvicted)
			delete(b.pending, seq)
		}
	}
}

// Sweep evicts aged frames and bounds the pending table. Cheap and
// idempotent; the receiver runs it every 20ms.
func (b *ReassemblyBuffer) Sweep() {
	now := b.now()

	for seq, f := range b.pending {
		if now.Sub(f.FirstArrival) > b.cfg.MaxFrameAge {
			b.stats.MissingChunks += uint64(f.missing())
			b.stats.CountDrop(domain.DropTimedOut)
			delete(b.pending, seq)
		}
	}

	over := len(b.pending) - b.cfg.MaxPendingFrames
	if over <= 0 {
		return
	}

	seqs := make([]uint32, 0, len(b.pending))
	for seq := range b.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, seq := range seqs[:over] {
		f := b.pending[seq]
		b.stats.MissingChunks += uint64(f.missing())
		b.stats.CountDrop(domain.DropQueueEvicted)
		delete(b.pending, seq)
	}
}

// updateJitter folds one transit-time observation into the EWMA.
func (b *ReassemblyBuffer) updateJitter(timestampUs uint64, arrival time.Time) {
	transitUs := arrival.UnixMicro() - int64(timestampUs)
	if b.haveTransit {
		d := transitUs - b.lastTransitUs
		if d < 0 {
			d = -d
		}
		b.jitterUs += (float64(d) - b.jitterUs) * jitterWeight
	}
	b.lastTransitUs = transitUs
	b.haveTransit = true
}

// JitterMs returns the current interarrival jitter estimate.
func (b *ReassemblyBuffer) JitterMs() float64 {
	return b.jitterUs / 1000
}

// PendingCount returns the number of in-flight frames.
func (b *ReassemblyBuffer) PendingCount() int {
	return len(b.pending)
}

// LastDeliveredSeq returns the newest delivered seq and whether any
// frame has been delivered yet.
func (b *ReassemblyBuffer) LastDeliveredSeq() (uint32, bool) {
	return b.lastDeliveredSeq, b.deliveredAny
}

// Stats returns a copy of the running counters.
func (b *ReassemblyBuffer) Stats() domain.ReceiverStats {
	return b.stats
}
