package domain

import "time"

// DropReason classifies why a pending frame left the reassembly table
// without being delivered.
type DropReason string

const (
	DropTimedOut     DropReason = "timed_out"
	DropLate         DropReason = "late"
	DropQueueEvicted DropReason = "queue_evicted"
	DropGapEvicted   DropReason = "gap_evicted"
	DropInvalid      DropReason = "invalid"
)

// ReceiverStats are the running counters for one receive session.
// Owned by the receiver; callers only ever see snapshots.
type ReceiverStats struct {
	PacketsReceived  uint64
	PacketsAccepted  uint64
	PacketsInvalid   uint64
	PacketsDuplicate uint64
	PacketsMismatch  uint64
	PacketsLate      uint64

	FramesCompleted      uint64
	FramesDroppedTimeout uint64
	FramesDroppedLate    uint64
	FramesDroppedQueue   uint64
	SeqGapFrames         uint64
	FramesInvalid        uint64

	MissingChunks    uint64
	BytesReassembled uint64
	KeyframesSeen    uint64
}

// CountDrop bumps the frame counter matching the reason.
func (s *ReceiverStats) CountDrop(reason DropReason) {
	switch reason {
	case DropTimedOut:
		s.FramesDroppedTimeout++
	case DropLate:
		s.FramesDroppedLate++
	case DropQueueEvicted:
		s.FramesDroppedQueue++
	case DropGapEvicted:
		s.SeqGapFrames++
	case DropInvalid:
		s.FramesInvalid++
	}
}

// FramesDropped is the total across all drop reasons.
func (s *ReceiverStats) FramesDropped() uint64 {
	return s.FramesDroppedTimeout + s.FramesDroppedLate + s.FramesDroppedQueue + s.SeqGapFrames + s.FramesInvalid
}

// LossPct estimates frame loss as dropped over dropped+completed.
func (s *ReceiverStats) LossPct() float64 {
	dropped := s.FramesDropped()
	total := dropped + s.FramesCompleted
	if total == 0 {
		return 0
	}
	return float64(dropped) / float64(total) * 100
}

// StatsSnapshot is the periodic receiver-side quality report.
type StatsSnapshot struct {
	At            time.Time
	Stats         ReceiverStats
	LossPct       float64
	JitterMs      float64
	AssembledFps  float64
	BitrateKbps   float64
	PendingFrames int
}
