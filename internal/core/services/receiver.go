package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"
	"lancast/internal/protocol"

	"go.uber.org/zap"
)

// ReceiverConfig wires one inbound stream.
type ReceiverConfig struct {
	BindAddr         string
	ExpectedStreamID domain.StreamID
	Scope            ControlScope
	MaxFrameAge      time.Duration
	MaxPendingFrames int
	SweepInterval    time.Duration
	StatsInterval    time.Duration
	FeedbackInterval time.Duration
}

// SnapshotFunc observes each periodic stats snapshot.
type SnapshotFunc func(domain.StatsSnapshot)

// Receiver drives one receive session: a single listener goroutine
// processes datagrams serially against the reassembly buffer, and its
// tickers (sweep, stats, feedback) run in the same select so nothing
// touches the pending table concurrently.
type Receiver struct {
	cfg  ReceiverConfig
	sink ports.DecoderSink

	conn *net.UDPConn

	mu         sync.Mutex
	buf        *ReassemblyBuffer
	senderAddr *net.UDPAddr

	onSnapshot SnapshotFunc

	// deltas for rate computation between snapshots
	lastSnapAt               time.Time
	lastFrames               uint64
	lastBytes                uint64
	gapsSinceKeyframeRequest uint64

	logger *zap.SugaredLogger
}

// NewReceiver binds the listening socket; bind failure aborts startup.
func NewReceiver(cfg ReceiverConfig, sink ports.DecoderSink, onSnapshot SnapshotFunc, logger *zap.SugaredLogger) (*Receiver, error) {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 20 * time.Millisecond
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 2 * time.Second
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address %s: %w", cfg.BindAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind receiver socket: %w", err)
	}

	r := &Receiver{
		cfg:        cfg,
		sink:       sink,
		conn:       conn,
		onSnapshot: onSnapshot,
		logger:     logger,
	}
	r.buf = NewReassemblyBuffer(ReassemblyBufferConfig{
		ExpectedStreamID: cfg.ExpectedStreamID,
		MaxFrameAge:      cfg.MaxFrameAge,
		MaxPendingFrames: cfg.MaxPendingFrames,
	}, r.deliverFrame, logger)
	return r, nil
}

// LocalAddr returns the bound listening address.
func (r *Receiver) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

// Stats returns a copy of the current counters.
func (r *Receiver) Stats() domain.ReceiverStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Stats()
}

// Run blocks until ctx is done, then flushes the sink and releases the
// socket.
func (r *Receiver) Run(ctx context.Context) error {
	datagrams := make(chan []byte, 256)
	readErr := make(chan error, 1)

	go func() {
		buf := make([]byte, protocol.MaxDatagramSize+1)
		for {
			n, addr, err := r.conn.ReadFromUDP(buf)
			if err != nil {
				readErr <- err
				return
			}
			r.mu.Lock()
			r.senderAddr = addr
			r.mu.Unlock()

			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case datagrams <- data:
			default:
				// inbound burst beyond the queue: shed, the protocol
				// recovers via loss accounting
			}
		}
	}()

	sweep := time.NewTicker(r.cfg.SweepInterval)
	stats := time.NewTicker(r.cfg.StatsInterval)
	defer sweep.Stop()
	defer stats.Stop()

	var feedback *time.Ticker
	var feedbackC <-chan time.Time
	if r.cfg.FeedbackInterval > 0 {
		feedback = time.NewTicker(r.cfg.FeedbackInterval)
		feedbackC = feedback.C
		defer feedback.Stop()
	}

	r.lastSnapAt = time.Now()

	for {
		select {
		case <-ctx.Done():
			r.conn.Close()
			if err := r.sink.Close(); err != nil {
				r.logger.Warnw("sink close failed", "error", err)
			}
			return ctx.Err()

		case err := <-readErr:
			if ctx.Err() != nil {
				r.sink.Close()
				return ctx.Err()
			}
			r.sink.Close()
			return fmt.Errorf("receiver socket: %w", err)

		case data := <-datagrams:
			r.handleDatagram(data)

		case <-sweep.C:
			r.mu.Lock()
			r.buf.Sweep()
			r.mu.Unlock()

		case <-stats.C:
			r.emitSnapshot()

		case <-feedbackC:
			r.sendFeedback()
		}
	}
}

func (r *Receiver) handleDatagram(data []byte) {
	pkt, err := protocol.ParsePacket(data)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		// malformed input is counted, never propagated
		r.buf.stats.PacketsReceived++
		r.buf.stats.PacketsInvalid++
		return
	}
	r.buf.Push(pkt)
}

// deliverFrame runs under r.mu from within buf.Push.
func (r *Receiver) deliverFrame(payload []byte, frame *PendingFrame) {
	if err := r.sink.Write(payload); err != nil {
		r.logger.Warnw("sink write failed", "seq", frame.Seq, "error", err)
	}
}

// emitSnapshot computes rates over the elapsed window and publishes.
func (r *Receiver) emitSnapshot() {
	r.mu.Lock()
	stats := r.buf.Stats()
	jitterMs := r.buf.JitterMs()
	pending := r.buf.PendingCount()
	r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastSnapAt).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}

	snap := domain.StatsSnapshot{
		At:            now,
		Stats:         stats,
		LossPct:       stats.LossPct(),
		JitterMs:      jitterMs,
		AssembledFps:  float64(stats.FramesCompleted-r.lastFrames) / elapsed,
		BitrateKbps:   float64(stats.BytesReassembled-r.lastBytes) * 8 / 1000 / elapsed,
		PendingFrames: pending,
	}
	r.lastSnapAt = now
	r.lastFrames = stats.FramesCompleted
	r.lastBytes = stats.BytesReassembled

	r.logger.Infow("receive stats",
		"fps", fmt.Sprintf("%.1f", snap.AssembledFps),
		"bitrate_kbps", fmt.Sprintf("%.0f", snap.BitrateKbps),
		"loss_pct", fmt.Sprintf("%.2f", snap.LossPct),
		"jitter_ms", fmt.Sprintf("%.2f", snap.JitterMs),
		"pending", snap.PendingFrames,
		"completed", stats.FramesCompleted,
	)

	if r.onSnapshot != nil {
		r.onSnapshot(snap)
	}
}

// sendFeedback reports observed quality back to the sender and asks
// for a keyframe when gap loss has visibly progressed.
func (r *Receiver) sendFeedback() {
	r.mu.Lock()
	stats := r.buf.Stats()
	jitterMs := r.buf.JitterMs()
	dest := r.senderAddr
	r.mu.Unlock()

	if dest == nil {
		return
	}

	msg := domain.FeedbackMessage{
		Type:      domain.MsgNetworkReport,
		Token:     r.cfg.Scope.Token,
		SessionID: r.cfg.Scope.SessionID,
		StreamID:  r.cfg.Scope.StreamID,
		LossPct:   stats.LossPct(),
		JitterMs:  jitterMs,
		SentAtUs:  uint64(time.Now().UnixMicro()),
	}
	r.writeControl(&msg, dest)

	if stats.SeqGapFrames > r.gapsSinceKeyframeRequest {
		r.gapsSinceKeyframeRequest = stats.SeqGapFrames
		kf := domain.FeedbackMessage{
			Type:      domain.MsgKeyframeRequest,
			Token:     r.cfg.Scope.Token,
			SessionID: r.cfg.Scope.SessionID,
			StreamID:  r.cfg.Scope.StreamID,
			Reason:    "gap_loss",
			SentAtUs:  uint64(time.Now().UnixMicro()),
		}
		r.writeControl(&kf, dest)
	}
}

func (r *Receiver) writeControl(msg *domain.FeedbackMessage, dest *net.UDPAddr) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if _, err := r.conn.WriteToUDP(data, dest); err != nil {
		r.logger.Debugw("feedback send failed", "error", err)
	}
}
