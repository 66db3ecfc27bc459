package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"
	"lancast/internal/protocol"

	"go.uber.org/zap"
)

// SenderConfig wires one outbound stream.
type SenderConfig struct {
	StreamID        domain.StreamID
	Scope           ControlScope
	DestAddr        string
	BindAddr        string
	Fps             int
	MaxPayloadBytes int
	PacingHeadroom  float64
	MaxDuration     time.Duration // 0 means unbounded
	Control         BitrateControllerConfig
}

// Sender owns the encode→fragment→pace→send path for one stream. One
// cadence-driven loop does all sending; a second goroutine feeds the
// bitrate controller from inbound feedback datagrams. Pacing suspends
// the frame loop between packets, which is the transport's entire flow
// control.
type Sender struct {
	cfg        SenderConfig
	newEncoder ports.EncoderFactory
	control    *BitrateController
	pacer      *Pacer
	frag       *protocol.Fragmenter

	conn *net.UDPConn
	dest *net.UDPAddr

	packetsSent uint64
	bytesSent   uint64
	sendErrors  uint64
	framesSent  uint64

	logger *zap.SugaredLogger
}

// NewSender binds the UDP socket. Bind failure is the one fatal
// startup condition; everything after Run starts is recoverable.
func NewSender(cfg SenderConfig, factory ports.EncoderFactory, logger *zap.SugaredLogger) (*Sender, error) {
	if cfg.Fps <= 0 {
		cfg.Fps = 60
	}
	if cfg.PacingHeadroom < 1.0 {
		cfg.PacingHeadroom = 1.1
	}

	dest, err := net.ResolveUDPAddr("udp", cfg.DestAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve destination %s: %w", cfg.DestAddr, err)
	}

	var bind *net.UDPAddr
	if cfg.BindAddr != "" {
		bind, err = net.ResolveUDPAddr("udp", cfg.BindAddr)
		if err != nil {
			return nil, fmt.Errorf("resolve bind address %s: %w", cfg.BindAddr, err)
		}
	}
	conn, err := net.ListenUDP("udp", bind)
	if err != nil {
		return nil, fmt.Errorf("bind sender socket: %w", err)
	}

	control := NewBitrateController(cfg.Scope, cfg.Control, logger)
	return &Sender{
		cfg:        cfg,
		newEncoder: factory,
		control:    control,
		pacer:      NewPacer(int(float64(cfg.Control.StartBitrateKbps) * cfg.PacingHeadroom)),
		frag:       protocol.NewFragmenter(cfg.StreamID, cfg.MaxPayloadBytes),
		conn:       conn,
		dest:       dest,
		logger:     logger,
	}, nil
}

// Control exposes the bitrate controller, e.g. for relay-delivered
// feedback that bypasses the UDP inlet.
func (s *Sender) Control() *BitrateController {
	return s.control
}

// LocalAddr returns the bound socket address (feedback destination).
func (s *Sender) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Run drives the stream until ctx is done or the hard duration lapses.
func (s *Sender) Run(ctx context.Context) error {
	if s.cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.MaxDuration)
		defer cancel()
	}

	enc, err := s.newEncoder(s.control.CurrentKbps())
	if err != nil {
		return fmt.Errorf("construct encoder: %w", err)
	}

	feedbackCtx, stopFeedback := context.WithCancel(ctx)
	feedbackDone := make(chan struct{})
	go func() {
		defer close(feedbackDone)
		s.feedbackLoop(feedbackCtx)
	}()

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.Fps))

	defer func() {
		ticker.Stop()
		stopFeedback()
		if cerr := enc.Close(); cerr != nil {
			s.logger.Warnw("encoder close failed", "error", cerr)
		}
		s.conn.Close()
		<-feedbackDone
		s.logger.Infow("sender stopped",
			"frames", s.framesSent,
			"packets", s.packetsSent,
			"bytes", s.bytesSent,
			"send_errors", s.sendErrors,
		)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		enc = s.applyControl(enc)

		frame, err := enc.Encode(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			s.logger.Warnw("encode failed, skipping frame", "error", err)
			continue
		}

		packets := s.frag.Next(frame)
		if packets == nil {
			s.logger.Warnw("frame too large to fragment, dropped", "bytes", len(frame.Bytes))
			continue
		}
		for _, pkt := range packets {
			data, err := protocol.MarshalPacket(pkt)
			if err != nil {
				s.logger.Errorw("packet marshal failed", "seq", pkt.Seq, "error", err)
				continue
			}
			s.pacer.Wait(ctx, len(data))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if _, err := s.conn.WriteToUDP(data, s.dest); err != nil {
				// send failures never abort the frame loop
				s.sendErrors++
				s.logger.Debugw("packet send failed", "seq", pkt.Seq, "error", err)
				continue
			}
			s.packetsSent++
			s.bytesSent += uint64(len(data))
		}
		s.framesSent++
	}
}

// applyControl drains the pending reconfiguration intent, once per
// encode cycle. A failed encoder rebuild keeps the previous encoder
// and drops the intent; the seq counter is never reset.
func (s *Sender) applyControl(enc ports.FrameEncoder) ports.FrameEncoder {
	intent := s.control.TakeIntent()
	if intent.BitrateKbps == 0 && !intent.ForceIDR {
		return enc
	}

	if intent.BitrateKbps > 0 {
		if err := enc.Close(); err != nil {
			s.logger.Warnw("encoder close during rebuild failed", "error", err)
		}
		next, err := s.newEncoder(intent.BitrateKbps)
		if err != nil {
			s.logger.Errorw("encoder rebuild failed, keeping previous settings",
				"target_kbps", intent.BitrateKbps,
				"error", err,
			)
			// the old encoder object stays in service; the pending
			// change is already cleared
			if intent.ForceIDR {
				enc.ForceKeyframe()
			}
			return enc
		}
		s.control.CommitBitrate(intent.BitrateKbps)
		s.pacer.SetTargetKbps(int(float64(intent.BitrateKbps) * s.cfg.PacingHeadroom))
		enc = next
		s.logger.Infow("encoder rebuilt", "bitrate_kbps", intent.BitrateKbps)
	}
	if intent.ForceIDR {
		enc.ForceKeyframe()
	}
	return enc
}

// feedbackLoop reads JSON control datagrams off the sending socket and
// feeds the bitrate controller. It only ever writes control state; the
// frame loop owns everything else.
func (s *Sender) feedbackLoop(ctx context.Context) {
	buf := make([]byte, 64*1024)
	for {
		if ctx.Err() != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Debugw("feedback read failed", "error", err)
			continue
		}
		s.handleFeedbackDatagram(buf[:n], addr)
	}
}

func (s *Sender) handleFeedbackDatagram(data []byte, from *net.UDPAddr) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		s.logger.Debugw("malformed feedback datagram", "from", from.String())
		return
	}

	switch {
	case domain.IsFeedback(probe.Type):
		var msg domain.FeedbackMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		s.control.HandleFeedback(&msg)

	case probe.Type == domain.MsgStreamPing:
		var ping domain.StreamPing
		if err := json.Unmarshal(data, &ping); err != nil {
			return
		}
		pong := domain.StreamPong{
			Type:     domain.MsgStreamPong,
			PingID:   ping.PingID,
			SentAtUs: ping.SentAtUs,
			HostTsUs: uint64(time.Now().UnixMicro()),
		}
		out, err := json.Marshal(&pong)
		if err != nil {
			return
		}
		if _, err := s.conn.WriteToUDP(out, from); err != nil {
			s.logger.Debugw("pong send failed", "error", err)
		}
	}
}
