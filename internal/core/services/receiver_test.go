package services

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"lancast/internal/core/domain"
	"lancast/internal/protocol"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type captureSink struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func (s *captureSink) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(p))
	copy(cp, p)
	s.writes = append(s.writes, cp)
	return nil
}

func (s *captureSink) ReportedFps() float64 { return 0 }

func (s *captureSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.writes))
	copy(out, s.writes)
	return out
}

func TestReceiverReassemblesAndReportsFeedback(t *testing.T) {
	sink := &captureSink{}
	r, err := NewReceiver(ReceiverConfig{
		BindAddr:         "127.0.0.1:0",
		Scope:            testScope,
		MaxFrameAge:      200 * time.Millisecond,
		MaxPendingFrames: 96,
		SweepInterval:    20 * time.Millisecond,
		StatsInterval:    time.Hour,
		FeedbackInterval: 50 * time.Millisecond,
	}, sink, nil, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()

	tx, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer tx.Close()
	dest := r.LocalAddr().(*net.UDPAddr)

	// two frames, three chunks each, second frame's chunks reversed
	frag := protocol.NewFragmenter(testStream, 256)
	payloadA := make([]byte, 700)
	payloadB := make([]byte, 700)
	for i := range payloadA {
		payloadA[i] = byte(i)
		payloadB[i] = byte(i * 3)
	}

	send := func(p *domain.StreamPacket) {
		data, err := protocol.MarshalPacket(p)
		require.NoError(t, err)
		_, err = tx.WriteToUDP(data, dest)
		require.NoError(t, err)
	}

	for _, p := range frag.Next(&domain.EncodedFrame{Bytes: payloadA}) {
		send(p)
	}
	chunksB := frag.Next(&domain.EncodedFrame{Bytes: payloadB})
	for i := len(chunksB) - 1; i >= 0; i-- {
		send(chunksB[i])
	}

	require.Eventually(t, func() bool {
		return len(sink.frames()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	frames := sink.frames()
	require.Equal(t, payloadA, frames[0])
	require.Equal(t, payloadB, frames[1])

	// a network_report comes back to the media source address
	tx.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 4096)
	n, _, err := tx.ReadFromUDP(buf)
	require.NoError(t, err)

	var msg domain.FeedbackMessage
	require.NoError(t, json.Unmarshal(buf[:n], &msg))
	require.Equal(t, domain.MsgNetworkReport, msg.Type)
	require.Equal(t, testScope.Token, msg.Token)
	require.Equal(t, testScope.SessionID, msg.SessionID)
	require.Equal(t, testScope.StreamID, msg.StreamID)

	cancel()
	<-done
	require.True(t, sink.closed)
}

func TestReceiverCountsMalformedDatagrams(t *testing.T) {
	sink := &captureSink{}
	r, err := NewReceiver(ReceiverConfig{
		BindAddr:         "127.0.0.1:0",
		MaxFrameAge:      40 * time.Millisecond,
		MaxPendingFrames: 96,
		SweepInterval:    20 * time.Millisecond,
		StatsInterval:    time.Hour,
	}, sink, nil, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	defer func() { cancel(); <-done }()

	tx, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer tx.Close()
	dest := r.LocalAddr().(*net.UDPAddr)

	_, err = tx.WriteToUDP([]byte("garbage"), dest)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return r.Stats().PacketsInvalid == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Empty(t, sink.frames())
}
