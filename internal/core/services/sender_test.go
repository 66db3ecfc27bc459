package services

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"
	"lancast/internal/protocol"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeEncoder produces fixed-size frames at whatever rate the frame
// loop asks for.
type fakeEncoder struct {
	mu        sync.Mutex
	bitrate   int
	frameSize int
	forced    int
	closed    bool
}

func (e *fakeEncoder) Encode(ctx context.Context) (*domain.EncodedFrame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := e.forced > 0
	if key {
		e.forced--
	}
	return &domain.EncodedFrame{
		Bytes:        make([]byte, e.frameSize),
		IsKeyframe:   key,
		ProducedAtUs: uint64(time.Now().UnixMicro()),
	}, nil
}

func (e *fakeEncoder) BitrateKbps() int { e.mu.Lock(); defer e.mu.Unlock(); return e.bitrate }
func (e *fakeEncoder) ForceKeyframe()   { e.mu.Lock(); defer e.mu.Unlock(); e.forced++ }
func (e *fakeEncoder) Close() error     { e.mu.Lock(); defer e.mu.Unlock(); e.closed = true; return nil }

func newSenderUnderTest(t *testing.T, dest string, factory ports.EncoderFactory) *Sender {
	t.Helper()
	s, err := NewSender(SenderConfig{
		StreamID:        testStream,
		Scope:           testScope,
		DestAddr:        dest,
		BindAddr:        "127.0.0.1:0",
		Fps:             120,
		MaxPayloadBytes: 512,
		PacingHeadroom:  1.1,
		Control: BitrateControllerConfig{
			StartBitrateKbps: 50000,
			MinBitrateKbps:   1000,
			Step:             0.85,
			BitrateCooldown:  1500 * time.Millisecond,
			KeyframeCooldown: 350 * time.Millisecond,
		},
	}, factory, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return s
}

func TestSenderEmitsParsableChunks(t *testing.T) {
	rx, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer rx.Close()

	factory := func(kbps int) (ports.FrameEncoder, error) {
		return &fakeEncoder{bitrate: kbps, frameSize: 1300}, nil
	}
	s := newSenderUnderTest(t, rx.LocalAddr().String(), factory)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	// a 1300-byte frame at max payload 512 splits into 3 chunks
	rx.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 2048)
	seen := map[uint16]bool{}
	var seq uint32
	for len(seen) < 3 {
		n, _, err := rx.ReadFromUDP(buf)
		require.NoError(t, err)
		pkt, err := protocol.ParsePacket(buf[:n])
		require.NoError(t, err)
		require.Equal(t, testStream, pkt.StreamID)
		require.Equal(t, uint16(3), pkt.TotalChunks)
		if len(seen) == 0 {
			seq = pkt.Seq
		}
		if pkt.Seq == seq {
			seen[pkt.ChunkIndex] = true
		}
	}

	cancel()
	<-done
}

func TestSenderAppliesFeedbackAndKeepsSeq(t *testing.T) {
	rx, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer rx.Close()

	var mu sync.Mutex
	var builtAt []int
	factory := func(kbps int) (ports.FrameEncoder, error) {
		mu.Lock()
		builtAt = append(builtAt, kbps)
		mu.Unlock()
		return &fakeEncoder{bitrate: kbps, frameSize: 400}, nil
	}
	s := newSenderUnderTest(t, rx.LocalAddr().String(), factory)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	// wait for traffic, note the seq, then report severe loss
	rx.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := rx.ReadFromUDP(buf)
	require.NoError(t, err)
	first, err := protocol.ParsePacket(buf[:n])
	require.NoError(t, err)

	report := domain.FeedbackMessage{
		Type:      domain.MsgNetworkReport,
		Token:     testScope.Token,
		SessionID: testScope.SessionID,
		StreamID:  testScope.StreamID,
		LossPct:   12,
	}
	data, err := json.Marshal(&report)
	require.NoError(t, err)
	_, err = rx.WriteToUDP(data, s.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)

	// the controller commits the drop on a later encode cycle
	require.Eventually(t, func() bool {
		return s.Control().CurrentKbps() < 50000
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 39000, s.Control().CurrentKbps()) // floor(50000*0.78)

	mu.Lock()
	require.Equal(t, []int{50000, 39000}, builtAt)
	mu.Unlock()

	// seq keeps climbing across the encoder rebuild
	rx.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, _, err = rx.ReadFromUDP(buf)
	require.NoError(t, err)
	later, err := protocol.ParsePacket(buf[:n])
	require.NoError(t, err)
	require.Greater(t, later.Seq, first.Seq)

	cancel()
	<-done
}

func TestSenderAnswersPing(t *testing.T) {
	rx, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer rx.Close()

	factory := func(kbps int) (ports.FrameEncoder, error) {
		return &fakeEncoder{bitrate: kbps, frameSize: 64}, nil
	}
	s := newSenderUnderTest(t, rx.LocalAddr().String(), factory)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	defer func() { cancel(); <-done }()

	ping := domain.StreamPing{Type: domain.MsgStreamPing, PingID: 77, SentAtUs: 123}
	data, err := json.Marshal(&ping)
	require.NoError(t, err)

	// the pong comes back mixed in with media packets
	deadline := time.Now().Add(5 * time.Second)
	buf := make([]byte, 64*1024)
	for time.Now().Before(deadline) {
		_, err = rx.WriteToUDP(data, s.LocalAddr().(*net.UDPAddr))
		require.NoError(t, err)

		rx.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		for {
			n, _, err := rx.ReadFromUDP(buf)
			if err != nil {
				break
			}
			var pong domain.StreamPong
			if json.Unmarshal(buf[:n], &pong) == nil && pong.Type == domain.MsgStreamPong {
				require.Equal(t, uint64(77), pong.PingID)
				require.Equal(t, uint64(123), pong.SentAtUs)
				return
			}
		}
	}
	t.Fatal("no pong received")
}
