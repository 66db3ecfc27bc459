package protocol

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"lancast/internal/core/domain"

	"github.com/stretchr/testify/require"
)

var testStreamID = domain.StreamID{0xde, 0xad, 0xbe, 0xef, 1, 2, 3, 4}

func TestMarshalParseRoundTrip(t *testing.T) {
	p := &domain.StreamPacket{
		StreamID:    testStreamID,
		Seq:         42,
		TimestampUs: 1_700_000_123_456,
		Flags:       domain.FlagKeyframe,
		TotalChunks: 3,
		ChunkIndex:  1,
		Payload:     []byte("annex-b payload bytes"),
	}

	data, err := MarshalPacket(p)
	require.NoError(t, err)
	require.Len(t, data, HeaderSize+len(p.Payload))

	got, err := ParsePacket(data)
	require.NoError(t, err)
	require.Equal(t, p.StreamID, got.StreamID)
	require.Equal(t, p.Seq, got.Seq)
	require.Equal(t, p.TimestampUs, got.TimestampUs)
	require.Equal(t, p.Flags, got.Flags)
	require.Equal(t, p.TotalChunks, got.TotalChunks)
	require.Equal(t, p.ChunkIndex, got.ChunkIndex)
	require.True(t, bytes.Equal(p.Payload, got.Payload))
	require.True(t, got.IsKeyframe())
}

func TestParsePacketRejectsMalformed(t *testing.T) {
	valid, err := MarshalPacket(&domain.StreamPacket{
		StreamID:    testStreamID,
		Seq:         1,
		TotalChunks: 2,
		ChunkIndex:  0,
		Payload:     []byte{1, 2, 3},
	})
	require.NoError(t, err)

	badIndex := append([]byte(nil), valid...)
	// chunkIndex bytes sit at the end of the header
	badIndex[HeaderSize-2] = 0x00
	badIndex[HeaderSize-1] = 0x05

	zeroTotal := append([]byte(nil), valid...)
	zeroTotal[HeaderSize-4] = 0x00
	zeroTotal[HeaderSize-3] = 0x00

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"empty", nil, domain.ErrTruncatedHeader},
		{"truncated header", valid[:HeaderSize-1], domain.ErrTruncatedHeader},
		{"chunk index beyond total", badIndex, domain.ErrChunkOutOfRange},
		{"zero total chunks", zeroTotal, domain.ErrInvalidPacket},
		{"oversized datagram", make([]byte, MaxDatagramSize+1), domain.ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePacket(tt.data)
			require.Error(t, err)
			require.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestMarshalPacketRejectsInvalid(t *testing.T) {
	_, err := MarshalPacket(&domain.StreamPacket{TotalChunks: 0})
	require.ErrorIs(t, err, domain.ErrInvalidPacket)

	_, err = MarshalPacket(&domain.StreamPacket{TotalChunks: 2, ChunkIndex: 2})
	require.ErrorIs(t, err, domain.ErrChunkOutOfRange)

	_, err = MarshalPacket(&domain.StreamPacket{
		TotalChunks: 1,
		Payload:     make([]byte, domain.MaxPayloadCap+1),
	})
	require.ErrorIs(t, err, domain.ErrPayloadTooLarge)
}

func TestRelayFrameRoundTrip(t *testing.T) {
	f := &domain.RelayFrame{
		Flags:       domain.FlagKeyframe,
		TimestampUs: 987654321,
		Payload:     bytes.Repeat([]byte{0xab}, 4096),
	}

	data := MarshalRelayFrame(f)
	require.Len(t, data, RelayHeaderSize+len(f.Payload))

	got, err := ParseRelayFrame(data)
	require.NoError(t, err)
	require.Equal(t, f.Flags, got.Flags)
	require.Equal(t, f.TimestampUs, got.TimestampUs)
	require.True(t, bytes.Equal(f.Payload, got.Payload))

	_, err = ParseRelayFrame(data[:RelayHeaderSize-1])
	require.ErrorIs(t, err, domain.ErrTruncatedHeader)
}

func TestFragmenterSplitAndReassemble(t *testing.T) {
	tests := []struct {
		name       string
		payloadLen int
		maxPayload int
		wantChunks int
	}{
		{"empty frame", 0, 1100, 1},
		{"single chunk", 900, 1100, 1},
		{"exact boundary", 2200, 1100, 2},
		{"one byte over", 2201, 1100, 3},
		{"clamped below floor", 1000, 10, 4}, // 10 clamps to 256
		{"clamped above cap", 4200, 99999, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := make([]byte, tt.payloadLen)
			for i := range payload {
				payload[i] = byte(i * 31)
			}

			f := NewFragmenter(testStreamID, tt.maxPayload)
			packets := f.Next(&domain.EncodedFrame{Bytes: payload, IsKeyframe: true, ProducedAtUs: 7})
			require.Len(t, packets, tt.wantChunks)

			var rejoined []byte
			for i, p := range packets {
				require.Equal(t, uint16(i), p.ChunkIndex)
				require.Equal(t, uint16(tt.wantChunks), p.TotalChunks)
				require.Equal(t, uint32(0), p.Seq)
				require.Equal(t, uint64(7), p.TimestampUs)
				require.True(t, p.IsKeyframe())
				require.LessOrEqual(t, len(p.Payload), f.MaxPayloadBytes())
				rejoined = append(rejoined, p.Payload...)
			}
			require.True(t, bytes.Equal(payload, rejoined))
		})
	}
}

func TestFragmenterDropsFrameOverChunkCapacity(t *testing.T) {
	f := NewFragmenter(testStreamID, domain.MinPayloadBytes)

	// One byte past 65535 chunks; TotalChunks must not wrap.
	oversized := make([]byte, domain.MinPayloadBytes*math.MaxUint16+1)
	require.Nil(t, f.Next(&domain.EncodedFrame{Bytes: oversized}))
	require.Equal(t, uint32(0), f.NextSeq(), "a dropped frame must not consume a seq")

	packets := f.Next(&domain.EncodedFrame{Bytes: []byte("ok")})
	require.Len(t, packets, 1)
	require.Equal(t, uint32(0), packets[0].Seq)
}

func TestFragmenterSeqMonotonic(t *testing.T) {
	f := NewFragmenter(testStreamID, 512)
	for i := 0; i < 5; i++ {
		packets := f.Next(&domain.EncodedFrame{Bytes: []byte("x")})
		require.Equal(t, uint32(i), packets[0].Seq)
	}
	require.Equal(t, uint32(5), f.NextSeq())
}
