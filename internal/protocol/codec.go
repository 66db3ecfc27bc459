// Package protocol implements the two wire formats of the transport:
// the LAN UDP chunk packet and the relay binary frame.
package protocol

import (
	"encoding/binary"
	"fmt"

	"lancast/internal/core/domain"
)

// LAN packet header layout, all integers big-endian:
//
//	streamId(8) | seq(4) | timestampUs(8) | flags(1) | totalChunks(2) | chunkIndex(2)
const HeaderSize = domain.StreamIDSize + 4 + 8 + 1 + 2 + 2

// Relay frame header layout: flags(1) | timestampUs(8).
const RelayHeaderSize = 9

// MaxDatagramSize bounds what ParsePacket will accept, generously above
// any sane MTU so oversized input is classified invalid, not sliced.
const MaxDatagramSize = HeaderSize + domain.MaxPayloadCap

// MarshalPacket serializes a StreamPacket into a freshly allocated
// datagram buffer.
func MarshalPacket(p *domain.StreamPacket) ([]byte, error) {
	if p.TotalChunks == 0 {
		return nil, fmt.Errorf("%w: zero totalChunks", domain.ErrInvalidPacket)
	}
	if p.ChunkIndex >= p.TotalChunks {
		return nil, fmt.Errorf("%w: index %d of %d", domain.ErrChunkOutOfRange, p.ChunkIndex, p.TotalChunks)
	}
	if len(p.Payload) > domain.MaxPayloadCap {
		return nil, fmt.Errorf("%w: %d bytes", domain.ErrPayloadTooLarge, len(p.Payload))
	}

	buf := make([]byte, HeaderSize+len(p.Payload))
	copy(buf[0:], p.StreamID[:])
	off := domain.StreamIDSize
	binary.BigEndian.PutUint32(buf[off:], p.Seq)
	off += 4
	binary.BigEndian.PutUint64(buf[off:], p.TimestampUs)
	off += 8
	buf[off] = p.Flags
	off++
	binary.BigEndian.PutUint16(buf[off:], p.TotalChunks)
	off += 2
	binary.BigEndian.PutUint16(buf[off:], p.ChunkIndex)
	off += 2
	copy(buf[off:], p.Payload)
	return buf, nil
}

// ParsePacket parses a LAN datagram. Malformed input yields an error
// wrapping domain.ErrInvalidPacket (or a more specific sentinel); it
// never panics on adversarial bytes. The payload slice references data,
// it is not copied.
func ParsePacket(data []byte) (*domain.StreamPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", domain.ErrTruncatedHeader, len(data))
	}
	if len(data) > MaxDatagramSize {
		return nil, fmt.Errorf("%w: datagram of %d bytes", domain.ErrPayloadTooLarge, len(data))
	}

	var p domain.StreamPacket
	copy(p.StreamID[:], data[0:domain.StreamIDSize])
	off := domain.StreamIDSize
	p.Seq = binary.BigEndian.Uint32(data[off:])
	off += 4
	p.TimestampUs = binary.BigEndian.Uint64(data[off:])
	off += 8
	p.Flags = data[off]
	off++
	p.TotalChunks = binary.BigEndian.Uint16(data[off:])
	off += 2
	p.ChunkIndex = binary.BigEndian.Uint16(data[off:])
	off += 2

	if p.TotalChunks == 0 {
		return nil, fmt.Errorf("%w: zero totalChunks", domain.ErrInvalidPacket)
	}
	if p.ChunkIndex >= p.TotalChunks {
		return nil, fmt.Errorf("%w: index %d of %d", domain.ErrChunkOutOfRange, p.ChunkIndex, p.TotalChunks)
	}
	p.Payload = data[off:]
	return &p, nil
}

// MarshalRelayFrame serializes a whole encoded frame for the relay
// path. No chunking: the relay rides a reliable, ordered transport.
func MarshalRelayFrame(f *domain.RelayFrame) []byte {
	buf := make([]byte, RelayHeaderSize+len(f.Payload))
	buf[0] = f.Flags
	binary.BigEndian.PutUint64(buf[1:], f.TimestampUs)
	copy(buf[RelayHeaderSize:], f.Payload)
	return buf
}

// ParseRelayFrame parses a relay binary frame.
func ParseRelayFrame(data []byte) (*domain.RelayFrame, error) {
	if len(data) < RelayHeaderSize {
		return nil, fmt.Errorf("%w: relay frame of %d bytes", domain.ErrTruncatedHeader, len(data))
	}
	return &domain.RelayFrame{
		Flags:       data[0],
		TimestampUs: binary.BigEndian.Uint64(data[1:]),
		Payload:     data[RelayHeaderSize:],
	}, nil
}
