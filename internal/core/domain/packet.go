package domain

// StreamIDSize is the fixed on-wire length of a stream identifier.
const StreamIDSize = 8

// StreamID is the fixed-length binary identifier carried in every LAN packet.
type StreamID [StreamIDSize]byte

func (id StreamID) IsZero() bool {
	return id == StreamID{}
}

// Packet flag bits.
const (
	FlagKeyframe    uint8 = 1 << 0
	FlagEndOfStream uint8 = 1 << 1
)

// Payload sizing. MaxPayloadBytes is the default chunk payload budget;
// senders may configure anything inside [MinPayloadBytes, MaxPayloadCap].
const (
	MaxPayloadBytes = 1100
	MinPayloadBytes = 256
	MaxPayloadCap   = 1400
)

// StreamPacket is one LAN UDP datagram: a single chunk of one encoded
// frame. All chunks of a frame share StreamID, Seq, TimestampUs, Flags
// and TotalChunks; ChunkIndex < TotalChunks always holds for a parsed
// packet.
type StreamPacket struct {
	StreamID    StreamID
	Seq         uint32
	TimestampUs uint64
	Flags       uint8
	TotalChunks uint16
	ChunkIndex  uint16
	Payload     []byte
}

// IsKeyframe reports whether the packet belongs to a keyframe.
func (p *StreamPacket) IsKeyframe() bool {
	return p.Flags&FlagKeyframe != 0
}

// RelayFrame is one whole encoded frame as carried over the relay's
// reliable transport. The relay path never fragments.
type RelayFrame struct {
	Flags       uint8
	TimestampUs uint64
	Payload     []byte
}

func (f *RelayFrame) IsKeyframe() bool {
	return f.Flags&FlagKeyframe != 0
}

// EncodedFrame is what an encoder hands to the transport: one access
// unit plus the metadata the wire needs.
type EncodedFrame struct {
	Bytes        []byte
	IsKeyframe   bool
	ProducedAtUs uint64
}
