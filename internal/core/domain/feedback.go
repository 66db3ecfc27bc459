package domain

// Feedback and control message types exchanged between client and
// sender, either as direct UDP datagrams or as relay text messages.
const (
	MsgKeyframeRequest = "keyframe_request"
	MsgNetworkReport   = "network_report"
	MsgReconnect       = "reconnect"
	MsgStreamPing      = "stream_ping"
	MsgStreamPong      = "stream_pong"
	MsgInputEvent      = "input_event"
)

// FeedbackMessage is a client→sender quality or control signal. Every
// message is scoped to (Token, SessionID, StreamID); unscoped or
// mismatched messages are dropped, never trusted.
type FeedbackMessage struct {
	Type      string    `json:"type"`
	Token     string    `json:"token,omitempty"`
	SessionID SessionID `json:"sessionId,omitempty"`
	StreamID  string    `json:"streamId,omitempty"`

	LossPct              float64 `json:"lossPct,omitempty"`
	JitterMs             float64 `json:"jitterMs,omitempty"`
	FreezeMs             int     `json:"freezeMs,omitempty"`
	RequestedBitrateKbps int     `json:"requestedBitrateKbps,omitempty"`
	Reason               string  `json:"reason,omitempty"`
	SentAtUs             uint64  `json:"sentAtUs,omitempty"`
}

// IsFeedback reports whether a message type is consumed by the sender's
// bitrate controller (as opposed to ping or input traffic).
func IsFeedback(msgType string) bool {
	switch msgType {
	case MsgKeyframeRequest, MsgNetworkReport, MsgReconnect:
		return true
	}
	return false
}

// StreamPing is a latency probe; the host answers with StreamPong.
type StreamPing struct {
	Type     string `json:"type"`
	PingID   uint64 `json:"pingId"`
	SentAtUs uint64 `json:"sentAtUs"`
}

type StreamPong struct {
	Type     string `json:"type"`
	PingID   uint64 `json:"pingId"`
	SentAtUs uint64 `json:"sentAtUs,omitempty"`
	HostTsUs uint64 `json:"hostTsUs,omitempty"`
}

// Input event types forwarded from a relay client to the host.
const (
	InputMouseMove        = "mouse_move"
	InputMouseButton      = "mouse_button"
	InputMouseWheel       = "mouse_wheel"
	InputKey              = "key"
	InputDisconnectHotkey = "disconnect_hotkey"
)

// InputEvent is a remote-control event. Only valid over the relay
// transport and only while the owning session is ACTIVE.
type InputEvent struct {
	Type   string  `json:"type"`
	Seq    uint64  `json:"seq"`
	TsUs   uint64  `json:"tsUs"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	DX     float64 `json:"dx,omitempty"`
	DY     float64 `json:"dy,omitempty"`
	Button int     `json:"button,omitempty"`
	Down   bool    `json:"down,omitempty"`
	Code   string  `json:"code,omitempty"`
}

// ValidInputType reports whether t is a recognized input event type.
func ValidInputType(t string) bool {
	switch t {
	case InputMouseMove, InputMouseButton, InputMouseWheel, InputKey, InputDisconnectHotkey:
		return true
	}
	return false
}

// InputEnvelope wraps an InputEvent on the wire.
type InputEnvelope struct {
	Type  string     `json:"type"`
	Event InputEvent `json:"event"`
}
