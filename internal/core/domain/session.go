package domain

import "time"

type SessionID string
type UserID string

// SessionStatus mirrors the marketplace session lifecycle. Only the
// streamable subset matters to the transport.
type SessionStatus string

const (
	SessionStarting SessionStatus = "STARTING"
	SessionActive   SessionStatus = "ACTIVE"
	SessionPaused   SessionStatus = "PAUSED"
	SessionEnded    SessionStatus = "ENDED"
	SessionFailed   SessionStatus = "FAILED"
)

// Streamable reports whether a session in this status may carry media.
func (s SessionStatus) Streamable() bool {
	switch s {
	case SessionStarting, SessionActive, SessionPaused:
		return true
	}
	return false
}

// Session is the transport's view of a marketplace session: just the
// identities and status relay admission needs. The CRUD side owns the
// full record.
type Session struct {
	ID         SessionID     `json:"id"`
	HostUserID UserID        `json:"host_user_id"`
	RenterID   UserID        `json:"renter_id"`
	Status     SessionStatus `json:"status"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// RelayRole identifies which side of a relay room a socket is on.
type RelayRole string

const (
	RoleHost   RelayRole = "host"
	RoleClient RelayRole = "client"
)

// StreamToken is the resolved form of a stream access token.
type StreamToken struct {
	Token     string
	SessionID SessionID
	UserID    UserID
	Role      RelayRole
	StreamID  string
	ExpiresAt time.Time
}

// Expired reports whether the token is past its TTL at the given time.
func (t *StreamToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
