package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	// StreamIDRegex validates textual stream ID format
	StreamIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// UserIDRegex validates user ID format
	UserIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateSessionID validates that a session ID is a UUID.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return fmt.Errorf("session ID must be a UUID")
	}
	return nil
}

// ValidateStreamID validates textual stream ID
func ValidateStreamID(streamID string) error {
	if streamID == "" {
		return fmt.Errorf("stream ID is required")
	}
	if len(streamID) > 100 {
		return fmt.Errorf("stream ID is too long (max 100 characters)")
	}
	if !StreamIDRegex.MatchString(streamID) {
		return fmt.Errorf("invalid stream ID format")
	}
	return nil
}

// ValidateUserID validates user ID
func ValidateUserID(userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user ID is required")
	}
	if len(userID) > 64 {
		return fmt.Errorf("user ID is too long (max 64 characters)")
	}
	if !UserIDRegex.MatchString(userID) {
		return fmt.Errorf("user ID contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateRole validates a relay role
func ValidateRole(role string) error {
	switch role {
	case "host", "client":
		return nil
	}
	return fmt.Errorf("role must be host or client")
}

// ValidateToken performs shape checks on an opaque stream token before
// cryptographic resolution.
func ValidateToken(token string) error {
	if token == "" {
		return fmt.Errorf("token is required")
	}
	if len(token) > 4096 {
		return fmt.Errorf("token is too long")
	}
	return nil
}
