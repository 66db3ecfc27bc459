package domain

import "errors"

var (
	ErrInvalidPacket      = errors.New("invalid packet")
	ErrTruncatedHeader    = errors.New("truncated packet header")
	ErrChunkOutOfRange    = errors.New("chunk index out of range")
	ErrPayloadTooLarge    = errors.New("payload exceeds maximum size")
	ErrStreamMismatch     = errors.New("stream id mismatch")
	ErrSessionNotFound    = errors.New("session not found")
	ErrTokenInvalid       = errors.New("stream token invalid")
	ErrTokenExpired       = errors.New("stream token expired")
	ErrScopeMismatch      = errors.New("message scope mismatch")
	ErrNotStreamable      = errors.New("session not in a streamable state")
	ErrRoomClosed         = errors.New("relay room closed")
	ErrSinkClosed         = errors.New("decoder sink closed")
	ErrEncoderUnavailable = errors.New("encoder unavailable")
)
