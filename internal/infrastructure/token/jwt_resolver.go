// Package token implements stream access tokens as HMAC-signed JWTs.
// The stream id is derived deterministically from the token itself so
// relay admission and the sender agree on it without coordination.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"lancast/internal/core/domain"
)

// derivedIDBytes is how much of the HMAC feeds the textual stream id.
const derivedIDBytes = 8

type Claims struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// JWTResolver issues and resolves stream tokens with a shared secret.
type JWTResolver struct {
	secret []byte
	ttl    time.Duration
}

func NewJWTResolver(secret string, ttl time.Duration) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), ttl: ttl}
}

// Issue mints a token binding (session, user, role) for the configured
// TTL.
func (r *JWTResolver) Issue(sessionID domain.SessionID, userID domain.UserID, role domain.RelayRole) (string, error) {
	now := time.Now()
	claims := &Claims{
		SessionID: string(sessionID),
		UserID:    string(userID),
		Role:      string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(r.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(r.secret)
}

// Resolve validates the token signature and expiry and returns its
// resolved record, including the derived stream id.
func (r *JWTResolver) Resolve(tokenString string) (*domain.StreamToken, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrTokenInvalid
		}
		return r.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrTokenInvalid
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, domain.ErrTokenInvalid
	}

	streamID, err := r.DeriveStreamID(tokenString)
	if err != nil {
		return nil, err
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return &domain.StreamToken{
		Token:     tokenString,
		SessionID: domain.SessionID(claims.SessionID),
		UserID:    domain.UserID(claims.UserID),
		Role:      domain.RelayRole(claims.Role),
		StreamID:  streamID,
		ExpiresAt: expiresAt,
	}, nil
}

// DeriveStreamID maps a token to its stream id: hex of the leading
// HMAC-SHA256 bytes, keyed by the resolver secret. Deterministic for a
// given (token, secret) pair.
func (r *JWTResolver) DeriveStreamID(tokenString string) (string, error) {
	if tokenString == "" {
		return "", domain.ErrTokenInvalid
	}
	mac := hmac.New(sha256.New, r.secret)
	mac.Write([]byte(tokenString))
	return hex.EncodeToString(mac.Sum(nil)[:derivedIDBytes]), nil
}

// WireStreamID converts a textual stream id into the fixed-length
// binary id the LAN header carries.
func WireStreamID(streamID string) domain.StreamID {
	sum := sha256.Sum256([]byte(streamID))
	var id domain.StreamID
	copy(id[:], sum[:domain.StreamIDSize])
	return id
}
