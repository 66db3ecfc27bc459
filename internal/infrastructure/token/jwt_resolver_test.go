package token

import (
	"testing"
	"time"

	"lancast/internal/core/domain"

	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func TestIssueResolveRoundTrip(t *testing.T) {
	r := NewJWTResolver(testSecret, time.Hour)

	tok, err := r.Issue("6ba7b810-9dad-11d1-80b4-00c04fd430c8", "host-user", domain.RoleHost)
	require.NoError(t, err)

	resolved, err := r.Resolve(tok)
	require.NoError(t, err)
	require.Equal(t, domain.SessionID("6ba7b810-9dad-11d1-80b4-00c04fd430c8"), resolved.SessionID)
	require.Equal(t, domain.UserID("host-user"), resolved.UserID)
	require.Equal(t, domain.RoleHost, resolved.Role)
	require.False(t, resolved.Expired(time.Now()))
	require.Len(t, resolved.StreamID, derivedIDBytes*2)

	derived, err := r.DeriveStreamID(tok)
	require.NoError(t, err)
	require.Equal(t, resolved.StreamID, derived)
}

func TestResolveRejectsExpired(t *testing.T) {
	r := NewJWTResolver(testSecret, -time.Minute)
	tok, err := r.Issue("6ba7b810-9dad-11d1-80b4-00c04fd430c8", "u", domain.RoleClient)
	require.NoError(t, err)

	_, err = r.Resolve(tok)
	require.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestResolveRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTResolver("secret-a", time.Hour)
	verifier := NewJWTResolver("secret-b", time.Hour)

	tok, err := issuer.Issue("6ba7b810-9dad-11d1-80b4-00c04fd430c8", "u", domain.RoleHost)
	require.NoError(t, err)

	_, err = verifier.Resolve(tok)
	require.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestResolveRejectsGarbage(t *testing.T) {
	r := NewJWTResolver(testSecret, time.Hour)
	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := r.Resolve(tok)
		require.Error(t, err, "token %q", tok)
	}
}

func TestDeriveStreamIDDeterministic(t *testing.T) {
	r := NewJWTResolver(testSecret, time.Hour)

	a, err := r.DeriveStreamID("token-one")
	require.NoError(t, err)
	b, err := r.DeriveStreamID("token-one")
	require.NoError(t, err)
	c, err := r.DeriveStreamID("token-two")
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestWireStreamIDStable(t *testing.T) {
	a := WireStreamID("stream-x")
	b := WireStreamID("stream-x")
	c := WireStreamID("stream-y")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.False(t, a.IsZero())
}
