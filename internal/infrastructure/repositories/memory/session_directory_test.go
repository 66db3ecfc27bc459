package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lancast/internal/core/domain"
)

func TestSessionDirectoryPutGet(t *testing.T) {
	dir := NewMemorySessionDirectory()
	ctx := context.Background()

	session := &domain.Session{
		ID:         "sess-1",
		HostUserID: "host-1",
		RenterID:   "renter-1",
		Status:     domain.SessionActive,
		UpdatedAt:  time.Now(),
	}

	require.NoError(t, dir.Put(ctx, session))

	got, err := dir.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, session.HostUserID, got.HostUserID)
	assert.Equal(t, domain.SessionActive, got.Status)
}

func TestSessionDirectoryGetMissing(t *testing.T) {
	dir := NewMemorySessionDirectory()

	_, err := dir.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionDirectoryReturnsCopy(t *testing.T) {
	dir := NewMemorySessionDirectory()
	ctx := context.Background()

	session := &domain.Session{ID: "sess-2", Status: domain.SessionStarting}
	require.NoError(t, dir.Put(ctx, session))

	got, err := dir.Get(ctx, "sess-2")
	require.NoError(t, err)
	got.Status = domain.SessionEnded

	again, err := dir.Get(ctx, "sess-2")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStarting, again.Status)
}

func TestSessionDirectoryDelete(t *testing.T) {
	dir := NewMemorySessionDirectory()
	ctx := context.Background()

	require.NoError(t, dir.Put(ctx, &domain.Session{ID: "sess-3", Status: domain.SessionActive}))
	require.NoError(t, dir.Delete(ctx, "sess-3"))

	_, err := dir.Get(ctx, "sess-3")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
