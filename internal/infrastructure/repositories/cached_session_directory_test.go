package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lancast/internal/core/domain"
	"lancast/internal/infrastructure/repositories/memory"
)

// countingDirectory counts Get calls against an in-memory backing.
type countingDirectory struct {
	base *memory.MemorySessionDirectory

	mu   sync.Mutex
	gets int
}

func (d *countingDirectory) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	d.mu.Lock()
	d.gets++
	d.mu.Unlock()
	return d.base.Get(ctx, id)
}

func (d *countingDirectory) Put(ctx context.Context, s *domain.Session) error {
	return d.base.Put(ctx, s)
}

func (d *countingDirectory) Delete(ctx context.Context, id domain.SessionID) error {
	return d.base.Delete(ctx, id)
}

func (d *countingDirectory) getCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gets
}

func TestCachedDirectoryAbsorbsRepeatGets(t *testing.T) {
	backing := &countingDirectory{base: memory.NewMemorySessionDirectory()}
	dir := NewCachedSessionDirectory(backing, time.Minute)
	defer dir.Stop()
	ctx := context.Background()

	require.NoError(t, dir.Put(ctx, &domain.Session{ID: "s1", Status: domain.SessionActive}))

	for i := 0; i < 5; i++ {
		session, err := dir.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, domain.SessionActive, session.Status)
	}
	assert.Equal(t, 1, backing.getCount())
}

func TestCachedDirectoryPutInvalidates(t *testing.T) {
	backing := &countingDirectory{base: memory.NewMemorySessionDirectory()}
	dir := NewCachedSessionDirectory(backing, time.Minute)
	defer dir.Stop()
	ctx := context.Background()

	require.NoError(t, dir.Put(ctx, &domain.Session{ID: "s1", Status: domain.SessionActive}))
	_, err := dir.Get(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, dir.Put(ctx, &domain.Session{ID: "s1", Status: domain.SessionPaused}))

	session, err := dir.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionPaused, session.Status)
}

func TestCachedDirectoryMissesPassThrough(t *testing.T) {
	backing := &countingDirectory{base: memory.NewMemorySessionDirectory()}
	dir := NewCachedSessionDirectory(backing, time.Minute)
	defer dir.Stop()

	_, err := dir.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
