package repositories

import (
	"context"
	"time"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"
	"lancast/pkg/cache"
)

// CachedSessionDirectory wraps a SessionDirectory with a short-TTL
// read cache. Relay input gating consults the session per event, so
// without the cache every mouse move would hit the backing store.
type CachedSessionDirectory struct {
	base  ports.SessionDirectory
	cache *cache.Cache
}

func NewCachedSessionDirectory(base ports.SessionDirectory, ttl time.Duration) *CachedSessionDirectory {
	return &CachedSessionDirectory{
		base:  base,
		cache: cache.New(ttl),
	}
}

func (d *CachedSessionDirectory) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	value, err := d.cache.GetOrSet(ctx, string(id), func(ctx context.Context) (interface{}, error) {
		return d.base.Get(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	session := *(value.(*domain.Session))
	return &session, nil
}

// Put writes through and invalidates, so status changes are visible
// within one cache miss rather than one TTL.
func (d *CachedSessionDirectory) Put(ctx context.Context, session *domain.Session) error {
	if err := d.base.Put(ctx, session); err != nil {
		return err
	}
	d.cache.Delete(string(session.ID))
	return nil
}

func (d *CachedSessionDirectory) Delete(ctx context.Context, id domain.SessionID) error {
	if err := d.base.Delete(ctx, id); err != nil {
		return err
	}
	d.cache.Delete(string(id))
	return nil
}

// Stop releases the cache janitor.
func (d *CachedSessionDirectory) Stop() {
	d.cache.Stop()
}
