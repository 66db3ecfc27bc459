package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lancast/internal/core/domain"
)

const sessionKeyPrefix = "lancast:session:"

// RedisSessionDirectory stores sessions in Redis so relay instances can
// share a session view.
type RedisSessionDirectory struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionDirectory(client *redis.Client, ttl time.Duration) *RedisSessionDirectory {
	return &RedisSessionDirectory{
		client: client,
		ttl:    ttl,
	}
}

func sessionKey(id domain.SessionID) string {
	return sessionKeyPrefix + string(id)
}

func (d *RedisSessionDirectory) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	data, err := d.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (d *RedisSessionDirectory) Put(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := d.client.Set(ctx, sessionKey(session.ID), data, d.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session in Redis: %w", err)
	}
	return nil
}

func (d *RedisSessionDirectory) Delete(ctx context.Context, id domain.SessionID) error {
	if err := d.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session from Redis: %w", err)
	}
	return nil
}
