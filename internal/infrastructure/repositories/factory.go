package repositories

import (
	"time"

	"lancast/internal/core/ports"
	"lancast/internal/infrastructure/repositories/memory"
	redisrepo "lancast/internal/infrastructure/repositories/redis"
	"lancast/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// sessionTTL bounds how long a Redis-held session record survives
// without a refresh from the directory's writer.
const sessionTTL = 24 * time.Hour

// DirectoryFactory creates the session directory with fallback support
type DirectoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewDirectoryFactory creates a new directory factory
func NewDirectoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*DirectoryFactory, error) {
	factory := &DirectoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	// Try to connect to Redis if enabled
	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory session directory",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis session directory")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory session directory")
	}

	return factory, nil
}

// CreateSessionDirectory creates a session directory (Redis or memory with fallback)
func (f *DirectoryFactory) CreateSessionDirectory() ports.SessionDirectory {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisSessionDirectory(f.redisClient, sessionTTL)
	}
	return memory.NewMemorySessionDirectory()
}

// RedisClient returns the live Redis client, or nil when running on
// memory fallback.
func (f *DirectoryFactory) RedisClient() *redis.Client {
	if f.useRedis {
		return f.redisClient
	}
	return nil
}

// Close closes underlying connections
func (f *DirectoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}
