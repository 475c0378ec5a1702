package repositories

import (
	"context"
	"fmt"
	"time"

	"huddle/internal/core/ports"
	"huddle/internal/infrastructure/repositories/memory"
	redisrepo "huddle/internal/infrastructure/repositories/redis"
	"huddle/pkg/circuitbreaker"
	"huddle/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates the recording catalog, falling back to memory
// when Redis is configured but unreachable.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	guarded     *GuardedArtifactRepository
	logger      *zap.SugaredLogger
}

// catalogCacheTTL bounds how stale a by-name lookup of the Redis catalog
// may be when another process edits it.
const catalogCacheTTL = 30 * time.Second

func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis: cfg.Recording.Catalog == "redis",
		logger:   logger,
	}

	if factory.useRedis {
		client, err := redisrepo.Connect(ctx, redisrepo.ClientConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to the memory catalog",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis recording catalog")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory recording catalog")
	}

	return factory
}

// CreateArtifactRepository returns the Redis catalog behind a breaker and
// lookup cache, or a fresh memory catalog.
func (f *RepositoryFactory) CreateArtifactRepository() ports.ArtifactRepository {
	if f.useRedis && f.redisClient != nil {
		if f.guarded == nil {
			f.guarded = NewGuardedArtifactRepository(
				redisrepo.NewRedisArtifactRepository(f.redisClient),
				circuitbreaker.DefaultConfig(),
				catalogCacheTTL,
				f.logger,
			)
		}
		return f.guarded
	}
	return memory.NewMemoryArtifactRepository()
}

// RedisClient is nil when the memory catalog is in use.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	if f.guarded != nil {
		f.guarded.Close()
	}
	if f.redisClient != nil {
		return redisrepo.Close(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		if f.guarded != nil && f.guarded.BreakerState() == circuitbreaker.StateOpen {
			return fmt.Errorf("recording catalog: %w", circuitbreaker.ErrOpen)
		}
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
