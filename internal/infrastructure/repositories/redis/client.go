package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix = "huddle:"
	roomsKey  = keyPrefix + "rooms"
)

// ClientConfig mirrors the redis section of the daemon config.
type ClientConfig struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// Connect opens a client for the recording catalog, checks the server is
// reachable and brings the catalog schema up to date.
func Connect(ctx context.Context, cfg ClientConfig, logger *zap.SugaredLogger) (*redis.Client, error) {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach Redis at %s: %w", cfg.Address, err)
	}

	if err := Migrate(ctx, client, logger); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to migrate recording catalog: %w", err)
	}

	logger.Infow("connected to Redis recording catalog",
		"address", cfg.Address,
		"db", cfg.DB,
		"pool_size", poolSize,
	)
	return client, nil
}

func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
