package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisArtifactRepository stores each artifact as JSON under its name and
// indexes names per room in a sorted set scored by start time.
type RedisArtifactRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisArtifactRepository(client *redis.Client) ports.ArtifactRepository {
	return &RedisArtifactRepository{
		client: client,
		prefix: keyPrefix + "artifact:",
	}
}

func (r *RedisArtifactRepository) artifactKey(name string) string {
	return r.prefix + name
}

func (r *RedisArtifactRepository) roomKey(room domain.RoomID) string {
	return keyPrefix + "room:" + string(room) + ":artifacts"
}

func (r *RedisArtifactRepository) Save(ctx context.Context, info *domain.ArtifactInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.artifactKey(info.Name), data, 0)
		pipe.ZAdd(ctx, r.roomKey(info.RoomID), redis.Z{
			Score:  float64(info.StartedAt.UnixMilli()),
			Member: info.Name,
		})
		pipe.SAdd(ctx, roomsKey, string(info.RoomID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save artifact in Redis: %w", err)
	}
	return nil
}

func (r *RedisArtifactRepository) GetByName(ctx context.Context, name string) (*domain.ArtifactInfo, error) {
	data, err := r.client.Get(ctx, r.artifactKey(name)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact from Redis: %w", err)
	}

	var info domain.ArtifactInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact: %w", err)
	}
	return &info, nil
}

// ListByRoom returns the room's artifacts, newest first.
func (r *RedisArtifactRepository) ListByRoom(ctx context.Context, room domain.RoomID) ([]*domain.ArtifactInfo, error) {
	names, err := r.client.ZRevRange(ctx, r.roomKey(room), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts from Redis: %w", err)
	}

	var out []*domain.ArtifactInfo
	for _, name := range names {
		info, err := r.GetByName(ctx, name)
		if err != nil {
			// Skip index entries whose data expired or was removed
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

func (r *RedisArtifactRepository) Delete(ctx context.Context, name string) error {
	info, err := r.GetByName(ctx, name)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.roomKey(info.RoomID), name)
		pipe.Del(ctx, r.artifactKey(name))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete artifact from Redis: %w", err)
	}
	return nil
}
