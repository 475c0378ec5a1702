package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey = keyPrefix + "schema:version"
	migrationLockKey = keyPrefix + "schema:lock"
	migrationLockTTL = 30 * time.Second
)

// ErrMigrationLocked is returned when another daemon holds the migration
// lock for longer than the wait allows.
var ErrMigrationLocked = errors.New("catalog migration in progress elsewhere")

type migration struct {
	version int
	name    string
	up      func(ctx context.Context, client *redis.Client) error
}

var migrations = []migration{
	{1, "rooms set", backfillRooms},
	{2, "room indexes scored by start time", rebuildRoomIndexes},
}

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// Migrate applies pending catalog migrations. Daemons sharing a Redis
// serialize on a lock key so each migration runs once.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	owner := uuid.NewString()
	if err := acquireLock(ctx, client, owner, 5*time.Second); err != nil {
		return err
	}
	defer func() {
		if err := releaseScript.Run(context.WithoutCancel(ctx), client, []string{migrationLockKey}, owner).Err(); err != nil {
			logger.Warnw("failed to release catalog migration lock", "error", err)
		}
	}()

	current, err := client.Get(ctx, schemaVersionKey).Int()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		logger.Infow("running catalog migration", "version", m.version, "name", m.name)
		if err := m.up(ctx, client); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
		if err := client.Set(ctx, schemaVersionKey, m.version, 0).Err(); err != nil {
			return fmt.Errorf("failed to record schema version %d: %w", m.version, err)
		}
		current = m.version
	}
	logger.Debugw("catalog schema up to date", "version", current)
	return nil
}

func acquireLock(ctx context.Context, client *redis.Client, owner string, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		ok, err := client.SetNX(ctx, migrationLockKey, owner, migrationLockTTL).Result()
		if err != nil {
			return fmt.Errorf("failed to take migration lock: %w", err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrMigrationLocked
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

type storedArtifact struct {
	Name      string    `json:"name"`
	RoomID    string    `json:"room_id"`
	StartedAt time.Time `json:"started_at"`
}

// eachArtifact scans every stored artifact record. Unreadable records are
// skipped.
func eachArtifact(ctx context.Context, client *redis.Client, fn func(storedArtifact) error) error {
	iter := client.Scan(ctx, 0, keyPrefix+"artifact:*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var a storedArtifact
		if json.Unmarshal(data, &a) != nil || a.RoomID == "" || a.Name == "" {
			continue
		}
		if err := fn(a); err != nil {
			return err
		}
	}
	return iter.Err()
}

func backfillRooms(ctx context.Context, client *redis.Client) error {
	return eachArtifact(ctx, client, func(a storedArtifact) error {
		return client.SAdd(ctx, roomsKey, a.RoomID).Err()
	})
}

func rebuildRoomIndexes(ctx context.Context, client *redis.Client) error {
	return eachArtifact(ctx, client, func(a storedArtifact) error {
		return client.ZAdd(ctx, keyPrefix+"room:"+a.RoomID+":artifacts", redis.Z{
			Score:  float64(a.StartedAt.UnixMilli()),
			Member: a.Name,
		}).Err()
	})
}
