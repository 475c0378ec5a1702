package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"huddle/internal/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// Runs against a real server when HUDDLE_TEST_REDIS is set, e.g.
// HUDDLE_TEST_REDIS=localhost:6379.
func TestRedisArtifactRepository(t *testing.T) {
	addr := os.Getenv("HUDDLE_TEST_REDIS")
	if addr == "" {
		t.Skip("HUDDLE_TEST_REDIS not set")
	}

	ctx := context.Background()
	client, err := Connect(ctx, ClientConfig{Address: addr, DB: 15, PoolSize: 2}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer Close(client)

	repo := NewRedisArtifactRepository(client)
	room := domain.RoomID("T" + uuid.NewString()[:5])
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	first := &domain.ArtifactInfo{Name: domain.ArtifactName(room, start, "webm"), RoomID: room, StartedAt: start, Size: 10}
	second := &domain.ArtifactInfo{Name: domain.ArtifactName(room, start.Add(time.Minute), "webm"), RoomID: room, StartedAt: start.Add(time.Minute)}
	require.NoError(t, repo.Save(ctx, first))
	require.NoError(t, repo.Save(ctx, second))
	defer repo.Delete(ctx, second.Name)

	list, err := repo.ListByRoom(ctx, room)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.Name, list[0].Name)

	got, err := repo.GetByName(ctx, first.Name)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Size)
	assert.True(t, got.StartedAt.Equal(start))

	require.NoError(t, repo.Delete(ctx, first.Name))
	_, err = repo.GetByName(ctx, first.Name)
	assert.ErrorIs(t, err, domain.ErrArtifactNotFound)
}
