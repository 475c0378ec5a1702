package memory

import (
	"context"
	"sort"
	"sync"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
)

type MemoryArtifactRepository struct {
	artifacts map[string]*domain.ArtifactInfo
	mu        sync.RWMutex
}

func NewMemoryArtifactRepository() ports.ArtifactRepository {
	return &MemoryArtifactRepository{
		artifacts: make(map[string]*domain.ArtifactInfo),
	}
}

// Save inserts or replaces by name.
func (r *MemoryArtifactRepository) Save(ctx context.Context, info *domain.ArtifactInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *info
	r.artifacts[info.Name] = &stored
	return nil
}

func (r *MemoryArtifactRepository) GetByName(ctx context.Context, name string) (*domain.ArtifactInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.artifacts[name]
	if !exists {
		return nil, domain.ErrArtifactNotFound
	}

	out := *info
	return &out, nil
}

// ListByRoom returns the room's artifacts, newest first.
func (r *MemoryArtifactRepository) ListByRoom(ctx context.Context, room domain.RoomID) ([]*domain.ArtifactInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.ArtifactInfo
	for _, info := range r.artifacts {
		if info.RoomID == room {
			c := *info
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

func (r *MemoryArtifactRepository) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.artifacts[name]; !exists {
		return domain.ErrArtifactNotFound
	}

	delete(r.artifacts, name)
	return nil
}
