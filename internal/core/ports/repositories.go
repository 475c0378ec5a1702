package ports

import (
	"context"
	"io"

	"huddle/internal/core/domain"
)

// ArtifactRepository is the recording catalog.
type ArtifactRepository interface {
	Save(ctx context.Context, info *domain.ArtifactInfo) error
	GetByName(ctx context.Context, name string) (*domain.ArtifactInfo, error)
	ListByRoom(ctx context.Context, room domain.RoomID) ([]*domain.ArtifactInfo, error)
	Delete(ctx context.Context, name string) error
}

// ArtifactStore holds artifact bytes.
type ArtifactStore interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
}
