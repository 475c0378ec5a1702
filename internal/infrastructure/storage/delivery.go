package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/retry"
	"huddle/pkg/tracing"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Delivery implements ports.ArtifactSink: bytes go to the store, metadata to
// the catalog.
type Delivery struct {
	store   ports.ArtifactStore
	catalog ports.ArtifactRepository
	retry   retry.Config
	logger  *zap.SugaredLogger
	now     func() time.Time
}

var _ ports.ArtifactSink = (*Delivery)(nil)

func NewDelivery(store ports.ArtifactStore, catalog ports.ArtifactRepository, logger *zap.SugaredLogger) *Delivery {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = 2
	return &Delivery{
		store:   store,
		catalog: catalog,
		retry:   cfg,
		logger:  logger,
		now:     time.Now,
	}
}

func (d *Delivery) Deliver(ctx context.Context, artifact *domain.Artifact) error {
	ctx, span := tracing.TraceStorageOperation(ctx, "deliver", "file")
	defer span.End()
	span.SetAttributes(
		tracing.RoomIDKey.String(string(artifact.RoomID)),
		tracing.MimeTypeKey.String(artifact.MimeType),
	)

	err := retry.Do(ctx, d.retry, func(ctx context.Context) error {
		return d.store.Save(ctx, artifact.Name, bytes.NewReader(artifact.Data))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failed")
		return fmt.Errorf("failed to store %s: %w", artifact.Name, err)
	}

	info := artifact.ArtifactInfo
	if info.CreatedAt.IsZero() {
		info.CreatedAt = d.now()
	}
	if info.Size == 0 {
		info.Size = int64(len(artifact.Data))
	}

	err = retry.Do(ctx, d.retry, func(ctx context.Context) error {
		return d.catalog.Save(ctx, &info)
	})
	if err != nil {
		// Bytes without a catalog entry cannot be listed; remove them.
		if delErr := d.store.Delete(context.WithoutCancel(ctx), artifact.Name); delErr != nil {
			d.logger.Warnw("failed to remove uncatalogued artifact", "name", artifact.Name, "error", delErr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "catalog failed")
		return fmt.Errorf("failed to catalog %s: %w", artifact.Name, err)
	}

	d.logger.Infow("artifact delivered",
		"name", artifact.Name,
		"size", info.Size,
		"partial", info.Partial,
	)
	return nil
}
