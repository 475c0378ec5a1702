package repositories

import (
	"context"
	"errors"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/cache"
	"huddle/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// GuardedArtifactRepository puts a circuit breaker in front of a remote
// catalog and caches lookups by name. Listings always go to the backend.
type GuardedArtifactRepository struct {
	inner   ports.ArtifactRepository
	breaker *circuitbreaker.Breaker
	byName  *cache.Cache[string, domain.ArtifactInfo]
}

func NewGuardedArtifactRepository(inner ports.ArtifactRepository, cfg circuitbreaker.Config, ttl time.Duration, logger *zap.SugaredLogger) *GuardedArtifactRepository {
	breaker := circuitbreaker.New("recording_catalog", cfg)
	breaker.OnStateChange(func(name string, from, to circuitbreaker.State) {
		if to == circuitbreaker.StateOpen {
			logger.Warnw("catalog breaker opened", "breaker", name, "from", from.String())
			return
		}
		logger.Infow("catalog breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	})

	return &GuardedArtifactRepository{
		inner:   inner,
		breaker: breaker,
		byName:  cache.New[string, domain.ArtifactInfo](ttl),
	}
}

// notFoundIsExpected keeps lookups of unknown names from tripping the breaker.
func notFoundIsExpected(err error) error {
	if errors.Is(err, domain.ErrArtifactNotFound) {
		return circuitbreaker.Expected(err)
	}
	return err
}

func (g *GuardedArtifactRepository) Save(ctx context.Context, info *domain.ArtifactInfo) error {
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.inner.Save(ctx, info)
	})
	if err != nil {
		return err
	}
	g.byName.Set(info.Name, *info)
	return nil
}

func (g *GuardedArtifactRepository) GetByName(ctx context.Context, name string) (*domain.ArtifactInfo, error) {
	info, err := g.byName.GetOrLoad(ctx, name, func(ctx context.Context) (domain.ArtifactInfo, error) {
		found, err := circuitbreaker.Call(ctx, g.breaker, func(ctx context.Context) (*domain.ArtifactInfo, error) {
			found, err := g.inner.GetByName(ctx, name)
			return found, notFoundIsExpected(err)
		})
		if err != nil {
			return domain.ArtifactInfo{}, err
		}
		return *found, nil
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (g *GuardedArtifactRepository) ListByRoom(ctx context.Context, room domain.RoomID) ([]*domain.ArtifactInfo, error) {
	return circuitbreaker.Call(ctx, g.breaker, func(ctx context.Context) ([]*domain.ArtifactInfo, error) {
		return g.inner.ListByRoom(ctx, room)
	})
}

func (g *GuardedArtifactRepository) Delete(ctx context.Context, name string) error {
	g.byName.Delete(name)
	return g.breaker.Do(ctx, func(ctx context.Context) error {
		return notFoundIsExpected(g.inner.Delete(ctx, name))
	})
}

// BreakerState reports the breaker for health checks.
func (g *GuardedArtifactRepository) BreakerState() circuitbreaker.State {
	return g.breaker.State()
}

// Close stops the cache sweeper.
func (g *GuardedArtifactRepository) Close() {
	g.byName.Stop()
}
