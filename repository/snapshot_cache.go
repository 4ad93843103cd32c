package repository

import (
	"context"

	"github.com/fastygo/recordlog/domain"
)

// SnapshotCache holds materialized entity snapshots for fast reads. Implementations
// never replace a cached snapshot with an older version.
type SnapshotCache interface {
	Get(ctx context.Context, id string) (*domain.Entity, bool, error)
	Put(ctx context.Context, entity domain.Entity) error
	Invalidate(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

type nopSnapshotCache struct{}

// NopSnapshotCache disables caching; every read replays the log.
func NopSnapshotCache() SnapshotCache { return nopSnapshotCache{} }

func (nopSnapshotCache) Get(context.Context, string) (*domain.Entity, bool, error) {
	return nil, false, nil
}
func (nopSnapshotCache) Put(context.Context, domain.Entity) error { return nil }
func (nopSnapshotCache) Invalidate(context.Context, string) error { return nil }
func (nopSnapshotCache) Ping(context.Context) error               { return nil }
