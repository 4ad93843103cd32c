package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/fastygo/recordlog/domain"
	"github.com/fastygo/recordlog/repository"
)

// SnapshotCache is a bounded in-process LRU of entity snapshots.
type SnapshotCache struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, domain.Entity]
}

// NewSnapshotCache creates a cache holding at most size snapshots for ttl each.
// A zero ttl keeps entries until evicted.
func NewSnapshotCache(size int, ttl time.Duration) *SnapshotCache {
	if size <= 0 {
		size = 1024
	}
	return &SnapshotCache{lru: expirable.NewLRU[string, domain.Entity](size, nil, ttl)}
}

func (c *SnapshotCache) Get(_ context.Context, id string) (*domain.Entity, bool, error) {
	e, ok := c.lru.Get(id)
	if !ok {
		return nil, false, nil
	}
	e.Fields = e.Fields.Clone()
	return &e, true, nil
}

func (c *SnapshotCache) Put(_ context.Context, entity domain.Entity) error {
	if entity.ID == "" {
		return domain.ErrInvalidPayload
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.lru.Peek(entity.ID); ok && cur.Version > entity.Version {
		return nil
	}
	entity.Fields = entity.Fields.Clone()
	c.lru.Add(entity.ID, entity)
	return nil
}

func (c *SnapshotCache) Invalidate(_ context.Context, id string) error {
	c.lru.Remove(id)
	return nil
}

func (c *SnapshotCache) Ping(context.Context) error { return nil }

var _ repository.SnapshotCache = (*SnapshotCache)(nil)
