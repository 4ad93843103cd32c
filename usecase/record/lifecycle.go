package record

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fastygo/recordlog/domain"
	"github.com/fastygo/recordlog/internal/metrics"
	"github.com/fastygo/recordlog/pkg/logger"
	"github.com/fastygo/recordlog/repository"
)

// streamBatch is how many stream heads List reads from the log per round trip.
const streamBatch = 500

// ListFilter narrows List results.
type ListFilter struct {
	ModifiedSince  time.Time
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// Create validates fields and starts a new entity at version 1.
func (uc *UseCase) Create(ctx context.Context, fields domain.Fields, actor string) (*domain.Entity, error) {
	if err := uc.schema.Validate(fields, true); err != nil {
		return nil, err
	}
	if err := uc.checkUnique(ctx, "", fields); err != nil {
		return nil, err
	}

	res, err := uc.ProposeChange(ctx, Proposal{
		EntityID: uuid.NewString(),
		Kind:     domain.OpCreate,
		Changes:  fields,
		Actor:    actor,
	})
	if err != nil {
		return nil, err
	}
	return &res.Entity, nil
}

// Patch applies changes written against expected. A stale expected version is merged
// transparently; Result.Merged tells the caller it happened.
func (uc *UseCase) Patch(ctx context.Context, id string, expected int64, changes domain.Fields, actor string) (*Result, error) {
	requestedAt := uc.now()

	if err := uc.schema.Validate(changes, false); err != nil {
		return nil, err
	}

	if len(changes) == 0 {
		// Checked against the log: a cached snapshot may lag writes from other processes.
		events, err := uc.read(ctx, id, 0)
		if err != nil {
			return nil, err
		}
		entity := domain.Build(events)
		switch {
		case !entity.Exists():
			return nil, domain.ErrEntityNotFound
		case entity.Deleted:
			return nil, domain.ErrEntityDeleted
		case expected <= 0 || expected > entity.Version:
			return nil, domain.ErrInvalidVersion
		}
		return &Result{Entity: entity}, nil
	}

	if err := uc.checkUnique(ctx, id, changes); err != nil {
		return nil, err
	}

	return uc.ProposeChange(ctx, Proposal{
		EntityID:        id,
		ExpectedVersion: expected,
		Kind:            domain.OpUpdate,
		Changes:         changes,
		RequestedAt:     requestedAt,
		Actor:           actor,
	})
}

// Delete tombstones the entity. expected must equal the current version.
func (uc *UseCase) Delete(ctx context.Context, id string, expected int64, actor string) (*domain.Entity, error) {
	res, err := uc.ProposeChange(ctx, Proposal{
		EntityID:        id,
		ExpectedVersion: expected,
		Kind:            domain.OpDelete,
		Actor:           actor,
	})
	if err != nil {
		return nil, err
	}
	return &res.Entity, nil
}

// Get returns the current state of an active entity.
func (uc *UseCase) Get(ctx context.Context, id string) (*domain.Entity, error) {
	entity, err := uc.snapshot(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	if !entity.Exists() {
		return nil, domain.ErrEntityNotFound
	}
	if entity.Deleted {
		return nil, domain.ErrEntityDeleted
	}
	return &entity, nil
}

// GetAt returns the entity as it was at version, tombstoned entities included.
func (uc *UseCase) GetAt(ctx context.Context, id string, version int64) (*domain.Entity, error) {
	events, err := uc.read(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, domain.ErrEntityNotFound
	}
	if version <= 0 || version > events[len(events)-1].VersionAfter {
		return nil, domain.ErrInvalidVersion
	}
	entity := domain.BuildAsOf(events, version)
	return &entity, nil
}

// List returns entities in creation order, skipping tombstoned ones unless asked.
func (uc *UseCase) List(ctx context.Context, filter ListFilter) ([]domain.Entity, error) {
	entities := []domain.Entity{}
	for offset := 0; ; offset += streamBatch {
		streams, err := uc.log.Streams(ctx, repository.StreamFilter{
			ModifiedSince: filter.ModifiedSince,
			Limit:         streamBatch,
			Offset:        offset,
		})
		if err != nil {
			return nil, storeError(err)
		}
		for _, s := range streams {
			entity, err := uc.snapshot(ctx, s.EntityID, s.Sequence)
			if err != nil {
				return nil, err
			}
			if !entity.Exists() || (entity.Deleted && !filter.IncludeDeleted) {
				continue
			}
			entities = append(entities, entity)
		}
		if len(streams) < streamBatch {
			break
		}
	}
	// Paging runs after tombstone filtering so pages never come back short.
	return repository.Page(entities, filter.Limit, filter.Offset), nil
}

// History returns the raw event sequence of an entity, including events of tombstoned ones.
func (uc *UseCase) History(ctx context.Context, id string) ([]domain.Event, error) {
	events, err := uc.read(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, domain.ErrEntityNotFound
	}
	return events, nil
}

// Refresh replays the full log of id, verifies its structure and stores the snapshot.
func (uc *UseCase) Refresh(ctx context.Context, id string) (*domain.Entity, error) {
	events, err := uc.read(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, domain.ErrEntityNotFound
	}
	if err := domain.VerifyHistory(events); err != nil {
		return nil, domain.WrapError(domain.ErrCodeInternal, "corrupt event history", err)
	}
	entity := domain.Build(events)
	uc.cachePut(ctx, entity)
	return &entity, nil
}

// snapshot reads through the cache. A hit is caught up with events appended after it,
// possibly by another process; head, when known, skips that read if the hit is current.
// Concurrent misses for one id share a single replay.
func (uc *UseCase) snapshot(ctx context.Context, id string, head int64) (domain.Entity, error) {
	cached, ok, err := uc.cache.Get(ctx, id)
	if err != nil {
		logger.WithRequestID(ctx, uc.logger).Warn("snapshot cache read failed",
			zap.String("entity_id", id), zap.Error(err))
	}
	if ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		if head > 0 && cached.Version >= head {
			return *cached, nil
		}
		return uc.catchUp(ctx, *cached)
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := uc.group.Do(id, func() (interface{}, error) {
		events, err := uc.read(ctx, id, 0)
		if err != nil {
			return nil, err
		}
		entity := domain.Build(events)
		if entity.Exists() {
			uc.cachePut(ctx, entity)
		}
		return entity, nil
	})
	if err != nil {
		return domain.Entity{}, err
	}
	entity := v.(domain.Entity)
	entity.Fields = entity.Fields.Clone()
	if head > entity.Version {
		// joined a replay that started before the head moved
		return uc.catchUp(ctx, entity)
	}
	return entity, nil
}

// catchUp folds events committed after base.Version onto base.
func (uc *UseCase) catchUp(ctx context.Context, base domain.Entity) (domain.Entity, error) {
	tail, err := uc.read(ctx, base.ID, base.Version)
	if err != nil {
		return domain.Entity{}, err
	}
	if len(tail) == 0 {
		return base, nil
	}
	for _, ev := range tail {
		base = base.Apply(ev)
	}
	uc.cachePut(ctx, base)
	return base, nil
}

func (uc *UseCase) cachePut(ctx context.Context, entity domain.Entity) {
	if err := uc.cache.Put(ctx, entity); err != nil {
		logger.WithRequestID(ctx, uc.logger).Warn("snapshot cache update failed",
			zap.String("entity_id", entity.ID), zap.Error(err))
	}
}

// checkUnique rejects changes that reuse a unique field value held by another active entity.
// It is best effort: two creates racing on different ids can both pass.
func (uc *UseCase) checkUnique(ctx context.Context, exceptID string, changes domain.Fields) error {
	var active []domain.Entity
	loaded := false
	for _, field := range uc.schema.UniqueFields() {
		value, ok := changes[field]
		if !ok || value == nil {
			continue
		}
		if !loaded {
			var err error
			if active, err = uc.List(ctx, ListFilter{}); err != nil {
				return err
			}
			loaded = true
		}
		for _, e := range active {
			if e.ID != exceptID && e.Fields[field] == value {
				return domain.DuplicateValue(field)
			}
		}
	}
	return nil
}
