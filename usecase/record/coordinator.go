package record

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/recordlog/domain"
	"github.com/fastygo/recordlog/internal/metrics"
	"github.com/fastygo/recordlog/pkg/logger"
	"github.com/fastygo/recordlog/repository"
)

// Proposal is a change request against one entity.
type Proposal struct {
	EntityID string
	// ExpectedVersion is the version the author last saw. Ignored for create.
	ExpectedVersion int64
	Kind            domain.OpKind
	Changes         domain.Fields
	// RequestedAt stamps the proposed changes for last-write-wins. Defaults to now.
	RequestedAt time.Time
	Actor       string
}

// Result describes a committed proposal.
type Result struct {
	Entity domain.Entity
	Event  domain.Event
	// Merged is set when the proposal was stale and resolved against missed events.
	Merged bool
	// Kept lists proposed fields that lost to a later committed write during the merge.
	Kept []string
}

// ProposeChange decides whether p can be committed and appends exactly one event when it
// can. Calls for the same entity never interleave.
func (uc *UseCase) ProposeChange(ctx context.Context, p Proposal) (*Result, error) {
	if p.EntityID == "" || !p.Kind.Valid() {
		return nil, domain.ErrInvalidPayload
	}
	if p.RequestedAt.IsZero() {
		p.RequestedAt = uc.now()
	}

	start := time.Now()
	defer func() {
		metrics.ProposeDuration.WithLabelValues(string(p.Kind)).Observe(time.Since(start).Seconds())
	}()

	log := logger.WithRequestID(ctx, uc.logger).With(
		zap.String("entity_id", p.EntityID),
		zap.String("op_kind", string(p.Kind)),
		zap.Int64("expected_version", p.ExpectedVersion),
	)

	unlock, err := uc.locks.Lock(ctx, p.EntityID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		res, err := uc.proposeOnce(ctx, p, log)
		if err == nil {
			uc.committed(ctx, res, log)
			return res, nil
		}
		if !errors.Is(err, repository.ErrSequenceMismatch) {
			uc.rejected(err, log)
			return nil, err
		}

		metrics.AppendRetries.Inc()
		if attempt >= uc.cfg.MaxAttempts {
			err = domain.WrapError(domain.ErrCodeConcurrentModification, domain.ErrConcurrentModification.Message, err)
			uc.rejected(err, log)
			return nil, err
		}
		log.Debug("append lost a race, retrying", zap.Int("attempt", attempt))
		if err := uc.wait(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func (uc *UseCase) proposeOnce(ctx context.Context, p Proposal, log *zap.Logger) (*Result, error) {
	events, err := uc.read(ctx, p.EntityID, 0)
	if err != nil {
		return nil, err
	}
	current := domain.Build(events)

	if p.Kind == domain.OpCreate {
		if current.Exists() {
			return nil, domain.NewError(domain.ErrCodeVersionConflict, "entity already exists")
		}
		return uc.commit(ctx, 0, events, p, p.Changes)
	}

	switch {
	case !current.Exists():
		return nil, domain.ErrEntityNotFound
	case current.Deleted:
		return nil, domain.ErrEntityDeleted
	case p.ExpectedVersion <= 0:
		return nil, domain.NewError(domain.ErrCodeInvalidVersion, "expected version must be positive")
	case p.ExpectedVersion > current.Version:
		return nil, domain.ErrInvalidVersion
	}

	switch {
	case p.Kind == domain.OpDelete:
		// Deletes never merge: a tombstone must target exactly the state its author saw.
		if p.ExpectedVersion != current.Version {
			return nil, domain.ErrVersionConflict
		}
		return uc.commit(ctx, current.Version, events, p, nil)
	case p.ExpectedVersion == current.Version:
		return uc.commit(ctx, current.Version, events, p, p.Changes)
	default:
		return uc.merge(ctx, events[:p.ExpectedVersion], p, log)
	}
}

// commit appends at expected+1 and folds the new event onto prior.
func (uc *UseCase) commit(ctx context.Context, expected int64, prior []domain.Event, p Proposal, changes domain.Fields) (*Result, error) {
	ev, err := uc.log.Append(ctx, expected, domain.Draft{
		EntityID: p.EntityID,
		Kind:     p.Kind,
		Changes:  changes,
		Actor:    p.Actor,
	})
	if err != nil {
		if errors.Is(err, repository.ErrSequenceMismatch) {
			return nil, err
		}
		return nil, storeError(err)
	}
	return &Result{
		Entity: domain.Build(prior).Apply(ev),
		Event:  ev,
	}, nil
}

func (uc *UseCase) committed(ctx context.Context, res *Result, log *zap.Logger) {
	metrics.EventsAppended.WithLabelValues(string(res.Event.Kind)).Inc()
	if err := uc.cache.Put(ctx, res.Entity); err != nil {
		log.Warn("snapshot cache update failed", zap.Error(err))
		if err := uc.cache.Invalidate(ctx, res.Entity.ID); err != nil {
			log.Warn("snapshot cache invalidation failed", zap.Error(err))
		}
	}
	log.Debug("event appended", zap.Int64("version", res.Event.VersionAfter), zap.Bool("merged", res.Merged))
}

func (uc *UseCase) rejected(err error, log *zap.Logger) {
	var dErr *domain.Error
	if !errors.As(err, &dErr) {
		log.Error("propose change failed", zap.Error(err))
		return
	}
	metrics.Rejections.WithLabelValues(string(dErr.Code)).Inc()
	switch dErr.Code {
	case domain.ErrCodeStoreUnavailable:
		log.Error("event log unavailable", zap.Error(err))
	case domain.ErrCodeVersionConflict, domain.ErrCodeConcurrentModification, domain.ErrCodeInvalidVersion:
		log.Warn("proposed change rejected", zap.String("code", string(dErr.Code)))
	default:
		log.Debug("proposed change rejected", zap.String("code", string(dErr.Code)))
	}
}

func (uc *UseCase) wait(ctx context.Context, attempt int) error {
	d := uc.cfg.Backoff * time.Duration(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
