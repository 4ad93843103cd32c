// Package record implements optimistic-concurrency writes over an append-only event log.
//
// Every write names the version its author last saw. A matching version appends
// directly; a stale update is replayed against the events it missed and merged field by
// field with last-write-wins; a stale delete is rejected. Writers for one entity are
// serialized in-process by a keyed lock, and across processes by the event log's
// compare-and-set on the expected sequence.
package record

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fastygo/recordlog/domain"
	"github.com/fastygo/recordlog/internal/keylock"
	"github.com/fastygo/recordlog/repository"
)

// Config bounds the optimistic retry loop.
type Config struct {
	// MaxAttempts is the number of append attempts before ConcurrentModification.
	MaxAttempts int
	// Backoff is multiplied by the attempt number between retries.
	Backoff time.Duration
}

// Option customises a UseCase.
type Option func(*UseCase)

// WithSchema replaces the default pessoa schema.
func WithSchema(schema domain.Schema) Option {
	return func(uc *UseCase) { uc.schema = schema }
}

// WithClock sets the clock used to stamp proposals.
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		if now != nil {
			uc.now = now
		}
	}
}

// WithConfig sets retry limits.
func WithConfig(cfg Config) Option {
	return func(uc *UseCase) {
		if cfg.MaxAttempts > 0 {
			uc.cfg.MaxAttempts = cfg.MaxAttempts
		}
		if cfg.Backoff >= 0 {
			uc.cfg.Backoff = cfg.Backoff
		}
	}
}

type UseCase struct {
	log    repository.EventLog
	cache  repository.SnapshotCache
	schema domain.Schema
	locks  *keylock.Table[string]
	group  singleflight.Group
	logger *zap.Logger
	now    func() time.Time
	cfg    Config
}

func New(log repository.EventLog, cache repository.SnapshotCache, logger *zap.Logger, opts ...Option) *UseCase {
	if cache == nil {
		cache = repository.NopSnapshotCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	uc := &UseCase{
		log:    log,
		cache:  cache,
		schema: domain.PessoaSchema,
		locks:  keylock.New[string](),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		cfg:    Config{MaxAttempts: 3, Backoff: 25 * time.Millisecond},
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

func (uc *UseCase) read(ctx context.Context, id string, from int64) ([]domain.Event, error) {
	events, err := uc.log.Read(ctx, id, from)
	if err != nil {
		return nil, storeError(err)
	}
	return events, nil
}

// storeError classifies an event log failure. Context errors and already classified
// errors pass through untouched.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var dErr *domain.Error
	if errors.As(err, &dErr) {
		return err
	}
	return domain.StoreUnavailable(err)
}
