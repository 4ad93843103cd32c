package record

import (
	"context"

	"go.uber.org/zap"

	"github.com/fastygo/recordlog/domain"
	"github.com/fastygo/recordlog/internal/metrics"
)

// merge resolves a stale update. It reads the events committed after the proposal's
// expected version, resolves every proposed field against them with last-write-wins and
// appends the outcome as one update event on top of the latest missed event. The event
// is appended even when every field lost, so the log records the decision.
func (uc *UseCase) merge(ctx context.Context, base []domain.Event, p Proposal, log *zap.Logger) (*Result, error) {
	missed, err := uc.read(ctx, p.EntityID, p.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	if len(missed) == 0 {
		return uc.commit(ctx, p.ExpectedVersion, base, p, p.Changes)
	}
	for _, ev := range missed {
		if ev.Kind == domain.OpDelete {
			return nil, domain.ErrEntityDeleted
		}
	}

	head := missed[len(missed)-1].Sequence
	resolved := domain.ResolveLWW(p.Changes, p.RequestedAt, domain.LatestWrites(missed))

	prior := append(base[:len(base):len(base)], missed...)
	res, err := uc.commit(ctx, head, prior, p, resolved.Changes)
	if err != nil {
		return nil, err
	}
	res.Merged = true
	res.Kept = resolved.Kept

	outcome := "applied"
	if len(resolved.Kept) > 0 {
		outcome = "kept_committed"
	}
	metrics.Merges.WithLabelValues(outcome).Inc()
	log.Info("stale update merged",
		zap.Int64("current_version", head),
		zap.Int64("version", res.Event.VersionAfter),
		zap.Int("missed_events", len(missed)),
		zap.Strings("kept_committed", resolved.Kept),
	)
	return res, nil
}
