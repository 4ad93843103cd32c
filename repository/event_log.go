package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fastygo/recordlog/domain"
)

// ErrSequenceMismatch is returned by Append when the stream head moved past the expected
// sequence. Nothing was written.
var ErrSequenceMismatch = errors.New("stream sequence mismatch")

// StreamFilter narrows the streams returned by EventLog.Streams.
type StreamFilter struct {
	// ModifiedSince keeps streams whose latest event is at or after this instant.
	ModifiedSince time.Time
	Limit         int
	Offset        int
}

// StreamInfo describes the head of one entity's stream.
type StreamInfo struct {
	EntityID  string
	Sequence  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EventLog is the append-only, per-entity ordered store of change events.
type EventLog interface {
	// Append seals draft at sequence expected+1 if, and only if, the stream head is
	// currently at expected (0 for a stream that does not exist yet). The event is durable
	// when Append returns without error.
	Append(ctx context.Context, expected int64, draft domain.Draft) (domain.Event, error)
	// Read returns the events of entityID with sequence > from, ascending.
	// An unknown entity yields an empty slice.
	Read(ctx context.Context, entityID string, from int64) ([]domain.Event, error)
	// Streams lists stream heads ordered by creation.
	Streams(ctx context.Context, filter StreamFilter) ([]StreamInfo, error)
	Ping(ctx context.Context) error
}

// Page applies offset/limit to an already ordered slice. A non-positive limit returns
// everything after offset.
func Page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
