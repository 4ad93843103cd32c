package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastygo/recordlog/domain"
	"github.com/fastygo/recordlog/repository"
)

type eventLog struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewEventLog creates a Postgres-backed EventLog. The entity_streams row is the
// compare-and-set head; entity_events holds the immutable events.
func NewEventLog(pool *pgxpool.Pool) repository.EventLog {
	return &eventLog{
		pool: pool,
		// Postgres keeps microseconds; truncate so the returned event equals the stored one.
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

func (r *eventLog) Append(ctx context.Context, expected int64, draft domain.Draft) (domain.Event, error) {
	if draft.EntityID == "" || !draft.Kind.Valid() {
		return domain.Event{}, domain.ErrInvalidPayload
	}

	changes, err := marshalFields(draft.Changes)
	if err != nil {
		return domain.Event{}, domain.WrapError(domain.ErrCodeInvalid, "changes are not serializable", err)
	}

	ev := draft.Seal(expected+1, r.now())

	const createHead = `
	INSERT INTO entity_streams (entity_id, current_sequence, created_at, updated_at)
	VALUES ($1, 1, $2, $2)
	ON CONFLICT (entity_id) DO NOTHING
	`
	const advanceHead = `
	UPDATE entity_streams
	SET current_sequence = $3,
		updated_at = $4
	WHERE entity_id = $1 AND current_sequence = $2
	`
	const insertEvent = `
	INSERT INTO entity_events (entity_id, sequence, version_after, op_kind, changes, actor, recorded_at)
	VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
	`

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			tag pgconn.CommandTag
			err error
		)
		if expected == 0 {
			tag, err = tx.Exec(ctx, createHead, ev.EntityID, ev.Timestamp)
		} else {
			tag, err = tx.Exec(ctx, advanceHead, ev.EntityID, expected, ev.Sequence, ev.Timestamp)
		}
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrSequenceMismatch
		}

		_, err = tx.Exec(ctx, insertEvent,
			ev.EntityID,
			ev.Sequence,
			ev.VersionAfter,
			string(ev.Kind),
			changes,
			ev.Actor,
			ev.Timestamp,
		)
		if isUniqueViolation(err) {
			return repository.ErrSequenceMismatch
		}
		return err
	})
	if err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}

func (r *eventLog) Read(ctx context.Context, entityID string, from int64) ([]domain.Event, error) {
	const query = `
	SELECT entity_id, sequence, version_after, op_kind, changes, COALESCE(actor, ''), recorded_at
	FROM entity_events
	WHERE entity_id = $1 AND sequence > $2
	ORDER BY sequence ASC
	`
	rows, err := r.pool.Query(ctx, query, entityID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

func (r *eventLog) Streams(ctx context.Context, filter repository.StreamFilter) ([]repository.StreamInfo, error) {
	const query = `
	SELECT entity_id, current_sequence, created_at, updated_at
	FROM entity_streams
	WHERE ($1::timestamptz IS NULL OR updated_at >= $1)
	ORDER BY created_at ASC, entity_id ASC
	LIMIT $2 OFFSET $3
	`
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := r.pool.Query(ctx, query, nullTime(filter.ModifiedSince), clampLimit(filter.Limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var streams []repository.StreamInfo
	for rows.Next() {
		var s repository.StreamInfo
		if err := rows.Scan(&s.EntityID, &s.Sequence, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		streams = append(streams, s)
	}
	return streams, rows.Err()
}

func (r *eventLog) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanEvent(row interface {
	Scan(dest ...interface{}) error
}) (*domain.Event, error) {
	var (
		ev      domain.Event
		kind    string
		changes []byte
	)
	if err := row.Scan(
		&ev.EntityID,
		&ev.Sequence,
		&ev.VersionAfter,
		&kind,
		&changes,
		&ev.Actor,
		&ev.Timestamp,
	); err != nil {
		return nil, err
	}

	k, err := domain.ParseOpKind(kind)
	if err != nil {
		return nil, err
	}
	ev.Kind = k
	if ev.Changes, err = unmarshalFields(changes); err != nil {
		return nil, err
	}
	ev.Timestamp = ev.Timestamp.UTC()
	return &ev, nil
}
