package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fastygo/recordlog/domain"
	"github.com/fastygo/recordlog/repository"
)

var (
	headsBucket  = []byte("heads")
	eventsBucket = []byte("events")
)

type head struct {
	Sequence  int64     `json:"sequence"`
	Order     uint64    `json:"order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EventLog persists streams in a BoltDB file. Every append is a single fsync'd transaction.
type EventLog struct {
	db  *bolt.DB
	now func() time.Time
}

// Open initializes the BoltDB file and ensures the buckets exist.
func Open(path string) (*EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(headsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(eventsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &EventLog{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (l *EventLog) Append(ctx context.Context, expected int64, draft domain.Draft) (domain.Event, error) {
	if draft.EntityID == "" || !draft.Kind.Valid() {
		return domain.Event{}, domain.ErrInvalidPayload
	}
	if err := ctx.Err(); err != nil {
		return domain.Event{}, err
	}

	var ev domain.Event
	err := l.db.Update(func(tx *bolt.Tx) error {
		heads := tx.Bucket(headsBucket)
		key := []byte(draft.EntityID)

		var h head
		if raw := heads.Get(key); raw != nil {
			if err := json.Unmarshal(raw, &h); err != nil {
				return err
			}
		}
		if h.Sequence != expected {
			return repository.ErrSequenceMismatch
		}

		now := l.now()
		if h.Sequence == 0 {
			order, err := heads.NextSequence()
			if err != nil {
				return err
			}
			h.Order = order
			h.CreatedAt = now
		}
		ev = draft.Seal(expected+1, now)
		h.Sequence = ev.Sequence
		h.UpdatedAt = now

		stream, err := tx.Bucket(eventsBucket).CreateBucketIfNotExists(key)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if err := stream.Put(seqKey(ev.Sequence), payload); err != nil {
			return err
		}
		rawHead, err := json.Marshal(h)
		if err != nil {
			return err
		}
		return heads.Put(key, rawHead)
	})
	if err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}

func (l *EventLog) Read(ctx context.Context, entityID string, from int64) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if from < 0 {
		from = 0
	}
	events := []domain.Event{}
	err := l.db.View(func(tx *bolt.Tx) error {
		stream := tx.Bucket(eventsBucket).Bucket([]byte(entityID))
		if stream == nil {
			return nil
		}
		c := stream.Cursor()
		for k, v := c.Seek(seqKey(from + 1)); k != nil; k, v = c.Next() {
			var ev domain.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (l *EventLog) Streams(ctx context.Context, filter repository.StreamFilter) ([]repository.StreamInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type entry struct {
		info  repository.StreamInfo
		order uint64
	}
	var entries []entry
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(headsBucket).ForEach(func(k, v []byte) error {
			var h head
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			if !filter.ModifiedSince.IsZero() && h.UpdatedAt.Before(filter.ModifiedSince) {
				return nil
			}
			entries = append(entries, entry{
				info: repository.StreamInfo{
					EntityID:  string(k),
					Sequence:  h.Sequence,
					CreatedAt: h.CreatedAt,
					UpdatedAt: h.UpdatedAt,
				},
				order: h.Order,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })
	out := make([]repository.StreamInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.info)
	}
	return repository.Page(out, filter.Limit, filter.Offset), nil
}

// Ping verifies the database file is still open and readable.
func (l *EventLog) Ping(ctx context.Context) error {
	if l == nil || l.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	return l.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(headsBucket) == nil {
			return bolt.ErrBucketNotFound
		}
		return nil
	})
}

// Close closes the Bolt database.
func (l *EventLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func seqKey(seq int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(seq))
	return b
}

var _ repository.EventLog = (*EventLog)(nil)
