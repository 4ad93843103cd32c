package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fastygo/recordlog/domain"
	"github.com/fastygo/recordlog/repository"
)

// Option configures an EventLog.
type Option func(*EventLog)

// WithClock overrides the clock used to stamp appended events.
func WithClock(now func() time.Time) Option {
	return func(l *EventLog) {
		if now != nil {
			l.now = now
		}
	}
}

type stream struct {
	events  []domain.Event
	created int
}

// EventLog keeps streams in process memory. It is safe for concurrent use
// and intended for tests and single-process development.
type EventLog struct {
	mu      sync.RWMutex
	streams map[string]*stream
	order   int
	now     func() time.Time
}

// NewEventLog creates an empty in-memory event log.
func NewEventLog(opts ...Option) *EventLog {
	l := &EventLog{
		streams: make(map[string]*stream),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *EventLog) Append(_ context.Context, expected int64, draft domain.Draft) (domain.Event, error) {
	if draft.EntityID == "" || !draft.Kind.Valid() {
		return domain.Event{}, domain.ErrInvalidPayload
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.streams[draft.EntityID]
	var head int64
	if ok {
		head = int64(len(s.events))
	}
	if head != expected {
		return domain.Event{}, repository.ErrSequenceMismatch
	}
	if !ok {
		l.order++
		s = &stream{created: l.order}
		l.streams[draft.EntityID] = s
	}

	ev := draft.Seal(expected+1, l.now())
	s.events = append(s.events, ev)
	return copyEvent(ev), nil
}

func (l *EventLog) Read(_ context.Context, entityID string, from int64) ([]domain.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.streams[entityID]
	if !ok || from >= int64(len(s.events)) {
		return []domain.Event{}, nil
	}
	if from < 0 {
		from = 0
	}
	out := make([]domain.Event, 0, int64(len(s.events))-from)
	for _, ev := range s.events[from:] {
		out = append(out, copyEvent(ev))
	}
	return out, nil
}

func (l *EventLog) Streams(_ context.Context, filter repository.StreamFilter) ([]repository.StreamInfo, error) {
	l.mu.RLock()
	type entry struct {
		info  repository.StreamInfo
		order int
	}
	entries := make([]entry, 0, len(l.streams))
	for id, s := range l.streams {
		last := s.events[len(s.events)-1]
		if !filter.ModifiedSince.IsZero() && last.Timestamp.Before(filter.ModifiedSince) {
			continue
		}
		entries = append(entries, entry{
			info: repository.StreamInfo{
				EntityID:  id,
				Sequence:  last.Sequence,
				CreatedAt: s.events[0].Timestamp,
				UpdatedAt: last.Timestamp,
			},
			order: s.created,
		})
	}
	l.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })

	out := make([]repository.StreamInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.info)
	}
	return repository.Page(out, filter.Limit, filter.Offset), nil
}

func (l *EventLog) Ping(context.Context) error { return nil }

func copyEvent(ev domain.Event) domain.Event {
	ev.Changes = ev.Changes.Clone()
	return ev
}

var _ repository.EventLog = (*EventLog)(nil)
