package record

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fastygo/recordlog/domain"
	"github.com/fastygo/recordlog/repository"
	"github.com/fastygo/recordlog/repository/memory"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(sec int) {
	c.mu.Lock()
	c.now = epoch.Add(time.Duration(sec) * time.Second)
	c.mu.Unlock()
}

type fixture struct {
	uc    *UseCase
	log   *memory.EventLog
	clock *clock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	c := &clock{now: epoch}
	log := memory.NewEventLog(memory.WithClock(c.Now))
	opts = append([]Option{WithClock(c.Now), WithConfig(Config{MaxAttempts: 3, Backoff: 0})}, opts...)
	return &fixture{
		uc:    New(log, memory.NewSnapshotCache(64, 0), zap.NewNop(), opts...),
		log:   log,
		clock: c,
	}
}

func pessoa(cpf string) domain.Fields {
	return domain.Fields{"nome": "João Silva", "cpf": cpf, "data_nascimento": "1990-05-17"}
}

func (f *fixture) create(t *testing.T, cpf string) *domain.Entity {
	t.Helper()
	e, err := f.uc.Create(context.Background(), pessoa(cpf), "tester")
	require.NoError(t, err)
	return e
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	e := f.create(t, "123")

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, int64(1), e.Version)
	assert.False(t, e.Deleted)
	assert.Equal(t, pessoa("123"), e.Fields)

	got, err := f.uc.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.uc.Create(ctx, domain.Fields{"nome": "Maria"}, "")
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeValidation))

	f.create(t, "123")
	_, err = f.uc.Create(ctx, pessoa("123"), "")
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeDuplicate))

	list, err := f.uc.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreate_CPFReusableAfterDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, "123")

	_, err := f.uc.Delete(ctx, e.ID, 1, "")
	require.NoError(t, err)

	_, err = f.uc.Create(ctx, pessoa("123"), "")
	assert.NoError(t, err)
}

func TestPatch_CurrentVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, "123")

	res, err := f.uc.Patch(ctx, e.ID, 1, domain.Fields{"nome": "João A. Silva"}, "")
	require.NoError(t, err)
	assert.False(t, res.Merged)
	assert.Equal(t, int64(2), res.Entity.Version)
	assert.Equal(t, "João A. Silva", res.Entity.Fields["nome"])
	assert.Equal(t, "123", res.Entity.Fields["cpf"])
}

// Two clients read v1 and patch different fields; both edits survive.
func TestPatch_StaleDisjointFieldsMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, "123")

	f.clock.Set(1)
	_, err := f.uc.Patch(ctx, e.ID, 1, domain.Fields{"nome": "João A. Silva"}, "a")
	require.NoError(t, err)

	f.clock.Set(2)
	res, err := f.uc.Patch(ctx, e.ID, 1, domain.Fields{"cpf": "456"}, "b")
	require.NoError(t, err)
	assert.True(t, res.Merged)
	assert.Empty(t, res.Kept)
	assert.Equal(t, int64(3), res.Entity.Version)
	assert.Equal(t, "João A. Silva", res.Entity.Fields["nome"])
	assert.Equal(t, "456", res.Entity.Fields["cpf"])

	got, err := f.uc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Entity, *got)
}

func TestPatch_ConcurrentDisjointFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, "123")

	changes := []domain.Fields{{"nome": "João A. Silva"}, {"cpf": "456"}}
	var wg sync.WaitGroup
	for _, c := range changes {
		wg.Add(1)
		go func(c domain.Fields) {
			defer wg.Done()
			_, err := f.uc.Patch(ctx, e.ID, 1, c, "")
			assert.NoError(t, err)
		}(c)
	}
	wg.Wait()

	got, err := f.uc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, "João A. Silva", got.Fields["nome"])
	assert.Equal(t, "456", got.Fields["cpf"])
}

func TestPatch_SameFieldLastWriteWins(t *testing.T) {
	cases := []struct {
		name     string
		stampAt  int
		wantNome string
		wantKept []string
	}{
		{name: "older proposal keeps committed value", stampAt: 5, wantNome: "A", wantKept: []string{"nome"}},
		{name: "newer proposal overwrites", stampAt: 15, wantNome: "B"},
		{name: "tie keeps committed value", stampAt: 10, wantNome: "A", wantKept: []string{"nome"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			e := f.create(t, "123")

			f.clock.Set(10)
			_, err := f.uc.Patch(ctx, e.ID, 1, domain.Fields{"nome": "A"}, "")
			require.NoError(t, err)

			res, err := f.uc.ProposeChange(ctx, Proposal{
				EntityID:        e.ID,
				ExpectedVersion: 1,
				Kind:            domain.OpUpdate,
				Changes:         domain.Fields{"nome": "B"},
				RequestedAt:     epoch.Add(time.Duration(tc.stampAt) * time.Second),
			})
			require.NoError(t, err)
			assert.True(t, res.Merged)
			assert.Equal(t, tc.wantKept, res.Kept)
			assert.Equal(t, int64(3), res.Entity.Version)
			assert.Equal(t, tc.wantNome, res.Entity.Fields["nome"])
		})
	}
}

func TestPatch_InvalidVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, "123")

	for _, v := range []int64{0, -1, 2} {
		_, err := f.uc.Patch(ctx, e.ID, v, domain.Fields{"nome": "X"}, "")
		assert.True(t, domain.IsDomainError(err, domain.ErrCodeInvalidVersion), "version %d", v)
	}

	events, err := f.uc.History(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPatch_EmptyChangesDoNotAppend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, "123")

	res, err := f.uc.Patch(ctx, e.ID, 1, domain.Fields{}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Entity.Version)

	_, err = f.uc.Patch(ctx, e.ID, 5, nil, "")
	assert.ErrorIs(t, err, domain.ErrInvalidVersion)

	events, err := f.uc.History(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPatch_UniqueFieldTaken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, "123")
	other := f.create(t, "456")

	_, err := f.uc.Patch(ctx, other.ID, 1, domain.Fields{"cpf": "123"}, "")
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeDuplicate))

	_, err = f.uc.Patch(ctx, other.ID, 1, domain.Fields{"cpf": "456", "nome": "Maria"}, "")
	assert.NoError(t, err)
}

func TestNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.uc.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
	_, err = f.uc.Patch(ctx, "missing", 1, domain.Fields{"nome": "X"}, "")
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
	_, err = f.uc.Delete(ctx, "missing", 1, "")
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
	_, err = f.uc.History(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, "123")

	deleted, err := f.uc.Delete(ctx, e.ID, 1, "")
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	assert.Equal(t, int64(2), deleted.Version)

	_, err = f.uc.Get(ctx, e.ID)
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
	_, err = f.uc.Patch(ctx, e.ID, 2, domain.Fields{"nome": "X"}, "")
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)

	events, err := f.uc.History(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.OpDelete, events[1].Kind)

	list, err := f.uc.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = f.uc.List(ctx, ListFilter{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Deleted)
}

// A delete issued against a stale version is rejected and leaves the entity untouched.
func TestDelete_StaleVersionConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, "123")

	_, err := f.uc.Patch(ctx, e.ID, 1, domain.Fields{"nome": "João A. Silva"}, "")
	require.NoError(t, err)

	_, err = f.uc.Delete(ctx, e.ID, 1, "")
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	got, err := f.uc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.False(t, got.Deleted)

	_, err = f.uc.Delete(ctx, e.ID, 3, "")
	assert.ErrorIs(t, err, domain.ErrInvalidVersion)
}

func TestPatch_StaleAfterDeleteIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, "123")

	_, err := f.uc.Delete(ctx, e.ID, 1, "")
	require.NoError(t, err)

	_, err = f.uc.ProposeChange(ctx, Proposal{
		EntityID: e.ID, ExpectedVersion: 1, Kind: domain.OpUpdate, Changes: domain.Fields{"nome": "X"},
	})
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
}

func TestHistory_MonotonicAndReplayable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, "123")
	for i, nome := range []string{"A", "B", "C"} {
		f.clock.Set(i + 1)
		_, err := f.uc.Patch(ctx, e.ID, int64(i+1), domain.Fields{"nome": nome}, "")
		require.NoError(t, err)
	}

	events, err := f.uc.History(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Sequence)
		assert.Equal(t, ev.Sequence, ev.VersionAfter)
	}
	require.NoError(t, domain.VerifyHistory(events))

	got, err := f.uc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Build(events), *got)
	assert.Equal(t, domain.Build(events), domain.Build(events))

	v2, err := f.uc.GetAt(ctx, e.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "A", v2.Fields["nome"])

	_, err = f.uc.GetAt(ctx, e.ID, 5)
	assert.ErrorIs(t, err, domain.ErrInvalidVersion)
}

func TestList_FilterAndPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t, "1")
	f.clock.Set(10)
	second := f.create(t, "2")
	third := f.create(t, "3")

	_, err := f.uc.Delete(ctx, second.ID, 1, "")
	require.NoError(t, err)

	all, err := f.uc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, third.ID, all[1].ID)

	page, err := f.uc.List(ctx, ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, third.ID, page[0].ID)

	recent, err := f.uc.List(ctx, ListFilter{ModifiedSince: epoch.Add(5 * time.Second)})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, third.ID, recent[0].ID)
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, "123")

	got, err := f.uc.Refresh(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = f.uc.Refresh(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
}

// racingLog accepts reads but loses every append race.
type racingLog struct {
	*memory.EventLog
	appends atomic.Int32
}

func (l *racingLog) Append(context.Context, int64, domain.Draft) (domain.Event, error) {
	l.appends.Add(1)
	return domain.Event{}, repository.ErrSequenceMismatch
}

func TestProposeChange_ExhaustedRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, "123")

	racing := &racingLog{EventLog: f.log}
	uc := New(racing, nil, zap.NewNop(), WithConfig(Config{MaxAttempts: 4, Backoff: time.Millisecond}))

	_, err := uc.Patch(ctx, e.ID, 1, domain.Fields{"nome": "X"}, "")
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
	assert.Equal(t, int32(4), racing.appends.Load())

	events, err := f.uc.History(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

// brokenLog fails every call.
type brokenLog struct{ err error }

func (l brokenLog) Append(context.Context, int64, domain.Draft) (domain.Event, error) {
	return domain.Event{}, l.err
}
func (l brokenLog) Read(context.Context, string, int64) ([]domain.Event, error) { return nil, l.err }
func (l brokenLog) Streams(context.Context, repository.StreamFilter) ([]repository.StreamInfo, error) {
	return nil, l.err
}
func (l brokenLog) Ping(context.Context) error { return l.err }

func TestStoreUnavailable(t *testing.T) {
	uc := New(brokenLog{err: errors.New("connection refused")}, nil, zap.NewNop(), WithSchema(domain.Schema{}))
	ctx := context.Background()

	_, err := uc.Get(ctx, "p1")
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeStoreUnavailable))
	_, err = uc.Create(ctx, domain.Fields{"nome": "X"}, "")
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeStoreUnavailable))
	_, err = uc.List(ctx, ListFilter{})
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeStoreUnavailable))
}

func TestProposeChange_ContextCancelled(t *testing.T) {
	f := newFixture(t)
	e := f.create(t, "123")

	unlock, err := f.uc.locks.Lock(context.Background(), e.ID)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.uc.Patch(ctx, e.ID, 1, domain.Fields{"nome": "X"}, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// Two processes sharing one log, each with its own in-process snapshot cache.
func TestSharedLog_ReadsCatchUpWithOtherWriters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := New(f.log, memory.NewSnapshotCache(64, 0), zap.NewNop(), WithClock(f.clock.Now))

	e := f.create(t, "123")
	_, err := f.uc.Get(ctx, e.ID)
	require.NoError(t, err)

	f.clock.Set(1)
	_, err = other.Patch(ctx, e.ID, 1, domain.Fields{"nome": "João A. Silva"}, "")
	require.NoError(t, err)

	got, err := f.uc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "João A. Silva", got.Fields["nome"])

	res, err := f.uc.Patch(ctx, e.ID, 2, domain.Fields{}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Entity.Version)

	list, err := f.uc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(2), list[0].Version)

	_, err = other.Delete(ctx, e.ID, 2, "")
	require.NoError(t, err)

	_, err = f.uc.Get(ctx, e.ID)
	assert.ErrorIs(t, err, domain.ErrEntityDeleted)
	list, err = f.uc.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	_, err = f.uc.Patch(ctx, e.ID, 3, domain.Fields{}, "")
	assert.ErrorIs(t, err, domain.ErrEntityDeleted)
}

// interleavingLog commits one competing update on the first Append it sees and then
// lets the caller's append through, so the caller loses exactly one race.
type interleavingLog struct {
	*memory.EventLog
	competing domain.Fields
	fired     bool
}

func (l *interleavingLog) Append(ctx context.Context, expected int64, draft domain.Draft) (domain.Event, error) {
	if !l.fired {
		l.fired = true
		if _, err := l.EventLog.Append(ctx, expected, domain.Draft{
			EntityID: draft.EntityID,
			Kind:     domain.OpUpdate,
			Changes:  l.competing,
		}); err != nil {
			return domain.Event{}, err
		}
	}
	return l.EventLog.Append(ctx, expected, draft)
}

func TestMerge_RerunsWhenWriterCommitsDuringMerge(t *testing.T) {
	cases := []struct {
		name     string
		stampAt  int
		wantNome string
		wantKept []string
	}{
		{name: "competing write is newer", stampAt: 10, wantNome: "Other", wantKept: []string{"nome"}},
		{name: "proposal is newer", stampAt: 30, wantNome: "B"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			e := f.create(t, "123")

			f.clock.Set(5)
			_, err := f.uc.Patch(ctx, e.ID, 1, domain.Fields{"cpf": "456"}, "")
			require.NoError(t, err)

			// The competing update lands at t=20, after the merge read v2.
			f.clock.Set(20)
			racing := &interleavingLog{EventLog: f.log, competing: domain.Fields{"nome": "Other"}}
			uc := New(racing, nil, zap.NewNop(), WithClock(f.clock.Now), WithConfig(Config{MaxAttempts: 3, Backoff: 0}))

			res, err := uc.ProposeChange(ctx, Proposal{
				EntityID:        e.ID,
				ExpectedVersion: 1,
				Kind:            domain.OpUpdate,
				Changes:         domain.Fields{"nome": "B"},
				RequestedAt:     epoch.Add(time.Duration(tc.stampAt) * time.Second),
			})
			require.NoError(t, err)
			assert.True(t, res.Merged)
			assert.Equal(t, int64(4), res.Entity.Version)
			assert.Equal(t, tc.wantNome, res.Entity.Fields["nome"])
			assert.Equal(t, "456", res.Entity.Fields["cpf"])
			assert.Equal(t, tc.wantKept, res.Kept)

			events, err := f.uc.History(ctx, e.ID)
			require.NoError(t, err)
			require.Len(t, events, 4)
			assert.Equal(t, "Other", events[2].Changes["nome"])
			require.NoError(t, domain.VerifyHistory(events))
		})
	}
}
