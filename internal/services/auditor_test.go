package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fastygo/recordlog/domain"
	"github.com/fastygo/recordlog/repository"
	"github.com/fastygo/recordlog/repository/memory"
	"github.com/fastygo/recordlog/usecase/record"
)

type offline struct{}

func (offline) IsOnline() bool { return false }

// corruptingRefresher flags one id as corrupt and delegates the rest.
type corruptingRefresher struct {
	next    Refresher
	corrupt string
}

func (r corruptingRefresher) Refresh(ctx context.Context, id string) (*domain.Entity, error) {
	if id == r.corrupt {
		return nil, domain.NewError(domain.ErrCodeInternal, "corrupt event history")
	}
	return r.next.Refresh(ctx, id)
}

func seed(t *testing.T, n int) (*memory.EventLog, *record.UseCase, []string) {
	t.Helper()
	log := memory.NewEventLog()
	uc := record.New(log, nil, zap.NewNop(), record.WithSchema(domain.Schema{}))
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		e, err := uc.Create(context.Background(), domain.Fields{"n": float64(i)}, "")
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}
	return log, uc, ids
}

func TestAuditor_RunVisitsEveryBatch(t *testing.T) {
	log, uc, _ := seed(t, 5)

	a, err := NewAuditor(log, uc, nil, zap.NewNop(), AuditorConfig{BatchSize: 2})
	require.NoError(t, err)

	report, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Audited)
	assert.Empty(t, report.Violations)
}

func TestAuditor_ReportsViolations(t *testing.T) {
	log, uc, ids := seed(t, 3)

	a, err := NewAuditor(log, corruptingRefresher{next: uc, corrupt: ids[1]}, nil, zap.NewNop(), AuditorConfig{})
	require.NoError(t, err)

	report, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Audited)
	assert.Equal(t, []string{ids[1]}, report.Violations)
}

func TestAuditor_SkipsWhenOffline(t *testing.T) {
	log, uc, _ := seed(t, 2)

	a, err := NewAuditor(log, uc, offline{}, zap.NewNop(), AuditorConfig{})
	require.NoError(t, err)

	report, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Audited)
}

// cappedLog returns at most max stream heads per call, whatever the requested limit.
type cappedLog struct {
	*memory.EventLog
	max int
}

func (l cappedLog) Streams(ctx context.Context, filter repository.StreamFilter) ([]repository.StreamInfo, error) {
	if filter.Limit <= 0 || filter.Limit > l.max {
		filter.Limit = l.max
	}
	return l.EventLog.Streams(ctx, filter)
}

func TestAuditor_RunSurvivesPagesShorterThanBatch(t *testing.T) {
	log, uc, _ := seed(t, 7)

	a, err := NewAuditor(cappedLog{EventLog: log, max: 3}, uc, nil, zap.NewNop(), AuditorConfig{BatchSize: 5})
	require.NoError(t, err)

	report, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, report.Audited)
}
