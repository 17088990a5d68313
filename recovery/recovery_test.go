package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gobridgetracker/types"

	"github.com/andres-erbsen/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeExecutor) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeExecutor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeExecutor) RetryFailed(_ context.Context, id string) (string, error) {
	f.record("retry " + id)
	return "new-" + id, f.err
}

func (f *fakeExecutor) Refresh(_ context.Context, id string) (types.BridgeTransaction, error) {
	f.record("refresh " + id)
	return types.BridgeTransaction{ID: id}, f.err
}

func (f *fakeExecutor) RefreshAll(context.Context) error {
	f.record("refresh_all")
	return f.err
}

func (f *fakeExecutor) Resync(_ context.Context, id string) error {
	f.record("resync " + id)
	return f.err
}

func newClock() *clock.Mock {
	c := clock.NewMock()
	c.Add(48 * time.Hour)
	return c
}

func txAt(id string, status types.Status, created time.Time) types.BridgeTransaction {
	return types.BridgeTransaction{
		ID:                id,
		SourceChain:       1,
		DestinationChain:  137,
		Token:             "USDC",
		Amount:            "10",
		Status:            status,
		EstimatedDuration: 600 * time.Second,
		CreatedAt:         created,
	}
}

func TestAnalyze_FailedAndStuck(t *testing.T) {
	clk := newClock()
	exec := &fakeExecutor{}
	a := NewAnalyzer(exec, clk)
	now := clk.Now()

	history := []types.BridgeTransaction{
		txAt("stuck", types.StatusPending, now.Add(-1201*time.Second)),
		txAt("failed", types.StatusFailed, now.Add(-time.Hour)),
	}
	report := a.Analyze(history)

	require.Len(t, report.Failed, 1)
	assert.Equal(t, "failed", report.Failed[0].ID)
	require.Len(t, report.Stuck, 1)
	assert.Equal(t, "stuck", report.Stuck[0].ID)
	assert.Empty(t, report.Unpersisted)

	require.Len(t, report.Actions, 3)
	assert.Equal(t, KindRetry, report.Actions[0].Kind)
	assert.Equal(t, SeverityHigh, report.Actions[0].Severity)
	assert.Equal(t, "failed", report.Actions[0].TransactionID)
	assert.Equal(t, KindCheckStatus, report.Actions[1].Kind)
	assert.Equal(t, SeverityMedium, report.Actions[1].Severity)
	assert.Equal(t, "stuck", report.Actions[1].TransactionID)
	assert.Equal(t, KindRefreshAll, report.Actions[2].Kind)
	assert.Equal(t, SeverityLow, report.Actions[2].Severity)
	assert.Empty(t, report.Actions[2].TransactionID)

	newID, err := report.Actions[0].Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-failed", newID)
	_, err = report.Actions[1].Execute(context.Background())
	require.NoError(t, err)
	_, err = report.Actions[2].Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"retry failed", "refresh stuck", "refresh_all"}, exec.Calls())
}

func TestAnalyze_Empty(t *testing.T) {
	clk := newClock()
	a := NewAnalyzer(&fakeExecutor{}, clk)
	now := clk.Now()

	report := a.Analyze([]types.BridgeTransaction{
		txAt("fresh", types.StatusPending, now.Add(-time.Minute)),
		txAt("done", types.StatusCompleted, now.Add(-time.Hour)),
	})
	assert.True(t, report.Empty())
	assert.Empty(t, report.Actions)

	assert.Empty(t, a.Analyze(nil).Actions)
}

func TestStuckThreshold(t *testing.T) {
	now := time.Unix(10_000, 0)
	tx := txAt("x", types.StatusConfirmed, now.Add(-1200*time.Second))
	assert.False(t, Stuck(tx, now), "exactly 2x eta is not stuck")
	assert.True(t, Stuck(tx, now.Add(time.Second)))

	tx.Status = types.StatusCompleted
	assert.False(t, Stuck(tx, now.Add(time.Hour)))
}

func TestAnalyze_OrderAndDedup(t *testing.T) {
	clk := newClock()
	a := NewAnalyzer(&fakeExecutor{}, clk)
	now := clk.Now()

	stuck1 := txAt("s1", types.StatusPending, now.Add(-time.Hour))
	stuck2 := txAt("s2", types.StatusConfirmed, now.Add(-time.Hour))
	failed1 := txAt("f1", types.StatusFailed, now.Add(-time.Hour))
	failed2 := txAt("f2", types.StatusFailed, now.Add(-time.Hour))
	unpersisted := txAt("u1", types.StatusConfirmed, now.Add(-time.Minute))
	unpersisted.Condition = types.ConditionPersistenceFailed
	unpersisted.LastError = "redis down"

	report := a.Analyze([]types.BridgeTransaction{stuck1, failed1, stuck2, unpersisted, failed2, stuck1, failed1})

	assert.Len(t, report.Failed, 2)
	assert.Len(t, report.Stuck, 2)
	require.Len(t, report.Unpersisted, 1)

	var ids []string
	for _, action := range report.Actions {
		ids = append(ids, action.ID)
	}
	assert.Equal(t, []string{
		"retry:f1", "resync:u1", "retry:f2",
		"check_status:s1", "check_status:s2",
		"refresh_all",
	}, ids)

	action, ok := report.Action("resync:u1")
	require.True(t, ok)
	assert.Contains(t, action.Description, "redis down")
	_, ok = report.Action("nope")
	assert.False(t, ok)
}

func TestAnalyze_NewestCopyWins(t *testing.T) {
	clk := newClock()
	a := NewAnalyzer(&fakeExecutor{}, clk)
	now := clk.Now()

	stale := txAt("x", types.StatusConfirmed, now.Add(-time.Minute))
	stale.UpdatedAt = now.Add(-30 * time.Second)
	fresh := stale
	fresh.Status = types.StatusFailed
	fresh.FailureReason = types.FailureDestinationFault
	fresh.UpdatedAt = now

	report := a.Analyze([]types.BridgeTransaction{stale, fresh})
	require.Len(t, report.Failed, 1)
	assert.Equal(t, types.StatusFailed, report.Failed[0].Status)
	_, ok := report.Action("retry:x")
	assert.True(t, ok)

	// the active snapshot read first, the history read after the failure
	src := &fakeSource{
		active:    []types.BridgeTransaction{stale},
		histories: map[string][]types.BridgeTransaction{"a": {fresh}},
	}
	all, err := Collect(context.Background(), src)
	require.NoError(t, err)
	report = a.Analyze(all)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "x", report.Failed[0].ID)
}

func TestActionIDsAreStable(t *testing.T) {
	clk := newClock()
	a := NewAnalyzer(&fakeExecutor{}, clk)
	history := []types.BridgeTransaction{txAt("f", types.StatusFailed, clk.Now())}

	first := a.Analyze(history)
	clk.Add(time.Minute)
	second := a.Analyze(history)
	assert.Equal(t, first.Actions[0].ID, second.Actions[0].ID)
}

func TestExecuteWithoutExecutor(t *testing.T) {
	_, err := Action{ID: "x"}.Execute(context.Background())
	assert.Error(t, err)
}

type fakeSource struct {
	active      []types.BridgeTransaction
	histories   map[string][]types.BridgeTransaction
	unpersisted []types.BridgeTransaction
	failOwner   string
}

func (f *fakeSource) ActiveSnapshot() []types.BridgeTransaction { return f.active }

func (f *fakeSource) Owners() []string {
	var owners []string
	for o := range f.histories {
		owners = append(owners, o)
	}
	return owners
}

func (f *fakeSource) History(_ context.Context, owner string) ([]types.BridgeTransaction, error) {
	if owner == f.failOwner {
		return nil, errors.New("unavailable")
	}
	return f.histories[owner], nil
}

func (f *fakeSource) Unpersisted() []types.BridgeTransaction { return f.unpersisted }

func TestWorkerRunOnce(t *testing.T) {
	clk := newClock()
	exec := &fakeExecutor{}
	now := clk.Now()
	stuck := txAt("s", types.StatusPending, now.Add(-time.Hour))
	src := &fakeSource{
		active: []types.BridgeTransaction{stuck},
		histories: map[string][]types.BridgeTransaction{
			"a": {stuck, txAt("f", types.StatusFailed, now.Add(-time.Hour))},
			"b": nil,
		},
		failOwner: "b",
	}

	w := NewWorker(NewAnalyzer(exec, clk), src, clk, time.Minute, true, nil, zerolog.Nop())
	report := w.RunOnce(context.Background())

	assert.Len(t, report.Failed, 1)
	assert.Len(t, report.Stuck, 1)
	assert.Len(t, report.Actions, 3)
	// only status checks run automatically
	assert.Equal(t, []string{"refresh s"}, exec.Calls())
	assert.Equal(t, report.GeneratedAt, w.Last().GeneratedAt)
}

func TestWorkerStartStop(t *testing.T) {
	src := &fakeSource{}
	w := NewWorker(NewAnalyzer(&fakeExecutor{}, nil), src, clock.New(), 5*time.Millisecond, false, nil, zerolog.Nop())
	w.Start(context.Background())
	require.Eventually(t, func() bool { return !w.Last().GeneratedAt.IsZero() }, time.Second, time.Millisecond)
	w.Stop()
	w.Stop()
}
