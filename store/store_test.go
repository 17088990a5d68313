package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"gobridgetracker/config"
	"gobridgetracker/events"
	"gobridgetracker/fees"
	"gobridgetracker/registry"
	"gobridgetracker/types"

	"github.com/andres-erbsen/clock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

type fixture struct {
	store  *Store
	mem    *Memory
	bus    *events.Bus
	clock  *clock.Mock
	events []events.Event
	mu     sync.Mutex
}

func (f *fixture) seen() []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.Event(nil), f.events...)
}

func newDeps(t *testing.T, mem *Memory, bus *events.Bus, clk clock.Clock) Deps {
	t.Helper()
	reg, err := registry.New(config.DefaultChains)
	require.NoError(t, err)
	rates, err := fees.ParseStaticRates(config.DefaultNetworkRates, "0.003")
	require.NoError(t, err)
	est := fees.NewEstimator(reg, rates, fees.NewCache(time.Minute), fees.Options{
		BridgeFeeRate: decimal.RequireFromString("0.001"),
		SlowDuration:  15 * time.Minute,
		FastDuration:  5 * time.Minute,
	}, nil, zerolog.Nop())

	return Deps{
		Routes:      reg,
		Fees:        est,
		Persistence: mem,
		Events:      bus,
		Clock:       clk,
		Logger:      zerolog.Nop(),
	}
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		mem:   NewMemory(),
		bus:   events.NewBus(nil, zerolog.Nop()),
		clock: clock.NewMock(),
	}
	f.clock.Add(time.Hour)
	f.bus.Subscribe(func(ev events.Event) {
		f.mu.Lock()
		f.events = append(f.events, ev)
		f.mu.Unlock()
	})
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	f.store = New(newDeps(t, f.mem, f.bus, f.clock), opts)
	return f
}

func (f *fixture) initiate(t *testing.T) string {
	t.Helper()
	id, err := f.store.Initiate(context.Background(), config.CHAIN_ETHEREUM, config.CHAIN_POLYGON, "USDC", "100", owner)
	require.NoError(t, err)
	return id
}

func (f *fixture) status(t *testing.T, id string) types.BridgeTransaction {
	t.Helper()
	tx, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return tx
}

func TestInitiate(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	id, err := f.store.Initiate(ctx, config.CHAIN_ETHEREUM, config.CHAIN_POLYGON, "USDC", "100", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	tx, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, tx.Status)
	assert.Equal(t, owner, tx.OwnerAddress)
	assert.Equal(t, 15*time.Minute, tx.EstimatedDuration)
	assert.Equal(t, "0.6", tx.Fees.Total.String())
	assert.Empty(t, tx.DestinationTxHash)
	assert.Len(t, tx.SourceTxHash, 66)
	assert.Equal(t, f.clock.Now().UTC(), tx.CreatedAt)

	active := f.store.ActiveSnapshot()
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].ID)

	hist, err := f.store.History(ctx, owner)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, id, hist[0].ID)

	persisted, err := f.mem.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, persisted.Status)

	seen := f.seen()
	require.Len(t, seen, 1)
	assert.Equal(t, events.TypeInitiated, seen[0].Type)
	assert.Equal(t, id, seen[0].Transaction.ID)
}

func TestInitiate_RejectedLeavesNoRecord(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	tests := []struct {
		name        string
		source      int
		destination int
		token       string
		amount      string
		owner       string
		want        error
	}{
		{"token missing", config.CHAIN_ETHEREUM, config.CHAIN_AVALANCHE, "ETH", "1", owner, types.ErrUnsupportedRoute},
		{"unknown chain", 999, config.CHAIN_POLYGON, "USDC", "1", owner, types.ErrUnsupportedRoute},
		{"same chain", config.CHAIN_POLYGON, config.CHAIN_POLYGON, "USDC", "1", owner, types.ErrUnsupportedRoute},
		{"bad amount", config.CHAIN_ETHEREUM, config.CHAIN_POLYGON, "USDC", "-1", owner, types.ErrInvalidAmount},
		{"bad owner", config.CHAIN_ETHEREUM, config.CHAIN_POLYGON, "USDC", "1", "0x123", types.ErrInvalidAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.store.Initiate(ctx, tt.source, tt.destination, tt.token, tt.amount, tt.owner)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Zero(t, f.mem.Writes())
	assert.Empty(t, f.store.ActiveSnapshot())
	hist, err := f.store.History(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, hist)
	assert.Empty(t, f.seen())
}

func TestInitiate_PersistenceFailure(t *testing.T) {
	f := newFixture(t, Options{WriteRetries: 2})
	f.mem.FailWrites(3)

	_, err := f.store.Initiate(context.Background(), config.CHAIN_ETHEREUM, config.CHAIN_POLYGON, "USDC", "1", owner)
	assert.ErrorIs(t, err, types.ErrPersistence)
	assert.Equal(t, 3, f.mem.Writes())
	assert.Empty(t, f.store.ActiveSnapshot())
	assert.Empty(t, f.seen())
}

func TestInitiate_RetriesWrites(t *testing.T) {
	f := newFixture(t, Options{WriteRetries: 3})
	f.mem.FailWrites(2)

	id := f.initiate(t)
	assert.Equal(t, 3, f.mem.Writes())
	_, err := f.mem.Get(context.Background(), id)
	assert.NoError(t, err)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	id := f.initiate(t)

	require.NoError(t, f.store.Cancel(ctx, id))

	tx, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, tx.Status)
	assert.Equal(t, types.FailureCancelled, tx.FailureReason)
	assert.Empty(t, f.store.ActiveSnapshot())

	seen := f.seen()
	require.Len(t, seen, 2)
	assert.Equal(t, events.TypeStatusChanged, seen[1].Type)
	assert.Equal(t, types.StatusPending, seen[1].OldStatus)
	assert.Equal(t, types.StatusFailed, seen[1].NewStatus)

	// failed is terminal
	assert.ErrorIs(t, f.store.Cancel(ctx, id), types.ErrInvalidState)
}

func TestCancel_OnlyWhilePending(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	id := f.initiate(t)

	_, err := f.store.Transition(ctx, id, types.StatusPending, types.StatusConfirmed, nil)
	require.NoError(t, err)
	before, err := f.store.Get(ctx, id)
	require.NoError(t, err)

	f.clock.Add(time.Minute)
	assert.ErrorIs(t, f.store.Cancel(ctx, id), types.ErrInvalidState)

	after, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	assert.ErrorIs(t, f.store.Cancel(ctx, "missing"), types.ErrNotFound)
}

func TestRetryFailed(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	id := f.initiate(t)

	_, err := f.store.RetryFailed(ctx, id)
	assert.ErrorIs(t, err, types.ErrInvalidState)

	require.NoError(t, f.store.Cancel(ctx, id))
	original, err := f.store.Get(ctx, id)
	require.NoError(t, err)

	f.clock.Add(time.Minute)
	newID, err := f.store.RetryFailed(ctx, id)
	require.NoError(t, err)
	assert.NotEqual(t, id, newID)

	unchanged, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, original, unchanged)

	retried, err := f.store.Get(ctx, newID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, retried.Status)
	assert.Equal(t, id, retried.RetryOf)
	assert.Equal(t, original.Route(), retried.Route())
	assert.Equal(t, original.Amount, retried.Amount)
	assert.Equal(t, original.OwnerAddress, retried.OwnerAddress)

	hist, err := f.store.History(ctx, owner)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, newID, hist[0].ID)
}

func TestTransition_Monotonic(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	id := f.initiate(t)

	_, err := f.store.Transition(ctx, id, types.StatusPending, types.StatusCompleted, nil)
	assert.ErrorIs(t, err, types.ErrInvalidState, "pending cannot skip confirmed")

	tx, err := f.store.Transition(ctx, id, types.StatusPending, types.StatusConfirmed, func(tx *types.BridgeTransaction) {
		tx.DestinationTxHash = "0xearly"
	})
	require.NoError(t, err)
	assert.Empty(t, tx.DestinationTxHash, "destination hash only with completed")

	tx, err = f.store.Transition(ctx, id, types.StatusConfirmed, types.StatusCompleted, func(tx *types.BridgeTransaction) {
		tx.DestinationTxHash = "0xdest"
		tx.Status = types.StatusPending
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, tx.Status)
	assert.Equal(t, "0xdest", tx.DestinationTxHash)

	for _, to := range []types.Status{types.StatusPending, types.StatusConfirmed, types.StatusFailed} {
		_, err := f.store.Transition(ctx, id, types.StatusCompleted, to, nil)
		assert.ErrorIs(t, err, types.ErrInvalidState)
	}
	_, err = f.store.Transition(ctx, id, types.StatusConfirmed, types.StatusFailed, nil)
	assert.ErrorIs(t, err, types.ErrInvalidState, "stale observed status")

	got, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Empty(t, f.store.ActiveSnapshot())
}

func TestTransition_PersistenceFailureIsMarked(t *testing.T) {
	f := newFixture(t, Options{WriteRetries: 1})
	ctx := context.Background()
	id := f.initiate(t)

	f.mem.FailWrites(2)
	tx, err := f.store.Transition(ctx, id, types.StatusPending, types.StatusConfirmed, nil)
	require.ErrorIs(t, err, types.ErrPersistence)
	assert.Equal(t, types.StatusConfirmed, tx.Status)
	assert.Equal(t, types.ConditionPersistenceFailed, tx.Condition)
	assert.NotEmpty(t, tx.LastError)

	got, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusConfirmed, got.Status, "transition stands in memory")

	persisted, err := f.mem.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, persisted.Status)

	unpersisted := f.store.Unpersisted()
	require.Len(t, unpersisted, 1)
	assert.Equal(t, id, unpersisted[0].ID)

	require.NoError(t, f.store.Flush(ctx))
	assert.Empty(t, f.store.Unpersisted())
	persisted, err = f.mem.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusConfirmed, persisted.Status)

	got, err = f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.ConditionNone, got.Condition)
}

func TestFlush_ReportsFailures(t *testing.T) {
	f := newFixture(t, Options{WriteRetries: 0})
	ctx := context.Background()
	id := f.initiate(t)

	f.mem.FailWrites(2)
	_, err := f.store.Transition(ctx, id, types.StatusPending, types.StatusConfirmed, nil)
	require.Error(t, err)

	err = f.store.Flush(ctx)
	assert.ErrorIs(t, err, types.ErrPersistence)
	assert.Len(t, f.store.Unpersisted(), 1)

	require.NoError(t, f.store.Flush(ctx))
	assert.Empty(t, f.store.Unpersisted())
}

func TestHistory_BoundedMostRecentFirst(t *testing.T) {
	f := newFixture(t, Options{HistoryLimit: config.DEFAULT_HISTORY_LIMIT})
	ctx := context.Background()
	n := f.store.HistoryLimit()

	ids := make([]string, 0, n+50)
	for i := 0; i < n+50; i++ {
		id := f.initiate(t)
		// terminal records are the ones that get evicted
		require.NoError(t, f.store.Cancel(ctx, id))
		ids = append(ids, id)
		f.clock.Add(time.Second)
	}

	hist, err := f.store.History(ctx, owner)
	require.NoError(t, err)
	require.Len(t, hist, n)
	for i, tx := range hist {
		assert.Equal(t, ids[len(ids)-1-i], tx.ID)
	}

	persisted, err := f.mem.History(ctx, owner, n+50)
	require.NoError(t, err)
	assert.Len(t, persisted, n)
}

func TestLoad_RestoresActiveSet(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	pending := f.initiate(t)
	cancelled := f.initiate(t)
	require.NoError(t, f.store.Cancel(ctx, cancelled))

	restarted := New(newDeps(t, f.mem, events.NewBus(nil, zerolog.Nop()), f.clock), Options{})
	require.NoError(t, restarted.Load(ctx))

	active := restarted.ActiveSnapshot()
	require.Len(t, active, 1)
	assert.Equal(t, pending, active[0].ID)

	hist, err := restarted.History(ctx, owner)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, cancelled, hist[0].ID)
	assert.Equal(t, []string{owner}, restarted.Owners())

	// terminal records are still reachable
	tx, err := restarted.Get(ctx, cancelled)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, tx.Status)
}

func TestConcurrentInitiateAndSnapshot(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := f.store.Initiate(ctx, config.CHAIN_POLYGON, config.CHAIN_ARBITRUM, "USDC", "5", owner)
				assert.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				for _, tx := range f.store.ActiveSnapshot() {
					_, _ = f.store.Transition(ctx, tx.ID, types.StatusPending, types.StatusConfirmed, nil)
				}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, f.store.ActiveSnapshot(), 80)
	hist, err := f.store.History(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, hist, 80)
}

// returnsWithin fails the test when fn blocks longer than d.
func returnsWithin(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("call did not return within %s", d)
	}
}

func TestInitiate_SubscriberCancels(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	var cancelErr error
	f.bus.Subscribe(func(ev events.Event) {
		if ev.Type == events.TypeInitiated {
			cancelErr = f.store.Cancel(ctx, ev.TransactionID)
		}
	})

	var (
		id  string
		err error
	)
	returnsWithin(t, 2*time.Second, func() {
		id, err = f.store.Initiate(ctx, config.CHAIN_ETHEREUM, config.CHAIN_POLYGON, "USDC", "100", owner)
	})
	require.NoError(t, err)
	require.NoError(t, cancelErr)
	assert.Equal(t, types.StatusFailed, f.status(t, id).Status)

	seen := f.seen()
	require.Len(t, seen, 2)
	assert.Equal(t, events.TypeInitiated, seen[0].Type)
	assert.Equal(t, events.TypeStatusChanged, seen[1].Type)
	assert.Equal(t, types.StatusFailed, seen[1].NewStatus)
}

func TestTransition_SubscriberTransitionsAgain(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	id := f.initiate(t)

	f.bus.Subscribe(func(ev events.Event) {
		if ev.NewStatus == types.StatusConfirmed {
			_, err := f.store.Transition(ctx, ev.TransactionID, types.StatusConfirmed, types.StatusCompleted, nil)
			assert.NoError(t, err)
		}
	})

	returnsWithin(t, 2*time.Second, func() {
		_, err := f.store.Transition(ctx, id, types.StatusPending, types.StatusConfirmed, nil)
		assert.NoError(t, err)
	})

	var statuses []types.Status
	for _, ev := range f.seen() {
		statuses = append(statuses, ev.NewStatus)
	}
	assert.Equal(t, []types.Status{types.StatusPending, types.StatusConfirmed, types.StatusCompleted}, statuses)
	assert.Equal(t, types.StatusCompleted, f.status(t, id).Status)
}

func TestHistory_EvictedActiveRecordDroppedWhenTerminal(t *testing.T) {
	f := newFixture(t, Options{HistoryLimit: 2})
	ctx := context.Background()

	first := f.initiate(t)
	f.initiate(t)
	f.initiate(t)

	// trimmed from the history but still tracked while active
	require.NotNil(t, f.store.lookup(first))
	assert.Len(t, f.store.ActiveSnapshot(), 3)

	require.NoError(t, f.store.Cancel(ctx, first))
	assert.Nil(t, f.store.lookup(first))
	assert.Empty(t, f.store.evicted)
	_, err := f.mem.Get(ctx, first)
	assert.ErrorIs(t, err, types.ErrNotFound)

	hist, err := f.store.History(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}
