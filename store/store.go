// Package store keeps every bridge transaction, active and historical, in
// memory over a durable Persistence.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gobridgetracker/events"
	"gobridgetracker/identity"
	"gobridgetracker/metrics"
	"gobridgetracker/types"

	"github.com/andres-erbsen/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type RouteValidator interface {
	ValidateRoute(source, destination int, token string) error
}

type FeeQuoter interface {
	Estimate(ctx context.Context, source, destination int, token, amount string) (types.FeeEstimate, error)
}

type EventPublisher interface {
	Publish(ev events.Event)
}

type Options struct {
	HistoryLimit int
	WriteRetries int
	RetryDelay   time.Duration
}

type Deps struct {
	Routes      RouteValidator
	Fees        FeeQuoter
	Persistence Persistence
	Events      EventPublisher
	Clock       clock.Clock
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

type entry struct {
	mu sync.Mutex // serializes changes of tx and the outbox
	tx types.BridgeTransaction

	// events of the record, in transition order, not yet delivered
	outbox   []events.Event
	draining bool
}

// enqueue must be called with e.mu held. It reports whether the caller has to
// drain the outbox.
func (e *entry) enqueue(ev events.Event) bool {
	e.outbox = append(e.outbox, ev)
	if e.draining {
		return false
	}
	e.draining = true
	return true
}

func (e *entry) snapshot() types.BridgeTransaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tx
}

// Store is safe for concurrent use. Lock order is entry before store, the
// store lock is never held while acquiring an entry.
type Store struct {
	mu      sync.RWMutex
	records map[string]*entry
	active  map[string]struct{}
	history map[string][]string // owner -> ids, most recent first
	loaded  map[string]bool     // owners whose history was read from persistence
	evicted map[string]struct{} // active ids trimmed from their history

	routes  RouteValidator
	fees    FeeQuoter
	persist Persistence
	events  EventPublisher
	clock   clock.Clock
	opts    Options
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func New(deps Deps, opts Options) *Store {
	if opts.HistoryLimit < 1 {
		opts.HistoryLimit = 100
	}
	if opts.WriteRetries < 0 {
		opts.WriteRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Persistence == nil {
		deps.Persistence = NewMemory()
	}
	return &Store{
		records: make(map[string]*entry),
		active:  make(map[string]struct{}),
		history: make(map[string][]string),
		loaded:  make(map[string]bool),
		evicted: make(map[string]struct{}),
		routes:  deps.Routes,
		fees:    deps.Fees,
		persist: deps.Persistence,
		events:  deps.Events,
		clock:   deps.Clock,
		opts:    opts,
		metrics: deps.Metrics,
		logger:  deps.Logger.With().Str("component", "store").Logger(),
	}
}

// Initiate validates and prices the route, then persists a new pending
// transaction for owner and returns its id. Nothing is recorded on failure.
func (s *Store) Initiate(ctx context.Context, source, destination int, token, amount, owner string) (string, error) {
	return s.initiate(ctx, types.Route{Source: source, Destination: destination, Token: token}, amount, owner, "")
}

func (s *Store) initiate(ctx context.Context, route types.Route, amount, owner, retryOf string) (string, error) {
	owner, err := identity.NormalizeAddress(owner)
	if err != nil {
		return "", err
	}
	if err := s.routes.ValidateRoute(route.Source, route.Destination, route.Token); err != nil {
		return "", err
	}
	est, err := s.fees.Estimate(ctx, route.Source, route.Destination, route.Token, amount)
	if err != nil {
		return "", err
	}
	if err := s.ensureHistory(ctx, owner); err != nil {
		return "", err
	}

	now := s.clock.Now().UTC()
	id := uuid.NewString()
	tx := types.BridgeTransaction{
		ID:                id,
		SourceChain:       route.Source,
		DestinationChain:  route.Destination,
		Token:             route.Token,
		Amount:            amount,
		Status:            types.StatusPending,
		SourceTxHash:      sourceTxHash(id, route.Source, owner),
		EstimatedDuration: est.EstimatedDuration,
		Fees:              est.Fees(),
		CreatedAt:         now,
		UpdatedAt:         now,
		OwnerAddress:      owner,
		RetryOf:           retryOf,
	}

	err = s.write(ctx, func(ctx context.Context) error {
		return s.persist.Create(ctx, &tx, s.opts.HistoryLimit)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("owner", owner).Msg("cannot persist new bridge transaction")
		return "", err
	}

	// initiated is queued before the record is reachable, so it goes out
	// before any status change
	e := &entry{tx: tx}
	e.enqueue(events.Initiated(tx))

	s.mu.Lock()
	s.records[id] = e
	s.active[id] = struct{}{}
	s.pushHistory(owner, id)
	n := len(s.active)
	s.mu.Unlock()

	s.metrics.RecordInitiated(route.Source, route.Destination, route.Token)
	s.metrics.SetActive(n)
	s.logger.Info().
		Str("id", id).
		Int("source", route.Source).
		Int("destination", route.Destination).
		Str("token", route.Token).
		Str("amount", amount).
		Str("retry_of", retryOf).
		Msg("bridge initiated")
	s.drain(e)
	return id, nil
}

// pushHistory must be called with s.mu held.
func (s *Store) pushHistory(owner, id string) {
	list := append([]string{id}, s.history[owner]...)
	if len(list) > s.opts.HistoryLimit {
		for _, old := range list[s.opts.HistoryLimit:] {
			if _, active := s.active[old]; active {
				s.evicted[old] = struct{}{}
			} else {
				delete(s.records, old)
			}
		}
		list = list[:s.opts.HistoryLimit]
	}
	s.history[owner] = list
}

func sourceTxHash(id string, source int, owner string) string {
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("%s:%d:%s", id, source, owner))).Hex()
}

func (s *Store) ensureHistory(ctx context.Context, owner string) error {
	s.mu.RLock()
	done := s.loaded[owner]
	s.mu.RUnlock()
	if done {
		return nil
	}

	txs, err := s.persist.History(ctx, owner, s.opts.HistoryLimit)
	if err != nil {
		return fmt.Errorf("%w: load history of %s: %w", types.ErrPersistence, owner, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded[owner] {
		return nil
	}
	ids := make([]string, 0, len(txs))
	for _, tx := range txs {
		if _, ok := s.records[tx.ID]; !ok {
			s.records[tx.ID] = &entry{tx: *tx}
			if !tx.Status.Terminal() {
				s.active[tx.ID] = struct{}{}
			}
		}
		ids = append(ids, tx.ID)
	}
	s.history[owner] = ids
	s.loaded[owner] = true
	return nil
}

// History returns the most recent transactions of owner, newest first.
func (s *Store) History(ctx context.Context, owner string) ([]types.BridgeTransaction, error) {
	owner, err := identity.NormalizeAddress(owner)
	if err != nil {
		return nil, err
	}
	if err := s.ensureHistory(ctx, owner); err != nil {
		return nil, err
	}

	s.mu.RLock()
	ids := s.history[owner]
	entries := make([]*entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.records[id]; ok {
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()

	out := make([]types.BridgeTransaction, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	return out, nil
}

// Owners lists the owners whose history is held in memory.
func (s *Store) Owners() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owners := make([]string, 0, len(s.history))
	for owner := range s.history {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners
}

func (s *Store) HistoryLimit() int {
	return s.opts.HistoryLimit
}

func (s *Store) lookup(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id]
}

// entryFor falls back to persistence for records not held in memory. Terminal
// records read this way are not cached.
func (s *Store) entryFor(ctx context.Context, id string) (*entry, error) {
	if e := s.lookup(id); e != nil {
		return e, nil
	}
	tx, err := s.persist.Get(ctx, id)
	if errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", types.ErrPersistence, id, err)
	}

	e := &entry{tx: *tx}
	if tx.Status.Terminal() {
		return e, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[id]; ok {
		return existing, nil
	}
	s.records[id] = e
	s.active[id] = struct{}{}
	return e, nil
}

func (s *Store) Get(ctx context.Context, id string) (types.BridgeTransaction, error) {
	e, err := s.entryFor(ctx, id)
	if err != nil {
		return types.BridgeTransaction{}, err
	}
	return e.snapshot(), nil
}

// ActiveSnapshot copies the non-terminal transactions, oldest first.
func (s *Store) ActiveSnapshot() []types.BridgeTransaction {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.active))
	for id := range s.active {
		if e, ok := s.records[id]; ok {
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()

	out := make([]types.BridgeTransaction, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Transition moves id from status from to status to, if the record is still in
// from. mutate may fill in fields of the new version, it cannot change the
// status. The change is persisted before Transition returns. Its event is
// delivered before Transition returns too, unless another call is already
// delivering events of the record, such as a subscriber transitioning the
// record it was notified about. That call delivers it next, in order.
//
// A write failing after all retries does not undo the transition: the record
// is marked persistence_failed and the returned error wraps types.ErrPersistence.
func (s *Store) Transition(ctx context.Context, id string, from, to types.Status, mutate func(tx *types.BridgeTransaction)) (types.BridgeTransaction, error) {
	e, err := s.entryFor(ctx, id)
	if err != nil {
		return types.BridgeTransaction{}, err
	}

	e.mu.Lock()
	current := e.tx
	if current.Status != from {
		e.mu.Unlock()
		return current, fmt.Errorf("%w: %s is %s, not %s", types.ErrInvalidState, id, current.Status, from)
	}
	if !types.CanTransition(from, to) {
		e.mu.Unlock()
		return current, fmt.Errorf("%w: %s cannot go from %s to %s", types.ErrInvalidState, id, from, to)
	}

	next := current
	next.UpdatedAt = s.clock.Now().UTC()
	if mutate != nil {
		mutate(&next)
	}
	next.ID = current.ID
	next.Status = to
	if to != types.StatusCompleted {
		next.DestinationTxHash = ""
	}

	werr := s.write(ctx, func(ctx context.Context) error {
		rec := next
		return s.persist.Put(ctx, &rec)
	})
	if werr != nil {
		next.Condition = types.ConditionPersistenceFailed
		next.LastError = werr.Error()
		s.logger.Error().Err(werr).Str("id", id).Str("status", string(to)).Msg("transition kept in memory only")
	} else {
		next.Condition = types.ConditionNone
		next.LastError = ""
	}
	e.tx = next
	drain := e.enqueue(events.StatusChanged(from, next))
	e.mu.Unlock()

	if to.Terminal() {
		s.mu.Lock()
		delete(s.active, id)
		if _, ok := s.evicted[id]; ok {
			delete(s.evicted, id)
			delete(s.records, id)
		}
		n := len(s.active)
		s.mu.Unlock()
		s.metrics.SetActive(n)
	}
	s.metrics.RecordTransition(string(from), string(to))
	s.logger.Info().Str("id", id).Str("from", string(from)).Str("to", string(to)).Msg("status changed")
	if drain {
		s.drain(e)
	}
	return next, werr
}

// Cancel fails a pending transaction. Any other status is types.ErrInvalidState.
func (s *Store) Cancel(ctx context.Context, id string) error {
	_, err := s.Transition(ctx, id, types.StatusPending, types.StatusFailed, func(tx *types.BridgeTransaction) {
		tx.FailureReason = types.FailureCancelled
	})
	return err
}

// RetryFailed initiates a new transaction with the parameters of a failed one.
// The failed record is left as it is.
func (s *Store) RetryFailed(ctx context.Context, id string) (string, error) {
	tx, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if tx.Status != types.StatusFailed {
		return "", fmt.Errorf("%w: %s is %s, only failed transactions can be retried", types.ErrInvalidState, id, tx.Status)
	}
	return s.initiate(ctx, tx.Route(), tx.Amount, tx.OwnerAddress, tx.ID)
}

// Resync writes a record marked persistence_failed again.
func (s *Store) Resync(ctx context.Context, id string) error {
	e := s.lookup(id)
	if e == nil {
		return fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tx.Condition != types.ConditionPersistenceFailed {
		return nil
	}
	rec := e.tx
	err := s.write(ctx, func(ctx context.Context) error {
		return s.persist.Put(ctx, &rec)
	})
	if err != nil {
		e.tx.LastError = err.Error()
		return err
	}
	e.tx.Condition = types.ConditionNone
	e.tx.LastError = ""
	s.logger.Info().Str("id", id).Msg("record resynced")
	return nil
}

// Unpersisted lists the records whose last write failed.
func (s *Store) Unpersisted() []types.BridgeTransaction {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.records))
	for _, e := range s.records {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []types.BridgeTransaction
	for _, e := range entries {
		if tx := e.snapshot(); tx.Condition == types.ConditionPersistenceFailed {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Flush re-attempts every unpersisted record.
func (s *Store) Flush(ctx context.Context) error {
	var errs []error
	for _, tx := range s.Unpersisted() {
		if err := s.Resync(ctx, tx.ID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", tx.ID, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Load restores the active set from persistence.
func (s *Store) Load(ctx context.Context) error {
	txs, err := s.persist.Active(ctx)
	if err != nil {
		return fmt.Errorf("%w: load active set: %w", types.ErrPersistence, err)
	}

	s.mu.Lock()
	for _, tx := range txs {
		if tx.Status.Terminal() {
			continue
		}
		if _, ok := s.records[tx.ID]; !ok {
			s.records[tx.ID] = &entry{tx: *tx}
		}
		s.active[tx.ID] = struct{}{}
	}
	n := len(s.active)
	s.mu.Unlock()

	s.metrics.SetActive(n)
	s.logger.Info().Int("active", n).Msg("active set loaded")
	return nil
}

// write runs op with bounded exponential retries.
func (s *Store) write(ctx context.Context, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryDelay
	b.MaxInterval = 10 * s.opts.RetryDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.opts.WriteRetries)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		if attempt > 0 {
			s.metrics.RecordPersistRetry()
		}
		attempt++
		return op(ctx)
	}, policy)
	if err != nil {
		s.metrics.RecordPersistFailure()
		return fmt.Errorf("%w: after %d attempts: %w", types.ErrPersistence, attempt, err)
	}
	return nil
}

// drain publishes the outbox of e with no lock held, so subscribers may call
// back into the store. Events queued meanwhile are published by this call.
func (s *Store) drain(e *entry) {
	for {
		e.mu.Lock()
		if len(e.outbox) == 0 {
			e.draining = false
			e.mu.Unlock()
			return
		}
		ev := e.outbox[0]
		e.outbox = e.outbox[1:]
		e.mu.Unlock()

		if s.events != nil {
			s.events.Publish(ev)
		}
	}
}
