package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gobridgetracker/types"
)

// Persistence is the durable side of the store. redis.Client implements it.
type Persistence interface {
	// Create writes a new record, marks it active and pushes it onto the
	// owner's history, trimming the history to historyLimit.
	Create(ctx context.Context, tx *types.BridgeTransaction, historyLimit int) error
	// Put overwrites an existing record. A terminal record no longer in its
	// owner's history is deleted instead.
	Put(ctx context.Context, tx *types.BridgeTransaction) error
	Get(ctx context.Context, id string) (*types.BridgeTransaction, error)
	Active(ctx context.Context) ([]*types.BridgeTransaction, error)
	History(ctx context.Context, owner string, limit int) ([]*types.BridgeTransaction, error)
}

// Memory is a Persistence kept in process, for tests and single-run setups.
type Memory struct {
	mu      sync.Mutex
	records map[string]types.BridgeTransaction
	history map[string][]string

	failWrites int
	writes     int
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]types.BridgeTransaction),
		history: make(map[string][]string),
	}
}

var errInjected = errors.New("injected write failure")

// FailWrites makes the next n Create or Put calls fail.
func (m *Memory) FailWrites(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = n
}

// Writes counts Create and Put attempts, failed ones included.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) fail() error {
	m.writes++
	if m.failWrites > 0 {
		m.failWrites--
		return errInjected
	}
	return nil
}

func (m *Memory) Create(_ context.Context, tx *types.BridgeTransaction, historyLimit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	m.records[tx.ID] = *tx

	list := append([]string{tx.ID}, m.history[tx.OwnerAddress]...)
	if len(list) > historyLimit {
		for _, id := range list[historyLimit:] {
			if rec, ok := m.records[id]; ok && rec.Status.Terminal() {
				delete(m.records, id)
			}
		}
		list = list[:historyLimit]
	}
	m.history[tx.OwnerAddress] = list
	return nil
}

func (m *Memory) Put(_ context.Context, tx *types.BridgeTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	if tx.Status.Terminal() && !m.listed(tx.OwnerAddress, tx.ID) {
		delete(m.records, tx.ID)
		return nil
	}
	m.records[tx.ID] = *tx
	return nil
}

func (m *Memory) listed(owner, id string) bool {
	for _, h := range m.history[owner] {
		if h == id {
			return true
		}
	}
	return false
}

func (m *Memory) Get(_ context.Context, id string) (*types.BridgeTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	return &rec, nil
}

func (m *Memory) Active(context.Context) ([]*types.BridgeTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.BridgeTransaction
	for _, rec := range m.records {
		if !rec.Status.Terminal() {
			rec := rec
			out = append(out, &rec)
		}
	}
	return out, nil
}

func (m *Memory) History(_ context.Context, owner string, limit int) ([]*types.BridgeTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.BridgeTransaction
	for _, id := range m.history[owner] {
		if len(out) == limit {
			break
		}
		if rec, ok := m.records[id]; ok {
			out = append(out, &rec)
		}
	}
	return out, nil
}
