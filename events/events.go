// Package events is the typed publish/subscribe channel for lifecycle notifications.
package events

import (
	"sort"
	"sync"
	"time"

	"gobridgetracker/metrics"
	"gobridgetracker/types"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

type Type string

const (
	TypeInitiated     Type = "bridge.initiated"
	TypeStatusChanged Type = "bridge.status_changed"
)

type Event struct {
	Type          Type                    `json:"type"`
	TransactionID string                  `json:"transactionId"`
	OldStatus     types.Status            `json:"oldStatus,omitempty"`
	NewStatus     types.Status            `json:"newStatus,omitempty"`
	Transaction   types.BridgeTransaction `json:"transaction"`
	Time          time.Time               `json:"time"`
}

func Initiated(tx types.BridgeTransaction) Event {
	return Event{
		Type:          TypeInitiated,
		TransactionID: tx.ID,
		NewStatus:     tx.Status,
		Transaction:   tx,
		Time:          tx.CreatedAt,
	}
}

func StatusChanged(old types.Status, tx types.BridgeTransaction) Event {
	return Event{
		Type:          TypeStatusChanged,
		TransactionID: tx.ID,
		OldStatus:     old,
		NewStatus:     tx.Status,
		Transaction:   tx,
		Time:          tx.UpdatedAt,
	}
}

// Bus delivers every published event to each subscriber synchronously, in
// subscription order. Subscribers must not block.
type Bus struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]func(Event)
	dropped *atomic.Uint64
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewBus(m *metrics.Metrics, logger zerolog.Logger) *Bus {
	return &Bus{
		subs:    make(map[uint64]func(Event)),
		dropped: atomic.NewUint64(0),
		metrics: m,
		logger:  logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers fn and returns the function removing it.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Stream subscribes a buffered channel. Events arriving while the buffer is
// full are dropped and counted. The channel is closed by cancel.
func (b *Bus) Stream(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	var (
		mu     sync.Mutex
		closed bool
	)
	unsubscribe := b.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		default:
			b.dropped.Inc()
			b.metrics.RecordEventDropped()
			b.logger.Warn().Str("type", string(ev.Type)).Str("id", ev.TransactionID).Msg("stream full, event dropped")
		}
	})

	cancel := func() {
		unsubscribe()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
	return ch, cancel
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		b.deliver(fn, ev)
	}
}

func (b *Bus) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("type", string(ev.Type)).Msg("subscriber panicked")
		}
	}()
	fn(ev)
}

// Dropped is the number of events lost on full streams.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
