package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gobridgetracker/metrics"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	StreamName      = "BRIDGE"
	StreamSubjects  = "bridge.>"
	StreamRetention = 7 * 24 * time.Hour
)

// Publisher sends a single event to an external broker.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// JetStreamPublisher publishes events to subject <event type> of stream BRIDGE.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger zerolog.Logger
}

// NewJetStreamPublisher connects to NATS and ensures the stream exists.
func NewJetStreamPublisher(natsURL string, logger zerolog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("gobridgetracker"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &JetStreamPublisher{
		nc:     nc,
		js:     js,
		logger: logger.With().Str("component", "nats").Logger(),
	}
	if err := p.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	p.logger.Info().Str("url", natsURL).Str("stream", StreamName).Msg("NATS publisher initialized")
	return p, nil
}

func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := p.js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	p.logger.Info().Str("stream", StreamName).Msg("creating JetStream stream")
	_, err := p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Bridge transaction lifecycle events",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

func (p *JetStreamPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := p.js.Publish(ctx, string(ev.Type), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	p.logger.Debug().Str("subject", string(ev.Type)).Str("id", ev.TransactionID).Msg("published event")
	return nil
}

func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info().Msg("NATS publisher closed")
	}
	return nil
}

// Sink forwards bus events to a Publisher from its own goroutine so that slow
// brokers never stall a publishing transition.
type Sink struct {
	publisher Publisher
	events    <-chan Event
	cancel    func()
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

func NewSink(bus *Bus, publisher Publisher, buffer int, m *metrics.Metrics, logger zerolog.Logger) *Sink {
	ch, cancel := bus.Stream(buffer)
	return &Sink{
		publisher: publisher,
		events:    ch,
		cancel:    cancel,
		timeout:   5 * time.Second,
		metrics:   m,
		logger:    logger.With().Str("component", "event_sink").Logger(),
	}
}

// Run forwards until ctx is done or Stop is called. Either way the stream is
// closed and the events still buffered are forwarded before Run returns.
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.cancel()
			n := 0
			for ev := range s.events {
				s.forward(ctx, ev)
				n++
			}
			s.logger.Info().Int("drained", n).Msg("event sink stopped")
			return nil
		case ev, ok := <-s.events:
			if !ok {
				s.logger.Info().Msg("event sink stopped")
				return nil
			}
			s.forward(ctx, ev)
		}
	}
}

func (s *Sink) Stop() {
	s.cancel()
}

func (s *Sink) forward(ctx context.Context, ev Event) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	err := s.publisher.Publish(pctx, ev)
	s.metrics.RecordEventForwarded(string(ev.Type), err)
	if err != nil {
		s.logger.Error().Err(err).Str("type", string(ev.Type)).Str("id", ev.TransactionID).Msg("failed to forward event")
	}
}
