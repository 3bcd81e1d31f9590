// Package publisher owns the bounded publish queue and the single goroutine
// that moves enriched events from it to the broker.
package publisher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/hookd/internal/runtime/config"
	"github.com/drblury/hookd/internal/runtime/envelope"
	errspkg "github.com/drblury/hookd/internal/runtime/errors"
	"github.com/drblury/hookd/internal/runtime/ids"
	"github.com/drblury/hookd/internal/runtime/logging"
	"github.com/drblury/hookd/internal/runtime/metadata"
	"github.com/drblury/hookd/internal/runtime/metrics"
	"github.com/drblury/hookd/internal/runtime/transport"
)

const tracerName = "github.com/drblury/hookd/publisher"

// Stats is a point-in-time copy of the publisher counters.
type Stats struct {
	Submitted     uint64 `json:"submitted"`
	Dropped       uint64 `json:"dropped"`
	Published     uint64 `json:"published"`
	PublishErrors uint64 `json:"publish_errors"`
	Reconnects    uint64 `json:"reconnects"`
}

// Publisher buffers events and publishes them in submission order.
type Publisher struct {
	dialer  transport.Dialer
	logger  logging.ServiceLogger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	backoff time.Duration
	system  string

	// mu guards closed and sends on queue so Submit never races Stop.
	mu       sync.RWMutex
	closed   bool
	queue    chan *envelope.ToolMutationEvent
	stopping chan struct{}

	state     atomic.Int32
	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	done      chan struct{}

	submitted     atomic.Uint64
	dropped       atomic.Uint64
	published     atomic.Uint64
	publishErrors atomic.Uint64
	reconnects    atomic.Uint64
}

// Option customises a Publisher.
type Option func(*Publisher)

// WithBackoff sets the fixed wait between reconnect attempts.
func WithBackoff(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.backoff = d
		}
	}
}

// WithMetrics reports queue and broker activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithMessagingSystem names the broker on publish spans (default "rabbitmq").
func WithMessagingSystem(system string) Option {
	return func(p *Publisher) {
		if system != "" {
			p.system = system
		}
	}
}

// New creates a stopped-until-started publisher with a queue of capacity
// events. Capacity below one is raised to one.
func New(dialer transport.Dialer, capacity int, logger logging.ServiceLogger, opts ...Option) *Publisher {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = logging.NewNopServiceLogger()
	}
	p := &Publisher{
		dialer:   dialer,
		logger:   logger.With(logging.LogFields{"component": "publisher"}),
		metrics:  metrics.OrNew(nil),
		tracer:   otel.Tracer(tracerName),
		system:   "rabbitmq",
		backoff:  config.DefaultReconnectBackoff,
		queue:    make(chan *envelope.ToolMutationEvent, capacity),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.setState(StateDisconnected)
	return p
}

// Submit enqueues event without blocking. It returns false, and the event is
// dropped, when the queue is full or the publisher has been stopped.
func (p *Publisher) Submit(event *envelope.ToolMutationEvent) bool {
	if event == nil {
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.drop(event, errspkg.ErrPublisherStopped)
		return false
	}
	select {
	case p.queue <- event:
		p.submitted.Add(1)
		p.metrics.Submitted.Inc()
		p.metrics.QueueDepth.Set(float64(len(p.queue)))
		return true
	default:
		p.drop(event, errspkg.ErrQueueFull)
		return false
	}
}

func (p *Publisher) drop(event *envelope.ToolMutationEvent, reason error) {
	p.dropped.Add(1)
	p.metrics.Dropped.Inc()
	p.logger.Warn("Dropping event", logging.LogFields{
		"reason":         reason.Error(),
		"event_type":     event.EventType,
		"correlation_id": event.CorrelationID,
		"capacity":       cap(p.queue),
	})
}

// Start launches the publish loop. Later calls are no-ops. Cancelling ctx
// ends the loop without draining the queue.
func (p *Publisher) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.started.Store(true)
		go p.run(ctx)
	})
}

// Stop closes the queue and waits for the loop to publish what it can. If
// the broker is unreachable the remaining events are dropped.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		close(p.stopping)
		p.mu.Unlock()
	})
	if p.started.Load() {
		<-p.done
		return
	}
	p.setState(StateStopped)
}

// State reports the current lifecycle state.
func (p *Publisher) State() State {
	return State(p.state.Load())
}

// Stats returns the counters accumulated since New.
func (p *Publisher) Stats() Stats {
	return Stats{
		Submitted:     p.submitted.Load(),
		Dropped:       p.dropped.Load(),
		Published:     p.published.Load(),
		PublishErrors: p.publishErrors.Load(),
		Reconnects:    p.reconnects.Load(),
	}
}

// Len is the number of queued events.
func (p *Publisher) Len() int {
	return len(p.queue)
}

func (p *Publisher) setState(s State) {
	p.state.Store(int32(s))
	p.metrics.PublisherState.Set(float64(s))
}

func (p *Publisher) run(ctx context.Context) {
	defer close(p.done)
	defer p.setState(StateStopped)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			p.reconnects.Add(1)
			p.metrics.Reconnects.Inc()
		}

		p.setState(StateConnecting)
		pub, err := p.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.failed("Broker connection failed", err)
			if !p.wait(ctx) {
				return
			}
			continue
		}

		p.setState(StateExchangeDeclared)
		p.logger.Info("Connected to broker", nil)

		finished, err := p.drain(ctx, pub)
		if closeErr := pub.Close(); closeErr != nil {
			p.logger.Debug("Closing publisher failed", logging.LogFields{"error": closeErr.Error()})
		}
		if finished {
			return
		}

		p.setState(StateDisconnected)
		p.failed("Publish failed", err)
		if !p.wait(ctx) {
			return
		}
	}
}

func (p *Publisher) failed(msg string, err error) {
	p.publishErrors.Add(1)
	p.metrics.PublishErrors.Inc()
	p.logger.Error(msg, err, logging.LogFields{"retry_in": p.backoff.String()})
}

// wait sleeps for the backoff. It reports false when the loop should exit
// instead of redialling.
func (p *Publisher) wait(ctx context.Context) bool {
	timer := time.NewTimer(p.backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-p.stopping:
		p.discardQueued()
		return false
	case <-timer.C:
		return true
	}
}

func (p *Publisher) discardQueued() {
	n := 0
	for range p.queue {
		n++
		p.dropped.Add(1)
		p.metrics.Dropped.Inc()
	}
	p.metrics.QueueDepth.Set(0)
	if n > 0 {
		p.logger.Warn("Broker unavailable at shutdown, dropping queued events", logging.LogFields{"count": n})
	}
}

// drain publishes until the queue is closed and empty or ctx is done, which
// it reports as finished. A publish error ends the drain with finished false.
func (p *Publisher) drain(ctx context.Context, pub message.Publisher) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case event, ok := <-p.queue:
			if !ok {
				return true, nil
			}
			p.metrics.QueueDepth.Set(float64(len(p.queue)))
			if err := p.publish(ctx, pub, event); err != nil {
				p.logger.Warn("Event lost during broker failure", logging.LogFields{
					"event_type":     event.EventType,
					"correlation_id": event.CorrelationID,
				})
				return false, err
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, pub message.Publisher, event *envelope.ToolMutationEvent) error {
	ctx, span := p.tracer.Start(ctx, "hookd.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", p.system),
			attribute.String("messaging.destination.name", event.EventType),
			attribute.String("hookd.correlation_id", event.CorrelationID),
		),
	)
	defer span.End()

	payload, err := event.Marshal()
	if err != nil {
		// Not a broker problem; skip the event and keep the connection.
		span.RecordError(err)
		p.dropped.Add(1)
		p.metrics.Dropped.Inc()
		p.logger.Error("Failed to encode event", err, logging.LogFields{"correlation_id": event.CorrelationID})
		return nil
	}

	msg := NewMessage(event, payload)
	msg.SetContext(ctx)

	p.setState(StatePublishing)
	if err := pub.Publish(event.EventType, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: publish %s: %w", errspkg.ErrBrokerConnection, event.EventType, err)
	}

	p.published.Add(1)
	p.metrics.Published.Inc()
	p.logger.Trace("Event published", logging.LogFields{
		"message_id":     msg.UUID,
		"event_type":     event.EventType,
		"correlation_id": event.CorrelationID,
	})
	return nil
}

// NewMessage wraps an encoded event in a Watermill message with a ULID id and
// the routing headers consumers filter on.
func NewMessage(event *envelope.ToolMutationEvent, payload []byte) *message.Message {
	msg := message.NewMessage(ids.CreateULID(), payload)
	md := metadata.New(
		metadata.KeyCorrelationID, event.CorrelationID,
		metadata.KeyAgentID, event.AgentID,
		metadata.KeyHookType, event.HookType,
		metadata.KeyToolName, event.ToolName,
		metadata.KeyGitRoot, event.Repo.GitRoot,
		metadata.KeyBranch, event.Repo.Branch,
	)
	if event.Repo.RemoteURL != nil {
		md = md.With(metadata.KeyRemoteURL, *event.Repo.RemoteURL)
	}
	if event.FileExt != nil {
		md = md.With(metadata.KeyFileExt, *event.FileExt)
	}
	md.ApplyTo(msg)
	return msg
}
