package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/hongminglow/pipeline-crm/internal/metrics"
)

// Handler reacts to a published event. Errors are logged, never returned to
// the publisher.
type Handler func(ctx context.Context, ev Event) error

// Sink forwards every event to an external broker.
type Sink interface {
	Forward(ctx context.Context, ev Event) error
	Close() error
}

// Bus is an in-process publish/subscribe hub. Publish returns immediately;
// each subscriber runs on its own goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	sinks    []Sink
	closed   bool
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe adds a handler for a topic.
func (b *Bus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// AddSink registers a broker that receives every event.
func (b *Bus) AddSink(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// Publish hands the event to every subscriber of its topic and to every sink.
// Handlers outlive the publisher's context but keep its values.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Warn("event dropped after close", zap.String("topic", ev.Topic))
		return
	}

	metrics.EventsPublished.WithLabelValues(ev.Topic).Inc()
	detached := context.WithoutCancel(ctx)
	for _, handler := range b.handlers[ev.Topic] {
		b.wg.Add(1)
		go b.run(detached, ev, "handler", handler)
	}
	for _, sink := range b.sinks {
		b.wg.Add(1)
		go b.run(detached, ev, "sink", sink.Forward)
	}
}

func (b *Bus) run(ctx context.Context, ev Event, kind string, fn Handler) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event "+kind+" panicked", zap.String("topic", ev.Topic), zap.Any("panic", r))
		}
	}()
	if err := fn(ctx, ev); err != nil {
		b.logger.Error("event "+kind+" failed", zap.String("topic", ev.Topic), zap.Error(err))
	}
}

// Close stops accepting events, waits for in-flight handlers and closes sinks.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	sinks := b.sinks
	b.mu.Unlock()

	b.wg.Wait()
	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			b.logger.Warn("close event sink", zap.Error(err))
		}
	}
}
