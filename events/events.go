package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/uridolan77/Aigent-sub001/types"
)

// TopicStatusUpdated carries every workflow status snapshot published by the
// engine: run start, each step transition, and the terminal state.
const TopicStatusUpdated = "workflow.status.updated"

var (
	// ErrBusClosed indicates the status bus has been stopped.
	ErrBusClosed = errors.New("status bus is closed")
	// ErrChannelFull indicates the buffer is full and the event was dropped.
	ErrChannelFull = errors.New("status channel is full")
	// ErrNoHandler indicates no handlers are subscribed to the topic.
	ErrNoHandler = errors.New("no handlers subscribed for topic")
)

// StatusEvent is one published status snapshot.
type StatusEvent struct {
	Topic  string
	Status types.WorkflowStatus
}

// Sink is the boundary the engine publishes through. Publication is
// fire-and-forget from the run's perspective: a slow or failing sink must
// never stall step execution.
type Sink interface {
	Publish(ctx context.Context, event StatusEvent) error
}

// Handler consumes status events.
type Handler interface {
	Handle(ctx context.Context, event StatusEvent) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event StatusEvent) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, event StatusEvent) error {
	return f(ctx, event)
}

// StatusBus is an asynchronous, topic-keyed Sink implementation. Events are
// buffered on a channel and delivered by a single processor goroutine;
// Publish never blocks.
type StatusBus struct {
	handlers     map[string][]Handler
	mu           sync.RWMutex
	eventCh      chan StatusEvent
	errHandler   func(event StatusEvent, err error)
	errHandlerMu sync.RWMutex
	wg           sync.WaitGroup
	closed       bool
	closeMu      sync.RWMutex
}

// BusOption configures a StatusBus.
type BusOption func(*StatusBus)

// WithBufferSize sets the event channel buffer size.
func WithBufferSize(size int) BusOption {
	return func(b *StatusBus) {
		b.eventCh = make(chan StatusEvent, size)
	}
}

// WithErrorHandler sets the handler invoked when a subscriber fails.
func WithErrorHandler(handler func(event StatusEvent, err error)) BusOption {
	return func(b *StatusBus) {
		b.errHandlerMu.Lock()
		defer b.errHandlerMu.Unlock()
		b.errHandler = handler
	}
}

// NewStatusBus creates a StatusBus and starts its processor goroutine.
// The default buffer holds 100 events; overflow is reported as
// ErrChannelFull rather than blocking the publisher.
func NewStatusBus(options ...BusOption) *StatusBus {
	b := &StatusBus{
		handlers:   make(map[string][]Handler),
		eventCh:    make(chan StatusEvent, 100),
		errHandler: defaultErrorHandler,
	}

	for _, option := range options {
		option(b)
	}

	b.wg.Add(1)
	go b.processEvents()

	return b
}

// Subscribe registers a handler for a topic.
func (b *StatusBus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// SubscribeFunc registers a function as a handler for a topic.
func (b *StatusBus) SubscribeFunc(topic string, fn func(ctx context.Context, event StatusEvent) error) {
	b.Subscribe(topic, HandlerFunc(fn))
}

// Unsubscribe removes a previously registered handler from a topic.
// Returns true if the handler was found and removed.
func (b *StatusBus) Unsubscribe(topic string, handler Handler) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers, exists := b.handlers[topic]
	if !exists {
		return false
	}

	for i, h := range handlers {
		if fmt.Sprintf("%p", h) == fmt.Sprintf("%p", handler) {
			handlers[i] = handlers[len(handlers)-1]
			b.handlers[topic] = handlers[:len(handlers)-1]
			if len(b.handlers[topic]) == 0 {
				delete(b.handlers, topic)
			}
			return true
		}
	}
	return false
}

// HasSubscribers reports whether any handler is registered for the topic.
func (b *StatusBus) HasSubscribers(topic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers, exists := b.handlers[topic]
	return exists && len(handlers) > 0
}

// Publish enqueues an event without waiting for delivery. It returns an
// error when the context is done, the bus is closed, nobody subscribes to
// the topic, or the buffer is full; callers treating the bus as
// fire-and-forget may ignore it.
func (b *StatusBus) Publish(ctx context.Context, event StatusEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !b.HasSubscribers(event.Topic) {
		return ErrNoHandler
	}

	// The lock is held across the send so a concurrent Stop cannot close
	// the channel between the check and the send. The send never blocks,
	// so Stop is only delayed by the non-blocking select.
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case b.eventCh <- event:
		return nil
	default:
		return ErrChannelFull
	}
}

// PublishSync delivers an event to all handlers and collects their errors.
// Delivery is bounded by a 5-second timeout unless ctx is shorter.
func (b *StatusBus) PublishSync(ctx context.Context, event StatusEvent) []error {
	b.closeMu.RLock()
	if b.closed {
		b.closeMu.RUnlock()
		return []error{ErrBusClosed}
	}
	b.closeMu.RUnlock()

	b.mu.RLock()
	handlers, ok := b.handlers[event.Topic]
	b.mu.RUnlock()

	if !ok || len(handlers) == 0 {
		return []error{ErrNoHandler}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return b.deliver(timeoutCtx, handlers, event)
}

// Stop shuts down the processor goroutine. Buffered events are discarded.
func (b *StatusBus) Stop() {
	b.closeMu.Lock()
	if !b.closed {
		b.closed = true
		for len(b.eventCh) > 0 {
			<-b.eventCh
		}
		close(b.eventCh)
	}
	b.closeMu.Unlock()

	b.wg.Wait()
}

func (b *StatusBus) processEvents() {
	defer b.wg.Done()

	for event := range b.eventCh {
		b.mu.RLock()
		handlers, ok := b.handlers[event.Topic]
		b.mu.RUnlock()

		if !ok || len(handlers) == 0 {
			continue
		}

		errs := b.deliver(context.Background(), handlers, event)

		b.errHandlerMu.RLock()
		handler := b.errHandler
		b.errHandlerMu.RUnlock()

		for _, err := range errs {
			handler(event, err)
		}
	}
}

// deliver fans an event out to all handlers concurrently and waits for them.
func (b *StatusBus) deliver(ctx context.Context, handlers []Handler, event StatusEvent) []error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(handlers))

	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			if err := h.Handle(ctx, event); err != nil {
				errCh <- err
			}
		}(handler)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	return errs
}

func defaultErrorHandler(event StatusEvent, err error) {
	slog.Error("status handler failed",
		"topic", event.Topic,
		"workflow_id", event.Status.WorkflowID,
		"instance_id", event.Status.InstanceID,
		"err", err)
}
