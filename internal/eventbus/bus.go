// Package eventbus is an in-process pub/sub bus for form server events.
// Handlers publish after the store has been updated; subscribers run on a
// single consumer goroutine.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types.
const (
	FormCreated       = "form_created"
	FormUpdated       = "form_updated"
	FormDeleted       = "form_deleted"
	ResponseSubmitted = "response_submitted"
)

// Event is something that happened to a form.
type Event struct {
	ID         string
	Type       string
	FormID     string
	OccurredAt time.Time
	Payload    any
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(typ, formID string, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		FormID:     formID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Handler processes an event. Implementations must be safe for concurrent
// use.
type Handler interface {
	HandleEvent(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Bus dispatches published events to every subscriber, in order, on one
// goroutine.
type Bus struct {
	mu          sync.RWMutex
	subscribers []namedHandler
	stopped     bool
	events      chan Event
	done        chan struct{}
	stopOnce    sync.Once
	log         *zap.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// New creates a Bus with the given buffer size.
func New(bufSize int, log *zap.Logger) *Bus {
	if bufSize < 1 {
		bufSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		events: make(chan Event, bufSize),
		done:   make(chan struct{}),
		log:    log,
	}
}

// Subscribe registers a named handler.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, namedHandler{name: name, handler: h})
}

// Publish queues evt without blocking. When the buffer is full, or the bus
// has been stopped, the event is dropped.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		b.log.Warn("eventbus: stopped, dropping event",
			zap.String("type", evt.Type), zap.String("event_id", evt.ID))
		return
	}
	select {
	case b.events <- evt:
	default:
		b.log.Warn("eventbus: buffer full, dropping event",
			zap.String("type", evt.Type), zap.String("event_id", evt.ID))
	}
}

// Start runs the consumer until ctx is cancelled or Stop is called. Events
// still queued at that point are dispatched before it exits.
func (b *Bus) Start(ctx context.Context) {
	go func() {
		defer close(b.done)
		for {
			select {
			case evt, ok := <-b.events:
				if !ok {
					return
				}
				b.dispatch(ctx, evt)
			case <-ctx.Done():
				b.drain(ctx)
				return
			}
		}
	}()
}

func (b *Bus) drain(ctx context.Context) {
	for {
		select {
		case evt, ok := <-b.events:
			if !ok {
				return
			}
			b.dispatch(ctx, evt)
		default:
			return
		}
	}
}

// Stop closes the bus and waits for the consumer to finish. Later
// publishes are dropped.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		close(b.events)
		b.mu.Unlock()
	})
	<-b.done
}

func (b *Bus) dispatch(ctx context.Context, evt Event) {
	b.mu.RLock()
	subs := b.subscribers
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler.HandleEvent(ctx, evt); err != nil {
			b.log.Error("eventbus: handler failed",
				zap.String("handler", s.name),
				zap.String("type", evt.Type),
				zap.Error(err),
			)
		}
	}
}
