// Package events is a small in-process event bus.
//
// Events are delivered by a single worker in publication order, so handlers
// never run concurrently with one another.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/quay/claircore/toolkit/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Kind discriminates events.
type Kind uint8

//go:generate go tool stringer -type=Kind

// Known event kinds.
const (
	_ Kind = iota
	// MirrorRequested asks for a mirror run. It carries no payload.
	MirrorRequested
	// IndexCommit signals that records of the named Target type changed and
	// any downstream index should be rebuilt.
	IndexCommit
)

// Event is a single message on the bus.
type Event struct {
	Kind   Kind
	Target string
}

// Handler reacts to an event.
type Handler interface {
	Handle(context.Context, Event) error
}

// HandlerFunc adapts a function to the [Handler] interface.
type HandlerFunc func(context.Context, Event) error

// Handle implements [Handler].
func (f HandlerFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

// ErrClosed is returned by Publish after the worker has exited.
var ErrClosed = errors.New("events: service closed")

// DefaultQueueSize is the queue depth used when [NewService] is passed a
// non-positive size.
const DefaultQueueSize = 16

var (
	meter = otel.Meter("github.com/quay/nspmirror/events")

	dispatchCounter, _ = meter.Int64Counter("nspmirror.events.dispatched",
		metric.WithDescription("Events delivered to handlers."),
		metric.WithUnit("{event}"))
	failureCounter, _ = meter.Int64Counter("nspmirror.events.handler_failures",
		metric.WithDescription("Handler invocations that returned an error."),
		metric.WithUnit("{call}"))
)

// Service dispatches events to the handlers subscribed to their Kind.
type Service struct {
	queue chan Event
	done  chan struct{}

	mu       sync.RWMutex
	handlers map[Kind][]Handler

	// Pending holds events published by handlers while they run. They are
	// delivered after the current event, before anything in the queue.
	pmu     sync.Mutex
	pending []Event
}

// DispatchKey marks a Context passed to a handler by a given Service.
type dispatchKey struct{}

// NewService returns a Service with a queue of the given depth. [Service.Run]
// must be called for events to be delivered.
func NewService(size int) *Service {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Service{
		queue:    make(chan Event, size),
		done:     make(chan struct{}),
		handlers: make(map[Kind][]Handler),
	}
}

// Subscribe registers h for events of kind k.
func (s *Service) Subscribe(k Kind, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[k] = append(s.handlers[k], h)
}

// Publish queues an event, blocking until there's room, the Context is
// canceled, or the Service stops.
//
// A handler publishing with the Context it was given never blocks: the worker
// is the one running it, so the event is set aside and delivered once the
// handler returns.
func (s *Service) Publish(ctx context.Context, ev Event) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	if ctx.Value(dispatchKey{}) == s {
		s.pmu.Lock()
		s.pending = append(s.pending, ev)
		s.pmu.Unlock()
		return nil
	}
	select {
	case s.queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Run delivers events until the Context is canceled.
//
// Handler errors are logged and do not stop delivery. Run must only be called
// once.
func (s *Service) Run(ctx context.Context) error {
	ctx = log.With(ctx, "component", "events/Service.Run")
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.queue:
			s.dispatch(ctx, ev)
			for {
				ev, ok := s.next()
				if !ok {
					break
				}
				s.dispatch(ctx, ev)
			}
		}
	}
}

func (s *Service) next() (Event, bool) {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	if len(s.pending) == 0 {
		return Event{}, false
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, true
}

func (s *Service) dispatch(ctx context.Context, ev Event) {
	s.mu.RLock()
	hs := s.handlers[ev.Kind]
	s.mu.RUnlock()
	if len(hs) == 0 {
		slog.DebugContext(ctx, "no handlers", "kind", ev.Kind)
		return
	}
	kind := metric.WithAttributes(attribute.String("kind", ev.Kind.String()))
	dispatchCounter.Add(ctx, 1, kind)
	ctx = context.WithValue(ctx, dispatchKey{}, s)
	for _, h := range hs {
		if err := h.Handle(ctx, ev); err != nil {
			failureCounter.Add(ctx, 1, kind)
			slog.ErrorContext(ctx, "handler failed",
				"kind", ev.Kind,
				"target", ev.Target,
				"reason", err)
		}
	}
}
