package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Bus maps event keys to ordered subscriber lists and dispatches events
// synchronously.
type Bus struct {
	handlers map[string][]*Registration // eventKey -> handlers
	byID     map[string]*Registration   // id -> registration
	seq      uint64
	fallback Handler
	logger   *slog.Logger
	mu       sync.RWMutex
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithDiagnostics sets where the default command_error reporter writes.
func WithDiagnostics(w io.Writer) BusOption {
	return func(b *Bus) {
		b.fallback = NewErrorReporter(w)
	}
}

// WithFallback replaces the default command_error reporter. A nil handler
// disables the fallback.
func WithFallback(h Handler) BusOption {
	return func(b *Bus) {
		b.fallback = h
	}
}

// NewBus creates an empty bus. Unhandled command_error events go to stderr
// unless configured otherwise.
func NewBus(logger *slog.Logger, opts ...BusOption) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		handlers: make(map[string][]*Registration),
		byID:     make(map[string]*Registration),
		fallback: NewErrorReporter(os.Stderr),
		logger:   logger.With("component", "hooks"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SubscribeOption configures a registration.
type SubscribeOption func(*Registration)

// WithPriority sets the handler priority.
func WithPriority(p Priority) SubscribeOption {
	return func(r *Registration) {
		r.Priority = p
	}
}

// WithName sets the handler name for debugging.
func WithName(name string) SubscribeOption {
	return func(r *Registration) {
		r.Name = name
	}
}

// WithSource records which extension subscribed the handler.
func WithSource(source string) SubscribeOption {
	return func(r *Registration) {
		r.Source = source
	}
}

// Subscribe appends a handler for an event key ("type" or "type:action").
// Returns the registration ID for later removal.
func (b *Bus) Subscribe(eventKey string, handler Handler, opts ...SubscribeOption) string {
	reg := &Registration{
		ID:       uuid.New().String(),
		EventKey: eventKey,
		Handler:  handler,
		Priority: PriorityNormal,
	}
	for _, opt := range opts {
		opt(reg)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	reg.seq = b.seq
	b.handlers[eventKey] = append(b.handlers[eventKey], reg)
	b.byID[reg.ID] = reg
	sortRegistrations(b.handlers[eventKey])

	b.logger.Debug("subscribed",
		"id", reg.ID,
		"event_key", eventKey,
		"name", reg.Name,
		"source", reg.Source,
		"priority", reg.Priority)

	return reg.ID
}

// Unsubscribe removes a handler by its registration ID.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, exists := b.byID[id]
	if !exists {
		return false
	}
	delete(b.byID, id)

	handlers := b.handlers[reg.EventKey]
	for i, h := range handlers {
		if h.ID == id {
			b.handlers[reg.EventKey] = append(handlers[:i:i], handlers[i+1:]...)
			break
		}
	}
	if len(b.handlers[reg.EventKey]) == 0 {
		delete(b.handlers, reg.EventKey)
	}

	b.logger.Debug("unsubscribed", "id", id, "event_key", reg.EventKey)
	return true
}

// UnsubscribeSource removes every handler subscribed with the given source
// and returns how many were removed.
func (b *Bus) UnsubscribeSource(source string) int {
	b.mu.RLock()
	var ids []string
	for id, reg := range b.byID {
		if reg.Source == source {
			ids = append(ids, id)
		}
	}
	b.mu.RUnlock()

	n := 0
	for _, id := range ids {
		if b.Unsubscribe(id) {
			n++
		}
	}
	return n
}

// Publish invokes every handler subscribed to the event's type and to its
// type:action key, in priority then subscription order. A failing or
// panicking handler does not stop the others; the first error is returned.
//
// A command_error event with no subscribers is passed to the fallback
// reporter so failures are never dropped silently.
func (b *Bus) Publish(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}

	b.mu.RLock()
	typeHandlers := b.handlers[string(event.Type)]
	var specificHandlers []*Registration
	if event.Action != "" {
		specificHandlers = b.handlers[event.Key()]
	}
	fallback := b.fallback
	b.mu.RUnlock()

	all := make([]*Registration, 0, len(typeHandlers)+len(specificHandlers))
	all = append(all, typeHandlers...)
	all = append(all, specificHandlers...)
	sortRegistrations(all)

	if len(all) == 0 {
		if event.Type == EventCommandError && fallback != nil {
			return fallback(ctx, event)
		}
		return nil
	}

	var firstErr error
	for _, reg := range all {
		if err := b.call(ctx, reg, event); err != nil {
			b.logger.Warn("event handler error",
				"event_type", event.Type,
				"event_action", event.Action,
				"handler_id", reg.ID,
				"handler_name", reg.Name,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (b *Bus) call(ctx context.Context, reg *Registration, event *Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("event handler panic: %v", p)
		}
	}()
	return reg.Handler(ctx, event)
}

// SubscriberCount returns the number of handlers for an event key.
func (b *Bus) SubscriberCount(eventKey string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventKey])
}

func sortRegistrations(regs []*Registration) {
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].Priority != regs[j].Priority {
			return regs[i].Priority < regs[j].Priority
		}
		return regs[i].seq < regs[j].seq
	})
}
