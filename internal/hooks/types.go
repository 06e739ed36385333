// Package hooks provides the event bus used to report command outcomes and
// extension lifecycle changes.
package hooks

import (
	"context"
	"time"
)

// EventType identifies the category of event.
type EventType string

const (
	// Command events
	EventCommand           EventType = "command"
	EventCommandCompletion EventType = "command_completion"
	EventCommandError      EventType = "command_error"

	// Extension events
	EventExtensionLoad   EventType = "extension_load"
	EventExtensionUnload EventType = "extension_unload"
	EventExtensionReload EventType = "extension_reload"
)

// Event is a published occurrence with its payload.
type Event struct {
	// Type is the event category
	Type EventType `json:"type"`

	// Action narrows the event (a command path or extension id). Subscribers
	// registered for "type:action" only see matching events.
	Action string `json:"action,omitempty"`

	// Timestamp when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Payload is the primary subject, e.g. the invocation of a command.
	Payload any `json:"-"`

	// Context holds additional event-specific data
	Context map[string]any `json:"context,omitempty"`

	Error    error  `json:"-"`
	ErrorMsg string `json:"error,omitempty"`
}

// Key returns the subscription key that matches this event's action.
func (e *Event) Key() string {
	if e.Action == "" {
		return string(e.Type)
	}
	return string(e.Type) + ":" + e.Action
}

// Handler processes an event. Handlers run synchronously on the publisher's
// goroutine, so long-running work belongs in a goroutine of its own.
type Handler func(ctx context.Context, event *Event) error

// Priority determines the order handlers are called. Handlers with equal
// priority run in subscription order.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 25
	PriorityNormal  Priority = 50
	PriorityLow     Priority = 75
	PriorityLowest  Priority = 100
)

// Registration is a subscribed handler.
type Registration struct {
	ID string

	// EventKey is the event type or type:action this handler listens for
	EventKey string

	Handler  Handler
	Priority Priority

	// Name is a human-readable name for debugging
	Name string

	// Source identifies the extension that subscribed, if any
	Source string

	seq uint64
}

// NewEvent creates a new event with timestamp set.
func NewEvent(eventType EventType, action string) *Event {
	return &Event{
		Type:      eventType,
		Action:    action,
		Timestamp: time.Now(),
		Context:   make(map[string]any),
	}
}

// WithPayload sets the event subject.
func (e *Event) WithPayload(payload any) *Event {
	e.Payload = payload
	return e
}

// WithContext adds context data to the event.
func (e *Event) WithContext(key string, value any) *Event {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithError sets the error on the event.
func (e *Event) WithError(err error) *Event {
	e.Error = err
	if err != nil {
		e.ErrorMsg = err.Error()
	}
	return e
}
