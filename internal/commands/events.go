package commands

import (
	"context"

	"github.com/haasonsaas/cogbot/internal/hooks"
)

// InvocationHandler receives command events with their invocation.
type InvocationHandler func(ctx context.Context, inv *Invocation, err error) error

// InvocationFromEvent extracts the invocation a command event carries.
func InvocationFromEvent(event *hooks.Event) (*Invocation, bool) {
	if event == nil {
		return nil, false
	}
	inv, ok := event.Payload.(*Invocation)
	return inv, ok && inv != nil
}

// OnCommandError subscribes fn to command_error. Subscribing replaces the
// bus's default reporter for as long as the subscription exists.
func OnCommandError(bus *hooks.Bus, fn InvocationHandler, opts ...hooks.SubscribeOption) string {
	return bus.Subscribe(string(hooks.EventCommandError), adapt(fn), opts...)
}

// OnCommandCompletion subscribes fn to command_completion.
func OnCommandCompletion(bus *hooks.Bus, fn InvocationHandler, opts ...hooks.SubscribeOption) string {
	return bus.Subscribe(string(hooks.EventCommandCompletion), adapt(fn), opts...)
}

// OnCommand subscribes fn to the command event published before binding.
func OnCommand(bus *hooks.Bus, fn InvocationHandler, opts ...hooks.SubscribeOption) string {
	return bus.Subscribe(string(hooks.EventCommand), adapt(fn), opts...)
}

func adapt(fn InvocationHandler) hooks.Handler {
	return func(ctx context.Context, event *hooks.Event) error {
		inv, ok := InvocationFromEvent(event)
		if !ok {
			return nil
		}
		return fn(ctx, inv, event.Error)
	}
}
