// Package channels connects chat platforms to the command dispatcher. Each
// adapter is a commands.Transport that also delivers inbound messages.
package channels

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/cogbot/internal/commands"
	"github.com/haasonsaas/cogbot/pkg/models"
)

// Handler receives every inbound message. tr is the transport replies should
// go through, which may be a wrapper around the adapter that produced msg.
type Handler func(ctx context.Context, tr commands.Transport, msg *models.Message)

// Adapter is the interface that all channel adapters must implement.
type Adapter interface {
	commands.Transport

	// Type returns the channel type (telegram, discord, slack).
	Type() models.ChannelType

	// Run connects to the platform and feeds inbound messages to handle until
	// ctx is cancelled. It returns nil on cancellation.
	Run(ctx context.Context, handle Handler) error
}

// Registry manages the configured adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.ChannelType]Adapter
}

// NewRegistry creates a new channel registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.ChannelType]Adapter)}
}

// Register adds an adapter. Each channel type can be registered once.
func (r *Registry) Register(adapter Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[adapter.Type()]; exists {
		return fmt.Errorf("channel %q already registered", adapter.Type())
	}
	r.adapters[adapter.Type()] = adapter
	return nil
}

// Get returns an adapter by channel type.
func (r *Registry) Get(channelType models.ChannelType) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[channelType]
	return adapter, ok
}

// All returns all registered adapters ordered by type.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapters := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	sort.Slice(adapters, func(i, j int) bool { return adapters[i].Type() < adapters[j].Type() })
	return adapters
}

// Run runs every adapter until ctx is cancelled or one of them fails, in
// which case the others are stopped and the first error is returned.
func (r *Registry) Run(ctx context.Context, handle Handler) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, adapter := range r.All() {
		g.Go(func() error {
			if err := adapter.Run(ctx, handle); err != nil {
				return fmt.Errorf("%s: %w", adapter.Type(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
