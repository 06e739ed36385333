// Package plugins manages extensions: units of code that register commands,
// plugins, listeners and scheduled tasks, and that can be loaded, unloaded and
// reloaded while the bot runs.
package plugins

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/cogbot/internal/commands"
)

// SetupFunc is an extension's entry point. It registers everything the
// extension provides through s.
type SetupFunc func(s *Setup) error

// Origin locates an extension's code. Resolve is called on every load and
// reload, so file-backed origins pick up edits.
type Origin interface {
	ID() string
	Resolve(ctx context.Context) (SetupFunc, error)
}

type builtinOrigin struct {
	id    string
	setup SetupFunc
}

func (o builtinOrigin) ID() string { return o.id }

func (o builtinOrigin) Resolve(context.Context) (SetupFunc, error) {
	if o.setup == nil {
		return nil, fmt.Errorf("%w: extension %q has no setup function", commands.ErrLoad, o.id)
	}
	return o.setup, nil
}

// Sources is a catalog of in-process extensions addressable by id.
type Sources struct {
	mu      sync.RWMutex
	entries map[string]SetupFunc
}

// NewSources creates an empty catalog.
func NewSources() *Sources {
	return &Sources{entries: make(map[string]SetupFunc)}
}

// RegisterOrigin adds an in-process extension under id.
func (s *Sources) RegisterOrigin(id string, setup SetupFunc) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: origin id is required", commands.ErrLoad)
	}
	if setup == nil {
		return fmt.Errorf("%w: origin %q has no setup function", commands.ErrLoad, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[id]; exists {
		return fmt.Errorf("%w: origin %q", commands.ErrAlreadyExists, id)
	}
	s.entries[id] = setup
	return nil
}

// Builtin returns the origin registered under id. The returned origin
// resolves lazily, so an unknown id fails at load time with ErrLoad.
func (s *Sources) Builtin(id string) Origin {
	return sourceOrigin{sources: s, id: id}
}

// IDs lists registered origin ids in sorted order.
func (s *Sources) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Sources) lookup(id string) (SetupFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.entries[id]
	return fn, ok
}

type sourceOrigin struct {
	sources *Sources
	id      string
}

func (o sourceOrigin) ID() string { return o.id }

func (o sourceOrigin) Resolve(context.Context) (SetupFunc, error) {
	fn, ok := o.sources.lookup(o.id)
	if !ok {
		return nil, fmt.Errorf("%w: no extension named %q", commands.ErrLoad, o.id)
	}
	return fn, nil
}

// Func wraps a setup function as an origin that is not listed in any catalog.
func Func(id string, setup SetupFunc) Origin {
	return builtinOrigin{id: id, setup: setup}
}
