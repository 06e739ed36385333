package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
)

// ToggleStore persists whether each plugin is enabled.
type ToggleStore interface {
	// Get returns the stored state. found is false when nothing was stored.
	Get(ctx context.Context, plugin string) (enabled bool, found bool, err error)
	Set(ctx context.Context, plugin string, enabled bool) error
	// Delete forgets a plugin's state; ErrNotFound when none was stored.
	Delete(ctx context.Context, plugin string) error
	List(ctx context.Context) (map[string]bool, error)
	Close() error
}
