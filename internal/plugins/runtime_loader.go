//go:build !windows

package plugins

import (
	"context"
	"fmt"
	"path/filepath"
	"plugin"
	"strings"

	"github.com/haasonsaas/cogbot/internal/commands"
)

// SetupSymbol is the symbol a shared-object extension must export.
const SetupSymbol = "Setup"

// SharedObjectOrigin loads a Go plugin (.so) exporting
// "func Setup(*plugins.Setup) error". The Go runtime cannot unload plugins,
// so a reload re-runs the setup of the already opened object.
func SharedObjectOrigin(path string) Origin {
	return sharedObjectOrigin{path: filepath.Clean(path)}
}

type sharedObjectOrigin struct {
	path string
}

func (o sharedObjectOrigin) ID() string {
	return strings.TrimSuffix(filepath.Base(o.path), filepath.Ext(o.path))
}

func (o sharedObjectOrigin) Resolve(context.Context) (SetupFunc, error) {
	if o.path == "" || o.path == "." {
		return nil, fmt.Errorf("%w: plugin path is empty", commands.ErrLoad)
	}
	plug, err := plugin.Open(o.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open plugin %s: %w", commands.ErrLoad, o.path, err)
	}
	symbol, err := plug.Lookup(SetupSymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: plugin %s has no %s entry point", commands.ErrLoad, o.path, SetupSymbol)
	}

	switch v := symbol.(type) {
	case func(*Setup) error:
		return v, nil
	case *func(*Setup) error:
		return *v, nil
	case *SetupFunc:
		return *v, nil
	default:
		return nil, fmt.Errorf("%w: plugin symbol %s has type %T, want func(*plugins.Setup) error",
			commands.ErrLoad, SetupSymbol, symbol)
	}
}
