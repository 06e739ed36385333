//go:build windows

package plugins

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/cogbot/internal/commands"
)

// SetupSymbol is the symbol a shared-object extension must export.
const SetupSymbol = "Setup"

// SharedObjectOrigin is unsupported on Windows; Resolve always fails.
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
	return nil, fmt.Errorf("%w: shared object extensions are not supported on Windows", commands.ErrLoad)
}
