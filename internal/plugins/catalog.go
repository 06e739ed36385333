package plugins

import (
	"fmt"

	"github.com/haasonsaas/cogbot/internal/commands"
)

// Catalog finds extensions by id across in-process sources, manifest files
// and shared objects. Manifest directories are rescanned on every lookup so
// files added while the bot runs can be loaded by id.
type Catalog struct {
	Sources       *Sources
	Manifests     []string
	Paths         []string
	SharedObjects []string
}

// Origin returns the origin for id. In-process sources win over manifests,
// which win over shared objects.
func (c *Catalog) Origin(id string) (Origin, error) {
	if c.Sources != nil {
		if _, ok := c.Sources.lookup(id); ok {
			return c.Sources.Builtin(id), nil
		}
	}
	for _, path := range c.Manifests {
		if ManifestID(path) == id {
			return ManifestOrigin(path), nil
		}
	}
	found, err := Discover(c.Paths)
	if err != nil {
		return nil, err
	}
	for _, path := range found {
		if ManifestID(path) == id {
			return ManifestOrigin(path), nil
		}
	}
	for _, path := range c.SharedObjects {
		if o := SharedObjectOrigin(path); o.ID() == id {
			return o, nil
		}
	}
	return nil, fmt.Errorf("%w: extension %q", commands.ErrNotFound, id)
}

// Startup returns the origins loaded when the bot starts: the named builtins,
// then every explicit and discovered manifest, then the shared objects.
func (c *Catalog) Startup(builtins []string) ([]Origin, error) {
	var origins []Origin
	for _, id := range builtins {
		if c.Sources == nil {
			return nil, fmt.Errorf("%w: no in-process sources for %q", commands.ErrLoad, id)
		}
		origins = append(origins, c.Sources.Builtin(id))
	}

	seen := make(map[string]struct{})
	for _, path := range c.Manifests {
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}
		origins = append(origins, ManifestOrigin(path))
	}
	found, err := Discover(c.Paths)
	if err != nil {
		return nil, err
	}
	for _, path := range found {
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}
		origins = append(origins, ManifestOrigin(path))
	}

	for _, path := range c.SharedObjects {
		origins = append(origins, SharedObjectOrigin(path))
	}
	return origins, nil
}
