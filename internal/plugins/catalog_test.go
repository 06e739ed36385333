package plugins

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/haasonsaas/cogbot/internal/commands"
)

func TestCatalogOrigin(t *testing.T) {
	sources := NewSources()
	if err := sources.RegisterOrigin("core", func(*Setup) error { return nil }); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	explicit := writeFile(t, t.TempDir(), "greetings.cog.yaml", greetingsManifest)
	discovered := writeFile(t, dir, "nested/weather.cog.json5", "{}")
	// a manifest named like a builtin never shadows it
	writeFile(t, dir, "core.cog.yaml", greetingsManifest)

	c := &Catalog{
		Sources:       sources,
		Manifests:     []string{explicit},
		Paths:         []string{dir},
		SharedObjects: []string{"/opt/cogbot/echo.so"},
	}

	tests := []struct {
		id   string
		path string
	}{
		{"core", ""},
		{"greetings", explicit},
		{"weather", discovered},
		{"echo", ""},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			o, err := c.Origin(tt.id)
			if err != nil {
				t.Fatalf("Origin(%q) error = %v", tt.id, err)
			}
			if o.ID() != tt.id {
				t.Errorf("ID() = %q", o.ID())
			}
			if tt.path == "" {
				return
			}
			mo, ok := o.(manifestOrigin)
			if !ok {
				t.Fatalf("origin type = %T, want manifest", o)
			}
			if mo.Path() != tt.path {
				t.Errorf("Path() = %q, want %q", mo.Path(), tt.path)
			}
		})
	}

	if _, err := c.Origin("missing"); !errors.Is(err, commands.ErrNotFound) {
		t.Errorf("Origin(missing) error = %v, want ErrNotFound", err)
	}
}

func TestCatalogStartup(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.cog.yaml", "x")
	writeFile(t, dir, "b.cog.yml", "x")

	c := &Catalog{
		Sources:       NewSources(),
		Manifests:     []string{a, filepath.Join(t.TempDir(), "c.cog.json")},
		Paths:         []string{dir},
		SharedObjects: []string{"plugins/echo.so"},
	}
	origins, err := c.Startup([]string{"core"})
	if err != nil {
		t.Fatalf("Startup() error = %v", err)
	}
	ids := make([]string, len(origins))
	for i, o := range origins {
		ids[i] = o.ID()
	}
	if diff := cmp.Diff([]string{"core", "a", "c", "b", "echo"}, ids); diff != "" {
		t.Errorf("startup ids mismatch (-want +got):\n%s", diff)
	}

	if _, err := (&Catalog{}).Startup([]string{"core"}); !errors.Is(err, commands.ErrLoad) {
		t.Errorf("Startup() without sources error = %v", err)
	}
}
