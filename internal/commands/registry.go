package commands

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Registry maps command names and aliases to commands and tracks plugins.
type Registry struct {
	entries map[string]*Command // name or alias -> command
	plugins map[string]*Plugin  // plugin name -> plugin
	logger  *slog.Logger
	mu      sync.RWMutex
}

// NewRegistry creates an empty command registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*Command),
		plugins: make(map[string]*Plugin),
		logger:  logger.With("component", "commands"),
	}
}

// Register adds a top-level command that belongs to no plugin. The name and
// every alias must be free; on failure the registry is unchanged.
func (r *Registry) Register(cmd *Command) error {
	if err := cmd.validate(); err != nil {
		return err
	}
	if cmd.parent != nil {
		return fmt.Errorf("%w: command %q is a sub-command of %q", ErrLoad, cmd.Name, cmd.parent.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkFree(cmd.keys()); err != nil {
		return err
	}
	r.insert(cmd, nil)
	return nil
}

// AddPlugin registers a plugin together with its commands. Either every
// command is registered or none is.
func (r *Registry) AddPlugin(p *Plugin, cmds ...*Command) error {
	if p == nil {
		return fmt.Errorf("%w: plugin is nil", ErrLoad)
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("%w: plugin name is required", ErrLoad)
	}

	keys := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		if err := cmd.validate(); err != nil {
			return fmt.Errorf("plugin %q: %w", p.Name, err)
		}
		if cmd.parent != nil {
			return fmt.Errorf("%w: plugin %q: command %q is a sub-command", ErrLoad, p.Name, cmd.Name)
		}
		keys = append(keys, cmd.keys()...)
	}

	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: plugin %q declares %q more than once", ErrAlreadyExists, p.Name, key)
		}
		seen[key] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[p.Name]; exists {
		return fmt.Errorf("%w: plugin %q", ErrAlreadyExists, p.Name)
	}
	if err := r.checkFree(keys); err != nil {
		return fmt.Errorf("plugin %q: %w", p.Name, err)
	}

	r.plugins[p.Name] = p
	for _, cmd := range cmds {
		r.insert(cmd, p)
	}
	r.logger.Debug("registered plugin", "plugin", p.Name, "origin", p.Origin, "commands", len(cmds))
	return nil
}

// RemovePlugin unregisters every command the plugin still owns and drops the
// plugin record.
func (r *Registry) RemovePlugin(name string) (*Plugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.plugins[name]
	if !ok {
		return nil, fmt.Errorf("%w: plugin %q", ErrNotFound, name)
	}
	for _, cmd := range p.Commands() {
		if r.entries[cmd.Name] != cmd {
			// Already gone; unload is best-effort from here on.
			p.remove(cmd)
			continue
		}
		r.remove(cmd)
	}
	delete(r.plugins, name)
	r.logger.Debug("removed plugin", "plugin", name)
	return p, nil
}

// Unregister removes the command known by name (or alias) under its name and
// all aliases, and detaches it from its plugin.
func (r *Registry) Unregister(name string) error {
	key := normalize(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	cmd, ok := r.entries[key]
	if !ok {
		return fmt.Errorf("%w: command %q", ErrNotFound, key)
	}
	r.remove(cmd)
	return nil
}

// Lookup returns the command whose name or alias is name.
func (r *Registry) Lookup(name string) (*Command, bool) {
	key := normalize(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	cmd, ok := r.entries[key]
	return cmd, ok
}

// Get is Lookup with an ErrNotFound error on a miss.
func (r *Registry) Get(name string) (*Command, error) {
	cmd, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: command %q", ErrNotFound, normalize(name))
	}
	return cmd, nil
}

// Commands returns every registered top-level command once, sorted by name.
func (r *Registry) Commands() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	commands := make([]*Command, 0, len(r.entries))
	for key, cmd := range r.entries {
		if key == cmd.Name {
			commands = append(commands, cmd)
		}
	}
	sort.Slice(commands, func(i, j int) bool {
		return commands[i].Name < commands[j].Name
	})
	return commands
}

// Visible returns commands that should be shown in help.
func (r *Registry) Visible() []*Command {
	all := r.Commands()
	visible := make([]*Command, 0, len(all))
	for _, cmd := range all {
		if !cmd.Hidden {
			visible = append(visible, cmd)
		}
	}
	return visible
}

// Names returns all registered command names (not aliases).
func (r *Registry) Names() []string {
	commands := r.Commands()
	names := make([]string, len(commands))
	for i, cmd := range commands {
		names[i] = cmd.Name
	}
	return names
}

// Plugin returns a plugin by name.
func (r *Registry) Plugin(name string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Plugins returns all plugins sorted by name.
func (r *Registry) Plugins() []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plugins := make([]*Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		plugins = append(plugins, p)
	}
	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Name < plugins[j].Name
	})
	return plugins
}

// Walk visits every command and sub-command depth-first, top-level commands
// in name order. Returning false from fn stops the walk.
func (r *Registry) Walk(fn func(*Command) bool) {
	for _, cmd := range r.Commands() {
		if !cmd.Walk(fn) {
			return
		}
	}
}

func (r *Registry) checkFree(keys []string) error {
	for _, key := range keys {
		if existing, ok := r.entries[key]; ok {
			return fmt.Errorf("%w: %q is already used by command %q", ErrAlreadyExists, key, existing.Name)
		}
	}
	return nil
}

// insert must be called with r.mu held and keys already checked.
func (r *Registry) insert(cmd *Command, p *Plugin) {
	for _, key := range cmd.keys() {
		r.entries[key] = cmd
	}
	cmd.setPlugin(p)
	if p != nil {
		p.add(cmd)
	}
	r.logger.Debug("registered command",
		"name", cmd.Name,
		"aliases", cmd.Aliases,
		"group", cmd.IsGroup())
}

// remove must be called with r.mu held.
func (r *Registry) remove(cmd *Command) {
	for _, key := range cmd.keys() {
		if r.entries[key] == cmd {
			delete(r.entries, key)
		}
	}
	if p := cmd.Plugin(); p != nil {
		p.remove(cmd)
	}
	cmd.setPlugin(nil)
	r.logger.Debug("unregistered command", "name", cmd.Name)
}
