package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/cogbot/internal/commands"
	"github.com/haasonsaas/cogbot/internal/hooks"
)

// Setup is handed to an extension's SetupFunc. Everything registered through
// it is owned by the extension and removed again on unload.
type Setup struct {
	ctx     context.Context
	manager *Manager
	ext     *extension
	logger  *slog.Logger
}

// ID returns the id of the extension being set up.
func (s *Setup) ID() string {
	return s.ext.id
}

// Logger returns a logger tagged with the extension id.
func (s *Setup) Logger() *slog.Logger {
	return s.logger
}

// Config returns the extension's configuration section, or an empty map.
func (s *Setup) Config() map[string]any {
	cfg := s.manager.extensionConfig[s.ext.id]
	if cfg == nil {
		return map[string]any{}
	}
	return cfg
}

// Owners returns the bot owner ids known to the manager.
func (s *Setup) Owners() []string {
	return append([]string(nil), s.manager.owners...)
}

// Registry exposes the command registry for read access, e.g. by help commands.
func (s *Setup) Registry() *commands.Registry {
	return s.manager.registry
}

// Manager returns the extension manager. Its lifecycle methods must not be
// called from inside a SetupFunc.
func (s *Setup) Manager() *Manager {
	return s.manager
}

// Transport returns the named transport, when one has been attached.
func (s *Setup) Transport(name string) (commands.Transport, bool) {
	return s.manager.transport(name)
}

// AddCommand registers a top-level command with no plugin.
func (s *Setup) AddCommand(cmd *commands.Command) error {
	if err := s.manager.registry.Register(cmd); err != nil {
		return err
	}
	s.ext.commands = append(s.ext.commands, cmd)
	return nil
}

// AddPlugin registers a plugin with its commands and restores its persisted
// enabled state.
func (s *Setup) AddPlugin(p *commands.Plugin, cmds ...*commands.Command) error {
	if p != nil {
		p.Origin = s.ext.id
	}
	if err := s.manager.registry.AddPlugin(p, cmds...); err != nil {
		return err
	}
	s.ext.plugins = append(s.ext.plugins, p.Name)
	s.manager.applyToggle(s.ctx, p)
	return nil
}

// Listen subscribes handler to an event key ("command_error",
// "command_completion:ping", ...). The subscription ends when the extension
// is unloaded.
func (s *Setup) Listen(eventKey string, handler hooks.Handler, opts ...hooks.SubscribeOption) string {
	opts = append(opts, hooks.WithSource(s.ext.id))
	id := s.manager.bus.Subscribe(eventKey, handler, opts...)
	s.ext.listeners = append(s.ext.listeners, id)
	return id
}

// Schedule runs task on a cron spec (standard five fields or descriptors such
// as "@every 1h"). Task panics are recovered and logged.
func (s *Setup) Schedule(spec string, task func(ctx context.Context)) error {
	if task == nil {
		return fmt.Errorf("%w: schedule %q has no task", commands.ErrLoad, spec)
	}
	logger := s.logger
	baseCtx := s.manager.baseCtx
	entry, err := s.manager.cron.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("scheduled task panicked",
					"spec", spec, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		task(baseCtx)
	})
	if err != nil {
		return fmt.Errorf("%w: schedule %q: %w", commands.ErrLoad, spec, err)
	}
	s.ext.schedules = append(s.ext.schedules, entry)
	return nil
}

// extension is the bookkeeping for one loaded origin.
type extension struct {
	id        string
	origin    Origin
	setup     SetupFunc
	plugins   []string
	commands  []*commands.Command
	listeners []string
	schedules []cron.EntryID
	info      Extension
}
