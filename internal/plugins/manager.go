package plugins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/cogbot/internal/commands"
	"github.com/haasonsaas/cogbot/internal/hooks"
	"github.com/haasonsaas/cogbot/internal/storage"
)

// Recorder receives extension lifecycle measurements.
type Recorder interface {
	ObserveExtension(op, status string)
	SetExtensionsLoaded(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveExtension(string, string) {}
func (nopRecorder) SetExtensionsLoaded(int)         {}

// Extension describes a loaded extension.
type Extension struct {
	ID      string   `json:"id"`
	Plugins []string `json:"plugins,omitempty"`

	// Commands lists top-level commands registered outside any plugin
	Commands  []string  `json:"commands,omitempty"`
	Listeners int       `json:"listeners"`
	Schedules int       `json:"schedules"`
	LoadedAt  time.Time `json:"loaded_at"`
	Reloads   int       `json:"reloads"`
}

// Manager loads, unloads and reloads extensions against a command registry
// and event bus.
type Manager struct {
	registry        *commands.Registry
	bus             *hooks.Bus
	store           storage.ToggleStore
	cron            *cron.Cron
	recorder        Recorder
	logger          *slog.Logger
	owners          []string
	extensionConfig map[string]map[string]any

	baseCtx context.Context
	cancel  context.CancelFunc

	transportsMu sync.RWMutex
	transports   map[string]commands.Transport

	mu     sync.Mutex
	loaded map[string]*extension
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore persists plugin toggles in store. The default keeps them in memory.
func WithStore(store storage.ToggleStore) Option {
	return func(m *Manager) {
		if store != nil {
			m.store = store
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithOwners sets the bot owner ids exposed to extensions.
func WithOwners(ids ...string) Option {
	return func(m *Manager) {
		m.owners = append(m.owners, ids...)
	}
}

// WithExtensionConfig provides per-extension configuration keyed by origin id.
func WithExtensionConfig(cfg map[string]map[string]any) Option {
	return func(m *Manager) {
		m.extensionConfig = cfg
	}
}

// NewManager creates a manager and starts its scheduler.
func NewManager(registry *commands.Registry, bus *hooks.Bus, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		registry:   registry,
		bus:        bus,
		store:      storage.NewMemoryStore(),
		cron:       cron.New(),
		recorder:   nopRecorder{},
		logger:     slog.Default(),
		baseCtx:    ctx,
		cancel:     cancel,
		transports: make(map[string]commands.Transport),
		loaded:     make(map[string]*extension),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.extensionConfig == nil {
		m.extensionConfig = make(map[string]map[string]any)
	}
	m.logger = m.logger.With("component", "plugins")
	m.cron.Start()
	return m
}

// SetTransport makes a transport available to extensions under name.
func (m *Manager) SetTransport(name string, tr commands.Transport) {
	m.transportsMu.Lock()
	defer m.transportsMu.Unlock()
	if tr == nil {
		delete(m.transports, name)
		return
	}
	m.transports[name] = tr
}

func (m *Manager) transport(name string) (commands.Transport, bool) {
	m.transportsMu.RLock()
	defer m.transportsMu.RUnlock()
	tr, ok := m.transports[name]
	return tr, ok
}

// Load resolves origin and runs its setup. A failed setup leaves nothing
// registered.
func (m *Manager) Load(ctx context.Context, origin Origin) error {
	if origin == nil {
		return fmt.Errorf("%w: origin is nil", commands.ErrLoad)
	}
	info, err := m.load(ctx, origin)
	m.finish(ctx, "load", hooks.EventExtensionLoad, origin.ID(), info, err)
	return err
}

func (m *Manager) load(ctx context.Context, origin Origin) (Extension, error) {
	id := origin.ID()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Extension{}, fmt.Errorf("%w: manager is closed", commands.ErrLoad)
	}
	if _, ok := m.loaded[id]; ok {
		return Extension{}, fmt.Errorf("%w: extension %q is already loaded", commands.ErrAlreadyExists, id)
	}
	setup, err := resolve(ctx, origin)
	if err != nil {
		return Extension{}, err
	}
	ext, err := m.run(ctx, origin, setup)
	if err != nil {
		return Extension{}, err
	}
	m.loaded[id] = ext
	return ext.snapshot(), nil
}

// Unload removes everything the extension registered.
func (m *Manager) Unload(ctx context.Context, id string) error {
	info, err := m.unload(id)
	m.finish(ctx, "unload", hooks.EventExtensionUnload, id, info, err)
	return err
}

func (m *Manager) unload(id string) (Extension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ext, ok := m.loaded[id]
	if !ok {
		return Extension{}, fmt.Errorf("%w: extension %q is not loaded", commands.ErrNotFound, id)
	}
	m.teardown(ext)
	delete(m.loaded, id)
	return ext.snapshot(), nil
}

// Reload re-resolves the extension's origin and runs the new setup in place of
// the old one. When the origin cannot be resolved the loaded extension is left
// untouched. When the new setup fails the previous setup is run again.
func (m *Manager) Reload(ctx context.Context, id string) error {
	info, err := m.reload(ctx, id)
	m.finish(ctx, "reload", hooks.EventExtensionReload, id, info, err)
	return err
}

func (m *Manager) reload(ctx context.Context, id string) (Extension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.loaded[id]
	if !ok {
		return Extension{}, fmt.Errorf("%w: extension %q is not loaded", commands.ErrNotFound, id)
	}
	setup, err := resolve(ctx, prev.origin)
	if err != nil {
		return Extension{}, err
	}

	m.teardown(prev)
	delete(m.loaded, id)

	next, err := m.run(ctx, prev.origin, setup)
	if err == nil {
		next.info.Reloads = prev.info.Reloads + 1
		m.loaded[id] = next
		return next.snapshot(), nil
	}

	restored, rerr := m.run(ctx, prev.origin, prev.setup)
	if rerr != nil {
		m.logger.Error("extension unloaded after failed reload", "extension", id, "error", rerr)
		return Extension{}, errors.Join(err,
			fmt.Errorf("restore previous version of %q: %w", id, rerr))
	}
	restored.info.LoadedAt = prev.info.LoadedAt
	restored.info.Reloads = prev.info.Reloads
	m.loaded[id] = restored
	return Extension{}, fmt.Errorf("reload %q failed, previous version restored: %w", id, err)
}

// Loaded reports whether an extension with id is loaded.
func (m *Manager) Loaded(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loaded[id]
	return ok
}

// Extensions returns the loaded extensions sorted by id.
func (m *Manager) Extensions() []Extension {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Extension, 0, len(m.loaded))
	for _, ext := range m.loaded {
		out = append(out, ext.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Enable turns a plugin on and persists the state.
func (m *Manager) Enable(ctx context.Context, plugin string) error {
	return m.setEnabled(ctx, plugin, true)
}

// Disable turns a plugin off and persists the state. Its commands fail the
// plugin_enabled check until it is enabled again.
func (m *Manager) Disable(ctx context.Context, plugin string) error {
	return m.setEnabled(ctx, plugin, false)
}

func (m *Manager) setEnabled(ctx context.Context, name string, enabled bool) error {
	op := "disable"
	if enabled {
		op = "enable"
	}
	p, ok := m.registry.Plugin(name)
	if !ok {
		err := fmt.Errorf("%w: plugin %q", commands.ErrNotFound, name)
		m.recorder.ObserveExtension(op, commands.Kind(err))
		return err
	}
	if err := m.store.Set(ctx, p.Name, enabled); err != nil {
		m.recorder.ObserveExtension(op, "storage")
		return fmt.Errorf("persist plugin %q state: %w", p.Name, err)
	}
	p.SetEnabled(enabled)
	m.recorder.ObserveExtension(op, "ok")
	m.logger.Info("plugin toggled", "plugin", p.Name, "enabled", enabled)
	return nil
}

// Close unloads every extension in id order and stops the scheduler. Later
// loads fail with ErrLoad.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	ids := make([]string, 0, len(m.loaded))
	for id := range m.loaded {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	unloaded := make([]Extension, 0, len(ids))
	for _, id := range ids {
		ext := m.loaded[id]
		m.teardown(ext)
		delete(m.loaded, id)
		unloaded = append(unloaded, ext.snapshot())
	}
	m.mu.Unlock()

	for _, info := range unloaded {
		m.finish(m.baseCtx, "unload", hooks.EventExtensionUnload, info.ID, info, nil)
	}
	m.cancel()
	<-m.cron.Stop().Done()
	return nil
}

func (m *Manager) applyToggle(ctx context.Context, p *commands.Plugin) {
	enabled, found, err := m.store.Get(ctx, p.Name)
	if err != nil {
		m.logger.Warn("load plugin state failed", "plugin", p.Name, "error", err)
		return
	}
	if found {
		p.SetEnabled(enabled)
	}
}

func (m *Manager) run(ctx context.Context, origin Origin, setup SetupFunc) (*extension, error) {
	id := origin.ID()
	ext := &extension{id: id, origin: origin, setup: setup}
	s := &Setup{
		ctx:     ctx,
		manager: m,
		ext:     ext,
		logger:  m.logger.With("extension", id),
	}
	if err := callSetup(setup, s); err != nil {
		m.teardown(ext)
		if errors.Is(err, commands.ErrAlreadyExists) || errors.Is(err, commands.ErrLoad) {
			return nil, fmt.Errorf("extension %q: %w", id, err)
		}
		return nil, fmt.Errorf("%w: extension %q setup failed: %w", commands.ErrLoad, id, err)
	}
	ext.info.LoadedAt = time.Now()
	return ext, nil
}

func callSetup(setup SetupFunc, s *Setup) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("setup panicked: %v", r)
		}
	}()
	return setup(s)
}

// teardown removes what ext registered. Commands that were already removed,
// or replaced by another extension, are skipped.
func (m *Manager) teardown(ext *extension) {
	for _, name := range ext.plugins {
		p, ok := m.registry.Plugin(name)
		if !ok || p.Origin != ext.id {
			continue
		}
		if _, err := m.registry.RemovePlugin(name); err != nil && !errors.Is(err, commands.ErrNotFound) {
			m.logger.Warn("remove plugin failed", "extension", ext.id, "plugin", name, "error", err)
		}
	}
	for _, cmd := range ext.commands {
		current, ok := m.registry.Lookup(cmd.Name)
		if !ok || current != cmd {
			continue
		}
		if err := m.registry.Unregister(cmd.Name); err != nil && !errors.Is(err, commands.ErrNotFound) {
			m.logger.Warn("unregister command failed", "extension", ext.id, "command", cmd.Name, "error", err)
		}
	}
	m.bus.UnsubscribeSource(ext.id)
	for _, entry := range ext.schedules {
		m.cron.Remove(entry)
	}
}

func (m *Manager) finish(ctx context.Context, op string, event hooks.EventType, id string, info Extension, err error) {
	status := "ok"
	if err != nil {
		status = commands.Kind(err)
	}
	m.recorder.ObserveExtension(op, status)
	m.recorder.SetExtensionsLoaded(m.count())

	if err != nil {
		m.logger.Warn("extension "+op+" failed", "extension", id, "error", err)
		return
	}
	m.logger.Info("extension "+op+"ed", "extension", id, "plugins", info.Plugins, "commands", info.Commands)

	evt := hooks.NewEvent(event, id).
		WithPayload(info).
		WithContext("plugins", info.Plugins)
	if perr := m.bus.Publish(ctx, evt); perr != nil {
		m.logger.Warn("extension event subscriber failed", "event", evt.Key(), "error", perr)
	}
}

func (m *Manager) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loaded)
}

func resolve(ctx context.Context, origin Origin) (SetupFunc, error) {
	setup, err := origin.Resolve(ctx)
	if err != nil {
		if errors.Is(err, commands.ErrLoad) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: resolve extension %q: %w", commands.ErrLoad, origin.ID(), err)
	}
	if setup == nil {
		return nil, fmt.Errorf("%w: extension %q has no setup entry point", commands.ErrLoad, origin.ID())
	}
	return setup, nil
}

func (e *extension) snapshot() Extension {
	info := e.info
	info.ID = e.id
	info.Plugins = append([]string(nil), e.plugins...)
	info.Commands = make([]string, 0, len(e.commands))
	for _, cmd := range e.commands {
		info.Commands = append(info.Commands, cmd.Name)
	}
	info.Listeners = len(e.listeners)
	info.Schedules = len(e.schedules)
	return info
}
