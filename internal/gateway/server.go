// Package gateway assembles the bot: configuration, observability, the
// command registry and dispatcher, the extension manager and the chat
// transports.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/cogbot/internal/builtins"
	"github.com/haasonsaas/cogbot/internal/channels"
	"github.com/haasonsaas/cogbot/internal/commands"
	"github.com/haasonsaas/cogbot/internal/config"
	"github.com/haasonsaas/cogbot/internal/hooks"
	"github.com/haasonsaas/cogbot/internal/observability"
	"github.com/haasonsaas/cogbot/internal/plugins"
	"github.com/haasonsaas/cogbot/internal/storage"
)

// Server is the running bot.
type Server struct {
	config     *config.Config
	configPath string
	version    string
	logger     *slog.Logger

	promRegistry *prometheus.Registry
	metrics      *observability.Metrics
	tracer       trace.Tracer
	shutdownFn   func(context.Context) error

	registry     *commands.Registry
	bus          *hooks.Bus
	dispatcher   *commands.Dispatcher
	store        storage.ToggleStore
	sources      *plugins.Sources
	extraSources []func(*plugins.Sources) error
	catalog      *plugins.Catalog
	manager      *plugins.Manager
	watcher      *plugins.Watcher

	channels *channels.Registry
	adapters []channels.Adapter

	lock         *InstanceLockHandle
	startTime    time.Time
	httpServer   *http.Server
	httpListener net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithConfigPath records the config file the server was built from.
func WithConfigPath(path string) Option {
	return func(s *Server) {
		s.configPath = path
	}
}

// WithVersion sets the version reported in traces and /healthz.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithAdapters replaces the adapters built from configuration.
func WithAdapters(adapters ...channels.Adapter) Option {
	return func(s *Server) {
		s.adapters = adapters
	}
}

// WithStore replaces the toggle store built from configuration.
func WithStore(store storage.ToggleStore) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithSources adds in-process extensions before the server registers the
// core extension.
func WithSources(register func(*plugins.Sources) error) Option {
	return func(s *Server) {
		s.extraSources = append(s.extraSources, register)
	}
}

// NewServer builds every component from cfg without connecting to any chat
// platform. Extensions are not loaded until LoadExtensions or Start, and
// adapters are not created until Start.
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:       cfg,
		version:      "dev",
		logger:       logger,
		promRegistry: prometheus.NewRegistry(),
		sources:      plugins.NewSources(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, register := range s.extraSources {
		if err := register(s.sources); err != nil {
			return nil, fmt.Errorf("register extension sources: %w", err)
		}
	}
	s.metrics = observability.NewMetrics(s.promRegistry)

	tracer, shutdown, err := observability.NewTracer(ctx, s.traceConfig())
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	s.tracer, s.shutdownFn = tracer, shutdown

	if s.store == nil {
		store, err := openStore(cfg.Storage)
		if err != nil {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("storage: %w", err)
		}
		s.store = store
	}

	s.registry = commands.NewRegistry(logger)
	s.bus = hooks.NewBus(logger)
	s.dispatcher = commands.NewDispatcher(s.registry, s.bus,
		commands.WithParser(commands.NewParser(cfg.Bot.Prefix, cfg.Bot.Username)),
		commands.WithRecorder(s.metrics),
		commands.WithTracer(s.tracer),
		commands.WithLogger(logger),
	)
	s.manager = plugins.NewManager(s.registry, s.bus,
		plugins.WithStore(s.store),
		plugins.WithRecorder(s.metrics),
		plugins.WithLogger(logger),
		plugins.WithOwners(cfg.Bot.Owners...),
		plugins.WithExtensionConfig(cfg.Extensions.Settings),
	)

	s.catalog = &plugins.Catalog{
		Sources:       s.sources,
		Manifests:     cfg.Extensions.Manifests,
		Paths:         cfg.Extensions.Paths,
		SharedObjects: cfg.Extensions.SharedObjects,
	}
	if err := builtins.Register(s.sources, s.catalog); err != nil {
		_ = s.closeCore(ctx)
		return nil, err
	}

	return s, nil
}

func (s *Server) traceConfig() observability.TraceConfig {
	tc := observability.TraceConfig{
		ServiceName:    s.config.Tracing.ServiceName,
		ServiceVersion: s.version,
		SamplingRate:   s.config.Tracing.SampleRate,
		Insecure:       s.config.Tracing.Insecure,
	}
	if s.config.Tracing.Enabled {
		tc.Endpoint = s.config.Tracing.Endpoint
	}
	return tc
}

func openStore(cfg config.StorageConfig) (storage.ToggleStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return storage.NewMemoryStore(), nil
	default:
		return storage.NewSQLStore(cfg.Driver, cfg.DSN, nil)
	}
}

// Registry returns the command registry.
func (s *Server) Registry() *commands.Registry { return s.registry }

// Manager returns the extension manager.
func (s *Server) Manager() *plugins.Manager { return s.manager }

// Dispatcher returns the command dispatcher.
func (s *Server) Dispatcher() *commands.Dispatcher { return s.dispatcher }

// Bus returns the event bus.
func (s *Server) Bus() *hooks.Bus { return s.bus }

// Catalog returns the catalog "ext load" resolves ids against.
func (s *Server) Catalog() *plugins.Catalog { return s.catalog }

// Gatherer exposes the server's metrics.
func (s *Server) Gatherer() prometheus.Gatherer { return s.promRegistry }
