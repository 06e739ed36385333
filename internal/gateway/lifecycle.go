package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/cogbot/internal/channels"
	"github.com/haasonsaas/cogbot/internal/commands"
	"github.com/haasonsaas/cogbot/internal/plugins"
	"github.com/haasonsaas/cogbot/pkg/models"
)

// LoadExtensions loads the startup extensions: the configured builtins, then
// manifests, then shared objects. A failing extension is logged and skipped;
// all failures are returned joined.
func (s *Server) LoadExtensions(ctx context.Context) error {
	origins, err := s.catalog.Startup(s.config.Extensions.Builtins)
	if err != nil {
		return fmt.Errorf("discover extensions: %w", err)
	}
	var errs []error
	for _, origin := range origins {
		if err := s.manager.Load(ctx, origin); err != nil {
			s.logger.Error("extension failed to load", "extension", origin.ID(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", origin.ID(), err))
			continue
		}
	}
	s.logger.Info("extensions loaded",
		"loaded", len(s.manager.Extensions()),
		"failed", len(errs),
		"commands", len(s.registry.Names()))
	return errors.Join(errs...)
}

// Start loads extensions if none are loaded yet, connects every configured
// channel and dispatches inbound messages until ctx is cancelled or a
// channel fails.
func (s *Server) Start(ctx context.Context) error {
	s.startTime = time.Now()

	lock, err := AcquireInstanceLock(InstanceLockOptions{
		StateDir: s.config.Bot.StateDir,
		Channels: enabledChannels(s.config.Channels),
	})
	if err != nil {
		return err
	}
	s.lock = lock

	if len(s.manager.Extensions()) == 0 {
		if err := s.LoadExtensions(ctx); err != nil {
			s.logger.Warn("some extensions failed to load", "error", err)
		}
	}

	if s.config.Extensions.Watch {
		paths := append(append([]string(nil), s.config.Extensions.Paths...), s.config.Extensions.Manifests...)
		s.watcher = plugins.NewWatcher(s.manager, paths, s.config.Extensions.WatchDebounce)
		if err := s.watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start extension watcher: %w", err)
		}
	}

	if err := s.attachChannels(); err != nil {
		return fmt.Errorf("failed to create channels: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}

	if len(s.channels.All()) == 0 {
		s.logger.Warn("no channels enabled; commands can only be run by scheduled tasks")
		<-ctx.Done()
		return nil
	}
	s.logger.Info("bot started", "channels", len(s.channels.All()), "prefix", s.config.Bot.Prefix)
	return s.channels.Run(ctx, s.handleMessage)
}

// attachChannels wraps every adapter with throttling and metrics, registers it
// and makes it available to extensions as a transport.
func (s *Server) attachChannels() error {
	if s.adapters == nil {
		adapters, err := buildAdapters(s.config.Channels, s.logger)
		if err != nil {
			return err
		}
		s.adapters = adapters
	}
	s.channels = channels.NewRegistry()
	for _, adapter := range s.adapters {
		throttle := throttleFor(s.config.Channels, adapter.Type())
		wrapped := channels.Wrap(adapter, channels.WrapOptions{
			RateLimit: throttle.RateLimit,
			Burst:     throttle.Burst,
			Recorder:  s.metrics,
			Logger:    s.logger,
		})
		if err := s.channels.Register(wrapped); err != nil {
			return err
		}
		s.manager.SetTransport(string(adapter.Type()), wrapped)
	}
	return nil
}

func (s *Server) handleMessage(ctx context.Context, tr commands.Transport, msg *models.Message) {
	s.logger.Debug("received message",
		"channel", msg.Channel,
		"chat_id", msg.Chat.ID,
		"content_length", len(msg.Text))
	s.dispatcher.Dispatch(ctx, tr, msg)
}

// Stop releases everything Start and NewServer acquired, unloading every
// extension on the way.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping bot")
	var errs []error
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close watcher: %w", err))
		}
	}
	s.stopHTTPServer(ctx)
	if err := s.closeCore(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.lock.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release instance lock: %w", err))
	}
	return errors.Join(errs...)
}

// closeCore unloads extensions, closes the store and flushes traces.
func (s *Server) closeCore(ctx context.Context) error {
	var errs []error
	if s.manager != nil {
		if err := s.manager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close extension manager: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if s.shutdownFn != nil {
		if err := s.shutdownFn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush traces: %w", err))
		}
	}
	return errors.Join(errs...)
}
