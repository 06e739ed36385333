package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/cogbot/internal/hooks"
	"github.com/haasonsaas/cogbot/pkg/models"
)

// Recorder receives one observation per dispatched command.
type Recorder interface {
	ObserveCommand(command, status string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCommand(string, string, time.Duration) {}

// Dispatcher routes messages to commands.
type Dispatcher struct {
	registry *Registry
	bus      *hooks.Bus
	parser   *Parser
	recorder Recorder
	tracer   trace.Tracer
	logger   *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithParser sets the invocation parser.
func WithParser(p *Parser) DispatcherOption {
	return func(d *Dispatcher) {
		d.parser = p
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) DispatcherOption {
	return func(d *Dispatcher) {
		d.recorder = r
	}
}

// WithTracer sets the tracer used for dispatch spans.
func WithTracer(t trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) {
		d.tracer = t
	}
}

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// NewDispatcher creates a dispatcher over registry that reports through bus.
func NewDispatcher(registry *Registry, bus *hooks.Bus, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		bus:      bus,
		parser:   NewParser(DefaultPrefix, ""),
		recorder: nopRecorder{},
		tracer:   otel.Tracer("github.com/haasonsaas/cogbot/internal/commands"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatcher")
	return d
}

// Dispatch runs the command msg invokes, if any, and returns the invocation.
// It returns nil when msg is not a command or names no registered command.
//
// Argument, check and handler failures (including panics) never escape: they
// are stored in inv.Err and published as command_error.
func (d *Dispatcher) Dispatch(ctx context.Context, tr Transport, msg *models.Message) *Invocation {
	if msg == nil {
		return nil
	}
	parsed, ok := d.parser.Parse(msg.Text)
	if !ok {
		return nil
	}
	cmd, ok := d.registry.Lookup(parsed.Name)
	if !ok {
		d.logger.Debug("unknown command", "name", parsed.Name, "chat_id", msg.Chat.ID)
		return nil
	}

	inv := &Invocation{
		ID:          uuid.New().String(),
		Command:     cmd,
		Message:     msg,
		Chat:        msg.Chat,
		Author:      msg.Author,
		Prefix:      parsed.Prefix,
		InvokedWith: parsed.Name,
		Path:        cmd.Name,
		Content:     parsed.Content,
		Tokens:      parsed.Tokens,
		Kwargs:      make(map[string]any),
		Transport:   tr,
		typed:       parsed.RawName,
	}
	resolveErr := resolveGroup(inv)

	ctx, span := d.tracer.Start(ctx, "command "+inv.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("command.path", inv.Path),
			attribute.String("command.invocation_id", inv.ID),
			attribute.String("chat.id", inv.Chat.ID),
			attribute.String("channel", string(msg.Channel)),
		))
	defer span.End()

	start := time.Now()
	d.publish(ctx, hooks.NewEvent(hooks.EventCommand, inv.Path).WithPayload(inv))

	if resolveErr != nil {
		inv.Err = resolveErr
	} else {
		inv.Err = d.invoke(ctx, inv)
	}

	status := "ok"
	if inv.Err != nil {
		status = Kind(inv.Err)
		span.RecordError(inv.Err)
		span.SetStatus(codes.Error, status)
	}
	span.SetAttributes(attribute.String("command.status", status))
	d.recorder.ObserveCommand(inv.Path, status, time.Since(start))

	if inv.Err != nil {
		d.logger.Debug("command failed",
			"command", inv.Path,
			"invocation_id", inv.ID,
			"kind", status,
			"error", inv.Err)
		d.publish(ctx, hooks.NewEvent(hooks.EventCommandError, inv.Path).
			WithPayload(inv).
			WithError(inv.Err).
			WithContext("kind", status))
		return inv
	}

	d.publish(ctx, hooks.NewEvent(hooks.EventCommandCompletion, inv.Path).WithPayload(inv))
	return inv
}

// invoke binds arguments, runs the check pipeline and calls the handler.
func (d *Dispatcher) invoke(ctx context.Context, inv *Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic in command %q: %v", inv.Path, r)
		}
	}()

	cmd := inv.Command
	args, kwargs, err := Bind(ctx, inv, cmd.Params, inv.Tokens)
	if err != nil {
		return errors.WithStack(err)
	}
	inv.Args, inv.Kwargs = args, kwargs

	if err := runChecks(ctx, inv); err != nil {
		return errors.WithStack(err)
	}
	if err := cmd.Handler(ctx, inv); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (d *Dispatcher) publish(ctx context.Context, event *hooks.Event) {
	if d.bus == nil {
		return
	}
	if err := d.bus.Publish(ctx, event); err != nil {
		d.logger.Warn("event subscriber failed", "event", event.Type, "command", event.Action, "error", err)
	}
}

// resolveGroup descends into sub-commands while the first remaining token
// names a child. Each step consumes one token and strips the group name, as
// typed, from the content.
func resolveGroup(inv *Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic resolving command %q: %v", inv.Path, r)
		}
	}()
	for inv.Command.IsGroup() && len(inv.Tokens) > 0 {
		child, ok := inv.Command.Child(inv.Tokens[0])
		if !ok {
			return nil
		}
		inv.Content = stripName(inv.Content, inv.typed)
		inv.typed = inv.Tokens[0]
		inv.InvokedWith = normalize(inv.Tokens[0])
		inv.Tokens = inv.Tokens[1:]
		inv.Command = child
		inv.Path += " " + child.Name
	}
	return nil
}

// stripName removes the leftmost occurrence of name, and the whitespace that
// follows it, from content. name must be spelled exactly as in content.
func stripName(content, name string) string {
	i := strings.Index(content, name)
	if name == "" || i < 0 {
		return content
	}
	rest := strings.TrimLeft(content[i+len(name):], " \t\n")
	return content[:i] + rest
}
