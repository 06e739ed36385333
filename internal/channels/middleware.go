package channels

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/haasonsaas/cogbot/internal/commands"
	"github.com/haasonsaas/cogbot/pkg/models"
)

// Recorder counts messages flowing through an adapter.
type Recorder interface {
	MessageReceived(channel string)
	MessageSent(channel string)
	SendFailed(channel, code string)
}

type nopRecorder struct{}

func (nopRecorder) MessageReceived(string)    {}
func (nopRecorder) MessageSent(string)        {}
func (nopRecorder) SendFailed(string, string) {}

// WrapOptions configures Wrap.
type WrapOptions struct {
	// RateLimit is outbound sends per second; 0 disables throttling
	RateLimit float64
	Burst     int

	Recorder Recorder
	Logger   *slog.Logger
}

// Wrap returns an adapter that throttles outbound sends and records message
// counts. Inbound handlers receive the wrapper as their transport, so replies
// are throttled too.
func Wrap(adapter Adapter, opts WrapOptions) Adapter {
	w := &wrapped{
		Adapter:  adapter,
		recorder: opts.Recorder,
		logger:   opts.Logger,
	}
	if w.recorder == nil {
		w.recorder = nopRecorder{}
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("channel", string(adapter.Type()))
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return w
}

type wrapped struct {
	Adapter
	limiter  *rate.Limiter
	recorder Recorder
	logger   *slog.Logger
}

func (w *wrapped) Send(ctx context.Context, chatID, text string) error {
	channel := string(w.Type())
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			w.recorder.SendFailed(channel, string(ErrCodeRateLimit))
			return NewError(channel, ErrCodeRateLimit, "throttle wait cancelled", err)
		}
	}
	if err := w.Adapter.Send(ctx, chatID, text); err != nil {
		code := GetErrorCode(err)
		w.recorder.SendFailed(channel, string(code))
		w.logger.Warn("send failed", "chat_id", chatID, "code", code, "error", err)
		return err
	}
	w.recorder.MessageSent(channel)
	return nil
}

func (w *wrapped) Run(ctx context.Context, handle Handler) error {
	return w.Adapter.Run(ctx, func(ctx context.Context, _ commands.Transport, msg *models.Message) {
		w.recorder.MessageReceived(string(w.Type()))
		handle(ctx, w, msg)
	})
}
