package channels

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/haasonsaas/cogbot/internal/commands"
	"github.com/haasonsaas/cogbot/pkg/models"
)

type fakeAdapter struct {
	channel models.ChannelType
	inbound []*models.Message
	runErr  error

	mu      sync.Mutex
	sent    []string
	sendErr error
}

func (f *fakeAdapter) Type() models.ChannelType { return f.channel }

func (f *fakeAdapter) Send(_ context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, chatID+":"+text)
	return nil
}

func (f *fakeAdapter) ResolveChat(_ context.Context, chatID string) (*models.Chat, error) {
	return &models.Chat{ID: chatID}, nil
}

func (f *fakeAdapter) ResolveMember(_ context.Context, chatID, userID string) (*models.Member, error) {
	return &models.Member{ChatID: chatID, User: models.User{ID: userID}, Status: models.MemberRegular}, nil
}

func (f *fakeAdapter) Run(ctx context.Context, handle Handler) error {
	if f.runErr != nil {
		return f.runErr
	}
	for _, msg := range f.inbound {
		handle(ctx, f, msg)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeAdapter) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type countingRecorder struct {
	mu       sync.Mutex
	received int
	sent     int
	failed   []string
}

func (r *countingRecorder) MessageReceived(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received++
}

func (r *countingRecorder) MessageSent(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent++
}

func (r *countingRecorder) SendFailed(_ string, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, code)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	slack := &fakeAdapter{channel: models.ChannelSlack}
	telegram := &fakeAdapter{channel: models.ChannelTelegram}

	for _, a := range []Adapter{telegram, slack} {
		if err := r.Register(a); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	if err := r.Register(&fakeAdapter{channel: models.ChannelSlack}); err == nil {
		t.Error("expected error registering slack twice")
	}

	if got, ok := r.Get(models.ChannelTelegram); !ok || got != telegram {
		t.Errorf("Get(telegram) = %v, %v", got, ok)
	}
	if _, ok := r.Get(models.ChannelDiscord); ok {
		t.Error("Get(discord) found an adapter")
	}

	var types []models.ChannelType
	for _, a := range r.All() {
		types = append(types, a.Type())
	}
	if diff := cmp.Diff([]models.ChannelType{models.ChannelSlack, models.ChannelTelegram}, types); diff != "" {
		t.Errorf("All() mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistryRun(t *testing.T) {
	t.Run("stops on cancel", func(t *testing.T) {
		r := NewRegistry()
		a := &fakeAdapter{
			channel: models.ChannelTelegram,
			inbound: []*models.Message{{ID: "1", Text: "/ping"}},
		}
		_ = r.Register(a)

		ctx, cancel := context.WithCancel(context.Background())
		got := make(chan string, 1)
		done := make(chan error, 1)
		go func() {
			done <- r.Run(ctx, func(_ context.Context, _ commands.Transport, msg *models.Message) {
				got <- msg.Text
			})
		}()

		if text := <-got; text != "/ping" {
			t.Errorf("handled %q", text)
		}
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	})

	t.Run("first failure stops the rest", func(t *testing.T) {
		r := NewRegistry()
		_ = r.Register(&fakeAdapter{channel: models.ChannelTelegram})
		_ = r.Register(&fakeAdapter{channel: models.ChannelDiscord, runErr: errors.New("bad token")})

		err := r.Run(context.Background(), func(context.Context, commands.Transport, *models.Message) {})
		if err == nil || !strings.Contains(err.Error(), "discord: bad token") {
			t.Errorf("Run() error = %v", err)
		}
	})
}

func TestWrapRecordsAndPassesWrapper(t *testing.T) {
	inner := &fakeAdapter{
		channel: models.ChannelDiscord,
		inbound: []*models.Message{{ID: "1", Chat: models.Chat{ID: "c1"}, Text: "/ping"}},
	}
	rec := &countingRecorder{}
	wrapped := Wrap(inner, WrapOptions{Recorder: rec})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- wrapped.Run(ctx, func(ctx context.Context, tr commands.Transport, msg *models.Message) {
			if tr != wrapped {
				t.Error("handler did not receive the wrapper as transport")
			}
			_ = tr.Send(ctx, msg.Chat.ID, "pong")
			cancel()
		})
	}()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if diff := cmp.Diff([]string{"c1:pong"}, inner.messages()); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
	if rec.received != 1 || rec.sent != 1 {
		t.Errorf("received = %d, sent = %d", rec.received, rec.sent)
	}
}

func TestWrapSendFailure(t *testing.T) {
	inner := &fakeAdapter{
		channel: models.ChannelSlack,
		sendErr: NewError("slack", ErrCodeNotFound, "channel not found", nil),
	}
	rec := &countingRecorder{}
	err := Wrap(inner, WrapOptions{Recorder: rec}).Send(context.Background(), "C1", "hi")

	if GetErrorCode(err) != ErrCodeNotFound {
		t.Errorf("error code = %v", GetErrorCode(err))
	}
	if diff := cmp.Diff([]string{"not_found"}, rec.failed); diff != "" {
		t.Errorf("failed mismatch (-want +got):\n%s", diff)
	}
}

func TestWrapThrottle(t *testing.T) {
	inner := &fakeAdapter{channel: models.ChannelTelegram}
	rec := &countingRecorder{}
	wrapped := Wrap(inner, WrapOptions{RateLimit: 1, Burst: 1, Recorder: rec})

	if err := wrapped.Send(context.Background(), "1", "first"); err != nil {
		t.Fatalf("first Send() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := wrapped.Send(ctx, "1", "second")
	if GetErrorCode(err) != ErrCodeRateLimit {
		t.Fatalf("second Send() error = %v, want rate limited", err)
	}
	if !IsRetryable(err) {
		t.Error("throttle error should be retryable")
	}
	if diff := cmp.Diff([]string{"1:first"}, inner.messages()); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"channel error", NewError("telegram", ErrCodeAuthentication, "unauthorized", nil), ErrCodeAuthentication},
		{"wrapped", errors.Join(errors.New("ctx"), NewError("discord", ErrCodeNotFound, "x", nil)), ErrCodeNotFound},
		{"deadline", context.DeadlineExceeded, ErrCodeConnection},
		{"plain", errors.New("boom"), ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorCode(tt.err); got != tt.want {
				t.Errorf("GetErrorCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorString(t *testing.T) {
	err := NewError("slack", ErrCodeRateLimit, "slow down", errors.New("429"))
	if got := err.Error(); got != "[slack: rate_limited] slow down: 429" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, err.Err) {
		t.Error("Unwrap() lost the cause")
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{"blank", "   ", 10, nil},
		{"short", "hello", 10, []string{"hello"}},
		{"no limit", "hello world", 0, []string{"hello world"}},
		{"paragraph", "first part\n\nsecond part", 15, []string{"first part", "second part"}},
		{"line", "one two\nthree four", 12, []string{"one two", "three four"}},
		{"words", "alpha beta gamma", 11, []string{"alpha beta", "gamma"}},
		{"hard cut", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"runes", "ééééé", 2, []string{"éé", "éé", "é"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Split(tt.text, tt.limit)); diff != "" {
				t.Errorf("Split() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
