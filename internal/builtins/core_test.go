package builtins

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/haasonsaas/cogbot/internal/commands"
	"github.com/haasonsaas/cogbot/internal/hooks"
	"github.com/haasonsaas/cogbot/internal/plugins"
	"github.com/haasonsaas/cogbot/pkg/models"
)

const owner = "42"

type mockTransport struct {
	mu   sync.Mutex
	sent []string
}

func (m *mockTransport) Send(_ context.Context, _, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, text)
	return nil
}

func (m *mockTransport) ResolveChat(context.Context, string) (*models.Chat, error) {
	return nil, errors.New("not supported")
}

func (m *mockTransport) ResolveMember(context.Context, string, string) (*models.Member, error) {
	return nil, errors.New("not supported")
}

// take returns and clears the messages sent so far.
func (m *mockTransport) take() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sent
	m.sent = nil
	return out
}

type harness struct {
	sources    *plugins.Sources
	manager    *plugins.Manager
	dispatcher *commands.Dispatcher
	transport  *mockTransport
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := commands.NewRegistry(nil)
	bus := hooks.NewBus(nil, hooks.WithDiagnostics(io.Discard))
	m := plugins.NewManager(reg, bus, plugins.WithOwners(owner))
	t.Cleanup(func() { m.Close() })

	sources := plugins.NewSources()
	if err := Register(sources, nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	err := sources.RegisterOrigin("greetings", func(s *plugins.Setup) error {
		return s.AddPlugin(&commands.Plugin{Name: "greetings", Description: "Say hello"},
			commands.New("hello", func(ctx context.Context, inv *commands.Invocation) error {
				return inv.Send(ctx, "hello!")
			}, commands.WithDescription("Greet the chat")))
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Load(context.Background(), sources.Builtin(CoreID)); err != nil {
		t.Fatalf("Load(core) error = %v", err)
	}
	return &harness{
		sources:    sources,
		manager:    m,
		dispatcher: commands.NewDispatcher(reg, bus),
		transport:  &mockTransport{},
	}
}

func (h *harness) send(t *testing.T, author, text string) []string {
	t.Helper()
	h.dispatcher.Dispatch(context.Background(), h.transport, &models.Message{
		ID:      "1",
		Channel: models.ChannelTelegram,
		Chat:    models.Chat{ID: "-100", Kind: models.ChatSupergroup},
		Author:  models.User{ID: author, Username: "alice"},
		Text:    text,
	})
	return h.transport.take()
}

func TestPing(t *testing.T) {
	h := newHarness(t)
	if diff := cmp.Diff([]string{"@alice pong"}, h.send(t, "7", "/ping")); diff != "" {
		t.Errorf("ping mismatch (-want +got):\n%s", diff)
	}
}

func TestHelp(t *testing.T) {
	h := newHarness(t)

	overview := h.send(t, "7", "/help")
	if len(overview) != 1 {
		t.Fatalf("help sent %d messages", len(overview))
	}
	for _, want := range []string{"core", "/help - Show this message", "/ping - ", "/ext - Manage extensions"} {
		if !strings.Contains(overview[0], want) {
			t.Errorf("overview missing %q:\n%s", want, overview[0])
		}
	}

	tests := []struct {
		text string
		want string
	}{
		{"/help ping", "/ping - Check that the bot is responding"},
		{"/help ext load", "/ext load <id> - Load an extension"},
		{"/help nothing", "@alice " + notFoundReply},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := h.send(t, "7", tt.text)
			if len(got) != 1 || !strings.HasPrefix(got[0], tt.want) {
				t.Errorf("reply = %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func TestExtRequiresOwner(t *testing.T) {
	h := newHarness(t)
	for _, text := range []string{"/ext", "/ext list", "/ext load greetings", "/ext disable core"} {
		if got := h.send(t, "7", text); len(got) != 0 {
			t.Errorf("%s by non-owner replied %q", text, got)
		}
	}
	if h.manager.Loaded("greetings") {
		t.Error("non-owner loaded an extension")
	}
}

func TestExtLifecycle(t *testing.T) {
	h := newHarness(t)

	steps := []struct {
		text string
		want string
	}{
		{"/ext load greetings", "@alice Loaded greetings."},
		{"/hello", "hello!"},
		{"/ext list", "Loaded extensions:\ncore [core]\ngreetings [greetings]"},
		{"/ext reload greetings", "@alice Reloaded greetings."},
		{"/ext ls", "Loaded extensions:\ncore [core]\ngreetings [greetings] reloaded 1 times"},
		{"/ext disable greetings", "@alice Disabled greetings."},
		{"/ext enable greetings", "@alice Enabled greetings."},
		{"/hello", "hello!"},
		{"/ext unload greetings", "@alice Unloaded greetings."},
	}
	for _, step := range steps {
		if diff := cmp.Diff([]string{step.want}, h.send(t, owner, step.text)); diff != "" {
			t.Fatalf("%s mismatch (-want +got):\n%s", step.text, diff)
		}
	}
	if got := h.send(t, owner, "/hello"); len(got) != 0 {
		t.Errorf("unloaded command replied %q", got)
	}
}

func TestExtDisabledPluginIsSilent(t *testing.T) {
	h := newHarness(t)
	h.send(t, owner, "/ext load greetings")
	h.send(t, owner, "/ext disable greetings")
	if got := h.send(t, owner, "/hello"); len(got) != 0 {
		t.Errorf("disabled command replied %q", got)
	}
}

func TestExtFailures(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		text string
		want string
	}{
		{"/ext load missing", "@alice Could not load missing (not_found)"},
		{"/ext load core", "@alice Could not load core (already_exists)"},
		{"/ext unload greetings", "@alice Could not unload greetings (not_found)"},
		{"/ext reload greetings", "@alice Could not reload greetings (not_found)"},
		{"/ext enable nope", "@alice Could not enable nope (not_found)"},
		{"/ext unload core", "@alice Refusing to unload core"},
		{"/ext disable core", "@alice Refusing to disable core."},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := h.send(t, owner, tt.text)
			if len(got) != 1 || !strings.HasPrefix(got[0], tt.want) {
				t.Errorf("reply = %q, want prefix %q", got, tt.want)
			}
		})
	}
	if !h.manager.Loaded(CoreID) {
		t.Error("core was unloaded")
	}
}

type stubResolver map[string]plugins.Origin

func (r stubResolver) Origin(id string) (plugins.Origin, error) {
	if o, ok := r[id]; ok {
		return o, nil
	}
	return nil, commands.ErrNotFound
}

func TestSetupWithResolver(t *testing.T) {
	reg := commands.NewRegistry(nil)
	bus := hooks.NewBus(nil, hooks.WithDiagnostics(io.Discard))
	m := plugins.NewManager(reg, bus, plugins.WithOwners(owner))
	t.Cleanup(func() { m.Close() })

	loaded := false
	resolver := stubResolver{"extra": plugins.Func("extra", func(*plugins.Setup) error {
		loaded = true
		return nil
	})}
	if err := m.Load(context.Background(), plugins.Func(CoreID, Setup(resolver))); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tr := &mockTransport{}
	commands.NewDispatcher(reg, bus).Dispatch(context.Background(), tr, &models.Message{
		Chat:   models.Chat{ID: "1", Kind: models.ChatPrivate},
		Author: models.User{ID: owner},
		Text:   "/ext load extra",
	})
	if !loaded || !m.Loaded("extra") {
		t.Error("resolver origin was not loaded")
	}
	if diff := cmp.Diff([]string{"Loaded extra."}, tr.take()); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
}
