package plugins

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/haasonsaas/cogbot/internal/commands"
	"github.com/haasonsaas/cogbot/internal/hooks"
	"github.com/haasonsaas/cogbot/pkg/models"
)

type sentMessage struct {
	ChatID string
	Text   string
}

type mockTransport struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (m *mockTransport) Send(_ context.Context, chatID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{ChatID: chatID, Text: text})
	return nil
}

func (m *mockTransport) ResolveChat(context.Context, string) (*models.Chat, error) {
	return nil, errors.New("not supported")
}

func (m *mockTransport) ResolveMember(context.Context, string, string) (*models.Member, error) {
	return nil, errors.New("not supported")
}

func (m *mockTransport) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

type extensionOp struct {
	Op     string
	Status string
}

type mockRecorder struct {
	mu     sync.Mutex
	ops    []extensionOp
	loaded int
}

func (r *mockRecorder) ObserveExtension(op, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, extensionOp{Op: op, Status: status})
}

func (r *mockRecorder) SetExtensionsLoaded(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = n
}

// mutableOrigin lets tests swap the setup between reloads.
type mutableOrigin struct {
	id         string
	mu         sync.Mutex
	setup      SetupFunc
	resolveErr error
}

func (o *mutableOrigin) ID() string { return o.id }

func (o *mutableOrigin) Resolve(context.Context) (SetupFunc, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.setup, o.resolveErr
}

func (o *mutableOrigin) set(setup SetupFunc, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.setup, o.resolveErr = setup, err
}

type harness struct {
	registry   *commands.Registry
	bus        *hooks.Bus
	dispatcher *commands.Dispatcher
	manager    *Manager
	recorder   *mockRecorder
	transport  *mockTransport
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	reg := commands.NewRegistry(nil)
	bus := hooks.NewBus(nil, hooks.WithDiagnostics(io.Discard))
	rec := &mockRecorder{}
	opts = append([]Option{WithRecorder(rec), WithOwners("42")}, opts...)
	m := NewManager(reg, bus, opts...)
	t.Cleanup(func() { m.Close() })
	tr := &mockTransport{}
	m.SetTransport("telegram", tr)
	return &harness{
		registry:   reg,
		bus:        bus,
		dispatcher: commands.NewDispatcher(reg, bus),
		manager:    m,
		recorder:   rec,
		transport:  tr,
	}
}

func (h *harness) dispatch(text string) *commands.Invocation {
	return h.dispatcher.Dispatch(context.Background(), h.transport, groupMessage(text))
}

func groupMessage(text string) *models.Message {
	return &models.Message{
		ID:      "1",
		Channel: models.ChannelTelegram,
		Chat:    models.Chat{ID: "-100", Kind: models.ChatSupergroup},
		Author:  models.User{ID: "42", Username: "alice"},
		Text:    text,
	}
}

func reply(text string) commands.HandlerFunc {
	return func(ctx context.Context, inv *commands.Invocation) error {
		return inv.Send(ctx, text)
	}
}
