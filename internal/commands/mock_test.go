package commands

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/cogbot/pkg/models"
)

type sentMessage struct {
	ChatID string
	Text   string
}

// mockTransport implements Transport for tests.
type mockTransport struct {
	mu      sync.Mutex
	sent    []sentMessage
	members map[string]*models.Member // "chat/user" -> member
	chats   map[string]*models.Chat
	err     error
	lookups int
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		members: make(map[string]*models.Member),
		chats:   make(map[string]*models.Chat),
	}
}

func (m *mockTransport) Send(ctx context.Context, chatID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{ChatID: chatID, Text: text})
	return nil
}

func (m *mockTransport) ResolveChat(ctx context.Context, chatID string) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.err != nil {
		return nil, m.err
	}
	chat, ok := m.chats[chatID]
	if !ok {
		return nil, fmt.Errorf("chat %s not found", chatID)
	}
	return chat, nil
}

func (m *mockTransport) ResolveMember(ctx context.Context, chatID, userID string) (*models.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.err != nil {
		return nil, m.err
	}
	member, ok := m.members[chatID+"/"+userID]
	if !ok {
		return nil, fmt.Errorf("user %s not in chat %s", userID, chatID)
	}
	return member, nil
}

func (m *mockTransport) addMember(chatID string, user models.User, status models.MemberStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[chatID+"/"+user.ID] = &models.Member{ChatID: chatID, User: user, Status: status}
}

func (m *mockTransport) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

func noop(ctx context.Context, inv *Invocation) error { return nil }

func groupMessage(text string) *models.Message {
	return &models.Message{
		ID:      "1",
		Channel: models.ChannelTelegram,
		Chat:    models.Chat{ID: "-100", Kind: models.ChatSupergroup, Title: "testers"},
		Author:  models.User{ID: "42", Username: "alice"},
		Text:    text,
	}
}

func privateMessage(text string) *models.Message {
	msg := groupMessage(text)
	msg.Chat = models.Chat{ID: "42", Kind: models.ChatPrivate}
	return msg
}
