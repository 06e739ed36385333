// Package telegram is the Telegram transport, built on go-telegram/bot with
// long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/haasonsaas/cogbot/internal/channels"
	"github.com/haasonsaas/cogbot/pkg/models"
)

const channelName = string(models.ChannelTelegram)

// BotClient is the subset of *bot.Bot the adapter uses.
type BotClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
	GetChat(ctx context.Context, params *bot.GetChatParams) (*tgmodels.ChatFullInfo, error)
	GetChatMember(ctx context.Context, params *bot.GetChatMemberParams) (*tgmodels.ChatMember, error)

	// Start long-polls for updates until ctx is cancelled.
	Start(ctx context.Context)
}

// Config holds configuration for the Telegram adapter.
type Config struct {
	// Token is the bot token from @BotFather (required)
	Token string

	Logger *slog.Logger
}

// Adapter implements channels.Adapter for Telegram.
type Adapter struct {
	client BotClient
	logger *slog.Logger

	mu     sync.RWMutex
	handle channels.Handler
}

// NewAdapter creates the bot client. go-telegram/bot verifies the token with
// getMe here, so a bad token fails immediately.
func NewAdapter(config Config) (*Adapter, error) {
	if strings.TrimSpace(config.Token) == "" {
		return nil, channels.NewError(channelName, channels.ErrCodeConfig, "token is required", nil)
	}
	a := newAdapter(config.Logger)
	b, err := bot.New(config.Token, bot.WithDefaultHandler(a.onUpdate))
	if err != nil {
		return nil, channels.NewError(channelName, channels.ErrCodeAuthentication, "failed to create bot", err)
	}
	a.client = b
	return a, nil
}

// NewAdapterWithClient creates an adapter around an existing client. Updates
// must be fed to HandleUpdate by the caller.
func NewAdapterWithClient(client BotClient, logger *slog.Logger) *Adapter {
	a := newAdapter(logger)
	a.client = client
	return a
}

func newAdapter(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{logger: logger.With("adapter", channelName)}
}

func (a *Adapter) Type() models.ChannelType {
	return models.ChannelTelegram
}

// Run long-polls for updates and passes each text message to handle.
func (a *Adapter) Run(ctx context.Context, handle channels.Handler) error {
	a.mu.Lock()
	a.handle = handle
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.handle = nil
		a.mu.Unlock()
	}()

	a.logger.Info("starting long polling")
	a.client.Start(ctx)
	a.logger.Info("long polling stopped")
	return nil
}

func (a *Adapter) onUpdate(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	a.HandleUpdate(ctx, update)
}

// HandleUpdate converts update and passes it to the running handler. Updates
// without a text message, sent by bots, or received while not running are
// dropped.
func (a *Adapter) HandleUpdate(ctx context.Context, update *tgmodels.Update) {
	if update == nil || update.Message == nil || update.Message.Text == "" {
		return
	}
	if update.Message.From != nil && update.Message.From.IsBot {
		return
	}
	a.mu.RLock()
	handle := a.handle
	a.mu.RUnlock()
	if handle == nil {
		return
	}
	handle(ctx, a, convertMessage(update.Message))
}

// Send delivers text to chatID, split at Telegram's message limit.
func (a *Adapter) Send(ctx context.Context, chatID, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	for _, chunk := range channels.Split(text, channels.TelegramMaxLength) {
		if _, err := a.client.SendMessage(ctx, &bot.SendMessageParams{ChatID: id, Text: chunk}); err != nil {
			return classify("send message", err)
		}
	}
	return nil
}

func (a *Adapter) ResolveChat(ctx context.Context, chatID string) (*models.Chat, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return nil, err
	}
	chat, err := a.client.GetChat(ctx, &bot.GetChatParams{ChatID: id})
	if err != nil {
		return nil, classify("get chat", err)
	}
	return &models.Chat{
		ID:       strconv.FormatInt(chat.ID, 10),
		Kind:     models.ChatKind(string(chat.Type)),
		Title:    chatTitle(chat.Title, chat.FirstName, chat.LastName),
		Username: chat.Username,
	}, nil
}

func (a *Adapter) ResolveMember(ctx context.Context, chatID, userID string) (*models.Member, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return nil, err
	}
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return nil, channels.NewError(channelName, channels.ErrCodeInvalidInput, fmt.Sprintf("invalid user id %q", userID), err)
	}
	member, err := a.client.GetChatMember(ctx, &bot.GetChatMemberParams{ChatID: id, UserID: uid})
	if err != nil {
		return nil, classify("get chat member", err)
	}
	return &models.Member{
		ChatID: chatID,
		User:   models.User{ID: userID},
		Status: memberStatus(string(member.Type)),
	}, nil
}

func convertMessage(msg *tgmodels.Message) *models.Message {
	out := &models.Message{
		ID:      strconv.Itoa(msg.ID),
		Channel: models.ChannelTelegram,
		Chat: models.Chat{
			ID:       strconv.FormatInt(msg.Chat.ID, 10),
			Kind:     models.ChatKind(string(msg.Chat.Type)),
			Title:    chatTitle(msg.Chat.Title, msg.Chat.FirstName, msg.Chat.LastName),
			Username: msg.Chat.Username,
		},
		Text:      msg.Text,
		CreatedAt: time.Unix(int64(msg.Date), 0),
	}
	if msg.From != nil {
		out.Author = models.User{
			ID:          strconv.FormatInt(msg.From.ID, 10),
			Username:    msg.From.Username,
			DisplayName: strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
			IsBot:       msg.From.IsBot,
		}
	}
	return out
}

func chatTitle(title, first, last string) string {
	if title != "" {
		return title
	}
	return strings.TrimSpace(first + " " + last)
}

// memberStatus maps Telegram's chat member status strings.
func memberStatus(status string) models.MemberStatus {
	switch status {
	case "creator":
		return models.MemberOwner
	case "administrator":
		return models.MemberAdmin
	case "restricted":
		return models.MemberRestricted
	case "left":
		return models.MemberLeft
	case "kicked":
		return models.MemberBanned
	default:
		return models.MemberRegular
	}
}

// parseChatID accepts numeric chat ids and @channelusername.
func parseChatID(chatID string) (any, error) {
	if strings.HasPrefix(chatID, "@") && len(chatID) > 1 {
		return chatID, nil
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, channels.NewError(channelName, channels.ErrCodeInvalidInput, fmt.Sprintf("invalid chat id %q", chatID), err)
	}
	return id, nil
}

// classify maps Bot API error descriptions to channel error codes.
func classify(op string, err error) error {
	msg := strings.ToLower(err.Error())
	code := channels.ErrCodeInternal
	switch {
	case strings.Contains(msg, "too many requests"):
		code = channels.ErrCodeRateLimit
	case strings.Contains(msg, "unauthorized"):
		code = channels.ErrCodeAuthentication
	case strings.Contains(msg, "not found"):
		code = channels.ErrCodeNotFound
	case strings.Contains(msg, "bad request"):
		code = channels.ErrCodeInvalidInput
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "connection"):
		code = channels.ErrCodeConnection
	}
	return channels.NewError(channelName, code, op, err)
}
