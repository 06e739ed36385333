// Package discord is the Discord transport, built on discordgo's gateway
// session.
package discord

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/cogbot/internal/channels"
	"github.com/haasonsaas/cogbot/pkg/models"
)

const channelName = string(models.ChannelDiscord)

// Session is the subset of *discordgo.Session the adapter uses.
type Session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
}

// Config holds configuration for the Discord adapter.
type Config struct {
	// Token is the bot token from the Discord Developer Portal (required)
	Token string

	Logger *slog.Logger
}

// Adapter implements channels.Adapter for Discord.
type Adapter struct {
	session Session
	logger  *slog.Logger

	mu     sync.RWMutex
	ctx    context.Context
	handle channels.Handler
}

// NewAdapter creates a gateway session that receives guild and direct
// messages, including their content.
func NewAdapter(config Config) (*Adapter, error) {
	if strings.TrimSpace(config.Token) == "" {
		return nil, channels.NewError(channelName, channels.ErrCodeConfig, "token is required", nil)
	}
	dg, err := discordgo.New("Bot " + config.Token)
	if err != nil {
		return nil, channels.NewError(channelName, channels.ErrCodeAuthentication, "failed to create session", err)
	}
	dg.Identify.Intents = discordgo.IntentGuildMessages |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent
	return NewAdapterWithSession(dg, config.Logger), nil
}

// NewAdapterWithSession creates an adapter around an existing session.
func NewAdapterWithSession(session Session, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{session: session, logger: logger.With("adapter", channelName)}
}

func (a *Adapter) Type() models.ChannelType {
	return models.ChannelDiscord
}

// Run opens the gateway connection and passes each message to handle until
// ctx is cancelled. discordgo reconnects dropped connections itself.
func (a *Adapter) Run(ctx context.Context, handle channels.Handler) error {
	a.mu.Lock()
	a.ctx, a.handle = ctx, handle
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.handle = nil
		a.mu.Unlock()
	}()

	remove := a.session.AddHandler(a.onMessageCreate)
	defer remove()

	if err := a.session.Open(); err != nil {
		return classify("open gateway", err)
	}
	a.logger.Info("gateway connected")

	<-ctx.Done()

	if err := a.session.Close(); err != nil {
		a.logger.Warn("failed to close gateway", "error", err)
	}
	return nil
}

func (a *Adapter) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	a.HandleMessage(m)
}

// HandleMessage passes a gateway message to the running handler. Messages
// from bots, without content, or received while not running are dropped.
func (a *Adapter) HandleMessage(m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot || m.Content == "" {
		return
	}
	a.mu.RLock()
	ctx, handle := a.ctx, a.handle
	a.mu.RUnlock()
	if handle == nil {
		return
	}
	handle(ctx, a, convertMessage(m.Message))
}

// Send delivers text to a channel, split at Discord's message limit.
func (a *Adapter) Send(ctx context.Context, chatID, text string) error {
	for _, chunk := range channels.Split(text, channels.DiscordMaxLength) {
		if _, err := a.session.ChannelMessageSend(chatID, chunk, discordgo.WithContext(ctx)); err != nil {
			return classify("send message", err)
		}
	}
	return nil
}

func (a *Adapter) ResolveChat(ctx context.Context, chatID string) (*models.Chat, error) {
	ch, err := a.session.Channel(chatID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("get channel", err)
	}
	return &models.Chat{
		ID:      ch.ID,
		Kind:    chatKind(ch.Type),
		Title:   ch.Name,
		GuildID: ch.GuildID,
	}, nil
}

// ResolveMember reports the guild owner as owner and members holding the
// Administrator permission in the channel as admins. Users in direct
// messages are regular members.
func (a *Adapter) ResolveMember(ctx context.Context, chatID, userID string) (*models.Member, error) {
	ch, err := a.session.Channel(chatID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("get channel", err)
	}
	if ch.GuildID == "" {
		return &models.Member{ChatID: chatID, User: models.User{ID: userID}, Status: models.MemberRegular}, nil
	}

	gm, err := a.session.GuildMember(ch.GuildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("get guild member", err)
	}
	member := &models.Member{
		ChatID: chatID,
		User:   convertUser(gm.User),
		Status: models.MemberRegular,
		Roles:  gm.Roles,
	}
	if member.User.ID == "" {
		member.User.ID = userID
	}

	guild, err := a.session.Guild(ch.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("get guild", err)
	}
	if guild.OwnerID == userID {
		member.Status = models.MemberOwner
		return member, nil
	}

	perms, err := a.session.UserChannelPermissions(userID, chatID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("get permissions", err)
	}
	if perms&discordgo.PermissionAdministrator != 0 {
		member.Status = models.MemberAdmin
	}
	return member, nil
}

func convertMessage(m *discordgo.Message) *models.Message {
	kind := models.ChatGroup
	if m.GuildID == "" {
		kind = models.ChatPrivate
	}
	return &models.Message{
		ID:        m.ID,
		Channel:   models.ChannelDiscord,
		Chat:      models.Chat{ID: m.ChannelID, Kind: kind, GuildID: m.GuildID},
		Author:    convertUser(m.Author),
		Text:      m.Content,
		CreatedAt: m.Timestamp,
	}
}

func convertUser(u *discordgo.User) models.User {
	if u == nil {
		return models.User{}
	}
	return models.User{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.GlobalName,
		IsBot:       u.Bot,
	}
}

func chatKind(t discordgo.ChannelType) models.ChatKind {
	switch t {
	case discordgo.ChannelTypeDM:
		return models.ChatPrivate
	case discordgo.ChannelTypeGuildNews:
		return models.ChatChannel
	default:
		return models.ChatGroup
	}
}

// classify maps REST status codes to channel error codes.
func classify(op string, err error) error {
	code := channels.ErrCodeInternal
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			code = channels.ErrCodeAuthentication
		case http.StatusNotFound:
			code = channels.ErrCodeNotFound
		case http.StatusTooManyRequests:
			code = channels.ErrCodeRateLimit
		case http.StatusBadRequest:
			code = channels.ErrCodeInvalidInput
		}
	} else if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		code = channels.ErrCodeConnection
	}
	return channels.NewError(channelName, code, op, err)
}
