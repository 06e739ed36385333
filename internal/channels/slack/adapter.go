// Package slack is the Slack transport. Inbound messages arrive over Socket
// Mode, so no public HTTP endpoint is needed.
package slack

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/haasonsaas/cogbot/internal/channels"
	"github.com/haasonsaas/cogbot/pkg/models"
)

const channelName = string(models.ChannelSlack)

// APIClient is the subset of *slack.Client the adapter uses.
type APIClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
}

// SocketClient is the subset of *socketmode.Client the adapter uses.
type SocketClient interface {
	RunContext(ctx context.Context) error
	Ack(req socketmode.Request, payload ...interface{})
	Events() <-chan socketmode.Event
}

var _ APIClient = (*slack.Client)(nil)

type socketClient struct {
	*socketmode.Client
}

func (c socketClient) Events() <-chan socketmode.Event {
	return c.Client.Events
}

// Config holds configuration for the Slack adapter.
type Config struct {
	// BotToken is the xoxb- bot token (required)
	BotToken string

	// AppToken is the xapp- app-level token with connections:write (required)
	AppToken string

	Logger *slog.Logger
}

// Adapter implements channels.Adapter for Slack.
type Adapter struct {
	api    APIClient
	socket SocketClient
	logger *slog.Logger
}

// NewAdapter creates the Web API and Socket Mode clients.
func NewAdapter(config Config) (*Adapter, error) {
	if strings.TrimSpace(config.BotToken) == "" {
		return nil, channels.NewError(channelName, channels.ErrCodeConfig, "bot token is required", nil)
	}
	if !strings.HasPrefix(config.AppToken, "xapp-") {
		return nil, channels.NewError(channelName, channels.ErrCodeConfig, "app token must start with xapp-", nil)
	}
	api := slack.New(config.BotToken, slack.OptionAppLevelToken(config.AppToken))
	socket := socketmode.New(api, socketmode.OptionDebug(false))
	return NewAdapterWithClients(api, socketClient{socket}, config.Logger), nil
}

// NewAdapterWithClients creates an adapter around existing clients.
func NewAdapterWithClients(api APIClient, socket SocketClient, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{api: api, socket: socket, logger: logger.With("adapter", channelName)}
}

func (a *Adapter) Type() models.ChannelType {
	return models.ChannelSlack
}

// Run connects over Socket Mode and passes each user message to handle until
// ctx is cancelled.
func (a *Adapter) Run(ctx context.Context, handle channels.Handler) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.socket.RunContext(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if ctx.Err() != nil || err == nil {
				return nil
			}
			return classify("socket mode", err)
		case evt, ok := <-a.socket.Events():
			if !ok {
				return nil
			}
			a.handleEvent(ctx, evt, handle)
		}
	}
}

func (a *Adapter) handleEvent(ctx context.Context, evt socketmode.Event, handle channels.Handler) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		a.logger.Info("socket mode connected")
	case socketmode.EventTypeConnectionError:
		a.logger.Warn("socket mode connection error", "data", evt.Data)
	case socketmode.EventTypeEventsAPI:
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok || apiEvent.Type != slackevents.CallbackEvent {
			return
		}
		msg, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
		if !ok || msg.BotID != "" || msg.SubType != "" || msg.User == "" {
			return
		}
		handle(ctx, a, convertMessage(msg))
	case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
	}
}

// Send posts text to a conversation, split at Slack's message limit.
func (a *Adapter) Send(ctx context.Context, chatID, text string) error {
	for _, chunk := range channels.Split(text, channels.SlackMaxLength) {
		if _, _, err := a.api.PostMessageContext(ctx, chatID, slack.MsgOptionText(chunk, false)); err != nil {
			return classify("post message", err)
		}
	}
	return nil
}

func (a *Adapter) ResolveChat(ctx context.Context, chatID string) (*models.Chat, error) {
	ch, err := a.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: chatID})
	if err != nil {
		return nil, classify("get conversation", err)
	}
	kind := models.ChatGroup
	if ch.IsIM {
		kind = models.ChatPrivate
	}
	return &models.Chat{ID: ch.ID, Kind: kind, Title: ch.Name}, nil
}

// ResolveMember uses workspace roles: Slack has no per-channel admins.
func (a *Adapter) ResolveMember(ctx context.Context, chatID, userID string) (*models.Member, error) {
	user, err := a.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return nil, classify("get user", err)
	}
	status := models.MemberRegular
	switch {
	case user.Deleted:
		status = models.MemberLeft
	case user.IsOwner || user.IsPrimaryOwner:
		status = models.MemberOwner
	case user.IsAdmin:
		status = models.MemberAdmin
	case user.IsRestricted || user.IsUltraRestricted:
		status = models.MemberRestricted
	}
	return &models.Member{
		ChatID: chatID,
		User: models.User{
			ID:          user.ID,
			Username:    user.Name,
			DisplayName: user.Profile.DisplayName,
			IsBot:       user.IsBot,
		},
		Status: status,
	}, nil
}

func convertMessage(ev *slackevents.MessageEvent) *models.Message {
	kind := models.ChatGroup
	if ev.ChannelType == "im" {
		kind = models.ChatPrivate
	}
	return &models.Message{
		ID:        ev.TimeStamp,
		Channel:   models.ChannelSlack,
		Chat:      models.Chat{ID: ev.Channel, Kind: kind},
		Author:    models.User{ID: ev.User},
		Text:      stripLeadingMention(ev.Text),
		CreatedAt: parseTimestamp(ev.TimeStamp),
	}
}

// stripLeadingMention removes a leading "<@U123>" so "@bot !ping" parses as a
// command.
func stripLeadingMention(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "<@") {
		return text
	}
	end := strings.Index(trimmed, ">")
	if end < 0 {
		return text
	}
	return strings.TrimSpace(trimmed[end+1:])
}

func parseTimestamp(ts string) time.Time {
	secs, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, int64(secs*float64(time.Second))).UTC()
}

// classify maps Slack API error strings to channel error codes.
func classify(op string, err error) error {
	var rateLimited *slack.RateLimitedError
	if errors.As(err, &rateLimited) {
		return channels.NewError(channelName, channels.ErrCodeRateLimit, op, err)
	}
	code := channels.ErrCodeInternal
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ratelimited"):
		code = channels.ErrCodeRateLimit
	case strings.Contains(msg, "invalid_auth"), strings.Contains(msg, "not_authed"),
		strings.Contains(msg, "account_inactive"), strings.Contains(msg, "token_revoked"),
		strings.Contains(msg, "not_in_channel"):
		code = channels.ErrCodeAuthentication
	case strings.Contains(msg, "not_found"):
		code = channels.ErrCodeNotFound
	case strings.Contains(msg, "invalid_"), strings.Contains(msg, "no_text"):
		code = channels.ErrCodeInvalidInput
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		code = channels.ErrCodeConnection
	}
	return channels.NewError(channelName, code, op, err)
}
