package gateway

import (
	"log/slog"

	"github.com/haasonsaas/cogbot/internal/channels"
	"github.com/haasonsaas/cogbot/internal/channels/discord"
	"github.com/haasonsaas/cogbot/internal/channels/slack"
	"github.com/haasonsaas/cogbot/internal/channels/telegram"
	"github.com/haasonsaas/cogbot/internal/config"
	"github.com/haasonsaas/cogbot/pkg/models"
)

// buildAdapters creates an adapter for every enabled channel.
func buildAdapters(cfg config.ChannelsConfig, logger *slog.Logger) ([]channels.Adapter, error) {
	var adapters []channels.Adapter
	if cfg.Telegram.Enabled {
		a, err := telegram.NewAdapter(telegram.Config{Token: cfg.Telegram.Token, Logger: logger})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if cfg.Discord.Enabled {
		a, err := discord.NewAdapter(discord.Config{Token: cfg.Discord.Token, Logger: logger})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if cfg.Slack.Enabled {
		a, err := slack.NewAdapter(slack.Config{
			BotToken: cfg.Slack.BotToken,
			AppToken: cfg.Slack.AppToken,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

func throttleFor(cfg config.ChannelsConfig, channel models.ChannelType) config.ThrottleConfig {
	switch channel {
	case models.ChannelTelegram:
		return cfg.Telegram.Throttle
	case models.ChannelDiscord:
		return cfg.Discord.Throttle
	case models.ChannelSlack:
		return cfg.Slack.Throttle
	}
	return config.ThrottleConfig{}
}

// enabledChannels lists the configured channel types with their credentials.
func enabledChannels(cfg config.ChannelsConfig) map[models.ChannelType]string {
	out := make(map[models.ChannelType]string)
	if cfg.Telegram.Enabled {
		out[models.ChannelTelegram] = cfg.Telegram.Token
	}
	if cfg.Discord.Enabled {
		out[models.ChannelDiscord] = cfg.Discord.Token
	}
	if cfg.Slack.Enabled {
		out[models.ChannelSlack] = cfg.Slack.BotToken + ":" + cfg.Slack.AppToken
	}
	return out
}
