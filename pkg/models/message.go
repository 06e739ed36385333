// Package models provides transport-neutral chat types shared by the command
// framework and the channel adapters.
package models

import (
	"time"
)

// ChannelType represents a messaging platform.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
)

// ChatKind classifies a conversation.
type ChatKind string

const (
	ChatPrivate    ChatKind = "private"
	ChatGroup      ChatKind = "group"
	ChatSupergroup ChatKind = "supergroup"
	ChatChannel    ChatKind = "channel"
)

// Message is an inbound chat message as delivered by a transport.
type Message struct {
	ID        string         `json:"id"`
	Channel   ChannelType    `json:"channel"`
	Chat      Chat           `json:"chat"`
	Author    User           `json:"author"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// User identifies the sender of a message.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	IsBot       bool   `json:"is_bot,omitempty"`
}

// Mention returns the best human-readable handle for the user.
func (u User) Mention() string {
	switch {
	case u.Username != "":
		return "@" + u.Username
	case u.DisplayName != "":
		return u.DisplayName
	default:
		return u.ID
	}
}

// Chat describes the conversation a message was posted in.
type Chat struct {
	ID       string   `json:"id"`
	Kind     ChatKind `json:"kind,omitempty"`
	Title    string   `json:"title,omitempty"`
	Username string   `json:"username,omitempty"`
	// GuildID is the enclosing server on platforms that have one (Discord).
	GuildID string `json:"guild_id,omitempty"`
}

// IsPrivate reports whether the chat is a one-to-one conversation.
func (c Chat) IsPrivate() bool {
	return c.Kind == ChatPrivate
}

// MemberStatus is the standing of a user inside a chat.
type MemberStatus string

const (
	MemberOwner      MemberStatus = "owner"
	MemberAdmin      MemberStatus = "administrator"
	MemberRegular    MemberStatus = "member"
	MemberRestricted MemberStatus = "restricted"
	MemberLeft       MemberStatus = "left"
	MemberBanned     MemberStatus = "banned"
)

// Member is membership metadata for a user inside a chat.
type Member struct {
	ChatID string       `json:"chat_id"`
	User   User         `json:"user"`
	Status MemberStatus `json:"status"`
	Roles  []string     `json:"roles,omitempty"`
}

// IsAdmin reports whether the member can administer the chat.
func (m Member) IsAdmin() bool {
	return m.Status == MemberOwner || m.Status == MemberAdmin
}
