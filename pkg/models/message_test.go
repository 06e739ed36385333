package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestChannelType_Constants(t *testing.T) {
	tests := []struct {
		constant ChannelType
		expected string
	}{
		{ChannelTelegram, "telegram"},
		{ChannelDiscord, "discord"},
		{ChannelSlack, "slack"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestUser_Mention(t *testing.T) {
	tests := []struct {
		name string
		user User
		want string
	}{
		{"username", User{ID: "1", Username: "alice", DisplayName: "Alice"}, "@alice"},
		{"display name", User{ID: "1", DisplayName: "Alice"}, "Alice"},
		{"id only", User{ID: "1"}, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.Mention(); got != tt.want {
				t.Errorf("Mention() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChat_IsPrivate(t *testing.T) {
	for kind, want := range map[ChatKind]bool{
		ChatPrivate:    true,
		ChatGroup:      false,
		ChatSupergroup: false,
		ChatChannel:    false,
	} {
		if got := (Chat{Kind: kind}).IsPrivate(); got != want {
			t.Errorf("Chat{Kind: %q}.IsPrivate() = %v, want %v", kind, got, want)
		}
	}
}

func TestMember_IsAdmin(t *testing.T) {
	tests := []struct {
		status MemberStatus
		want   bool
	}{
		{MemberOwner, true},
		{MemberAdmin, true},
		{MemberRegular, false},
		{MemberRestricted, false},
		{MemberLeft, false},
		{MemberBanned, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := (Member{Status: tt.status}).IsAdmin(); got != tt.want {
				t.Errorf("IsAdmin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMessage_JSONOmitsEmptyFields(t *testing.T) {
	msg := Message{
		ID:        "m1",
		Channel:   ChannelTelegram,
		Chat:      Chat{ID: "c1"},
		Author:    User{ID: "u1"},
		Text:      "/ping",
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"id":"m1","channel":"telegram","chat":{"id":"c1"},"author":{"id":"u1"},"text":"/ping","created_at":"2024-01-02T03:04:05Z"}`
	if string(data) != want {
		t.Errorf("Marshal() = %s\nwant %s", data, want)
	}
}
