// Property-based tests for the bot middleware decisions.
package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v3"
	"pgregory.net/rapid"

	"cryptra/internal/config"
)

// TestAdminPermissionCheckProperty checks a sender is an admin exactly when
// their id is configured.
func TestAdminPermissionCheckProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numAdmins := rapid.IntRange(1, 10).Draw(t, "numAdmins")
		adminIDs := make([]int64, numAdmins)
		for i := 0; i < numAdmins; i++ {
			adminIDs[i] = rapid.Int64Range(1, 1000000000).Draw(t, "adminID")
		}
		cfg := &config.Config{Admin: config.AdminConfig{IDs: adminIDs}}

		userID := rapid.Int64Range(1, 1000000000).Draw(t, "userID")
		expected := false
		for _, id := range adminIDs {
			if id == userID {
				expected = true
				break
			}
		}

		if got := cfg.IsAdmin(userID); got != expected {
			t.Fatalf("IsAdmin(%d) = %v with admins %v", userID, got, adminIDs)
		}
		known := adminIDs[rapid.IntRange(0, numAdmins-1).Draw(t, "adminIndex")]
		if !cfg.IsAdmin(known) {
			t.Fatalf("configured admin %d rejected", known)
		}
	})
}

// TestChatAllowedProperty checks private chats are always served and groups
// only when whitelisted (or when the whitelist is empty).
func TestChatAllowedProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numChats := rapid.IntRange(0, 10).Draw(t, "numChats")
		chatIDs := make([]int64, numChats)
		listed := make(map[int64]bool)
		for i := range chatIDs {
			chatIDs[i] = -rapid.Int64Range(1, 1000000000).Draw(t, "chatID")
			listed[chatIDs[i]] = true
		}
		cfg := &config.Config{Whitelist: config.WhitelistConfig{Chats: chatIDs}}

		chatID := -rapid.Int64Range(1, 1000000000).Draw(t, "testChatID")
		if numChats > 0 && rapid.Bool().Draw(t, "pickListed") {
			chatID = chatIDs[rapid.IntRange(0, numChats-1).Draw(t, "index")]
		}
		chatType := rapid.SampledFrom([]tele.ChatType{
			tele.ChatPrivate, tele.ChatGroup, tele.ChatSuperGroup,
		}).Draw(t, "chatType")

		want := chatType == tele.ChatPrivate || numChats == 0 || listed[chatID]
		if got := chatAllowed(cfg, chatType, chatID); got != want {
			t.Fatalf("chatAllowed(%s, %d) = %v, want %v (whitelist %v)", chatType, chatID, got, want, chatIDs)
		}
	})
}

func TestChatAllowed_PrivateIgnoresWhitelist(t *testing.T) {
	cfg := &config.Config{Whitelist: config.WhitelistConfig{Chats: []int64{-100}}}
	assert.True(t, chatAllowed(cfg, tele.ChatPrivate, 42))
	assert.True(t, chatAllowed(cfg, tele.ChatSuperGroup, -100))
	assert.False(t, chatAllowed(cfg, tele.ChatSuperGroup, -200))
}
