package models

import (
	"slices"
	"strings"

	"github.com/lib/pq"
)

// Agent is a support-side participant. Agents authenticate through the
// external identity service; this row only carries routing data.
type Agent struct {
	ID          string         `gorm:"primaryKey" json:"id"`
	DisplayName string         `json:"display_name"`
	Languages   pq.StringArray `gorm:"type:text[]" json:"languages"` // e.g. {"en","uk"}
	MaxSessions int            `json:"max_sessions"`                 // 0 = unlimited
	// TelegramChatID links the agent to the Telegram console. Nil for web-only agents.
	TelegramChatID *int64 `gorm:"uniqueIndex" json:"telegram_chat_id,omitempty"`
	Active         bool   `json:"active"`
}

func (Agent) TableName() string {
	return "support_agents"
}

// Speaks reports whether the agent lists lang among its languages.
func (a *Agent) Speaks(lang string) bool {
	if lang == "" {
		return false
	}
	return slices.ContainsFunc(a.Languages, func(l string) bool {
		return strings.EqualFold(l, lang)
	})
}

// HasCapacity reports whether the agent can take one more session.
func (a *Agent) HasCapacity(load int) bool {
	return a.MaxSessions <= 0 || load < a.MaxSessions
}
