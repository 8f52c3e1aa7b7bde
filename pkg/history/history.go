// Package history persists conversations so a session can be resumed
// later with the prior turns replayed into the backend at connect time.
package history

import (
	"strings"
	"time"

	"github.com/sabia-ai/sabia/pkg/session"
)

const maxTitleLen = 50

// Conversation is one saved conversation.
type Conversation struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Turns        []session.Turn `json:"turns"`
	PersonaID    string         `json:"personaId,omitempty"`
	Pinned       bool           `json:"pinned,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastModified time.Time      `json:"lastModified"`
}

// titleFor derives a conversation title from the first user turn,
// truncated to a display-friendly length.
func titleFor(turns []session.Turn) string {
	for _, turn := range turns {
		if turn.Role != session.RoleUser {
			continue
		}
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		if runes := []rune(text); len(runes) > maxTitleLen {
			return strings.TrimSpace(string(runes[:maxTitleLen])) + "…"
		}
		return text
	}
	return "New conversation"
}
