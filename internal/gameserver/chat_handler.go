package gameserver

import (
	"github.com/cory-johannsen/worldsync/internal/game/state"
	"github.com/cory-johannsen/worldsync/internal/protocol"
)

// ChatHandler builds chat broadcasts.
type ChatHandler struct {
	maxLength int
}

// NewChatHandler creates a ChatHandler that truncates text to maxLength characters.
//
// Precondition: maxLength must be > 0.
func NewChatHandler(maxLength int) *ChatHandler {
	return &ChatHandler{maxLength: maxLength}
}

// Say returns the chat broadcast for a message from p. Oversized text is
// truncated, never rejected.
//
// Precondition: p must be non-nil.
// Postcondition: Text holds at most maxLength runes and is a prefix of text.
func (h *ChatHandler) Say(p *state.Player, text string) protocol.Chat {
	return protocol.Chat{
		SessionID: p.ID,
		Name:      p.Name,
		Text:      truncateRunes(text, h.maxLength),
	}
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
