package gameserver

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/worldsync/internal/game/state"
)

func TestChatHandler_Say(t *testing.T) {
	h := NewChatHandler(200)
	p := &state.Player{ID: "s1", Name: "Alice"}

	msg := h.Say(p, "hello world")
	assert.Equal(t, "s1", msg.SessionID)
	assert.Equal(t, "Alice", msg.Name)
	assert.Equal(t, "hello world", msg.Text)
}

func TestChatHandler_TruncatesASCII(t *testing.T) {
	h := NewChatHandler(200)
	input := strings.Repeat("0123456789", 50)

	msg := h.Say(&state.Player{ID: "s1"}, input)
	assert.Len(t, msg.Text, 200)
	assert.Equal(t, input[:200], msg.Text)
}

func TestChatHandler_TruncatesOnRuneBoundary(t *testing.T) {
	h := NewChatHandler(3)
	msg := h.Say(&state.Player{ID: "s1"}, "héllo wörld")
	assert.Equal(t, "hél", msg.Text)
	assert.True(t, utf8.ValidString(msg.Text))
}

func TestChatHandler_EmptyText(t *testing.T) {
	h := NewChatHandler(200)
	assert.Equal(t, "", h.Say(&state.Player{ID: "s1"}, "").Text)
}

func TestProperty_ChatHandler_PrefixWithinLimit(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(1, 300).Draw(rt, "limit")
		text := rapid.String().Draw(rt, "text")

		out := NewChatHandler(limit).Say(&state.Player{ID: "s1"}, text).Text
		assert.True(rt, strings.HasPrefix(text, out))
		assert.LessOrEqual(rt, utf8.RuneCountInString(out), limit)
		if utf8.RuneCountInString(text) <= limit {
			assert.Equal(rt, text, out)
		}
	})
}
