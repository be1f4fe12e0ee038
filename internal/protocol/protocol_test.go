package protocol_test

import (
	"math"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/worldsync/internal/protocol"
)

func TestEncodeDecodeEnvelope(t *testing.T) {
	frame, err := protocol.Encode(protocol.TypeDamageMonster, protocol.DamageMonster{MonsterID: "m1", Damage: 15, IsCritical: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"damageMonster","payload":{"monsterId":"m1","damage":15,"isCritical":true}}`, string(frame))

	env, err := protocol.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeDamageMonster, env.Type)

	var dm protocol.DamageMonster
	require.NoError(t, env.Decode(&dm))
	assert.Equal(t, protocol.DamageMonster{MonsterID: "m1", Damage: 15, IsCritical: true}, dm)
}

func TestEncodeWithoutPayload(t *testing.T) {
	frame, err := protocol.Encode(protocol.TypeLeave, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"leave"}`, string(frame))

	env, err := protocol.Decode(frame)
	require.NoError(t, err)
	var v protocol.Chat
	assert.ErrorIs(t, env.Decode(&v), protocol.ErrMissingPayload)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := protocol.Decode([]byte("not json"))
	assert.Error(t, err)

	_, err = protocol.Decode([]byte(`{"payload":{}}`))
	assert.Error(t, err)
}

func TestEnvelopeDecodeTypeMismatch(t *testing.T) {
	env, err := protocol.Decode([]byte(`{"type":"move","payload":{"x":"left"}}`))
	require.NoError(t, err)
	var mv protocol.Move
	assert.Error(t, env.Decode(&mv))
}

func TestFinite(t *testing.T) {
	assert.True(t, protocol.Finite(0, -1.5, 1e300))
	assert.False(t, protocol.Finite(1, math.NaN()))
	assert.False(t, protocol.Finite(math.Inf(-1)))
	assert.True(t, protocol.Finite())
}

func TestPropertyChatTextSurvivesEncoding(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.String().Draw(t, "text")
		frame, err := protocol.Encode(protocol.TypeChat, protocol.Chat{Text: text})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		env, err := protocol.Decode(frame)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		var got protocol.Chat
		if err := env.Decode(&got); err != nil {
			t.Fatalf("payload: %v", err)
		}
		// encoding/json replaces invalid UTF-8 with U+FFFD, so compare
		// only when the input is valid.
		if got.Text != text && utf8.ValidString(text) {
			t.Fatalf("text changed: %q -> %q", text, got.Text)
		}
	})
}
