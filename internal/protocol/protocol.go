// Package protocol defines the JSON wire format exchanged between clients and
// the authoritative session. Every WebSocket text frame carries exactly one
// Envelope.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/cory-johannsen/worldsync/internal/game/state"
)

// Client to server message types.
const (
	TypeJoin          = "join"
	TypeMove          = "move"
	TypeAttack        = "attack"
	TypeDamageMonster = "damageMonster"
	TypePlayerDamaged = "playerDamaged"
	TypeChat          = "chat"
	TypeChangeMap     = "changeMap"
	TypeUpdateStats   = "updateStats"
	TypeLeave         = "leave"
)

// Server to client message types. TypeChat is shared by both directions.
const (
	TypeWelcome         = "welcome"
	TypeState           = "state"
	TypePlayerJoined    = "playerJoined"
	TypePlayerLeft      = "playerLeft"
	TypePlayerMapChange = "playerMapChange"
	TypePlayerAttack    = "playerAttack"
	TypeMonsterDamaged  = "monsterDamaged"
	TypeMonsterDeath    = "monsterDeath"
	TypeMonsterRespawn  = "monsterRespawn"
	TypePlayerHit       = "playerHit"
	TypeError           = "error"
)

// Error codes carried by Error payloads.
const (
	ErrCodeBadMessage  = 4000
	ErrCodeNotJoined   = 4001
	ErrCodeSessionFull = 4002
	ErrCodeUnknownRoom = 4004
	ErrCodeInternal    = 4500
)

// ErrMissingPayload is returned when a message that requires a payload has none.
var ErrMissingPayload = errors.New("missing payload")

// Envelope is the outer frame of every message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the envelope payload into v.
//
// Postcondition: Returns ErrMissingPayload when the payload is absent.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return fmt.Errorf("%s: %w", e.Type, ErrMissingPayload)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Type, err)
	}
	return nil
}

// Encode serializes a message of the given type. A nil payload omits the field.
//
// Precondition: msgType must be non-empty.
func Encode(msgType string, payload any) ([]byte, error) {
	env := Envelope{Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", msgType, err)
	}
	return data, nil
}

// Decode parses a raw frame into an Envelope.
//
// Postcondition: Returns an error when the frame is not JSON or has no type.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, errors.New("decoding envelope: missing type")
	}
	return env, nil
}

// Finite reports whether every value is a finite number.
func Finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// JoinRequest is the first frame a client sends.
type JoinRequest struct {
	Name  string `json:"name"`
	MapID string `json:"mapId"`
}

// Move overwrites the sender's transform and animation fields.
type Move struct {
	X           float64           `json:"x"`
	Y           float64           `json:"y"`
	VelocityX   float64           `json:"velocityX"`
	VelocityY   float64           `json:"velocityY"`
	State       state.PlayerState `json:"state"`
	FacingRight bool              `json:"facingRight"`
	Animation   string            `json:"animation"`
	IsAttacking bool              `json:"isAttacking"`
	ActiveSkill string            `json:"activeSkill"`
}

// Attack announces that the sender used a skill.
type Attack struct {
	SkillID     string  `json:"skillId"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	FacingRight bool    `json:"facingRight"`
}

// DamageMonster reports client-computed damage dealt to a monster.
type DamageMonster struct {
	MonsterID  string `json:"monsterId"`
	Damage     int    `json:"damage"`
	IsCritical bool   `json:"isCritical"`
}

// PlayerDamaged reports damage the sender took and its resulting HP.
type PlayerDamaged struct {
	Damage    int `json:"damage"`
	CurrentHP int `json:"currentHP"`
}

// Chat carries chat text in either direction. SessionID and Name are set by
// the server on broadcast.
type Chat struct {
	SessionID string `json:"sessionId,omitempty"`
	Name      string `json:"name,omitempty"`
	Text      string `json:"text"`
}

// ChangeMap moves the sender to another map.
type ChangeMap struct {
	MapID string  `json:"mapId"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// UpdateStats overwrites the sender's display stats.
type UpdateStats struct {
	Level int    `json:"level"`
	MaxHP int    `json:"maxHP"`
	Job   string `json:"job"`
}

// Welcome answers a join with the assigned session id and a full snapshot.
type Welcome struct {
	SessionID string      `json:"sessionId"`
	State     *state.Room `json:"state"`
}

// PlayerJoined announces a new player to everyone else.
type PlayerJoined struct {
	SessionID string       `json:"sessionId"`
	Player    state.Player `json:"player"`
}

// PlayerLeft announces a departed player.
type PlayerLeft struct {
	SessionID string `json:"sessionId"`
	Consented bool   `json:"consented"`
}

// PlayerMapChange announces that a player moved to another map.
type PlayerMapChange struct {
	SessionID string  `json:"sessionId"`
	MapID     string  `json:"mapId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// PlayerAttack relays an attack to everyone except the attacker.
type PlayerAttack struct {
	SessionID   string  `json:"sessionId"`
	SkillID     string  `json:"skillId"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	FacingRight bool    `json:"facingRight"`
}

// MonsterDamaged carries the authoritative hp after a damage message.
type MonsterDamaged struct {
	MonsterID  string `json:"monsterId"`
	AttackerID string `json:"attackerId"`
	Damage     int    `json:"damage"`
	IsCritical bool   `json:"isCritical"`
	HP         int    `json:"hp"`
	MaxHP      int    `json:"maxHp"`
}

// MonsterDeath is broadcast once when a monster's hp first reaches zero.
type MonsterDeath struct {
	MonsterID string `json:"monsterId"`
	KillerID  string `json:"killerId"`
}

// MonsterRespawn carries the full record of a respawned monster.
type MonsterRespawn struct {
	Monster state.Monster `json:"monster"`
}

// PlayerHit relays damage taken by a player to everyone else.
type PlayerHit struct {
	SessionID string `json:"sessionId"`
	Damage    int    `json:"damage"`
	CurrentHP int    `json:"currentHP"`
}

// Error reports a room-level problem to a single connection. The connection
// stays open.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
