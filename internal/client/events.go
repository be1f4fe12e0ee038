package client

import (
	"github.com/cory-johannsen/worldsync/internal/game/state"
)

// EventType names a manager event.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventDisconnected    EventType = "disconnected"
	EventReconnectFailed EventType = "reconnectFailed"

	EventPlayerJoined  EventType = "playerJoined"
	EventPlayerUpdated EventType = "playerUpdated"
	EventPlayerLeft    EventType = "playerLeft"

	EventPlayerAttack    EventType = "playerAttack"
	EventPlayerHit       EventType = "playerHit"
	EventPlayerMapChange EventType = "playerMapChange"
	EventMonsterDamaged  EventType = "monsterDamaged"
	EventMonsterDeath    EventType = "monsterDeath"
	EventMonsterRespawn  EventType = "monsterRespawn"
	EventChat            EventType = "chat"
	EventError           EventType = "error"
)

// Event is delivered to every registered handler.
//
// SessionID is set for events about a player. Player carries a copy of the
// mirrored record for playerJoined and playerUpdated. Payload carries the
// decoded protocol message for pass-through events. Err is set for
// disconnected, reconnectFailed and error.
type Event struct {
	Type      EventType
	SessionID string
	Player    *state.Player
	Payload   any
	Err       error
}

// EventHandler receives events. It runs on a manager goroutine and must not block.
type EventHandler func(Event)
