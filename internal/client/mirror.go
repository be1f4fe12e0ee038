package client

import (
	"sort"

	"github.com/cory-johannsen/worldsync/internal/game/state"
	"github.com/cory-johannsen/worldsync/internal/protocol"
)

// Mirror is a client's copy of remote entities. Every update is an upsert or
// a delete keyed by id, so replaying a message or receiving both a discrete
// message and the patch carrying the same fact leaves the mirror unchanged.
// The local player is never mirrored.
//
// Mirror is not safe for concurrent use; Manager guards it.
type Mirror struct {
	selfID string
	room   *state.Room
}

// NewMirror returns an empty mirror.
func NewMirror() *Mirror {
	return &Mirror{room: state.NewRoom("")}
}

// Reset replaces the mirror with snap, excluding selfID.
//
// Postcondition: Returns one playerJoined event per remote player, in id order.
func (m *Mirror) Reset(selfID string, snap *state.Room) []Event {
	m.selfID = selfID
	if snap == nil {
		m.room = state.NewRoom("")
		return nil
	}
	m.room = snap.Clone()
	delete(m.room.Players, selfID)

	events := make([]Event, 0, len(m.room.Players))
	for _, id := range m.room.PlayerIDs() {
		events = append(events, m.playerEvent(EventPlayerJoined, id))
	}
	return events
}

// Clear drops every mirrored entity and forgets the local id.
func (m *Mirror) Clear() {
	m.selfID = ""
	m.room = state.NewRoom("")
}

// ApplyPatch merges a state delta. Changed entries for ids the mirror does not
// hold are skipped; only added entries carry a full field set.
//
// Postcondition: Returns playerJoined, playerUpdated and playerLeft events for
// remote players touched by the patch, or the decode error with the mirror
// possibly partially updated.
func (m *Mirror) ApplyPatch(p state.RoomPatch) ([]Event, error) {
	before := make(map[string]bool, len(m.room.Players))
	for id := range m.room.Players {
		before[id] = true
	}

	p.Players.Added = filterIDs(p.Players.Added, func(id string) bool { return id != m.selfID })
	p.Players.Changed = filterIDs(p.Players.Changed, func(id string) bool { return before[id] })
	p.Monsters.Changed = filterIDs(p.Monsters.Changed, func(id string) bool {
		_, ok := m.room.Monsters[id]
		return ok
	})
	if err := m.room.ApplyPatch(p); err != nil {
		return nil, err
	}
	delete(m.room.Players, m.selfID)

	touched := make(map[string]bool)
	for id := range p.Players.Added {
		touched[id] = true
	}
	for id := range p.Players.Changed {
		touched[id] = true
	}
	ids := make([]string, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var events []Event
	for _, id := range ids {
		if before[id] {
			events = append(events, m.playerEvent(EventPlayerUpdated, id))
		} else {
			events = append(events, m.playerEvent(EventPlayerJoined, id))
		}
	}
	for _, id := range p.Players.Removed {
		if id != m.selfID && before[id] {
			events = append(events, Event{Type: EventPlayerLeft, SessionID: id})
		}
	}
	return events, nil
}

func filterIDs(set map[string]state.Fields, keep func(id string) bool) map[string]state.Fields {
	var out map[string]state.Fields
	for id, f := range set {
		if !keep(id) {
			continue
		}
		if out == nil {
			out = make(map[string]state.Fields, len(set))
		}
		out[id] = f
	}
	return out
}

// UpsertPlayer stores p.
//
// Postcondition: Returns playerJoined or playerUpdated, and false for the local player.
func (m *Mirror) UpsertPlayer(p state.Player) (Event, bool) {
	if p.ID == "" || p.ID == m.selfID {
		return Event{}, false
	}
	_, existed := m.room.Players[p.ID]
	m.room.Players[p.ID] = &p
	if existed {
		return m.playerEvent(EventPlayerUpdated, p.ID), true
	}
	return m.playerEvent(EventPlayerJoined, p.ID), true
}

// RemovePlayer deletes id.
//
// Postcondition: Returns playerLeft only when id was mirrored.
func (m *Mirror) RemovePlayer(id string) (Event, bool) {
	if _, ok := m.room.Players[id]; !ok {
		return Event{}, false
	}
	delete(m.room.Players, id)
	return Event{Type: EventPlayerLeft, SessionID: id}, true
}

// MovePlayer applies a map change to a mirrored player.
func (m *Mirror) MovePlayer(c protocol.PlayerMapChange) (Event, bool) {
	p, ok := m.room.Players[c.SessionID]
	if !ok {
		return Event{}, false
	}
	p.MapID, p.X, p.Y = c.MapID, c.X, c.Y
	return m.playerEvent(EventPlayerUpdated, c.SessionID), true
}

// HitPlayer records the hp a remote player reported.
func (m *Mirror) HitPlayer(h protocol.PlayerHit) {
	if p, ok := m.room.Players[h.SessionID]; ok {
		p.CurrentHP = h.CurrentHP
	}
}

// DamageMonster records authoritative hp. Unknown monsters are ignored.
func (m *Mirror) DamageMonster(d protocol.MonsterDamaged) {
	if mon, ok := m.room.Monsters[d.MonsterID]; ok {
		mon.HP, mon.MaxHP = d.HP, d.MaxHP
	}
}

// KillMonster marks a monster as dying. The following state patch removes it.
func (m *Mirror) KillMonster(id string) {
	if mon, ok := m.room.Monsters[id]; ok {
		mon.State = state.MonsterDie
	}
}

// UpsertMonster stores mon.
func (m *Mirror) UpsertMonster(mon state.Monster) {
	if mon.ID == "" {
		return
	}
	m.room.Monsters[mon.ID] = &mon
}

// Players returns copies of every remote player in id order.
func (m *Mirror) Players() []state.Player {
	out := make([]state.Player, 0, len(m.room.Players))
	for _, id := range m.room.PlayerIDs() {
		out = append(out, *m.room.Players[id])
	}
	return out
}

// Player returns a copy of the remote player id.
func (m *Mirror) Player(id string) (state.Player, bool) {
	p, ok := m.room.Players[id]
	if !ok {
		return state.Player{}, false
	}
	return *p, true
}

// Monsters returns copies of every monster in id order.
func (m *Mirror) Monsters() []state.Monster {
	ids := make([]string, 0, len(m.room.Monsters))
	for id := range m.room.Monsters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]state.Monster, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m.room.Monsters[id])
	}
	return out
}

// ServerTime returns the latest server clock seen.
func (m *Mirror) ServerTime() float64 {
	return m.room.ServerTime
}

func (m *Mirror) playerEvent(t EventType, id string) Event {
	cp := *m.room.Players[id]
	return Event{Type: t, SessionID: id, Player: &cp}
}
