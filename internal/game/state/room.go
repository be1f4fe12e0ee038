package state

import (
	"fmt"
	"sort"
)

// Room is the canonical shared state of one session.
//
// ServerTime is a millisecond accumulator advanced once per tick; it never
// decreases.
type Room struct {
	MapID      string              `json:"mapId"`
	ServerTime float64             `json:"serverTime"`
	Players    map[string]*Player  `json:"players"`
	Monsters   map[string]*Monster `json:"monsters"`
}

// NewRoom returns an empty room whose default map is mapID.
func NewRoom(mapID string) *Room {
	return &Room{
		MapID:    mapID,
		Players:  make(map[string]*Player),
		Monsters: make(map[string]*Monster),
	}
}

// Clone returns a deep copy of r.
//
// Postcondition: Mutating the clone never affects r.
func (r *Room) Clone() *Room {
	out := &Room{
		MapID:      r.MapID,
		ServerTime: r.ServerTime,
		Players:    make(map[string]*Player, len(r.Players)),
		Monsters:   make(map[string]*Monster, len(r.Monsters)),
	}
	for id, p := range r.Players {
		cp := *p
		out.Players[id] = &cp
	}
	for id, m := range r.Monsters {
		cm := *m
		out.Monsters[id] = &cm
	}
	return out
}

// PlayerIDs returns the ids of all players in sorted order.
func (r *Room) PlayerIDs() []string {
	return sortedKeys(r.Players)
}

// CollectionPatch describes the changes to one keyed collection.
type CollectionPatch struct {
	// Added holds the full field set of new entities.
	Added map[string]Fields `json:"added,omitempty"`
	// Changed holds only the fields that differ for existing entities.
	Changed map[string]Fields `json:"changed,omitempty"`
	// Removed lists deleted ids in sorted order.
	Removed []string `json:"removed,omitempty"`
}

// Empty reports whether the patch carries no changes.
func (c CollectionPatch) Empty() bool {
	return len(c.Added) == 0 && len(c.Changed) == 0 && len(c.Removed) == 0
}

// RoomPatch is a field-level delta between two Room values.
type RoomPatch struct {
	ServerTime float64         `json:"serverTime"`
	MapID      string          `json:"mapId,omitempty"`
	Players    CollectionPatch `json:"players"`
	Monsters   CollectionPatch `json:"monsters"`
}

// Empty reports whether nothing besides the server clock changed.
func (p RoomPatch) Empty() bool {
	return p.MapID == "" && p.Players.Empty() && p.Monsters.Empty()
}

type fielder interface {
	Fields() Fields
}

// Diff computes the patch that turns prev into next.
//
// Precondition: prev and next must be non-nil.
// Postcondition: Applying the result to a copy of prev yields a room equal to next.
func Diff(prev, next *Room) RoomPatch {
	patch := RoomPatch{
		ServerTime: next.ServerTime,
		Players:    diffCollection(prev.Players, next.Players),
		Monsters:   diffCollection(prev.Monsters, next.Monsters),
	}
	if prev.MapID != next.MapID {
		patch.MapID = next.MapID
	}
	return patch
}

func diffCollection[T fielder](prev, next map[string]T) CollectionPatch {
	var out CollectionPatch
	for id, n := range next {
		p, ok := prev[id]
		if !ok {
			if out.Added == nil {
				out.Added = make(map[string]Fields)
			}
			out.Added[id] = n.Fields()
			continue
		}
		if changed := DiffFields(p.Fields(), n.Fields()); changed != nil {
			if out.Changed == nil {
				out.Changed = make(map[string]Fields)
			}
			out.Changed[id] = changed
		}
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			out.Removed = append(out.Removed, id)
		}
	}
	sort.Strings(out.Removed)
	return out
}

// ApplyPatch mutates r with the given patch. Added and changed entries are
// upserts and removals of unknown ids are ignored, so applying the same patch
// twice is harmless.
//
// Postcondition: On error r may be partially updated.
func (r *Room) ApplyPatch(p RoomPatch) error {
	if r.Players == nil {
		r.Players = make(map[string]*Player)
	}
	if r.Monsters == nil {
		r.Monsters = make(map[string]*Monster)
	}
	if p.ServerTime > r.ServerTime {
		r.ServerTime = p.ServerTime
	}
	if p.MapID != "" {
		r.MapID = p.MapID
	}

	for _, set := range []map[string]Fields{p.Players.Added, p.Players.Changed} {
		for _, id := range sortedKeys(set) {
			pl, ok := r.Players[id]
			if !ok {
				pl = &Player{ID: id}
			}
			if err := pl.Apply(set[id]); err != nil {
				return fmt.Errorf("applying player %s: %w", id, err)
			}
			r.Players[id] = pl
		}
	}
	for _, id := range p.Players.Removed {
		delete(r.Players, id)
	}

	for _, set := range []map[string]Fields{p.Monsters.Added, p.Monsters.Changed} {
		for _, id := range sortedKeys(set) {
			m, ok := r.Monsters[id]
			if !ok {
				m = &Monster{ID: id}
			}
			if err := m.Apply(set[id]); err != nil {
				return fmt.Errorf("applying monster %s: %w", id, err)
			}
			r.Monsters[id] = m
		}
	}
	for _, id := range p.Monsters.Removed {
		delete(r.Monsters, id)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
