package gameserver

import (
	"github.com/cory-johannsen/worldsync/internal/game/state"
	"github.com/cory-johannsen/worldsync/internal/protocol"
)

// CombatHandler applies attack and damage messages to canonical state.
//
// Damage values are computed by clients and trusted; the handler only applies
// them so that the resulting hp is decided in exactly one place.
type CombatHandler struct {
	world *state.Room
}

// NewCombatHandler creates a CombatHandler over world.
//
// Precondition: world must be non-nil.
func NewCombatHandler(world *state.Room) *CombatHandler {
	return &CombatHandler{world: world}
}

// Attack records the attack on p and returns the relay for other players.
//
// Precondition: p must be non-nil.
// Postcondition: p.IsAttacking is true and ActiveSkill/FacingRight reflect a.
func (h *CombatHandler) Attack(p *state.Player, a protocol.Attack) protocol.PlayerAttack {
	p.IsAttacking = true
	p.ActiveSkill = a.SkillID
	p.FacingRight = a.FacingRight
	return protocol.PlayerAttack{
		SessionID:   p.ID,
		SkillID:     a.SkillID,
		X:           a.X,
		Y:           a.Y,
		FacingRight: a.FacingRight,
	}
}

// DamageResult describes the outcome of one damage message.
type DamageResult struct {
	Damaged protocol.MonsterDamaged
	// Killed is true only for the message that took hp from above zero to zero or below.
	Killed bool
}

// DamageMonster subtracts d.Damage from the monster's hp. A monster that is
// already dead still takes damage but is never killed twice.
//
// Precondition: d.Damage >= 0.
// Postcondition: Returns ok == false, and changes nothing, when the monster is absent.
func (h *CombatHandler) DamageMonster(attackerID string, d protocol.DamageMonster) (DamageResult, bool) {
	m, ok := h.world.Monsters[d.MonsterID]
	if !ok {
		return DamageResult{}, false
	}

	wasDead := m.Dead()
	m.HP -= d.Damage
	res := DamageResult{
		Damaged: protocol.MonsterDamaged{
			MonsterID:  m.ID,
			AttackerID: attackerID,
			Damage:     d.Damage,
			IsCritical: d.IsCritical,
			HP:         m.HP,
			MaxHP:      m.MaxHP,
		},
	}
	switch {
	case wasDead:
	case m.Dead():
		m.State = state.MonsterDie
		res.Killed = true
	case d.Damage > 0:
		m.State = state.MonsterHit
	}
	return res, true
}

// PlayerDamaged overwrites p's hp with the client-reported value and returns
// the relay for other players.
//
// Precondition: p must be non-nil.
func (h *CombatHandler) PlayerDamaged(p *state.Player, d protocol.PlayerDamaged) protocol.PlayerHit {
	p.CurrentHP = d.CurrentHP
	return protocol.PlayerHit{
		SessionID: p.ID,
		Damage:    d.Damage,
		CurrentHP: d.CurrentHP,
	}
}
