package state

// MonsterState is the behaviour/animation tag of a monster.
type MonsterState string

const (
	MonsterIdle   MonsterState = "IDLE"
	MonsterMove   MonsterState = "MOVE"
	MonsterAttack MonsterState = "ATTACK"
	MonsterHit    MonsterState = "HIT"
	MonsterDie    MonsterState = "DIE"
)

// Valid reports whether s is one of the known monster states.
func (s MonsterState) Valid() bool {
	switch s {
	case MonsterIdle, MonsterMove, MonsterAttack, MonsterHit, MonsterDie:
		return true
	}
	return false
}

// Monster is the replicated record of one monster. HP is only ever written by
// the session in response to damage messages.
type Monster struct {
	ID          string       `json:"id"`
	Type        string       `json:"type"`
	X           float64      `json:"x"`
	Y           float64      `json:"y"`
	HP          int          `json:"hp"`
	MaxHP       int          `json:"maxHp"`
	State       MonsterState `json:"state"`
	FacingRight bool         `json:"facingRight"`
	MapID       string       `json:"mapId"`
}

// Dead reports whether the monster's hp has reached zero.
func (m *Monster) Dead() bool {
	return m.HP <= 0
}

// Fields returns every synchronized field keyed by wire name.
func (m *Monster) Fields() Fields {
	return Fields{
		"id":          m.ID,
		"type":        m.Type,
		"x":           m.X,
		"y":           m.Y,
		"hp":          m.HP,
		"maxHp":       m.MaxHP,
		"state":       string(m.State),
		"facingRight": m.FacingRight,
		"mapId":       m.MapID,
	}
}

// Apply writes the given fields onto m. Unknown keys are ignored.
//
// Postcondition: On error m is left unchanged.
func (m *Monster) Apply(f Fields) error {
	next := *m
	for k, v := range f {
		var err error
		switch k {
		case "id":
			next.ID, err = asString(k, v)
		case "type":
			next.Type, err = asString(k, v)
		case "x":
			next.X, err = asFloat(k, v)
		case "y":
			next.Y, err = asFloat(k, v)
		case "hp":
			next.HP, err = asInt(k, v)
		case "maxHp":
			next.MaxHP, err = asInt(k, v)
		case "state":
			var s string
			s, err = asString(k, v)
			next.State = MonsterState(s)
		case "facingRight":
			next.FacingRight, err = asBool(k, v)
		case "mapId":
			next.MapID, err = asString(k, v)
		}
		if err != nil {
			return err
		}
	}
	*m = next
	return nil
}
