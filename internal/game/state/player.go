package state

// PlayerState is the movement/animation tag of a player.
type PlayerState string

const (
	PlayerIdle   PlayerState = "IDLE"
	PlayerWalk   PlayerState = "WALK"
	PlayerJump   PlayerState = "JUMP"
	PlayerFall   PlayerState = "FALL"
	PlayerAttack PlayerState = "ATTACK"
	PlayerClimb  PlayerState = "CLIMB"
)

// Valid reports whether s is one of the known player states.
func (s PlayerState) Valid() bool {
	switch s {
	case PlayerIdle, PlayerWalk, PlayerJump, PlayerFall, PlayerAttack, PlayerClimb:
		return true
	}
	return false
}

// Player is the replicated record of one connected session.
type Player struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	X           float64     `json:"x"`
	Y           float64     `json:"y"`
	VelocityX   float64     `json:"velocityX"`
	VelocityY   float64     `json:"velocityY"`
	State       PlayerState `json:"state"`
	Animation   string      `json:"animation"`
	FacingRight bool        `json:"facingRight"`
	Level       int         `json:"level"`
	CurrentHP   int         `json:"currentHP"`
	MaxHP       int         `json:"maxHP"`
	Job         string      `json:"job"`
	IsAttacking bool        `json:"isAttacking"`
	ActiveSkill string      `json:"activeSkill"`
	MapID       string      `json:"mapId"`
}

// Fields returns every synchronized field keyed by wire name.
func (p *Player) Fields() Fields {
	return Fields{
		"id":          p.ID,
		"name":        p.Name,
		"x":           p.X,
		"y":           p.Y,
		"velocityX":   p.VelocityX,
		"velocityY":   p.VelocityY,
		"state":       string(p.State),
		"animation":   p.Animation,
		"facingRight": p.FacingRight,
		"level":       p.Level,
		"currentHP":   p.CurrentHP,
		"maxHP":       p.MaxHP,
		"job":         p.Job,
		"isAttacking": p.IsAttacking,
		"activeSkill": p.ActiveSkill,
		"mapId":       p.MapID,
	}
}

// Apply writes the given fields onto p. Unknown keys are ignored. Numbers may
// arrive as any numeric type, including float64 from a JSON decode.
//
// Postcondition: On error p is left unchanged.
func (p *Player) Apply(f Fields) error {
	next := *p
	for k, v := range f {
		var err error
		switch k {
		case "id":
			next.ID, err = asString(k, v)
		case "name":
			next.Name, err = asString(k, v)
		case "x":
			next.X, err = asFloat(k, v)
		case "y":
			next.Y, err = asFloat(k, v)
		case "velocityX":
			next.VelocityX, err = asFloat(k, v)
		case "velocityY":
			next.VelocityY, err = asFloat(k, v)
		case "state":
			var s string
			s, err = asString(k, v)
			next.State = PlayerState(s)
		case "animation":
			next.Animation, err = asString(k, v)
		case "facingRight":
			next.FacingRight, err = asBool(k, v)
		case "level":
			next.Level, err = asInt(k, v)
		case "currentHP":
			next.CurrentHP, err = asInt(k, v)
		case "maxHP":
			next.MaxHP, err = asInt(k, v)
		case "job":
			next.Job, err = asString(k, v)
		case "isAttacking":
			next.IsAttacking, err = asBool(k, v)
		case "activeSkill":
			next.ActiveSkill, err = asString(k, v)
		case "mapId":
			next.MapID, err = asString(k, v)
		}
		if err != nil {
			return err
		}
	}
	*p = next
	return nil
}
