// Package monster loads static monster definitions and spawn points.
//
// The session treats a monster's type as an opaque tag; this package is the
// lookup that maps the tag to gameplay constants and seeds initial monsters.
package monster

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/worldsync/internal/game/state"
)

// Definition holds the gameplay constants for one monster type.
type Definition struct {
	Type  string `yaml:"type"`
	Name  string `yaml:"name"`
	MaxHP int    `yaml:"max_hp"`
}

// Validate checks that the definition satisfies basic invariants.
//
// Postcondition: Returns nil iff Type is non-empty and MaxHP >= 1.
func (d *Definition) Validate() error {
	if d.Type == "" {
		return fmt.Errorf("monster definition: type must not be empty")
	}
	if d.MaxHP < 1 {
		return fmt.Errorf("monster definition %q: max_hp must be >= 1", d.Type)
	}
	return nil
}

// Spawn places one monster of a given type at a fixed point.
type Spawn struct {
	ID    string  `yaml:"id"`
	Type  string  `yaml:"type"`
	MapID string  `yaml:"map_id"`
	X     float64 `yaml:"x"`
	Y     float64 `yaml:"y"`
	// RespawnAfter is a duration string; empty means the monster does not respawn.
	RespawnAfter string `yaml:"respawn_after"`
}

// RespawnDelay returns the parsed RespawnAfter, or 0 when unset.
//
// Precondition: the spawn has passed Catalog validation.
func (s Spawn) RespawnDelay() time.Duration {
	if s.RespawnAfter == "" {
		return 0
	}
	d, err := time.ParseDuration(s.RespawnAfter)
	if err != nil {
		return 0
	}
	return d
}

// Catalog is the parsed content of a monster file.
type Catalog struct {
	Definitions []Definition `yaml:"definitions"`
	Spawns      []Spawn      `yaml:"spawns"`

	byType map[string]*Definition
}

// Validate checks every definition and spawn, and indexes definitions by type.
//
// Postcondition: Returns nil iff types and spawn ids are unique, every spawn
// references a known type, and every respawn_after parses as a duration.
func (c *Catalog) Validate() error {
	c.byType = make(map[string]*Definition, len(c.Definitions))
	for i := range c.Definitions {
		d := &c.Definitions[i]
		if err := d.Validate(); err != nil {
			return err
		}
		if _, dup := c.byType[d.Type]; dup {
			return fmt.Errorf("monster definition %q: duplicate type", d.Type)
		}
		c.byType[d.Type] = d
	}

	seen := make(map[string]bool, len(c.Spawns))
	for _, s := range c.Spawns {
		if s.ID == "" {
			return fmt.Errorf("monster spawn: id must not be empty")
		}
		if seen[s.ID] {
			return fmt.Errorf("monster spawn %q: duplicate id", s.ID)
		}
		seen[s.ID] = true
		if _, ok := c.byType[s.Type]; !ok {
			return fmt.Errorf("monster spawn %q: unknown type %q", s.ID, s.Type)
		}
		if s.RespawnAfter != "" {
			d, err := time.ParseDuration(s.RespawnAfter)
			if err != nil {
				return fmt.Errorf("monster spawn %q: respawn_after %q is not a valid duration: %w", s.ID, s.RespawnAfter, err)
			}
			if d < 0 {
				return fmt.Errorf("monster spawn %q: respawn_after must not be negative", s.ID)
			}
		}
	}
	return nil
}

// Definition returns the definition for monsterType.
func (c *Catalog) Definition(monsterType string) (*Definition, bool) {
	d, ok := c.byType[monsterType]
	return d, ok
}

// Types returns all known monster types in sorted order.
func (c *Catalog) Types() []string {
	out := make([]string, 0, len(c.byType))
	for t := range c.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// NewMonster builds a full-health monster record for the given spawn.
//
// Precondition: s.Type must be present in the catalog.
// Postcondition: Returns an idle monster with HP == MaxHP.
func (c *Catalog) NewMonster(s Spawn) (*state.Monster, error) {
	def, ok := c.Definition(s.Type)
	if !ok {
		return nil, fmt.Errorf("unknown monster type %q", s.Type)
	}
	return &state.Monster{
		ID:    s.ID,
		Type:  def.Type,
		X:     s.X,
		Y:     s.Y,
		HP:    def.MaxHP,
		MaxHP: def.MaxHP,
		State: state.MonsterIdle,
		MapID: s.MapID,
	}, nil
}

// LoadCatalogFromBytes parses a catalog from raw YAML bytes.
//
// Postcondition: Returns a validated *Catalog, or an error.
func LoadCatalogFromBytes(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing monster catalog YAML: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadCatalog reads and parses the catalog at path.
//
// Precondition: path must be a readable YAML file.
// Postcondition: Returns a validated *Catalog, or an error.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading monster catalog %q: %w", path, err)
	}
	c, err := LoadCatalogFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", path, err)
	}
	return c, nil
}
