// Package interp smooths remote entity positions between authoritative updates.
package interp

import (
	"math"
	"sort"
	"sync"

	"github.com/cory-johannsen/worldsync/internal/config"
)

// Entity is one rendered position chasing an authoritative target.
type Entity struct {
	X, Y             float64
	TargetX, TargetY float64
}

// Step advances the rendered position one frame. When either axis is more
// than snap away from the target the position jumps to the target; otherwise
// it closes factor of the remaining distance.
//
// Precondition: 0 < factor <= 1; snap >= 0.
func (e *Entity) Step(factor, snap float64) {
	dx := e.TargetX - e.X
	dy := e.TargetY - e.Y
	if math.Abs(dx) > snap || math.Abs(dy) > snap {
		e.X, e.Y = e.TargetX, e.TargetY
		return
	}
	e.X += dx * factor
	e.Y += dy * factor
}

// Target is an authoritative position for one entity.
type Target struct {
	ID   string
	X, Y float64
}

// Interpolator owns rendered positions for a set of entities.
//
// All methods are safe for concurrent use.
type Interpolator struct {
	factor float64
	snap   float64

	mu       sync.Mutex
	entities map[string]*Entity
}

// New creates an interpolator from cfg.
//
// Precondition: cfg must have passed validation.
func New(cfg config.InterpolationConfig) *Interpolator {
	return &Interpolator{
		factor:   cfg.Factor,
		snap:     cfg.SnapThreshold,
		entities: make(map[string]*Entity),
	}
}

// Sync adopts the latest targets. New ids start at their target and ids not in
// targets are dropped.
func (in *Interpolator) Sync(targets []Target) {
	in.mu.Lock()
	defer in.mu.Unlock()

	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		seen[t.ID] = true
		e, ok := in.entities[t.ID]
		if !ok {
			in.entities[t.ID] = &Entity{X: t.X, Y: t.Y, TargetX: t.X, TargetY: t.Y}
			continue
		}
		e.TargetX, e.TargetY = t.X, t.Y
	}
	for id := range in.entities {
		if !seen[id] {
			delete(in.entities, id)
		}
	}
}

// SetTarget updates one entity's target, adding it at the target if unknown.
func (in *Interpolator) SetTarget(id string, x, y float64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if e, ok := in.entities[id]; ok {
		e.TargetX, e.TargetY = x, y
		return
	}
	in.entities[id] = &Entity{X: x, Y: y, TargetX: x, TargetY: y}
}

// Remove forgets id.
func (in *Interpolator) Remove(id string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.entities, id)
}

// Advance runs one render frame for every entity.
func (in *Interpolator) Advance() {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, e := range in.entities {
		e.Step(in.factor, in.snap)
	}
}

// Position returns the rendered position of id.
func (in *Interpolator) Position(id string) (x, y float64, ok bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	e, ok := in.entities[id]
	if !ok {
		return 0, 0, false
	}
	return e.X, e.Y, true
}

// IDs returns the tracked ids in sorted order.
func (in *Interpolator) IDs() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	ids := make([]string, 0, len(in.entities))
	for id := range in.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
