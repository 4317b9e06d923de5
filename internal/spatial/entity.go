package spatial

import "github.com/amplitude-audio/amplitude-go/internal/geom"

// Entity is spec.md §3's Entity data model: a positioned, oriented game
// object that sources can be attached to, plus the per-environment
// factors (environment id -> 0..1 amount) TrackEnvironments keeps
// current as the entity moves through zones.
type Entity struct {
	Position    geom.Vec3
	Orientation geom.Quat
	Velocity    geom.Vec3

	EnvironmentFactors map[uint32]float64
}

// EnvironmentFactor returns the entity's current factor for environment
// id, or 0 if the entity has never been evaluated against it.
func (e Entity) EnvironmentFactor(environmentID uint32) float64 {
	if e.EnvironmentFactors == nil {
		return 0
	}
	return e.EnvironmentFactors[environmentID]
}

// EntityTable owns every live Entity, generation-indexed the same way
// as ListenerTable.
type EntityTable struct {
	arena *Arena[Entity]
}

// NewEntityTable creates a table with the given capacity.
func NewEntityTable(capacity int) *EntityTable {
	return &EntityTable{arena: NewArena[Entity](capacity)}
}

func (t *EntityTable) Add(e Entity) (id uint32, ok bool)    { return t.arena.Add(e) }
func (t *EntityTable) Remove(id uint32) bool                { return t.arena.Remove(id) }
func (t *EntityTable) Get(id uint32) (Entity, bool)         { return t.arena.Get(id) }
func (t *EntityTable) Update(id uint32, e Entity) bool      { return t.arena.Update(id, e) }
func (t *EntityTable) ForEach(fn func(id uint32, e Entity)) { t.arena.ForEach(fn) }

// RefreshEnvironmentFactors recomputes every tracked environment's
// factor at the entity's current position and writes the result back
// into the table (spec.md §6's game.track_environments flag gates
// whether the engine calls this once per frame per entity).
func RefreshEnvironmentFactors(entities *EntityTable, environments *EnvironmentTable, id uint32) bool {
	e, ok := entities.Get(id)
	if !ok {
		return false
	}
	factors := make(map[uint32]float64, len(e.EnvironmentFactors))
	environments.ForEach(func(envID uint32, env Environment) {
		factors[envID] = env.Zone.Factor(e.Position)
	})
	e.EnvironmentFactors = factors
	return entities.Update(id, e)
}
