package spatial

// Environment is spec.md §3's Environment/Zone: a zone plus the effect
// handle applied to a source while the zone's factor there is non-zero.
type Environment struct {
	Zone     Zone
	EffectID uint32
}

// EnvironmentTable owns every live Environment.
type EnvironmentTable struct {
	arena *Arena[Environment]
}

// NewEnvironmentTable creates a table with the given capacity.
func NewEnvironmentTable(capacity int) *EnvironmentTable {
	return &EnvironmentTable{arena: NewArena[Environment](capacity)}
}

func (t *EnvironmentTable) Add(e Environment) (id uint32, ok bool)    { return t.arena.Add(e) }
func (t *EnvironmentTable) Remove(id uint32) bool                     { return t.arena.Remove(id) }
func (t *EnvironmentTable) Get(id uint32) (Environment, bool)         { return t.arena.Get(id) }
func (t *EnvironmentTable) Update(id uint32, e Environment) bool      { return t.arena.Update(id, e) }
func (t *EnvironmentTable) ForEach(fn func(id uint32, e Environment)) { t.arena.ForEach(fn) }
