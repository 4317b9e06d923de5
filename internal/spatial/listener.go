package spatial

import "github.com/amplitude-audio/amplitude-go/internal/geom"

// Listener is spec.md §3's Listener data model: position, orientation
// (forward+up), velocity and an id. The inverse world-to-listener
// transform is derived on demand rather than cached, since Go has no
// mutation hook to invalidate a cache on pose change; RotateVec3 on a
// conjugated quaternion is cheap enough to recompute per use.
type Listener struct {
	Position    geom.Vec3
	Forward     geom.Vec3
	Up          geom.Vec3
	Velocity    geom.Vec3
	Orientation geom.Quat
}

// ToListenerSpace transforms a world-space point into this listener's
// local space (translate then inverse-rotate), the "inverse
// world-to-listener matrix" spec.md §3 calls out.
func (l Listener) ToListenerSpace(world geom.Vec3) geom.Vec3 {
	return l.Orientation.Conjugate().RotateVec3(world.Sub(l.Position))
}

// DirectionTo returns the unit vector from the listener to world in
// listener space, the SourceDirection the pipeline's AmbisonicPanning
// node consumes.
func (l Listener) DirectionTo(world geom.Vec3) geom.Vec3 {
	return l.ToListenerSpace(world).Normalize()
}

// ListenerTable owns every live Listener, generation-indexed per
// spec.md §9's "use arena+index schemes... ids embed a generation
// counter" design note, and applies the fetch-mode policy (spec.md §9
// Open Question, resolved in DESIGN.md) that decides which pose within
// a frame the mix actually observes.
type ListenerTable struct {
	arena     *Arena[Listener]
	fetchLast bool

	snapshot map[uint32]Listener
	fetched  map[uint32]bool
}

// NewListenerTable creates a table with the given capacity. fetchLast
// selects ListenerFetchLast semantics (always read the latest pose);
// when false, ListenerFetchFirst semantics apply (only the pose
// observed at the first Fetch call in a frame is used until BeginFrame
// is called again).
func NewListenerTable(capacity int, fetchLast bool) *ListenerTable {
	return &ListenerTable{
		arena:     NewArena[Listener](capacity),
		fetchLast: fetchLast,
		snapshot:  make(map[uint32]Listener),
		fetched:   make(map[uint32]bool),
	}
}

// Add registers a new listener.
func (t *ListenerTable) Add(l Listener) (id uint32, ok bool) { return t.arena.Add(l) }

// Remove unregisters a listener.
func (t *ListenerTable) Remove(id uint32) bool { return t.arena.Remove(id) }

// Update replaces the pose for a live listener id.
func (t *ListenerTable) Update(id uint32, l Listener) bool { return t.arena.Update(id, l) }

// BeginFrame clears the ListenerFetchFirst snapshot cache; the mixer's
// frame driver calls this once before each audio callback.
func (t *ListenerTable) BeginFrame() {
	for k := range t.fetched {
		delete(t.fetched, k)
	}
}

// Fetch returns the pose the current fetch-mode policy says should be
// used for id during this frame.
func (t *ListenerTable) Fetch(id uint32) (Listener, bool) {
	if t.fetchLast {
		return t.arena.Get(id)
	}
	if t.fetched[id] {
		return t.snapshot[id], true
	}
	l, ok := t.arena.Get(id)
	if !ok {
		return Listener{}, false
	}
	t.snapshot[id] = l
	t.fetched[id] = true
	return l, true
}
