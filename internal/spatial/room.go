package spatial

import (
	"sort"
	"sync"

	"github.com/amplitude-audio/amplitude-go/internal/geom"
)

// Room is spec.md §3's Room: a bounded zone with reverb and directional
// energy, used to apply room-acoustic effects to sources it contains.
type Room struct {
	Zone              Zone
	Volume            float64
	ReverbID          uint32
	DirectionalEnergy geom.Vec3
}

// Contains reports whether p lies inside the room's bounding (inner)
// shape.
func (r Room) Contains(p geom.Vec3) bool {
	return r.Zone.Inner.SignedDistance(p) <= 0
}

// RoomTable owns every live Room and keeps a volume-descending index so
// a source's containing room can be resolved with "smallest containing
// room wins" semantics (spec.md §3, verbatim) in a single scan.
type RoomTable struct {
	arena *Arena[Room]

	mu    sync.Mutex
	dirty bool
	order []uint32 // ids, sorted by volume descending
}

// NewRoomTable creates a table with the given capacity.
func NewRoomTable(capacity int) *RoomTable {
	return &RoomTable{arena: NewArena[Room](capacity), dirty: true}
}

func (t *RoomTable) Add(r Room) (id uint32, ok bool) {
	id, ok = t.arena.Add(r)
	if ok {
		t.markDirty()
	}
	return id, ok
}

func (t *RoomTable) Remove(id uint32) bool {
	ok := t.arena.Remove(id)
	if ok {
		t.markDirty()
	}
	return ok
}

func (t *RoomTable) Update(id uint32, r Room) bool {
	ok := t.arena.Update(id, r)
	if ok {
		t.markDirty()
	}
	return ok
}

func (t *RoomTable) Get(id uint32) (Room, bool) { return t.arena.Get(id) }

func (t *RoomTable) markDirty() {
	t.mu.Lock()
	t.dirty = true
	t.mu.Unlock()
}

func (t *RoomTable) rebuildLocked() {
	var entries []uint32
	var volumes map[uint32]float64 = make(map[uint32]float64)
	t.arena.ForEach(func(id uint32, r Room) {
		entries = append(entries, id)
		volumes[id] = r.Volume
	})
	sort.Slice(entries, func(i, j int) bool { return volumes[entries[i]] > volumes[entries[j]] })
	t.order = entries
	t.dirty = false
}

// FindContaining returns the smallest-volume room (by the
// volume-descending order, scanned tail-first) that contains p, per
// spec.md §3's "smallest containing room wins" rule.
func (t *RoomTable) FindContaining(p geom.Vec3) (Room, uint32, bool) {
	t.mu.Lock()
	if t.dirty {
		t.rebuildLocked()
	}
	order := t.order
	t.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		r, ok := t.arena.Get(id)
		if ok && r.Contains(p) {
			return r, id, true
		}
	}
	return Room{}, 0, false
}

// ForEach invokes fn for every live room in volume-descending order.
func (t *RoomTable) ForEach(fn func(id uint32, r Room)) {
	t.mu.Lock()
	if t.dirty {
		t.rebuildLocked()
	}
	order := t.order
	t.mu.Unlock()

	for _, id := range order {
		if r, ok := t.arena.Get(id); ok {
			fn(id, r)
		}
	}
}
