// Package bus implements the gain-grouping Bus tree and ducking
// described in spec.md §3 ("Bus") and §4.7.
package bus

import (
	"sync"

	"github.com/amplitude-audio/amplitude-go/internal/fade"
)

// MasterID is the conventional id of the root bus when none is named
// "master" explicitly (spec.md §6: "A master bus (id 1 or name
// 'master') is required").
const MasterID = 1

// MasterName is the conventional name of the root bus.
const MasterName = "master"

// DuckTarget is a non-owning reference to another bus this bus reacts
// to: when that bus's final gain exceeds threshold, this bus's gain is
// driven toward attenuation over attack seconds, and restored over
// release seconds once the target drops back below threshold.
type DuckTarget struct {
	TargetID    uint32
	Threshold   float64
	Attenuation float64
	Attack      float64
	Release     float64

	multiplier float64
}

// Bus is a node in the bus tree.
type Bus struct {
	mu sync.RWMutex

	id   uint32
	name string

	userGain float64
	fader    *fade.Fader
	muted    bool

	children []*Bus
	ducks    []*DuckTarget

	finalGain float64
}

// New creates a bus with the given id/name and a user gain of 1.
func New(id uint32, name string) *Bus {
	return &Bus{
		id:        id,
		name:      name,
		userGain:  1,
		fader:     fade.NewFader(1),
		finalGain: 1,
	}
}

// ID and Name return the bus's identity.
func (b *Bus) ID() uint32    { return b.id }
func (b *Bus) Name() string  { return b.name }

// AddChild attaches a child bus, per spec.md §3's "list of child buses".
func (b *Bus) AddChild(child *Bus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.children = append(b.children, child)
}

// Children returns the bus's direct children.
func (b *Bus) Children() []*Bus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Bus, len(b.children))
	copy(out, b.children)
	return out
}

// AddDuck registers a duck-target relationship.
func (b *Bus) AddDuck(d DuckTarget) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d.multiplier = 1
	b.ducks = append(b.ducks, &d)
}

// SetUserGain sets the bus's own gain multiplier.
func (b *Bus) SetUserGain(g float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.userGain = g
}

// UserGain returns the bus's own gain multiplier.
func (b *Bus) UserGain() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.userGain
}

// Fade begins a gain transition on this bus's fader.
func (b *Bus) Fade(target float64, duration float64, curve fade.Curve) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fader.SetTarget(target, duration, curve)
}

// SetMuted mutes or unmutes the bus; a muted bus's final gain is 0
// regardless of its other factors (spec.md §6: set_mute).
func (b *Bus) SetMuted(m bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.muted = m
}

// FinalGain returns the last value computed by AdvanceFrame for this
// bus: parent_final x fade x user_gain x duck_multiplier.
func (b *Bus) FinalGain() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.finalGain
}

// advanceDucks steps this bus's duck multipliers given a lookup of the
// current final gain of any other bus in the tree (looked up by id),
// and returns the product of all duck multipliers.
func (b *Bus) advanceDucks(dt float64, finalGainOf func(id uint32) (float64, bool)) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	product := 1.0
	for _, d := range b.ducks {
		targetGain, ok := finalGainOf(d.TargetID)
		driving := 1.0
		if ok && targetGain > d.Threshold {
			driving = d.Attenuation
		}
		var rate float64
		if driving < d.multiplier {
			rate = d.Attack
		} else {
			rate = d.Release
		}
		if rate <= 0 {
			d.multiplier = driving
		} else {
			// Linear ramp: the full swing between 1 and Attenuation takes
			// rate seconds.
			span := 1 - d.Attenuation
			if span < 0 {
				span = -span
			}
			maxStep := span * dt / rate
			switch delta := driving - d.multiplier; {
			case delta > maxStep:
				d.multiplier += maxStep
			case delta < -maxStep:
				d.multiplier -= maxStep
			default:
				d.multiplier = driving
			}
		}
		product *= d.multiplier
	}
	return product
}

// Tree owns the full set of buses and performs the single-pass BFS
// evaluation from master described in spec.md §4.7.
type Tree struct {
	mu     sync.RWMutex
	byID   map[uint32]*Bus
	byName map[string]*Bus
	master *Bus
}

// NewTree builds an empty tree; call AddBus to populate it. The master is
// the last added bus whose id is MasterID or whose name is MasterName.
func NewTree() *Tree {
	return &Tree{
		byID:   make(map[uint32]*Bus),
		byName: make(map[string]*Bus),
	}
}

// AddBus registers a bus in the tree, tracking master-by-convention.
func (t *Tree) AddBus(b *Bus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[b.id] = b
	t.byName[b.name] = b
	if b.id == MasterID || b.name == MasterName {
		t.master = b
	}
}

// ByID finds a bus by id.
func (t *Tree) ByID(id uint32) (*Bus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.byID[id]
	return b, ok
}

// ByName finds a bus by name.
func (t *Tree) ByName(name string) (*Bus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.byName[name]
	return b, ok
}

// Master returns the tree's root bus, or nil if none has been
// registered yet (spec.md §7: ConfigInvalid when no master bus exists).
func (t *Tree) Master() *Bus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.master
}

// AdvanceFrame recomputes every bus's final gain in one BFS pass from
// master (spec.md §4.7: "single-pass across the bus tree in BFS from
// master"). Final gains are written in place as the pass goes, so a duck
// reads its target's gain from this frame when the target was visited
// earlier in the BFS order, and from the previous frame otherwise.
func (t *Tree) AdvanceFrame(dt float64) {
	t.mu.RLock()
	master := t.master
	t.mu.RUnlock()
	if master == nil {
		return
	}

	finalGainOf := func(id uint32) (float64, bool) {
		b, ok := t.ByID(id)
		if !ok {
			return 0, false
		}
		return b.FinalGain(), true
	}

	type queued struct {
		b            *Bus
		parentFinal  float64
	}
	queue := []queued{{master, 1}}
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		b := item.b

		b.mu.Lock()
		fadeVal := b.fader.Advance(dt)
		userGain := b.userGain
		muted := b.muted
		b.mu.Unlock()

		duckMult := b.advanceDucks(dt, finalGainOf)

		final := item.parentFinal * fadeVal * userGain * duckMult
		if muted {
			final = 0
		}

		b.mu.Lock()
		b.finalGain = final
		b.mu.Unlock()

		for _, child := range b.Children() {
			queue = append(queue, queued{child, final})
		}
	}
}
