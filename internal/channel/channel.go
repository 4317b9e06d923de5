// Package channel implements the Channel State Machine described in
// spec.md §4.5: Stopped/Playing/FadingIn/FadingOut/Paused/SwitchingState,
// fade schedulers, and collection/switch-container playback dispatch.
package channel

import (
	"sync"

	"github.com/amplitude-audio/amplitude-go/internal/fade"
	"github.com/amplitude-audio/amplitude-go/internal/geom"
)

// State is one of the channel's playback states.
type State int

const (
	Stopped State = iota
	Playing
	FadingIn
	FadingOut
	Paused
	SwitchingState
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Playing:
		return "Playing"
	case FadingIn:
		return "FadingIn"
	case FadingOut:
		return "FadingOut"
	case Paused:
		return "Paused"
	case SwitchingState:
		return "SwitchingState"
	default:
		return "Unknown"
	}
}

// pendingAfterFade names what to transition to once the in-flight fade
// completes, since FadingIn can resolve to Playing and FadingOut can
// resolve to either Stopped or Paused depending on which event started it.
type pendingAfterFade int

const (
	pendingNone pendingAfterFade = iota
	pendingPlaying
	pendingStopped
	pendingPaused
)

// Channel is a higher-level handle visible to game code: playback state,
// priority, source reference, and fade scheduling. Layer Slot backing
// (real vs. virtual) is managed externally by the scheduler package,
// which is why Channel only stores a LayerHandle/HasLayer pair rather
// than an actual layer.Slot pointer — avoiding a channel<->layer import
// cycle and keeping the state machine layer-agnostic, as spec.md's
// Design Notes recommend (non-owning references, command-queue-governed
// lifetimes).
type Channel struct {
	mu sync.Mutex

	ID uint32

	Priority     float64 // gain x source-priority, at play time.
	ListenerID   uint32
	EntityID     uint32
	Location     geom.Vec3

	LayerHandle uint32
	HasLayer    bool

	state   State
	pending pendingAfterFade
	fader   *fade.Fader

	userGain   float64
	sourceGain float64

	loopCount    int
	maxLoops     int // 0 means infinite looping while flagged to loop.

	collection *Collection
}

// New creates a stopped channel.
func New(id uint32) *Channel {
	return &Channel{
		ID:         id,
		state:      Stopped,
		fader:      fade.NewFader(0),
		userGain:   1,
		sourceGain: 1,
	}
}

// State returns the channel's current playback state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Playing reports whether the channel is producing (or fading into)
// audio.
func (c *Channel) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Playing || c.state == FadingIn || c.state == FadingOut
}

// Play transitions Stopped -> FadingIn -> Playing (or directly to
// Playing when duration is 0), per spec.md §4.5.
func (c *Channel) Play(userGain float64, duration float64, curve fade.Curve) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userGain = userGain
	c.loopCount = 0
	c.fader.SetTarget(1, duration, curve)
	if duration <= 0 {
		c.state = Playing
		c.pending = pendingNone
		return
	}
	c.state = FadingIn
	c.pending = pendingPlaying
}

// Pause transitions Playing -> FadingOut -> Paused.
func (c *Channel) Pause(duration float64, curve fade.Curve) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Playing && c.state != FadingIn {
		return
	}
	c.fader.SetTarget(0, duration, curve)
	if duration <= 0 {
		c.state = Paused
		c.pending = pendingNone
		return
	}
	c.state = FadingOut
	c.pending = pendingPaused
}

// Resume transitions Paused -> FadingIn -> Playing.
func (c *Channel) Resume(duration float64, curve fade.Curve) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Paused {
		return
	}
	c.fader.SetTarget(1, duration, curve)
	if duration <= 0 {
		c.state = Playing
		c.pending = pendingNone
		return
	}
	c.state = FadingIn
	c.pending = pendingPlaying
}

// Stop transitions any state to FadingOut -> Stopped.
func (c *Channel) Stop(duration float64, curve fade.Curve) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Stopped {
		return
	}
	c.fader.SetTarget(0, duration, curve)
	if duration <= 0 {
		c.state = Stopped
		c.pending = pendingNone
		return
	}
	c.state = FadingOut
	c.pending = pendingStopped
}

// Advance steps the channel's fade scheduler by dt seconds and resolves
// any FadingIn/FadingOut state whose fade has completed. Returns the
// channel's new state for callers that want to react to a transition
// (e.g. the scheduler freeing a layer once a channel reaches Stopped).
func (c *Channel) Advance(dt float64) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fader.Advance(dt)
	if (c.state == FadingIn || c.state == FadingOut) && c.fader.Done() {
		switch c.pending {
		case pendingPlaying:
			c.state = Playing
		case pendingStopped:
			c.state = Stopped
		case pendingPaused:
			c.state = Paused
		}
		c.pending = pendingNone
	}
	return c.state
}

// EffectiveGain returns user_gain x fade_gain x source_gain x
// bus_final_gain, per spec.md §4.5.
func (c *Channel) EffectiveGain(busFinalGain float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userGain * c.fader.Current() * c.sourceGain * busFinalGain
}

// SetSourceGain sets the intrinsic gain of the bound source asset.
func (c *Channel) SetSourceGain(g float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sourceGain = g
}

// SetMaxLoops configures the loop-count ceiling; 0 means loop forever
// while the source requests looping.
func (c *Channel) SetMaxLoops(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxLoops = n
}

// LoopCount returns how many loop callbacks have fired so far.
func (c *Channel) LoopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loopCount
}

// OnLoop is invoked by the mixer's loop callback on every wrap. It
// returns true if the channel should keep looping, false if the max
// loop count has been reached and the channel should transition to
// Stopped (spec.md §4.5: "Loop (internal) -> increments loop count and
// either reloops or transitions to Stopped if max reached").
func (c *Channel) OnLoop() bool {
	c.mu.Lock()
	c.loopCount++
	exceeded := c.maxLoops > 0 && c.loopCount >= c.maxLoops
	c.mu.Unlock()
	if exceeded {
		c.Stop(0, fade.Linear)
		return false
	}
	return true
}

// SetCollection attaches a Collection source to this channel (for
// Random/PlayAll/LoopAll dispatch); pass nil for a plain single-sound
// channel.
func (c *Channel) SetCollection(col *Collection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collection = col
	if col != nil {
		col.Reset()
	}
}

// Collection returns the channel's attached collection, or nil.
func (c *Channel) Collection() *Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collection
}
