package amplitude

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amplitude-audio/amplitude-go/internal/fade"
)

// EventActionKind is one step an Event performs when triggered.
type EventActionKind int

const (
	EventActionPlay EventActionKind = iota
	EventActionStop
	EventActionPause
	EventActionResume
	EventActionSetSwitchState
	EventActionSetRTPCValue
)

// EventAction is one entry in an EventDef's action list. Delay is
// relative to the moment the owning Event was triggered, in seconds;
// zero fires immediately.
type EventAction struct {
	Kind        EventActionKind
	Delay       float64
	FadeSeconds float64
	FadeCurve   fade.Curve

	SoundID uint32

	SwitchGroup uint32
	SwitchState uint32

	RTPCID    uint32
	RTPCValue float64
}

// EventDef is a named, ordered list of actions (spec.md §6's
// trigger(event, entity) control surface). Registered ahead of time,
// like a Sound, and fired by id.
type EventDef struct {
	Actions []EventAction
}

type eventRegistry struct {
	mu     sync.RWMutex
	events map[uint32]EventDef
}

func newEventRegistry() *eventRegistry {
	return &eventRegistry{events: make(map[uint32]EventDef)}
}

func (r *eventRegistry) register(id uint32, def EventDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[id] = def
}

func (r *eventRegistry) get(id uint32) (EventDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.events[id]
	return def, ok
}

// Canceler is the handle spec.md §5 calls for under "Cancellation and
// timeouts": cancelling a triggered event transitions it immediately to
// its final state (no further actions fire) and releases its
// bookkeeping. Backed by a uuid.UUID rather than a generation-indexed
// handle, since triggers are a control-thread-only, low-frequency
// concern where a globally unique id is more useful to an embedding game
// than an index into an internal table.
type Canceler struct {
	id     uuid.UUID
	cancel context.CancelFunc
}

// ID returns the trigger's unique identifier.
func (c Canceler) ID() uuid.UUID { return c.id }

// Cancel stops any actions of the triggered event still pending. Safe to
// call more than once, and safe to call after the event has already run
// to completion.
func (c Canceler) Cancel() {
	if c.cancel != nil {
		c.cancel()
	}
}

// RegisterEvent adds a named event definition, available to Trigger
// thereafter.
func (e *Engine) RegisterEvent(id uint32, def EventDef) {
	e.events.register(id, def)
}

// Trigger fires a registered event against entityID, running its
// actions in registration order on their configured delays and
// returning a Canceler that aborts any actions still pending. Actions
// already fired are not undone.
func (e *Engine) Trigger(eventID uint32, entityID uint32) (Canceler, error) {
	def, ok := e.events.get(eventID)
	if !ok {
		return Canceler{}, ErrInvalidHandle
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New()

	e.triggersMu.Lock()
	e.triggers[id] = cancel
	e.triggersMu.Unlock()

	go e.runEvent(ctx, id, entityID, def)

	return Canceler{id: id, cancel: cancel}, nil
}

// runEvent steps through an event's actions on a dedicated goroutine,
// honoring each action's delay and exiting early once ctx is cancelled.
// Mirrors the teacher's render-loop shape (a context.WithCancel'd
// goroutine, torn down from a stored cancel func) generalized from a
// continuous loop to a one-shot timed sequence.
func (e *Engine) runEvent(ctx context.Context, id uuid.UUID, entityID uint32, def EventDef) {
	defer func() {
		e.triggersMu.Lock()
		delete(e.triggers, id)
		e.triggersMu.Unlock()
	}()

	start := time.Now()
	for _, action := range def.Actions {
		wait := time.Until(start.Add(time.Duration(action.Delay * float64(time.Second))))
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return
		}
		e.runEventAction(entityID, action)
	}
}

func (e *Engine) runEventAction(entityID uint32, action EventAction) {
	switch action.Kind {
	case EventActionPlay:
		if _, err := e.Play(action.SoundID, PlayOptions{EntityID: entityID, UserGain: 1}); err != nil {
			e.logger.Warn("event play action failed", "sound_id", action.SoundID, "error", err)
		}
	case EventActionStop:
		for _, ch := range e.channelsForEntity(entityID) {
			e.Stop(ch, action.FadeSeconds, action.FadeCurve)
		}
	case EventActionPause:
		for _, ch := range e.channelsForEntity(entityID) {
			e.Pause(ch, action.FadeSeconds, action.FadeCurve)
		}
	case EventActionResume:
		for _, ch := range e.channelsForEntity(entityID) {
			e.Resume(ch, action.FadeSeconds, action.FadeCurve)
		}
	case EventActionSetSwitchState:
		e.SetSwitchState(action.SwitchGroup, action.SwitchState)
	case EventActionSetRTPCValue:
		e.SetRTPCValue(action.RTPCID, action.RTPCValue)
	}
}
