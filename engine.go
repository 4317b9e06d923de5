package amplitude

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/amplitude-audio/amplitude-go/internal/asyncload"
	"github.com/amplitude-audio/amplitude-go/internal/bus"
	"github.com/amplitude-audio/amplitude-go/internal/channel"
	"github.com/amplitude-audio/amplitude-go/internal/driver"
	"github.com/amplitude-audio/amplitude-go/internal/fade"
	"github.com/amplitude-audio/amplitude-go/internal/geom"
	"github.com/amplitude-audio/amplitude-go/internal/layer"
	"github.com/amplitude-audio/amplitude-go/internal/mixer"
	"github.com/amplitude-audio/amplitude-go/internal/pipeline"
	"github.com/amplitude-audio/amplitude-go/internal/scheduler"
	"github.com/amplitude-audio/amplitude-go/internal/spatial"
)

// duckTriggerThreshold gates duck evaluation: a duck target is
// considered "audible" (and therefore driving the duck) once its final
// gain exceeds this value. spec.md §6's buses file schema gives each
// duck relationship only `{ id, target_gain, attack, release }` with no
// separate threshold field; resolved in DESIGN.md's Open Questions as
// "any non-silent target triggers the duck".
const duckTriggerThreshold = 1e-3

// BusDef is a decoded bus-file entry (spec.md §6: "List of bus
// definitions"). Decoding the binary buses file itself is out of scope;
// callers parse it with their own asset pipeline and pass the result to
// Initialize.
type BusDef struct {
	ID          uint32
	Name        string
	Gain        float64
	ChildBusIDs []uint32
	Ducks       []DuckDef
}

// DuckDef is one `duck_buses` entry.
type DuckDef struct {
	TargetID    uint32
	TargetGain  float64
	Attack      float64
	Release     float64
}

// PlayOptions are the optional arguments to Play (spec.md §6's
// play(handle|name|id, optional entity, optional location, optional
// user_gain)).
type PlayOptions struct {
	EntityID   uint32
	ListenerID uint32
	Location   geom.Vec3
	UserGain   float64
	BusID      uint32
}

type channelState struct {
	soundID     uint32
	busID       uint32
	entityID    uint32
	listenerID  uint32
	location    geom.Vec3
	layerHandle uint32
}

// Engine is the root Amplimix context: the Layer Table, Scheduler, Mixer
// Core, Pipeline Graph, Bus tree, spatial tables, async bank loader, and
// device driver, wired together per spec.md §2's system overview.
type Engine struct {
	mu     sync.Mutex
	logger *charmlog.Logger
	config EngineConfig

	layers    *layer.Table
	scheduler *scheduler.Scheduler
	mixerCore *mixer.Mixer
	graph     *engineGraph
	buses     *bus.Tree
	player    *driver.Player
	loader    *asyncload.Loader
	sounds    *soundRegistry
	events    *eventRegistry

	triggersMu sync.Mutex
	triggers   map[uuid.UUID]context.CancelFunc

	listeners    *spatial.ListenerTable
	entities     *spatial.EntityTable
	environments *spatial.EnvironmentTable
	rooms        *spatial.RoomTable

	channels      map[uint32]*channel.Channel
	channelStates map[uint32]*channelState
	nextChannelID uint32

	switchStates map[uint32]uint32
	rtpc         map[uint32]float64

	banks map[uint32]bool

	deviceSampleRate int
}

// Initialize builds a fully wired Engine from cfg and the decoded bus
// definitions, per spec.md §7's rollback-on-failure semantics: if any
// stage fails, everything already opened is torn down and a nil Engine
// is returned alongside the error.
func Initialize(cfg EngineConfig, busDefs []BusDef) (eng *Engine, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := newLogger()

	graphImpl, err := pipeline.NewGraph(cfg.Mixer.Pipeline)
	if err != nil {
		return nil, err
	}

	busTree, err := buildBusTree(busDefs)
	if err != nil {
		return nil, err
	}

	layers := layer.NewTable(nextPow2(cfg.Mixer.ActiveChannels + cfg.Mixer.VirtualChannels))
	eGraph := newEngineGraph(graphImpl)
	outputChannels := mixer.Stereo
	if cfg.Output.Channels == 1 {
		outputChannels = mixer.Mono
	}
	mixerCore := mixer.New(layers, outputChannels, eGraph)

	player, err := driver.New(cfg.Output.Frequency, cfg.Output.Channels)
	if err != nil {
		return nil, ErrDeviceOpenFailed
	}
	// Rollback: if anything below fails, close what driver.New opened.
	defer func() {
		if err != nil && player != nil {
			player.Close()
		}
	}()

	eng = &Engine{
		logger:           logger,
		config:           cfg,
		layers:           layers,
		scheduler:        scheduler.New(cfg.Mixer.ActiveChannels, cfg.Mixer.VirtualChannels),
		mixerCore:        mixerCore,
		graph:            eGraph,
		buses:            busTree,
		player:           player,
		loader:           asyncload.New(4),
		sounds:           newSoundRegistry(),
		events:           newEventRegistry(),
		triggers:         make(map[uuid.UUID]context.CancelFunc),
		listeners:        spatial.NewListenerTable(nextPow2(max1(cfg.Game.Listeners)), cfg.Game.ListenerFetchMode == ListenerFetchLast),
		entities:         spatial.NewEntityTable(nextPow2(max1(cfg.Game.Entities))),
		environments:     spatial.NewEnvironmentTable(nextPow2(max1(cfg.Game.Environments))),
		rooms:            spatial.NewRoomTable(nextPow2(max1(cfg.Game.Rooms))),
		channels:         make(map[uint32]*channel.Channel),
		channelStates:    make(map[uint32]*channelState),
		switchStates:     make(map[uint32]uint32),
		rtpc:             make(map[uint32]float64),
		banks:            make(map[uint32]bool),
		deviceSampleRate: cfg.Output.Frequency,
	}

	mixerCore.OnLoop = func(handle uint32, slot *layer.Slot) bool {
		return eng.onLayerLoop(slot)
	}
	mixerCore.OnEnd = func(handle uint32, slot *layer.Slot) {
		eng.onLayerEnd(handle)
	}

	player.SetSource(mixerCore)
	player.Start()

	logger.Info("engine initialized", "output_channels", cfg.Output.Channels, "frequency", cfg.Output.Frequency)
	return eng, nil
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func nextPow2(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func buildBusTree(defs []BusDef) (*bus.Tree, error) {
	tree := bus.NewTree()
	built := make(map[uint32]*bus.Bus, len(defs))
	for _, d := range defs {
		b := bus.New(d.ID, d.Name)
		b.SetUserGain(d.Gain)
		for _, duck := range d.Ducks {
			b.AddDuck(bus.DuckTarget{
				TargetID:    duck.TargetID,
				Threshold:   duckTriggerThreshold,
				Attenuation: duck.TargetGain,
				Attack:      duck.Attack,
				Release:     duck.Release,
			})
		}
		built[d.ID] = b
		tree.AddBus(b)
	}
	for _, d := range defs {
		b := built[d.ID]
		for _, childID := range d.ChildBusIDs {
			if child, ok := built[childID]; ok {
				b.AddChild(child)
			}
		}
	}
	if tree.Master() == nil {
		return nil, ErrConfigInvalid
	}
	return tree, nil
}

// Deinitialize stops playback, cancels any pending triggered events, and
// releases the device driver. The Engine must not be used afterward.
func (e *Engine) Deinitialize() {
	e.triggersMu.Lock()
	for _, cancel := range e.triggers {
		cancel()
	}
	e.triggersMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.layers.StopAll()
	e.player.Close()
	e.logger.Info("engine deinitialized")
}

// AdvanceFrame steps every subsystem that runs on the game/control
// thread: channel fade schedulers, the bus tree, scheduler
// devirtualization, and per-channel spatialization (spec.md §5).
func (e *Engine) AdvanceFrame(dt float64) {
	// Drain before taking the engine lock: pending commands call back
	// into onLayerEnd, which takes the same lock itself (spec.md §5's
	// "command handlers may freely call back into the engine").
	e.mixerCore.Queue.Drain()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.buses.AdvanceFrame(dt)

	for id, ch := range e.channels {
		st := e.channelStates[id]
		state := ch.Advance(dt)
		busFinal := 1.0
		if st != nil && st.busID != 0 {
			if b, ok := e.buses.ByID(st.busID); ok {
				busFinal = b.FinalGain()
			}
		} else if master := e.buses.Master(); master != nil {
			busFinal = master.FinalGain()
		}

		if state == channel.Stopped {
			e.finalizeStoppedChannelLocked(id, ch)
			continue
		}

		e.updateChannelSpatialLocked(id, ch, st, busFinal)
	}

	e.scheduler.Devirtualize(e.devirtualizeAllocLocked)
}

// devirtualizeAllocLocked resolves a promoted priority back to the
// virtual channel that holds it (scheduler.AllocFunc only carries
// priority, not channel identity) via the Channel.Priority field set at
// Play time, then allocates and records its layer.
func (e *Engine) devirtualizeAllocLocked(priority float64) (uint32, bool) {
	for id, st := range e.channelStates {
		ch := e.channels[id]
		if ch == nil || st.layerHandle != 0 || ch.Priority != priority {
			continue
		}
		handle, ok := e.allocLayerLocked(st.soundID)
		if !ok {
			return 0, false
		}
		st.layerHandle = handle
		if slot, ok := e.layers.Slot(handle); ok {
			e.graph.setOwner(slot, ch)
		}
		return handle, true
	}
	return 0, false
}

func (e *Engine) updateChannelSpatialLocked(id uint32, ch *channel.Channel, st *channelState, busFinal float64) {
	if st == nil {
		return
	}
	slot, ok := e.layers.Slot(st.layerHandle)
	if !ok {
		return
	}

	snd, found := e.sounds.get(st.soundID)
	if !found {
		return
	}

	distanceGain := 1.0
	distance := 0.0
	if st.listenerID != 0 {
		if l, ok := e.listeners.Fetch(st.listenerID); ok {
			distance = l.ToListenerSpace(st.location).Length()
			distanceGain = evaluateCurve(snd.config.AttenuationCurve, distance)
		}
	}

	// environmentGain is the strongest zone the owning entity currently
	// sits in; a source with no entity or outside every zone sends
	// nothing to the reverb chain (environmentEffectNode, spec.md §3).
	environmentGain := 0.0
	if st.entityID != 0 {
		if en, ok := e.entities.Get(st.entityID); ok {
			for _, factor := range en.EnvironmentFactors {
				if factor > environmentGain {
					environmentGain = factor
				}
			}
		}
	}

	// The slot's own gain carries only the channel/bus envelope; distance
	// attenuation and equal-power panning are applied once, inside the
	// Pipeline Graph's attenuation and stereo_panning nodes, via the
	// layerSpatial values recorded below (avoids double-applying either).
	gain := float32(ch.EffectiveGain(busFinal))
	slot.SetGain(gain, gain)

	e.graph.set(slot, &layerSpatial{
		pan:             snd.config.Pan,
		distance:        distance,
		distanceGain:    distanceGain,
		environmentGain: environmentGain,
		owner:           ch,
	})
}

func (e *Engine) finalizeStoppedChannelLocked(id uint32, ch *channel.Channel) {
	st := e.channelStates[id]
	if st != nil && st.layerHandle != 0 {
		if slot, ok := e.layers.Slot(st.layerHandle); ok {
			e.graph.clear(slot)
		}
		e.layers.Free(st.layerHandle)
	}
	e.scheduler.Remove(ch)
	delete(e.channels, id)
	delete(e.channelStates, id)
}

// demoteChannelLocked frees the real layer the scheduler just reclaimed
// from ch during an admission-time swap (Scheduler.Play demoting the
// lowest-priority real entry to make room for a higher-priority
// newcomer). ch's channel state and channelState entry are left intact —
// it keeps playing virtually, and AdvanceFrame's Devirtualize call will
// re-allocate it a layer once a real slot frees up, the same as any
// other virtual channel.
func (e *Engine) demoteChannelLocked(ch *channel.Channel, handle uint32) {
	if slot, ok := e.layers.Slot(handle); ok {
		e.graph.clear(slot)
	}
	e.layers.Free(handle)
	for _, st := range e.channelStates {
		if st.layerHandle == handle {
			st.layerHandle = 0
			return
		}
	}
}

func (e *Engine) allocLayerLocked(soundID uint32) (uint32, bool) {
	snd, ok := e.sounds.get(soundID)
	if !ok {
		return 0, false
	}
	ratio := float64(snd.config.SampleRate) / float64(e.deviceSampleRate)
	if ratio <= 0 {
		return 0, false
	}
	end := snd.instance.Len()
	if end < 0 {
		end = math.MaxInt32
	}
	handle, _, ok := e.layers.Alloc(layer.AllocParams{
		Start:               0,
		End:                 end,
		BaseSampleRateRatio: ratio,
		Pitch:               1,
		UserPlaySpeed:       1,
		GainLeft:            1,
		GainRight:           1,
		Sound:               snd.instance,
		Loop:                snd.config.Loop,
		FadeMax:             float32(layer.SIMDBlockSize * 64),
		FadeStep:            1,
	})
	return handle, ok
}

// Play starts a registered sound, per spec.md §6's play(...) → channel.
func (e *Engine) Play(soundID uint32, opts PlayOptions) (*channel.Channel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snd, ok := e.sounds.get(soundID)
	if !ok {
		return nil, ErrInvalidHandle
	}

	userGain := opts.UserGain
	if userGain == 0 {
		userGain = 1
	}
	priority := userGain * snd.config.Priority

	id := atomic.AddUint32(&e.nextChannelID, 1)
	ch := channel.New(id)
	ch.Priority = priority
	ch.SetSourceGain(snd.config.Gain)
	ch.SetMaxLoops(snd.config.MaxLoops)

	var allocated uint32
	ok = e.scheduler.Play(ch, priority, func(p float64) (uint32, bool) {
		h, ok := e.allocLayerLocked(soundID)
		allocated = h
		return h, ok
	}, e.demoteChannelLocked)
	if !ok {
		return nil, ErrResourceExhausted
	}
	if allocated != 0 {
		if slot, ok := e.layers.Slot(allocated); ok {
			e.graph.setOwner(slot, ch)
		}
	}

	ch.Play(userGain, snd.config.FadeInDuration, snd.config.FadeCurve)

	e.channels[id] = ch
	e.channelStates[id] = &channelState{
		soundID:     soundID,
		busID:       opts.BusID,
		entityID:    opts.EntityID,
		listenerID:  opts.ListenerID,
		location:    opts.Location,
		layerHandle: allocated,
	}

	return ch, nil
}

// channelForHandleLocked finds the channel currently driving handle.
// Called from the Mixer Core's loop/end callbacks, which only know the
// layer handle, not which channel owns it.
func (e *Engine) channelForHandleLocked(handle uint32) (uint32, *channel.Channel, bool) {
	for id, st := range e.channelStates {
		if st.layerHandle == handle {
			return id, e.channels[id], true
		}
	}
	return 0, nil, false
}

// channelsForEntity returns every channel currently playing for
// entityID, for event actions (spec.md §6's trigger(event, entity))
// that act on "the sounds this entity is playing" rather than a single
// channel handle.
func (e *Engine) channelsForEntity(entityID uint32) []*channel.Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*channel.Channel
	for id, st := range e.channelStates {
		if st.entityID == entityID {
			out = append(out, e.channels[id])
		}
	}
	return out
}

// onLayerLoop runs synchronously on the audio thread (the mixer calls it
// inline inside Mix, not through the Command Queue), so it must never
// take the control-thread-held engine mutex; engineGraph's own lock is
// cheap and short-held.
func (e *Engine) onLayerLoop(slot *layer.Slot) bool {
	if ch := e.graph.owner(slot); ch != nil {
		return ch.OnLoop()
	}
	return true
}

func (e *Engine) onLayerEnd(handle uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.layers.Free(handle)
	if id, ch, ok := e.channelForHandleLocked(handle); ok {
		ch.Stop(0, fade.Linear)
		e.scheduler.Remove(ch)
		delete(e.channelStates, id)
		delete(e.channels, id)
		e.logger.Debug("sound_ended", "channel", id)
	}
}

// Stop transitions ch toward Stopped over duration seconds.
func (e *Engine) Stop(ch *channel.Channel, duration float64, curve fade.Curve) {
	ch.Stop(duration, curve)
}

// Pause transitions ch toward Paused over duration seconds.
func (e *Engine) Pause(ch *channel.Channel, duration float64, curve fade.Curve) {
	ch.Pause(duration, curve)
}

// Resume transitions a paused ch back toward Playing.
func (e *Engine) Resume(ch *channel.Channel, duration float64, curve fade.Curve) {
	ch.Resume(duration, curve)
}

// StopAll halts every active and halted layer immediately (spec.md §6).
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.channels {
		ch.Stop(0, fade.Linear)
	}
	e.layers.StopAll()
}

// HaltAll pauses every currently playing channel, mirroring the upstream
// SDK's atomixMixerHaltAll bulk operation (SPEC_FULL.md §4.11).
func (e *Engine) HaltAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.channels {
		ch.Pause(0, fade.Linear)
	}
	e.layers.HaltAll()
}

// ResumeAll resumes every currently paused channel.
func (e *Engine) ResumeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.channels {
		ch.Resume(0, fade.Linear)
	}
	e.layers.ResumeAll()
}

// RegisterSound makes a decoded sound available for Play by id.
func (e *Engine) RegisterSound(id uint32, inst layer.SoundInstance, cfg SoundConfig) {
	e.sounds.register(id, inst, cfg)
}

// LoadSoundBank submits an asynchronous bank load, joined later via
// TryFinalizeSoundBank (spec.md §5's "joined via a polling
// try_finalize_* API").
func (e *Engine) LoadSoundBank(id uint32, path string, loader BankLoader) error {
	return e.loader.Submit(context.Background(), id, func() (any, error) {
		return loader.Load(path)
	})
}

// TryFinalizeSoundBank polls for id's load completion.
func (e *Engine) TryFinalizeSoundBank(id uint32) (result any, err error, ok bool) {
	result, err, ok = e.loader.TryFinalize(id)
	if ok && err == nil {
		e.mu.Lock()
		e.banks[id] = true
		e.mu.Unlock()
	}
	return result, err, ok
}

// UnloadSoundBank drops a previously loaded bank's tracking entry.
func (e *Engine) UnloadSoundBank(id uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.banks, id)
}

// BankLoader loads a sound bank's bytes from path; decoding the
// flatbuffer-generated schema itself is an external collaborator's
// concern (spec.md §1 Non-goals).
type BankLoader interface {
	Load(path string) (any, error)
}

// AddListener, RemoveListener, GetListener expose internal/spatial's
// ListenerTable by id, per spec.md §6.
func (e *Engine) AddListener(l spatial.Listener) (id uint32, ok bool) {
	return e.listeners.Add(l)
}
func (e *Engine) RemoveListener(id uint32) bool { return e.listeners.Remove(id) }
func (e *Engine) UpdateListener(id uint32, l spatial.Listener) bool {
	return e.listeners.Update(id, l)
}

func (e *Engine) AddEntity(en spatial.Entity) (id uint32, ok bool) { return e.entities.Add(en) }
func (e *Engine) RemoveEntity(id uint32) bool                      { return e.entities.Remove(id) }
func (e *Engine) GetEntity(id uint32) (spatial.Entity, bool)       { return e.entities.Get(id) }
func (e *Engine) UpdateEntity(id uint32, en spatial.Entity) bool   { return e.entities.Update(id, en) }

func (e *Engine) AddEnvironment(env spatial.Environment) (id uint32, ok bool) {
	return e.environments.Add(env)
}
func (e *Engine) RemoveEnvironment(id uint32) bool { return e.environments.Remove(id) }

func (e *Engine) AddRoom(r spatial.Room) (id uint32, ok bool) { return e.rooms.Add(r) }
func (e *Engine) RemoveRoom(id uint32) bool                   { return e.rooms.Remove(id) }

// FindBus resolves a bus by id or by name (spec.md §6).
func (e *Engine) FindBus(id uint32) (*bus.Bus, bool)     { return e.buses.ByID(id) }
func (e *Engine) FindBusByName(name string) (*bus.Bus, bool) { return e.buses.ByName(name) }

// SetSwitchState records the active state for a switch group, consulted
// by SwitchContainer-backed channels the next time they resolve.
func (e *Engine) SetSwitchState(group uint32, state uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.switchStates[group] = state
}

// SwitchState returns the current state for a switch group.
func (e *Engine) SwitchState(group uint32) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.switchStates[group]
}

// SetRTPCValue records a named real-time parameter value.
func (e *Engine) SetRTPCValue(id uint32, value float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rtpc[id] = value
}

// RTPCValue returns the last value set for id.
func (e *Engine) RTPCValue(id uint32) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rtpc[id]
}

// SetMasterGain sets the master bus's user gain.
func (e *Engine) SetMasterGain(gain float64) {
	if master := e.buses.Master(); master != nil {
		master.SetUserGain(gain)
	}
}

// SetMute mutes or unmutes the master bus.
func (e *Engine) SetMute(muted bool) {
	if master := e.buses.Master(); master != nil {
		master.SetMuted(muted)
	}
}
