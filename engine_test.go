package amplitude

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/amplitude-audio/amplitude-go/internal/asyncload"
	"github.com/amplitude-audio/amplitude-go/internal/bus"
	"github.com/amplitude-audio/amplitude-go/internal/channel"
	"github.com/amplitude-audio/amplitude-go/internal/fade"
	"github.com/amplitude-audio/amplitude-go/internal/layer"
	"github.com/amplitude-audio/amplitude-go/internal/mixer"
	"github.com/amplitude-audio/amplitude-go/internal/pipeline"
	"github.com/amplitude-audio/amplitude-go/internal/scheduler"
	"github.com/amplitude-audio/amplitude-go/internal/spatial"
)

// sineSound is a deterministic, finite SoundInstance used across the
// end-to-end scenarios; its length stands in for spec.md §8 scenario
// 1's "1 s sine sound" without pulling in a codec.
type sineSound struct{ total int64 }

func (s *sineSound) Read(dst []float32, cursor int64) int {
	n := int64(len(dst))
	remaining := s.total - cursor
	if remaining < 0 {
		remaining = 0
	}
	if n > remaining {
		n = remaining
	}
	for i := range dst[:n] {
		dst[i] = 1
	}
	return int(n)
}

func (s *sineSound) Len() int64 { return s.total }

// loopingSound is a SoundInstance that never signals end-of-source: Read
// always fills the whole destination, wrapping the cursor modulo its
// total length itself. Mirrors layer.SoundInstance's own doc contract
// ("starting at cursor, mod the instance's length for looping sources")
// rather than relying on the mixer to re-invoke Read at a wrapped
// position — mixLayer reads a source exactly once per Mix call and only
// does wrap bookkeeping on the samples that single Read already produced.
type loopingSound struct{ total int64 }

func (s *loopingSound) Read(dst []float32, cursor int64) int {
	for i := range dst {
		dst[i] = 1
	}
	return len(dst)
}

func (s *loopingSound) Len() int64 { return s.total }

// testPipeline builds the minimal input -> attenuation -> stereo_panning
// -> output pipeline every scenario below needs, matching the shape
// internal/pipeline's own tests use.
func testPipeline(t *testing.T) []pipeline.NodeSpec {
	t.Helper()
	return []pipeline.NodeSpec{
		{Name: "input", Kind: "input"},
		{Name: "atten", Kind: "attenuation", Inputs: []string{"input"}},
		{Name: "pan", Kind: "stereo_panning", Inputs: []string{"atten"}},
		{Name: "output", Kind: "output", Inputs: []string{"pan"}},
	}
}

// newTestEngine constructs an Engine without opening a real audio
// device, mirroring internal/driver/driver_test.go's approach of
// building the struct directly rather than going through a constructor
// that depends on an actual sound card.
func newTestEngine(t *testing.T, activeChannels, virtualChannels int, busDefs []BusDef) *Engine {
	t.Helper()

	specs := testPipeline(t)
	graphImpl, err := pipeline.NewGraph(specs)
	if err != nil {
		t.Fatalf("pipeline.NewGraph: %v", err)
	}
	busTree, err := buildBusTree(busDefs)
	if err != nil {
		t.Fatalf("buildBusTree: %v", err)
	}

	layers := layer.NewTable(nextPow2(activeChannels + virtualChannels))
	eGraph := newEngineGraph(graphImpl)
	mixerCore := mixer.New(layers, mixer.Stereo, eGraph)

	eng := &Engine{
		logger:    newLogger(),
		layers:    layers,
		scheduler: scheduler.New(activeChannels, virtualChannels),
		mixerCore: mixerCore,
		graph:     eGraph,
		buses:     busTree,
		loader:    asyncload.New(4),
		sounds:    newSoundRegistry(),
		events:    newEventRegistry(),
		triggers:  make(map[uuid.UUID]context.CancelFunc),

		listeners:    spatial.NewListenerTable(8, true),
		entities:     spatial.NewEntityTable(8),
		environments: spatial.NewEnvironmentTable(8),
		rooms:        spatial.NewRoomTable(8),

		channels:      make(map[uint32]*channel.Channel),
		channelStates: make(map[uint32]*channelState),
		switchStates:  make(map[uint32]uint32),
		rtpc:          make(map[uint32]float64),
		banks:         make(map[uint32]bool),

		deviceSampleRate: 48000,
	}
	mixerCore.OnLoop = func(handle uint32, slot *layer.Slot) bool { return eng.onLayerLoop(slot) }
	mixerCore.OnEnd = func(handle uint32, slot *layer.Slot) { eng.onLayerEnd(handle) }
	return eng
}

func (e *Engine) mix(nFrames int) {
	out := make([]float32, nFrames*2)
	e.mixerCore.Mix(nFrames, out)
}

func defaultBuses() []BusDef {
	return []BusDef{{ID: bus.MasterID, Name: bus.MasterName, Gain: 1}}
}

// Scenario 1 (spec.md §8): Simple play. A 1 s sine sound played at
// 48 kHz stereo, advanced at 60 Hz, must naturally stop playing once it
// runs out of samples.
func TestSimplePlay(t *testing.T) {
	eng := newTestEngine(t, 2, 8, defaultBuses())
	eng.AddListener(spatial.Listener{})

	eng.RegisterSound(1, &sineSound{total: 48000}, SoundConfig{SampleRate: 48000, Priority: 1, Gain: 1})

	ch, err := eng.Play(1, PlayOptions{ListenerID: 1, UserGain: 1})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !ch.Playing() {
		t.Fatal("expected channel to report playing immediately after Play")
	}

	const dt = 1.0 / 60
	const framesPerTick = 48000 / 60
	for i := 0; i < 65; i++ {
		eng.mix(framesPerTick)
		eng.AdvanceFrame(dt)
	}

	if ch.Playing() {
		t.Fatal("expected channel to have stopped after 1s of a 1s source")
	}
}

// Scenario 2 (spec.md §8): Virtualization. With 1 active + 3 virtual
// channels, only as many channels as there are real slots get a layer;
// the rest are tracked virtual. The highest-priority channel ends up in
// the one real slot even though it is played last; once it stops, the
// next-highest priority virtual channel is promoted on the following
// AdvanceFrame's devirtualization pass.
func TestVirtualization(t *testing.T) {
	eng := newTestEngine(t, 1, 3, defaultBuses())
	eng.RegisterSound(1, &sineSound{total: 480000}, SoundConfig{SampleRate: 48000, Priority: 1})

	// Played lowest priority first, per spec.md §8 scenario 2's literal
	// order: Play's admission-time demotion swap must still seat the
	// highest priority channel in the one real slot, not just whichever
	// channel happened to arrive first.
	low, err := eng.Play(1, PlayOptions{UserGain: 0.1})
	if err != nil {
		t.Fatalf("Play(low): %v", err)
	}
	mid, err := eng.Play(1, PlayOptions{UserGain: 0.5})
	if err != nil {
		t.Fatalf("Play(mid): %v", err)
	}
	high, err := eng.Play(1, PlayOptions{UserGain: 0.9})
	if err != nil {
		t.Fatalf("Play(high): %v", err)
	}

	if !eng.scheduler.IsReal(high) {
		t.Fatal("expected the highest priority channel to hold the one real slot regardless of arrival order")
	}
	if eng.scheduler.IsReal(low) || eng.scheduler.IsReal(mid) {
		t.Fatal("expected the 0.1 and 0.5 priority channels to be virtual")
	}

	eng.Stop(high, 0, fade.Linear)
	eng.AdvanceFrame(1.0 / 60)

	if !eng.scheduler.IsReal(mid) {
		t.Fatal("expected the 0.5 priority channel to become real after 0.9 stopped")
	}
}

// Scenario 3 (spec.md §8): Priority rejection. With active_channels=1
// and a channel already playing at priority 0.9, a Play at priority 0.1
// is rejected outright and the existing channel is undisturbed.
func TestPriorityRejection(t *testing.T) {
	eng := newTestEngine(t, 1, 0, defaultBuses())
	eng.RegisterSound(1, &sineSound{total: 480000}, SoundConfig{SampleRate: 48000, Priority: 1})

	high, err := eng.Play(1, PlayOptions{UserGain: 0.9})
	if err != nil {
		t.Fatalf("Play(high): %v", err)
	}

	if _, err := eng.Play(1, PlayOptions{UserGain: 0.1}); err == nil {
		t.Fatal("expected the lower-priority Play to be rejected")
	}
	if !high.Playing() {
		t.Fatal("expected the existing higher-priority channel to keep playing")
	}
}

// Scenario 4 (spec.md §8): Equal-power pan. pan=0 yields L=R=1/sqrt(2);
// pan=+1 yields L=0, R=1; pan=-1 yields L=1, R=0.
func TestEqualPowerPan(t *testing.T) {
	const nFrames = 4
	cases := []struct {
		name    string
		pan     float64
		wantL   float64
		wantR   float64
	}{
		{"center", 0, 0.70710678, 0.70710678},
		{"hard right", 1, 0, 1},
		{"hard left", -1, 1, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := newTestEngine(t, 1, 0, defaultBuses())
			eng.RegisterSound(1, &sineSound{total: 480000}, SoundConfig{SampleRate: 48000, Pan: tc.pan})

			if _, err := eng.Play(1, PlayOptions{UserGain: 1}); err != nil {
				t.Fatalf("Play: %v", err)
			}
			eng.AdvanceFrame(1.0 / 60)

			out := make([]float32, nFrames*2)
			eng.mixerCore.Mix(nFrames, out)

			l, r := out[0], out[1]
			if diff := l - float32(tc.wantL); diff > 0.01 || diff < -0.01 {
				t.Fatalf("L = %v, want ~%v", l, tc.wantL)
			}
			if diff := r - float32(tc.wantR); diff > 0.01 || diff < -0.01 {
				t.Fatalf("R = %v, want ~%v", r, tc.wantR)
			}
		})
	}
}

// Scenario 5 (spec.md §8): Loop callback count. A sound with
// loop_count=3 fires exactly 3 loop callbacks before its channel
// transitions to Stopped.
func TestLoopCallbackCount(t *testing.T) {
	eng := newTestEngine(t, 1, 0, defaultBuses())
	eng.RegisterSound(1, &loopingSound{total: 4}, SoundConfig{SampleRate: 48000, Loop: true, MaxLoops: 3})

	ch, err := eng.Play(1, PlayOptions{UserGain: 1})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}

	const dt = 1.0 / 60
	for i := 0; i < 40 && ch.Playing(); i++ {
		eng.mix(4)
		eng.AdvanceFrame(dt)
	}

	if ch.Playing() {
		t.Fatal("expected channel to have stopped after its loop count was exhausted")
	}
	if got := ch.LoopCount(); got != 3 {
		t.Fatalf("LoopCount() = %d, want 3", got)
	}
}

// Scenario 6 (spec.md §8): Bus ducking. Bus B ducks against bus A with
// duck gain 0.25. A DuckDef has no threshold field, so the duck engages
// once A's final gain exceeds duckTriggerThreshold. Raising A to gain 1
// drives B's final gain toward 0.25 within the attack time, and silencing
// A restores it once the release time elapses.
func TestBusDucking(t *testing.T) {
	defs := []BusDef{
		{ID: bus.MasterID, Name: bus.MasterName, Gain: 1, ChildBusIDs: []uint32{2, 3}},
		{ID: 2, Name: "a", Gain: 1},
		{ID: 3, Name: "b", Gain: 1, Ducks: []DuckDef{{TargetID: 2, TargetGain: 0.25, Attack: 0.1, Release: 0.3}}},
	}
	eng := newTestEngine(t, 1, 0, defs)

	busB, ok := eng.FindBusByName("b")
	if !ok {
		t.Fatal("expected bus b to exist")
	}
	busB2, ok := eng.FindBus(3)
	if !ok || busB2 != busB {
		t.Fatal("expected bus lookup by id and name to agree")
	}

	busA, _ := eng.FindBusByName("a")
	busA.SetUserGain(1)

	const dt = 1.0 / 60
	for i := 0; i < int(0.1/dt)+5; i++ {
		eng.buses.AdvanceFrame(dt)
	}
	if got := busB.FinalGain(); got > 0.35 || got < 0.15 {
		t.Fatalf("B.FinalGain() = %v, expected to settle near 0.25 within attack", got)
	}

	busA.SetUserGain(0)
	for i := 0; i < int(0.3/dt)+5; i++ {
		eng.buses.AdvanceFrame(dt)
	}
	if got := busB.FinalGain(); got < 0.95 {
		t.Fatalf("B.FinalGain() = %v, expected to restore near 1 after release", got)
	}
}

// Round-trip play/stop (spec.md §8 quantified invariant): every Play
// that returns a valid channel transitions to Stopped within one
// AdvanceFrame of an explicit Stop(0), and its layer is freed.
func TestRoundTripPlayStop(t *testing.T) {
	eng := newTestEngine(t, 1, 0, defaultBuses())
	eng.RegisterSound(1, &sineSound{total: 480000}, SoundConfig{SampleRate: 48000, Priority: 1})

	ch, err := eng.Play(1, PlayOptions{UserGain: 1})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	eng.Stop(ch, 0, fade.Linear)
	eng.AdvanceFrame(1.0 / 60)

	if ch.Playing() {
		t.Fatal("expected channel to be Stopped immediately after Stop(0)")
	}
	if len(eng.channels) != 0 {
		t.Fatalf("expected the engine to have released the stopped channel's bookkeeping, got %d remaining", len(eng.channels))
	}
}

// Priority order (spec.md §8 quantified invariant): after AdvanceFrame
// the scheduler's priority list is non-decreasing head to tail.
func TestPriorityOrderNonDecreasing(t *testing.T) {
	eng := newTestEngine(t, 4, 4, defaultBuses())
	eng.RegisterSound(1, &sineSound{total: 480000}, SoundConfig{SampleRate: 48000, Priority: 1})

	for _, g := range []float64{0.3, 0.9, 0.1, 0.6} {
		if _, err := eng.Play(1, PlayOptions{UserGain: g}); err != nil {
			t.Fatalf("Play(%v): %v", g, err)
		}
	}
	eng.AdvanceFrame(1.0 / 60)

	priorities := eng.scheduler.Priorities()
	for i := 1; i < len(priorities); i++ {
		if priorities[i] < priorities[i-1] {
			t.Fatalf("priority list not non-decreasing: %v", priorities)
		}
	}
}

// ErrInvalidHandle: playing an unregistered sound id is reported as an
// error, not a panic or a silently-invalid channel.
func TestPlayUnregisteredSoundReturnsError(t *testing.T) {
	eng := newTestEngine(t, 1, 0, defaultBuses())
	if _, err := eng.Play(99, PlayOptions{UserGain: 1}); err != ErrInvalidHandle {
		t.Fatalf("Play(unregistered) error = %v, want ErrInvalidHandle", err)
	}
}

// Trigger (spec.md §6 trigger(event, entity) -> canceler): a registered
// event's actions fire in order against the given entity.
func TestTriggerFiresPlayAction(t *testing.T) {
	eng := newTestEngine(t, 1, 0, defaultBuses())
	eng.RegisterSound(1, &sineSound{total: 480000}, SoundConfig{SampleRate: 48000, Priority: 1})
	eng.RegisterEvent(1, EventDef{Actions: []EventAction{{Kind: EventActionPlay, SoundID: 1}}})

	if _, err := eng.Trigger(1, 42); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		if len(eng.channelsForEntity(42)) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected the triggered event's Play action to start a channel for entity 42")
		case <-time.After(time.Millisecond):
		}
	}
}

// Trigger cancellation (spec.md §5 "cancelling transitions the event
// immediately to its final state"): cancelling before a delayed action
// fires prevents it from ever running.
func TestTriggerCancelStopsPendingAction(t *testing.T) {
	eng := newTestEngine(t, 1, 0, defaultBuses())
	eng.RegisterSound(1, &sineSound{total: 480000}, SoundConfig{SampleRate: 48000, Priority: 1})
	eng.RegisterEvent(1, EventDef{Actions: []EventAction{{Kind: EventActionPlay, SoundID: 1, Delay: 0.5}}})

	canceler, err := eng.Trigger(1, 7)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	canceler.Cancel()

	time.Sleep(700 * time.Millisecond)

	if len(eng.channelsForEntity(7)) != 0 {
		t.Fatal("expected the cancelled event's delayed Play action never to fire")
	}
}

// Trigger with an unregistered event id (spec.md §7 ErrInvalidHandle).
func TestTriggerUnregisteredEventReturnsError(t *testing.T) {
	eng := newTestEngine(t, 1, 0, defaultBuses())
	if _, err := eng.Trigger(99, 1); err != ErrInvalidHandle {
		t.Fatalf("Trigger(unregistered) error = %v, want ErrInvalidHandle", err)
	}
}

// buildBusTree (spec.md §7 ConfigInvalid): a buses list lacking a
// resolvable master is rejected outright.
func TestBuildBusTreeRequiresMaster(t *testing.T) {
	if _, err := buildBusTree([]BusDef{{ID: 7, Name: "not-master", Gain: 1}}); err != ErrConfigInvalid {
		t.Fatalf("buildBusTree error = %v, want ErrConfigInvalid", err)
	}
}
