package amplitude

import (
	"sync"

	"github.com/amplitude-audio/amplitude-go/internal/fade"
	"github.com/amplitude-audio/amplitude-go/internal/layer"
)

// SoundConfig describes a registered sound asset's playback defaults.
// Decoding the underlying sample data is out of scope (spec.md §1
// Non-goals: codec implementations); callers register an already
// decoded layer.SoundInstance alongside this configuration.
type SoundConfig struct {
	SampleRate int // source sample rate; device rate is supplied at engine init.
	Priority   float64

	Loop     bool
	MaxLoops int // 0 means loop forever while Loop is set.

	Gain float64
	Pan  float64 // static pan in [-1,1] used when no spatialization applies.

	FadeInDuration, FadeOutDuration float64
	FadeCurve                       fade.Curve

	// AttenuationCurve maps listener distance (meters) to a 0..1 gain
	// factor. Empty means no distance attenuation (e.g. a UI or music
	// sound played without a location).
	AttenuationCurve []CurvePoint
}

type registeredSound struct {
	instance layer.SoundInstance
	config   SoundConfig
}

type soundRegistry struct {
	mu      sync.RWMutex
	sounds  map[uint32]registeredSound
}

func newSoundRegistry() *soundRegistry {
	return &soundRegistry{sounds: make(map[uint32]registeredSound)}
}

func (r *soundRegistry) register(id uint32, inst layer.SoundInstance, cfg SoundConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sounds[id] = registeredSound{instance: inst, config: cfg}
}

func (r *soundRegistry) unregister(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sounds, id)
}

func (r *soundRegistry) get(id uint32) (registeredSound, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sounds[id]
	return s, ok
}
