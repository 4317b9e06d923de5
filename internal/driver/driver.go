// Package driver implements the device audio output spec.md §5 calls the
// "audio thread, driven by the device driver's buffer callback, which
// calls the Mixer Core". It is grounded directly on the teacher's
// audio_backend_oto.go: the same atomic.Pointer handoff between the
// control thread (SetSource) and the driver callback (Read), the same
// pre-allocated sample buffer, the same start/stop/close lifecycle.
package driver

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/oto/v3"
)

// Source is anything that can fill an interleaved float32 output buffer
// on demand; internal/mixer.Mixer satisfies this directly.
type Source interface {
	Mix(nFrames int, out []float32)
}

// Player drives a Source from an oto playback callback. The Source is
// swapped via an atomic.Pointer so the driver's Read, which must never
// block, never takes a lock to observe it.
type Player struct {
	ctx    *oto.Context
	player *oto.Player

	source   atomic.Pointer[Source]
	channels int

	sampleBuf []float32
	started   bool
	mu        sync.Mutex // setup/control only, never held during Read
}

// New opens an oto playback context at sampleRate with the given output
// channel count (1 or 2, per spec.md §6's output.channels).
func New(sampleRate, channels int) (*Player, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   4,
	})
	if err != nil {
		return nil, err
	}
	<-ready

	return &Player{ctx: ctx, channels: channels}, nil
}

// SetSource installs the Mixer (or any Source) the next Read call pulls
// frames from. Safe to call from the game/control thread at any time;
// Read observes the swap without blocking.
func (p *Player) SetSource(s Source) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.source.Store(&s)
	if p.player == nil {
		p.player = p.ctx.NewPlayer(p)
		p.sampleBuf = make([]float32, 4096)
	}
}

// Read implements io.Reader for oto's player callback. It never blocks
// on anything beyond the atomic load and the Source's own Mix call,
// which spec.md §5 requires to complete within the mix deadline.
func (p *Player) Read(out []byte) (n int, err error) {
	srcPtr := p.source.Load()
	if srcPtr == nil {
		for i := range out {
			out[i] = 0
		}
		return len(out), nil
	}
	src := *srcPtr

	numSamples := len(out) / 4
	if len(p.sampleBuf) < numSamples {
		p.sampleBuf = make([]float32, numSamples)
	}
	samples := p.sampleBuf[:numSamples]

	nFrames := numSamples / p.channels
	src.Mix(nFrames, samples[:nFrames*p.channels])

	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(&samples[0])), len(out)))
	return len(out), nil
}

// Start begins playback.
func (p *Player) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started && p.player != nil {
		p.player.Play()
		p.started = true
	}
}

// Stop halts playback without releasing the underlying player.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started && p.player != nil {
		p.player.Pause()
		p.started = false
	}
}

// Close stops playback and releases the player.
func (p *Player) Close() {
	p.Stop()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.player != nil {
		p.player.Close()
		p.player = nil
	}
}

// IsStarted reports whether playback is active.
func (p *Player) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}
