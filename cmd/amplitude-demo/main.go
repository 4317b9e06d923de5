// Command amplitude-demo drives the Amplimix engine outside of any game
// integration: it builds an EngineConfig from flags, registers a single
// synthesized tone (codec decoding is out of scope for the engine itself,
// so the demo generates its own samples), plays it, and advances frames
// in real time until the requested duration elapses.
package main

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/spf13/pflag"

	amplitude "github.com/amplitude-audio/amplitude-go"
	"github.com/amplitude-audio/amplitude-go/internal/fade"
	"github.com/amplitude-audio/amplitude-go/internal/pipeline"
	"github.com/amplitude-audio/amplitude-go/internal/spatial"
)

// toneSound is a synthesized sine wave, looping forever, standing in for
// a decoded asset (codec implementations are an explicit spec Non-goal).
type toneSound struct {
	sampleRate int
	freqHz     float64
}

func (t *toneSound) Read(dst []float32, cursor int64) int {
	for i := range dst {
		sample := cursor + int64(i)
		phase := 2 * math.Pi * t.freqHz * float64(sample) / float64(t.sampleRate)
		dst[i] = float32(0.2 * math.Sin(phase))
	}
	return len(dst)
}

func (t *toneSound) Len() int64 { return int64(t.sampleRate) } // one second, then loops

func main() {
	frequency := pflag.IntP("frequency", "f", 48000, "Output sample rate in Hz.")
	channels := pflag.IntP("channels", "c", 2, "Output channel count (1 or 2).")
	bufferSize := pflag.IntP("buffer-size", "b", 1024, "Driver buffer size in frames.")
	activeChannels := pflag.IntP("active-channels", "a", 32, "Real (audible) mixer channel count.")
	virtualChannels := pflag.IntP("virtual-channels", "v", 64, "Virtual (tracked, silent) mixer channel count.")
	toneHz := pflag.Float64P("tone", "t", 440, "Frequency in Hz of the demo tone.")
	duration := pflag.DurationP("duration", "d", 3*time.Second, "How long to play before exiting.")
	pflag.Parse()

	cfg := amplitude.EngineConfig{
		Driver: "oto",
		Output: amplitude.OutputConfig{
			BufferSize: *bufferSize,
			Frequency:  *frequency,
			Channels:   *channels,
			Format:     "f32",
		},
		Mixer: amplitude.MixerConfig{
			ActiveChannels:  *activeChannels,
			VirtualChannels: *virtualChannels,
			PanningMode:     amplitude.PanningModeStereo,
			Pipeline: []pipeline.NodeSpec{
				{Name: "input", Kind: "input"},
				{Name: "atten", Kind: "attenuation", Inputs: []string{"input"}},
				{Name: "pan", Kind: "stereo_panning", Inputs: []string{"atten"}},
				{Name: "output", Kind: "output", Inputs: []string{"pan"}},
			},
		},
		Game: amplitude.GameConfig{
			Listeners: 1,
			Entities:  1,
		},
	}

	buses := []amplitude.BusDef{
		{ID: 1, Name: "master", Gain: 1},
	}

	eng, err := amplitude.Initialize(cfg, buses)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize engine: %v\n", err)
		os.Exit(1)
	}
	defer eng.Deinitialize()

	listenerID, _ := eng.AddListener(spatial.Listener{})

	eng.RegisterSound(1, &toneSound{sampleRate: *frequency, freqHz: *toneHz}, amplitude.SoundConfig{
		SampleRate: *frequency,
		Loop:       true,
		Gain:       1,
	})

	ch, err := eng.Play(1, amplitude.PlayOptions{ListenerID: listenerID, UserGain: 1})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to play demo tone: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("playing %.1f Hz tone at %d Hz / %d ch for %s\n", *toneHz, *frequency, *channels, *duration)

	const tick = time.Second / 60
	deadline := time.Now().Add(*duration)
	for time.Now().Before(deadline) && ch.Playing() {
		eng.AdvanceFrame(tick.Seconds())
		time.Sleep(tick)
	}

	eng.Stop(ch, 0.2, fade.Linear)
	time.Sleep(250 * time.Millisecond)
}
