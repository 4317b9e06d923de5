package amplitude

import "github.com/amplitude-audio/amplitude-go/internal/pipeline"

// PanningMode selects how the pipeline spatializes a Position-mode source.
type PanningMode int

const (
	PanningModeStereo PanningMode = iota
	PanningModeHRTF
)

// OutputConfig mirrors spec.md §6's output.* fields.
type OutputConfig struct {
	BufferSize int
	Frequency  int
	Channels   int // 1 (mono) or 2 (stereo); the mixer never delivers more.
	Format     string
}

// MixerConfig mirrors spec.md §6's mixer.* fields.
type MixerConfig struct {
	VirtualChannels int
	ActiveChannels  int
	Pipeline        []pipeline.NodeSpec
	PanningMode     PanningMode
}

// HRTFConfig mirrors spec.md §6's hrtf.* fields.
type HRTFConfig struct {
	AmirFile     string
	HRIRSampling int
}

// ObstructionOcclusionCurves mirrors the obstruction/occlusion sub-objects.
type ObstructionOcclusionCurves struct {
	LPFCurve  []CurvePoint
	GainCurve []CurvePoint
}

// CurvePoint is a single (x, y) sample of a named curve (RTPC, attenuation,
// obstruction/occlusion, fade).
type CurvePoint struct {
	X, Y float64
}

// ListenerFetchMode controls which listener pose observed during a frame
// is the one the mix actually uses, resolving spec.md §9's open question.
type ListenerFetchMode int

const (
	// ListenerFetchLast applies the most recently fetched pose before the
	// mix reads it. This is the default and matches what a caller updating
	// a listener once per frame would expect.
	ListenerFetchLast ListenerFetchMode = iota
	// ListenerFetchFirst applies only the pose captured at the first fetch
	// in the frame and ignores subsequent updates until the next frame.
	ListenerFetchFirst
)

// GameConfig mirrors spec.md §6's game.* fields.
type GameConfig struct {
	Listeners           int
	Entities            int
	Environments        int
	Rooms               int
	SoundSpeed          float64
	DopplerFactor       float64
	ListenerFetchMode   ListenerFetchMode
	TrackEnvironments   bool
	Obstruction         ObstructionOcclusionCurves
	Occlusion           ObstructionOcclusionCurves
}

// EngineConfig mirrors spec.md §6's full configuration schema. Amplitude
// itself never parses the binary flatbuffer-like asset this struct is
// meant to be populated from — that parser is an external collaborator
// (spec.md §1 Non-goals) satisfied by a ConfigSource implementation.
type EngineConfig struct {
	Driver     string
	Output     OutputConfig
	Mixer      MixerConfig
	HRTF       HRTFConfig
	Game       GameConfig
	BusesFile  string
}

// ConfigSource produces an EngineConfig and a buses-file byte stream. The
// binary decoding of either is out of scope for this module; embedding
// applications supply a ConfigSource backed by their own asset pipeline.
type ConfigSource interface {
	LoadEngineConfig() (EngineConfig, error)
	LoadBuses() ([]byte, error)
}

// Validate checks the ConfigInvalid invariants that live in EngineConfig
// itself: a non-empty pipeline, a positive output frequency, 1 or 2
// output channels, and at least one active channel. The master bus is
// checked separately, by buildBusTree, once the bus definitions are
// parsed.
func (c EngineConfig) Validate() error {
	if len(c.Mixer.Pipeline) == 0 {
		return ErrConfigInvalid
	}
	if c.Output.Frequency <= 0 || c.Output.Channels <= 0 || c.Output.Channels > 2 {
		return ErrConfigInvalid
	}
	if c.Mixer.ActiveChannels <= 0 {
		return ErrConfigInvalid
	}
	return nil
}
