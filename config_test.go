package amplitude

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amplitude-audio/amplitude-go/internal/pipeline"
)

func validConfig() EngineConfig {
	return EngineConfig{
		Output: OutputConfig{Frequency: 48000, Channels: 2},
		Mixer: MixerConfig{
			ActiveChannels: 4,
			Pipeline: []pipeline.NodeSpec{
				{Name: "input", Kind: "input"},
				{Name: "output", Kind: "output", Inputs: []string{"input"}},
			},
		},
	}
}

func TestEngineConfigValidateAccepts(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestEngineConfigValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*EngineConfig)
	}{
		{"empty pipeline", func(c *EngineConfig) { c.Mixer.Pipeline = nil }},
		{"zero frequency", func(c *EngineConfig) { c.Output.Frequency = 0 }},
		{"zero channels", func(c *EngineConfig) { c.Output.Channels = 0 }},
		{"too many channels", func(c *EngineConfig) { c.Output.Channels = 3 }},
		{"zero active channels", func(c *EngineConfig) { c.Mixer.ActiveChannels = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrConfigInvalid)
		})
	}
}
