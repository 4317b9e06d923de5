// Package amplitude implements the Amplimix real-time mixing engine: a
// fixed-capacity lock-free layer table, a sample-rate converter, a DSP
// pipeline graph for spatialization, a channel state machine, and the
// priority scheduler that ties them together.
package amplitude

import "errors"

// Error kinds surfaced to callers, per spec §7. None of these ever cross
// the audio-thread boundary synchronously; the audio thread either drops
// the affected layer and logs, or enqueues a command.
var (
	ErrInvalidHandle     = errors.New("amplitude: invalid handle")
	ErrNotReady          = errors.New("amplitude: engine not ready")
	ErrResourceExhausted = errors.New("amplitude: no free layer and priority too low")
	ErrSourceEnded       = errors.New("amplitude: source ended")
	ErrConfigInvalid     = errors.New("amplitude: invalid configuration")
	ErrDeviceOpenFailed  = errors.New("amplitude: device open failed")
)
