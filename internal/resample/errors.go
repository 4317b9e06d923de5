package resample

import "errors"

var (
	errInvalidChannels = errors.New("resample: channel count must be positive")
	errInvalidRatio    = errors.New("resample: ratio must be positive")
)
