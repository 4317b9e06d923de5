package amplitude

import (
	"os"

	charmlog "github.com/charmbracelet/log"
)

// newLogger builds the engine's default structured logger. The Engine
// keeps it in a field rather than a package-level global, per Design
// Note §9; the internal subsystem constructors take no logger.
func newLogger() *charmlog.Logger {
	return charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Prefix:          "amplitude",
		ReportTimestamp: true,
		Level:           charmlog.InfoLevel,
	})
}
