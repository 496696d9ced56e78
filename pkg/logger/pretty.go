package logger

import (
	"os"

	"github.com/charmbracelet/log"
)

// NewPretty returns a colorized, human-friendly logger for CLI commands.
// Service code should use NewLogger instead.
func NewPretty(debug bool) *log.Logger {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}

	return log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		ReportTimestamp: false,
	})
}
