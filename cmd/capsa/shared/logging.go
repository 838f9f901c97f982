package shared

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// SetupLogger configures a console logger at the given level. Debug
// overrides the level to debug.
func SetupLogger(level string, debug bool) *log.Logger {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	if debug {
		parsed = log.DebugLevel
	}

	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           parsed,
	})
}

// SetupFileLogger mirrors log output to a file in addition to stderr
func SetupFileLogger(level string, debug bool, path string) (*log.Logger, func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}

	parsed, parseErr := log.ParseLevel(level)
	if parseErr != nil {
		parsed = log.InfoLevel
	}
	if debug {
		parsed = log.DebugLevel
	}

	logger := log.NewWithOptions(io.MultiWriter(os.Stderr, f), log.Options{
		ReportTimestamp: true,
		Level:           parsed,
	})
	return logger, func() { _ = f.Close() }, nil
}
