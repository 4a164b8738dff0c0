// Package logging builds the charmbracelet/log loggers used across sisqo.
package logging

import (
	"fmt"
	"io"
	"strings"

	clog "github.com/charmbracelet/log"
)

// New returns a logger writing to w with timestamps at the given level
// ("debug", "info", "warn", "error", "fatal"). An empty level means info.
func New(w io.Writer, level string) (*clog.Logger, error) {
	lvl := clog.InfoLevel
	if strings.TrimSpace(level) != "" {
		var err error
		lvl, err = clog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	return clog.NewWithOptions(w, clog.Options{
		ReportTimestamp: true,
		Level:           lvl,
	}), nil
}

// Discard returns a logger that drops everything.
func Discard() *clog.Logger {
	return clog.New(io.Discard)
}
