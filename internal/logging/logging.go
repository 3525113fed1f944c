package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Configure builds the process logger from config values. Logs go to stderr so
// command output on stdout stays machine readable.
func Configure(level, format string) zerolog.Logger {
	return New(os.Stderr, level, format)
}

// New builds a zerolog logger writing to out. Format "console" is human
// readable, anything else is JSON lines. Unknown levels fall back to info.
func New(out io.Writer, level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Second

	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// ForRun tags every line with the run id so one run can be filtered out of a
// shared log.
func ForRun(log zerolog.Logger, runID string) zerolog.Logger {
	return log.With().Str("run_id", runID).Logger()
}

// ForDataset tags lines with the dataset they concern.
func ForDataset(log zerolog.Logger, itemID, itemName string) zerolog.Logger {
	ctx := log.With().Str("item_id", itemID)
	if itemName != "" {
		ctx = ctx.Str("item_name", itemName)
	}
	return ctx.Logger()
}
