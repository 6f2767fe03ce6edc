// Package logging configures the process-wide slog logger. Every record
// passes through the correlation handler, so request- and session-scoped
// fields attach automatically.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/clipcast/clipcast/internal/platform/correlation"
)

// InitLogger installs the default logger. Unrecognized levels fall back to
// info; any format other than "json" selects the text handler.
func InitLogger(level, format string) {
	slog.SetDefault(newLogger(level, format, os.Stdout))
}

func newLogger(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(correlation.NewHandler(handler))
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
