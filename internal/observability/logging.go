package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// SetupLogging installs the process-wide slog default handler.
// Format is "text" or "json"; unknown values fall back to text.
func SetupLogging(level, format string) {
	SetupLoggingTo(os.Stdout, level, format)
}

// SetupLoggingTo is SetupLogging with an explicit sink, for tests.
func SetupLoggingTo(w io.Writer, level, format string) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// ParseLevel maps a config string to a slog level; unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
