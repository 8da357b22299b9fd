package logger

import (
	"log/slog"
	"os"
)

// New returns the process logger. JSON output so log pipelines can index the
// stable error codes and event fields the engine emits.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
