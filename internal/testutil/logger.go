// Package testutil provides shared test helpers.
package testutil

import (
	"log/slog"
	"os"
)

// NewLogger returns a test logger. Logs are suppressed below error unless
// DEBUG is set (1 = info, 2 = debug).
func NewLogger() *slog.Logger {
	var level slog.Level
	switch os.Getenv("DEBUG") {
	case "2":
		level = slog.LevelDebug
	case "1":
		level = slog.LevelInfo
	default:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
