// Package telemetry provides the structured logger and the metric
// instruments the archive emits. Chat archives are full of things that
// must never reach a log line, so the logger redacts by key and by value
// pattern.
package telemetry

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// NewLogger returns a JSON slog logger writing to stdout and
// <stateDir>/logs/archive.jsonl. With quiet set, only the file.
func NewLogger(stateDir, level string, quiet bool) (*slog.Logger, io.Closer, error) {
	logDir := filepath.Join(stateDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}

	file, err := os.OpenFile(filepath.Join(logDir, "archive.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer
	if quiet {
		w = file
	} else {
		w = io.MultiWriter(os.Stdout, file)
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			if shouldRedactKey(a.Key) {
				return slog.String(a.Key, "[REDACTED]")
			}
			if a.Value.Kind() == slog.KindString {
				if redacted, ok := redactValue(a.Value.String()); ok {
					return slog.String(a.Key, redacted)
				}
			}
			return a
		},
	})
	logger := slog.New(handler).With("component", "archive")
	return logger, file, nil
}

func parseLevel(level string) slog.Level {
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

func shouldRedactKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	for _, token := range []string{"token", "secret", "password", "authorization", "api_key", "apikey", "bearer"} {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

func redactValue(v string) (string, bool) {
	lower := strings.ToLower(v)
	if strings.Contains(lower, "bearer ") {
		return "[REDACTED]", true
	}
	if strings.Contains(lower, "api_key") || strings.Contains(lower, "authorization:") {
		return "[REDACTED]", true
	}
	return v, false
}
