// internal/logging/logging.go

package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Log pairs a slog.Logger with its level variable so the level can be
// changed after construction (e.g. from daemon settings).
type Log struct {
	*slog.LevelVar
	*slog.Logger
}

// New builds a text logger writing to stderr at the given level.
func New(level string) *Log {
	lv := &slog.LevelVar{}
	l := &Log{
		LevelVar: lv,
		Logger:   slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})),
	}
	l.SetLevel(level)
	return l
}

func (l *Log) SetLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		l.Set(slog.LevelDebug)
	case "info":
		l.Set(slog.LevelInfo)
	case "warn":
		l.Set(slog.LevelWarn)
	case "error":
		l.Set(slog.LevelError)
	}
}
