// Package logger provides the process-wide structured logger, a single
// slog.Logger initialized once and shared by every component.
package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	defaultLogger *slog.Logger
	once          sync.Once
	level         = slog.LevelInfo
)

// SetLevel configures the level Init will use. Call before the first Get/Init
// (typically right after config.Load), otherwise it has no effect.
func SetLevel(levelName string) {
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
}

// Init initializes the default logger with a JSON handler writing to
// os.Stdout. It ensures that the logger is initialized only once.
func Init() {
	once.Do(func() {
		defaultLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		}))
		slog.SetDefault(defaultLogger)
		defaultLogger.Info("logger initialized", "level", level.String())
	})
}

// Get returns the initialized default logger, initializing it on first use.
func Get() *slog.Logger {
	Init()
	return defaultLogger
}

// Info logs an informational message using the default logger.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Warn logs a warning message using the default logger.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs an error message using the default logger.
func Error(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	Get().Error(msg, args...)
}

// Debug logs a debug message using the default logger.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// With returns a child logger carrying fixed fields, e.g. a run or session id.
func With(args ...any) *slog.Logger {
	return Get().With(args...)
}
