package types

import (
	"fmt"
	"log/slog"
)

// Logger is the minimal structured logging contract the engine's clients
// consume. Implementations must be safe for concurrent use.
type Logger interface {
	WithField(key string, value any) Logger
	Debug(msg string)
	Info(msg string)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// slogLogger adapts a *slog.Logger to the [Logger] interface.
type slogLogger struct {
	logger *slog.Logger
}

// NewLogger wraps an slog logger. Passing nil uses [slog.Default].
func NewLogger(logger *slog.Logger) Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &slogLogger{logger: logger}
}

func (l *slogLogger) WithField(key string, value any) Logger {
	return &slogLogger{logger: l.logger.With(key, value)}
}

func (l *slogLogger) Debug(msg string) { l.logger.Debug(msg) }
func (l *slogLogger) Info(msg string)  { l.logger.Info(msg) }

func (l *slogLogger) Warnf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *slogLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

// NopLogger discards all output. Useful in tests.
type NopLogger struct{}

func (NopLogger) WithField(string, any) Logger { return NopLogger{} }
func (NopLogger) Debug(string)                 {}
func (NopLogger) Info(string)                  {}
func (NopLogger) Warnf(string, ...any)         {}
func (NopLogger) Errorf(string, ...any)        {}
