// Package obslog provides the structured logging and metrics surface shared
// by every dynconfig component.
package obslog

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the logging contract every component accepts. Components must
// nil-check before use so a caller who does not want logging can pass nil.
type Logger interface {
	Trace() *zerolog.Event
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
	Fatal() *zerolog.Event
	Panic() *zerolog.Event
	With() zerolog.Context
	WithComponent(component string) zerolog.Logger
}

type zlogLogger struct {
	logger zerolog.Logger
}

// New wraps a zerolog.Logger as a Logger.
func New(zl zerolog.Logger) Logger {
	return &zlogLogger{logger: zl}
}

// Default returns a quiet stderr logger at warn level, used when a caller
// does not supply one to Options.
func Default() Logger {
	zl := zerolog.New(os.Stderr).
		Level(zerolog.WarnLevel).
		With().
		Timestamp().
		Logger()

	return New(zl)
}

func (l *zlogLogger) Trace() *zerolog.Event { return l.logger.Trace() }
func (l *zlogLogger) Debug() *zerolog.Event { return l.logger.Debug() }
func (l *zlogLogger) Info() *zerolog.Event  { return l.logger.Info() }
func (l *zlogLogger) Warn() *zerolog.Event  { return l.logger.Warn() }
func (l *zlogLogger) Error() *zerolog.Event { return l.logger.Error() }
func (l *zlogLogger) Fatal() *zerolog.Event { return l.logger.Fatal() }
func (l *zlogLogger) Panic() *zerolog.Event { return l.logger.Panic() }

func (l *zlogLogger) With() zerolog.Context {
	return l.logger.With()
}

func (l *zlogLogger) WithComponent(component string) zerolog.Logger {
	return l.logger.With().Str("component", component).Logger()
}
