// Package zerolog adapts github.com/rs/zerolog to keypool.Logger.
package zerolog

import (
	"github.com/rs/zerolog"

	"github.com/mihaimyh/gokeypool/pkg/keypool"
)

// Logger implements keypool.Logger using zerolog.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new zerolog logger adapter.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

// WithComponent returns a logger tagging every event with component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{logger: l.logger.With().Str("component", component).Logger()}
}

func (l *Logger) Debug(msg string, fields ...keypool.Field) {
	l.log(l.logger.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...keypool.Field) {
	l.log(l.logger.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...keypool.Field) {
	l.log(l.logger.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...keypool.Field) {
	l.log(l.logger.Error(), msg, fields)
}

func (l *Logger) log(event *zerolog.Event, msg string, fields []keypool.Field) {
	if event == nil {
		return
	}
	for _, f := range fields {
		switch v := f.Value.(type) {
		case error:
			event = event.AnErr(f.Key, v)
		case keypool.Index:
			event = event.Int(f.Key, int(v))
		default:
			event = event.Interface(f.Key, v)
		}
	}
	event.Msg(msg)
}
