// Package notify delivers short user-facing messages about save outcomes.
package notify

import (
	"github.com/rs/zerolog"
)

// Kind classifies a notification.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
)

// Notifier is a fire-and-forget sink for user-visible messages.
type Notifier interface {
	Notify(kind Kind, title, message string)
}

// Func adapts a function to a Notifier.
type Func func(kind Kind, title, message string)

func (f Func) Notify(kind Kind, title, message string) { f(kind, title, message) }

// Log writes notifications to a zerolog logger.
type Log struct {
	log zerolog.Logger
}

// NewLog creates a Notifier that logs through log.
func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log.With().Str("component", "notify").Logger()}
}

func (n *Log) Notify(kind Kind, title, message string) {
	ev := n.log.Info()
	if kind == KindError {
		ev = n.log.Warn()
	}
	ev.Str("kind", string(kind)).Str("title", title).Msg(message)
}

// Safe calls n and swallows any panic, so a broken sink cannot take down the
// caller. A nil n is ignored.
func Safe(log zerolog.Logger, n Notifier, kind Kind, title, message string) {
	if n == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Notifier panicked")
		}
	}()
	n.Notify(kind, title, message)
}
