package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Log writes notifications to the logger instead of delivering them.
// Used by dry runs and when no provider is configured.
type Log struct {
	log zerolog.Logger
}

func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log.With().Str("component", "notify.log").Logger()}
}

func (l *Log) Name() string { return "log" }

func (l *Log) DeliverToDestination(_ context.Context, destination string, n *Notification) error {
	l.log.Info().Str("destination", destination).Str("kind", string(n.Kind)).
		Str("title", n.Title).Str("url", n.URL).Msg("notification")
	return nil
}

func (l *Log) DeliverToIdentity(_ context.Context, identity string, n *Notification) error {
	l.log.Info().Str("identity", identity).Str("kind", string(n.Kind)).
		Str("title", n.Title).Msg("notification")
	return nil
}
