// Package notify wysyła powiadomienia o zamówieniach (log albo zdarzenie w Kafce).
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

type Message struct {
	OrderID  uint
	UserID   uint
	To       string
	Subject  string
	Body     string
	Lines    []string
	OrderSum string
}

type Notifier interface {
	Send(ctx context.Context, m Message) error
}

// LogNotifier tylko loguje wiadomość; domyślny sterownik.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Send(ctx context.Context, m Message) error {
	n.log.Info().
		Uint("order", m.OrderID).
		Str("to", m.To).
		Str("subject", m.Subject).
		Str("order_sum", m.OrderSum).
		Msg(m.Body)
	return nil
}
