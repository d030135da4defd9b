// Package notify delivers verification codes out of band.
//
// The engine never calls a [Notifier] directly: every delivery goes through
// a [Queue], which only accepts work after the state transition it reports
// on has committed. Delivery is fire-and-forget relative to the HTTP
// response but strictly ordered after the mutation.
package notify

import (
	"context"
	"log/slog"
)

// Message is one delivery job: the code and magic link for target, tagged
// with the flow name that requested it.
type Message struct {
	Target     string `json:"target"`
	Code       string `json:"code"`
	VerifyLink string `json:"verify_link"`
	Purpose    string `json:"purpose"`
}

// Notifier sends one message to its target. Implementations decide the
// channel: SMTP, SMS gateway, or a broker topic consumed by a mailer.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes deliveries to a logger. Development use only.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Send(_ context.Context, msg Message) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("verification code issued",
		"target", msg.Target,
		"purpose", msg.Purpose,
		"code", msg.Code,
	)
	return nil
}

// NoOpNotifier discards deliveries. Used in tests and as the builder
// fallback when no notifier is configured.
type NoOpNotifier struct{}

func (NoOpNotifier) Send(context.Context, Message) error { return nil }
