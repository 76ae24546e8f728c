package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/recoverly-app/recoveryservice/internal/domain"
)

// Message is one outbound communication over a named channel.
type Message struct {
	Channel     domain.Channel
	Destination string
	Subject     string
	Content     string
}

// Notifier dispatches a message over a channel. Send must not return an
// error; delivery failure is reported via the boolean so callers never
// abort a dunning step on a bad channel.
type Notifier interface {
	Send(ctx context.Context, msg Message) bool
}

// LogNotifier is the default Notifier; it logs the dispatch and reports
// success. Real channel providers (SES, Twilio, FCM) sit behind the same
// interface in deployment.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a logging notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send logs the message and reports success.
func (n *LogNotifier) Send(ctx context.Context, msg Message) bool {
	n.logger.Info("Dispatching notification",
		zap.String("channel", string(msg.Channel)),
		zap.String("destination", msg.Destination),
		zap.String("subject", msg.Subject),
		zap.Int("content_length", len(msg.Content)))
	return true
}

// FuncNotifier adapts a function to the Notifier interface; used by tests
// to script delivery outcomes.
type FuncNotifier func(ctx context.Context, msg Message) bool

// Send implements Notifier
func (f FuncNotifier) Send(ctx context.Context, msg Message) bool {
	return f(ctx, msg)
}
