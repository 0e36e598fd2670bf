// Package notify provides authcore.Notifier implementations.
//
// LogNotifier writes messages to a zap logger instead of sending them and is
// meant for development. SMTPNotifier delivers through an SMTP relay.
package notify

import (
	"context"

	"github.com/MrEthical07/authcore"
	"go.uber.org/zap"
)

const previewBytes = 200

// LogNotifier logs each message at info level. The text body is included so
// codes and links can be copied from the log during development.
type LogNotifier struct {
	logger *zap.Logger
}

var _ authcore.Notifier = (*LogNotifier)(nil)

// NewLogNotifier returns a LogNotifier writing to logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Send logs msg and never fails.
func (n *LogNotifier) Send(_ context.Context, msg authcore.Message) error {
	n.logger.Info("email (simulated)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.Text),
	)
	n.logger.Debug("email html preview", zap.String("html", preview(msg.HTML)))
	return nil
}

func preview(s string) string {
	if len(s) <= previewBytes {
		return s
	}
	return s[:previewBytes] + "..."
}
