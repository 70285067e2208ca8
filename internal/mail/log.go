package mail

import (
	"context"

	"go.uber.org/zap"
)

// LogSender logs the envelope instead of delivering. Development only; the body (which
// carries the code) is never logged.
type LogSender struct {
	Logger *zap.Logger
}

// Deliver implements Sender.
func (s LogSender) Deliver(_ context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("mail not sent (log driver)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("html_bytes", len(msg.HTML)),
	)
	return nil
}
