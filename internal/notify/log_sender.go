package notify

import (
	"context"
	"log/slog"
)

// LogSender writes notifications to the structured log. It backs the "log"
// channel used in development and by contacts without a push subscription.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, r Recipient, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "notification",
		"kind", m.Kind,
		"recipient_id", r.ID,
		"recipient_name", r.Name,
		"address", r.Address,
		"title", m.Title,
		"body", m.Body,
		"maps_url", m.MapsURL,
		"share_url", m.ShareURL,
	)
	return nil
}
