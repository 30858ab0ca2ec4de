package mail

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// LogMailer logs messages instead of sending them. It is the development transport.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}

	result := SendResult{
		MessageID: "<" + uuid.NewString() + "@log.restock>",
		SentAt:    time.Now().UTC(),
	}
	m.logger.Info("mail logged",
		"shop", msg.Shop,
		"to", msg.To,
		"subject", msg.Subject,
		"message_id", result.MessageID,
		"text_bytes", len(msg.Text),
		"html_bytes", len(msg.HTML),
	)
	return result, nil
}
