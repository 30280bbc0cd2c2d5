package usecase

import (
	"context"
	"log/slog"

	"github.com/kirillkom/receipt-pipeline/internal/core/domain"
)

// LoggingTextHandler acknowledges text bodies without processing them. Text
// understanding lives outside this pipeline; the log line keeps the message
// from disappearing silently.
type LoggingTextHandler struct {
	log *slog.Logger
}

func NewLoggingTextHandler(log *slog.Logger) *LoggingTextHandler {
	return &LoggingTextHandler{log: log}
}

func (h *LoggingTextHandler) HandleText(_ context.Context, msg domain.Message) error {
	h.log.Debug("text message observed, not handled by pipeline",
		"message_id", msg.ID,
		"sender", msg.Sender,
		"chars", len(msg.Text),
	)
	return nil
}
