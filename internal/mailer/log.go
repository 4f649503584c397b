package mailer

import (
	"context"
	"log/slog"

	"github.com/pribylovaa/accounts-auth/internal/pkg/redact"
)

// LogSender вместо доставки пишет письмо в лог. Используется при env=local.
// Тело письма содержит одноразовый код и выводится только при withBody=true.
type LogSender struct {
	log      *slog.Logger
	withBody bool
}

// NewLogSender создаёт LogSender.
func NewLogSender(logger *slog.Logger, withBody bool) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}

	return &LogSender{log: logger, withBody: withBody}
}

// Deliver логирует письмо.
func (s *LogSender) Deliver(ctx context.Context, msg Message) error {
	attrs := []any{
		slog.String("to", redact.Email(msg.To)),
		slog.String("subject", msg.Subject),
	}
	if s.withBody {
		attrs = append(attrs, slog.String("body", msg.Body))
	}

	s.log.InfoContext(ctx, "mail_logged", attrs...)

	return nil
}
