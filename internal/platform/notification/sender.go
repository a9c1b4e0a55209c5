package notification

import (
	"context"

	"github.com/rs/zerolog"
)

// EmailSender delivers email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// WhatsAppSender delivers WhatsApp messages.
type WhatsAppSender interface {
	SendWhatsApp(ctx context.Context, to, body string) error
}

// LogSender writes messages to the log instead of delivering them. It is the
// default when no provider is configured.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log.With().Str("component", "notification").Logger()}
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.log.Info().Str("channel", string(ChannelEmail)).Str("to", to).Str("subject", subject).
		Int("body_len", len(body)).Msg("email queued")
	return nil
}

func (s *LogSender) SendWhatsApp(_ context.Context, to, body string) error {
	s.log.Info().Str("channel", string(ChannelWhatsApp)).Str("to", to).
		Int("body_len", len(body)).Msg("whatsapp message queued")
	return nil
}
