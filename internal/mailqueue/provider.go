package mailqueue

import (
	"context"
	"log/slog"
)

// Email is a rendered message ready for the transactional email provider.
type Email struct {
	To       string
	Subject  string
	HTMLBody string
	Tag      string
}

// Provider sends rendered emails through an external transactional email
// service. Implementations classify failures with RetryableError where they
// can tell permanent rejections from transient ones.
type Provider interface {
	Send(ctx context.Context, email Email) error
}

// LogProvider is a development provider that logs emails instead of sending
// them. Used when no provider token is configured.
type LogProvider struct{}

// Send logs the email and reports success.
func (LogProvider) Send(_ context.Context, email Email) error {
	slog.Info("email sender disabled, logging instead of sending",
		"to", email.To,
		"subject", email.Subject,
		"tag", email.Tag,
	)
	return nil
}
