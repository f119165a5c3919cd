// Package postmark provides the Postmark-backed email provider.
package postmark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mrz1836/postmark"
	"github.com/tmttn/wishbubble-sub001/internal/mailqueue"
)

// Postmark API error codes that mean the message can never be delivered as
// submitted. See https://postmarkapp.com/developer/api/overview#error-codes.
const (
	codeInvalidEmailRequest = 300
	codeInactiveRecipient   = 406
)

// Config holds Postmark provider configuration. Both tokens and the from
// address are injected explicitly; the provider reads no environment state.
type Config struct {
	ServerToken  string
	AccountToken string
	FromAddress  string
	ReplyTo      string
}

// Provider implements mailqueue.Provider over the Postmark transactional API.
type Provider struct {
	client *postmark.Client
	config Config
}

// NewProvider creates a Postmark provider. Returns an error when required
// config is missing, so a misconfigured service fails at startup rather than
// on the first send.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.ServerToken == "" {
		return nil, errors.New("postmark provider: server token is required")
	}
	if cfg.FromAddress == "" {
		return nil, errors.New("postmark provider: from address is required")
	}

	slog.Info("postmark provider configured",
		"from_address", cfg.FromAddress,
		"reply_to", cfg.ReplyTo,
	)

	return &Provider{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		config: cfg,
	}, nil
}

// Send delivers one rendered email. Permanent rejections (malformed request,
// inactive recipient) are marked non-retryable; everything else, including
// network failures and provider 5xx, stays retryable.
func (p *Provider) Send(ctx context.Context, email mailqueue.Email) error {
	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:       p.config.FromAddress,
		ReplyTo:    p.config.ReplyTo,
		To:         email.To,
		Subject:    email.Subject,
		HTMLBody:   email.HTMLBody,
		Tag:        email.Tag,
		TrackOpens: true,
	})
	if err != nil {
		return mailqueue.NewRetryableError(fmt.Errorf("postmark send: %w", err))
	}
	if resp.ErrorCode > 0 {
		sendErr := fmt.Errorf("postmark error %d: %s", resp.ErrorCode, resp.Message)
		if resp.ErrorCode == codeInvalidEmailRequest || resp.ErrorCode == codeInactiveRecipient {
			return mailqueue.NewNonRetryableError(sendErr)
		}
		return mailqueue.NewRetryableError(sendErr)
	}
	return nil
}
