package mailqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Dispatcher maps a (kind, payload) pair to a concrete provider send. It
// decodes the stored JSON payload into the typed params for the kind, renders
// the template and hands the result to the provider. Retry policy lives
// entirely in the Processor; the Dispatcher never retries.
type Dispatcher struct {
	renderer *Renderer
	provider Provider
}

// NewDispatcher creates a dispatcher over the given renderer and provider.
func NewDispatcher(renderer *Renderer, provider Provider) *Dispatcher {
	return &Dispatcher{
		renderer: renderer,
		provider: provider,
	}
}

// Send renders and delivers one email. Unknown kinds and undecodable
// payloads fail non-retryably: resending the same bytes can never succeed.
func (d *Dispatcher) Send(ctx context.Context, kind Kind, to string, payload json.RawMessage) error {
	data, err := decodePayload(kind, payload)
	if err != nil {
		return NewNonRetryableError(err)
	}

	subject, body, err := d.renderer.Render(kind, data)
	if err != nil {
		return NewNonRetryableError(fmt.Errorf("render %s: %w", kind, err))
	}

	err = d.provider.Send(ctx, Email{
		To:       to,
		Subject:  subject,
		HTMLBody: body,
		Tag:      string(kind),
	})
	if err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}

	slog.Debug("email dispatched", "kind", kind, "to", to)
	return nil
}

// decodePayload reconstructs the typed params for a kind from its stored
// JSON form. Time values come back from their RFC 3339 encoding via the
// standard json handling of time.Time.
func decodePayload(kind Kind, raw json.RawMessage) (any, error) {
	var data any
	switch kind {
	case KindBubbleInvitation:
		data = &BubbleInvitationParams{}
	case KindBubbleInvitationReminder:
		data = &BubbleInvitationReminderParams{}
	case KindJoinRequest:
		data = &JoinRequestParams{}
	case KindJoinRequestApproved:
		data = &JoinRequestApprovedParams{}
	case KindJoinRequestRejected:
		data = &JoinRequestRejectedParams{}
	case KindMemberLeft:
		data = &MemberLeftParams{}
	case KindEmailVerification:
		data = &EmailVerificationParams{}
	case KindPasswordReset:
		data = &PasswordResetParams{}
	case KindPasswordChanged:
		data = &PasswordChangedParams{}
	case KindWishClaimed:
		data = &WishClaimedParams{}
	case KindClaimReleased:
		data = &ClaimReleasedParams{}
	case KindSecretSantaDraw:
		data = &SecretSantaDrawParams{}
	case KindEventApproaching:
		data = &EventApproachingParams{}
	case KindEventDateChanged:
		data = &EventDateChangedParams{}
	case KindWeeklyDigest:
		data = &WeeklyDigestParams{}
	case KindBubbleDeleted:
		data = &BubbleDeletedParams{}
	case KindAccountDeleted:
		data = &AccountDeletedParams{}
	case KindPaymentReceipt:
		data = &PaymentReceiptParams{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	if err := json.Unmarshal(raw, data); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return data, nil
}
