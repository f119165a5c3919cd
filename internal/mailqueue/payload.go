package mailqueue

import "time"

// Kind identifies an email template and the shape of its payload.
type Kind string

// Email kinds. Each kind has a matching params struct below and a template
// in templates/.
const (
	KindBubbleInvitation         Kind = "bubble_invitation"
	KindBubbleInvitationReminder Kind = "bubble_invitation_reminder"
	KindJoinRequest              Kind = "join_request"
	KindJoinRequestApproved      Kind = "join_request_approved"
	KindJoinRequestRejected      Kind = "join_request_rejected"
	KindMemberLeft               Kind = "member_left"
	KindEmailVerification        Kind = "email_verification"
	KindPasswordReset            Kind = "password_reset"
	KindPasswordChanged          Kind = "password_changed"
	KindWishClaimed              Kind = "wish_claimed"
	KindClaimReleased            Kind = "claim_released"
	KindSecretSantaDraw          Kind = "secret_santa_draw"
	KindEventApproaching         Kind = "event_approaching"
	KindEventDateChanged         Kind = "event_date_changed"
	KindWeeklyDigest             Kind = "weekly_digest"
	KindBubbleDeleted            Kind = "bubble_deleted"
	KindAccountDeleted           Kind = "account_deleted"
	KindPaymentReceipt           Kind = "payment_receipt"
)

// Kinds returns all known email kinds.
func Kinds() []Kind {
	return []Kind{
		KindBubbleInvitation,
		KindBubbleInvitationReminder,
		KindJoinRequest,
		KindJoinRequestApproved,
		KindJoinRequestRejected,
		KindMemberLeft,
		KindEmailVerification,
		KindPasswordReset,
		KindPasswordChanged,
		KindWishClaimed,
		KindClaimReleased,
		KindSecretSantaDraw,
		KindEventApproaching,
		KindEventDateChanged,
		KindWeeklyDigest,
		KindBubbleDeleted,
		KindAccountDeleted,
		KindPaymentReceipt,
	}
}

// Valid reports whether the kind is part of the fixed enumeration.
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// BubbleInvitationParams invites someone to join a bubble.
type BubbleInvitationParams struct {
	BubbleName  string    `json:"bubble_name"`
	InviterName string    `json:"inviter_name"`
	InviteURL   string    `json:"invite_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// BubbleInvitationReminderParams nudges an invitee who has not responded.
type BubbleInvitationReminderParams struct {
	BubbleName  string    `json:"bubble_name"`
	InviterName string    `json:"inviter_name"`
	InviteURL   string    `json:"invite_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// JoinRequestParams notifies a bubble owner about a pending join request.
type JoinRequestParams struct {
	BubbleName    string `json:"bubble_name"`
	RequesterName string `json:"requester_name"`
	ReviewURL     string `json:"review_url"`
}

// JoinRequestApprovedParams confirms an accepted join request.
type JoinRequestApprovedParams struct {
	BubbleName string `json:"bubble_name"`
	BubbleURL  string `json:"bubble_url"`
}

// JoinRequestRejectedParams informs a requester their request was declined.
type JoinRequestRejectedParams struct {
	BubbleName string `json:"bubble_name"`
}

// MemberLeftParams notifies the bubble owner that a member left.
type MemberLeftParams struct {
	BubbleName string `json:"bubble_name"`
	MemberName string `json:"member_name"`
}

// EmailVerificationParams carries the address verification link.
type EmailVerificationParams struct {
	VerificationURL string `json:"verification_url"`
}

// PasswordResetParams carries the password reset link.
type PasswordResetParams struct {
	ResetURL  string    `json:"reset_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PasswordChangedParams confirms a completed password change.
type PasswordChangedParams struct {
	ChangedAt time.Time `json:"changed_at"`
}

// WishClaimedParams tells other members a wish was claimed. Never sent to the
// wish owner: claims stay hidden from them.
type WishClaimedParams struct {
	BubbleName  string `json:"bubble_name"`
	WishTitle   string `json:"wish_title"`
	ClaimerName string `json:"claimer_name"`
}

// ClaimReleasedParams tells other members a claim was released.
type ClaimReleasedParams struct {
	BubbleName string `json:"bubble_name"`
	WishTitle  string `json:"wish_title"`
}

// SecretSantaDrawParams reveals a member's draw result.
type SecretSantaDrawParams struct {
	BubbleName    string    `json:"bubble_name"`
	RecipientName string    `json:"recipient_name"`
	Budget        string    `json:"budget,omitempty"`
	EventDate     time.Time `json:"event_date"`
	BubbleURL     string    `json:"bubble_url"`
}

// EventApproachingParams reminds members of an upcoming gift exchange.
type EventApproachingParams struct {
	BubbleName string    `json:"bubble_name"`
	EventDate  time.Time `json:"event_date"`
	DaysLeft   int       `json:"days_left"`
	BubbleURL  string    `json:"bubble_url"`
}

// EventDateChangedParams announces a moved event date.
type EventDateChangedParams struct {
	BubbleName string    `json:"bubble_name"`
	OldDate    time.Time `json:"old_date"`
	NewDate    time.Time `json:"new_date"`
	BubbleURL  string    `json:"bubble_url"`
}

// WeeklyDigestParams summarizes recent bubble activity.
type WeeklyDigestParams struct {
	BubbleName string `json:"bubble_name"`
	NewWishes  int    `json:"new_wishes"`
	NewClaims  int    `json:"new_claims"`
	NewMembers int    `json:"new_members"`
	BubbleURL  string `json:"bubble_url"`
}

// BubbleDeletedParams informs members their bubble was removed.
type BubbleDeletedParams struct {
	BubbleName string `json:"bubble_name"`
	DeletedBy  string `json:"deleted_by"`
}

// AccountDeletedParams confirms account removal.
type AccountDeletedParams struct {
	Email string `json:"email"`
}

// PaymentReceiptParams carries a subscription payment receipt.
type PaymentReceiptParams struct {
	PlanName   string    `json:"plan_name"`
	Amount     string    `json:"amount"`
	Currency   string    `json:"currency"`
	PaidAt     time.Time `json:"paid_at"`
	InvoiceURL string    `json:"invoice_url,omitempty"`
}
