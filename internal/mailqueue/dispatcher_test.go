package mailqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider records sent emails and fails with a configurable error.
type fakeProvider struct {
	mu   sync.Mutex
	sent []Email
	err  error
}

func (p *fakeProvider) Send(_ context.Context, email Email) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, email)
	return nil
}

func (p *fakeProvider) sentEmails() []Email {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Email(nil), p.sent...)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func newTestDispatcher(t *testing.T, provider Provider) *Dispatcher {
	t.Helper()
	renderer, err := NewRenderer()
	require.NoError(t, err)
	return NewDispatcher(renderer, provider)
}

func TestDispatcher_Send(t *testing.T) {
	provider := &fakeProvider{}
	d := newTestDispatcher(t, provider)

	payload := mustJSON(t, WishClaimedParams{
		BubbleName:  "Family Christmas",
		WishTitle:   "Espresso machine",
		ClaimerName: "Sam",
	})

	err := d.Send(context.Background(), KindWishClaimed, "member@example.com", payload)
	require.NoError(t, err)

	sent := provider.sentEmails()
	require.Len(t, sent, 1)
	assert.Equal(t, "member@example.com", sent[0].To)
	assert.Equal(t, "A wish in Family Christmas was claimed", sent[0].Subject)
	assert.Equal(t, "wish_claimed", sent[0].Tag)
	assert.Contains(t, sent[0].HTMLBody, "Espresso machine")
}

func TestDispatcher_Send_UnknownKind(t *testing.T) {
	provider := &fakeProvider{}
	d := newTestDispatcher(t, provider)

	err := d.Send(context.Background(), Kind("carrier_pigeon"), "member@example.com", mustJSON(t, struct{}{}))
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.False(t, isRetryable(err))
	assert.Empty(t, provider.sentEmails())
}

func TestDispatcher_Send_UndecodablePayload(t *testing.T) {
	provider := &fakeProvider{}
	d := newTestDispatcher(t, provider)

	err := d.Send(context.Background(), KindWishClaimed, "member@example.com", json.RawMessage(`"not an object"`))
	require.Error(t, err)

	assert.False(t, isRetryable(err))
	assert.Empty(t, provider.sentEmails())
}

func TestDispatcher_Send_ProviderErrorRetryability(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"retryable provider error", NewRetryableError(errors.New("timeout")), true},
		{"non-retryable provider error", NewNonRetryableError(errors.New("inactive recipient")), false},
		{"unclassified provider error", errors.New("boom"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{err: tt.err}
			d := newTestDispatcher(t, provider)

			payload := mustJSON(t, WishClaimedParams{BubbleName: "B", WishTitle: "W", ClaimerName: "C"})
			err := d.Send(context.Background(), KindWishClaimed, "member@example.com", payload)
			require.Error(t, err)

			assert.Equal(t, tt.retryable, isRetryable(err))
		})
	}
}
