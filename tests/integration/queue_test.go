//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmttn/wishbubble-sub001/internal/mailqueue"
	"github.com/tmttn/wishbubble-sub001/internal/testutil"
)

type idResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type itemEnvelope struct {
	Data struct {
		ID          string `json:"id"`
		Kind        string `json:"kind"`
		To          string `json:"to"`
		Priority    string `json:"priority"`
		Status      string `json:"status"`
		Attempts    int    `json:"attempts"`
		MaxAttempts int    `json:"max_attempts"`
		LastError   string `json:"last_error"`
	} `json:"data"`
}

func enqueuePayload(to string) map[string]any {
	return map[string]any{
		"kind": "wish_claimed",
		"to":   to,
		"payload": mailqueue.WishClaimedParams{
			BubbleName:  "Family Christmas",
			WishTitle:   "Espresso machine",
			ClaimerName: "Sam",
		},
	}
}

func TestQueue_EnqueueAndProcess(t *testing.T) {
	resetQueue(t)
	client := newTestClient()

	resp, err := client.POST("/api/v1/queue/items", enqueuePayload("member@example.com"))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created idResponse
	testutil.DecodeJSON(t, resp, &created)
	require.NotEmpty(t, created.Data.ID)

	resp, err = client.POST("/api/v1/queue/process", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data mailqueue.BatchResult `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.Equal(t, 1, result.Data.Processed)
	assert.Equal(t, 1, result.Data.Succeeded)

	resp, err = client.GET("/api/v1/queue/items/" + created.Data.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var item itemEnvelope
	testutil.DecodeJSON(t, resp, &item)
	assert.Equal(t, "completed", item.Data.Status)
	assert.Equal(t, 1, item.Data.Attempts)
}

func TestQueue_EnqueueAndSendNow(t *testing.T) {
	resetQueue(t)
	client := newTestClient()

	resp, err := client.POST("/api/v1/queue/items/send", map[string]any{
		"kind": "email_verification",
		"to":   "new@example.com",
		"payload": mailqueue.EmailVerificationParams{
			VerificationURL: "https://wishbubble.app/verify/tok",
		},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created idResponse
	testutil.DecodeJSON(t, resp, &created)

	resp, err = client.GET("/api/v1/queue/items/" + created.Data.ID)
	require.NoError(t, err)

	var item itemEnvelope
	testutil.DecodeJSON(t, resp, &item)
	assert.Equal(t, "completed", item.Data.Status)
	assert.Equal(t, "high", item.Data.Priority)
}

func TestQueue_EnqueueBatchAndStats(t *testing.T) {
	resetQueue(t)
	client := newTestClient()

	resp, err := client.POST("/api/v1/queue/items/batch", map[string]any{
		"items": []map[string]any{
			enqueuePayload("a@example.com"),
			enqueuePayload("b@example.com"),
			enqueuePayload("c@example.com"),
		},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Data struct {
			Created int64 `json:"created"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &created)
	assert.Equal(t, int64(3), created.Data.Created)

	resp, err = client.GET("/api/v1/queue/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats struct {
		Data mailqueue.QueueStats `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &stats)
	assert.Equal(t, int64(3), stats.Data.Pending)
}

func TestQueue_Validation(t *testing.T) {
	resetQueue(t)
	client := newTestClient()

	tests := []struct {
		name string
		body map[string]any
	}{
		{"unknown kind", map[string]any{"kind": "carrier_pigeon", "to": "a@example.com", "payload": map[string]any{}}},
		{"invalid email", map[string]any{"kind": "wish_claimed", "to": "nope", "payload": map[string]any{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.POST("/api/v1/queue/items", tt.body)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestQueue_RetryLifecycle(t *testing.T) {
	resetQueue(t)
	client := newTestClient()

	resp, err := client.POST("/api/v1/queue/items", enqueuePayload("member@example.com"))
	require.NoError(t, err)
	var created idResponse
	testutil.DecodeJSON(t, resp, &created)

	// Retry on a pending item is rejected.
	resp, err = client.POST("/api/v1/queue/items/"+created.Data.ID+"/retry", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestQueue_NotFound(t *testing.T) {
	resetQueue(t)
	client := newTestClient()

	resp, err := client.GET("/api/v1/queue/items/00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	client := newTestClient()

	for _, path := range []string{"/healthz", "/readyz", "/version"} {
		resp, err := client.GET(path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
