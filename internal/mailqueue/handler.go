package mailqueue

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/tmttn/wishbubble-sub001/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrItemNotFound, Status: http.StatusNotFound, Message: "queue item not found"},
	{Error: ErrInvalidState, Status: http.StatusConflict, Message: "only failed items can be retried"},
}

// Handler handles HTTP requests for the mail queue: enqueue endpoints for
// internal producers and the admin operational surface.
type Handler struct {
	repo      Repository
	processor *Processor
	validator *validator.Validate
}

// NewHandler creates a new mail queue handler.
func NewHandler(repo Repository, processor *Processor) *Handler {
	return &Handler{
		repo:      repo,
		processor: processor,
		validator: validator.New(),
	}
}

// RegisterRoutes registers mail queue routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/queue", func(r chi.Router) {
		r.Get("/stats", h.GetStats)
		r.Post("/process", h.ProcessBatch)
		r.Post("/cleanup", h.Cleanup)

		r.Route("/items", func(r chi.Router) {
			r.Post("/", h.EnqueueItem)
			r.Post("/batch", h.EnqueueBatch)
			r.Post("/send", h.EnqueueAndSend)
			r.Get("/{id}", h.GetItem)
			r.Post("/{id}/retry", h.RetryItem)
		})
	})
}

// EnqueueRequest represents the request body for enqueueing one email.
type EnqueueRequest struct {
	Kind         string          `json:"kind" validate:"required"`
	To           string          `json:"to" validate:"required,email"`
	Payload      json.RawMessage `json:"payload" validate:"required"`
	Priority     string          `json:"priority" validate:"omitempty,oneof=high normal"`
	ScheduledFor *time.Time      `json:"scheduled_for"`
	MaxAttempts  int             `json:"max_attempts" validate:"omitempty,min=1,max=10"`
}

// EnqueueBatchRequest represents the request body for a bulk enqueue.
type EnqueueBatchRequest struct {
	Items []EnqueueRequest `json:"items" validate:"required,min=1,dive"`
}

// SendRequest represents the request body for enqueue-and-send-now.
type SendRequest struct {
	Kind    string          `json:"kind" validate:"required"`
	To      string          `json:"to" validate:"required,email"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

func (req *EnqueueRequest) options() EnqueueOptions {
	opts := EnqueueOptions{
		Priority:    Priority(req.Priority),
		MaxAttempts: req.MaxAttempts,
	}
	if req.ScheduledFor != nil {
		opts.ScheduledFor = *req.ScheduledFor
	}
	return opts
}

// itemResponse is the wire shape of a queue item.
type itemResponse struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	To           string          `json:"to"`
	Payload      json.RawMessage `json:"payload"`
	Priority     Priority        `json:"priority"`
	Status       Status          `json:"status"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	LastError    string          `json:"last_error,omitempty"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func toItemResponse(item *QueueItem) itemResponse {
	return itemResponse{
		ID:           item.ID,
		Kind:         item.Kind,
		To:           item.To,
		Payload:      item.Payload,
		Priority:     item.Priority,
		Status:       item.Status,
		ScheduledFor: item.ScheduledFor,
		Attempts:     item.Attempts,
		MaxAttempts:  item.MaxAttempts,
		LastError:    item.LastError,
		ProcessedAt:  item.ProcessedAt,
		CreatedAt:    item.CreatedAt,
		UpdatedAt:    item.UpdatedAt,
	}
}

// EnqueueItem handles POST /queue/items.
func (h *Handler) EnqueueItem(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}
	if !Kind(req.Kind).Valid() {
		httputil.Error(w, http.StatusBadRequest, "unknown email kind")
		return
	}

	id, err := h.processor.Enqueue(r.Context(), Kind(req.Kind), req.To, req.Payload, req.options())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, map[string]string{"id": id})
}

// EnqueueBatch handles POST /queue/items/batch.
func (h *Handler) EnqueueBatch(w http.ResponseWriter, r *http.Request) {
	var req EnqueueBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	batch := make([]BatchItem, 0, len(req.Items))
	for _, item := range req.Items {
		if !Kind(item.Kind).Valid() {
			httputil.Error(w, http.StatusBadRequest, "unknown email kind")
			return
		}
		batch = append(batch, BatchItem{
			Kind:    Kind(item.Kind),
			To:      item.To,
			Payload: item.Payload,
			Options: item.options(),
		})
	}

	created, err := h.processor.EnqueueBatch(r.Context(), batch)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, map[string]int64{"created": created})
}

// EnqueueAndSend handles POST /queue/items/send. The immediate attempt is
// best effort: the call reports success whenever the item was queued.
func (h *Handler) EnqueueAndSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}
	if !Kind(req.Kind).Valid() {
		httputil.Error(w, http.StatusBadRequest, "unknown email kind")
		return
	}

	id, err := h.processor.EnqueueAndSendNow(r.Context(), Kind(req.Kind), req.To, req.Payload)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, map[string]string{"id": id})
}

// GetItem handles GET /queue/items/{id}.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.repo.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, toItemResponse(item))
}

// RetryItem handles POST /queue/items/{id}/retry.
func (h *Handler) RetryItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.repo.Retry(r.Context(), id); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	item, err := h.repo.GetItem(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, toItemResponse(item))
}

// GetStats handles GET /queue/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, stats)
}

// ProcessBatch handles POST /queue/process, the manual drain trigger.
func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	result, err := h.processor.ProcessBatch(r.Context(), 0)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}

// Cleanup handles POST /queue/cleanup.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.repo.Cleanup(r.Context(), CompletedRetention)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	recordCleanup(deleted)

	httputil.Success(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
