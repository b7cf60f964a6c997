package gate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/signoff/internal/domain"
	"github.com/xela07ax/signoff/internal/infra"
	"github.com/xela07ax/signoff/internal/workflow"
	"go.uber.org/zap"
)

// WorkflowService Описываем, что нам нужно от ядра
type WorkflowService interface {
	Submit(ctx context.Context, in workflow.SubmitInput) (*domain.ApprovalRequest, error)
	Status(ctx context.Context, id, requesterID string) (*domain.StatusView, error)
}

// Waiter — long-poll ожидание решения (DecisionHub)
type Waiter interface {
	Wait(ctx context.Context, requestID string, timeout time.Duration) bool
}

type Handler struct {
	service WorkflowService
	hub     Waiter
	cfg     infra.WorkflowConfig
	metrics *Metrics
	logger  *zap.Logger
}

func NewHandler(service WorkflowService, hub Waiter, cfg infra.WorkflowConfig, metrics *Metrics, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.Named("gate-handler"),
	}
}

type SubmitRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Submit регистрирует заявку requester'а
// POST /v1/requests
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	// Identity проставляет вышестоящий слой (reverse proxy / session layer),
	// ядро получает её явным значением
	requesterID := r.Header.Get("X-Requester-ID")
	if requesterID == "" {
		http.Error(w, "X-Requester-ID header is required", http.StatusBadRequest)
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	owner, ok := h.cfg.OwnerFor(req.Kind)
	if !ok {
		h.metrics.SubmissionsTotal.WithLabelValues(req.Kind, "unknown_kind").Inc()
		http.Error(w, "unknown workflow kind", http.StatusBadRequest)
		return
	}

	created, err := h.service.Submit(r.Context(), workflow.SubmitInput{
		Kind:        req.Kind,
		RequesterID: requesterID,
		OwnerID:     owner,
		Payload:     req.Payload,
	})
	if err != nil {
		h.metrics.SubmissionsTotal.WithLabelValues(req.Kind, "error").Inc()
		h.metrics.RequestDuration.WithLabelValues("submit", "error").Observe(time.Since(start).Seconds())
		// Детали сбоя хранилища наружу не отдаем
		http.Error(w, "submission failed", http.StatusServiceUnavailable)
		return
	}

	h.metrics.SubmissionsTotal.WithLabelValues(req.Kind, "accepted").Inc()
	h.metrics.RequestDuration.WithLabelValues("submit", "ok").Observe(time.Since(start).Seconds())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(created.View())
}

// Status отдает состояние заявки её requester'у
// GET /v1/requests/{id}?wait=25s
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "id")

	requesterID := r.Header.Get("X-Requester-ID")
	if requesterID == "" {
		http.Error(w, "X-Requester-ID header is required", http.StatusBadRequest)
		return
	}

	view, err := h.service.Status(r.Context(), id, requesterID)
	if err != nil {
		h.writeStatusError(w, start, err)
		return
	}

	// Long-poll: если заявка еще висит и requester готов подождать,
	// паркуемся до сигнала решения или таймаута и перечитываем
	if wait := h.parseWait(r); wait > 0 && view.Status == domain.StatusPending {
		if !h.hub.Wait(r.Context(), id, wait) {
			h.metrics.PollTimeouts.Inc()
		}

		view, err = h.service.Status(r.Context(), id, requesterID)
		if err != nil {
			h.writeStatusError(w, start, err)
			return
		}
	}

	h.metrics.RequestDuration.WithLabelValues("status", "ok").Observe(time.Since(start).Seconds())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

func (h *Handler) parseWait(r *http.Request) time.Duration {
	raw := r.URL.Query().Get("wait")
	if raw == "" {
		return 0
	}
	wait, err := time.ParseDuration(raw)
	if err != nil || wait < 0 {
		return 0
	}
	if wait > h.cfg.MaxWait {
		wait = h.cfg.MaxWait
	}
	return wait
}

func (h *Handler) writeStatusError(w http.ResponseWriter, start time.Time, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.metrics.RequestDuration.WithLabelValues("status", "not_found").Observe(time.Since(start).Seconds())
		http.Error(w, "request not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrForbidden):
		h.metrics.RequestDuration.WithLabelValues("status", "forbidden").Observe(time.Since(start).Seconds())
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		h.metrics.RequestDuration.WithLabelValues("status", "error").Observe(time.Since(start).Seconds())
		http.Error(w, "status lookup failed", http.StatusServiceUnavailable)
	}
}
