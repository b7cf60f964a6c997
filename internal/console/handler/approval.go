package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/signoff/internal/domain"
	"github.com/xela07ax/signoff/internal/infra/auth"
)

// ApprovalService Описываем, что нам нужно от ядра workflow
type ApprovalService interface {
	Get(ctx context.Context, id string, reviewer *domain.Reviewer) (*domain.ApprovalRequest, error)
	Queue(ctx context.Context, reviewer *domain.Reviewer, status domain.ApprovalStatus, kind string) ([]*domain.ApprovalRequest, error)
	Decide(ctx context.Context, id string, reviewer *domain.Reviewer, verdict domain.Verdict, notes string) (*domain.ApprovalRequest, error)
}

type ApprovalHandler struct {
	service ApprovalService
}

func NewApprovalHandler(s ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{service: s}
}

func (h *ApprovalHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	reviewer, ok := auth.ReviewerFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	approval, err := h.service.Get(r.Context(), id, reviewer)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(approval)
}

func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	reviewer, ok := auth.ReviewerFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	status := r.URL.Query().Get("status") // Достаем из ?status=...
	if status == "" {
		status = string(domain.StatusPending) // Дефолт для удобства очереди
	}
	// Приводим к верхнему регистру, так как в константах PENDING/APPROVED
	status = strings.ToUpper(status)

	kind := r.URL.Query().Get("kind")

	list, err := h.service.Queue(r.Context(), reviewer, domain.ApprovalStatus(status), kind)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

type DecideRequest struct {
	Approved bool   `json:"approved"`
	Notes    string `json:"notes"`
}

func (h *ApprovalHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	reviewer, ok := auth.ReviewerFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	verdict := domain.VerdictDeny
	if req.Approved {
		verdict = domain.VerdictApprove
	}

	updated, err := h.service.Decide(r.Context(), id, reviewer, verdict, req.Notes)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}

// writeWorkflowError мапит таксономию ядра на HTTP-коды
func writeWorkflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "approval request not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, domain.ErrAlreadyDecided):
		// Повтор решения — отказ, не тихий успех
		http.Error(w, "approval request already decided", http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidTransition):
		http.Error(w, "invalid decision", http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
