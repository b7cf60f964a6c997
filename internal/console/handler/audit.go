package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/signoff/internal/audit"
)

// TrailProvider описывает контракт для чтения журнала решений
type TrailProvider interface {
	FetchTrail(ctx context.Context, requestID, kind string) ([]audit.Event, error)
}

type AuditHandler struct {
	provider TrailProvider
}

func NewAuditHandler(p TrailProvider) *AuditHandler {
	return &AuditHandler{provider: p}
}

// GetLogs возвращает список событий журнала с поддержкой фильтрации
// GET /v1/audit?request_id=...&kind=...
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	// Извлекаем фильтры из Query-параметров
	requestID := r.URL.Query().Get("request_id")
	kind := r.URL.Query().Get("kind")

	logs, err := h.provider.FetchTrail(r.Context(), requestID, kind)
	if err != nil {
		http.Error(w, "Failed to fetch decision log", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(logs)
}
