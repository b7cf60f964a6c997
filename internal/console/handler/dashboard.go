package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/signoff/internal/domain"
)

// DashboardService Описываем, что нам нужно от слоя статистики
type DashboardService interface {
	GetUnifiedDashboard(ctx context.Context) (*domain.UnifiedDashboard, error)
}

type DashboardHandler struct {
	service DashboardService
}

func NewDashboardHandler(s DashboardService) *DashboardHandler {
	return &DashboardHandler{service: s}
}

func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetUnifiedDashboard(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
