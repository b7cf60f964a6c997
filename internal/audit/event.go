package audit

import (
	"context"
	"time"

	"github.com/xela07ax/signoff/internal/domain"
)

// Action — что произошло с заявкой
type Action string

const (
	ActionSubmitted Action = "SUBMITTED"
	ActionApproved  Action = "APPROVED"
	ActionDenied    Action = "DENIED"
	// ActionForbidden — попытка решения вне своей owner-очереди
	ActionForbidden Action = "FORBIDDEN"
)

// ActionFor маппит терминальный статус заявки в действие журнала
func ActionFor(status domain.ApprovalStatus) Action {
	if status == domain.StatusApproved {
		return ActionApproved
	}
	return ActionDenied
}

type Event struct {
	ID          string `json:"id"`           // UUID события
	TraceID     string `json:"trace_id"`     // Сквозной ID запроса
	RequestID   string `json:"request_id"`   // Какая заявка
	Kind        string `json:"kind"`         // Тип workflow
	RequesterID string `json:"requester_id"` // Кто подал
	ReviewerID  string `json:"reviewer_id"`  // Кто решил (пусто для SUBMITTED)

	Action     Action    `json:"action"`
	Notes      string    `json:"notes"`
	DurationMs int64     `json:"duration_ms"` // Для решений: время от подачи до вердикта
	Timestamp  time.Time `json:"timestamp"`
}

// Recorder — вход журнала для ядра workflow
type Recorder interface {
	Log(event Event)
}

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const traceIDKey ctxKey = "trace_id"

// WithTraceID кладет сквозной ID запроса в контекст
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFrom помогает безопасно достать ID в любом месте кода
func TraceIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return "00000000-0000-0000-0000-000000000000" // Fallback
}
