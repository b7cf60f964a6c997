package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// Статусы State Machine
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "PENDING"
	StatusApproved ApprovalStatus = "APPROVED"
	StatusDenied   ApprovalStatus = "DENIED"
)

// Таксономия ошибок ядра. Handlers мапят их на HTTP-коды,
// всё остальное считается StorageFailure и наружу не детализируется.
var (
	ErrNotFound          = errors.New("approval request not found")
	ErrForbidden         = errors.New("access to approval request denied")
	ErrAlreadyDecided    = errors.New("approval request already decided")
	ErrInvalidTransition = errors.New("invalid approval status transition")
	ErrStorage           = errors.New("storage failure")
)

// ApprovalRequest — заявка на подтверждение. Запись append-only:
// создается один раз requester'ом, один раз мутируется решением reviewer'а,
// никогда не удаляется (audit trail).
type ApprovalRequest struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`         // Тип workflow (authorization, verification, ...)
	RequesterID string          `json:"requester_id"` // Кто подал (иммутабельно)
	OwnerID     string          `json:"owner_id"`     // Чья очередь решает (иммутабельно)
	Payload     json.RawMessage `json:"payload"`      // Что именно просят подтвердить
	Status      ApprovalStatus  `json:"status"`

	ReviewerID *string    `json:"reviewer_id,omitempty"` // Кто принял решение
	Notes      *string    `json:"notes,omitempty"`       // Обоснование решения
	DecidedAt  *time.Time `json:"decided_at,omitempty"`  // Проставляется ровно один раз

	CreatedAt time.Time `json:"created_at"`
}

// CanTransitionTo проверяет правила конечного автомата.
// Единственные легальные переходы: PENDING -> APPROVED и PENDING -> DENIED.
func (a *ApprovalRequest) CanTransitionTo(next ApprovalStatus) error {
	if a.Status != StatusPending {
		return ErrAlreadyDecided
	}
	if next != StatusApproved && next != StatusDenied {
		return ErrInvalidTransition
	}
	return nil
}

// IsPending — заявка еще ждет решения
func (a *ApprovalRequest) IsPending() bool {
	return a.Status == StatusPending
}

// Verdict решение reviewer'а
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictDeny    Verdict = "deny"
)

// Status переводит вердикт в терминальный статус заявки
func (v Verdict) Status() (ApprovalStatus, error) {
	switch v {
	case VerdictApprove:
		return StatusApproved, nil
	case VerdictDeny:
		return StatusDenied, nil
	default:
		return "", ErrInvalidTransition
	}
}

// StatusView — ответ Polling Gateway. Requester видит только статус
// и метаданные решения, ничего про reviewer'а или чужие заявки.
type StatusView struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Status     ApprovalStatus `json:"status"`
	DecidedAt  *time.Time     `json:"decided_at,omitempty"`
	Notes      *string        `json:"notes,omitempty"`
	CanProceed bool           `json:"can_proceed"`
}

// View собирает представление заявки для requester'а
func (a *ApprovalRequest) View() *StatusView {
	return &StatusView{
		ID:         a.ID,
		Kind:       a.Kind,
		Status:     a.Status,
		DecidedAt:  a.DecidedAt,
		Notes:      a.Notes,
		CanProceed: a.Status == StatusApproved,
	}
}
