package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/signoff/internal/audit"
	"github.com/xela07ax/signoff/internal/domain"
	"go.uber.org/zap"
)

// Store описывает требования ядра к хранилищу заявок.
// Реализация — repository/postgres, в тестах — in-memory фейк.
type Store interface {
	// InsertPending создает PENDING-заявку либо возвращает уже существующую
	// живую заявку той же пары (requester_id, kind). Дедупликация атомарная,
	// на стороне хранилища.
	InsertPending(ctx context.Context, req *domain.ApprovalRequest) (*domain.ApprovalRequest, error)
	GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	// Decide атомарно переводит заявку из PENDING в терминальный статус.
	// Если заявка уже решена (гонка двух reviewer'ов), возвращает
	// domain.ErrAlreadyDecided — побеждает ровно один вызов.
	Decide(ctx context.Context, id string, status domain.ApprovalStatus, reviewerID, notes string, decidedAt time.Time) (*domain.ApprovalRequest, error)
	Find(ctx context.Context, f Filter) ([]*domain.ApprovalRequest, error)
}

// Signaler транслирует принятое решение заинтересованным сторонам
// (Redis Pub/Sub, который будит long-poll на gate)
type Signaler interface {
	PublishDecision(ctx context.Context, requestID string, status domain.ApprovalStatus) error
}

// Filter — параметры выборки Decision Queue
type Filter struct {
	Status  domain.ApprovalStatus
	Kind    string
	OwnerID string // пустой = все owner'ы (только для super)
	Limit   int
}

type SubmitInput struct {
	Kind        string
	RequesterID string
	OwnerID     string
	Payload     json.RawMessage
}

type Service struct {
	store    Store
	signaler Signaler
	trail    audit.Recorder
	logger   *zap.Logger
}

func NewService(store Store, signaler Signaler, trail audit.Recorder, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		signaler: signaler,
		trail:    trail,
		logger:   logger.Named("workflow"),
	}
}

// Submit регистрирует заявку requester'а. Идемпотентна: пока по паре
// (requester_id, kind) висит PENDING-заявка, повторная подача возвращает её же.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*domain.ApprovalRequest, error) {
	if in.Kind == "" || in.RequesterID == "" || in.OwnerID == "" {
		return nil, fmt.Errorf("%w: kind, requester and owner are required", domain.ErrInvalidTransition)
	}

	req := &domain.ApprovalRequest{
		ID:          uuid.New().String(),
		Kind:        in.Kind,
		RequesterID: in.RequesterID,
		OwnerID:     in.OwnerID,
		Payload:     in.Payload,
		Status:      domain.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}

	stored, err := s.store.InsertPending(ctx, req)
	if err != nil {
		s.logger.Error("failed to persist approval request",
			zap.String("kind", in.Kind),
			zap.String("requester_id", in.RequesterID),
			zap.Error(err))
		// Частичная запись откатывается на уровне хранилища,
		// наружу уходит только факт сбоя
		return nil, domain.ErrStorage
	}

	if stored.ID != req.ID {
		// Дедупликация сработала: повторная подача при живой PENDING
		s.logger.Debug("duplicate submission, returning pending request",
			zap.String("request_id", stored.ID),
			zap.String("requester_id", in.RequesterID))
		return stored, nil
	}

	s.trail.Log(audit.Event{
		ID:          uuid.New().String(),
		TraceID:     audit.TraceIDFrom(ctx),
		RequestID:   stored.ID,
		Kind:        stored.Kind,
		RequesterID: stored.RequesterID,
		Action:      audit.ActionSubmitted,
		Timestamp:   stored.CreatedAt,
	})

	s.logger.Info("approval request submitted",
		zap.String("request_id", stored.ID),
		zap.String("kind", stored.Kind),
		zap.String("owner_id", stored.OwnerID))
	return stored, nil
}

// Status отдает текущее состояние заявки её requester'у.
// Чужие заявки не видны — единственная проверка доступа на этом пути.
func (s *Service) Status(ctx context.Context, id, requesterID string) (*domain.StatusView, error) {
	req, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		s.logger.Error("status lookup failed", zap.String("request_id", id), zap.Error(err))
		return nil, domain.ErrStorage
	}

	if req.RequesterID != requesterID {
		s.logger.Warn("cross-requester status probe rejected",
			zap.String("request_id", id),
			zap.String("probe_requester", requesterID))
		return nil, domain.ErrForbidden
	}

	return req.View(), nil
}

// Decide фиксирует решение reviewer'а. Переход one-shot: повторный вызов
// по той же заявке получает ErrAlreadyDecided, а не тихий успех.
func (s *Service) Decide(ctx context.Context, id string, reviewer *domain.Reviewer, verdict domain.Verdict, notes string) (*domain.ApprovalRequest, error) {
	status, err := verdict.Status()
	if err != nil {
		return nil, err
	}

	req, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		s.logger.Error("decision lookup failed", zap.String("request_id", id), zap.Error(err))
		return nil, domain.ErrStorage
	}

	if !reviewer.CanDecide(req.OwnerID) {
		s.logger.Warn("reviewer outside owner scope",
			zap.String("request_id", id),
			zap.String("reviewer_id", reviewer.ID),
			zap.String("owner_id", req.OwnerID))
		// Попытка чужого решения — событие безопасности, фиксируем в журнале
		s.trail.Log(audit.Event{
			ID:          uuid.New().String(),
			TraceID:     audit.TraceIDFrom(ctx),
			RequestID:   req.ID,
			Kind:        req.Kind,
			RequesterID: req.RequesterID,
			ReviewerID:  reviewer.ID,
			Action:      audit.ActionForbidden,
			Timestamp:   time.Now().UTC(),
		})
		return nil, domain.ErrForbidden
	}

	if err := req.CanTransitionTo(status); err != nil {
		return nil, err
	}

	decidedAt := time.Now().UTC()
	updated, err := s.store.Decide(ctx, id, status, reviewer.ID, notes, decidedAt)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyDecided) {
			// Гонку двух решений выигрывает ровно одно — это отказ, не успех
			return nil, domain.ErrAlreadyDecided
		}
		s.logger.Error("failed to persist decision",
			zap.String("request_id", id),
			zap.String("reviewer_id", reviewer.ID),
			zap.Error(err))
		// Решения не ретраим автоматически: идемпотентного токена нет
		return nil, domain.ErrStorage
	}

	// Сигнал "пробуждения" для long-poll на gate. Если Redis недоступен,
	// requester доберет статус обычным опросом по таймауту (Fail-Safe),
	// поэтому решение не откатываем.
	if err := s.signaler.PublishDecision(ctx, updated.ID, updated.Status); err != nil {
		s.logger.Error("decision saved but signal not delivered",
			zap.String("request_id", updated.ID),
			zap.Error(err))
	}

	s.trail.Log(audit.Event{
		ID:          uuid.New().String(),
		TraceID:     audit.TraceIDFrom(ctx),
		RequestID:   updated.ID,
		Kind:        updated.Kind,
		RequesterID: updated.RequesterID,
		ReviewerID:  reviewer.ID,
		Action:      audit.ActionFor(status),
		Notes:       notes,
		DurationMs:  decidedAt.Sub(updated.CreatedAt).Milliseconds(),
		Timestamp:   decidedAt,
	})

	s.logger.Info("decision processed",
		zap.String("request_id", updated.ID),
		zap.String("reviewer_id", reviewer.ID),
		zap.String("result", string(updated.Status)))
	return updated, nil
}

// Get отдает детали заявки reviewer'у с той же проверкой принадлежности,
// что и Decide
func (s *Service) Get(ctx context.Context, id string, reviewer *domain.Reviewer) (*domain.ApprovalRequest, error) {
	req, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrStorage
	}
	if !reviewer.CanDecide(req.OwnerID) {
		return nil, domain.ErrForbidden
	}
	return req, nil
}

// Queue возвращает очередь заявок reviewer'а (Decision Queue).
// Scope всегда ограничен его owner'ом, super видит все очереди.
func (s *Service) Queue(ctx context.Context, reviewer *domain.Reviewer, status domain.ApprovalStatus, kind string) ([]*domain.ApprovalRequest, error) {
	f := Filter{
		Status:  status,
		Kind:    kind,
		OwnerID: reviewer.OwnerID,
		Limit:   100,
	}
	if reviewer.Capabilities[domain.CapabilitySuper] {
		f.OwnerID = ""
	}

	list, err := s.store.Find(ctx, f)
	if err != nil {
		s.logger.Error("queue listing failed", zap.Error(err))
		return nil, domain.ErrStorage
	}

	// Гарантируем, что фронтенд получит пустой массив [], а не null
	if list == nil {
		return []*domain.ApprovalRequest{}, nil
	}
	return list, nil
}
