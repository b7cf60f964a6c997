package gate

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/signoff/internal/domain"
	"github.com/xela07ax/signoff/internal/signal"
	"go.uber.org/zap"
)

// DecisionHub будит long-poll ожидания по сигналам решений из Redis.
// БД остается источником правды: после пробуждения handler перечитывает
// заявку, сигнал — только повод проверить раньше таймаута.
type DecisionHub struct {
	mu      sync.Mutex
	waiters map[string][]chan struct{}
	rdb     *redis.Client
	logger  *zap.Logger
}

func NewDecisionHub(rdb *redis.Client, logger *zap.Logger) *DecisionHub {
	return &DecisionHub{
		waiters: make(map[string][]chan struct{}),
		rdb:     rdb,
		logger:  logger.Named("decision-hub"),
	}
}

// Run держит живучую подписку на канал решений до отмены контекста
func (h *DecisionHub) Run(ctx context.Context) {
	signal.ListenDecisionsResilient(ctx, h.rdb, h.logger,
		// За время обрыва подписки решения могли пройти мимо —
		// будим всех, пусть перечитают БД
		h.wakeAll,
		func(requestID string, status domain.ApprovalStatus) {
			h.notify(requestID)
		},
	)
}

// Wait блокируется до сигнала по заявке, таймаута или отмены контекста.
// Возвращает true, если пробуждение пришло от сигнала.
func (h *DecisionHub) Wait(ctx context.Context, requestID string, timeout time.Duration) bool {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	h.waiters[requestID] = append(h.waiters[requestID], ch)
	h.mu.Unlock()

	defer h.drop(requestID, ch)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (h *DecisionHub) notify(requestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.waiters[requestID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	delete(h.waiters, requestID)
}

func (h *DecisionHub) wakeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for id, chans := range h.waiters {
		for _, ch := range chans {
			select {
			case ch <- struct{}{}:
			default:
			}
			n++
		}
		delete(h.waiters, id)
	}
	if n > 0 {
		h.logger.Info("woke all long-poll waiters after resubscribe", zap.Int("count", n))
	}
}

func (h *DecisionHub) drop(requestID string, ch chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	chans := h.waiters[requestID]
	for i, c := range chans {
		if c == ch {
			h.waiters[requestID] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(h.waiters[requestID]) == 0 {
		delete(h.waiters, requestID)
	}
}
