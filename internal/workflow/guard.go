package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/signoff/internal/domain"
	"golang.org/x/time/rate"
)

// GuardConfig — настройки защитной обвязки хранилища
type GuardConfig struct {
	SubmitRate  float64 // Заявок в секунду на инстанс gate
	SubmitBurst int
	CBInterval  time.Duration
	CBTimeout   time.Duration // Время, через которое CB попробует "закрыться"
	ReadRetries uint
}

// StoreGuard оборачивает хранилище защитными механизмами:
// rate limiter на подаче заявок, circuit breaker на всех обращениях к БД,
// ретраи только на чтениях. Decide не ретраится никогда — идемпотентного
// токена у решения нет, повтор после неопределившегося исхода опасен.
type StoreGuard struct {
	next    Store
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	retries uint
}

func NewStoreGuard(next Store, cfg GuardConfig, onStateChange func(name string, from, to gobreaker.State)) *StoreGuard {
	if cfg.SubmitRate <= 0 {
		cfg.SubmitRate = 50
	}
	if cfg.SubmitBurst <= 0 {
		cfg.SubmitBurst = 20
	}
	if cfg.ReadRetries == 0 {
		cfg.ReadRetries = 3
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "signoff-store",
		MaxRequests: 3,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Более 5 ошибок подряд — открываемся, дальше fail-fast
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: onStateChange,
		IsSuccessful: func(err error) bool {
			// Ошибки доменной таксономии — не сбои хранилища,
			// предохранитель на них не реагирует
			return err == nil ||
				errors.Is(err, domain.ErrNotFound) ||
				errors.Is(err, domain.ErrAlreadyDecided)
		},
	})

	return &StoreGuard{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.SubmitRate), cfg.SubmitBurst),
		retries: cfg.ReadRetries,
	}
}

func (g *StoreGuard) InsertPending(ctx context.Context, req *domain.ApprovalRequest) (*domain.ApprovalRequest, error) {
	// Подача — единственный путь, доступный анониму, поэтому лимитируем
	// именно его. Без Wait: лучше быстрый отказ, чем очередь из подвисших POST.
	if !g.limiter.Allow() {
		return nil, fmt.Errorf("submission rate limit exceeded: %w", domain.ErrStorage)
	}

	res, err := g.cb.Execute(func() (interface{}, error) {
		// Повтор вставки безопасен: дедуп-индекс делает её идемпотентной
		return g.retryable(ctx, func(ctx context.Context) (interface{}, error) {
			return g.next.InsertPending(ctx, req)
		})
	})
	if err != nil {
		return nil, err
	}
	return res.(*domain.ApprovalRequest), nil
}

func (g *StoreGuard) GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.retryable(ctx, func(ctx context.Context) (interface{}, error) {
			return g.next.GetByID(ctx, id)
		})
	})
	if err != nil {
		return nil, err
	}
	return res.(*domain.ApprovalRequest), nil
}

func (g *StoreGuard) Decide(ctx context.Context, id string, status domain.ApprovalStatus, reviewerID, notes string, decidedAt time.Time) (*domain.ApprovalRequest, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		// Один проход, без ретраев
		return g.next.Decide(ctx, id, status, reviewerID, notes, decidedAt)
	})
	if err != nil {
		return nil, err
	}
	return res.(*domain.ApprovalRequest), nil
}

func (g *StoreGuard) Find(ctx context.Context, f Filter) ([]*domain.ApprovalRequest, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.retryable(ctx, func(ctx context.Context) (interface{}, error) {
			return g.next.Find(ctx, f)
		})
	})
	if err != nil {
		return nil, err
	}
	return res.([]*domain.ApprovalRequest), nil
}

// retryable выполняет операцию с экспоненциальным бэкоффом,
// не трогая доменные ошибки (их повторять бессмысленно)
func (g *StoreGuard) retryable(ctx context.Context, op func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	var out interface{}

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(g.retries),
		// Наружу уходит последняя ошибка, а не агрегат: предохранителю
		// и вызывающему коду нужен работающий errors.Is
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, domain.ErrNotFound) &&
				!errors.Is(err, domain.ErrAlreadyDecided) &&
				!errors.Is(err, domain.ErrForbidden)
		}),
	)

	err := r.Do(func() error {
		tCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		var opErr error
		out, opErr = op(tCtx)
		return opErr
	})

	return out, err
}
