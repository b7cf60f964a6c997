package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/signoff/internal/domain"
)

// flakyStore считает вызовы и падает заданное число раз
type flakyStore struct {
	insertCalls int32
	getCalls    int32
	decideCalls int32
	findCalls   int32

	failFirst int32 // сколько первых вызовов каждого метода роняем
	failWith  error
}

func (f *flakyStore) shouldFail(counter *int32) bool {
	n := atomic.AddInt32(counter, 1)
	return n <= atomic.LoadInt32(&f.failFirst)
}

func (f *flakyStore) InsertPending(_ context.Context, req *domain.ApprovalRequest) (*domain.ApprovalRequest, error) {
	if f.shouldFail(&f.insertCalls) {
		return nil, f.failWith
	}
	cp := *req
	return &cp, nil
}

func (f *flakyStore) GetByID(_ context.Context, id string) (*domain.ApprovalRequest, error) {
	if f.shouldFail(&f.getCalls) {
		return nil, f.failWith
	}
	return &domain.ApprovalRequest{ID: id, Status: domain.StatusPending}, nil
}

func (f *flakyStore) Decide(_ context.Context, id string, status domain.ApprovalStatus, reviewerID, notes string, decidedAt time.Time) (*domain.ApprovalRequest, error) {
	if f.shouldFail(&f.decideCalls) {
		return nil, f.failWith
	}
	return &domain.ApprovalRequest{ID: id, Status: status, ReviewerID: &reviewerID, Notes: &notes, DecidedAt: &decidedAt}, nil
}

func (f *flakyStore) Find(_ context.Context, _ Filter) ([]*domain.ApprovalRequest, error) {
	if f.shouldFail(&f.findCalls) {
		return nil, f.failWith
	}
	return []*domain.ApprovalRequest{}, nil
}

func pendingReq() *domain.ApprovalRequest {
	return &domain.ApprovalRequest{
		ID:          "req-1",
		Kind:        "authorization",
		RequesterID: "u1",
		OwnerID:     "ownerA",
		Status:      domain.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestGuardRetriesTransientReadFailures(t *testing.T) {
	store := &flakyStore{failFirst: 2, failWith: errors.New("connection reset")}
	guard := NewStoreGuard(store, GuardConfig{ReadRetries: 3}, nil)

	got, err := guard.GetByID(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", got.ID)
	assert.EqualValues(t, 3, atomic.LoadInt32(&store.getCalls))
}

func TestGuardDoesNotRetryDomainErrors(t *testing.T) {
	store := &flakyStore{failFirst: 100, failWith: domain.ErrNotFound}
	guard := NewStoreGuard(store, GuardConfig{ReadRetries: 3}, nil)

	_, err := guard.GetByID(context.Background(), "no-such")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.EqualValues(t, 1, atomic.LoadInt32(&store.getCalls), "domain errors must not be retried")
}

func TestGuardNeverRetriesDecide(t *testing.T) {
	store := &flakyStore{failFirst: 1, failWith: errors.New("connection reset")}
	guard := NewStoreGuard(store, GuardConfig{ReadRetries: 3}, nil)

	_, err := guard.Decide(context.Background(), "req-1", domain.StatusApproved, "rev-1", "", time.Now().UTC())
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&store.decideCalls), "decide is a one-pass operation")
}

func TestGuardRetriesInsert(t *testing.T) {
	// Вставка идемпотентна благодаря дедуп-индексу, её повторять можно
	store := &flakyStore{failFirst: 1, failWith: errors.New("connection reset")}
	guard := NewStoreGuard(store, GuardConfig{ReadRetries: 3, SubmitRate: 1000, SubmitBurst: 100}, nil)

	got, err := guard.InsertPending(context.Background(), pendingReq())
	require.NoError(t, err)
	assert.Equal(t, "req-1", got.ID)
	assert.EqualValues(t, 2, atomic.LoadInt32(&store.insertCalls))
}

func TestGuardRateLimitsSubmissions(t *testing.T) {
	store := &flakyStore{}
	guard := NewStoreGuard(store, GuardConfig{SubmitRate: 1, SubmitBurst: 2}, nil)

	ctx := context.Background()
	_, err := guard.InsertPending(ctx, pendingReq())
	require.NoError(t, err)
	_, err = guard.InsertPending(ctx, pendingReq())
	require.NoError(t, err)

	// Burst исчерпан
	_, err = guard.InsertPending(ctx, pendingReq())
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.EqualValues(t, 2, atomic.LoadInt32(&store.insertCalls), "rejected submission must not reach the store")
}

func TestGuardBreakerIgnoresDomainErrors(t *testing.T) {
	store := &flakyStore{failFirst: 100, failWith: domain.ErrAlreadyDecided}
	guard := NewStoreGuard(store, GuardConfig{ReadRetries: 1}, nil)

	// 20 доменных ошибок подряд не должны открыть предохранитель
	for i := 0; i < 20; i++ {
		_, err := guard.Decide(context.Background(), "req-1", domain.StatusApproved, "rev-1", "", time.Now().UTC())
		assert.ErrorIs(t, err, domain.ErrAlreadyDecided)
	}
}

func TestGuardBreakerOpensOnStorageFailures(t *testing.T) {
	var opened atomic.Bool
	store := &flakyStore{failFirst: 1000, failWith: errors.New("connection refused")}
	guard := NewStoreGuard(store, GuardConfig{ReadRetries: 1, CBTimeout: time.Minute},
		func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				opened.Store(true)
			}
		})

	for i := 0; i < 10; i++ {
		_, _ = guard.GetByID(context.Background(), "req-1")
	}

	assert.True(t, opened.Load(), "breaker must open after consecutive storage failures")
	// После открытия вызовы не доходят до хранилища
	calls := atomic.LoadInt32(&store.getCalls)
	_, err := guard.GetByID(context.Background(), "req-1")
	require.Error(t, err)
	assert.EqualValues(t, calls, atomic.LoadInt32(&store.getCalls))
}
