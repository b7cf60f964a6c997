package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/signoff/internal/audit"
	"github.com/xela07ax/signoff/internal/domain"
	"go.uber.org/zap"
)

// memStore — in-memory реализация Store с той же семантикой дедупликации
// и условного обновления, что и у Postgres-репозитория
type memStore struct {
	mu   sync.Mutex
	byID map[string]*domain.ApprovalRequest
}

func newMemStore() *memStore {
	return &memStore{byID: make(map[string]*domain.ApprovalRequest)}
}

func (m *memStore) InsertPending(_ context.Context, req *domain.ApprovalRequest) (*domain.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.byID {
		if existing.RequesterID == req.RequesterID && existing.Kind == req.Kind && existing.IsPending() {
			cp := *existing
			return &cp, nil
		}
	}

	cp := *req
	m.byID[req.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*domain.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (m *memStore) Decide(_ context.Context, id string, status domain.ApprovalStatus, reviewerID, notes string, decidedAt time.Time) (*domain.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.byID[id]
	if !ok || !req.IsPending() {
		return nil, domain.ErrAlreadyDecided
	}

	req.Status = status
	req.ReviewerID = &reviewerID
	req.Notes = &notes
	req.DecidedAt = &decidedAt

	cp := *req
	return &cp, nil
}

func (m *memStore) Find(_ context.Context, f Filter) ([]*domain.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.ApprovalRequest
	for _, req := range m.byID {
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		if f.Kind != "" && req.Kind != f.Kind {
			continue
		}
		if f.OwnerID != "" && req.OwnerID != f.OwnerID {
			continue
		}
		cp := *req
		out = append(out, &cp)
	}
	return out, nil
}

type memSignaler struct {
	mu     sync.Mutex
	sent   []string
	broken bool
}

func (s *memSignaler) PublishDecision(_ context.Context, requestID string, status domain.ApprovalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return errors.New("redis down")
	}
	s.sent = append(s.sent, requestID+":"+string(status))
	return nil
}

type memTrail struct {
	mu     sync.Mutex
	events []audit.Event
}

func (t *memTrail) Log(e audit.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
}

func newTestService() (*Service, *memStore, *memSignaler, *memTrail) {
	store := newMemStore()
	sig := &memSignaler{}
	trail := &memTrail{}
	return NewService(store, sig, trail, zap.NewNop()), store, sig, trail
}

func submitInput(requester string) SubmitInput {
	return SubmitInput{
		Kind:        "authorization",
		RequesterID: requester,
		OwnerID:     "ownerA",
		Payload:     []byte(`{"account":"42"}`),
	}
}

func reviewerFor(owner string) *domain.Reviewer {
	return &domain.Reviewer{ID: "rev-" + owner, OwnerID: owner}
}

func TestSubmitIdempotentWhilePending(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Submit(ctx, submitInput("u1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, first.Status)

	second, err := svc.Submit(ctx, submitInput("u1"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "resubmission while pending must return the same request")
}

func TestSubmitAfterDecisionCreatesNewRequest(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Submit(ctx, submitInput("u1"))
	require.NoError(t, err)

	_, err = svc.Decide(ctx, first.ID, reviewerFor("ownerA"), domain.VerdictApprove, "")
	require.NoError(t, err)

	second, err := svc.Submit(ctx, submitInput("u1"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "terminal request must not block a new submission")
}

func TestSubmitValidation(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.Submit(context.Background(), SubmitInput{Kind: "authorization"})
	assert.Error(t, err)
}

func TestDecideHappyPath(t *testing.T) {
	svc, _, sig, trail := newTestService()
	ctx := context.Background()

	req, err := svc.Submit(ctx, submitInput("u1"))
	require.NoError(t, err)

	decided, err := svc.Decide(ctx, req.ID, reviewerFor("ownerA"), domain.VerdictApprove, "verified manually")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusApproved, decided.Status)
	require.NotNil(t, decided.DecidedAt)
	require.NotNil(t, decided.ReviewerID)
	assert.Equal(t, "rev-ownerA", *decided.ReviewerID)
	require.NotNil(t, decided.Notes)
	assert.Equal(t, "verified manually", *decided.Notes)

	// Requester видит решение через polling
	view, err := svc.Status(ctx, req.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, view.Status)
	assert.True(t, view.CanProceed)

	// Сигнал ушел, журнал пополнился
	assert.Equal(t, []string{req.ID + ":APPROVED"}, sig.sent)
	require.Len(t, trail.events, 2) // SUBMITTED + APPROVED
	assert.Equal(t, audit.ActionApproved, trail.events[1].Action)
}

func TestDecideIsOneShot(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	req, err := svc.Submit(ctx, submitInput("u1"))
	require.NoError(t, err)

	first, err := svc.Decide(ctx, req.ID, reviewerFor("ownerA"), domain.VerdictDeny, "suspicious")
	require.NoError(t, err)

	_, err = svc.Decide(ctx, req.ID, reviewerFor("ownerA"), domain.VerdictApprove, "changed my mind")
	assert.ErrorIs(t, err, domain.ErrAlreadyDecided)

	// Метаданные первого решения не тронуты
	current, err := svc.Get(ctx, req.ID, reviewerFor("ownerA"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDenied, current.Status)
	assert.Equal(t, *first.DecidedAt, *current.DecidedAt)
	assert.Equal(t, "suspicious", *current.Notes)
}

func TestDecideUnknownRequest(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.Decide(context.Background(), "no-such-id", reviewerFor("ownerA"), domain.VerdictApprove, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDecideForeignOwnerForbidden(t *testing.T) {
	svc, _, _, trail := newTestService()
	ctx := context.Background()

	req, err := svc.Submit(ctx, submitInput("u2"))
	require.NoError(t, err)

	_, err = svc.Decide(ctx, req.ID, reviewerFor("ownerB"), domain.VerdictApprove, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	// Заявка осталась висеть
	view, err := svc.Status(ctx, req.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, view.Status)

	// Попытка чужого решения попала в журнал
	require.Len(t, trail.events, 2) // SUBMITTED + FORBIDDEN
	assert.Equal(t, audit.ActionForbidden, trail.events[1].Action)
	assert.Equal(t, "rev-ownerB", trail.events[1].ReviewerID)
}

func TestDecideSuperCapabilityBypassesOwnership(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	req, err := svc.Submit(ctx, submitInput("u1"))
	require.NoError(t, err)

	super := &domain.Reviewer{
		ID:           "root",
		OwnerID:      "ownerZ",
		Capabilities: map[string]bool{domain.CapabilitySuper: true},
	}

	decided, err := svc.Decide(ctx, req.ID, super, domain.VerdictApprove, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, decided.Status)
}

func TestDecideSurvivesSignalFailure(t *testing.T) {
	svc, _, sig, _ := newTestService()
	ctx := context.Background()

	req, err := svc.Submit(ctx, submitInput("u1"))
	require.NoError(t, err)

	// Redis лег: решение все равно фиксируется, requester доберет
	// статус обычным опросом
	sig.broken = true
	decided, err := svc.Decide(ctx, req.ID, reviewerFor("ownerA"), domain.VerdictApprove, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, decided.Status)
}

func TestStatusHidesForeignRequests(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	req, err := svc.Submit(ctx, submitInput("u1"))
	require.NoError(t, err)

	_, err = svc.Status(ctx, req.ID, "u2")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.Status(ctx, "no-such-id", "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQueueScopedByOwner(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Submit(ctx, submitInput("u1"))
	require.NoError(t, err)

	foreign := submitInput("u2")
	foreign.OwnerID = "ownerB"
	_, err = svc.Submit(ctx, foreign)
	require.NoError(t, err)

	// Обычный reviewer видит только свою очередь
	list, err := svc.Queue(ctx, reviewerFor("ownerA"), domain.StatusPending, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ownerA", list[0].OwnerID)

	// Super видит все очереди
	super := &domain.Reviewer{ID: "root", Capabilities: map[string]bool{domain.CapabilitySuper: true}}
	all, err := svc.Queue(ctx, super, domain.StatusPending, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestQueueNeverReturnsNil(t *testing.T) {
	svc, _, _, _ := newTestService()

	list, err := svc.Queue(context.Background(), reviewerFor("ownerA"), domain.StatusPending, "")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}
