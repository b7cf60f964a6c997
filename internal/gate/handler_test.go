package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/signoff/internal/domain"
	"github.com/xela07ax/signoff/internal/infra"
	"github.com/xela07ax/signoff/internal/workflow"
	"go.uber.org/zap"
)

type fakeService struct {
	submitFn func(in workflow.SubmitInput) (*domain.ApprovalRequest, error)
	statusFn func(id, requesterID string) (*domain.StatusView, error)

	statusCalls int
}

func (f *fakeService) Submit(_ context.Context, in workflow.SubmitInput) (*domain.ApprovalRequest, error) {
	return f.submitFn(in)
}

func (f *fakeService) Status(_ context.Context, id, requesterID string) (*domain.StatusView, error) {
	f.statusCalls++
	return f.statusFn(id, requesterID)
}

type fakeWaiter struct {
	woken bool
	calls int
}

func (f *fakeWaiter) Wait(_ context.Context, _ string, _ time.Duration) bool {
	f.calls++
	return f.woken
}

func testConfig() infra.WorkflowConfig {
	return infra.WorkflowConfig{
		Kinds:   map[string]string{"authorization": "ownerA"},
		MaxWait: 30 * time.Second,
	}
}

func newTestServer(svc *fakeService, hub *fakeWaiter) *httptest.Server {
	h := NewHandler(svc, hub, testConfig(), NewMetrics(nil), zap.NewNop())
	return httptest.NewServer(NewRouter(h))
}

func pendingView(id string) *domain.StatusView {
	return &domain.StatusView{ID: id, Kind: "authorization", Status: domain.StatusPending}
}

func TestSubmitAccepted(t *testing.T) {
	svc := &fakeService{
		submitFn: func(in workflow.SubmitInput) (*domain.ApprovalRequest, error) {
			require.Equal(t, "authorization", in.Kind)
			require.Equal(t, "u1", in.RequesterID)
			require.Equal(t, "ownerA", in.OwnerID)
			return &domain.ApprovalRequest{
				ID:          "req-1",
				Kind:        in.Kind,
				RequesterID: in.RequesterID,
				OwnerID:     in.OwnerID,
				Status:      domain.StatusPending,
				CreatedAt:   time.Now().UTC(),
			}, nil
		},
	}
	srv := newTestServer(svc, &fakeWaiter{})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/requests",
		strings.NewReader(`{"kind":"authorization","payload":{"account":"42"}}`))
	req.Header.Set("X-Requester-ID", "u1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))

	var view domain.StatusView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "req-1", view.ID)
	assert.Equal(t, domain.StatusPending, view.Status)
	assert.False(t, view.CanProceed)
}

func TestSubmitRequiresIdentity(t *testing.T) {
	srv := newTestServer(&fakeService{}, &fakeWaiter{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/requests", "application/json",
		strings.NewReader(`{"kind":"authorization"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitRejectsUnknownKind(t *testing.T) {
	srv := newTestServer(&fakeService{}, &fakeWaiter{})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/requests",
		strings.NewReader(`{"kind":"no-such-kind"}`))
	req.Header.Set("X-Requester-ID", "u1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitStorageFailureHidesDetails(t *testing.T) {
	svc := &fakeService{
		submitFn: func(workflow.SubmitInput) (*domain.ApprovalRequest, error) {
			return nil, domain.ErrStorage
		},
	}
	srv := newTestServer(svc, &fakeWaiter{})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/requests",
		strings.NewReader(`{"kind":"authorization"}`))
	req.Header.Set("X-Requester-ID", "u1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStatusErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"foreign request", domain.ErrForbidden, http.StatusForbidden},
		{"storage down", domain.ErrStorage, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{
				statusFn: func(string, string) (*domain.StatusView, error) { return nil, tc.err },
			}
			srv := newTestServer(svc, &fakeWaiter{})
			defer srv.Close()

			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/requests/req-1", nil)
			req.Header.Set("X-Requester-ID", "u1")

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, tc.code, resp.StatusCode)
		})
	}
}

func TestStatusLongPollRereadsAfterSignal(t *testing.T) {
	decided := "req-1"
	calls := 0
	svc := &fakeService{
		statusFn: func(id, requesterID string) (*domain.StatusView, error) {
			calls++
			if calls == 1 {
				return pendingView(id), nil
			}
			// После пробуждения заявка уже решена
			v := pendingView(id)
			v.Status = domain.StatusApproved
			v.CanProceed = true
			return v, nil
		},
	}
	hub := &fakeWaiter{woken: true}
	srv := newTestServer(svc, hub)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/requests/"+decided+"?wait=5s", nil)
	req.Header.Set("X-Requester-ID", "u1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, hub.calls)
	assert.Equal(t, 2, svc.statusCalls, "handler must re-read after the wake-up")

	var view domain.StatusView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, domain.StatusApproved, view.Status)
	assert.True(t, view.CanProceed)
}

func TestStatusWithoutWaitSkipsHub(t *testing.T) {
	svc := &fakeService{
		statusFn: func(id, _ string) (*domain.StatusView, error) { return pendingView(id), nil },
	}
	hub := &fakeWaiter{}
	srv := newTestServer(svc, hub)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/requests/req-1", nil)
	req.Header.Set("X-Requester-ID", "u1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, hub.calls)
	assert.Equal(t, 1, svc.statusCalls)
}

func TestParseWaitCapsAtConfiguredMax(t *testing.T) {
	h := NewHandler(&fakeService{}, &fakeWaiter{}, testConfig(), NewMetrics(nil), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/requests/req-1?wait=10m", nil)
	assert.Equal(t, 30*time.Second, h.parseWait(req))

	req = httptest.NewRequest(http.MethodGet, "/v1/requests/req-1?wait=garbage", nil)
	assert.Equal(t, time.Duration(0), h.parseWait(req))
}
