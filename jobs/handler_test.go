package jobs

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/sitewise-erp/sitewise/internal/shared"
	_ "github.com/sitewise-erp/sitewise/testing"
)

type fakeEnqueuer struct {
	calls int
}

func (f *fakeEnqueuer) EnqueueLowStockScan(ctx context.Context, payload LowStockScanPayload) (*asynq.TaskInfo, error) {
	f.calls++
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault}, nil
}

func newJobsRouter(enqueuer LowStockEnqueuer) chi.Router {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(nil, enqueuer, logger)
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)
	return r
}

func asIdentity(req *http.Request, role shared.Role) *http.Request {
	ctx := shared.ContextWithIdentity(req.Context(), shared.Identity{UserID: 1, Role: role})
	return req.WithContext(ctx)
}

func TestEnqueueLowStockScanAsAdmin(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	router := newJobsRouter(enqueuer)

	req := asIdentity(httptest.NewRequest(http.MethodPost, "/jobs/lowstock-scan", nil), shared.RoleAdmin)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, enqueuer.calls)
	require.Contains(t, rec.Body.String(), "task-1")
}

func TestEnqueueLowStockScanForbiddenForUser(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	router := newJobsRouter(enqueuer)

	req := asIdentity(httptest.NewRequest(http.MethodPost, "/jobs/lowstock-scan", nil), shared.RoleUser)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Zero(t, enqueuer.calls)
}

func TestEnqueueLowStockScanRequiresIdentity(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	router := newJobsRouter(enqueuer)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/lowstock-scan", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, enqueuer.calls)
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	router := newJobsRouter(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"pending":0`)
}
