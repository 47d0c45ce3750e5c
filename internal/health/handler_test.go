package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, r *Registry, path string) (int, Response) {
	t.Helper()
	router := chi.NewRouter()
	NewHandler(r).Routes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestHandler(t *testing.T) {
	r := NewRegistry("1.0.0")
	r.Register(&mockChecker{name: "mongo", severity: SeverityCritical, result: CheckResult{Status: StatusUnhealthy, Message: "db down"}})
	r.Register(&mockChecker{name: "change_feed", severity: SeverityWarning, result: CheckResult{Status: StatusHealthy}})

	code, resp := serve(t, r, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Len(t, resp.Checks, 2)
	assert.Equal(t, "1.0.0", resp.Version)

	code, resp = serve(t, r, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Len(t, resp.Checks, 1)

	code, resp = serve(t, r, "/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, resp.Status)
}

func TestHandler_DegradedIsServed(t *testing.T) {
	r := NewRegistry("1.0.0")
	r.Register(&mockChecker{name: "change_feed", severity: SeverityWarning, result: CheckResult{Status: StatusDegraded}})

	code, resp := serve(t, r, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusDegraded, resp.Status)
}
