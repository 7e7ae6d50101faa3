package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/odyssey-vat/testing"

	"github.com/odyssey-erp/odyssey-vat/internal/observability"
	"github.com/odyssey-erp/odyssey-vat/internal/vat"
	vathttp "github.com/odyssey-erp/odyssey-vat/internal/vat/http"
	"github.com/odyssey-erp/odyssey-vat/jobs"
)

type emptyService struct{}

func (emptyService) Preview(ctx context.Context, req vat.Request) (vat.Preview, error) {
	return vat.Preview{}, vat.ErrSubjectNotFound
}

func (emptyService) Schemas() []string { return vat.SchemaNames() }

func newTestRouter() http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics()
	return NewRouter(RouterParams{
		Logger:     logger,
		Config:     &Config{AppEnv: "test"},
		VATHandler: vathttp.NewHandler(logger, emptyService{}, nil, metrics),
		JobHandler: jobs.NewHandler(nil, logger),
		Metrics:    metrics,
	})
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestRouterHealthAndSecurityHeaders(t *testing.T) {
	router := newTestRouter()
	rr := serve(router, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
}

func TestRouterMountsVATAndJobs(t *testing.T) {
	router := newTestRouter()

	rr := serve(router, http.MethodGet, "/vat/schemas")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(router, http.MethodGet, "/vat/declarations?company_id=5&period=2024-01")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(router, http.MethodGet, "/jobs/health")
	require.Equal(t, http.StatusOK, rr.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	require.Equal(t, jobs.QueueDefault, health["queue"])

	rr = serve(router, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), `odyssey_http_requests_total{code="404",route="/vat/declarations"} 1`))
}

func TestRouterUnknownPathIsProblem(t *testing.T) {
	rr := serve(newTestRouter(), http.MethodGet, "/nope")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}
