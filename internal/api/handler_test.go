package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querygate/internal/api"
	"querygate/internal/config"
	"querygate/internal/domain"
	"querygate/internal/engine"
	"querygate/internal/instances"
	"querygate/internal/middleware"
	"querygate/internal/registry"
	"querygate/internal/resourcepool"
	"querygate/internal/resultguard"
	"querygate/internal/service/execution"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := config.EngineConfig{
		StatementTimeout:   time.Second,
		MaxRows:            100,
		MaxQueryLength:     1000,
		DangerousChecks:    true,
		PoolMaxConns:       2,
		PoolConnectTimeout: 200 * time.Millisecond,
		PoolIdleTimeout:    time.Minute,
	}
	resolver := instances.NewStaticResolver(&domain.TargetInstance{
		ID:       "pg-main",
		Protocol: domain.ProtocolRelational,
		Host:     "127.0.0.1",
		Port:     5432,
	})
	reg := registry.New(cfg, nil)
	t.Cleanup(func() { reg.DisconnectAll(context.Background()) })

	facade := engine.New(cfg, reg, resolver, nil)
	pool := resourcepool.NewManager(config.ScriptPoolConfig{
		MemoryBudgetMB:  1024,
		MemoryDefaultMB: 256,
		MaxConcurrent:   2,
		QueueTimeout:    time.Second,
	}, nil)
	guard := resultguard.New(config.ResultConfig{MaxBytes: 1 << 20, DisplayMaxBytes: 1 << 16}, cfg.MaxRows)
	scripts := execution.NewService(facade, pool, guard, execution.InlineWorker{}, nil, time.Second, nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	api.NewHandler(facade, pool, scripts, nil).Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)

	resp, body := getJSON(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestValidateEndpointReturnsWarnings(t *testing.T) {
	srv := testServer(t)

	resp, body := postJSON(t, srv.URL+"/api/v1/query/validate",
		`{"protocol": "relational", "query": "DELETE FROM orders"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["valid"])
	warnings, ok := body["warnings"].([]any)
	require.True(t, ok)
	require.Len(t, warnings, 1)
	w := warnings[0].(map[string]any)
	assert.Equal(t, "DELETE without WHERE clause", w["description"])
}

func TestValidateEndpointCleanQuery(t *testing.T) {
	srv := testServer(t)

	resp, body := postJSON(t, srv.URL+"/api/v1/query/validate",
		`{"protocol": "relational", "query": "SELECT 1"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	warnings, ok := body["warnings"].([]any)
	require.True(t, ok, "warnings must serialize as an array, not null")
	assert.Empty(t, warnings)
}

func TestValidateEndpointUnknownProtocol(t *testing.T) {
	srv := testServer(t)

	resp, body := postJSON(t, srv.URL+"/api/v1/query/validate",
		`{"protocol": "graph", "query": "SELECT 1"}`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", body["kind"])
	assert.NotEmpty(t, body["request_id"])
}

func TestQueryEndpointUnknownInstance(t *testing.T) {
	srv := testServer(t)

	resp, body := postJSON(t, srv.URL+"/api/v1/query",
		`{"protocol": "relational", "instance_id": "missing", "database": "app", "query": "SELECT 1"}`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", body["kind"])
	assert.Contains(t, body["message"], "missing")
}

func TestQueryEndpointMalformedBody(t *testing.T) {
	srv := testServer(t)

	resp, body := postJSON(t, srv.URL+"/api/v1/query", `{"protocol": `)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", body["kind"])
}

func TestScriptEndpointValidationFailure(t *testing.T) {
	srv := testServer(t)

	resp, body := postJSON(t, srv.URL+"/api/v1/scripts",
		`{"protocol": "relational", "instance_id": "pg-main", "database": "app", "script": ""}`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", body["kind"])
}

func TestResourcePoolEndpoint(t *testing.T) {
	srv := testServer(t)

	resp, body := getJSON(t, srv.URL+"/api/v1/pool")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["active"])
	assert.Equal(t, float64(1024), body["memory_budget_mb"])
}

func TestStatsEndpointEmptyRegistry(t *testing.T) {
	srv := testServer(t)

	resp, body := getJSON(t, srv.URL+"/api/v1/stats")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "relational")
	assert.Contains(t, body, "document")
}

func TestTestConnectionEndpointUnknownInstance(t *testing.T) {
	srv := testServer(t)

	resp, body := getJSON(t, srv.URL+"/api/v1/instances/missing/test")

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", body["kind"])
}

func TestRequestIDEchoedInErrorBody(t *testing.T) {
	srv := testServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/query/validate",
		strings.NewReader(`{"protocol": "graph", "query": "x"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "corr-42")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "corr-42", body["request_id"])
}
