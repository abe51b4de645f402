package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/app"
	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/models"
)

func newTestServer(t *testing.T) (*app.App, *httptest.Server) {
	t.Helper()

	config := common.NewDefaultConfig()
	config.Storage.Type = "memory"
	config.Orchestrator.Enabled = false

	application, err := app.New(config, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { application.Close() })

	ctx := context.Background()
	require.NoError(t, application.Store.SavePortfolio(ctx, &models.Portfolio{ID: "p1", OwnerID: "u1", Name: "Main"}))
	require.NoError(t, application.Store.SaveHolding(ctx, &models.Holding{ID: "h1", PortfolioID: "p1", Symbol: "KRX:005930", Name: "Samsung Electronics"}))

	ts := httptest.NewServer(New(application).Handler())
	t.Cleanup(ts.Close)
	return application, ts
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRoutes(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{"GET", "/api/health", "", http.StatusOK},
		{"GET", "/api/version", "", http.StatusOK},
		{"GET", "/api/unknown", "", http.StatusNotFound},
		{"GET", "/api/portfolios/p1/market-summary", "", http.StatusOK},
		{"POST", "/api/portfolios/nope/strategy/refresh", "", http.StatusBadRequest},
		{"GET", "/api/portfolios/p1/other", "", http.StatusNotFound},
		{"GET", "/api/holdings/h1/strategy", "", http.StatusOK},
		{"GET", "/api/holdings/h1/news-summary?days=7", "", http.StatusOK},
		{"POST", "/api/holdings/h1/keywords", `{"keyword":"HBM","priority":3}`, http.StatusCreated},
		{"GET", "/api/holdings/h1/keywords", "", http.StatusOK},
		{"GET", "/api/holdings//strategy", "", http.StatusNotFound},
		{"GET", "/ws", "", http.StatusBadRequest},
		{"GET", "/ws/status", "", http.StatusOK},
		{"POST", "/ws/broadcast", `{"message":"maintenance at 18:00"}`, http.StatusOK},
		{"POST", "/ws/broadcast", `{}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := do(t, tt.method, ts.URL+tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	_, ts := newTestServer(t)

	resp := do(t, "OPTIONS", ts.URL+"/api/holdings/h1/keywords", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp = do(t, "GET", ts.URL+"/api/health", "")
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
}

func TestRouteByPathSuffix(t *testing.T) {
	var hit string
	routes := []PathSuffixRouter{
		{Suffix: "/strategy/refresh", Handler: func(w http.ResponseWriter, r *http.Request) { hit = "refresh" }},
		{Suffix: "/strategy", Handler: func(w http.ResponseWriter, r *http.Request) { hit = "strategy" }},
	}

	match := func(path string) bool {
		hit = ""
		return RouteByPathSuffix(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil), "/api/x/", routes)
	}

	assert.True(t, match("/api/x/p1/strategy/refresh"))
	assert.Equal(t, "refresh", hit)
	assert.True(t, match("/api/x/p1/strategy/"))
	assert.Equal(t, "strategy", hit)
	assert.False(t, match("/api/x/strategy"))
	assert.False(t, match("/api/x/a/b/strategy"))
	assert.False(t, match("/api/x/"))
}
