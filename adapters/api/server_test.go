package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gocausal/adapters/memory"
	"gocausal/adapters/rng"
	"gocausal/app"
	"gocausal/domain/effect"
	"gocausal/internal/metrics"
	"gocausal/internal/testkit"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg := effect.DefaultConfig()
	cfg.NumTrees = 8
	cfg.NumWorkers = 2
	cfg.MaxDepth = 4

	svc := app.NewEffectService(memory.NewForestRepository(), rng.NewSeededAdapter(), metrics.NewForestMetrics(reg), cfg)
	srv := httptest.NewServer(NewServer(svc, reg).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func fitBody(t *testing.T) []byte {
	t.Helper()
	gc := testkit.DefaultCausalGeneratorConfig()
	gc.Rows = 300
	gc.Scenario = testkit.ScenarioPure
	data, err := testkit.NewCausalDataGenerator(gc).Generate()
	require.NoError(t, err)
	body, err := json.Marshal(app.FitRequest{Name: "http", X: data.X, T: data.T, Y: data.Y})
	require.NoError(t, err)
	return body
}

func postJSON(t *testing.T, url string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestFitGetPredict(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/forests", fitBody(t))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var summary app.ModelSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, "http", summary.Model.Name)
	assert.Equal(t, 2, summary.Model.NumFeatures)

	id := summary.Model.ID.String()
	getResp, err := http.Get(srv.URL + "/api/forests/" + id)
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)

	predResp := postJSON(t, srv.URL+"/api/forests/"+id+"/predict", []byte(`{"x": [[0.1, 0.2], [0.9, 0.3]], "variance": true}`))
	require.Equal(t, http.StatusOK, predResp.StatusCode)
	var result app.PredictResult
	require.NoError(t, json.NewDecoder(predResp.Body).Decode(&result))
	require.Len(t, result.Estimates, 2)
	for _, est := range result.Estimates {
		assert.InDelta(t, 1.0, est.Tau, 1e-9)
		assert.GreaterOrEqual(t, est.Variance, 0.0)
	}

	listResp, err := http.Get(srv.URL + "/api/forests?limit=5")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var records []effect.ModelRecord
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&records))
	assert.Len(t, records, 1)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/forests/"+id, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)
}

func TestFitPartialConfig(t *testing.T) {
	srv := newTestServer(t)

	var req app.FitRequest
	require.NoError(t, json.Unmarshal(fitBody(t), &req))
	req.Config = json.RawMessage(`{"num_trees": 5}`)
	body, err := json.Marshal(req)
	require.NoError(t, err)

	resp := postJSON(t, srv.URL+"/api/forests", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var summary app.ModelSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, 5, summary.Config.NumTrees)
	assert.Equal(t, 4, summary.Config.MaxDepth)
	assert.Equal(t, 2, summary.Config.NumWorkers)
	assert.Equal(t, effect.DefaultConfig().MinLeaf, summary.Config.MinLeaf)
	assert.Equal(t, effect.DefaultConfig().SplitRatio, summary.Config.SplitRatio)
}

func TestErrorStatuses(t *testing.T) {
	srv := newTestServer(t)
	missing := "0192b3c4-5d6e-7f80-9a1b-2c3d4e5f6a7b"

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"malformed body", http.MethodPost, "/api/forests", `{"x": [`, http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown field", http.MethodPost, "/api/forests", `{"rows": 3}`, http.StatusBadRequest, "INVALID_INPUT"},
		{"non binary treatment", http.MethodPost, "/api/forests", `{"x": [[1],[2]], "t": [0, 3], "y": [1, 2]}`, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad id", http.MethodGet, "/api/forests/not-a-uuid", "", http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown forest", http.MethodGet, "/api/forests/" + missing, "", http.StatusNotFound, "NOT_FOUND"},
		{"predict unknown forest", http.MethodPost, "/api/forests/" + missing + "/predict", `{"x": [[1, 2]]}`, http.StatusNotFound, "NOT_FOUND"},
		{"empty query", http.MethodPost, "/api/forests/" + missing + "/predict", `{"x": []}`, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad limit", http.MethodGet, "/api/forests?limit=-1", "", http.StatusBadRequest, "INVALID_INPUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			var body map[string]errorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.code, body["error"].Code)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	fit := postJSON(t, srv.URL+"/api/forests", fitBody(t))
	require.Equal(t, http.StatusCreated, fit.StatusCode)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "causalforest_trees_grown_total")
	assert.Contains(t, buf.String(), "causalforest_build_duration_seconds")
}
