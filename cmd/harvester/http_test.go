package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	simplejson "github.com/bitly/go-simplejson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"token-harvester/internal/config"
	"token-harvester/internal/domain"
	"token-harvester/internal/features"
)

// wrappedSOL is a valid mint address.
const wrappedSOL = "So11111111111111111111111111111111111111112"

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.UseMemory = true
	cfg.Providers.DisableGMGN = true

	s, err := newServer(cfg, memoryStores(), zaptest.NewLogger(t))
	require.NoError(t, err)

	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func do(t *testing.T, method, url, body string) (int, *simplejson.Json) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) == 0 || resp.Header.Get("Content-Type") != "application/json" {
		return resp.StatusCode, nil
	}
	js, err := simplejson.NewJson(raw)
	require.NoError(t, err)
	return resp.StatusCode, js
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestStatus(t *testing.T) {
	_, ts := newTestServer(t)

	code, js := do(t, http.MethodGet, ts.URL+"/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "running", js.Get("status").MustString())
	assert.Equal(t, 0, js.GetPath("collector", "tracked").MustInt(-1))
	_, hasDiscovery := js.CheckGet("discovery")
	assert.False(t, hasDiscovery, "no feed configured")
}

func TestWatchLifecycle(t *testing.T) {
	s, ts := newTestServer(t)

	code, js := do(t, http.MethodPost, ts.URL+"/watch", `{"mint":"`+wrappedSOL+`","symbol":"SOL","liquidity_usd":150000}`)
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, js.Get("added").MustBool())
	assert.Equal(t, "manual", js.GetPath("token", "source").MustString())

	code, js = do(t, http.MethodPost, ts.URL+"/watch", `{"mint":"`+wrappedSOL+`"}`)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, js.Get("added").MustBool())

	code, js = do(t, http.MethodGet, ts.URL+"/watch", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, js.MustArray(), 1)

	code, js = do(t, http.MethodPost, ts.URL+"/watch/"+wrappedSOL+"/prediction", `{"outcome":"pump"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "high", js.Get("tier").MustString())
	assert.Equal(t, "pump", js.Get("predicted_outcome").MustString())

	st, ok := s.collector.Tracked(wrappedSOL)
	require.True(t, ok)
	assert.True(t, st.HasPrediction)

	code, _ = do(t, http.MethodDelete, ts.URL+"/watch/"+wrappedSOL, "")
	assert.Equal(t, http.StatusNoContent, code)

	code, js = do(t, http.MethodDelete, ts.URL+"/watch/"+wrappedSOL, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.NotEmpty(t, js.Get("error").MustString())
}

func TestWatch_BadRequests(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"invalid mint", http.MethodPost, "/watch", `{"mint":"not-base58!"}`, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/watch", `{"mint":`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/watch", `{"mint":"` + wrappedSOL + `","tier":"high"}`, http.StatusBadRequest},
		{"unknown event type", http.MethodPost, "/watch/" + wrappedSOL + "/event", `{"type":"moon"}`, http.StatusBadRequest},
		{"event for untracked", http.MethodPost, "/watch/" + wrappedSOL + "/event", `{"type":"pump_detected"}`, http.StatusNotFound},
		{"prediction for untracked", http.MethodPost, "/watch/" + wrappedSOL + "/prediction", `{}`, http.StatusNotFound},
		{"method not allowed", http.MethodPut, "/watch", `{}`, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := do(t, tt.method, ts.URL+tt.path, tt.body)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestReports(t *testing.T) {
	s, ts := newTestServer(t)

	code, _ := do(t, http.MethodGet, ts.URL+"/reports/quality", "")
	assert.Equal(t, http.StatusNotFound, code, "no report before the first check")

	_, err := s.quality.Check(context.Background())
	require.NoError(t, err)
	_, err = s.drift.CheckDrift(context.Background(), 0)
	require.NoError(t, err)

	code, js := do(t, http.MethodGet, ts.URL+"/reports/quality", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "insufficient_data", js.Get("status").MustString())

	code, js = do(t, http.MethodGet, ts.URL+"/reports/drift?history=5", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, js.MustArray(), 1)

	code, _ = do(t, http.MethodGet, ts.URL+"/reports/drift?history=zero", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestBaselineResetAndHistory(t *testing.T) {
	s, ts := newTestServer(t)
	ctx := context.Background()

	code, js := do(t, http.MethodPost, ts.URL+"/baseline/reset", "")
	assert.Equal(t, http.StatusConflict, code, "no rows yet")
	assert.NotEmpty(t, js.Get("error").MustString())

	now := time.Now().UTC()
	for i := 0; i < s.drift.Config().MinSamples; i++ {
		fs := make([]float64, domain.FeatureCount)
		for j := range fs {
			fs[j] = float64(i + j)
		}
		require.NoError(t, s.stores.rows.SaveTrainingRow(ctx, &domain.FeatureRow{
			Mint:           wrappedSOL,
			RecordedAt:     now.Add(-time.Duration(i) * time.Minute),
			FeatureVersion: domain.FeatureVersion,
			Features:       fs,
			Normalized:     make([]float64, domain.FeatureCount),
		}))
	}

	code, js = do(t, http.MethodPost, ts.URL+"/baseline/reset", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.FeatureCount, js.Get("features").MustInt())
	assert.Equal(t, s.drift.Config().MinSamples,
		js.GetPath("baselines", features.LiquidityUsd, "sample_count").MustInt())

	code, js = do(t, http.MethodGet, ts.URL+"/reports/drift/features/"+features.LiquidityUsd+"/history", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, js.MustArray())

	require.NoError(t, s.stores.baselines.AppendHistory(ctx,
		&domain.DistributionSnapshot{Feature: features.LiquidityUsd, Mean: 5, SampleCount: 10}, 30))
	code, js = do(t, http.MethodGet, ts.URL+"/reports/drift/features/"+features.LiquidityUsd+"/history", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, js.MustArray(), 1)
	assert.Equal(t, 5.0, js.GetIndex(0).Get("mean").MustFloat64())

	code, _ = do(t, http.MethodGet, ts.URL+"/reports/drift/features/moon_factor/history", "")
	assert.Equal(t, http.StatusNotFound, code)
}
