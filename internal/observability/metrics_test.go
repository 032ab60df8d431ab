package observability

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.RecordSnapshot()
	m.RecordSnapshot()
	m.RecordSkip("dedup")
	m.RecordCycle("ok", 2*time.Second, time.Unix(1700000000, 0))
	m.RecordFlush("snapshots", 3, 1)
	m.RecordRequeued(2)
	m.RecordEvicted(0)
	m.SetTracked(42)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SnapshotsCollected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotsSkipped.WithLabelValues("dedup")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CyclesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.LastSuccessfulCycle))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FlushWrites.WithLabelValues("snapshots")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FlushRequeued))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TokensEvicted))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.TrackedTokens))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSnapshot()
		m.RecordCycle("failed", time.Second, time.Now())
		m.RecordDrift(0.5, 3, 2)
	})
}

func TestHandler_ServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	m.RecordQuality(81)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "test_dataset_quality_score 81"))
}

func TestInitTracer_EmptyEndpointIsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "", "")
	require.NoError(t, err)
	shutdown()

	_, span := Tracer().Start(context.Background(), "noop")
	EndSpan(span, errors.New("boom"))
}
