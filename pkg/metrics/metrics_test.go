package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPipelineCounters(t *testing.T) {
	m := New()

	m.RunsTotal.WithLabelValues("BID").Inc()
	m.RunsTotal.WithLabelValues("BID").Inc()
	m.OutcomesTotal.WithLabelValues("BID", "success").Inc()
	m.ApprovalsPending.Inc()

	require.Equal(t, 2.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("BID")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.OutcomesTotal.WithLabelValues("BID", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ApprovalsPending))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RunsTotal.WithLabelValues("CLAIM").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `market_pipeline_runs_total{kind="CLAIM"} 1`))
}
