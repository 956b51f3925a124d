package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline holds the transaction pipeline metrics
type Pipeline struct {
	RunsTotal        *prometheus.CounterVec
	OutcomesTotal    *prometheus.CounterVec
	StaleDropsTotal  *prometheus.CounterVec
	FeeEstimate      *prometheus.HistogramVec
	ApprovalsPending prometheus.Gauge
	SubmitDuration   *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the pipeline metrics on a fresh registry
func New() *Pipeline {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers the pipeline metrics on reg
func NewWithRegistry(reg *prometheus.Registry) *Pipeline {
	factory := promauto.With(reg)

	return &Pipeline{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "market_pipeline_runs_total",
			Help: "The total number of pipeline invocations",
		}, []string{"kind"}),
		OutcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "market_pipeline_outcomes_total",
			Help: "Pipeline exits by outcome",
		}, []string{"kind", "outcome"}),
		StaleDropsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "market_pipeline_stale_drops_total",
			Help: "Results discarded because the subject was superseded",
		}, []string{"kind"}),
		FeeEstimate: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "market_pipeline_fee_estimate",
			Help:    "Buffered fee estimates in the native asset",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"kind"}),
		ApprovalsPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "market_pipeline_approvals_pending",
			Help: "Approvals currently awaiting a decision",
		}),
		SubmitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "market_pipeline_submit_duration_seconds",
			Help:    "Duration from confirmation to on-chain result",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		gatherer: reg,
	}
}

// Handler serves the registered metrics
func (p *Pipeline) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}
