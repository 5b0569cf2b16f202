package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"agentd/internal/domain"
)

// PrometheusMetrics implements domain.Metrics on a prometheus registry.
type PrometheusMetrics struct {
	dispatchDuration  *prometheus.HistogramVec
	registryRefresh   *prometheus.HistogramVec
	crawlFetches      *prometheus.CounterVec
	classifierLatency *prometheus.HistogramVec
	classifierTokens  *prometheus.CounterVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		dispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentd_dispatch_duration_seconds",
				Help:    "Duration of tool dispatches in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"endpoint", "failure"},
		),
		registryRefresh: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentd_registry_refresh_duration_seconds",
				Help:    "Duration of per-endpoint tool refreshes in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint", "status"},
		),
		crawlFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_crawl_fetches_total",
				Help: "Total number of crawl page fetches by outcome",
			},
			[]string{"outcome"},
		),
		classifierLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentd_classifier_latency_seconds",
				Help:    "Latency of intent classifier LLM calls in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider", "model"},
		),
		classifierTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_classifier_tokens_total",
				Help: "Total number of tokens consumed by intent classifier calls",
			},
			[]string{"provider", "model"},
		),
	}
}

func (p *PrometheusMetrics) ObserveDispatch(endpoint string, duration time.Duration, failure domain.FailureKind) {
	label := "none"
	if failure != "" {
		label = string(failure)
	}
	p.dispatchDuration.WithLabelValues(endpoint, label).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveRegistryRefresh(endpoint string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.registryRefresh.WithLabelValues(endpoint, status).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveCrawlFetch(outcome domain.FetchOutcome) {
	p.crawlFetches.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusMetrics) ObserveClassifier(provider string, model string, duration time.Duration) {
	p.classifierLatency.WithLabelValues(provider, model).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveClassifierTokens(provider string, model string, tokens int) {
	p.classifierTokens.WithLabelValues(provider, model).Add(float64(tokens))
}
