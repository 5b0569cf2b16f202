package domain

import "time"

// Metrics is implemented by the telemetry layer. A nil-safe no-op
// implementation backs components constructed without metrics.
type Metrics interface {
	ObserveDispatch(endpoint string, duration time.Duration, failure FailureKind)
	ObserveRegistryRefresh(endpoint string, duration time.Duration, err error)
	ObserveCrawlFetch(outcome FetchOutcome)
	ObserveClassifier(provider, model string, duration time.Duration)
	ObserveClassifierTokens(provider, model string, tokens int)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) ObserveDispatch(string, time.Duration, FailureKind)     {}
func (NopMetrics) ObserveRegistryRefresh(string, time.Duration, error)    {}
func (NopMetrics) ObserveCrawlFetch(FetchOutcome)                         {}
func (NopMetrics) ObserveClassifier(string, string, time.Duration)        {}
func (NopMetrics) ObserveClassifierTokens(string, string, int)            {}
