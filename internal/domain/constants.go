package domain

const (
	DefaultDispatchTimeoutSeconds   = 30
	DefaultReconnectBaseSeconds     = 1
	DefaultReconnectCapSeconds      = 30
	DefaultMaxReconnectAttempts     = 5
	DefaultRefreshConcurrency       = 3
	DefaultRefreshTimeoutSeconds    = 10
	DefaultCrawlMaxDepth            = 2
	DefaultCrawlRatePerSecond       = 1.0
	DefaultCrawlFetchTimeoutSeconds = 10
	DefaultCrawlMaxPages            = 50
	DefaultTelemetryListenAddress   = "127.0.0.1:9464"
	DefaultProtocolVersion          = "2025-06-18"

	// APIKeyHeader is the fixed header slot carrying the per-endpoint key
	// on every request of a session.
	APIKeyHeader = "X-API-Key"
)
