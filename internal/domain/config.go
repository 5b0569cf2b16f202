package domain

import "time"

// Config is the loaded orchestrator configuration: the endpoint list plus
// runtime tuning. Populated by the config loader at startup.
type Config struct {
	Endpoints []Endpoint
	Runtime   RuntimeConfig
}

type RuntimeConfig struct {
	DispatchTimeoutSeconds   int                `json:"dispatchTimeoutSeconds"`
	ReconnectBaseSeconds     int                `json:"reconnectBaseSeconds"`
	ReconnectCapSeconds      int                `json:"reconnectCapSeconds"`
	MaxReconnectAttempts     int                `json:"maxReconnectAttempts"`
	RefreshConcurrency       int                `json:"refreshConcurrency"`
	RefreshTimeoutSeconds    int                `json:"refreshTimeoutSeconds"`
	Classifier               ClassifierConfig   `json:"classifier"`
	Crawl                    CrawlDefaults      `json:"crawl"`
	Telemetry                TelemetryConfig    `json:"telemetry"`
}

type ClassifierConfig struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	APIKey       string `json:"apiKey,omitempty"`
	APIKeyEnvVar string `json:"apiKeyEnvVar,omitempty"`
	BaseURL      string `json:"baseURL,omitempty"`
}

type CrawlDefaults struct {
	MaxDepth            int     `json:"maxDepth"`
	RatePerSecond       float64 `json:"ratePerSecond"`
	FetchTimeoutSeconds int     `json:"fetchTimeoutSeconds"`
	MaxPages            int     `json:"maxPages"`
}

type TelemetryConfig struct {
	ListenAddress string `json:"listenAddress"`
}

func (c RuntimeConfig) DispatchTimeout() time.Duration {
	return secondsOrDefault(c.DispatchTimeoutSeconds, DefaultDispatchTimeoutSeconds)
}

func (c RuntimeConfig) ReconnectBase() time.Duration {
	return secondsOrDefault(c.ReconnectBaseSeconds, DefaultReconnectBaseSeconds)
}

func (c RuntimeConfig) ReconnectCap() time.Duration {
	return secondsOrDefault(c.ReconnectCapSeconds, DefaultReconnectCapSeconds)
}

func (c RuntimeConfig) RefreshTimeout() time.Duration {
	return secondsOrDefault(c.RefreshTimeoutSeconds, DefaultRefreshTimeoutSeconds)
}

func (c CrawlDefaults) FetchTimeout() time.Duration {
	return secondsOrDefault(c.FetchTimeoutSeconds, DefaultCrawlFetchTimeoutSeconds)
}

func secondsOrDefault(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}
