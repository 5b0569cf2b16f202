package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"agentd/internal/domain"
)

// Loader reads the orchestrator configuration from a YAML file.
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a config loader.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("config")}
}

func newConfigViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setRuntimeDefaults(v)
	return v
}

func setRuntimeDefaults(v *viper.Viper) {
	v.SetDefault("runtime.dispatchTimeoutSeconds", domain.DefaultDispatchTimeoutSeconds)
	v.SetDefault("runtime.reconnectBaseSeconds", domain.DefaultReconnectBaseSeconds)
	v.SetDefault("runtime.reconnectCapSeconds", domain.DefaultReconnectCapSeconds)
	v.SetDefault("runtime.maxReconnectAttempts", domain.DefaultMaxReconnectAttempts)
	v.SetDefault("runtime.refreshConcurrency", domain.DefaultRefreshConcurrency)
	v.SetDefault("runtime.refreshTimeoutSeconds", domain.DefaultRefreshTimeoutSeconds)
	v.SetDefault("runtime.crawl.maxDepth", domain.DefaultCrawlMaxDepth)
	v.SetDefault("runtime.crawl.ratePerSecond", domain.DefaultCrawlRatePerSecond)
	v.SetDefault("runtime.crawl.fetchTimeoutSeconds", domain.DefaultCrawlFetchTimeoutSeconds)
	v.SetDefault("runtime.crawl.maxPages", domain.DefaultCrawlMaxPages)
	v.SetDefault("runtime.telemetry.listenAddress", domain.DefaultTelemetryListenAddress)
}

type rawConfig struct {
	Endpoints []rawEndpoint `mapstructure:"endpoints"`
	Runtime   rawRuntime    `mapstructure:"runtime"`
}

type rawEndpoint struct {
	Name    string `mapstructure:"name"`
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"apiKey"`
}

type rawRuntime struct {
	DispatchTimeoutSeconds int           `mapstructure:"dispatchTimeoutSeconds"`
	ReconnectBaseSeconds   int           `mapstructure:"reconnectBaseSeconds"`
	ReconnectCapSeconds    int           `mapstructure:"reconnectCapSeconds"`
	MaxReconnectAttempts   int           `mapstructure:"maxReconnectAttempts"`
	RefreshConcurrency     int           `mapstructure:"refreshConcurrency"`
	RefreshTimeoutSeconds  int           `mapstructure:"refreshTimeoutSeconds"`
	Classifier             rawClassifier `mapstructure:"classifier"`
	Crawl                  rawCrawl      `mapstructure:"crawl"`
	Telemetry              rawTelemetry  `mapstructure:"telemetry"`
}

type rawClassifier struct {
	Provider     string `mapstructure:"provider"`
	Model        string `mapstructure:"model"`
	APIKey       string `mapstructure:"apiKey"`
	APIKeyEnvVar string `mapstructure:"apiKeyEnvVar"`
	BaseURL      string `mapstructure:"baseURL"`
}

type rawCrawl struct {
	MaxDepth            int     `mapstructure:"maxDepth"`
	RatePerSecond       float64 `mapstructure:"ratePerSecond"`
	FetchTimeoutSeconds int     `mapstructure:"fetchTimeoutSeconds"`
	MaxPages            int     `mapstructure:"maxPages"`
}

type rawTelemetry struct {
	ListenAddress string `mapstructure:"listenAddress"`
}

// Load reads, expands and validates the config at path.
func (l *Loader) Load(ctx context.Context, path string) (domain.Config, error) {
	if path == "" {
		return domain.Config{}, errors.New("config path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Config{}, fmt.Errorf("read config: %w", err)
	}

	expanded, missing, err := expandConfigEnv(data)
	if err != nil {
		return domain.Config{}, err
	}
	if len(missing) > 0 {
		l.logger.Warn("missing environment variables in config",
			zap.String("path", path), zap.Strings("missing", missing))
	}

	v := newConfigViper()
	if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
		return domain.Config{}, fmt.Errorf("parse config: %w", err)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return domain.Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return domain.Config{}, err
	}

	cfg, errs := normalize(raw)
	if len(errs) > 0 {
		return domain.Config{}, errors.New(strings.Join(errs, "; "))
	}
	return cfg, nil
}

func normalize(raw rawConfig) (domain.Config, []string) {
	var errs []string

	if len(raw.Endpoints) == 0 {
		errs = append(errs, "at least one endpoint is required")
	}

	endpoints := make([]domain.Endpoint, 0, len(raw.Endpoints))
	seen := make(map[string]struct{}, len(raw.Endpoints))
	for i, ep := range raw.Endpoints {
		errs = append(errs, validateEndpoint(ep, i)...)
		name := strings.TrimSpace(ep.Name)
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Sprintf("endpoints[%d]: duplicate name %q", i, name))
			continue
		}
		if name != "" {
			seen[name] = struct{}{}
		}
		endpoints = append(endpoints, domain.Endpoint{
			Name:    name,
			Address: strings.TrimSpace(ep.Address),
			Port:    ep.Port,
			APIKey:  ep.APIKey,
		})
	}

	runtime := domain.RuntimeConfig{
		DispatchTimeoutSeconds: raw.Runtime.DispatchTimeoutSeconds,
		ReconnectBaseSeconds:   raw.Runtime.ReconnectBaseSeconds,
		ReconnectCapSeconds:    raw.Runtime.ReconnectCapSeconds,
		MaxReconnectAttempts:   raw.Runtime.MaxReconnectAttempts,
		RefreshConcurrency:     raw.Runtime.RefreshConcurrency,
		RefreshTimeoutSeconds:  raw.Runtime.RefreshTimeoutSeconds,
		Classifier: domain.ClassifierConfig{
			Provider:     raw.Runtime.Classifier.Provider,
			Model:        raw.Runtime.Classifier.Model,
			APIKey:       raw.Runtime.Classifier.APIKey,
			APIKeyEnvVar: raw.Runtime.Classifier.APIKeyEnvVar,
			BaseURL:      raw.Runtime.Classifier.BaseURL,
		},
		Crawl: domain.CrawlDefaults{
			MaxDepth:            raw.Runtime.Crawl.MaxDepth,
			RatePerSecond:       raw.Runtime.Crawl.RatePerSecond,
			FetchTimeoutSeconds: raw.Runtime.Crawl.FetchTimeoutSeconds,
			MaxPages:            raw.Runtime.Crawl.MaxPages,
		},
		Telemetry: domain.TelemetryConfig{
			ListenAddress: raw.Runtime.Telemetry.ListenAddress,
		},
	}

	errs = append(errs, validateRuntime(raw.Runtime)...)

	return domain.Config{Endpoints: endpoints, Runtime: runtime}, errs
}

func validateEndpoint(ep rawEndpoint, index int) []string {
	var errs []string
	if strings.TrimSpace(ep.Name) == "" {
		errs = append(errs, fmt.Sprintf("endpoints[%d]: name is required", index))
	}
	if strings.TrimSpace(ep.Address) == "" {
		errs = append(errs, fmt.Sprintf("endpoints[%d]: address is required", index))
	}
	if ep.Port <= 0 || ep.Port > 65535 {
		errs = append(errs, fmt.Sprintf("endpoints[%d]: port must be in 1..65535, got %d", index, ep.Port))
	}
	return errs
}

func validateRuntime(rt rawRuntime) []string {
	var errs []string
	if rt.DispatchTimeoutSeconds < 0 {
		errs = append(errs, "runtime.dispatchTimeoutSeconds must not be negative")
	}
	if rt.ReconnectBaseSeconds < 0 || rt.ReconnectCapSeconds < 0 {
		errs = append(errs, "runtime reconnect intervals must not be negative")
	}
	if rt.ReconnectBaseSeconds > 0 && rt.ReconnectCapSeconds > 0 && rt.ReconnectBaseSeconds > rt.ReconnectCapSeconds {
		errs = append(errs, "runtime.reconnectBaseSeconds must not exceed runtime.reconnectCapSeconds")
	}
	if rt.RefreshConcurrency < 0 {
		errs = append(errs, "runtime.refreshConcurrency must not be negative")
	}
	if rt.Crawl.RatePerSecond < 0 {
		errs = append(errs, "runtime.crawl.ratePerSecond must not be negative")
	}
	if rt.Crawl.MaxDepth < 0 {
		errs = append(errs, "runtime.crawl.maxDepth must not be negative")
	}
	return errs
}
