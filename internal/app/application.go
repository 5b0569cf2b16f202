package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"agentd/internal/domain"
	"agentd/internal/infra/config"
	"agentd/internal/infra/crawl"
	"agentd/internal/infra/dispatch"
	"agentd/internal/infra/intent"
	"agentd/internal/infra/registry"
	"agentd/internal/infra/transport"
)

// Application wires the orchestrator runtime for the CLI commands.
type Application struct {
	logger  *zap.Logger
	metrics domain.Metrics
	out     io.Writer

	// routerModel overrides the classifier model. Set in tests.
	routerModel intent.ChatModel
}

// New constructs the application.
func New(logger *zap.Logger) *Application {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Application{
		logger:  logger,
		metrics: domain.NopMetrics{},
		out:     os.Stdout,
	}
}

// SetOutput redirects command output, mainly for tests.
func (a *Application) SetOutput(w io.Writer) { a.out = w }

// SetMetrics swaps the metrics sink.
func (a *Application) SetMetrics(m domain.Metrics) {
	if m != nil {
		a.metrics = m
	}
}

// SetRouterModel overrides the intent classifier model. Used in tests.
func (a *Application) SetRouterModel(m intent.ChatModel) { a.routerModel = m }

// runtime holds the connected orchestration stack for one command.
type runtime struct {
	cfg        domain.Config
	manager    *transport.Manager
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
}

func (rt *runtime) close() {
	_ = rt.manager.Close()
}

// start loads config, connects every endpoint and aggregates tools.
// Unreachable endpoints degrade the catalog instead of failing startup.
func (a *Application) start(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.NewLoader(a.logger).Load(ctx, configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	dialer := transport.NewDialer(transport.DialerOptions{Logger: a.logger})
	manager := transport.NewManager(transport.ManagerOptions{
		Dialer: dialer,
		Config: cfg.Runtime,
		Logger: a.logger,
	})
	for _, endpoint := range cfg.Endpoints {
		if err := manager.Register(endpoint); err != nil {
			_ = manager.Close()
			return nil, err
		}
	}
	manager.ConnectAll(ctx)

	reg := registry.New(registry.Options{
		Caller:  manager,
		Config:  cfg.Runtime,
		Logger:  a.logger,
		Metrics: a.metrics,
	})
	if err := reg.Refresh(ctx); err != nil {
		a.logger.Warn("initial tool refresh incomplete", zap.Error(err))
	}

	dispatcher := dispatch.New(dispatch.Options{
		Registry: reg,
		Sessions: manager,
		Config:   cfg.Runtime,
		Metrics:  a.metrics,
		Logger:   a.logger,
	})

	return &runtime{
		cfg:        cfg,
		manager:    manager,
		registry:   reg,
		dispatcher: dispatcher,
	}, nil
}

// AskOptions configures the ask command.
type AskOptions struct {
	ConfigPath string
	Text       string
}

// askStep is one routed call and its outcome, as printed.
type askStep struct {
	Tool      string                `json:"tool"`
	Arguments map[string]any        `json:"arguments"`
	Result    domain.DispatchResult `json:"result"`
}

// Ask routes free-form text onto tool calls and dispatches them in
// plan order. A failing step is reported and does not stop the rest.
func (a *Application) Ask(ctx context.Context, opts AskOptions) error {
	rt, err := a.start(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}
	defer rt.close()

	router, err := intent.New(ctx, intent.Options{
		Config:  rt.cfg.Runtime.Classifier,
		Model:   a.routerModel,
		Metrics: a.metrics,
		Logger:  a.logger,
	})
	if err != nil {
		return fmt.Errorf("init intent router: %w", err)
	}

	calls, err := router.Route(ctx, opts.Text, rt.registry.Snapshot())
	if err != nil {
		return err
	}
	if len(calls) == 0 {
		return a.printJSON(map[string]any{"message": "no matching tool for this request"})
	}

	steps := make([]askStep, 0, len(calls))
	for _, call := range calls {
		req := rt.dispatcher.NewRequest(call.Tool, call.Arguments)
		result := rt.dispatcher.Dispatch(ctx, req)
		steps = append(steps, askStep{
			Tool:      call.Tool,
			Arguments: call.Arguments,
			Result:    result,
		})
	}
	return a.printJSON(steps)
}

// CallOptions configures the call command.
type CallOptions struct {
	ConfigPath string
	Tool       string
	Arguments  string
}

// Call dispatches a single named tool with JSON arguments.
func (a *Application) Call(ctx context.Context, opts CallOptions) error {
	args := map[string]any{}
	if opts.Arguments != "" {
		if err := json.Unmarshal([]byte(opts.Arguments), &args); err != nil {
			return fmt.Errorf("parse arguments: %w", err)
		}
	}

	rt, err := a.start(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}
	defer rt.close()

	req := rt.dispatcher.NewRequest(opts.Tool, args)
	result := rt.dispatcher.Dispatch(ctx, req)
	if err := a.printJSON(result); err != nil {
		return err
	}
	if !result.OK() {
		return fmt.Errorf("dispatch failed: %s: %s", result.Failure.Kind, result.Failure.Message)
	}
	return nil
}

// ToolsOptions configures the tools command.
type ToolsOptions struct {
	ConfigPath string
}

// Tools prints the aggregated tool catalog with endpoint states.
func (a *Application) Tools(ctx context.Context, opts ToolsOptions) error {
	rt, err := a.start(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}
	defer rt.close()

	snapshot := rt.registry.Snapshot()
	return a.printJSON(map[string]any{
		"endpoints":  rt.manager.Endpoints(),
		"tools":      snapshot.Tools,
		"collisions": snapshot.Collisions,
		"etag":       snapshot.ETag,
	})
}

// CrawlOptions configures the crawl command. Nil overrides fall back to
// the crawl defaults from configuration.
type CrawlOptions struct {
	ConfigPath string
	URL        string
	MaxDepth   *int
	MaxPages   *int
	Rate       *float64
}

// Crawl runs the crawl engine locally against a seed URL.
func (a *Application) Crawl(ctx context.Context, opts CrawlOptions) error {
	cfg, err := config.NewLoader(a.logger).Load(ctx, opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defaults := cfg.Runtime.Crawl

	crawlCfg := domain.CrawlConfig{
		SeedURL:       opts.URL,
		MaxDepth:      defaults.MaxDepth,
		RatePerSecond: defaults.RatePerSecond,
		MaxPages:      defaults.MaxPages,
		FetchTimeout:  defaults.FetchTimeout(),
	}
	if opts.MaxDepth != nil {
		crawlCfg.MaxDepth = *opts.MaxDepth
	}
	if opts.MaxPages != nil {
		crawlCfg.MaxPages = *opts.MaxPages
	}
	if opts.Rate != nil {
		crawlCfg.RatePerSecond = *opts.Rate
	}

	engine := crawl.NewEngine(crawl.Options{
		Fetcher: crawl.NewHTTPFetcher(crawlCfg.FetchTimeout),
		Metrics: a.metrics,
		Logger:  a.logger,
	})
	result := engine.Run(ctx, crawlCfg)
	if err := a.printJSON(result); err != nil {
		return err
	}
	if result.Status == domain.CrawlFailed {
		return fmt.Errorf("crawl failed for %q", opts.URL)
	}
	return nil
}

// ValidateOptions configures the validate command.
type ValidateOptions struct {
	ConfigPath string
}

// ValidateConfig loads the config and reports what it found without
// connecting anywhere.
func (a *Application) ValidateConfig(ctx context.Context, opts ValidateOptions) error {
	cfg, err := config.NewLoader(a.logger).Load(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}

	names := make([]string, len(cfg.Endpoints))
	for i, endpoint := range cfg.Endpoints {
		names[i] = endpoint.Name
	}
	return a.printJSON(map[string]any{
		"status":    "ok",
		"endpoints": names,
	})
}

func (a *Application) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(data))
	return err
}
