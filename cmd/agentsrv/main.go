package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agentd/internal/app"
	"agentd/internal/domain"
	"agentd/internal/infra/backend"
	"agentd/internal/infra/config"
	"agentd/internal/infra/crawl"
	"agentd/internal/infra/store"
	"agentd/internal/infra/telemetry"
)

type serveOptions struct {
	configPath string
	dbPath     string
	debug      bool
}

func main() {
	opts := serveOptions{
		configPath: "agentd.yaml",
		dbPath:     "agentsrv.db",
	}

	root := &cobra.Command{
		Use:   "agentsrv",
		Short: "Run the tool endpoints agentd orchestrates",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := app.NewLogger(opts.debug)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			return serve(ctx, opts, logger)
		},
	}

	root.Flags().StringVar(&opts.configPath, "config", opts.configPath, "path to config file")
	root.Flags().StringVar(&opts.dbPath, "db", opts.dbPath, "path to the backing database")
	root.Flags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, opts serveOptions, logger *zap.Logger) error {
	watcher, err := config.NewWatcher(ctx, opts.configPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := watcher.Current()

	st, err := store.Open(opts.dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	promRegistry := prometheus.NewRegistry()
	metrics := telemetry.NewPrometheusMetrics(promRegistry)

	engine := crawl.NewEngine(crawl.Options{
		Fetcher: crawl.NewHTTPFetcher(cfg.Runtime.Crawl.FetchTimeout()),
		Metrics: metrics,
		Logger:  logger,
	})

	errCh := make(chan error, len(cfg.Endpoints)+1)
	started := 0
	for _, endpoint := range cfg.Endpoints {
		server := buildServer(endpoint, st, engine, cfg.Runtime.Crawl, logger)
		if server == nil {
			logger.Warn("no backend for endpoint, skipping", zap.String("endpoint", endpoint.Name))
			continue
		}
		addr := fmt.Sprintf("%s:%d", endpoint.Address, endpoint.Port)
		go func() {
			errCh <- backend.ListenAndServe(ctx, addr, server.Handler(), logger)
		}()
		started++
	}
	if started == 0 {
		return fmt.Errorf("no servable endpoints in %s", opts.configPath)
	}

	go func() {
		errCh <- telemetry.StartHTTPServer(ctx, telemetry.HTTPServerOptions{
			Addr:     cfg.Runtime.Telemetry.ListenAddress,
			Registry: promRegistry,
		}, logger)
	}()

	updates := watcher.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case next, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			// Listen addresses are bound at startup; a changed endpoint
			// list needs a restart to take effect.
			if len(next.Endpoints) != len(cfg.Endpoints) {
				logger.Warn("endpoint configuration changed on disk, restart to apply")
			}
			cfg = next
		}
	}
}

func buildServer(
	endpoint domain.Endpoint,
	st *store.Store,
	engine *crawl.Engine,
	crawlDefaults domain.CrawlDefaults,
	logger *zap.Logger,
) *backend.Server {
	opts := backend.Options{
		Name:   endpoint.Name,
		APIKey: endpoint.APIKey,
		Logger: logger,
	}
	switch endpoint.Name {
	case "memory":
		return backend.NewMemoryServer(st, opts)
	case "tasks":
		return backend.NewTaskServer(st, opts)
	case "calendar":
		return backend.NewCalendarServer(st, opts)
	case "crawler":
		return backend.NewCrawlerServer(engine, nil, crawlDefaults, opts)
	default:
		return nil
	}
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
