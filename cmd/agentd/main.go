package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"agentd/internal/app"
)

type globalOptions struct {
	configPath string
	debug      bool
	logger     *zap.Logger
}

func main() {
	opts := &globalOptions{
		configPath: "agentd.yaml",
		logger:     zap.NewNop(),
	}

	root := &cobra.Command{
		Use:   "agentd",
		Short: "Tool orchestrator that routes natural language onto MCP tool endpoints",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			log, err := app.NewLogger(opts.debug)
			if err != nil {
				return err
			}
			opts.logger = log
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = opts.logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", opts.configPath, "path to config file")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newAskCmd(opts),
		newCallCmd(opts),
		newToolsCmd(opts),
		newCrawlCmd(opts),
		newValidateCmd(opts),
	)

	if err := root.Execute(); err != nil {
		opts.logger.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

func newAskCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <text>",
		Short: "Route a natural language request onto the available tools",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			application := app.New(opts.logger)
			application.SetOutput(cmd.OutOrStdout())
			return application.Ask(ctx, app.AskOptions{
				ConfigPath: opts.configPath,
				Text:       args[0],
			})
		},
	}
}

func newCallCmd(opts *globalOptions) *cobra.Command {
	var argsJSON string
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Dispatch a single tool call by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			application := app.New(opts.logger)
			application.SetOutput(cmd.OutOrStdout())
			return application.Call(ctx, app.CallOptions{
				ConfigPath: opts.configPath,
				Tool:       args[0],
				Arguments:  argsJSON,
			})
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "", "tool arguments as a JSON object")
	return cmd
}

func newToolsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the aggregated tool catalog across all endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			application := app.New(opts.logger)
			application.SetOutput(cmd.OutOrStdout())
			return application.Tools(ctx, app.ToolsOptions{ConfigPath: opts.configPath})
		},
	}
}

func newCrawlCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a site breadth-first from a seed URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			crawlOpts := app.CrawlOptions{
				ConfigPath: opts.configPath,
				URL:        args[0],
			}
			applyCrawlFlagOverrides(cmd.Flags(), &crawlOpts)

			application := app.New(opts.logger)
			application.SetOutput(cmd.OutOrStdout())
			return application.Crawl(ctx, crawlOpts)
		},
	}
	cmd.Flags().Int("max-depth", 0, "link hops to follow from the seed")
	cmd.Flags().Int("max-pages", 0, "upper bound on pages to visit")
	cmd.Flags().Float64("rate", 0, "fetches per second across the whole crawl")
	return cmd
}

// applyCrawlFlagOverrides copies only the flags the user actually set, so a
// config default is never clobbered by a flag's zero value.
func applyCrawlFlagOverrides(flags *pflag.FlagSet, opts *app.CrawlOptions) {
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "max-depth":
			if v, err := flags.GetInt("max-depth"); err == nil {
				opts.MaxDepth = &v
			}
		case "max-pages":
			if v, err := flags.GetInt("max-pages"); err == nil {
				opts.MaxPages = &v
			}
		case "rate":
			if v, err := flags.GetFloat64("rate"); err == nil {
				opts.Rate = &v
			}
		}
	})
}

func newValidateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration without connecting anywhere",
		RunE: func(cmd *cobra.Command, args []string) error {
			application := app.New(opts.logger)
			application.SetOutput(cmd.OutOrStdout())
			return application.ValidateConfig(cmd.Context(), app.ValidateOptions{ConfigPath: opts.configPath})
		},
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
