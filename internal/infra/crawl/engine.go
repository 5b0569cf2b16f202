package crawl

import (
	"context"
	"errors"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"agentd/internal/domain"
)

// Engine runs breadth-first crawls. Each invocation of Run is an
// independent crawl with its own frontier and visited set; the engine
// itself holds only the fetcher and the ambient plumbing.
type Engine struct {
	fetcher Fetcher
	metrics domain.Metrics
	logger  *zap.Logger
}

// Options configures an Engine.
type Options struct {
	Fetcher Fetcher
	Metrics domain.Metrics
	Logger  *zap.Logger
}

// NewEngine creates a crawl engine.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher(0)
	}
	return &Engine{
		fetcher: fetcher,
		metrics: metrics,
		logger:  logger.Named("crawl"),
	}
}

// frontierEntry pairs a canonical URL with its distance from the seed.
type frontierEntry struct {
	url   string
	depth int
}

// Run crawls breadth-first from the seed until the frontier drains, the
// page cap is reached, or ctx is cancelled. Individual fetch failures
// are recorded and never abort the crawl; only an unusable seed yields
// a failed crawl.
func (e *Engine) Run(ctx context.Context, cfg domain.CrawlConfig) domain.CrawlResult {
	cfg = withDefaults(cfg)

	seedCanonical, err := Canonicalize(cfg.SeedURL)
	if err != nil {
		e.logger.Warn("seed rejected", zap.String("seed", cfg.SeedURL), zap.Error(err))
		return domain.CrawlResult{Status: domain.CrawlFailed}
	}
	seedURL, err := url.Parse(seedCanonical)
	if err != nil {
		return domain.CrawlResult{Status: domain.CrawlFailed}
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)

	visited := map[string]bool{seedCanonical: true}
	frontier := []frontierEntry{{url: seedCanonical, depth: 0}}
	records := make([]domain.CrawlRecord, 0, cfg.MaxPages)

	started := time.Now()
	for len(frontier) > 0 {
		if len(records) >= cfg.MaxPages {
			break
		}

		entry := frontier[0]
		frontier = frontier[1:]

		// The limiter wait is also the cancellation point between fetches.
		if err := limiter.Wait(ctx); err != nil {
			e.logger.Info("crawl cancelled",
				zap.String("seed", seedCanonical),
				zap.Int("pages", len(records)))
			return domain.CrawlResult{Status: domain.CrawlCancelled, Records: records}
		}

		record := e.visit(ctx, entry)
		records = append(records, record)
		e.metrics.ObserveCrawlFetch(record.Outcome)

		if record.Outcome != domain.FetchOK || entry.depth >= cfg.MaxDepth {
			continue
		}
		for _, link := range record.Links {
			canonical, err := Canonicalize(link)
			if err != nil || visited[canonical] {
				continue
			}
			candidate, err := url.Parse(canonical)
			if err != nil || !inScope(cfg, seedURL, candidate) {
				continue
			}
			visited[canonical] = true
			frontier = append(frontier, frontierEntry{url: canonical, depth: entry.depth + 1})
		}
	}

	if ctx.Err() != nil {
		return domain.CrawlResult{Status: domain.CrawlCancelled, Records: records}
	}

	e.logger.Info("crawl completed",
		zap.String("seed", seedCanonical),
		zap.Int("pages", len(records)),
		zap.Duration("elapsed", time.Since(started)))
	return domain.CrawlResult{Status: domain.CrawlCompleted, Records: records}
}

// visit fetches one frontier entry and turns the result into a record.
func (e *Engine) visit(ctx context.Context, entry frontierEntry) domain.CrawlRecord {
	page, err := e.fetcher.Fetch(ctx, entry.url)
	if err != nil {
		outcome := outcomeOf(err)
		if errors.Is(ctx.Err(), context.Canceled) {
			outcome = domain.FetchCancelled
		}
		e.logger.Debug("fetch failed",
			zap.String("url", entry.url),
			zap.String("outcome", string(outcome)),
			zap.Error(err))
		return domain.CrawlRecord{
			URL:     entry.url,
			Depth:   entry.depth,
			Outcome: outcome,
			Error:   err.Error(),
		}
	}
	return domain.CrawlRecord{
		URL:     entry.url,
		Title:   page.Title,
		Text:    page.Text,
		Links:   page.Links,
		Depth:   entry.depth,
		Outcome: domain.FetchOK,
	}
}

func withDefaults(cfg domain.CrawlConfig) domain.CrawlConfig {
	if cfg.MaxDepth < 0 {
		cfg.MaxDepth = 0
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = domain.DefaultCrawlRatePerSecond
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = domain.DefaultCrawlMaxPages
	}
	if cfg.Scope == "" {
		cfg.Scope = domain.ScopeSameOrigin
	}
	return cfg
}
