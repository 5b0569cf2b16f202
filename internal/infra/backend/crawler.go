package backend

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"agentd/internal/domain"
	"agentd/internal/infra/crawl"
)

// NewCrawlerServer builds the crawler endpoint on top of the crawl
// engine. Defaults fill in depth, rate and page caps when a call omits
// them.
func NewCrawlerServer(engine *crawl.Engine, fetcher crawl.Fetcher, defaults domain.CrawlDefaults, opts Options) *Server {
	s := newServer(opts)
	if fetcher == nil {
		fetcher = crawl.NewHTTPFetcher(defaults.FetchTimeout())
	}

	s.addTool(&mcp.Tool{
		Name:        "crawl_page",
		Description: "Fetch a single page and return its title, text and links.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"url": stringProp("Address of the page to fetch."),
		}, "url"),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			URL string `json:"url"`
		}
		if err := decodeArgs(req, &args); err != nil {
			return errorResult("%v", err), nil
		}
		result := engine.Run(ctx, domain.CrawlConfig{
			SeedURL:       args.URL,
			MaxDepth:      0,
			RatePerSecond: defaults.RatePerSecond,
			MaxPages:      1,
			FetchTimeout:  defaults.FetchTimeout(),
		})
		if result.Status == domain.CrawlFailed || len(result.Records) == 0 {
			return errorResult("could not fetch %s", args.URL), nil
		}
		return jsonResult(result.Records[0])
	})

	s.addTool(&mcp.Tool{
		Name:        "crawl_site",
		Description: "Crawl a site breadth-first from a starting page, staying on the same host.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"url":       stringProp("Starting page of the crawl."),
			"max_depth": integerProp("How many link hops to follow from the start page."),
			"max_pages": integerProp("Upper bound on pages to visit."),
			"rate":      numberProp("Fetches per second across the whole crawl."),
			"allowed_hosts": {
				Type:        "array",
				Description: "Extra hosts the crawl may follow links into.",
				Items:       stringProp(""),
			},
		}, "url"),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			URL          string   `json:"url"`
			MaxDepth     *int     `json:"max_depth"`
			MaxPages     *int     `json:"max_pages"`
			Rate         *float64 `json:"rate"`
			AllowedHosts []string `json:"allowed_hosts"`
		}
		if err := decodeArgs(req, &args); err != nil {
			return errorResult("%v", err), nil
		}

		cfg := domain.CrawlConfig{
			SeedURL:       args.URL,
			MaxDepth:      defaults.MaxDepth,
			RatePerSecond: defaults.RatePerSecond,
			MaxPages:      defaults.MaxPages,
			FetchTimeout:  defaults.FetchTimeout(),
		}
		if args.MaxDepth != nil {
			cfg.MaxDepth = *args.MaxDepth
		}
		if args.MaxPages != nil {
			cfg.MaxPages = *args.MaxPages
		}
		if args.Rate != nil && *args.Rate > 0 {
			cfg.RatePerSecond = *args.Rate
		}
		if len(args.AllowedHosts) > 0 {
			cfg.Scope = domain.ScopeAllowList
			cfg.AllowedHosts = args.AllowedHosts
		}

		result := engine.Run(ctx, cfg)
		if result.Status == domain.CrawlFailed {
			return errorResult("crawl failed for %s", args.URL), nil
		}
		return jsonResult(result)
	})

	s.addTool(&mcp.Tool{
		Name:        "search_page",
		Description: "Fetch a page and return the text fragments containing a query.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"url":   stringProp("Address of the page to search."),
			"query": stringProp("Text to look for."),
		}, "url", "query"),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			URL   string `json:"url"`
			Query string `json:"query"`
		}
		if err := decodeArgs(req, &args); err != nil {
			return errorResult("%v", err), nil
		}
		if _, err := url.ParseRequestURI(args.URL); err != nil {
			return errorResult("invalid url %q", args.URL), nil
		}
		page, err := fetcher.Fetch(ctx, args.URL)
		if err != nil {
			return errorResult("fetch %s: %v", args.URL, err), nil
		}
		return jsonResult(map[string]any{
			"url":     args.URL,
			"query":   args.Query,
			"matches": searchText(page.Text, args.Query),
		})
	})

	return s
}

// searchText returns sentence-sized fragments of text containing the
// query, case-insensitively.
func searchText(text, query string) []string {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil
	}
	matches := make([]string, 0, 4)
	for _, fragment := range strings.Split(text, ".") {
		trimmed := strings.TrimSpace(fragment)
		if trimmed == "" {
			continue
		}
		if strings.Contains(strings.ToLower(trimmed), needle) {
			matches = append(matches, trimmed)
		}
	}
	return matches
}
