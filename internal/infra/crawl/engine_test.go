package crawl

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agentd/internal/domain"
)

type fakeFetcher struct {
	pages   map[string]Page
	errs    map[string]error
	calls   []string
	onFetch func(pageURL string)
}

func (f *fakeFetcher) Fetch(ctx context.Context, pageURL string) (Page, error) {
	f.calls = append(f.calls, pageURL)
	if f.onFetch != nil {
		f.onFetch(pageURL)
	}
	if err, ok := f.errs[pageURL]; ok {
		return Page{}, err
	}
	page, ok := f.pages[pageURL]
	if !ok {
		return Page{}, &fetchError{outcome: domain.FetchHTTPError, err: errors.New("unexpected status 404")}
	}
	return page, nil
}

func newEngine(fetcher Fetcher) *Engine {
	return NewEngine(Options{Fetcher: fetcher})
}

func fastConfig(seed string) domain.CrawlConfig {
	return domain.CrawlConfig{
		SeedURL:       seed,
		MaxDepth:      1,
		RatePerSecond: 1000,
	}
}

func TestRunDepthZeroVisitsSeedOnly(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"http://example.com": {Title: "home", Links: []string{"http://example.com/a", "http://example.com/b"}},
	}}
	engine := newEngine(fetcher)

	cfg := fastConfig("http://example.com")
	cfg.MaxDepth = 0
	result := engine.Run(context.Background(), cfg)

	require.Equal(t, domain.CrawlCompleted, result.Status)
	require.Len(t, result.Records, 1)
	require.Equal(t, "http://example.com", result.Records[0].URL)
	require.Equal(t, 0, result.Records[0].Depth)
}

func TestRunFollowsLinksBreadthFirst(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"http://example.com": {Links: []string{
			"http://example.com/a",
			"http://example.com/b",
			"http://example.com/c",
		}},
		"http://example.com/a": {},
		"http://example.com/b": {},
		"http://example.com/c": {},
	}}
	engine := newEngine(fetcher)

	result := engine.Run(context.Background(), fastConfig("http://example.com"))

	require.Equal(t, domain.CrawlCompleted, result.Status)
	require.Len(t, result.Records, 4)
	require.Equal(t, 0, result.Records[0].Depth)
	for _, rec := range result.Records[1:] {
		require.Equal(t, 1, rec.Depth)
	}
}

func TestRunDedupesSelfLinks(t *testing.T) {
	// Two pages linking to each other and to themselves must terminate
	// after one visit each.
	fetcher := &fakeFetcher{pages: map[string]Page{
		"http://example.com":   {Links: []string{"http://example.com", "http://example.com/a"}},
		"http://example.com/a": {Links: []string{"http://example.com/a", "http://example.com"}},
	}}
	engine := newEngine(fetcher)

	cfg := fastConfig("http://example.com")
	cfg.MaxDepth = 10
	result := engine.Run(context.Background(), cfg)

	require.Equal(t, domain.CrawlCompleted, result.Status)
	require.Len(t, result.Records, 2)
	require.Len(t, fetcher.calls, 2)
}

func TestRunDedupesCanonicalVariants(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"http://example.com": {Links: []string{
			"HTTP://EXAMPLE.COM/page",
			"http://example.com/page/",
			"http://example.com:80/page#section",
		}},
		"http://example.com/page": {},
	}}
	engine := newEngine(fetcher)

	result := engine.Run(context.Background(), fastConfig("http://example.com"))

	require.Equal(t, domain.CrawlCompleted, result.Status)
	require.Len(t, result.Records, 2)
}

func TestRunStaysInScope(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"http://example.com": {Links: []string{
			"http://example.com/a",
			"http://other.test/x",
			"https://example.com/tls",
		}},
		"http://example.com/a": {},
	}}
	engine := newEngine(fetcher)

	result := engine.Run(context.Background(), fastConfig("http://example.com"))

	require.Equal(t, domain.CrawlCompleted, result.Status)
	require.Len(t, result.Records, 2)
	for _, rec := range result.Records {
		require.True(t, strings.HasPrefix(rec.URL, "http://example.com"))
	}
}

func TestRunAllowListScope(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"http://example.com":        {Links: []string{"http://docs.example.org/x", "http://other.test/y"}},
		"http://docs.example.org/x": {},
	}}
	engine := newEngine(fetcher)

	cfg := fastConfig("http://example.com")
	cfg.Scope = domain.ScopeAllowList
	cfg.AllowedHosts = []string{"docs.example.org"}
	result := engine.Run(context.Background(), cfg)

	require.Equal(t, domain.CrawlCompleted, result.Status)
	require.Len(t, result.Records, 2)
}

func TestRunToleratesFetchFailures(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: map[string]Page{
			"http://example.com": {Links: []string{
				"http://example.com/broken",
				"http://example.com/ok",
			}},
			"http://example.com/ok": {Title: "ok"},
		},
		errs: map[string]error{
			"http://example.com/broken": &fetchError{outcome: domain.FetchHTTPError, err: errors.New("unexpected status 500")},
		},
	}
	engine := newEngine(fetcher)

	result := engine.Run(context.Background(), fastConfig("http://example.com"))

	require.Equal(t, domain.CrawlCompleted, result.Status)
	require.Len(t, result.Records, 3)

	byURL := make(map[string]domain.CrawlRecord)
	for _, rec := range result.Records {
		byURL[rec.URL] = rec
	}
	require.Equal(t, domain.FetchHTTPError, byURL["http://example.com/broken"].Outcome)
	require.Contains(t, byURL["http://example.com/broken"].Error, "500")
	require.Equal(t, domain.FetchOK, byURL["http://example.com/ok"].Outcome)
}

func TestRunInvalidSeedFails(t *testing.T) {
	engine := newEngine(&fakeFetcher{})

	for _, seed := range []string{"", "not a url", "ftp://example.com", "/relative/path"} {
		result := engine.Run(context.Background(), fastConfig(seed))
		require.Equal(t, domain.CrawlFailed, result.Status, "seed %q", seed)
		require.Empty(t, result.Records)
	}
}

func TestRunMaxPagesCap(t *testing.T) {
	pages := map[string]Page{
		"http://example.com": {Links: []string{
			"http://example.com/1",
			"http://example.com/2",
			"http://example.com/3",
			"http://example.com/4",
		}},
	}
	for _, u := range []string{"http://example.com/1", "http://example.com/2", "http://example.com/3", "http://example.com/4"} {
		pages[u] = Page{}
	}
	engine := newEngine(&fakeFetcher{pages: pages})

	cfg := fastConfig("http://example.com")
	cfg.MaxPages = 3
	result := engine.Run(context.Background(), cfg)

	require.Equal(t, domain.CrawlCompleted, result.Status)
	require.Len(t, result.Records, 3)
}

func TestRunCancellationKeepsPartialRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &fakeFetcher{
		pages: map[string]Page{
			"http://example.com":   {Links: []string{"http://example.com/a", "http://example.com/b"}},
			"http://example.com/a": {},
			"http://example.com/b": {},
		},
	}
	fetcher.onFetch = func(pageURL string) {
		if pageURL == "http://example.com/a" {
			cancel()
		}
	}
	engine := newEngine(fetcher)

	cfg := fastConfig("http://example.com")
	cfg.RatePerSecond = 50
	result := engine.Run(ctx, cfg)

	require.Equal(t, domain.CrawlCancelled, result.Status)
	require.NotEmpty(t, result.Records)
	require.Less(t, len(result.Records), 3)
}

func TestRunRateLimitSpacesFetches(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]Page{
		"http://example.com": {Links: []string{
			"http://example.com/1",
			"http://example.com/2",
			"http://example.com/3",
		}},
		"http://example.com/1": {},
		"http://example.com/2": {},
		"http://example.com/3": {},
	}}
	engine := newEngine(fetcher)

	cfg := fastConfig("http://example.com")
	cfg.RatePerSecond = 20

	started := time.Now()
	result := engine.Run(context.Background(), cfg)
	elapsed := time.Since(started)

	require.Equal(t, domain.CrawlCompleted, result.Status)
	require.Len(t, result.Records, 4)
	// Four fetches at 20/s means three 50ms waits after the initial burst.
	require.GreaterOrEqual(t, elapsed, 120*time.Millisecond)
}

func TestCanonicalize(t *testing.T) {
	cases := map[string]string{
		"HTTP://Example.COM/Page":        "http://example.com/Page",
		"http://example.com:80/a":        "http://example.com/a",
		"https://example.com:443/a":      "https://example.com/a",
		"http://example.com:8080/a":      "http://example.com:8080/a",
		"http://example.com/a/":          "http://example.com/a",
		"http://example.com/":            "http://example.com/",
		"http://example.com/a#fragment":  "http://example.com/a",
		"http://example.com/a?q=1#frag":  "http://example.com/a?q=1",
		"  http://example.com/a  ":       "http://example.com/a",
	}
	for input, want := range cases {
		got, err := Canonicalize(input)
		require.NoError(t, err, "input %q", input)
		require.Equal(t, want, got, "input %q", input)
	}

	for _, input := range []string{"", "ftp://example.com", "http://", "not a url"} {
		_, err := Canonicalize(input)
		require.Error(t, err, "input %q", input)
	}
}

func TestRunRecordsCancelledFetch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := &fakeFetcher{
		errs:    map[string]error{"http://example.com": context.Canceled},
		onFetch: func(string) { cancel() },
	}
	engine := newEngine(fetcher)

	result := engine.Run(ctx, fastConfig("http://example.com"))

	require.Equal(t, domain.CrawlCancelled, result.Status)
	require.Len(t, result.Records, 1)
	require.Equal(t, domain.FetchCancelled, result.Records[0].Outcome)
}
