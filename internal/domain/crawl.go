package domain

import "time"

// CrawlScope restricts which discovered links are eligible for the frontier.
type CrawlScope string

const (
	ScopeSameOrigin CrawlScope = "same-origin"
	ScopeAllowList  CrawlScope = "allow-list"
)

// CrawlConfig parameterizes one crawl invocation.
type CrawlConfig struct {
	SeedURL       string        `json:"seedUrl"`
	MaxDepth      int           `json:"maxDepth"`
	RatePerSecond float64       `json:"ratePerSecond"`
	Scope         CrawlScope    `json:"scope"`
	AllowedHosts  []string      `json:"allowedHosts,omitempty"`
	MaxPages      int           `json:"maxPages,omitempty"`
	FetchTimeout  time.Duration `json:"-"`
}

// FetchOutcome classifies the result of fetching one page.
type FetchOutcome string

const (
	FetchOK         FetchOutcome = "ok"
	FetchHTTPError  FetchOutcome = "http-error"
	FetchTimeout    FetchOutcome = "timeout"
	FetchParseError FetchOutcome = "parse-error"
	FetchCancelled  FetchOutcome = "cancelled"
)

// CrawlRecord is the immutable result of visiting one URL.
type CrawlRecord struct {
	URL     string       `json:"url"`
	Title   string       `json:"title,omitempty"`
	Text    string       `json:"text,omitempty"`
	Links   []string     `json:"links,omitempty"`
	Depth   int          `json:"depth"`
	Outcome FetchOutcome `json:"outcome"`
	Error   string       `json:"error,omitempty"`
}

// CrawlStatus is the terminal (or running) state of a crawl.
type CrawlStatus string

const (
	CrawlIdle      CrawlStatus = "idle"
	CrawlRunning   CrawlStatus = "running"
	CrawlCompleted CrawlStatus = "completed"
	CrawlCancelled CrawlStatus = "cancelled"
	CrawlFailed    CrawlStatus = "failed"
)

// CrawlResult carries every record gathered before the crawl terminated.
type CrawlResult struct {
	Status  CrawlStatus   `json:"status"`
	Records []CrawlRecord `json:"records"`
}
