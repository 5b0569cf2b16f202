package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"agentd/internal/domain"
)

const maxBodyBytes = 4 << 20

// Page is the parsed content of one fetched document.
type Page struct {
	Title string
	Text  string
	Links []string
}

// Fetcher retrieves and parses a single page. Implementations classify
// failures with fetchError so the engine can record the outcome.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (Page, error)
}

// PageParser turns a fetched document into a Page. Relative links are
// resolved against base.
type PageParser interface {
	Parse(r io.Reader, base *url.URL) (Page, error)
}

// htmlParser is the default PageParser.
type htmlParser struct{}

func (htmlParser) Parse(r io.Reader, base *url.URL) (Page, error) {
	return ParsePage(r, base)
}

// fetchError tags a fetch failure with the outcome the engine records.
type fetchError struct {
	outcome domain.FetchOutcome
	err     error
}

func (e *fetchError) Error() string { return e.err.Error() }
func (e *fetchError) Unwrap() error { return e.err }

// outcomeOf maps an error to the record outcome.
func outcomeOf(err error) domain.FetchOutcome {
	var fe *fetchError
	if errors.As(err, &fe) {
		return fe.outcome
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.FetchTimeout
	}
	if errors.Is(err, context.Canceled) {
		return domain.FetchCancelled
	}
	return domain.FetchHTTPError
}

// HTTPFetcher fetches pages over HTTP and parses them as HTML.
type HTTPFetcher struct {
	client  *http.Client
	parser  PageParser
	timeout time.Duration
}

// NewHTTPFetcher creates a fetcher with a per-page timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = domain.DefaultCrawlFetchTimeoutSeconds * time.Second
	}
	return &HTTPFetcher{
		client:  &http.Client{},
		parser:  htmlParser{},
		timeout: timeout,
	}
}

// Fetch retrieves pageURL and extracts title, text and outgoing links.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (Page, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Page{}, &fetchError{outcome: domain.FetchHTTPError, err: err}
	}
	req.Header.Set("User-Agent", "agentd-crawler/0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		outcome := domain.FetchHTTPError
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			outcome = domain.FetchTimeout
		}
		return Page{}, &fetchError{outcome: outcome, err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, &fetchError{
			outcome: domain.FetchHTTPError,
			err:     fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	page, err := f.parser.Parse(io.LimitReader(resp.Body, maxBodyBytes), resp.Request.URL)
	if err != nil {
		return Page{}, &fetchError{outcome: domain.FetchParseError, err: err}
	}
	return page, nil
}

// ParsePage extracts the title, visible text and absolute links from an
// HTML document. Relative links are resolved against base.
func ParsePage(r io.Reader, base *url.URL) (Page, error) {
	root, err := html.Parse(r)
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}

	var page Page
	var text strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if page.Title == "" && n.FirstChild != nil {
					page.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "a":
				if link := hrefOf(n, base); link != "" {
					page.Links = append(page.Links, link)
				}
			}
		case html.TextNode:
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				if text.Len() > 0 {
					text.WriteByte(' ')
				}
				text.WriteString(trimmed)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)

	page.Text = text.String()
	return page, nil
}

func hrefOf(n *html.Node, base *url.URL) string {
	for _, attr := range n.Attr {
		if attr.Key != "href" {
			continue
		}
		ref, err := url.Parse(strings.TrimSpace(attr.Val))
		if err != nil {
			return ""
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return ""
		}
		return resolved.String()
	}
	return ""
}
