package crawl

import (
	"fmt"
	"net/url"
	"strings"

	"agentd/internal/domain"
)

// Canonicalize normalizes a URL so that trivially distinct spellings of
// the same page dedupe to one frontier entry. Scheme and host are
// lowercased, the fragment is dropped, default ports are stripped, and
// a trailing slash on a non-root path is removed.
func Canonicalize(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""

	host, port, found := strings.Cut(parsed.Host, ":")
	if found {
		if (parsed.Scheme == "http" && port == "80") || (parsed.Scheme == "https" && port == "443") {
			parsed.Host = host
		}
	}

	if len(parsed.Path) > 1 {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}

	return parsed.String(), nil
}

// inScope reports whether a canonical URL is eligible for the frontier
// under the configured scope.
func inScope(cfg domain.CrawlConfig, seed, candidate *url.URL) bool {
	switch cfg.Scope {
	case domain.ScopeAllowList:
		host := candidate.Hostname()
		if host == seed.Hostname() {
			return true
		}
		for _, allowed := range cfg.AllowedHosts {
			if strings.EqualFold(host, allowed) {
				return true
			}
		}
		return false
	default:
		// Same-origin is the default scope.
		return candidate.Scheme == seed.Scheme && candidate.Host == seed.Host
	}
}
