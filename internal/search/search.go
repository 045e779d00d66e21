// Package search talks to the upstream web-search providers and persists
// their results. All upstream calls are funneled through a rate-limited
// FIFO queue so exactly one request is in flight at a time.
package search

import (
	"context"
)

// Query is one upstream search request.
type Query struct {
	Text       string
	Count      int    // 1..20, default 10
	Country    string // optional two-letter country code
	SearchLang string // optional language filter
	Safesearch string // off, moderate or strict; default moderate
	Freshness  string // optional recency window (pd, pw, pm, py)
}

func (q Query) withDefaults() Query {
	if q.Count <= 0 {
		q.Count = 10
	}
	if q.Count > 20 {
		q.Count = 20
	}
	if q.Safesearch == "" {
		q.Safesearch = "moderate"
	}
	return q
}

// Result represents a single search hit from any provider.
type Result struct {
	Title     string
	URL       string
	Snippet   string
	Source    string // provider name for observability
	Published string // optional publish date, provider-formatted
}

// Provider is a minimal interface for search providers.
type Provider interface {
	Search(ctx context.Context, q Query) ([]Result, error)
	Name() string
}

// RateLimitError is an upstream 429 with its delay headers preserved, so
// the retry layer can honor the server's pacing.
type RateLimitError struct {
	RetryAfter     string // Retry-After header, seconds
	RateLimitReset string // X-RateLimit-Reset header, delta or epoch seconds
}

func (e *RateLimitError) Error() string { return "upstream rate limited (429)" }
