package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBraveURL = "https://api.search.brave.com/res/v1/web/search"

// Brave implements Provider against the Brave Web Search API.
type Brave struct {
	BaseURL    string // default is the public API endpoint
	APIKey     string
	HTTPClient *http.Client
	UserAgent  string // optional custom UA
}

func (b *Brave) Name() string { return "brave" }

func (b *Brave) Search(ctx context.Context, q Query) ([]Result, error) {
	if b.APIKey == "" {
		return nil, fmt.Errorf("missing brave api key")
	}
	q = q.withDefaults()
	base := b.BaseURL
	if base == "" {
		base = defaultBraveURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	params := u.Query()
	params.Set("q", q.Text)
	params.Set("count", strconv.Itoa(q.Count))
	params.Set("safesearch", q.Safesearch)
	if q.Country != "" {
		params.Set("country", q.Country)
	}
	if q.SearchLang != "" {
		params.Set("search_lang", q.SearchLang)
	}
	if q.Freshness != "" {
		params.Set("freshness", q.Freshness)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.APIKey)
	if b.UserAgent != "" {
		req.Header.Set("User-Agent", b.UserAgent)
	}
	hc := b.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{
			RetryAfter:     resp.Header.Get("Retry-After"),
			RateLimitReset: resp.Header.Get("X-RateLimit-Reset"),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("brave status: %d", resp.StatusCode)
	}
	var br braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(br.Web.Results))
	for _, r := range br.Web.Results {
		if r.URL == "" || r.Title == "" {
			continue
		}
		out = append(out, Result{
			Title:     strings.TrimSpace(r.Title),
			URL:       strings.TrimSpace(r.URL),
			Snippet:   strings.TrimSpace(r.Description),
			Source:    b.Name(),
			Published: strings.TrimSpace(r.PageAge),
		})
		if len(out) >= q.Count {
			break
		}
	}
	return out, nil
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			PageAge     string `json:"page_age"`
		} `json:"results"`
	} `json:"web"`
}
