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

// SearxNG implements Provider against a SearxNG instance's /search endpoint.
type SearxNG struct {
	BaseURL    string
	APIKey     string // optional
	HTTPClient *http.Client
	UserAgent  string // optional custom UA
}

func (s *SearxNG) Name() string { return "searxng" }

// searxTimeRanges maps the provider-agnostic freshness windows onto
// SearxNG's time_range values.
var searxTimeRanges = map[string]string{
	"pd": "day",
	"pw": "week",
	"pm": "month",
	"py": "year",
}

func (s *SearxNG) Search(ctx context.Context, q Query) ([]Result, error) {
	if s.BaseURL == "" {
		return nil, fmt.Errorf("missing searxng base url")
	}
	q = q.withDefaults()
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return nil, err
	}
	// Ensure path
	if !strings.HasSuffix(u.Path, "/search") {
		u.Path = strings.TrimRight(u.Path, "/") + "/search"
	}
	params := u.Query()
	params.Set("q", q.Text)
	params.Set("format", "json")
	params.Set("categories", "general")
	params.Set("count", strconv.Itoa(q.Count))
	if q.SearchLang != "" {
		params.Set("language", q.SearchLang)
	} else {
		params.Set("language", "auto")
	}
	params.Set("safesearch", searxSafesearch(q.Safesearch))
	if tr, ok := searxTimeRanges[q.Freshness]; ok {
		params.Set("time_range", tr)
	}
	if s.APIKey != "" {
		params.Set("apikey", s.APIKey)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	hc := s.HTTPClient
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
		return nil, fmt.Errorf("searxng status: %d", resp.StatusCode)
	}
	var sr searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(sr.Results))
	for _, r := range sr.Results {
		if r.URL == "" || r.Title == "" {
			continue
		}
		out = append(out, Result{
			Title:     strings.TrimSpace(r.Title),
			URL:       strings.TrimSpace(r.URL),
			Snippet:   strings.TrimSpace(r.Content),
			Source:    s.Name(),
			Published: strings.TrimSpace(r.PublishedDate),
		})
		if len(out) >= q.Count {
			break
		}
	}
	return out, nil
}

func searxSafesearch(level string) string {
	switch level {
	case "off":
		return "0"
	case "strict":
		return "2"
	default:
		return "1"
	}
}

type searxResponse struct {
	Results []struct {
		Title         string `json:"title"`
		URL           string `json:"url"`
		Content       string `json:"content"`
		PublishedDate string `json:"publishedDate"`
	} `json:"results"`
}
