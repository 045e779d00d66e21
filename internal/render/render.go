// Package render talks to a headless-browser rendering service. The
// service loads a page, executes its JavaScript and returns the settled
// DOM, which is then treated exactly like plain fetched HTML.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultMaxHTMLBytes = 5 << 20

// Client calls a browserless-style /content endpoint.
type Client struct {
	BaseURL         string
	Token           string // optional bearer token
	WaitUntil       string // domcontentloaded, load or networkidle
	WaitForSelector string // optional CSS selector to wait for
	BlockAds        bool
	Timeout         time.Duration
	MaxHTMLBytes    int64 // ceiling on the rendered document size
	HTTPClient      *http.Client
}

// Page is one rendered document.
type Page struct {
	// FinalURL is the URL the browser settled on, empty when the service
	// does not report it.
	FinalURL string
	HTML     []byte
}

type contentRequest struct {
	URL             string `json:"url"`
	WaitUntil       string `json:"waitUntil,omitempty"`
	WaitForSelector string `json:"waitForSelector,omitempty"`
	BlockAds        bool   `json:"blockAds,omitempty"`
	TimeoutMs       int64  `json:"timeoutMs,omitempty"`
}

type contentResponse struct {
	FinalURL string `json:"finalUrl"`
	HTML     string `json:"html"`
}

// Render submits pageURL to the rendering service and returns the
// rendered document. The caller must still validate the returned final
// URL before trusting it.
func (c *Client) Render(ctx context.Context, pageURL string) (*Page, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("missing renderer base url")
	}
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/content"

	body := contentRequest{
		URL:             pageURL,
		WaitUntil:       c.WaitUntil,
		WaitForSelector: c.WaitForSelector,
		BlockAds:        c.BlockAds,
	}
	if c.Timeout > 0 {
		body.TimeoutMs = c.Timeout.Milliseconds()
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	hc := c.HTTPClient
	if hc == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("renderer request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("renderer status: %d", resp.StatusCode)
	}

	limit := c.MaxHTMLBytes
	if limit <= 0 {
		limit = defaultMaxHTMLBytes
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("renderer response: %w", err)
	}
	if int64(len(raw)) > limit {
		return nil, fmt.Errorf("renderer response exceeds %d bytes", limit)
	}

	var cr contentResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("renderer response: %w", err)
	}
	if cr.HTML == "" {
		return nil, fmt.Errorf("renderer returned empty document")
	}
	return &Page{FinalURL: cr.FinalURL, HTML: []byte(cr.HTML)}, nil
}
