// Package fetch retrieves page bytes from the public web. Every hop of
// every redirect chain is validated against the network guard, and the
// rendered path re-validates whatever final URL the renderer reports.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hyperifyio/clawrubber/internal/netguard"
	"github.com/hyperifyio/clawrubber/internal/render"
)

// Backend names recorded on fetch results.
const (
	BackendHTTP        = "http"
	BackendBrowserless = "browserless"
)

const acceptHeader = "text/html,text/plain,application/xhtml+xml"

// ErrTooManyRedirects is returned when a redirect chain exceeds the
// configured cap.
var ErrTooManyRedirects = errors.New("too many redirects")

var allowedContentTypes = map[string]bool{
	"text/html":             true,
	"text/plain":            true,
	"application/xhtml+xml": true,
}

// Renderer produces a rendered document for a URL. *render.Client
// implements it.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (*render.Page, error)
}

// PageResult is the outcome of one successful retrieval.
type PageResult struct {
	FinalURL     string
	ContentType  string
	Body         []byte
	BackendUsed  string
	Rendered     bool
	FallbackUsed bool
}

// Client retrieves pages over https only.
type Client struct {
	Guard     *netguard.Guard
	UserAgent string
	// Timeout bounds each hop, including its body read.
	Timeout time.Duration
	// MaxRedirects caps the redirect chain. Zero means default (4).
	MaxRedirects int
	// MaxFetchBytes aborts bodies larger than this. Zero means default (1.5 MB).
	MaxFetchBytes int64
	// Renderer, when set, makes the rendered path the primary backend.
	Renderer Renderer
	// FallbackToHTTP retries with the plain path when the renderer fails.
	FallbackToHTTP bool
	// HTTPClient overrides the internal client; intended for tests.
	HTTPClient *http.Client

	client     *http.Client
	clientOnce sync.Once
}

// FetchPage retrieves rawURL and returns its bytes plus retrieval
// metadata. Only https URLs are accepted.
func (c *Client) FetchPage(ctx context.Context, rawURL string) (*PageResult, error) {
	u, err := parseTarget(rawURL)
	if err != nil {
		return nil, err
	}
	if c.Renderer != nil {
		return c.fetchRendered(ctx, u)
	}
	return c.fetchHTTP(ctx, u)
}

func (c *Client) fetchHTTP(ctx context.Context, u *url.URL) (*PageResult, error) {
	final, resp, err := c.follow(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	mediaType, ok := allowedContentType(contentType)
	if !ok {
		return nil, fmt.Errorf("unsupported content type: %s", contentType)
	}

	limit := c.maxFetchBytes()
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("response exceeds %d bytes", limit)
	}

	return &PageResult{
		FinalURL:    final.String(),
		ContentType: mediaType,
		Body:        body,
		BackendUsed: BackendHTTP,
	}, nil
}

func (c *Client) fetchRendered(ctx context.Context, u *url.URL) (*PageResult, error) {
	final, err := c.resolveFinalURL(ctx, u)
	if err != nil {
		return nil, err
	}

	page, err := c.Renderer.Render(ctx, final.String())
	if err != nil {
		if c.FallbackToHTTP {
			res, ferr := c.fetchHTTP(ctx, u)
			if ferr != nil {
				return nil, ferr
			}
			res.FallbackUsed = true
			return res, nil
		}
		return nil, fmt.Errorf("render: %w", err)
	}

	// The renderer's claimed final URL is untrusted until it passes the
	// same scheme and address checks as a fetched one.
	settled := final
	if page.FinalURL != "" {
		settled, err = parseTarget(page.FinalURL)
		if err != nil {
			return nil, err
		}
	}
	if err := c.Guard.ValidateURL(ctx, settled); err != nil {
		return nil, err
	}

	return &PageResult{
		FinalURL:    settled.String(),
		ContentType: "text/html",
		Body:        page.HTML,
		BackendUsed: BackendBrowserless,
		Rendered:    true,
	}, nil
}

// resolveFinalURL walks the redirect chain discarding bodies, purely to
// learn where the URL settles before handing it to the renderer.
func (c *Client) resolveFinalURL(ctx context.Context, u *url.URL) (*url.URL, error) {
	final, resp, err := c.follow(ctx, u)
	if err != nil {
		return nil, err
	}
	status := resp.StatusCode
	drain(resp)
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("unexpected status: %d", status)
	}
	return final, nil
}

// follow issues GETs along the redirect chain, validating every hop
// before it is requested, and returns the terminal response together
// with the URL that produced it. The caller owns the response body.
func (c *Client) follow(ctx context.Context, start *url.URL) (*url.URL, *http.Response, error) {
	hc := c.httpClient()
	current := start
	for redirects := 0; ; {
		if err := c.Guard.ValidateURL(ctx, current); err != nil {
			return nil, nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current.String(), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent())
		req.Header.Set("Accept", acceptHeader)

		resp, err := hc.Do(req)
		if err != nil {
			return nil, nil, err
		}

		loc := redirectLocation(resp)
		if loc == "" {
			return current, resp, nil
		}
		drain(resp)

		redirects++
		if redirects > c.maxRedirects() {
			return nil, nil, ErrTooManyRedirects
		}
		next, err := current.Parse(loc)
		if err != nil {
			return nil, nil, fmt.Errorf("redirect target: %w", err)
		}
		if !strings.EqualFold(next.Scheme, "https") {
			return nil, nil, fmt.Errorf("redirect to non-https URL %q", next.String())
		}
		current = next
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		// Clone to attach our redirect policy without mutating the
		// caller's client.
		base := *c.HTTPClient
		base.CheckRedirect = noFollow
		return &base
	}
	c.clientOnce.Do(func() {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		c.client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				// No proxy: a proxy would dial on our behalf and bypass
				// the guard's address checks.
				Proxy:               nil,
				DialContext:         c.Guard.DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
			CheckRedirect: noFollow,
		}
	})
	return c.client
}

func noFollow(_ *http.Request, _ []*http.Request) error {
	return http.ErrUseLastResponse
}

func (c *Client) userAgent() string {
	if c.UserAgent != "" {
		return c.UserAgent
	}
	return "clawrubber/1.0"
}

func (c *Client) maxRedirects() int {
	if c.MaxRedirects > 0 {
		return c.MaxRedirects
	}
	return 4
}

func (c *Client) maxFetchBytes() int64 {
	if c.MaxFetchBytes > 0 {
		return c.MaxFetchBytes
	}
	return 1_500_000
}

func parseTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return nil, fmt.Errorf("unsupported URL scheme %q: only https is allowed", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("missing host in %q", raw)
	}
	return u, nil
}

func allowedContentType(header string) (string, bool) {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		mediaType, _, _ = strings.Cut(header, ";")
		mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	}
	return mediaType, allowedContentTypes[mediaType]
}

func redirectLocation(resp *http.Response) string {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return resp.Header.Get("Location")
	}
	return ""
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2<<10))
	_ = resp.Body.Close()
}
