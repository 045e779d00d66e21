package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperifyio/clawrubber/internal/netguard"
	"github.com/hyperifyio/clawrubber/internal/render"
)

// newTLSServer returns a TLS test server plus a client wired to trust it.
// The guard allows loopback because that is where httptest listens.
func newTLSServer(t *testing.T, handler http.Handler) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)
	c := &Client{
		Guard:      &netguard.Guard{AllowPrivate: true},
		HTTPClient: srv.Client(),
	}
	return srv, c
}

func TestFetchPage_Success(t *testing.T) {
	srv, c := newTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != acceptHeader {
			t.Errorf("Accept = %q, want %q", got, acceptHeader)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))

	res, err := c.FetchPage(context.Background(), srv.URL+"/page")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ContentType != "text/html" {
		t.Errorf("ContentType = %q, want text/html", res.ContentType)
	}
	if res.FinalURL != srv.URL+"/page" {
		t.Errorf("FinalURL = %q, want %q", res.FinalURL, srv.URL+"/page")
	}
	if res.BackendUsed != BackendHTTP || res.Rendered || res.FallbackUsed {
		t.Errorf("backend metadata = %+v", res)
	}
	if !strings.Contains(string(res.Body), "ok") {
		t.Errorf("body = %q", res.Body)
	}
}

func TestFetchPage_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/c", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("done"))
	})
	srv, c := newTLSServer(t, mux)
	c.MaxRedirects = 4

	res, err := c.FetchPage(context.Background(), srv.URL+"/a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FinalURL != srv.URL+"/c" {
		t.Errorf("FinalURL = %q, want %q", res.FinalURL, srv.URL+"/c")
	}
	if string(res.Body) != "done" {
		t.Errorf("body = %q", res.Body)
	}
}

func TestFetchPage_RedirectLimit(t *testing.T) {
	srv, c := newTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	c.MaxRedirects = 2

	_, err := c.FetchPage(context.Background(), srv.URL+"/loop")
	if !errors.Is(err, ErrTooManyRedirects) {
		t.Fatalf("err = %v, want ErrTooManyRedirects", err)
	}
}

func TestFetchPage_RejectsNonHTTPSTargets(t *testing.T) {
	c := &Client{Guard: &netguard.Guard{AllowPrivate: true}}
	for _, target := range []string{
		"http://example.com/",
		"file:///etc/hosts",
		"ftp://example.com/file",
		"https://",
	} {
		if _, err := c.FetchPage(context.Background(), target); err == nil {
			t.Errorf("FetchPage(%q) succeeded, want error", target)
		}
	}
}

func TestFetchPage_RejectsNonHTTPSRedirect(t *testing.T) {
	srv, c := newTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://example.com/x", http.StatusFound)
	}))

	_, err := c.FetchPage(context.Background(), srv.URL+"/start")
	if err == nil {
		t.Fatal("expected error for non-https redirect")
	}
	if !strings.Contains(err.Error(), "non-https") {
		t.Errorf("err = %v, want non-https redirect error", err)
	}
}

func TestFetchPage_ContentTypeGating(t *testing.T) {
	srv, c := newTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))

	if _, err := c.FetchPage(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for unsupported content type")
	}
}

func TestFetchPage_ByteCeiling(t *testing.T) {
	srv, c := newTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(strings.Repeat("x", 200)))
	}))
	c.MaxFetchBytes = 64

	_, err := c.FetchPage(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for oversize body")
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("err = %v, want byte ceiling error", err)
	}
}

func TestFetchPage_RefusesNonPublicHosts(t *testing.T) {
	// Strict guard: IP literals are refused before any connection.
	c := &Client{Guard: &netguard.Guard{}}
	for _, target := range []string{
		"https://127.0.0.1/x",
		"https://192.0.2.10/x",
		"https://[::1]/x",
		"https://169.254.169.254/latest/meta-data",
	} {
		_, err := c.FetchPage(context.Background(), target)
		if !errors.Is(err, netguard.ErrNonPublicHost) {
			t.Errorf("FetchPage(%q) err = %v, want ErrNonPublicHost", target, err)
		}
	}
}

type fakeRenderer struct {
	page   *render.Page
	err    error
	calls  int
	gotURL string
}

func (f *fakeRenderer) Render(_ context.Context, pageURL string) (*render.Page, error) {
	f.calls++
	f.gotURL = pageURL
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

func TestFetchPage_RenderedPath(t *testing.T) {
	srv, c := newTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>static shell</html>"))
	}))
	fr := &fakeRenderer{page: &render.Page{HTML: []byte("<html>rendered app</html>")}}
	c.Renderer = fr

	res, err := c.FetchPage(context.Background(), srv.URL+"/app")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fr.calls != 1 || fr.gotURL != srv.URL+"/app" {
		t.Errorf("renderer called %d times with %q", fr.calls, fr.gotURL)
	}
	if !res.Rendered || res.BackendUsed != BackendBrowserless {
		t.Errorf("backend metadata = %+v", res)
	}
	if string(res.Body) != "<html>rendered app</html>" {
		t.Errorf("body = %q", res.Body)
	}
	if res.FinalURL != srv.URL+"/app" {
		t.Errorf("FinalURL = %q, want resolved URL", res.FinalURL)
	}
}

func TestFetchPage_RendererReportedFinalURL(t *testing.T) {
	srv, c := newTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("shell"))
	}))
	c.Renderer = &fakeRenderer{page: &render.Page{
		FinalURL: srv.URL + "/settled",
		HTML:     []byte("<html>spa</html>"),
	}}

	res, err := c.FetchPage(context.Background(), srv.URL+"/app")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FinalURL != srv.URL+"/settled" {
		t.Errorf("FinalURL = %q, want renderer-reported URL", res.FinalURL)
	}
}

func TestFetchPage_RendererFallback(t *testing.T) {
	srv, c := newTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("plain content"))
	}))
	c.Renderer = &fakeRenderer{err: errors.New("browser crashed")}
	c.FallbackToHTTP = true

	res, err := c.FetchPage(context.Background(), srv.URL+"/page")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.FallbackUsed || res.Rendered || res.BackendUsed != BackendHTTP {
		t.Errorf("backend metadata = %+v", res)
	}
	if string(res.Body) != "plain content" {
		t.Errorf("body = %q", res.Body)
	}
}

func TestFetchPage_RendererFailureSurfaces(t *testing.T) {
	srv, c := newTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("shell"))
	}))
	c.Renderer = &fakeRenderer{err: errors.New("browser crashed")}

	if _, err := c.FetchPage(context.Background(), srv.URL+"/page"); err == nil {
		t.Fatal("expected renderer failure to surface without fallback")
	}
}

func TestFetchPage_RendererFinalURLMustBeHTTPS(t *testing.T) {
	srv, c := newTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("shell"))
	}))
	c.Renderer = &fakeRenderer{page: &render.Page{
		FinalURL: "http://evil.example/capture",
		HTML:     []byte("<html>spa</html>"),
	}}
	// A bad final URL is a policy refusal, not a renderer outage, so it
	// must surface even with fallback enabled.
	c.FallbackToHTTP = true

	if _, err := c.FetchPage(context.Background(), srv.URL+"/app"); err == nil {
		t.Fatal("expected error for non-https renderer final URL")
	}
}

func TestAllowedContentType(t *testing.T) {
	cases := []struct {
		header string
		media  string
		ok     bool
	}{
		{"text/html", "text/html", true},
		{"text/html; charset=utf-8", "text/html", true},
		{"TEXT/HTML; charset=ISO-8859-1", "text/html", true},
		{"text/plain", "text/plain", true},
		{"application/xhtml+xml", "application/xhtml+xml", true},
		{"application/json", "application/json", false},
		{"application/pdf", "application/pdf", false},
		{"", "", false},
	}
	for _, tc := range cases {
		media, ok := allowedContentType(tc.header)
		if media != tc.media || ok != tc.ok {
			t.Errorf("allowedContentType(%q) = %q, %v; want %q, %v", tc.header, media, ok, tc.media, tc.ok)
		}
	}
}
