package render

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRenderSubmitsContentRequest(t *testing.T) {
	var gotReq contentRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/content" {
			t.Errorf("path = %s, want /content", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(contentResponse{
			FinalURL: "https://example.com/final",
			HTML:     "<html><body>rendered</body></html>",
		})
	}))
	defer srv.Close()

	c := &Client{
		BaseURL:   srv.URL,
		Token:     "secret-token",
		WaitUntil: "networkidle",
		BlockAds:  true,
		Timeout:   5 * time.Second,
	}
	page, err := c.Render(context.Background(), "https://example.com/app")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotReq.URL != "https://example.com/app" {
		t.Errorf("request url = %q", gotReq.URL)
	}
	if gotReq.WaitUntil != "networkidle" || !gotReq.BlockAds {
		t.Errorf("request options = %+v", gotReq)
	}
	if gotReq.TimeoutMs != 5000 {
		t.Errorf("request timeoutMs = %d, want 5000", gotReq.TimeoutMs)
	}
	if page.FinalURL != "https://example.com/final" {
		t.Errorf("FinalURL = %q", page.FinalURL)
	}
	if !strings.Contains(string(page.HTML), "rendered") {
		t.Errorf("HTML = %q", page.HTML)
	}
}

func TestRenderRejectsOversizeResponse(t *testing.T) {
	big := strings.Repeat("x", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(contentResponse{HTML: big})
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, MaxHTMLBytes: 1024}
	if _, err := c.Render(context.Background(), "https://example.com/"); err == nil {
		t.Fatal("Render accepted a response above the byte ceiling")
	}
}

func TestRenderErrors(t *testing.T) {
	t.Run("upstream status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		}))
		defer srv.Close()
		c := &Client{BaseURL: srv.URL}
		if _, err := c.Render(context.Background(), "https://example.com/"); err == nil {
			t.Fatal("Render accepted a 502 response")
		}
	})

	t.Run("empty document", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(contentResponse{})
		}))
		defer srv.Close()
		c := &Client{BaseURL: srv.URL}
		if _, err := c.Render(context.Background(), "https://example.com/"); err == nil {
			t.Fatal("Render accepted an empty document")
		}
	})

	t.Run("missing base url", func(t *testing.T) {
		c := &Client{}
		if _, err := c.Render(context.Background(), "https://example.com/"); err == nil {
			t.Fatal("Render accepted an empty base url")
		}
	})
}
