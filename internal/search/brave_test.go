package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestBrave_Search_ParsesResults(t *testing.T) {
	var gotQuery url.Values
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotToken = r.Header.Get("X-Subscription-Token")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"web": map[string]any{
				"results": []map[string]any{
					{"title": "Bun docs", "url": "https://bun.sh/docs", "description": "runtime docs", "page_age": "2026-01-10"},
					{"title": "", "url": "https://skip.me", "description": "no title"},
				},
			},
		})
	}))
	defer srv.Close()

	b := &Brave{BaseURL: srv.URL, APIKey: "brave-key", HTTPClient: srv.Client()}
	got, err := b.Search(context.Background(), Query{
		Text:       "bun runtime",
		Count:      5,
		Country:    "us",
		SearchLang: "en",
		Freshness:  "pm",
	})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 valid result, got %d", len(got))
	}
	if got[0].URL != "https://bun.sh/docs" || got[0].Source != "brave" {
		t.Fatalf("unexpected result: %+v", got[0])
	}
	if got[0].Published != "2026-01-10" {
		t.Fatalf("Published = %q", got[0].Published)
	}

	if gotToken != "brave-key" {
		t.Errorf("X-Subscription-Token = %q", gotToken)
	}
	if gotQuery.Get("q") != "bun runtime" || gotQuery.Get("count") != "5" {
		t.Errorf("query params = %v", gotQuery)
	}
	if gotQuery.Get("country") != "us" || gotQuery.Get("search_lang") != "en" {
		t.Errorf("locale params = %v", gotQuery)
	}
	if gotQuery.Get("safesearch") != "moderate" || gotQuery.Get("freshness") != "pm" {
		t.Errorf("filter params = %v", gotQuery)
	}
}

func TestBrave_Search_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Reset", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := &Brave{BaseURL: srv.URL, APIKey: "brave-key", HTTPClient: srv.Client()}
	_, err := b.Search(context.Background(), Query{Text: "query"})
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rle.RateLimitReset != "3" {
		t.Fatalf("RateLimitReset = %q, want 3", rle.RateLimitReset)
	}
}

func TestBrave_Search_RequiresKey(t *testing.T) {
	b := &Brave{}
	if _, err := b.Search(context.Background(), Query{Text: "query"}); err == nil {
		t.Fatal("expected error without api key")
	}
}
