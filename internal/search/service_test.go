package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperifyio/clawrubber/internal/store"
)

type scriptedProvider struct {
	calls int
	steps []func(q Query) ([]Result, error)
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Search(_ context.Context, q Query) ([]Result, error) {
	i := p.calls
	p.calls++
	if i >= len(p.steps) {
		i = len(p.steps) - 1
	}
	return p.steps[i](q)
}

func newTestService(t *testing.T, p Provider) *Service {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "search.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	svc := NewService(p, st, 1000, 10)
	t.Cleanup(svc.Close)
	return svc
}

func TestService_Search_PersistsResults(t *testing.T) {
	p := &scriptedProvider{steps: []func(q Query) ([]Result, error){
		func(Query) ([]Result, error) {
			return []Result{
				{Title: "Docs", URL: "https://docs.example.com/a", Snippet: "fine", Source: "scripted"},
				{Title: "Plain", URL: "http://plain.example/b", Snippet: "not https", Source: "scripted"},
				{Title: "Evil", URL: "https://evil.example/c", Snippet: "bad", Source: "scripted"},
			}, nil
		},
	}}
	svc := newTestService(t, p)
	svc.StaticBlock = []string{"evil.example"}

	resp, err := svc.Search(context.Background(), Query{Text: "example"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.RequestID == "" {
		t.Fatal("empty request id")
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %d, want 2 (http result dropped)", len(resp.Results))
	}
	for i, rec := range resp.Results {
		if rec.Rank != i+1 {
			t.Errorf("rank[%d] = %d", i, rec.Rank)
		}
		if rec.RequestID != resp.RequestID {
			t.Errorf("record request id = %q, want %q", rec.RequestID, resp.RequestID)
		}
		if !rec.ExpiresAt.After(rec.CreatedAt) {
			t.Errorf("record %d not future-dated: %+v", i, rec)
		}
	}
	if resp.Results[0].Availability != store.AvailabilityAllowed {
		t.Errorf("first result availability = %q", resp.Results[0].Availability)
	}
	if resp.Results[1].Availability != store.AvailabilityBlocked {
		t.Errorf("blocklisted result availability = %q", resp.Results[1].Availability)
	}
	if resp.Results[1].BlockReason == "" {
		t.Error("blocklisted result has no block reason")
	}

	// Every surfaced record must be retrievable for a later /v1/fetch.
	got, err := svc.Store.GetSearchResult(resp.Results[0].ResultID)
	if err != nil {
		t.Fatalf("GetSearchResult: %v", err)
	}
	if got.URL != "https://docs.example.com/a" {
		t.Errorf("stored url = %q", got.URL)
	}
}

func TestService_Search_RetriesOn429(t *testing.T) {
	p := &scriptedProvider{steps: []func(q Query) ([]Result, error){
		func(Query) ([]Result, error) {
			return nil, &RateLimitError{RetryAfter: "1"}
		},
		func(Query) ([]Result, error) {
			return []Result{{Title: "Late", URL: "https://example.com/late", Source: "scripted"}}, nil
		},
	}}
	svc := newTestService(t, p)
	var slept []time.Duration
	svc.jitter = func() time.Duration { return 0 }
	svc.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	retries := 0
	svc.OnRetry = func() { retries++ }

	resp, err := svc.Search(context.Background(), Query{Text: "late"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(resp.Results))
	}
	if p.calls != 2 {
		t.Errorf("provider calls = %d, want 2", p.calls)
	}
	if retries != 1 {
		t.Errorf("retries = %d, want 1", retries)
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Errorf("slept = %v, want exactly [1s]", slept)
	}
}

func TestService_Search_NoRetryWhenDisabled(t *testing.T) {
	p := &scriptedProvider{steps: []func(q Query) ([]Result, error){
		func(Query) ([]Result, error) {
			return nil, &RateLimitError{RetryAfter: "1"}
		},
	}}
	svc := newTestService(t, p)
	svc.RetryOn429 = false

	if _, err := svc.Search(context.Background(), Query{Text: "x"}); err == nil {
		t.Fatal("expected rate-limit error to surface")
	}
	if p.calls != 1 {
		t.Errorf("provider calls = %d, want 1", p.calls)
	}
}

func TestRetryDelay(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		err  *RateLimitError
		want time.Duration
	}{
		{"retry-after seconds", &RateLimitError{RetryAfter: "2"}, 2 * time.Second},
		{"reset delta seconds", &RateLimitError{RateLimitReset: "3"}, 3 * time.Second},
		{"reset epoch future", &RateLimitError{RateLimitReset: "1772366405"}, 5 * time.Second},
		{"reset epoch past", &RateLimitError{RateLimitReset: "1772366300"}, 0},
		{"no headers", &RateLimitError{}, time.Second},
		{"garbage headers", &RateLimitError{RetryAfter: "soon", RateLimitReset: "later"}, time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := retryDelay(tc.err, now); got != tc.want {
				t.Errorf("retryDelay = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRPSForTier(t *testing.T) {
	cases := []struct {
		tier    string
		want    float64
		wantErr bool
	}{
		{"free", 1, false},
		{"paid", 20, false},
		{"base", 20, false},
		{"pro", 50, false},
		{"PRO", 50, false},
		{"15", 15, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"gold", 0, true},
	}
	for _, tc := range cases {
		got, err := RPSForTier(tc.tier)
		if tc.wantErr {
			if err == nil {
				t.Errorf("RPSForTier(%q) succeeded, want error", tc.tier)
			}
			continue
		}
		if err != nil {
			t.Errorf("RPSForTier(%q): %v", tc.tier, err)
			continue
		}
		if got != tc.want {
			t.Errorf("RPSForTier(%q) = %v, want %v", tc.tier, got, tc.want)
		}
	}
}
