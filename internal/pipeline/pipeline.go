// Package pipeline orchestrates one fetch end to end: domain policy,
// retrieval, sanitization, scoring, adjudication, decision, persistence.
// Every invocation either produces an Outcome backed by a persisted
// FetchEvent, or an error meaning the pipeline did not complete.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/clawrubber/internal/fetch"
	"github.com/hyperifyio/clawrubber/internal/injection"
	"github.com/hyperifyio/clawrubber/internal/judge"
	"github.com/hyperifyio/clawrubber/internal/normalize"
	"github.com/hyperifyio/clawrubber/internal/policy"
	"github.com/hyperifyio/clawrubber/internal/sanitize"
	"github.com/hyperifyio/clawrubber/internal/store"
)

// Extraction modes.
const (
	ModeMarkdown = "markdown"
	ModeText     = "text"
)

const (
	summaryMaxWords   = 120
	summaryMaxChars   = 600
	flaggedContentMax = 30000
	defaultCharBudget = 16000
)

// Fetcher retrieves one page; *fetch.Client is the production
// implementation.
type Fetcher interface {
	FetchPage(ctx context.Context, rawURL string) (*fetch.PageResult, error)
}

// SearchContext links a fetch back to the search result that caused it.
type SearchContext struct {
	ResultID  string
	RequestID string
	Query     string
	Rank      int
}

// Request is one pipeline invocation.
type Request struct {
	URL        string
	OutputMode string // markdown or text; empty means markdown
	MaxChars   int    // output budget; 0 means the profile's extraction budget
	TraceKind  store.TraceKind
	Search     *SearchContext
}

// Safety is the decision block of a response.
type Safety struct {
	Decision             string   `json:"decision"`
	Score                int      `json:"score"`
	Flags                []string `json:"flags"`
	Reason               string   `json:"reason,omitempty"`
	BlockedBy            string   `json:"blocked_by,omitempty"`
	AllowedBy            string   `json:"allowed_by,omitempty"`
	Bypassed             bool     `json:"bypassed"`
	NormalizationApplied []string `json:"normalization_applied"`
	ObfuscationSignals   []string `json:"obfuscation_signals"`
}

// Source is the provenance block of a response.
type Source struct {
	Domain       string `json:"domain"`
	FetchBackend string `json:"fetch_backend,omitempty"`
	Rendered     bool   `json:"rendered"`
	FallbackUsed bool   `json:"fallback_used"`
	FinalURL     string `json:"final_url,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
}

// Outcome is a completed pipeline run: an allowed, extracted document or
// a block decision. Both carry source metadata and a persisted event id.
type Outcome struct {
	Allowed        bool
	EventID        uint64
	Content        string
	Truncated      bool
	ContentSummary string
	Safety         Safety
	Source         Source
}

// Pipeline wires the stages together. Thresholds and budgets come from
// the active profile.
type Pipeline struct {
	Store *store.Store
	Fetch Fetcher
	Judge *judge.Judge // optional

	StaticAllow        []string
	StaticBlock        []string
	ExtraLanguageNames []string

	MediumThreshold   int
	BlockThreshold    int
	MaxExtractedChars int
	FailClosed        bool
}

// Run executes the full pipeline for one URL.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Outcome, error) {
	start := time.Now()
	u, err := url.Parse(req.URL)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("invalid url %q", req.URL)
	}
	domain := strings.ToLower(u.Hostname())

	allowlist, err := p.Store.EffectiveAllowlist(p.StaticAllow)
	if err != nil {
		return nil, fmt.Errorf("effective allowlist: %w", err)
	}
	blocklist, err := p.Store.EffectiveBlocklist(p.StaticBlock)
	if err != nil {
		return nil, fmt.Errorf("effective blocklist: %w", err)
	}

	// A blocklisted domain never reaches the fetcher.
	verdict := policy.Evaluate(domain, allowlist, blocklist)
	if verdict.Action == policy.ActionBlock {
		d := p.decide(policy.Input{DomainAction: verdict.Action, DomainReason: verdict.Reason})
		id, err := p.persistEvent(req, start, domain, verdict.Action, d)
		if err != nil {
			return nil, err
		}
		return &Outcome{
			Allowed: false,
			EventID: id,
			Safety:  safetyFrom(d, normalize.Result{}),
			Source:  Source{Domain: domain},
		}, nil
	}

	page, err := p.Fetch.FetchPage(ctx, req.URL)
	if err != nil {
		log.Warn().Err(err).Str("url", req.URL).Msg("fetch failed")
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}

	src := Source{
		Domain:       domain,
		FetchBackend: page.BackendUsed,
		Rendered:     page.Rendered,
		FallbackUsed: page.FallbackUsed,
		FinalURL:     page.FinalURL,
		ContentType:  page.ContentType,
	}

	// Redirects can land on a different host; the blocklist applies to
	// wherever the content actually came from.
	action := verdict.Action
	if finalDomain := hostOf(page.FinalURL); finalDomain != "" && finalDomain != domain {
		if rv := policy.Evaluate(finalDomain, allowlist, blocklist); rv.Action == policy.ActionBlock {
			d := p.decide(policy.Input{DomainAction: rv.Action, DomainReason: "Redirected final URL blocked"})
			id, err := p.persistEvent(req, start, domain, rv.Action, d)
			if err != nil {
				return nil, err
			}
			return &Outcome{
				Allowed: false,
				EventID: id,
				Safety:  safetyFrom(d, normalize.Result{}),
				Source:  src,
			}, nil
		}
	}

	scoringText := p.scoringText(page)
	content, truncated := p.extract(page, req)

	var (
		scored policy.Input
		norm   normalize.Result
		ev     []injection.Evidence
	)
	scored.DomainAction = action
	scored.DomainReason = verdict.Reason
	if action == policy.ActionInspect {
		res := injection.Score(scoringText, p.ExtraLanguageNames)
		scored.Score = res.Score
		scored.Flags = res.Flags
		scored.AllowSignals = res.AllowSignals
		norm = res.Normalized
		ev = res.Evidence
		if p.Judge.Enabled() && res.Score >= p.MediumThreshold && res.Score < p.BlockThreshold {
			if v := p.Judge.Assess(ctx, judge.Clip(scoringText), res.Score, res.Flags); v != nil {
				scored.Judge = &policy.JudgeVerdict{Label: v.Label, Confidence: v.Confidence}
			}
		}
	}

	d := p.decide(scored)
	id, err := p.persistEvent(req, start, domain, action, d)
	if err != nil {
		return nil, err
	}

	if !d.Allow {
		clipped, _ := sanitize.Truncate(scoringText, flaggedContentMax)
		payload := &store.FlaggedPayload{
			FetchEventID: id,
			URL:          req.URL,
			Domain:       domain,
			Score:        d.Score,
			Flags:        nonNil(d.Flags),
			Evidence:     ev,
			Reason:       d.Reason,
			Content:      clipped,
		}
		if req.Search != nil {
			payload.ResultID = req.Search.ResultID
		}
		if err := p.Store.StoreFlaggedPayload(payload); err != nil {
			return nil, fmt.Errorf("store flagged payload: %w", err)
		}
		return &Outcome{
			Allowed: false,
			EventID: id,
			Safety:  safetyFrom(d, norm),
			Source:  src,
		}, nil
	}

	return &Outcome{
		Allowed:        true,
		EventID:        id,
		Content:        content,
		Truncated:      truncated,
		ContentSummary: Summary(content),
		Safety:         safetyFrom(d, norm),
		Source:         src,
	}, nil
}

func (p *Pipeline) decide(in policy.Input) policy.Decision {
	in.MediumThreshold = p.MediumThreshold
	in.BlockThreshold = p.BlockThreshold
	in.FailClosed = p.FailClosed
	return policy.Decide(in)
}

func (p *Pipeline) persistEvent(req Request, start time.Time, domain string, action policy.Action, d policy.Decision) (uint64, error) {
	ev := &store.FetchEvent{
		URL:             req.URL,
		Domain:          domain,
		Decision:        decisionName(d.Allow),
		Score:           d.Score,
		Flags:           nonNil(d.Flags),
		Reason:          d.Reason,
		BlockedBy:       d.BlockedBy,
		AllowedBy:       d.AllowedBy,
		DomainAction:    string(action),
		MediumThreshold: p.MediumThreshold,
		BlockThreshold:  p.BlockThreshold,
		Bypassed:        d.Bypassed,
		DurationMs:      time.Since(start).Milliseconds(),
		TraceKind:       req.TraceKind,
	}
	if ev.TraceKind == "" {
		ev.TraceKind = store.TraceUnknown
	}
	if req.Search != nil {
		ev.ResultID = req.Search.ResultID
		ev.SearchRequestID = req.Search.RequestID
		ev.SearchQuery = req.Search.Query
		ev.SearchRank = req.Search.Rank
	}
	id, err := p.Store.StoreFetchEvent(ev)
	if err != nil {
		return 0, fmt.Errorf("store fetch event: %w", err)
	}
	return id, nil
}

func (p *Pipeline) scoringText(page *fetch.PageResult) string {
	budget := p.MaxExtractedChars
	if budget <= 0 {
		budget = defaultCharBudget
	}
	if page.ContentType == "text/plain" {
		t, _ := sanitize.Truncate(sanitize.CollapseWhitespace(string(page.Body)), budget)
		return t
	}
	t, _ := sanitize.ToText(page.Body, budget)
	return t
}

func (p *Pipeline) extract(page *fetch.PageResult, req Request) (string, bool) {
	budget := req.MaxChars
	if budget <= 0 {
		budget = p.MaxExtractedChars
	}
	if budget <= 0 {
		budget = defaultCharBudget
	}
	if page.ContentType == "text/plain" {
		return sanitize.Truncate(sanitize.CollapseWhitespace(string(page.Body)), budget)
	}
	if req.OutputMode == ModeText {
		return sanitize.ToText(page.Body, budget)
	}
	md, truncated, err := sanitize.ToMarkdown(page.Body, page.FinalURL, budget)
	if err != nil {
		log.Warn().Err(err).Msg("markdown conversion failed; falling back to text extraction")
		return sanitize.ToText(page.Body, budget)
	}
	return md, truncated
}

// Summary returns the first 120 whitespace-separated words of content,
// capped at 600 characters.
func Summary(content string) string {
	words := strings.Fields(content)
	if len(words) > summaryMaxWords {
		words = words[:summaryMaxWords]
	}
	s, _ := sanitize.Truncate(strings.Join(words, " "), summaryMaxChars)
	return s
}

func safetyFrom(d policy.Decision, norm normalize.Result) Safety {
	s := Safety{
		Decision:             decisionName(d.Allow),
		Score:                d.Score,
		Flags:                nonNil(d.Flags),
		BlockedBy:            d.BlockedBy,
		AllowedBy:            d.AllowedBy,
		Bypassed:             d.Bypassed,
		NormalizationApplied: nonNil(norm.Transformations),
		ObfuscationSignals:   nonNil(norm.SignalFlags),
	}
	if !d.Allow {
		s.Reason = d.Reason
	}
	return s
}

func decisionName(allow bool) string {
	if allow {
		return store.DecisionAllow
	}
	return store.DecisionBlock
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
