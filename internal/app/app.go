package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/clawrubber/internal/fetch"
	"github.com/hyperifyio/clawrubber/internal/judge"
	"github.com/hyperifyio/clawrubber/internal/netguard"
	"github.com/hyperifyio/clawrubber/internal/pipeline"
	"github.com/hyperifyio/clawrubber/internal/policy"
	"github.com/hyperifyio/clawrubber/internal/render"
	"github.com/hyperifyio/clawrubber/internal/search"
	"github.com/hyperifyio/clawrubber/internal/server"
	"github.com/hyperifyio/clawrubber/internal/store"
)

// App owns the long-lived components and wires them into the HTTP surface.
type App struct {
	Config   Config
	Settings ProfileSettings
	Store    *store.Store
	// Search is nil when no provider is configured; the search endpoint
	// then reports itself unavailable.
	Search *search.Service
	Server *server.Server
}

// New builds every component from cfg. The returned App holds an open
// database; call Close when done.
func New(ctx context.Context, cfg Config) (*App, error) {
	settings, err := SettingsForProfile(cfg.Profile)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	staticAllow := policy.MergeLists(cfg.Allowlist, nil)
	staticBlock := policy.MergeLists(cfg.Blocklist, nil)

	fetcher := &fetch.Client{
		Guard:         &netguard.Guard{},
		UserAgent:     cfg.UserAgent,
		Timeout:       settings.FetchTimeout,
		MaxRedirects:  settings.MaxRedirects,
		MaxFetchBytes: settings.MaxFetchBytes,
	}
	if cfg.RendererBackend == RendererBrowserless {
		fetcher.Renderer = &render.Client{
			BaseURL:         cfg.RendererURL,
			Token:           cfg.RendererToken,
			WaitUntil:       cfg.RendererWaitUntil,
			WaitForSelector: cfg.RendererWaitForSelector,
			BlockAds:        cfg.RendererBlockAds,
			Timeout:         time.Duration(cfg.RendererTimeoutMs) * time.Millisecond,
			MaxHTMLBytes:    cfg.RendererMaxHTMLBytes,
		}
		fetcher.FallbackToHTTP = cfg.RendererFallbackToHTTP
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}
	var svc *search.Service
	if provider != nil {
		rps, rerr := search.RPSForTier(cfg.RateTier)
		if rerr != nil {
			st.Close()
			return nil, fmt.Errorf("config: %w", rerr)
		}
		svc = search.NewService(provider, st, rps, cfg.QueueMax)
		svc.RetryOn429 = cfg.RetryOn429
		svc.RetryMax = cfg.RetryMax
		svc.ResultTTL = time.Duration(cfg.ResultTTLMinutes) * time.Minute
		svc.StaticAllow = staticAllow
		svc.StaticBlock = staticBlock
	} else {
		log.Warn().Msg("no search provider configured; only direct web fetch is available")
	}

	pl := &pipeline.Pipeline{
		Store:              st,
		Fetch:              fetcher,
		Judge:              buildJudge(ctx, cfg),
		StaticAllow:        staticAllow,
		StaticBlock:        staticBlock,
		ExtraLanguageNames: cfg.LanguageNameAllowlistExtra,
		MediumThreshold:    settings.MediumThreshold,
		BlockThreshold:     settings.BlockThreshold,
		MaxExtractedChars:  settings.MaxExtractedChars,
		FailClosed:         cfg.FailClosed,
	}

	srv := &server.Server{
		Search:                svc,
		Pipeline:              pl,
		Store:                 st,
		RedactURLs:            cfg.RedactURLs,
		ExposeSafeContentURLs: cfg.ExposeSafeContentURLs,
		DashboardWriteAPI:     cfg.DashboardWriteAPI,
	}

	log.Info().
		Str("profile", cfg.Profile).
		Int("medium_threshold", settings.MediumThreshold).
		Int("block_threshold", settings.BlockThreshold).
		Bool("fail_closed", cfg.FailClosed).
		Bool("judge", pl.Judge.Enabled()).
		Str("renderer", cfg.RendererBackend).
		Msg("components wired")

	return &App{Config: cfg, Settings: settings, Store: st, Search: svc, Server: srv}, nil
}

// Close stops the search queue and releases the database.
func (a *App) Close() {
	if a.Search != nil {
		a.Search.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			log.Warn().Err(err).Msg("store close failed")
		}
	}
}

// RunRetentionSweeper purges expired records on a fixed interval until ctx
// is canceled. Sweep failures are logged and never touch live traffic.
func (a *App) RunRetentionSweeper(ctx context.Context) {
	interval := time.Duration(a.Config.SweepIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			stats, err := a.Store.PurgeExpiredData(a.Config.RetentionDays)
			if err != nil {
				log.Warn().Err(err).Msg("retention sweep failed")
				continue
			}
			log.Info().
				Int("search_results", stats.SearchResults).
				Int("search_requests", stats.SearchRequests).
				Int("fetch_events", stats.FetchEvents).
				Int("flagged_payloads", stats.FlaggedPayloads).
				Msg("retention sweep completed")
		}
	}
}

// buildProvider picks the search provider named in cfg, or infers one from
// the configured credentials. A nil, nil return means searchless operation.
func buildProvider(cfg Config) (search.Provider, error) {
	name := cfg.SearchProvider
	if name == "" {
		switch {
		case cfg.BraveAPIKey != "":
			name = ProviderBrave
		case cfg.SearxURL != "":
			name = ProviderSearxNG
		case cfg.SearchFile != "":
			name = ProviderFile
		default:
			return nil, nil
		}
	}
	switch name {
	case ProviderBrave:
		if strings.TrimSpace(cfg.BraveAPIKey) == "" {
			return nil, fmt.Errorf("config: brave provider needs an API key (or set BRAVE_API_KEY)")
		}
		return &search.Brave{APIKey: cfg.BraveAPIKey, HTTPClient: newOutboundHTTPClient(), UserAgent: cfg.UserAgent}, nil
	case ProviderSearxNG:
		if strings.TrimSpace(cfg.SearxURL) == "" {
			return nil, fmt.Errorf("config: searxng provider needs a base URL (or set SEARX_URL)")
		}
		return &search.SearxNG{BaseURL: cfg.SearxURL, APIKey: cfg.SearxKey, HTTPClient: newOutboundHTTPClient(), UserAgent: cfg.UserAgent}, nil
	case ProviderFile:
		if strings.TrimSpace(cfg.SearchFile) == "" {
			return nil, fmt.Errorf("config: file provider needs a results path")
		}
		return &search.FileProvider{Path: cfg.SearchFile}, nil
	default:
		return nil, fmt.Errorf("config: unknown search provider %q", name)
	}
}

// buildJudge constructs the adjudication client when enabled. The preflight
// model listing is best-effort: an unreachable endpoint only logs a warning,
// and failed judge calls later degrade to the deterministic decision.
func buildJudge(ctx context.Context, cfg Config) *judge.Judge {
	if !cfg.JudgeEnabled || strings.TrimSpace(cfg.JudgeModel) == "" {
		return nil
	}
	tc := openai.DefaultConfig(cfg.JudgeAPIKey)
	if cfg.JudgeBaseURL != "" {
		tc.BaseURL = cfg.JudgeBaseURL
	}
	tc.HTTPClient = newOutboundHTTPClient()
	client := openai.NewClientWithConfig(tc)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.ListModels(pctx); err != nil {
		log.Warn().Err(err).Str("model", cfg.JudgeModel).Msg("judge endpoint preflight failed; verdicts may be skipped")
	}
	return &judge.Judge{Client: client, Model: cfg.JudgeModel}
}

// newOutboundHTTPClient returns a client tuned for parallel upstream calls
// without client-side throttling. Used for the search providers and the
// judge; page fetching builds its own guarded client.
func newOutboundHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          0,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}
