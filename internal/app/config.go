package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v7"

	"github.com/hyperifyio/clawrubber/internal/search"
)

// Safety profiles. A profile fixes the scoring thresholds and the fetch
// limits as one coherent tuple; individual limits are not overridable.
const (
	ProfileBaseline = "baseline"
	ProfileStrict   = "strict"
	ProfileParanoid = "paranoid"
)

// Renderer backends.
const (
	RendererNone        = "none"
	RendererBrowserless = "browserless"
)

// Search providers.
const (
	ProviderBrave   = "brave"
	ProviderSearxNG = "searxng"
	ProviderFile    = "file"
)

// ProfileSettings is the tuple a profile resolves to.
type ProfileSettings struct {
	// MediumThreshold opens the judge band; BlockThreshold closes it.
	MediumThreshold int
	BlockThreshold  int
	// MaxFetchBytes caps the raw response body.
	MaxFetchBytes int64
	// MaxExtractedChars caps extracted content when the caller sets no limit.
	MaxExtractedChars int
	// FetchTimeout bounds each outbound hop.
	FetchTimeout time.Duration
	// MaxRedirects caps the redirect chain.
	MaxRedirects int
}

var profileSettings = map[string]ProfileSettings{
	ProfileBaseline: {
		MediumThreshold:   8,
		BlockThreshold:    14,
		MaxFetchBytes:     1_500_000,
		MaxExtractedChars: 22_000,
		FetchTimeout:      8 * time.Second,
		MaxRedirects:      4,
	},
	ProfileStrict: {
		MediumThreshold:   6,
		BlockThreshold:    10,
		MaxFetchBytes:     1_000_000,
		MaxExtractedChars: 16_000,
		FetchTimeout:      7 * time.Second,
		MaxRedirects:      3,
	},
	ProfileParanoid: {
		MediumThreshold:   4,
		BlockThreshold:    7,
		MaxFetchBytes:     750_000,
		MaxExtractedChars: 10_000,
		FetchTimeout:      6 * time.Second,
		MaxRedirects:      2,
	},
}

// SettingsForProfile resolves a profile name to its settings tuple.
func SettingsForProfile(name string) (ProfileSettings, error) {
	s, ok := profileSettings[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return ProfileSettings{}, fmt.Errorf("config: unknown profile %q (want baseline, strict or paranoid)", name)
	}
	return s, nil
}

// Config holds runtime configuration for the proxy. Defaults come from
// Default, a config file overlays them, environment variables overlay the
// file, and explicitly set flags win over everything.
type Config struct {
	ListenAddr string `env:"CLAWRUBBER_LISTEN"`
	DBPath     string `env:"CLAWRUBBER_DB_PATH"`
	Profile    string `env:"CLAWRUBBER_PROFILE"`

	// Search upstream. When SearchProvider is empty the provider is
	// inferred from whichever credential is present.
	SearchProvider   string `env:"CLAWRUBBER_SEARCH_PROVIDER"`
	RateTier         string `env:"CLAWRUBBER_RATE_TIER"`
	QueueMax         int    `env:"CLAWRUBBER_QUEUE_MAX"`
	RetryOn429       bool   `env:"CLAWRUBBER_RETRY_ON_429"`
	RetryMax         int    `env:"CLAWRUBBER_RETRY_MAX"`
	ResultTTLMinutes int    `env:"CLAWRUBBER_RESULT_TTL_MINUTES"`

	BraveAPIKey string `env:"BRAVE_API_KEY"`
	SearxURL    string `env:"SEARX_URL"`
	SearxKey    string `env:"SEARX_KEY"`
	SearchFile  string `env:"SEARCH_FILE"`

	// Domain policy
	Allowlist                  []string `env:"CLAWRUBBER_ALLOWLIST" envSeparator:","`
	Blocklist                  []string `env:"CLAWRUBBER_BLOCKLIST" envSeparator:","`
	LanguageNameAllowlistExtra []string `env:"CLAWRUBBER_LANGUAGE_ALLOWLIST_EXTRA" envSeparator:","`

	RedactURLs            bool `env:"CLAWRUBBER_REDACT_URLS"`
	ExposeSafeContentURLs bool `env:"CLAWRUBBER_EXPOSE_SAFE_CONTENT_URLS"`
	FailClosed            bool `env:"CLAWRUBBER_FAIL_CLOSED"`

	UserAgent string `env:"CLAWRUBBER_USER_AGENT"`

	// Headless renderer
	RendererBackend         string `env:"CLAWRUBBER_RENDERER"`
	RendererURL             string `env:"BROWSERLESS_URL"`
	RendererToken           string `env:"BROWSERLESS_TOKEN"`
	RendererTimeoutMs       int    `env:"CLAWRUBBER_RENDERER_TIMEOUT_MS"`
	RendererWaitUntil       string `env:"CLAWRUBBER_RENDERER_WAIT_UNTIL"`
	RendererWaitForSelector string `env:"CLAWRUBBER_RENDERER_WAIT_FOR_SELECTOR"`
	RendererMaxHTMLBytes    int64  `env:"CLAWRUBBER_RENDERER_MAX_HTML_BYTES"`
	RendererFallbackToHTTP  bool   `env:"CLAWRUBBER_RENDERER_FALLBACK_TO_HTTP"`
	RendererBlockAds        bool   `env:"CLAWRUBBER_RENDERER_BLOCK_ADS"`

	// Adjudication model (OpenAI-compatible endpoint)
	JudgeEnabled bool   `env:"CLAWRUBBER_JUDGE_ENABLED"`
	JudgeBaseURL string `env:"LLM_BASE_URL"`
	JudgeModel   string `env:"LLM_MODEL"`
	JudgeAPIKey  string `env:"LLM_API_KEY"`

	RetentionDays        int `env:"CLAWRUBBER_RETENTION_DAYS"`
	SweepIntervalMinutes int `env:"CLAWRUBBER_SWEEP_INTERVAL_MINUTES"`

	DashboardWriteAPI bool `env:"CLAWRUBBER_DASHBOARD_WRITE_API"`

	LogLevel      string `env:"CLAWRUBBER_LOG_LEVEL"`
	LogFile       string `env:"CLAWRUBBER_LOG_FILE"`
	LogMaxSizeMB  int    `env:"CLAWRUBBER_LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `env:"CLAWRUBBER_LOG_MAX_BACKUPS"`
}

// Default returns the configuration used when nothing else is specified.
func Default() Config {
	return Config{
		ListenAddr:             ":8080",
		DBPath:                 "clawrubber.db",
		Profile:                ProfileStrict,
		RateTier:               "free",
		QueueMax:               10,
		RetryOn429:             true,
		RetryMax:               1,
		ResultTTLMinutes:       30,
		RedactURLs:             true,
		ExposeSafeContentURLs:  true,
		FailClosed:             true,
		UserAgent:              "clawrubber/1.0",
		RendererBackend:        RendererNone,
		RendererTimeoutMs:      30_000,
		RendererFallbackToHTTP: true,
		RetentionDays:          30,
		SweepIntervalMinutes:   30,
		LogLevel:               "info",
		LogMaxSizeMB:           100,
		LogMaxBackups:          3,
	}
}

// ParseEnv overlays environment variables onto cfg. Variables that are not
// set leave the current value alone.
func ParseEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("config: parse environment: %w", err)
	}
	return nil
}

// Validate rejects configurations New would fail on or silently misuse.
func Validate(cfg Config) error {
	if _, err := SettingsForProfile(cfg.Profile); err != nil {
		return err
	}
	if _, err := search.RPSForTier(cfg.RateTier); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.QueueMax <= 0 {
		return errors.New("config: queueMax must be positive")
	}
	if cfg.RetryMax < 0 {
		return errors.New("config: retryMax must not be negative")
	}
	if cfg.ResultTTLMinutes <= 0 {
		return errors.New("config: result TTL must be positive")
	}
	if cfg.RetentionDays <= 0 {
		return errors.New("config: retention days must be positive")
	}
	if cfg.SweepIntervalMinutes <= 0 {
		return errors.New("config: sweep interval must be positive")
	}
	switch cfg.SearchProvider {
	case "", ProviderBrave, ProviderSearxNG, ProviderFile:
	default:
		return fmt.Errorf("config: unknown search provider %q", cfg.SearchProvider)
	}
	switch cfg.RendererBackend {
	case "", RendererNone:
	case RendererBrowserless:
		if strings.TrimSpace(cfg.RendererURL) == "" {
			return errors.New("config: browserless renderer needs a URL")
		}
	default:
		return fmt.Errorf("config: unknown renderer backend %q", cfg.RendererBackend)
	}
	if cfg.JudgeEnabled && strings.TrimSpace(cfg.JudgeModel) == "" {
		return errors.New("config: judge is enabled but no model is set (or set LLM_MODEL)")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return errors.New("config: database path is required")
	}
	return nil
}
