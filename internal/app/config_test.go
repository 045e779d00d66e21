package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSettingsForProfile(t *testing.T) {
	tests := []struct {
		name    string
		profile string
		want    ProfileSettings
		wantErr bool
	}{
		{
			name:    "strict",
			profile: "strict",
			want: ProfileSettings{
				MediumThreshold:   6,
				BlockThreshold:    10,
				MaxFetchBytes:     1_000_000,
				MaxExtractedChars: 16_000,
				FetchTimeout:      7 * time.Second,
				MaxRedirects:      3,
			},
		},
		{
			name:    "baseline",
			profile: "baseline",
			want: ProfileSettings{
				MediumThreshold:   8,
				BlockThreshold:    14,
				MaxFetchBytes:     1_500_000,
				MaxExtractedChars: 22_000,
				FetchTimeout:      8 * time.Second,
				MaxRedirects:      4,
			},
		},
		{
			name:    "paranoid",
			profile: "paranoid",
			want: ProfileSettings{
				MediumThreshold:   4,
				BlockThreshold:    7,
				MaxFetchBytes:     750_000,
				MaxExtractedChars: 10_000,
				FetchTimeout:      6 * time.Second,
				MaxRedirects:      2,
			},
		},
		{name: "case insensitive", profile: " Strict ", want: profileSettings[ProfileStrict]},
		{name: "unknown", profile: "lenient", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SettingsForProfile(tt.profile)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("SettingsForProfile(%q) error = nil, want error", tt.profile)
				}
				return
			}
			if err != nil {
				t.Fatalf("SettingsForProfile(%q) error = %v", tt.profile, err)
			}
			if got != tt.want {
				t.Errorf("SettingsForProfile(%q) = %+v, want %+v", tt.profile, got, tt.want)
			}
		})
	}
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	if cfg.Profile != ProfileStrict {
		t.Errorf("Profile = %q, want strict", cfg.Profile)
	}
	if cfg.RateTier != "free" {
		t.Errorf("RateTier = %q, want free", cfg.RateTier)
	}
	if cfg.QueueMax != 10 || cfg.RetryMax != 1 || !cfg.RetryOn429 {
		t.Errorf("queue defaults = %d/%d/%t", cfg.QueueMax, cfg.RetryMax, cfg.RetryOn429)
	}
	if !cfg.RedactURLs || !cfg.ExposeSafeContentURLs || !cfg.FailClosed {
		t.Errorf("safety defaults = %t/%t/%t", cfg.RedactURLs, cfg.ExposeSafeContentURLs, cfg.FailClosed)
	}
	if cfg.ResultTTLMinutes != 30 || cfg.RetentionDays != 30 || cfg.SweepIntervalMinutes != 30 {
		t.Errorf("lifecycle defaults = %d/%d/%d", cfg.ResultTTLMinutes, cfg.RetentionDays, cfg.SweepIntervalMinutes)
	}
	if cfg.RendererBackend != RendererNone {
		t.Errorf("RendererBackend = %q, want none", cfg.RendererBackend)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate(Default()) = %v, want nil", err)
	}
}

func TestParseEnvOverlay(t *testing.T) {
	t.Setenv("CLAWRUBBER_PROFILE", "paranoid")
	t.Setenv("CLAWRUBBER_REDACT_URLS", "false")
	t.Setenv("CLAWRUBBER_BLOCKLIST", "evil.example, spam.example")
	t.Setenv("CLAWRUBBER_QUEUE_MAX", "5")
	t.Setenv("BRAVE_API_KEY", "k-123")

	cfg := Default()
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("ParseEnv: %v", err)
	}
	if cfg.Profile != "paranoid" {
		t.Errorf("Profile = %q", cfg.Profile)
	}
	if cfg.RedactURLs {
		t.Error("RedactURLs stayed true despite env override")
	}
	if len(cfg.Blocklist) != 2 || strings.TrimSpace(cfg.Blocklist[1]) != "spam.example" {
		t.Errorf("Blocklist = %v", cfg.Blocklist)
	}
	if cfg.QueueMax != 5 {
		t.Errorf("QueueMax = %d", cfg.QueueMax)
	}
	if cfg.BraveAPIKey != "k-123" {
		t.Errorf("BraveAPIKey = %q", cfg.BraveAPIKey)
	}
	// Untouched fields keep their defaults.
	if !cfg.FailClosed || cfg.RetentionDays != 30 {
		t.Errorf("unset fields changed: failClosed=%t retention=%d", cfg.FailClosed, cfg.RetentionDays)
	}
}

func TestParseEnvRejectsGarbage(t *testing.T) {
	t.Setenv("CLAWRUBBER_QUEUE_MAX", "many")
	cfg := Default()
	if err := ParseEnv(&cfg); err == nil {
		t.Fatal("ParseEnv accepted a non-numeric queue size")
	}
}

func TestApplyFileConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clawrubber.yaml")
	doc := `
listen: ":9090"
profile: baseline
search:
  provider: searxng
  tier: paid
  queueMax: 4
searx:
  url: https://searx.internal
  key: sk-1
domains:
  block: [evil.example]
safety:
  redactUrls: false
  failClosed: false
judge:
  enabled: true
  model: adjudicator
retention:
  days: 7
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	fc, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}

	cfg := Default()
	ApplyFileConfig(&cfg, fc)

	if cfg.ListenAddr != ":9090" || cfg.Profile != "baseline" {
		t.Errorf("listen=%q profile=%q", cfg.ListenAddr, cfg.Profile)
	}
	if cfg.SearchProvider != "searxng" || cfg.RateTier != "paid" || cfg.QueueMax != 4 {
		t.Errorf("search = %q/%q/%d", cfg.SearchProvider, cfg.RateTier, cfg.QueueMax)
	}
	if cfg.SearxURL != "https://searx.internal" || cfg.SearxKey != "sk-1" {
		t.Errorf("searx = %q/%q", cfg.SearxURL, cfg.SearxKey)
	}
	if len(cfg.Blocklist) != 1 || cfg.Blocklist[0] != "evil.example" {
		t.Errorf("Blocklist = %v", cfg.Blocklist)
	}
	if cfg.RedactURLs {
		t.Error("explicit redactUrls: false was ignored")
	}
	if cfg.FailClosed {
		t.Error("explicit failClosed: false was ignored")
	}
	if !cfg.JudgeEnabled || cfg.JudgeModel != "adjudicator" {
		t.Errorf("judge = %t/%q", cfg.JudgeEnabled, cfg.JudgeModel)
	}
	if cfg.RetentionDays != 7 {
		t.Errorf("RetentionDays = %d", cfg.RetentionDays)
	}
	// Sections absent from the file keep defaults.
	if !cfg.ExposeSafeContentURLs || cfg.RetryMax != 1 || cfg.SweepIntervalMinutes != 30 {
		t.Errorf("absent sections changed: %t/%d/%d", cfg.ExposeSafeContentURLs, cfg.RetryMax, cfg.SweepIntervalMinutes)
	}
}

func TestLoadConfigFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clawrubber.json")
	doc := `{"profile":"paranoid","dashboard":{"writeApi":true}}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	fc, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	cfg := Default()
	ApplyFileConfig(&cfg, fc)
	if cfg.Profile != "paranoid" || !cfg.DashboardWriteAPI {
		t.Errorf("profile=%q writeApi=%t", cfg.Profile, cfg.DashboardWriteAPI)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "unknown profile", mutate: func(c *Config) { c.Profile = "casual" }, want: "profile"},
		{name: "unknown tier", mutate: func(c *Config) { c.RateTier = "platinum" }, want: "tier"},
		{name: "zero queue", mutate: func(c *Config) { c.QueueMax = 0 }, want: "queueMax"},
		{name: "negative retry", mutate: func(c *Config) { c.RetryMax = -1 }, want: "retryMax"},
		{name: "zero ttl", mutate: func(c *Config) { c.ResultTTLMinutes = 0 }, want: "TTL"},
		{name: "zero retention", mutate: func(c *Config) { c.RetentionDays = 0 }, want: "retention"},
		{name: "bad provider", mutate: func(c *Config) { c.SearchProvider = "bing" }, want: "provider"},
		{name: "browserless without url", mutate: func(c *Config) { c.RendererBackend = RendererBrowserless }, want: "URL"},
		{name: "bad renderer", mutate: func(c *Config) { c.RendererBackend = "selenium" }, want: "renderer"},
		{name: "judge without model", mutate: func(c *Config) { c.JudgeEnabled = true }, want: "model"},
		{name: "empty db path", mutate: func(c *Config) { c.DBPath = " " }, want: "database"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want mention of %q", err, tt.want)
			}
		})
	}

	valid := Default()
	valid.RateTier = "25"
	valid.SearchProvider = ProviderFile
	valid.SearchFile = "results.json"
	if err := Validate(valid); err != nil {
		t.Errorf("Validate(valid) = %v", err)
	}
}
