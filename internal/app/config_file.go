package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	yaml "gopkg.in/yaml.v3"
)

// FileConfig is the single-file configuration schema. Nested sections map
// naturally to the dotted flag names. Pointer fields distinguish "absent"
// from an explicit false or zero, which matters for the toggles that
// default to true.
type FileConfig struct {
	Listen  string `yaml:"listen" json:"listen"`
	DBPath  string `yaml:"dbPath" json:"dbPath"`
	Profile string `yaml:"profile" json:"profile"`

	Search struct {
		Provider         string `yaml:"provider" json:"provider"`
		Tier             string `yaml:"tier" json:"tier"`
		QueueMax         *int   `yaml:"queueMax" json:"queueMax"`
		RetryOn429       *bool  `yaml:"retryOn429" json:"retryOn429"`
		RetryMax         *int   `yaml:"retryMax" json:"retryMax"`
		ResultTTLMinutes *int   `yaml:"resultTtlMinutes" json:"resultTtlMinutes"`
		File             string `yaml:"file" json:"file"`
	} `yaml:"search" json:"search"`

	Brave struct {
		Key string `yaml:"key" json:"key"`
	} `yaml:"brave" json:"brave"`

	Searx struct {
		URL string `yaml:"url" json:"url"`
		Key string `yaml:"key" json:"key"`
	} `yaml:"searx" json:"searx"`

	Domains struct {
		Allow []string `yaml:"allow" json:"allow"`
		Block []string `yaml:"block" json:"block"`
	} `yaml:"domains" json:"domains"`

	Safety struct {
		FailClosed                 *bool    `yaml:"failClosed" json:"failClosed"`
		RedactURLs                 *bool    `yaml:"redactUrls" json:"redactUrls"`
		ExposeSafeContentURLs      *bool    `yaml:"exposeSafeContentUrls" json:"exposeSafeContentUrls"`
		LanguageNameAllowlistExtra []string `yaml:"languageNameAllowlistExtra" json:"languageNameAllowlistExtra"`
	} `yaml:"safety" json:"safety"`

	Renderer struct {
		Backend         string `yaml:"backend" json:"backend"`
		URL             string `yaml:"url" json:"url"`
		Token           string `yaml:"token" json:"token"`
		TimeoutMs       *int   `yaml:"timeoutMs" json:"timeoutMs"`
		WaitUntil       string `yaml:"waitUntil" json:"waitUntil"`
		WaitForSelector string `yaml:"waitForSelector" json:"waitForSelector"`
		MaxHTMLBytes    *int64 `yaml:"maxHtmlBytes" json:"maxHtmlBytes"`
		FallbackToHTTP  *bool  `yaml:"fallbackToHttp" json:"fallbackToHttp"`
		BlockAds        *bool  `yaml:"blockAds" json:"blockAds"`
	} `yaml:"renderer" json:"renderer"`

	Judge struct {
		Enabled *bool  `yaml:"enabled" json:"enabled"`
		BaseURL string `yaml:"base" json:"base"`
		Model   string `yaml:"model" json:"model"`
		Key     string `yaml:"key" json:"key"`
	} `yaml:"judge" json:"judge"`

	Retention struct {
		Days                 *int `yaml:"days" json:"days"`
		SweepIntervalMinutes *int `yaml:"sweepIntervalMinutes" json:"sweepIntervalMinutes"`
	} `yaml:"retention" json:"retention"`

	UserAgent string `yaml:"userAgent" json:"userAgent"`

	Dashboard struct {
		WriteAPI *bool `yaml:"writeApi" json:"writeApi"`
	} `yaml:"dashboard" json:"dashboard"`

	Log struct {
		Level      string `yaml:"level" json:"level"`
		File       string `yaml:"file" json:"file"`
		MaxSizeMB  *int   `yaml:"maxSizeMb" json:"maxSizeMb"`
		MaxBackups *int   `yaml:"maxBackups" json:"maxBackups"`
	} `yaml:"log" json:"log"`
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		// Try YAML then JSON
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays set file values onto cfg. The caller applies it
// over Default and before the environment, giving the precedence
// flags > env > file > defaults.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}

	setString(&cfg.ListenAddr, fc.Listen)
	setString(&cfg.DBPath, fc.DBPath)
	setString(&cfg.Profile, fc.Profile)

	setString(&cfg.SearchProvider, fc.Search.Provider)
	setString(&cfg.RateTier, fc.Search.Tier)
	setInt(&cfg.QueueMax, fc.Search.QueueMax)
	setBool(&cfg.RetryOn429, fc.Search.RetryOn429)
	setInt(&cfg.RetryMax, fc.Search.RetryMax)
	setInt(&cfg.ResultTTLMinutes, fc.Search.ResultTTLMinutes)
	setString(&cfg.SearchFile, fc.Search.File)

	setString(&cfg.BraveAPIKey, fc.Brave.Key)
	setString(&cfg.SearxURL, fc.Searx.URL)
	setString(&cfg.SearxKey, fc.Searx.Key)

	setStrings(&cfg.Allowlist, fc.Domains.Allow)
	setStrings(&cfg.Blocklist, fc.Domains.Block)
	setStrings(&cfg.LanguageNameAllowlistExtra, fc.Safety.LanguageNameAllowlistExtra)

	setBool(&cfg.FailClosed, fc.Safety.FailClosed)
	setBool(&cfg.RedactURLs, fc.Safety.RedactURLs)
	setBool(&cfg.ExposeSafeContentURLs, fc.Safety.ExposeSafeContentURLs)

	setString(&cfg.RendererBackend, fc.Renderer.Backend)
	setString(&cfg.RendererURL, fc.Renderer.URL)
	setString(&cfg.RendererToken, fc.Renderer.Token)
	setInt(&cfg.RendererTimeoutMs, fc.Renderer.TimeoutMs)
	setString(&cfg.RendererWaitUntil, fc.Renderer.WaitUntil)
	setString(&cfg.RendererWaitForSelector, fc.Renderer.WaitForSelector)
	setInt64(&cfg.RendererMaxHTMLBytes, fc.Renderer.MaxHTMLBytes)
	setBool(&cfg.RendererFallbackToHTTP, fc.Renderer.FallbackToHTTP)
	setBool(&cfg.RendererBlockAds, fc.Renderer.BlockAds)

	setBool(&cfg.JudgeEnabled, fc.Judge.Enabled)
	setString(&cfg.JudgeBaseURL, fc.Judge.BaseURL)
	setString(&cfg.JudgeModel, fc.Judge.Model)
	setString(&cfg.JudgeAPIKey, fc.Judge.Key)

	setInt(&cfg.RetentionDays, fc.Retention.Days)
	setInt(&cfg.SweepIntervalMinutes, fc.Retention.SweepIntervalMinutes)

	setString(&cfg.UserAgent, fc.UserAgent)
	setBool(&cfg.DashboardWriteAPI, fc.Dashboard.WriteAPI)

	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.LogFile, fc.Log.File)
	setInt(&cfg.LogMaxSizeMB, fc.Log.MaxSizeMB)
	setInt(&cfg.LogMaxBackups, fc.Log.MaxBackups)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setStrings(dst *[]string, v []string) {
	if len(v) > 0 {
		*dst = append([]string{}, v...)
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setInt64(dst *int64, v *int64) {
	if v != nil {
		*dst = *v
	}
}
