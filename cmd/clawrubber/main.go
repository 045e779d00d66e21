package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/hyperifyio/clawrubber/internal/app"
	"github.com/hyperifyio/clawrubber/internal/metrics"
)

func main() {
	var (
		configPath string
		listen     string
		dbPath     string
		profile    string

		searchProvider string
		searchTier     string
		searchQueueMax int
		searchFile     string
		braveKey       string
		searxURL       string
		searxKey       string

		domainsAllow string
		domainsBlock string

		rendererBackend string
		rendererURL     string
		rendererToken   string

		judgeEnable bool
		judgeBase   string
		judgeModel  string
		judgeKey    string

		dashboardWrite bool
		logLevel       string
		logFile        string
		verbose        bool
		showVersion    bool
	)

	flag.StringVar(&configPath, "config", "", "Path to YAML or JSON config file")
	flag.StringVar(&listen, "listen", ":8080", "HTTP listen address")
	flag.StringVar(&dbPath, "db.path", "clawrubber.db", "Path to the bbolt database file")
	flag.StringVar(&profile, "profile", "strict", "Safety profile: baseline, strict or paranoid")
	flag.StringVar(&searchProvider, "search.provider", "", "Search provider: brave, searxng or file (default inferred from credentials)")
	flag.StringVar(&searchTier, "search.tier", "free", "Upstream rate tier (free, paid, base, pro) or requests per second")
	flag.IntVar(&searchQueueMax, "search.queueMax", 10, "Maximum pending upstream searches before overflow")
	flag.StringVar(&searchFile, "search.file", "", "Path to JSON file for the offline file-based search provider")
	flag.StringVar(&braveKey, "brave.key", "", "Brave Search API key")
	flag.StringVar(&searxURL, "searx.url", "", "SearxNG base URL")
	flag.StringVar(&searxKey, "searx.key", "", "SearxNG API key (optional)")
	flag.StringVar(&domainsAllow, "domains.allow", "", "Comma-separated allowlist of domains that bypass inspection")
	flag.StringVar(&domainsBlock, "domains.block", "", "Comma-separated blocklist of domains refused outright")
	flag.StringVar(&rendererBackend, "renderer", "none", "Renderer backend: none or browserless")
	flag.StringVar(&rendererURL, "renderer.url", "", "Browserless base URL")
	flag.StringVar(&rendererToken, "renderer.token", "", "Browserless bearer token (optional)")
	flag.BoolVar(&judgeEnable, "judge.enable", false, "Consult the adjudication model for medium-band content")
	flag.StringVar(&judgeBase, "judge.base", "", "OpenAI-compatible base URL for the judge")
	flag.StringVar(&judgeModel, "judge.model", "", "Judge model name")
	flag.StringVar(&judgeKey, "judge.key", "", "API key for the judge endpoint")
	flag.BoolVar(&dashboardWrite, "dashboard.writeApi", false, "Enable the admin allowlist/blocklist write endpoints")
	flag.StringVar(&logLevel, "log.level", "info", "Log level: trace, debug, info, warn or error")
	flag.StringVar(&logFile, "log.file", "", "Log file path for rotated JSON logs (stderr only when empty)")
	flag.BoolVar(&verbose, "v", false, "Shorthand for -log.level=debug")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("clawrubber %s (commit %s, built %s)\n", app.BuildVersion, app.BuildCommit, app.BuildDate)
		return
	}

	cfg := app.Default()
	if configPath != "" {
		fc, err := app.LoadConfigFile(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config %s: %v\n", configPath, err)
			os.Exit(1)
		}
		app.ApplyFileConfig(&cfg, fc)
	}
	if err := app.ParseEnv(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Explicitly passed flags win over both the environment and the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.ListenAddr = listen
		case "db.path":
			cfg.DBPath = dbPath
		case "profile":
			cfg.Profile = profile
		case "search.provider":
			cfg.SearchProvider = searchProvider
		case "search.tier":
			cfg.RateTier = searchTier
		case "search.queueMax":
			cfg.QueueMax = searchQueueMax
		case "search.file":
			cfg.SearchFile = searchFile
		case "brave.key":
			cfg.BraveAPIKey = braveKey
		case "searx.url":
			cfg.SearxURL = searxURL
		case "searx.key":
			cfg.SearxKey = searxKey
		case "domains.allow":
			cfg.Allowlist = splitCSV(domainsAllow)
		case "domains.block":
			cfg.Blocklist = splitCSV(domainsBlock)
		case "renderer":
			cfg.RendererBackend = rendererBackend
		case "renderer.url":
			cfg.RendererURL = rendererURL
		case "renderer.token":
			cfg.RendererToken = rendererToken
		case "judge.enable":
			cfg.JudgeEnabled = judgeEnable
		case "judge.base":
			cfg.JudgeBaseURL = judgeBase
		case "judge.model":
			cfg.JudgeModel = judgeModel
		case "judge.key":
			cfg.JudgeAPIKey = judgeKey
		case "dashboard.writeApi":
			cfg.DashboardWriteAPI = dashboardWrite
		case "log.level":
			cfg.LogLevel = logLevel
		case "log.file":
			cfg.LogFile = logFile
		}
	})
	if verbose {
		cfg.LogLevel = "debug"
	}

	setupLogging(cfg)

	if err := app.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
}

func setupLogging(cfg app.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	var sink io.Writer = console
	if cfg.LogFile != "" {
		sink = zerolog.MultiLevelWriter(console, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		})
	}
	log.Logger = log.Output(sink)
}

func run(cfg app.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer a.Close()

	if a.Search != nil {
		metrics.RegisterSearchQueueDepth(a.Search.QueueLen)
		a.Search.OnRetry = func() { metrics.SearchRetriesTotal.Inc() }
	}

	go a.RunRetentionSweeper(ctx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("version", app.BuildVersion).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
