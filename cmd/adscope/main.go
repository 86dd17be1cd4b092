package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/use-agent/adscope/api"
	"github.com/use-agent/adscope/api/handler"
	"github.com/use-agent/adscope/browser"
	"github.com/use-agent/adscope/cache"
	"github.com/use-agent/adscope/config"
	"github.com/use-agent/adscope/scrape"
	"github.com/use-agent/adscope/source"
	"github.com/use-agent/adscope/vision"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	_ = godotenv.Load()
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("adscope starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"browserEnabled", cfg.Browser.Enabled,
		"searchConfigured", cfg.SearchAPI.APIKey != "",
		"crawlConfigured", cfg.CrawlAPI.APIToken != "",
		"visionConfigured", cfg.Vision.APIKey != "",
	)

	deps := &handler.Deps{Cfg: cfg}

	// ── 3. Optional headless browser (launches Chrome) ──────────────
	if cfg.Browser.Enabled {
		b, err := browser.New(cfg.Browser)
		if err != nil {
			slog.Error("failed to initialise browser", "error", err)
			os.Exit(1)
		}
		defer b.Close()
		deps.Browser = b
	}

	// ── 4. Optional crawl API client ────────────────────────────────
	if cfg.CrawlAPI.APIToken != "" {
		crawl, err := source.NewCrawlClient(cfg.CrawlAPI)
		if err != nil {
			slog.Error("failed to initialise crawl client", "error", err)
			os.Exit(1)
		}
		deps.Crawl = crawl
	}

	// ── 5. Optional vision enrichment ───────────────────────────────
	if cfg.Vision.APIKey != "" {
		deps.Enricher = vision.NewEnricher(vision.NewClient(cfg.Vision))
	}

	// ── 6. Job registry + response cache ────────────────────────────
	deps.Registry = scrape.NewRegistry(cfg.Scrape.JobTTL)
	defer deps.Registry.Close()
	deps.Cache = cache.New(cfg.Cache.MaxEntries)

	// ── 7. Setup router ─────────────────────────────────────────────
	startTime := time.Now()
	router := api.NewRouter(deps, startTime)

	// ── 8. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 9. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Give in-flight requests 5 seconds to complete.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// Deferred cleanup drains the page pool and kills Chrome.
	slog.Info("adscope stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(h))
}
