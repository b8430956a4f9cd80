package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/DistPub/sync-163yaowen-to-bsky/internal/bsky"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/config"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/feed"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/gitops"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/imagefetch"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/logger"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/metrics"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/pipeline"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/proxy"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/publisher"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/retry"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/scrape"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/state"
)

func main() {
	_ = godotenv.Load()
	logger.Init()

	service := flag.String("service", "", "PDS endpoint")
	username := flag.String("username", "", "account username")
	password := flag.String("password", "", "account password")
	proxyUser := flag.String("proxy-user", "", "proxy username")
	proxyPass := flag.String("proxy-pass", "", "proxy password")
	dryRun := flag.Bool("dry-run", false, "skip the durable-commit step")
	checkProxies := flag.Bool("check-proxies", false, "validate the proxy pool and persist survivors")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if *service != "" {
		cfg.Service = *service
	}
	if *username != "" {
		cfg.Identifier = *username
	}
	if *password != "" {
		cfg.Password = *password
	}
	if *proxyUser != "" {
		cfg.ProxyUsername = *proxyUser
	}
	if *proxyPass != "" {
		cfg.ProxyPassword = *proxyPass
	}

	if os.Getenv("ENABLE_HTTP_MONITORING") == "true" {
		go startMonitoringServer()
	}

	ctx := context.Background()

	if *checkProxies {
		os.Exit(runProxyCheck(ctx, cfg))
	}
	os.Exit(runSync(ctx, cfg, *dryRun))
}

// runProxyCheck validates every candidate against the probe target and
// rewrites the pool file with the survivors.
func runProxyCheck(ctx context.Context, cfg *config.Config) int {
	candidates, err := proxy.LoadFile(cfg.ProxyFilePath)
	if err != nil {
		logger.Error("proxy list load failed", "error", err)
		return 1
	}

	pool := proxy.New(candidates, cfg.ProxyUsername, cfg.ProxyPassword)
	healthy := pool.Validate(ctx, cfg.ProbeURL, cfg.RequestTimeout)
	logger.Info("proxy health check", "candidates", pool.Len(), "healthy", healthy.Len())

	if err := proxy.SaveFile(cfg.ProxyFilePath, healthy.Candidates()); err != nil {
		logger.Error("proxy list save failed", "error", err)
		return 1
	}
	if healthy.Len() == 0 {
		logger.Error("no healthy proxies remain")
		return 1
	}
	return 0
}

func runSync(ctx context.Context, cfg *config.Config, dryRun bool) int {
	if err := cfg.ValidateSync(); err != nil {
		logger.Error("invalid config", "error", err)
		return 1
	}

	urls, err := feed.LoadSources(cfg.FeedsConfigPath)
	if err != nil {
		logger.Error("feed sources load failed", "path", cfg.FeedsConfigPath, "error", err)
		return 1
	}

	// An absent pool file just means every image fetch rides the direct path.
	var candidates []proxy.Candidate
	if loaded, err := proxy.LoadFile(cfg.ProxyFilePath); err != nil {
		logger.Warn("proxy list unavailable, continuing without fallback", "error", err)
	} else {
		candidates = loaded
	}
	pool := proxy.New(candidates, cfg.ProxyUsername, cfg.ProxyPassword)

	store := state.NewStore(cfg.WatermarkPath, cfg.WindowPath)
	if err := store.Load(time.Now()); err != nil {
		logger.Error("state load failed", "error", err)
		return 1
	}

	retryCfg := retry.Config{MaxAttempts: cfg.RetryAttempts, Delay: cfg.RetryDelay, Backoff: true}
	client := bsky.NewClient(cfg.Service, cfg.RequestTimeout, retryCfg)
	if err := client.Login(ctx, cfg.Identifier, cfg.Password); err != nil {
		logger.Error("login failed", "error", err)
		return 1
	}

	var committer gitops.Committer = &gitops.Git{
		AuthorName:  cfg.GitAuthorName,
		AuthorEmail: cfg.GitAuthorEmail,
		Message:     cfg.CommitMessage,
	}
	if dryRun {
		committer = gitops.Noop{}
	}

	runner := pipeline.NewRunner(pipeline.Deps{
		Source:    feed.NewMultiSource(feed.NewClient(cfg.RequestTimeout), urls),
		Images:    imagefetch.New(pool, cfg.ImageTimeout),
		Preview:   scrape.NewExtractor(cfg.RequestTimeout),
		Poster:    publisher.New(client, nil),
		State:     store,
		Committer: committer,
	})

	if _, err := runner.Run(ctx); err != nil {
		logger.Error("run failed", "error", err)
		return 1
	}
	return 0
}

func startMonitoringServer() {
	port := os.Getenv("MONITORING_PORT")
	if port == "" {
		port = "8080"
	}

	http.HandleFunc("/health", healthHandler)
	http.HandleFunc("/metrics", metricsHandler)

	logger.Info("monitoring server listening", "port", port)
	if err := http.ListenAndServe(":"+port, nil); err != nil {
		logger.Error("monitoring server stopped", "error", err)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	stats := metrics.Global.GetStats()

	status := "ok"
	if !stats["is_healthy"].(bool) {
		status = "error"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     status,
		"last_run":   stats["last_run_time"],
		"last_error": stats["last_error"],
	})
}

func metricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(metrics.Global.GetStats())
}
