package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dhintech/translate-gateway/internal/cache"
	"github.com/dhintech/translate-gateway/internal/config"
	"github.com/dhintech/translate-gateway/internal/engine"
	"github.com/dhintech/translate-gateway/internal/gateway"
	"github.com/dhintech/translate-gateway/internal/normalize"
	"github.com/dhintech/translate-gateway/internal/observability"
	"github.com/dhintech/translate-gateway/internal/persist"
	"github.com/dhintech/translate-gateway/internal/pipeline"
	"github.com/dhintech/translate-gateway/internal/ratelimit"
	"github.com/dhintech/translate-gateway/internal/room"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("engine_model", cfg.EngineModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Translate Gateway starting")

	// Translation cache, optionally pre-seeded with warm entries
	translationCache := cache.New(cache.Config{
		MaxEntries:     cfg.CacheMaxEntries,
		FuzzyThreshold: cfg.CacheFuzzyThreshold,
		FuzzyScanLimit: cfg.CacheFuzzyScanLimit,
		FuzzyMaxLen:    cfg.CacheFuzzyMaxTextLen,
	})
	if cfg.CacheSeedFile != "" {
		n, err := translationCache.LoadSeedFile(cfg.CacheSeedFile)
		if err != nil {
			logger.Warn().Err(err).Str("file", cfg.CacheSeedFile).Msg("Failed to seed cache")
		} else if n > 0 {
			logger.Info().Int("entries", n).Msg("Cache seeded")
		}
	}

	// Inference engine
	eng, err := engine.NewOpenAI(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create engine client")
	}
	translator := pipeline.NewTranslator(translationCache, eng)

	// Persistence is optional; without Redis the gateway runs standalone
	var notifier persist.Notifier = persist.Noop{}
	var redisNotifier *persist.Redis
	if cfg.RedisAddr != "" {
		redisNotifier, err = persist.NewRedis(cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		defer redisNotifier.Close()
		notifier = redisNotifier
	}

	// Room registry with idle sweeping
	registry := room.NewRegistry(room.Config{
		CodeLength:      cfg.RoomCodeLength,
		DefaultCapacity: cfg.RoomCapacity,
		IdleTimeout:     cfg.RoomIdle(),
		SweepInterval:   cfg.SweepInterval(),
	}, notifier)
	defer registry.Close()

	// Spell repair only kicks in when word lists are configured
	var normalizer normalize.Normalizer = normalize.Passthrough{}
	if lists := cfg.WordLists(); len(lists) > 0 {
		dict := normalize.NewDictionary(cfg.NormalizeEditBudget)
		for lang, path := range lists {
			n, err := dict.LoadWordList(lang, path)
			if err != nil {
				logger.Warn().Err(err).Str("lang", lang).Str("file", path).Msg("Failed to load word list")
				continue
			}
			logger.Info().Str("lang", lang).Int("words", n).Msg("Word list loaded")
		}
		normalizer = dict
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	handler := gateway.NewHandler(cfg, registry, limiter, translator, normalizer, notifier)

	// Create HTTP server
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.ServeWS)
	gateway.NewAPI(registry, translationCache).Register(mux)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness reflects the collaborators this instance actually uses
	checks := map[string]observability.HealthCheckFunc{
		"engine": func(ctx context.Context) (bool, error) {
			return true, nil
		},
	}
	if redisNotifier != nil {
		checks["redis"] = func(ctx context.Context) (bool, error) {
			if err := redisNotifier.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
