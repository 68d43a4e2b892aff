package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/pulseops/ai-gateway/internal/gateway/auth"
	"github.com/pulseops/ai-gateway/internal/gateway/handlers"
	"github.com/pulseops/ai-gateway/internal/gateway/ledger"
	"github.com/pulseops/ai-gateway/internal/gateway/policy"
	"github.com/pulseops/ai-gateway/internal/gateway/pricing"
	"github.com/pulseops/ai-gateway/internal/gateway/providers"
	"github.com/pulseops/ai-gateway/internal/gateway/ratelimit"
	"github.com/pulseops/ai-gateway/internal/gateway/router"
	"github.com/pulseops/ai-gateway/internal/shared/config"
	"github.com/pulseops/ai-gateway/internal/shared/database"
	"github.com/pulseops/ai-gateway/internal/shared/logging"
	"github.com/pulseops/ai-gateway/internal/shared/redis"
	"github.com/pulseops/ai-gateway/internal/shared/secrets"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logging.Setup(cfg.Env)
	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("starting ai gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer db.Close()
	log.Info().Msg("connected to postgres")

	redisClient, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("connected to redis")

	box, err := secrets.NewBox(cfg.SecretsKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid secrets key")
	}

	writer := ledger.NewWriter(db, cfg.LedgerQueueSize, cfg.LedgerMaxRetries, 100*time.Millisecond)
	writer.Start(cfg.LedgerWorkers)
	defer writer.Close()

	gw := &handlers.Gateway{
		Auth:            auth.New(db, cfg.KeyHashSecret, time.Now),
		Limiter:         ratelimit.New(redisClient, time.Now),
		Enforcer:        policy.NewEnforcer(db, time.Now),
		Router:          router.New(db, box),
		Registry:        providers.NewRegistry(cfg.UpstreamTimeout),
		Estimator:       pricing.NewEstimator(cfg.USDToEURRate),
		Ledger:          writer,
		UpstreamTimeout: cfg.UpstreamTimeout,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler)

	r.Get("/health", handlers.HandleHealth(db, redisClient))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(gw.AuthMiddleware)
		r.Use(gw.RateLimitMiddleware)

		r.Post("/chat/completions", gw.HandleChatCompletion)
		r.Post("/embeddings", gw.HandleEmbeddings)
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
		// Streaming responses can legitimately run for minutes; the write
		// timeout has to cover the upstream timeout plus relay overhead.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.UpstreamTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
}
