package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/payloom/link-server-go/internal/backend"
	"github.com/payloom/link-server-go/internal/codec"
	"github.com/payloom/link-server-go/internal/config"
	"github.com/payloom/link-server-go/internal/database"
	"github.com/payloom/link-server-go/internal/gateway"
	"github.com/payloom/link-server-go/internal/handler"
	"github.com/payloom/link-server-go/internal/jobs"
	"github.com/payloom/link-server-go/internal/linking"
	"github.com/payloom/link-server-go/internal/middleware"
	"github.com/payloom/link-server-go/internal/redis"
	"github.com/payloom/link-server-go/internal/repository"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	if err := db.Bootstrap(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap schema")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	attemptRepo := repository.NewLinkAttemptRepository(db.DB)
	accountRepo := repository.NewLinkedAccountRepository(db.DB)

	key, err := codec.ParseKey(cfg.ShareableIDKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid shareable id key")
	}
	idCodec, err := codec.New(key)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build shareable id codec")
	}

	aggregator := gateway.NewAggregatorClient(
		cfg.AggregatorBaseURL, cfg.AggregatorClientID, cfg.AggregatorSecret, cfg.GatewayTimeout(),
	)
	rail := gateway.NewRailClient(cfg.RailBaseURL, cfg.RailToken, cfg.GatewayTimeout())
	backendClient := backend.NewClient(cfg.BackendBaseURL, cfg.GatewayTimeout())

	orchestrator := linking.NewOrchestrator(
		aggregator, rail, backendClient, attemptRepo, accountRepo,
		idCodec, redisClient, cfg.RailProcessor, cfg.GatewayTimeout(),
	)

	sessionMiddleware := middleware.NewSessionMiddleware(backendClient)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(redisClient.Client, cfg.LinkRateLimitPerMin)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(middleware.DefaultMaxBodySize)

	linkHandler := handler.NewLinkHandler(orchestrator, attemptRepo, accountRepo)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1/link", func(r chi.Router) {
		r.Use(sessionMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Mount("/", linkHandler.Routes())
	})

	reconcileJob := jobs.NewReconcileJob(
		attemptRepo, accountRepo, config.ReconcileJobInterval, config.ReconcileStalledAfter,
	)
	reconcileJob.Start()
	defer reconcileJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
