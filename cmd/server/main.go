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

	"github.com/anonchat/match-server-go/internal/config"
	"github.com/anonchat/match-server-go/internal/database"
	"github.com/anonchat/match-server-go/internal/handler"
	"github.com/anonchat/match-server-go/internal/jobs"
	"github.com/anonchat/match-server-go/internal/middleware"
	"github.com/anonchat/match-server-go/internal/redis"
	"github.com/anonchat/match-server-go/internal/repository"
	"github.com/anonchat/match-server-go/internal/service"
	"github.com/anonchat/match-server-go/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	participantRepo := repository.NewParticipantRepository(db.DB)
	queueRepo := repository.NewQueueRepository(db.DB)
	sessionRepo := repository.NewSessionRepository(db.DB)
	groupRepo := repository.NewGroupRepository(db.DB)
	activeRepo := repository.NewActiveIndexRepository(db.DB)
	stateRepo := repository.NewStateRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	notifier := service.NewNotifier(broker)
	sessionManager := service.NewSessionManager(
		db, sessionRepo, groupRepo, activeRepo, stateRepo, queueRepo, participantRepo, notifier,
	)
	matchService := service.NewMatchService(
		db, queueRepo, groupRepo, sessionManager, notifier, cfg.CandidateLookahead,
	)
	sessionManager.OnTerminate(matchService.Wake)
	relayService := service.NewRelayService(
		db, sessionManager, sessionRepo, groupRepo, participantRepo, notifier,
	)
	participantService := service.NewParticipantService(
		participantRepo, queueRepo, sessionRepo, groupRepo, stateRepo,
	)
	registerLimiter := service.NewRateLimiter(redisClient.Client)

	authMiddleware := middleware.NewAuthMiddleware(participantRepo)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client)
	registerRateLimit := middleware.NewIPRateLimitMiddleware(
		registerLimiter, 10, time.Minute, "register",
	)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	participantHandler := handler.NewParticipantHandler(participantService)
	searchHandler := handler.NewSearchHandler(matchService)
	chatHandler := handler.NewChatHandler(sessionManager, relayService)
	eventsHandler := handler.NewEventsHandler(broker, participantService)

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

	r.Route("/v1", func(r chi.Router) {
		r.With(registerRateLimit.Handler).Post("/participants", participantHandler.Register)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Handler)
			r.Use(rateLimitMiddleware.Handler)

			r.Get("/profile", participantHandler.GetProfile)
			r.Put("/profile", participantHandler.UpdateProfile)
			r.Get("/stats", participantHandler.Stats)

			r.Post("/search", searchHandler.Join)
			r.Delete("/search", searchHandler.Cancel)

			r.Delete("/session", chatHandler.Leave)
			r.Post("/messages", chatHandler.SendMessage)

			r.Get("/events", eventsHandler.ServeHTTP)
		})
	})

	rematchJob := jobs.NewRematchJob(
		matchService, queueRepo, cfg.RematchInterval(), cfg.SeekerFallbackTTL(), config.MaxCandidateBatch,
	)
	rematchJob.Start()
	defer rematchJob.Stop()

	sweeperJob := jobs.NewSweeperJob(
		queueRepo, stateRepo, sessionManager, config.SweepJobInterval, cfg.QueueTTL(),
	)
	sweeperJob.Start()
	defer sweeperJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
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
