package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/lms-gateway/internal/backend"
	"github.com/noah-isme/lms-gateway/internal/config"
	"github.com/noah-isme/lms-gateway/internal/database"
	"github.com/noah-isme/lms-gateway/internal/handler"
	"github.com/noah-isme/lms-gateway/internal/middleware"
	"github.com/noah-isme/lms-gateway/internal/observability"
	"github.com/noah-isme/lms-gateway/internal/repository"
	"github.com/noah-isme/lms-gateway/internal/router"
	"github.com/noah-isme/lms-gateway/internal/scheduler"
	"github.com/noah-isme/lms-gateway/internal/service"
	"github.com/noah-isme/lms-gateway/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", cfg.AppName).Logger()

	observability.RegisterMetrics()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := database.ConnectRedis(rootCtx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to nats")
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	databaseURL := cfg.DatabaseURL
	if databaseURL == "" {
		databaseURL = "sqlite://lms-gateway.db"
		logger.Warn().Msg("database url not set, using local sqlite file")
	}
	db, err := database.Connect(databaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	api, err := backend.New(backend.Config{
		BaseURL: cfg.BackendBaseURL,
		Timeout: cfg.BackendTimeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create backend client")
	}
	pusher := backend.NewPushDialer(backend.PushConfig{
		URL:        cfg.BackendPushURL,
		MaxRetries: cfg.PushMaxRetries,
		Backoff:    cfg.PushRetryBackoff,
		MinUptime:  cfg.PushMinUptime,
		Logger:     logger,
	})

	rules, err := service.LoadAssistantRules(cfg.AssistantRulesFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load assistant rules")
	}
	var responder ai.Responder
	if cfg.OpenAIAPIKey != "" {
		openAI, err := ai.NewOpenAIResponder(ai.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Logger:  logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create openai responder")
		}
		responder = openAI
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	preferenceRepo := repository.NewPreferenceRepository(db)

	enrollmentService := service.NewEnrollmentService(api, redisClient, cfg.EnrollmentCacheTTL, logger)
	referralService := service.NewReferralService(api, cfg.ReferralTimeout, logger)
	preferenceService := service.NewPreferenceService(preferenceRepo, validate, logger)
	assistantService := service.NewAssistantService(rules, responder, validate, logger)
	feedBus := service.NewFeedBus(redisClient, cfg.ChannelBase, natsConn, logger)
	notificationService := service.NewNotificationSyncService(api, pusher, feedBus, cfg.NotificationPageSize, logger)
	notificationService.Start(rootCtx)
	defer notificationService.Close()

	reconciler, err := scheduler.NewReconciler(scheduler.Config{
		Spec:      cfg.FeedReconcileSpec,
		Idle:      cfg.FeedSessionIdle,
		Timeout:   cfg.BackendTimeout * 2,
		Feeds:     notificationService,
		Referrals: referralService,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create reconciler")
	}
	reconciler.Start()

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{
		Logger:       &logger,
		AllowOrigins: cfg.AllowOrigins,
		AccessLog:    cfg.AccessLog,
	})
	router.Register(app, cfg, router.Dependencies{
		EnrollmentHandler:   handler.NewEnrollmentHandler(enrollmentService, validate, cfg.DefaultCollationLanguage, logger),
		ReferralHandler:     handler.NewReferralHandler(referralService, preferenceService, validate, cfg.ReferralDebounce, logger),
		NotificationHandler: handler.NewNotificationHandler(notificationService, validate, cfg.StreamKeepAlive, logger),
		PreferenceHandler:   handler.NewPreferenceHandler(preferenceService, logger),
		AssistantHandler:    handler.NewAssistantHandler(assistantService, logger),
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
		OptionalJWT:         middleware.JWTOptional(cfg.JWTSecret),
		HealthChecks:        healthChecks(db, redisClient, natsConn),
	})

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddress()).Msg("gateway listening")
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(rootCtx, app, reconciler, logger)
}

func healthChecks(db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn) map[string]handler.DependencyCheck {
	checks := map[string]handler.DependencyCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	if natsConn != nil {
		checks["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return fmt.Errorf("nats status %s", natsConn.Status())
			}
			return nil
		}
	}
	return checks
}

func waitForShutdown(rootCtx context.Context, app *fiber.App, reconciler *scheduler.Reconciler, logger zerolog.Logger) {
	<-rootCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := reconciler.Stop(ctx); err != nil {
		logger.Warn().Err(err).Msg("reconciler did not stop in time")
	}

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
