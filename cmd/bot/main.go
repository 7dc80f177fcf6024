package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"

	"github.com/campusdesk/certificate-api/internal/bot"
	"github.com/campusdesk/certificate-api/internal/repository"
	"github.com/campusdesk/certificate-api/internal/service"
	"github.com/campusdesk/certificate-api/pkg/cache"
	"github.com/campusdesk/certificate-api/pkg/config"
	"github.com/campusdesk/certificate-api/pkg/database"
	"github.com/campusdesk/certificate-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if !cfg.Bot.Enabled {
		logr.Sugar().Fatalw("bot is disabled, set BOT_ENABLED=true to run")
	}
	if cfg.Bot.Token == "" {
		logr.Sugar().Fatalw("bot token is not configured")
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	validate := validator.New()
	userRepo := repository.NewUserRepository(db)
	certRepo := repository.NewCertificateRepository(db)
	tokenRepo := repository.NewTokenRepository(redisClient)
	cacheRepo := repository.NewCacheRepository(redisClient)

	authSvc := service.NewAuthService(userRepo, tokenRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	metricsSvc := service.NewMetricsService()
	certSvc := service.NewCertificateService(certRepo, userRepo, userRepo, cacheRepo, metricsSvc, cfg.Stats.CacheTTL, validate, logr)

	client := bot.NewClient(cfg.Bot.APIBaseURL, cfg.Bot.Token, cfg.Bot.PollTimeout)
	sessions := bot.NewSessionStore(redisClient, cfg.Bot.SessionTTL)
	dispatcher := bot.NewDispatcher(client, sessions, authSvc, certSvc, metricsSvc, cfg.Bot.PollInterval, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logr.Sugar().Infow("bot starting", "api", cfg.Bot.APIBaseURL, "poll_interval", cfg.Bot.PollInterval)
	if err := dispatcher.Run(ctx); err != nil && err != context.Canceled {
		logr.Sugar().Fatalw("bot stopped", "error", err)
	}
	logr.Sugar().Infow("bot stopped")
}
