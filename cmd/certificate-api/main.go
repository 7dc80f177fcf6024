package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/campusdesk/certificate-api/api/swagger"
	"github.com/campusdesk/certificate-api/internal/handler"
	"github.com/campusdesk/certificate-api/internal/middleware"
	"github.com/campusdesk/certificate-api/internal/models"
	"github.com/campusdesk/certificate-api/internal/repository"
	"github.com/campusdesk/certificate-api/internal/service"
	"github.com/campusdesk/certificate-api/pkg/cache"
	"github.com/campusdesk/certificate-api/pkg/config"
	"github.com/campusdesk/certificate-api/pkg/database"
	"github.com/campusdesk/certificate-api/pkg/document"
	"github.com/campusdesk/certificate-api/pkg/logger"
	corsmiddleware "github.com/campusdesk/certificate-api/pkg/middleware/cors"
	reqidmiddleware "github.com/campusdesk/certificate-api/pkg/middleware/requestid"
	"github.com/campusdesk/certificate-api/pkg/storage"
)

// @title Certificate Desk API
// @version 1.0.0
// @description Certificate request workflow for students and registry staff
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
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

	fileStorage, err := storage.NewLocalStorage(cfg.Files.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init file storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Files.SignedURLSecret, cfg.Files.SignedURLTTL)
	renderer := document.NewRenderer()
	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	certRepo := repository.NewCertificateRepository(db)
	fileRepo := repository.NewCertificateFileRepository(db)
	tokenRepo := repository.NewTokenRepository(redisClient)
	cacheRepo := repository.NewCacheRepository(redisClient)

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, tokenRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	certSvc := service.NewCertificateService(certRepo, userRepo, userRepo, cacheRepo, metricsSvc, cfg.Stats.CacheTTL, validate, logr)
	fileSvc := service.NewCertificateFileService(fileRepo, certSvc, userRepo, fileStorage, signer, renderer, userRepo, cfg.Files.MaxFileSizeBytes, cfg.Files.AllowedMIMEs, logr)
	userSvc := service.NewUserService(userRepo, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	certHandler := handler.NewCertificateHandler(certSvc)
	fileHandler := handler.NewCertificateFileHandler(fileSvc)
	userHandler := handler.NewUserHandler(userSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	authRequired := middleware.JWT(authSvc)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", authRequired, authHandler.Logout)
		auth.POST("/register", authRequired, middleware.RequireRoles(models.RoleAdmin), authHandler.Register)
		auth.GET("/me", authRequired, authHandler.Me)
	}

	certs := api.Group("/certificates", authRequired)
	{
		certs.POST("", certHandler.Create)
		certs.GET("", middleware.RequireRoles(models.RoleStaff, models.RoleAdmin), certHandler.ListAll)
		certs.GET("/my", certHandler.ListMine)
		certs.GET("/pending", middleware.RequireRoles(models.RoleStaff, models.RoleAdmin), certHandler.ListPending)
		certs.GET("/stats", middleware.RequireRoles(models.RoleAdmin), certHandler.Statistics)
		certs.GET("/:id", certHandler.Get)
		certs.POST("/:id/assign", middleware.RequireRoles(models.RoleStaff, models.RoleAdmin), certHandler.Assign)
		certs.PATCH("/:id/status", middleware.RequireRoles(models.RoleStaff, models.RoleAdmin), certHandler.UpdateStatus)
		certs.POST("/:id/files", middleware.RequireRoles(models.RoleStaff, models.RoleAdmin), fileHandler.Upload)
		certs.POST("/:id/files/generate", middleware.RequireRoles(models.RoleStaff, models.RoleAdmin), fileHandler.Generate)
		certs.GET("/:id/files", fileHandler.List)
		certs.GET("/:id/files/download-url", fileHandler.DownloadURL)
	}

	files := api.Group("/files")
	{
		// Download authenticates through the signed token, not the JWT.
		files.GET("/download", middleware.Audit(userRepo, "FILE_DOWNLOAD", "certificate_files"), fileHandler.Download)
		files.DELETE("/:fileId", authRequired, middleware.RequireRoles(models.RoleStaff, models.RoleAdmin), fileHandler.Delete)
	}

	users := api.Group("/users", authRequired)
	{
		users.GET("", middleware.RequireRoles(models.RoleAdmin), userHandler.List)
		users.GET("/profile", userHandler.Profile)
		users.GET("/:id", userHandler.Get)
		users.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Delete)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
