package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/staff-portal-api/api/swagger"
	"github.com/noah-isme/staff-portal-api/internal/handler"
	"github.com/noah-isme/staff-portal-api/internal/middleware"
	"github.com/noah-isme/staff-portal-api/internal/models"
	"github.com/noah-isme/staff-portal-api/internal/repository"
	"github.com/noah-isme/staff-portal-api/internal/service"
	"github.com/noah-isme/staff-portal-api/pkg/cache"
	"github.com/noah-isme/staff-portal-api/pkg/chat"
	"github.com/noah-isme/staff-portal-api/pkg/config"
	"github.com/noah-isme/staff-portal-api/pkg/database"
	"github.com/noah-isme/staff-portal-api/pkg/jobs"
	"github.com/noah-isme/staff-portal-api/pkg/logger"
	"github.com/noah-isme/staff-portal-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/staff-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/staff-portal-api/pkg/middleware/requestid"
)

// @title Staff Portal API
// @version 1.0.0
// @description Announcements, review workflow and notification fan-out for staff
// @BasePath /api/v1
// @schemes http https
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}

	settings, err := repository.NewSettingRepository(db).GetMany(ctx, config.MailSettingKeys())
	if err != nil {
		logr.Warn("site settings unavailable, using environment mail config", zap.Error(err))
	}
	mailCfg := cfg.Mail.ApplyOverrides(settings)

	var redisClient *redis.Client
	var chatTokens chat.TokenStore
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, chat tokens kept in memory", zap.Error(err))
		} else {
			chatTokens = chat.NewRedisTokenStore(cache.NewStore(redisClient, "staff-portal:"))
		}
	}

	mail, err := mailer.New(mailCfg, logr.Named("mailer"))
	if err != nil {
		logr.Fatal("failed to init mailer", zap.Error(err))
	}
	chatClient := chat.New(cfg.Chat, chatTokens, logr.Named("chat"))

	metrics := service.NewMetricsService()
	worker := service.NewNotificationWorker(mail, chatClient, metrics, logr.Named("worker"))
	queue, err := newQueue(cfg.Queue, worker.Handle, logr.Named("queue"))
	if err != nil {
		logr.Fatal("failed to init delivery queue", zap.Error(err))
	}
	queue.Start(ctx)

	validate := validator.New()
	userRepo := repository.NewUserRepository(db)
	announcementRepo := repository.NewAnnouncementRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	preferenceRepo := repository.NewPreferenceRepository(db)
	commentRepo := repository.NewCommentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	targetingSvc := service.NewTargetingService(userRepo, announcementRepo, logr)
	dispatcher := service.NewNotificationDispatcher(targetingSvc, userRepo, notificationRepo, preferenceRepo, queue, metrics, service.DispatcherConfig{
		EmailEnabled: mail.Enabled(),
		ChatEnabled:  chatClient.Enabled(),
		PublicURL:    cfg.PublicURL,
	}, logr.Named("dispatcher"))
	announcementSvc := service.NewAnnouncementService(service.AnnouncementDeps{
		Store:     announcementRepo,
		Users:     userRepo,
		Audience:  targetingSvc,
		Notifier:  dispatcher,
		Chat:      chatClient,
		Exporter:  service.NewExportService(logr),
		Metrics:   metrics,
		Validator: validate,
		Logger:    logr.Named("announcements"),
		PublicURL: cfg.PublicURL,
	})
	submissionSvc := service.NewSubmissionService(submissionRepo, dispatcher, validate, logr)
	commentSvc := service.NewCommentService(commentRepo, map[models.ResourceKind]service.ResourceLookup{
		models.ResourceReport:   submissionSvc.Lookup(models.ResourceReport),
		models.ResourceProposal: submissionSvc.Lookup(models.ResourceProposal),
	}, dispatcher, validate, logr)
	notificationSvc := service.NewNotificationService(notificationRepo, preferenceRepo, dispatcher, validate, logr)

	scheduler, err := service.NewAnnouncementScheduler(announcementRepo, announcementSvc, service.SchedulerConfig{
		Schedule: cfg.Announcements.PublishSchedule,
		Batch:    cfg.Announcements.PublishBatch,
	}, logr.Named("scheduler"))
	if err != nil {
		logr.Fatal("invalid announcement publish schedule", zap.Error(err))
	}
	scheduler.Start()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), routes{
		auth:          handler.NewAuthHandler(authSvc),
		announcements: handler.NewAnnouncementHandler(announcementSvc),
		notifications: handler.NewNotificationHandler(notificationSvc),
		reports:       handler.NewSubmissionHandler(models.ResourceReport, submissionSvc),
		proposals:     handler.NewSubmissionHandler(models.ResourceProposal, submissionSvc),
		reportNotes:   handler.NewCommentHandler(models.ResourceReport, commentSvc),
		proposalNotes: handler.NewCommentHandler(models.ResourceProposal, commentSvc),
		jwt:           middleware.JWT(authSvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	if err := shutdown(srv, scheduler, queue, db, redisClient); err != nil {
		logr.Error("shutdown finished with errors", zap.Error(err))
		return
	}
	logr.Info("shutdown complete")
}

type routes struct {
	auth          *handler.AuthHandler
	announcements *handler.AnnouncementHandler
	notifications *handler.NotificationHandler
	reports       *handler.SubmissionHandler
	proposals     *handler.SubmissionHandler
	reportNotes   *handler.CommentHandler
	proposalNotes *handler.CommentHandler
	jwt           gin.HandlerFunc
}

func registerRoutes(api *gin.RouterGroup, h routes) {
	api.POST("/auth/login", h.auth.Login)

	secured := api.Group("")
	secured.Use(h.jwt)
	secured.GET("/auth/me", h.auth.Me)

	announcements := secured.Group("/announcements")
	announcements.GET("", h.announcements.List)
	announcements.GET("/:id", h.announcements.Get)
	announcements.POST("/:id/read", h.announcements.MarkRead)
	admin := announcements.Group("", middleware.RequireAdmin())
	admin.POST("", h.announcements.Create)
	admin.PUT("/:id", h.announcements.Update)
	admin.DELETE("/:id", h.announcements.Delete)
	admin.GET("/:id/read-receipts", h.announcements.ExportReadReceipts)
	admin.POST("/:id/share", h.announcements.Share)

	notifications := secured.Group("/notifications")
	notifications.GET("", h.notifications.List)
	notifications.GET("/unread-count", h.notifications.UnreadCount)
	notifications.POST("/read-all", h.notifications.MarkAllRead)
	notifications.GET("/preferences", h.notifications.GetPreferences)
	notifications.PUT("/preferences", h.notifications.UpdatePreferences)
	notifications.POST("/system", middleware.RequireAdmin(), h.notifications.SendSystem)
	notifications.POST("/:id/read", h.notifications.MarkRead)
	notifications.DELETE("/:id", h.notifications.Delete)

	submissionRoutes(secured.Group("/reports"), h.reports, h.reportNotes)
	submissionRoutes(secured.Group("/proposals"), h.proposals, h.proposalNotes)
}

func submissionRoutes(group *gin.RouterGroup, submissions *handler.SubmissionHandler, comments *handler.CommentHandler) {
	group.GET("", submissions.List)
	group.POST("", submissions.Create)
	group.GET("/:id", submissions.Get)
	group.PATCH("/:id/status", submissions.ChangeStatus)
	group.GET("/:id/comments", comments.List)
	group.POST("/:id/comments", comments.Create)
}

func newQueue(cfg config.QueueConfig, handle jobs.Handler, logr *zap.Logger) (jobs.Runner, error) {
	if cfg.Driver == config.QueueDriverAMQP {
		return jobs.DialAMQP(handle, jobs.AMQPConfig{
			URL:        cfg.AMQPURL,
			Exchange:   cfg.Exchange,
			Queue:      cfg.QueueName,
			Workers:    cfg.Workers,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
			Logger:     logr,
		})
	}
	return jobs.NewQueue("notifications", handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logr,
	}), nil
}

// shutdown stops intake first, then drains background work, then closes stores.
func shutdown(srv *http.Server, scheduler *service.AnnouncementScheduler, queue jobs.Runner, db *sqlx.DB, redisClient *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var result *multierror.Error
	if err := srv.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http server: %w", err))
	}
	scheduler.Stop()
	queue.Stop()
	if closer, ok := queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("queue: %w", err))
		}
	}
	if err := db.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("database: %w", err))
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("redis: %w", err))
		}
	}
	return result.ErrorOrNil()
}
