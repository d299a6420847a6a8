package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/casebridge/server/internal/module/billing"
	"github.com/casebridge/server/internal/module/payment/provider"
	"github.com/casebridge/server/internal/module/workspace"
	"github.com/casebridge/server/internal/shared/config"
	"github.com/casebridge/server/internal/shared/database"
	"github.com/casebridge/server/internal/shared/logger"
	"github.com/casebridge/server/internal/shared/metrics"
	"github.com/casebridge/server/internal/shared/middleware"
)

// App wires the application together.
type App struct {
	config  *config.Config
	db      *gorm.DB
	redis   *redis.Client
	router  *gin.Engine
	logger  *zap.Logger
	metrics *metrics.Metrics

	billingHandler   *billing.Handler
	workspaceHandler *workspace.Handler
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	app := &App{
		config:  cfg,
		db:      db,
		logger:  log,
		metrics: metrics.New("casebridge"),
	}

	// Redis is optional; billing falls back to the store when it is absent.
	if cfg.Redis.Address != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, metered cache disabled", zap.Error(err))
		} else {
			app.redis = client
		}
	}

	app.initModules()
	app.router = app.setupRouter()

	return app, nil
}

// initModules constructs all module services and handlers.
func (a *App) initModules() {
	stripeProvider := provider.NewStripeProvider(&provider.StripeConfig{
		APIKey:        a.config.Stripe.APIKey,
		WebhookSecret: a.config.Stripe.WebhookSecret,
	})

	billingRepo := billing.NewRepository(a.db)

	var meteredCache billing.MeteredCounter
	if a.redis != nil {
		meteredCache = billing.NewMeteredCache(a.redis)
	}

	var notifier billing.Notifier
	if a.config.SMTP.Host != "" {
		notifier = billing.NewSMTPNotifier(&a.config.SMTP, a.logger)
	} else {
		notifier = billing.NewLogNotifier(a.logger)
	}

	synchronizer := billing.NewSynchronizer(billingRepo, a.logger)
	provisioner := billing.NewProvisioner(billingRepo, stripeProvider, a.logger)
	quotaEngine := billing.NewQuotaEngine(billingRepo, meteredCache, a.metrics, a.logger)
	usageTracker := billing.NewUsageTracker(billingRepo, meteredCache, a.logger)
	webhookService := billing.NewWebhookService(
		billingRepo, stripeProvider, synchronizer, notifier,
		a.metrics, a.logger, a.config.Stripe.EventMaxAge,
	)

	a.billingHandler = billing.NewHandler(
		webhookService, quotaEngine, provisioner, billingRepo,
		stripeProvider, &a.config.Stripe, a.logger,
	)

	workspaceRepo := workspace.NewRepository(a.db)
	workspaceService := workspace.NewService(workspaceRepo, quotaEngine, usageTracker, a.logger)
	a.workspaceHandler = workspace.NewHandler(workspaceService, a.logger)
}

// setupRouter builds the gin engine with middleware and routes.
func (a *App) setupRouter() *gin.Engine {
	if a.config.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.Metrics(a.metrics))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", "Stripe-Signature")
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Webhooks authenticate by signature, not by bearer token.
	webhooks := router.Group("/webhooks")
	a.billingHandler.RegisterWebhookRoutes(webhooks)

	validator := middleware.NewJWTValidator(a.config.Auth.JWTSecret, a.config.Auth.Issuer)
	api := router.Group("/api/v1")
	api.Use(middleware.Auth(validator))
	a.billingHandler.RegisterRoutes(api)
	a.workspaceHandler.RegisterRoutes(api)

	return router
}

// migrate creates or updates the schema for all persisted models.
func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&billing.Customer{},
		&billing.Subscription{},
		&billing.WebhookEvent{},
		&billing.MeteredUsage{},
		&workspace.Case{},
		&workspace.Document{},
		&workspace.TeamMember{},
	)
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop releases application resources.
func (a *App) Stop() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}
