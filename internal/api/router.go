package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/d3clan/dynamic-branch-env/internal/api/middleware"
	"github.com/d3clan/dynamic-branch-env/internal/config"
	"github.com/d3clan/dynamic-branch-env/internal/domain/environment"
	"github.com/d3clan/dynamic-branch-env/internal/usecase/lifecycle"
)

// Enqueuer hands lifecycle actions to the durable delivery path.
type Enqueuer interface {
	Enqueue(ctx context.Context, action lifecycle.Action) error
}

// SweepRunner triggers one reconciliation pass on demand.
type SweepRunner interface {
	Sweep(ctx context.Context) error
}

type Router struct {
	engine   *gin.Engine
	server   *http.Server
	cfg      *config.Config
	envs     environment.Repository
	enqueuer Enqueuer
	sweeper  SweepRunner
	logger   *zap.Logger
}

func NewRouter(
	cfg *config.Config,
	envs environment.Repository,
	enqueuer Enqueuer,
	sweeper SweepRunner,
	limiter *middleware.RedisRateLimiter,
	logger *zap.Logger,
) *Router {
	// Disable GIN default logger
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Add recovery middleware
	r.Use(gin.Recovery())

	// Add custom middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Metrics())
	r.Use(middleware.Logger(logger))

	api := &Router{
		engine:   r,
		cfg:      cfg,
		envs:     envs,
		enqueuer: enqueuer,
		sweeper:  sweeper,
		logger:   logger,
	}

	api.RegisterRoutes(limiter)
	return api
}

func (r *Router) RegisterRoutes(limiter *middleware.RedisRateLimiter) {
	// Simple health check
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Prometheus metrics endpoint
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Webhook ingress
	webhooks := r.engine.Group("/webhooks")
	if limiter != nil {
		webhooks.Use(limiter.Handler())
	}
	{
		webhooks.POST("/github", r.HandleGitHubWebhook)
	}

	// Read-only environment inspection
	api := r.engine.Group("/api")
	{
		api.GET("/environments", r.ListEnvironments)
		api.GET("/environments/:id", r.GetEnvironment)
	}

	// Admin Routes (Protected by ADMIN_API_TOKEN)
	admin := r.engine.Group("/admin")
	admin.Use(r.adminAuth())
	{
		admin.POST("/sweep", r.TriggerSweep)
		admin.POST("/environments/:id/destroy", r.DestroyEnvironment)
	}
}

func (r *Router) Run() error {
	r.server = &http.Server{
		Addr:         ":" + r.cfg.Port,
		Handler:      r.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return r.server.ListenAndServe()
}

func (r *Router) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(r.cfg.AdminAPIToken)
		if expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_token_not_configured"})
			return
		}

		provided := strings.TrimSpace(c.GetHeader("X-Admin-Token"))
		if provided == "" {
			authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				provided = strings.TrimSpace(authHeader[7:])
			}
		}

		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// Shutdown gracefully shuts down the HTTP server
func (r *Router) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}
