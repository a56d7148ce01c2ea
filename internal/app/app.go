package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/fx"
	"go.uber.org/zap"

	edgeAdapter "github.com/d3clan/dynamic-branch-env/internal/adapter/provisioning/edge"
	nomadAdapter "github.com/d3clan/dynamic-branch-env/internal/adapter/provisioning/nomad"
	registryAdapter "github.com/d3clan/dynamic-branch-env/internal/adapter/provisioning/registry"
	"github.com/d3clan/dynamic-branch-env/internal/adapter/repository/postgres"
	"github.com/d3clan/dynamic-branch-env/internal/allocator"
	"github.com/d3clan/dynamic-branch-env/internal/api"
	"github.com/d3clan/dynamic-branch-env/internal/api/middleware"
	"github.com/d3clan/dynamic-branch-env/internal/config"
	"github.com/d3clan/dynamic-branch-env/internal/domain/environment"
	"github.com/d3clan/dynamic-branch-env/internal/domain/provisioning"
	"github.com/d3clan/dynamic-branch-env/internal/domain/routing"
	"github.com/d3clan/dynamic-branch-env/internal/outbox"
	"github.com/d3clan/dynamic-branch-env/internal/reconciler"
	"github.com/d3clan/dynamic-branch-env/internal/usecase/lifecycle"
	"github.com/d3clan/dynamic-branch-env/pkg/db"
	"github.com/d3clan/dynamic-branch-env/pkg/edgeclient"
	"github.com/d3clan/dynamic-branch-env/pkg/githubclient"
	zaplog "github.com/d3clan/dynamic-branch-env/pkg/log"
	"github.com/d3clan/dynamic-branch-env/pkg/nomad"
	"github.com/d3clan/dynamic-branch-env/pkg/registryclient"
	"github.com/d3clan/dynamic-branch-env/pkg/snowflake"
	"github.com/d3clan/dynamic-branch-env/sql/migrations"
)

// Providers wires every component of the control plane. The same graph backs
// the long-running server and one-shot commands.
func Providers() fx.Option {
	return fx.Options(
		fx.Provide(
			// Config
			config.Load,

			// Infrastructure (Adapters)
			nomad.NewClient,
			edgeclient.NewFromEnv,
			newRegistryClient,
			newNotifier,
			newRateLimiter,

			// Domain Adapters (Bind Interfaces)
			fx.Annotate(
				postgres.NewEnvironmentRepository,
				fx.As(new(environment.Repository)),
			),
			fx.Annotate(
				postgres.NewEntryRepository,
				fx.As(new(routing.EntryRepository)),
			),
			fx.Annotate(
				postgres.NewAllocationRepository,
				fx.As(new(routing.AllocationRepository)),
			),
			fx.Annotate(
				nomadAdapter.NewAdapter,
				fx.As(new(provisioning.Compute)),
			),
			fx.Annotate(
				edgeAdapter.NewAdapter,
				fx.As(new(provisioning.LoadBalancer)),
			),
			fx.Annotate(
				registryAdapter.NewAdapter,
				fx.As(new(provisioning.ServiceRegistry)),
			),

			// Use Cases
			allocator.New,
			lifecycle.NewController,

			// Background workers
			outbox.NewProcessor,
			reconciler.NewSweeper,

			// Ingress bindings
			fx.Annotate(
				outbox.NewQueue,
				fx.As(new(api.Enqueuer)),
			),
			func(s *reconciler.Sweeper) api.SweepRunner { return s },

			// API
			api.NewRouter,
		),
		db.Module,
		snowflake.Module,
		zaplog.Module,
	)
}

// RunServer starts the HTTP server and background workers.
func RunServer() {
	app := fx.New(
		Providers(),
		fx.Invoke(registerHooks),
	)

	app.Run()
}

// RunSweep performs a single reconciliation pass and exits.
func RunSweep() error {
	var sweepErr error
	app := fx.New(
		Providers(),
		fx.Invoke(func(lc fx.Lifecycle, sweeper *reconciler.Sweeper, shutdowner fx.Shutdowner, logger *zap.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					go func() {
						sweepErr = sweeper.Sweep(context.Background())
						if sweepErr != nil {
							logger.Error("sweep_failed", zap.Error(sweepErr))
						}
						_ = shutdowner.Shutdown()
					}()
					return nil
				},
			})
		}),
	)

	app.Run()
	return sweepErr
}

// RunMigrations executes database migrations (up or down).
func RunMigrations(command string) error {
	if command == "" {
		command = "up"
	}

	cfg := config.Load()
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting database migration...", zap.String("command", command))

	dbURL := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBSSLMode,
	)

	d, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("load migration files: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, dbURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	switch command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("migration up failed: %w", err)
		}
		logger.Info("Migration up applied successfully")
	case "down":
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("migration down failed: %w", err)
		}
		logger.Info("Migration down applied successfully")
	default:
		return fmt.Errorf("unknown migration command: %s", command)
	}

	return nil
}

func registerHooks(lc fx.Lifecycle, router *api.Router, processor *outbox.Processor, sweeper *reconciler.Sweeper, cfg *config.Config, logger *zap.Logger) {
	var processorCancel context.CancelFunc
	var sweeperCancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting HTTP server", zap.String("port", cfg.Port))

			processorCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			processorCancel = cancel
			go processor.Run(processorCtx)

			sweeperCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			sweeperCancel = cancel
			go sweeper.Run(sweeperCtx)

			go func() {
				if err := router.Run(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("Server failed to start", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server gracefully...")

			if processorCancel != nil {
				processorCancel()
			}
			if sweeperCancel != nil {
				sweeperCancel()
			}

			shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			if err := router.Shutdown(shutdownCtx); err != nil {
				logger.Error("Server forced to shutdown", zap.Error(err))
				return err
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		},
	})
}

func newRegistryClient(cfg *config.Config) *registryclient.Client {
	return registryclient.New(cfg.RegistryBaseURL)
}

// newNotifier builds the GitHub App commenter when credentials are present.
// Without credentials the processor simply skips PR notifications.
func newNotifier(cfg *config.Config, logger *zap.Logger) outbox.Notifier {
	if cfg.GitHubAppID == "" || cfg.GitHubAppPrivateKey == "" || cfg.GitHubAppInstallationID == 0 {
		logger.Info("github_app_not_configured_pr_comments_disabled")
		return nil
	}
	client, err := githubclient.New(githubclient.Config{
		BaseURL:        cfg.GitHubAPIBaseURL,
		AppID:          cfg.GitHubAppID,
		InstallationID: cfg.GitHubAppInstallationID,
		PrivateKeyPEM:  cfg.GitHubAppPrivateKey,
	})
	if err != nil {
		logger.Warn("github_app_init_failed_pr_comments_disabled", zap.Error(err))
		return nil
	}
	return client
}

// newRateLimiter connects the Redis limiter when configured. Failing open on
// Redis trouble keeps webhook ingress available.
func newRateLimiter(cfg *config.Config, logger *zap.Logger) *middleware.RedisRateLimiter {
	if cfg.RateLimitRedisAddr == "" {
		return nil
	}
	limiter, err := middleware.NewRedisRateLimiter(
		cfg.RateLimitRedisAddr,
		cfg.RateLimitRedisPassword,
		cfg.RateLimitRedisDB,
		cfg.RateLimitPerMinute,
		logger,
	)
	if err != nil {
		logger.Warn("redis_rate_limiter_unavailable", zap.Error(err))
		return nil
	}
	return limiter
}
