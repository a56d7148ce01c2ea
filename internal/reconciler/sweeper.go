package reconciler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/d3clan/dynamic-branch-env/internal/config"
	"github.com/d3clan/dynamic-branch-env/internal/domain/environment"
	"github.com/d3clan/dynamic-branch-env/internal/usecase/lifecycle"
)

// ActionHandler is the controller entry point the sweeper feeds into.
type ActionHandler interface {
	Handle(ctx context.Context, action lifecycle.Action) error
}

// Sweeper periodically scans the store for environments past their expiry or
// stuck mid-transition, and issues destroys through the controller. Destroy
// is idempotent and re-entrant, so overlapping sweeps or a race with an
// event-driven destroy converge instead of corrupting.
type Sweeper struct {
	envs      environment.Repository
	handler   ActionHandler
	logger    *zap.Logger
	interval  time.Duration
	grace     time.Duration
	batchSize int
}

func NewSweeper(envs environment.Repository, controller *lifecycle.Controller, cfg *config.Config, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		envs:      envs,
		handler:   controller,
		logger:    logger.Named("sweeper"),
		interval:  cfg.SweepInterval,
		grace:     cfg.SweepGrace,
		batchSize: cfg.SweepBatchSize,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	if err := s.Sweep(ctx); err != nil {
		s.logger.Error("sweep_initial_failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep_failed", zap.Error(err))
			}
		}
	}
}

// Sweep performs one reconciliation pass: expired active environments plus
// creating/updating ones stuck past the grace period, deduplicated, each
// destroyed through the controller.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := time.Now().UTC()

	expired, err := s.envs.ListExpired(ctx, []environment.Status{environment.StatusActive}, now, s.batchSize)
	if err != nil {
		return err
	}
	stuck, err := s.envs.ListExpired(ctx,
		[]environment.Status{environment.StatusCreating, environment.StatusUpdating},
		now.Add(-s.grace), s.batchSize)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(expired)+len(stuck))
	for _, env := range append(expired, stuck...) {
		if _, done := seen[env.EnvironmentID]; done {
			continue
		}
		seen[env.EnvironmentID] = struct{}{}

		s.logger.Info("sweeping_environment",
			zap.String("environment_id", env.EnvironmentID),
			zap.String("status", string(env.Status)),
			zap.Time("expires_at", env.ExpiresAt),
		)
		if err := s.handler.Handle(ctx, lifecycle.Action{
			Type:          lifecycle.ActionDestroy,
			EnvironmentID: env.EnvironmentID,
		}); err != nil {
			s.logger.Warn("sweep_destroy_failed", zap.Error(err), zap.String("environment_id", env.EnvironmentID))
		}
	}
	return nil
}
