package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d3clan/dynamic-branch-env/internal/domain/environment"
	"github.com/d3clan/dynamic-branch-env/internal/usecase/lifecycle"
)

// Notifier posts best-effort status notifications back to the pull request.
type Notifier interface {
	CommentOnPR(ctx context.Context, repository string, number int, body string) error
}

// Processor polls the outbox and delivers lifecycle actions to the
// controller. Side effects happen after durable writes, keeping DB state
// authoritative; failed deliveries are retried with capped backoff.
type Processor struct {
	db           *gorm.DB
	controller   *lifecycle.Controller
	envs         environment.Repository
	notifier     Notifier
	logger       *zap.Logger
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
}

func NewProcessor(db *gorm.DB, controller *lifecycle.Controller, envs environment.Repository, notifier Notifier, logger *zap.Logger) *Processor {
	return &Processor{
		db:           db,
		controller:   controller,
		envs:         envs,
		notifier:     notifier,
		logger:       logger.Named("outbox"),
		pollInterval: 5 * time.Second,
		batchSize:    10,
		maxAttempts:  10,
	}
}

func (p *Processor) Run(ctx context.Context) {
	if err := p.processBatch(ctx); err != nil {
		p.logger.Error("outbox_initial_poll_failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.processBatch(ctx); err != nil {
				p.logger.Error("outbox_poll_failed", zap.Error(err))
			}
		}
	}
}

func (p *Processor) processBatch(ctx context.Context) error {
	events, err := p.fetchAndLockPending(ctx)
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error("outbox_event_processing_failed",
				zap.Error(err),
				zap.Int64("event_id", event.ID),
				zap.String("action", event.ActionType),
				zap.String("environment_id", event.EnvironmentID),
			)
		}
	}
	return nil
}

func (p *Processor) fetchAndLockPending(ctx context.Context) ([]Event, error) {
	var events []Event
	now := time.Now().UTC()

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Raw(
			`SELECT * FROM outbox_events
			 WHERE status IN (?, ?)
			   AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
			   AND attempts < ?
			 ORDER BY created_at ASC
			 LIMIT ?
			 FOR UPDATE SKIP LOCKED`,
			StatusPending,
			StatusFailed,
			now,
			p.maxAttempts,
			p.batchSize,
		).Scan(&events).Error; err != nil {
			return err
		}

		if len(events) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(events))
		for i := range events {
			ids = append(ids, events[i].ID)
			events[i].Attempts++
		}

		return tx.Model(&Event{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":     StatusProcessing,
				"attempts":   gorm.Expr("attempts + 1"),
				"locked_at":  now,
				"updated_at": now,
				"last_error": nil,
			}).Error
	})

	return events, err
}

func (p *Processor) processEvent(ctx context.Context, event Event) error {
	var action lifecycle.Action
	if err := json.Unmarshal(event.Payload, &action); err != nil {
		return p.markEventFailed(ctx, event, fmt.Errorf("decode action payload: %w", err))
	}

	if err := p.controller.Handle(ctx, action); err != nil {
		return p.markEventFailed(ctx, event, err)
	}

	if action.Type == lifecycle.ActionCreate {
		p.notifyPreviewReady(ctx, action)
	}

	return p.markEventCompleted(ctx, event.ID)
}

// notifyPreviewReady posts the preview address back to the pull request.
// Strictly best effort; the environment record stays the source of truth.
func (p *Processor) notifyPreviewReady(ctx context.Context, action lifecycle.Action) {
	if p.notifier == nil || action.PR.Number == 0 {
		return
	}
	env, err := p.envs.FindByEnvironmentID(ctx, action.EnvironmentID)
	if err != nil || env == nil {
		p.logger.Warn("notify_load_environment_failed", zap.Error(err), zap.String("environment_id", action.EnvironmentID))
		return
	}
	body := fmt.Sprintf("Preview environment ready: %s (expires %s)",
		env.PreviewAddress, env.ExpiresAt.Format(time.RFC3339))
	if env.HasFailedService() {
		body = fmt.Sprintf("Preview environment ready (degraded, some services failed): %s", env.PreviewAddress)
	}
	if err := p.notifier.CommentOnPR(ctx, action.Repository, action.PR.Number, body); err != nil {
		p.logger.Warn("pr_comment_failed",
			zap.Error(err),
			zap.String("repository", action.Repository),
			zap.Int("pr_number", action.PR.Number),
		)
	}
}

func (p *Processor) markEventCompleted(ctx context.Context, eventID int64) error {
	now := time.Now().UTC()
	return p.db.WithContext(ctx).Model(&Event{}).
		Where("id = ? AND status = ?", eventID, StatusProcessing).
		Updates(map[string]any{
			"status":       StatusCompleted,
			"processed_at": now,
			"updated_at":   now,
			"last_error":   nil,
		}).Error
}

func (p *Processor) markEventFailed(ctx context.Context, event Event, err error) error {
	if err == nil {
		return nil
	}

	now := time.Now().UTC()
	nextAttempt := now.Add(backoffDuration(event.Attempts))

	updateErr := p.db.WithContext(ctx).Model(&Event{}).
		Where("id = ?", event.ID).
		Updates(map[string]any{
			"status":          StatusFailed,
			"last_error":      err.Error(),
			"next_attempt_at": nextAttempt,
			"updated_at":      now,
		}).Error
	if updateErr != nil {
		return fmt.Errorf("mark event failed: %w (original error: %v)", updateErr, err)
	}
	return err
}

func backoffDuration(attempt int) time.Duration {
	if attempt <= 1 {
		return 10 * time.Second
	}

	maxBackoff := 5 * time.Minute
	base := 10 * time.Second
	shift := attempt - 1
	if shift > 6 {
		shift = 6
	}

	d := base * time.Duration(1<<shift)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
