package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/d3clan/dynamic-branch-env/internal/allocator"
	"github.com/d3clan/dynamic-branch-env/internal/config"
	"github.com/d3clan/dynamic-branch-env/internal/domain/environment"
	"github.com/d3clan/dynamic-branch-env/internal/domain/provisioning"
	"github.com/d3clan/dynamic-branch-env/internal/domain/routing"
)

// ActionType identifies a lifecycle action.
type ActionType string

const (
	ActionCreate  ActionType = "create"
	ActionUpdate  ActionType = "update"
	ActionDestroy ActionType = "destroy"
)

// Action is one lifecycle action delivered at least once, possibly
// duplicated, possibly out of order. Handlers must converge regardless.
type Action struct {
	Type          ActionType              `json:"type"`
	EnvironmentID string                  `json:"environment_id"`
	Repository    string                  `json:"repository,omitempty"`
	Branch        string                  `json:"branch,omitempty"`
	CommitRef     string                  `json:"commit_ref,omitempty"`
	PR            environment.PullRequest `json:"pr,omitempty"`
}

var actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dynbranch_lifecycle_actions_total",
	Help: "Lifecycle actions handled, by action type and result.",
}, []string{"action", "result"})

// Controller drives an environment's record and its services through
// create/update/destroy. All coordination happens through the state store;
// concurrent actions for the same environment converge through idempotent
// handlers and conditional writes, not in-process locking.
type Controller struct {
	envs     environment.Repository
	entries  routing.EntryRepository
	alloc    *allocator.Allocator
	compute  provisioning.Compute
	lb       provisioning.LoadBalancer
	registry provisioning.ServiceRegistry
	cfg      *config.Config
	logger   *zap.Logger
}

func NewController(
	envs environment.Repository,
	entries routing.EntryRepository,
	alloc *allocator.Allocator,
	compute provisioning.Compute,
	lb provisioning.LoadBalancer,
	registry provisioning.ServiceRegistry,
	cfg *config.Config,
	logger *zap.Logger,
) *Controller {
	return &Controller{
		envs:     envs,
		entries:  entries,
		alloc:    alloc,
		compute:  compute,
		lb:       lb,
		registry: registry,
		cfg:      cfg,
		logger:   logger.Named("lifecycle"),
	}
}

// Handle is the single entry point for both the event path and the sweeper.
// Any error escaping a handler forces the environment to failed with a
// diagnostic and is returned so the delivery mechanism can retry or alert.
func (c *Controller) Handle(ctx context.Context, action Action) error {
	if action.EnvironmentID == "" {
		return fmt.Errorf("lifecycle action missing environment id")
	}

	var err error
	switch action.Type {
	case ActionCreate:
		err = c.create(ctx, action)
	case ActionUpdate:
		err = c.update(ctx, action)
	case ActionDestroy:
		err = c.destroy(ctx, action)
	default:
		err = fmt.Errorf("unknown lifecycle action %q", action.Type)
	}

	if err != nil {
		actionsTotal.WithLabelValues(string(action.Type), "error").Inc()
		c.forceFailed(ctx, action.EnvironmentID, err)
		return err
	}
	actionsTotal.WithLabelValues(string(action.Type), "ok").Inc()
	return nil
}

// create provisions a fresh environment. A duplicate delivery against a live
// environment merges into update so "opened" twice never double-provisions.
func (c *Controller) create(ctx context.Context, action Action) error {
	existing, err := c.envs.FindByEnvironmentID(ctx, action.EnvironmentID)
	if err != nil {
		return fmt.Errorf("load environment: %w", err)
	}
	if existing != nil && !existing.IsTerminal() {
		c.logger.Info("create_merged_into_update",
			zap.String("environment_id", action.EnvironmentID),
			zap.String("status", string(existing.Status)),
		)
		return c.update(ctx, action)
	}

	env := environment.New(action.EnvironmentID, action.Repository, action.Branch, action.CommitRef, action.PR, c.cfg.DefaultTTL)
	if existing != nil {
		// Restarting from destroyed/failed overwrites the old record in
		// place; environment_id is unique, so the row is reused.
		env.ID = existing.ID
	}
	env.PreviewAddress = c.previewAddress(action.EnvironmentID)

	templates := c.cfg.TemplatesForRepository(action.Repository)
	for _, tmpl := range templates {
		env.SetService(&environment.ServiceState{
			ServiceID:   tmpl.Name,
			Status:      environment.ServicePending,
			PathPattern: tmpl.PathPattern,
		})
	}
	if err := c.envs.Save(ctx, env); err != nil {
		return fmt.Errorf("save environment: %w", err)
	}

	// Each service deploys independently; one failure never aborts its
	// siblings. The environment still reaches active, surfacing last_error.
	for _, tmpl := range templates {
		if err := c.deployService(ctx, env, tmpl); err != nil {
			state := env.Services[tmpl.Name]
			state.Status = environment.ServiceFailed
			state.LastError = err.Error()
			env.LastError = fmt.Sprintf("service %s: %v", tmpl.Name, err)
			c.logger.Error("service_deploy_failed",
				zap.Error(err),
				zap.String("environment_id", env.EnvironmentID),
				zap.String("service_id", tmpl.Name),
			)
		}
		if err := c.envs.Save(ctx, env); err != nil {
			c.logger.Warn("environment_save_failed", zap.Error(err), zap.String("environment_id", env.EnvironmentID))
		}
	}

	env.MarkActive()
	if err := c.envs.Save(ctx, env); err != nil {
		return fmt.Errorf("save environment: %w", err)
	}
	c.logger.Info("environment_created",
		zap.String("environment_id", env.EnvironmentID),
		zap.String("preview_address", env.PreviewAddress),
		zap.Int("services", len(env.Services)),
		zap.Bool("degraded", env.HasFailedService()),
	)
	return nil
}

// update redeploys in place and refreshes the TTL. A missing record merges
// into create so "synchronize" before "opened" never crashes.
func (c *Controller) update(ctx context.Context, action Action) error {
	env, err := c.envs.FindByEnvironmentID(ctx, action.EnvironmentID)
	if err != nil {
		return fmt.Errorf("load environment: %w", err)
	}
	if env == nil || env.IsTerminal() {
		c.logger.Info("update_merged_into_create", zap.String("environment_id", action.EnvironmentID))
		return c.create(ctx, action)
	}

	env.MarkUpdating(action.CommitRef)
	env.RefreshExpiry(c.cfg.DefaultTTL)
	if err := c.envs.Save(ctx, env); err != nil {
		return fmt.Errorf("save environment: %w", err)
	}

	templates := make(map[string]config.ServiceTemplate)
	for _, tmpl := range c.cfg.TemplatesForRepository(env.Repository) {
		templates[tmpl.Name] = tmpl
	}

	for _, state := range sortedServices(env) {
		// Services without a compute handle (they failed during create)
		// are skipped; an update never repairs them.
		if state.ServiceRef == "" {
			continue
		}
		tmpl, ok := templates[state.ServiceID]
		if !ok {
			c.logger.Warn("service_template_missing",
				zap.String("environment_id", env.EnvironmentID),
				zap.String("service_id", state.ServiceID),
			)
			continue
		}
		spec := c.taskSpec(env, tmpl)
		if err := c.compute.ForceRedeploy(ctx, spec, state.ServiceRef); err != nil {
			c.logger.Warn("service_redeploy_failed",
				zap.Error(err),
				zap.String("environment_id", env.EnvironmentID),
				zap.String("service_id", state.ServiceID),
			)
			continue
		}
		state.Status = environment.ServiceActive
		state.UpdatedAt = time.Now().UTC()
	}

	// TTL mirror on routing entries; non-critical.
	if err := c.entries.RefreshExpiry(ctx, env.EnvironmentID, env.ExpiresAt); err != nil {
		c.logger.Warn("routing_expiry_refresh_failed", zap.Error(err), zap.String("environment_id", env.EnvironmentID))
	}

	env.MarkActive()
	if err := c.envs.Save(ctx, env); err != nil {
		return fmt.Errorf("save environment: %w", err)
	}
	c.logger.Info("environment_updated",
		zap.String("environment_id", env.EnvironmentID),
		zap.String("commit_ref", env.CommitRef),
		zap.Time("expires_at", env.ExpiresAt),
	)
	return nil
}

// destroy tears everything down in strict reverse-of-creation order per
// service. A missing record is a successful no-op so duplicate "closed"
// events and sweeper races stay harmless.
func (c *Controller) destroy(ctx context.Context, action Action) error {
	env, err := c.envs.FindByEnvironmentID(ctx, action.EnvironmentID)
	if err != nil {
		return fmt.Errorf("load environment: %w", err)
	}
	if env == nil {
		c.logger.Info("destroy_noop_missing_record", zap.String("environment_id", action.EnvironmentID))
		return nil
	}

	env.MarkDestroying()
	if err := c.envs.Save(ctx, env); err != nil {
		return fmt.Errorf("save environment: %w", err)
	}

	for _, state := range sortedServices(env) {
		c.teardownService(ctx, env, state)
		if err := c.envs.Save(ctx, env); err != nil {
			c.logger.Warn("environment_save_failed", zap.Error(err), zap.String("environment_id", env.EnvironmentID))
		}
	}

	if err := c.entries.DeleteByEnvironment(ctx, env.EnvironmentID); err != nil {
		return fmt.Errorf("delete routing entries: %w", err)
	}

	env.MarkDestroyed()
	if err := c.envs.Save(ctx, env); err != nil {
		return fmt.Errorf("save environment: %w", err)
	}
	c.logger.Info("environment_destroyed", zap.String("environment_id", env.EnvironmentID))
	return nil
}

// forceFailed records the failure on the environment before the error is
// re-raised to the caller.
func (c *Controller) forceFailed(ctx context.Context, environmentID string, cause error) {
	env, err := c.envs.FindByEnvironmentID(ctx, environmentID)
	if err != nil || env == nil {
		c.logger.Warn("mark_failed_load_failed", zap.Error(err), zap.String("environment_id", environmentID))
		return
	}
	env.MarkFailed(cause.Error())
	if err := c.envs.Save(ctx, env); err != nil {
		c.logger.Warn("mark_failed_save_failed", zap.Error(err), zap.String("environment_id", environmentID))
	}
}

func (c *Controller) previewAddress(environmentID string) string {
	return fmt.Sprintf("%s://%s.%s", c.cfg.PreviewRootScheme, environmentID, c.cfg.PreviewRootDomain)
}

func (c *Controller) taskSpec(env *environment.Environment, tmpl config.ServiceTemplate) provisioning.TaskSpec {
	return provisioning.TaskSpec{
		EnvironmentID: env.EnvironmentID,
		ServiceID:     tmpl.Name,
		Repository:    env.Repository,
		Image:         tmpl.Image,
		CommitRef:     env.CommitRef,
		Port:          tmpl.Port,
		HealthPath:    tmpl.HealthPath,
	}
}

func sortedServices(env *environment.Environment) []*environment.ServiceState {
	out := make([]*environment.ServiceState, 0, len(env.Services))
	for _, state := range env.Services {
		out = append(out, state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
