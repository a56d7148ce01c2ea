package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/d3clan/dynamic-branch-env/internal/config"
	"github.com/d3clan/dynamic-branch-env/internal/domain/environment"
	"github.com/d3clan/dynamic-branch-env/internal/domain/provisioning"
	"github.com/d3clan/dynamic-branch-env/internal/domain/routing"
)

// deployService runs one service's provisioning sequence: task template →
// edge target → priority + rule → discovery entry (best effort) → compute
// service → routing entry. A failing critical step aborts only this service;
// handles already won are kept on the state so a later destroy can reap them.
func (c *Controller) deployService(ctx context.Context, env *environment.Environment, tmpl config.ServiceTemplate) error {
	state := env.Services[tmpl.Name]
	state.Status = environment.ServiceDeploying
	spec := c.taskSpec(env, tmpl)

	templateRef, err := c.compute.RegisterTaskTemplate(ctx, spec)
	if err != nil {
		return fmt.Errorf("register task template: %w", err)
	}
	state.TemplateRef = templateRef

	targetRef, err := c.lb.CreateTarget(ctx, provisioning.TargetSpec{
		EnvironmentID: env.EnvironmentID,
		ServiceID:     tmpl.Name,
		Port:          tmpl.Port,
		HealthPath:    tmpl.HealthPath,
	})
	if err != nil {
		return fmt.Errorf("create target: %w", err)
	}
	state.TargetRef = targetRef

	priority, err := c.alloc.Allocate(ctx, c.cfg.RoutingDomain, env.EnvironmentID, tmpl.Name, env.ExpiresAt)
	if err != nil {
		return fmt.Errorf("allocate priority: %w", err)
	}
	state.Priority = priority

	ruleRef, err := c.lb.CreateRule(ctx, c.cfg.RoutingDomain, provisioning.RuleMatch{
		HeaderName:  c.cfg.PreviewHeader,
		HeaderValue: env.EnvironmentID,
		PathPattern: tmpl.PathPattern,
	}, targetRef, priority)
	if err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	state.RuleRef = ruleRef

	// Discovery registration is best effort; a missing entry only degrades
	// service-to-service lookup, never the deployment.
	registryRef, regErr := c.registry.Register(ctx, provisioning.RegistrySpec{
		EnvironmentID: env.EnvironmentID,
		ServiceID:     tmpl.Name,
		Address:       env.PreviewAddress,
		Port:          tmpl.Port,
	})
	if regErr != nil {
		c.logger.Warn("registry_register_failed",
			zap.Error(regErr),
			zap.String("environment_id", env.EnvironmentID),
			zap.String("service_id", tmpl.Name),
		)
	} else {
		state.RegistryRef = registryRef
	}

	serviceRef, err := c.compute.CreateService(ctx, spec, templateRef, targetRef, state.RegistryRef)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	state.ServiceRef = serviceRef

	now := time.Now().UTC()
	if err := c.entries.Save(ctx, &routing.Entry{
		ServiceID:     tmpl.Name,
		EnvironmentID: env.EnvironmentID,
		RuleRef:       ruleRef,
		TargetRef:     targetRef,
		RegistryRef:   state.RegistryRef,
		Priority:      priority,
		ExpiresAt:     env.ExpiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}); err != nil {
		return fmt.Errorf("save routing entry: %w", err)
	}

	state.Status = environment.ServiceActive
	state.LastError = ""
	state.UpdatedAt = now
	return nil
}

// teardownService reverses the deploy sequence step by step. Every step is
// independent and tolerant: leaving a dangling registry entry is cheaper
// than aborting and leaving a dangling routing rule. Handles are cleared as
// steps succeed so a re-entrant destroy skips finished work.
func (c *Controller) teardownService(ctx context.Context, env *environment.Environment, state *environment.ServiceState) {
	state.Status = environment.ServiceDestroying
	state.UpdatedAt = time.Now().UTC()
	log := c.logger.With(
		zap.String("environment_id", env.EnvironmentID),
		zap.String("service_id", state.ServiceID),
	)

	if state.RuleRef != "" {
		if err := c.lb.DeleteRule(ctx, c.cfg.RoutingDomain, state.RuleRef); err != nil {
			log.Warn("rule_delete_failed", zap.Error(err))
		} else {
			state.RuleRef = ""
		}
	}

	if state.ServiceRef != "" {
		if err := c.compute.ScaleToZero(ctx, state.ServiceRef); err != nil {
			log.Warn("scale_to_zero_failed", zap.Error(err))
		}
		sleepCtx(ctx, c.cfg.DrainWait)
		if err := c.compute.DeleteService(ctx, state.ServiceRef); err != nil {
			log.Warn("service_delete_failed", zap.Error(err))
		} else {
			state.ServiceRef = ""
		}
	}

	if state.TargetRef != "" {
		// Bounded wait for the edge to deregister drained targets.
		sleepCtx(ctx, c.cfg.DeregisterWait)
		if err := c.lb.DeleteTarget(ctx, state.TargetRef); err != nil {
			log.Warn("target_delete_failed", zap.Error(err))
		} else {
			state.TargetRef = ""
		}
	}

	if state.RegistryRef != "" {
		if err := c.registry.Deregister(ctx, state.RegistryRef); err != nil {
			log.Warn("registry_deregister_failed", zap.Error(err))
		} else {
			state.RegistryRef = ""
		}
	}

	if state.Priority > 0 {
		if err := c.alloc.Release(ctx, c.cfg.RoutingDomain, state.Priority); err == nil {
			state.Priority = 0
		}
	}
}
