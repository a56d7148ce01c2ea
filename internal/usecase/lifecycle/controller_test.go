package lifecycle

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/d3clan/dynamic-branch-env/internal/allocator"
	"github.com/d3clan/dynamic-branch-env/internal/config"
	"github.com/d3clan/dynamic-branch-env/internal/domain/environment"
	"github.com/d3clan/dynamic-branch-env/pkg/testhelper"
)

type testFixture struct {
	controller *Controller
	envs       *testhelper.MemoryEnvironmentRepository
	entries    *testhelper.MemoryEntryRepository
	allocs     *testhelper.MemoryAllocationRepository
	compute    *testhelper.MockCompute
	lb         *testhelper.MockLoadBalancer
	registry   *testhelper.MockRegistry
	journal    *testhelper.Journal
	cfg        *config.Config
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	cfg := &config.Config{
		PreviewRootDomain: "preview.test",
		PreviewRootScheme: "https",
		PreviewHeader:     "X-Preview-Env",
		DefaultTTL:        72 * time.Hour,
		RoutingDomain:     "preview-listener",
		PriorityRangeLo:   1,
		PriorityRangeHi:   10,
		ServiceTemplates: []config.ServiceTemplate{
			{Name: "api", Image: "ghcr.io/acme/api", PathPattern: "/api/*", Port: 8080, HealthPath: "/health"},
			{Name: "web", Image: "ghcr.io/acme/web", PathPattern: "/*", Port: 3000, HealthPath: "/health"},
		},
	}

	journal := &testhelper.Journal{}
	f := &testFixture{
		envs:     testhelper.NewMemoryEnvironmentRepository(),
		entries:  testhelper.NewMemoryEntryRepository(),
		allocs:   testhelper.NewMemoryAllocationRepository(),
		compute:  &testhelper.MockCompute{Journal: journal},
		lb:       &testhelper.MockLoadBalancer{Journal: journal},
		registry: &testhelper.MockRegistry{Journal: journal},
		journal:  journal,
		cfg:      cfg,
	}
	f.controller = NewController(
		f.envs, f.entries,
		allocator.New(f.allocs, cfg, zap.NewNop()),
		f.compute, f.lb, f.registry,
		cfg, zap.NewNop(),
	)
	return f
}

func createAction() Action {
	return Action{
		Type:          ActionCreate,
		EnvironmentID: "pr-42",
		Repository:    "acme/shop",
		Branch:        "feature/cart",
		CommitRef:     "abc1234",
		PR:            environment.PullRequest{Number: 42, URL: "https://github.com/acme/shop/pull/42"},
	}
}

func TestCreate_ProvisionsAllServices(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.controller.Handle(ctx, createAction()))

	env, err := f.envs.FindByEnvironmentID(ctx, "pr-42")
	assert.NoError(t, err)
	assert.NotNil(t, env)
	assert.Equal(t, environment.StatusActive, env.Status)
	assert.Equal(t, "https://pr-42.preview.test", env.PreviewAddress)
	assert.Empty(t, env.LastError)
	assert.Len(t, env.Services, 2)
	for _, svc := range env.Services {
		assert.Equal(t, environment.ServiceActive, svc.Status)
		assert.NotEmpty(t, svc.ServiceRef)
		assert.NotEmpty(t, svc.RuleRef)
		assert.NotEmpty(t, svc.TargetRef)
		assert.NotZero(t, svc.Priority)
	}

	entries, err := f.entries.ListByEnvironment(ctx, "pr-42")
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, 2, f.allocs.Count("preview-listener"))

	// Rule matches carry the preview header and the environment id.
	for _, match := range f.lb.RuleCalls {
		assert.Equal(t, "X-Preview-Env", match.HeaderName)
		assert.Equal(t, "pr-42", match.HeaderValue)
	}
}

func TestCreate_DuplicateDeliveryDoesNotDoubleProvision(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.controller.Handle(ctx, createAction()))
	assert.NoError(t, f.controller.Handle(ctx, createAction()))

	env, _ := f.envs.FindByEnvironmentID(ctx, "pr-42")
	assert.Equal(t, environment.StatusActive, env.Status)

	// The second create merged into update: no new services, no new slots.
	assert.Len(t, f.compute.CreateCalls, 2)
	assert.Len(t, f.lb.TargetCalls, 2)
	assert.Equal(t, 2, f.allocs.Count("preview-listener"))
	assert.Len(t, f.compute.RedeployCalls, 2)
}

func TestCreate_PartialFailureDegradesNotAborts(t *testing.T) {
	f := newTestFixture(t)
	f.lb.FailRuleForSvc = "/api/*"
	ctx := context.Background()

	assert.NoError(t, f.controller.Handle(ctx, createAction()))

	env, _ := f.envs.FindByEnvironmentID(ctx, "pr-42")
	assert.Equal(t, environment.StatusActive, env.Status)
	assert.True(t, env.HasFailedService())
	assert.Contains(t, env.LastError, "service api")

	api := env.Services["api"]
	assert.Equal(t, environment.ServiceFailed, api.Status)
	assert.Contains(t, api.LastError, "create rule")
	// Handles won before the failing step stay recorded for teardown.
	assert.NotEmpty(t, api.TargetRef)
	assert.Empty(t, api.ServiceRef)

	web := env.Services["web"]
	assert.Equal(t, environment.ServiceActive, web.Status)
}

func TestCreate_ExhaustionSurfacesOnService(t *testing.T) {
	f := newTestFixture(t)
	f.cfg.PriorityRangeHi = 1
	f.controller = NewController(
		f.envs, f.entries,
		allocator.New(f.allocs, f.cfg, zap.NewNop()),
		f.compute, f.lb, f.registry,
		f.cfg, zap.NewNop(),
	)
	ctx := context.Background()

	assert.NoError(t, f.controller.Handle(ctx, createAction()))

	env, _ := f.envs.FindByEnvironmentID(ctx, "pr-42")
	assert.Equal(t, environment.StatusActive, env.Status)
	assert.True(t, env.HasFailedService())
	assert.Contains(t, env.LastError, "exhausted")
}

func TestCreate_AfterDestroyRestartsCycle(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.controller.Handle(ctx, createAction()))
	first, _ := f.envs.FindByEnvironmentID(ctx, "pr-42")
	firstID := first.ID

	assert.NoError(t, f.controller.Handle(ctx, Action{Type: ActionDestroy, EnvironmentID: "pr-42"}))

	// Reopened PR: the same environment_id starts a fresh cycle over the
	// retained record instead of merging into update or colliding with it.
	action := createAction()
	action.CommitRef = "def5678"
	assert.NoError(t, f.controller.Handle(ctx, action))

	env, _ := f.envs.FindByEnvironmentID(ctx, "pr-42")
	assert.Equal(t, environment.StatusActive, env.Status)
	assert.Equal(t, firstID, env.ID)
	assert.Equal(t, "def5678", env.CommitRef)
	assert.Empty(t, env.LastError)
	assert.Len(t, env.Services, 2)
	for _, svc := range env.Services {
		assert.Equal(t, environment.ServiceActive, svc.Status)
		assert.NotEmpty(t, svc.ServiceRef)
	}

	// Full re-provisioning, not a merged update.
	assert.Len(t, f.compute.CreateCalls, 4)
	assert.Empty(t, f.compute.RedeployCalls)
	assert.Equal(t, 2, f.allocs.Count("preview-listener"))
}

func TestCreate_AfterFailureRestartsCycle(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.controller.Handle(ctx, createAction()))
	env, _ := f.envs.FindByEnvironmentID(ctx, "pr-42")
	env.MarkFailed("backend unavailable")
	assert.NoError(t, f.envs.Save(ctx, env))
	failedID := env.ID

	assert.NoError(t, f.controller.Handle(ctx, createAction()))

	env, _ = f.envs.FindByEnvironmentID(ctx, "pr-42")
	assert.Equal(t, environment.StatusActive, env.Status)
	assert.Equal(t, failedID, env.ID)
	assert.Empty(t, env.LastError)
}

func TestUpdate_MissingRecordBehavesAsCreate(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	action := createAction()
	action.Type = ActionUpdate
	assert.NoError(t, f.controller.Handle(ctx, action))

	env, _ := f.envs.FindByEnvironmentID(ctx, "pr-42")
	assert.NotNil(t, env)
	assert.Equal(t, environment.StatusActive, env.Status)
	assert.Len(t, f.compute.CreateCalls, 2)
}

func TestUpdate_RedeploysAndRefreshesExpiry(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.controller.Handle(ctx, createAction()))
	env, _ := f.envs.FindByEnvironmentID(ctx, "pr-42")
	env.ExpiresAt = time.Now().UTC().Add(time.Hour)
	assert.NoError(t, f.envs.Save(ctx, env))

	action := createAction()
	action.Type = ActionUpdate
	action.CommitRef = "def5678"
	assert.NoError(t, f.controller.Handle(ctx, action))

	env, _ = f.envs.FindByEnvironmentID(ctx, "pr-42")
	assert.Equal(t, environment.StatusActive, env.Status)
	assert.Equal(t, "def5678", env.CommitRef)
	assert.WithinDuration(t, time.Now().UTC().Add(72*time.Hour), env.ExpiresAt, time.Minute)
	assert.Len(t, f.compute.RedeployCalls, 2)

	// Routing entries mirror the new expiry.
	entries, _ := f.entries.ListByEnvironment(ctx, "pr-42")
	for _, entry := range entries {
		assert.WithinDuration(t, env.ExpiresAt, entry.ExpiresAt, time.Second)
	}
}

func TestUpdate_SkipsServicesWithoutComputeHandle(t *testing.T) {
	f := newTestFixture(t)
	f.lb.FailRuleForSvc = "/api/*"
	ctx := context.Background()

	assert.NoError(t, f.controller.Handle(ctx, createAction()))
	f.lb.FailRuleForSvc = ""

	action := createAction()
	action.Type = ActionUpdate
	assert.NoError(t, f.controller.Handle(ctx, action))

	// Only the healthy service redeploys; the failed one stays failed.
	assert.Len(t, f.compute.RedeployCalls, 1)
	env, _ := f.envs.FindByEnvironmentID(ctx, "pr-42")
	assert.Equal(t, environment.ServiceFailed, env.Services["api"].Status)
}

func TestDestroy_MissingRecordIsNoop(t *testing.T) {
	f := newTestFixture(t)

	err := f.controller.Handle(context.Background(), Action{Type: ActionDestroy, EnvironmentID: "pr-404"})
	assert.NoError(t, err)
	assert.Empty(t, f.journal.Calls())
}

func TestDestroy_TearsDownEverything(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.controller.Handle(ctx, createAction()))
	assert.NoError(t, f.controller.Handle(ctx, Action{Type: ActionDestroy, EnvironmentID: "pr-42"}))

	env, _ := f.envs.FindByEnvironmentID(ctx, "pr-42")
	assert.Equal(t, environment.StatusDestroyed, env.Status)

	entries, _ := f.entries.ListByEnvironment(ctx, "pr-42")
	assert.Empty(t, entries)
	assert.Equal(t, 0, f.allocs.Count("preview-listener"))

	assert.Len(t, f.lb.DeletedRules, 2)
	assert.Len(t, f.lb.DeletedTargets, 2)
	assert.Len(t, f.compute.DeleteCalls, 2)
	assert.Len(t, f.registry.DeregisterCalls, 2)

	for _, svc := range env.Services {
		assert.Empty(t, svc.RuleRef)
		assert.Empty(t, svc.ServiceRef)
		assert.Empty(t, svc.TargetRef)
		assert.Zero(t, svc.Priority)
	}
}

func TestDestroy_OrderPerService(t *testing.T) {
	f := newTestFixture(t)
	f.cfg.ServiceTemplates = f.cfg.ServiceTemplates[:1] // api only
	ctx := context.Background()

	assert.NoError(t, f.controller.Handle(ctx, createAction()))
	f.journal = &testhelper.Journal{}
	f.compute.Journal, f.lb.Journal, f.registry.Journal = f.journal, f.journal, f.journal

	assert.NoError(t, f.controller.Handle(ctx, Action{Type: ActionDestroy, EnvironmentID: "pr-42"}))

	calls := f.journal.Calls()
	assert.Len(t, calls, 5)
	assert.True(t, strings.HasPrefix(calls[0], "lb.delete_rule:"))
	assert.True(t, strings.HasPrefix(calls[1], "compute.scale_zero:"))
	assert.True(t, strings.HasPrefix(calls[2], "compute.delete:"))
	assert.True(t, strings.HasPrefix(calls[3], "lb.delete_target:"))
	assert.True(t, strings.HasPrefix(calls[4], "registry.deregister:"))
}

func TestDestroy_IsReentrant(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.controller.Handle(ctx, createAction()))
	assert.NoError(t, f.controller.Handle(ctx, Action{Type: ActionDestroy, EnvironmentID: "pr-42"}))
	assert.NoError(t, f.controller.Handle(ctx, Action{Type: ActionDestroy, EnvironmentID: "pr-42"}))

	// Handles were cleared on the first pass; the second touches nothing.
	assert.Len(t, f.lb.DeletedRules, 2)
	assert.Len(t, f.compute.DeleteCalls, 2)
	assert.Len(t, f.lb.DeletedTargets, 2)
}

func TestDestroy_FailedStepLeavesHandleForRetry(t *testing.T) {
	f := newTestFixture(t)
	f.cfg.ServiceTemplates = f.cfg.ServiceTemplates[:1]
	ctx := context.Background()

	assert.NoError(t, f.controller.Handle(ctx, createAction()))

	f.lb.FailDeleteRule = true
	assert.NoError(t, f.controller.Handle(ctx, Action{Type: ActionDestroy, EnvironmentID: "pr-42"}))

	env, _ := f.envs.FindByEnvironmentID(ctx, "pr-42")
	assert.Equal(t, environment.StatusDestroyed, env.Status)
	// The rule handle survives so a later destroy can retry the delete.
	assert.NotEmpty(t, env.Services["api"].RuleRef)
	assert.Empty(t, env.Services["api"].ServiceRef)

	f.lb.FailDeleteRule = false
	assert.NoError(t, f.controller.Handle(ctx, Action{Type: ActionDestroy, EnvironmentID: "pr-42"}))
	env, _ = f.envs.FindByEnvironmentID(ctx, "pr-42")
	assert.Empty(t, env.Services["api"].RuleRef)
}

func TestHandle_RejectsInvalidActions(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	err := f.controller.Handle(ctx, Action{Type: ActionCreate})
	assert.Error(t, err)

	err = f.controller.Handle(ctx, Action{Type: "promote", EnvironmentID: "pr-1"})
	assert.Error(t, err)
}
