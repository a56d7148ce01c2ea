package testhelper

import (
	"context"
	"fmt"
	"sync"

	"github.com/d3clan/dynamic-branch-env/internal/domain/provisioning"
)

// Journal records backend calls in order across mocks so tests can assert
// teardown ordering.
type Journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *Journal) Append(call string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, call)
}

func (j *Journal) Calls() []string {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.calls))
	copy(out, j.calls)
	return out
}

// MockCompute is a mock implementation of provisioning.Compute.
type MockCompute struct {
	Journal *Journal

	mu            sync.Mutex
	RegisterCalls []provisioning.TaskSpec
	CreateCalls   []provisioning.TaskSpec
	RedeployCalls []string
	ScaleCalls    []string
	DeleteCalls   []string

	FailRegister bool
	FailCreate   bool
	FailRedeploy bool
}

func (m *MockCompute) RegisterTaskTemplate(ctx context.Context, spec provisioning.TaskSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailRegister {
		return "", fmt.Errorf("mock compute: register template failed")
	}
	m.RegisterCalls = append(m.RegisterCalls, spec)
	m.Journal.Append("compute.register:" + spec.ServiceID)
	return fmt.Sprintf("tmpl-%s-%s", spec.EnvironmentID, spec.ServiceID), nil
}

func (m *MockCompute) CreateService(ctx context.Context, spec provisioning.TaskSpec, templateRef, targetRef, registryRef string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate {
		return "", fmt.Errorf("mock compute: create service failed")
	}
	m.CreateCalls = append(m.CreateCalls, spec)
	m.Journal.Append("compute.create:" + spec.ServiceID)
	return fmt.Sprintf("svc-%s-%s", spec.EnvironmentID, spec.ServiceID), nil
}

func (m *MockCompute) ForceRedeploy(ctx context.Context, spec provisioning.TaskSpec, serviceRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailRedeploy {
		return fmt.Errorf("mock compute: redeploy failed")
	}
	m.RedeployCalls = append(m.RedeployCalls, serviceRef)
	m.Journal.Append("compute.redeploy:" + spec.ServiceID)
	return nil
}

func (m *MockCompute) ScaleToZero(ctx context.Context, serviceRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ScaleCalls = append(m.ScaleCalls, serviceRef)
	m.Journal.Append("compute.scale_zero:" + serviceRef)
	return nil
}

func (m *MockCompute) DeleteService(ctx context.Context, serviceRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls = append(m.DeleteCalls, serviceRef)
	m.Journal.Append("compute.delete:" + serviceRef)
	return nil
}

// MockLoadBalancer is a mock implementation of provisioning.LoadBalancer.
type MockLoadBalancer struct {
	Journal *Journal

	mu                sync.Mutex
	TargetCalls       []provisioning.TargetSpec
	RuleCalls         []provisioning.RuleMatch
	RulePriorities    []int
	DeletedRules      []string
	DeletedTargets    []string
	FailCreateTarget  bool
	FailCreateRule    bool
	FailRuleForSvc    string
	FailDeleteRule    bool
}

func (m *MockLoadBalancer) CreateTarget(ctx context.Context, spec provisioning.TargetSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreateTarget {
		return "", fmt.Errorf("mock lb: create target failed")
	}
	m.TargetCalls = append(m.TargetCalls, spec)
	m.Journal.Append("lb.create_target:" + spec.ServiceID)
	return fmt.Sprintf("tg-%s-%s", spec.EnvironmentID, spec.ServiceID), nil
}

func (m *MockLoadBalancer) CreateRule(ctx context.Context, domain string, match provisioning.RuleMatch, targetRef string, priority int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreateRule || (m.FailRuleForSvc != "" && match.PathPattern == m.FailRuleForSvc) {
		return "", fmt.Errorf("mock lb: create rule failed")
	}
	m.RuleCalls = append(m.RuleCalls, match)
	m.RulePriorities = append(m.RulePriorities, priority)
	m.Journal.Append(fmt.Sprintf("lb.create_rule:%s:%d", match.HeaderValue, priority))
	return fmt.Sprintf("rule-%s-%d", match.HeaderValue, priority), nil
}

func (m *MockLoadBalancer) DeleteRule(ctx context.Context, domain, ruleRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDeleteRule {
		return fmt.Errorf("mock lb: delete rule failed")
	}
	m.DeletedRules = append(m.DeletedRules, ruleRef)
	m.Journal.Append("lb.delete_rule:" + ruleRef)
	return nil
}

func (m *MockLoadBalancer) DeleteTarget(ctx context.Context, targetRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeletedTargets = append(m.DeletedTargets, targetRef)
	m.Journal.Append("lb.delete_target:" + targetRef)
	return nil
}

// MockRegistry is a mock implementation of provisioning.ServiceRegistry.
type MockRegistry struct {
	Journal *Journal

	mu              sync.Mutex
	RegisterCalls   []provisioning.RegistrySpec
	DeregisterCalls []string
	FailRegister    bool
}

func (m *MockRegistry) Register(ctx context.Context, spec provisioning.RegistrySpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailRegister {
		return "", fmt.Errorf("mock registry: register failed")
	}
	m.RegisterCalls = append(m.RegisterCalls, spec)
	m.Journal.Append("registry.register:" + spec.ServiceID)
	return fmt.Sprintf("reg-%s-%s", spec.EnvironmentID, spec.ServiceID), nil
}

func (m *MockRegistry) Deregister(ctx context.Context, registryRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeregisterCalls = append(m.DeregisterCalls, registryRef)
	m.Journal.Append("registry.deregister:" + registryRef)
	return nil
}
