package provisioning

import "context"

// TaskSpec holds everything a backend needs to run one preview service.
type TaskSpec struct {
	EnvironmentID string
	ServiceID     string
	Repository    string
	Image         string
	CommitRef     string
	Port          int
	HealthPath    string
}

// TargetSpec describes a dedicated load-balancer target for one service.
type TargetSpec struct {
	EnvironmentID string
	ServiceID     string
	Port          int
	HealthPath    string
}

// RuleMatch is the compound match condition bound to a routing rule: the
// environment-identifying header AND the service's path pattern.
type RuleMatch struct {
	HeaderName  string
	HeaderValue string
	PathPattern string
}

// RegistrySpec describes a service-discovery entry for one service.
type RegistrySpec struct {
	EnvironmentID string
	ServiceID     string
	Address       string
	Port          int
}

// Compute defines the interface for the compute backend running preview
// workloads. All operations are fallible, retryable side effects; the
// delete-shaped ones must tolerate already-absent resources.
type Compute interface {
	// RegisterTaskTemplate validates and registers the task definition,
	// returning a template reference. It performs no deployment.
	RegisterTaskTemplate(ctx context.Context, spec TaskSpec) (string, error)

	// CreateService starts the workload bound to the given target and, when
	// available, the discovery entry. Returns the service reference.
	CreateService(ctx context.Context, spec TaskSpec, templateRef, targetRef, registryRef string) (string, error)

	// ForceRedeploy redeploys a running service in place with a new commit.
	// Target and rule identity are stable across redeploys.
	ForceRedeploy(ctx context.Context, spec TaskSpec, serviceRef string) error

	// ScaleToZero drains the service before deletion.
	ScaleToZero(ctx context.Context, serviceRef string) error

	// DeleteService removes the workload. Absent services are not an error.
	DeleteService(ctx context.Context, serviceRef string) error
}

// LoadBalancer defines the interface for the shared routing layer whose rule
// priority space is the contended resource.
type LoadBalancer interface {
	CreateTarget(ctx context.Context, spec TargetSpec) (string, error)
	CreateRule(ctx context.Context, domain string, match RuleMatch, targetRef string, priority int) (string, error)
	// DeleteRule and DeleteTarget treat already-absent resources as success.
	DeleteRule(ctx context.Context, domain, ruleRef string) error
	DeleteTarget(ctx context.Context, targetRef string) error
}

// ServiceRegistry defines the best-effort service-discovery backend.
// Registration failures never fail a deployment.
type ServiceRegistry interface {
	Register(ctx context.Context, spec RegistrySpec) (string, error)
	Deregister(ctx context.Context, registryRef string) error
}
