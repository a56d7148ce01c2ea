package environment

import (
	"errors"
	"fmt"
	"time"
)

// Status represents the lifecycle state of a preview environment.
type Status string

const (
	StatusCreating   Status = "creating"
	StatusActive     Status = "active"
	StatusUpdating   Status = "updating"
	StatusDestroying Status = "destroying"
	StatusDestroyed  Status = "destroyed"
	StatusFailed     Status = "failed"
)

// ServiceStatus represents the state of one deployable unit inside an environment.
type ServiceStatus string

const (
	ServicePending    ServiceStatus = "pending"
	ServiceDeploying  ServiceStatus = "deploying"
	ServiceActive     ServiceStatus = "active"
	ServiceFailed     ServiceStatus = "failed"
	ServiceDestroying ServiceStatus = "destroying"
)

var ErrInvalidState = errors.New("invalid environment state for operation")

// PullRequest carries the source PR metadata an environment was created from.
type PullRequest struct {
	Number     int    `json:"number"`
	URL        string `json:"url"`
	BaseBranch string `json:"base_branch,omitempty"`
	Merged     bool   `json:"merged,omitempty"`
}

// ServiceState tracks one service's deployment progress and the handles to
// its provisioned backend resources. Handles stay empty until the
// corresponding provisioning step succeeds.
type ServiceState struct {
	ServiceID   string        `json:"service_id"`
	Status      ServiceStatus `json:"status"`
	TemplateRef string        `json:"template_ref,omitempty"`
	ServiceRef  string        `json:"service_ref,omitempty"`
	TargetRef   string        `json:"target_ref,omitempty"`
	RuleRef     string        `json:"rule_ref,omitempty"`
	RegistryRef string        `json:"registry_ref,omitempty"`
	Priority    int           `json:"priority,omitempty"`
	PathPattern string        `json:"path_pattern,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Environment is the core domain entity: one pull request's isolated preview
// deployment, owning a set of services that share its lifecycle.
type Environment struct {
	ID             int64                    `json:"id,string"`
	EnvironmentID  string                   `json:"environment_id"`
	Status         Status                   `json:"status"`
	Repository     string                   `json:"repository"`
	Branch         string                   `json:"branch"`
	CommitRef      string                   `json:"commit_ref"`
	PR             PullRequest              `json:"pr"`
	PreviewAddress string                   `json:"preview_address"`
	Services       map[string]*ServiceState `json:"services"`
	LastError      string                   `json:"last_error,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
	ExpiresAt      time.Time                `json:"expires_at"`
}

// IDForPR derives the stable environment id for a pull request number.
func IDForPR(number int) string {
	return fmt.Sprintf("pr-%d", number)
}

// New creates a fresh environment in creating state.
func New(environmentID, repository, branch, commitRef string, pr PullRequest, ttl time.Duration) *Environment {
	now := time.Now().UTC()
	return &Environment{
		EnvironmentID: environmentID,
		Status:        StatusCreating,
		Repository:    repository,
		Branch:        branch,
		CommitRef:     commitRef,
		PR:            pr,
		Services:      make(map[string]*ServiceState),
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
}

// IsTerminal reports whether the environment finished its lifecycle. A later
// CREATE for the same id restarts the cycle from a terminal state.
func (e *Environment) IsTerminal() bool {
	return e.Status == StatusDestroyed || e.Status == StatusFailed
}

// HasFailedService reports whether any service ended up failed.
func (e *Environment) HasFailedService() bool {
	for _, svc := range e.Services {
		if svc.Status == ServiceFailed {
			return true
		}
	}
	return false
}

// RefreshExpiry pushes the expiry out by ttl from now.
func (e *Environment) RefreshExpiry(ttl time.Duration) {
	now := time.Now().UTC()
	e.ExpiresAt = now.Add(ttl)
	e.UpdatedAt = now
}

// MarkActive transitions the environment to active state.
func (e *Environment) MarkActive() {
	e.Status = StatusActive
	e.UpdatedAt = time.Now().UTC()
}

// MarkUpdating transitions the environment to updating state.
func (e *Environment) MarkUpdating(commitRef string) {
	e.Status = StatusUpdating
	if commitRef != "" {
		e.CommitRef = commitRef
	}
	e.UpdatedAt = time.Now().UTC()
}

// MarkDestroying transitions the environment to destroying state.
func (e *Environment) MarkDestroying() {
	e.Status = StatusDestroying
	e.UpdatedAt = time.Now().UTC()
}

// MarkDestroyed transitions the environment to destroyed state. The record is
// retained for a retention window and physically expired later.
func (e *Environment) MarkDestroyed() {
	e.Status = StatusDestroyed
	e.UpdatedAt = time.Now().UTC()
}

// MarkFailed transitions the environment to failed state with a diagnostic.
func (e *Environment) MarkFailed(errMsg string) {
	e.Status = StatusFailed
	e.LastError = errMsg
	e.UpdatedAt = time.Now().UTC()
}

// SetService replaces a service state entry.
func (e *Environment) SetService(state *ServiceState) {
	if e.Services == nil {
		e.Services = make(map[string]*ServiceState)
	}
	state.UpdatedAt = time.Now().UTC()
	e.Services[state.ServiceID] = state
}
