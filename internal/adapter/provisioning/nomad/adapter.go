package nomad

import (
	"context"

	"github.com/d3clan/dynamic-branch-env/internal/domain/provisioning"
	"github.com/d3clan/dynamic-branch-env/pkg/nomad"
)

// Adapter implements provisioning.Compute on Nomad. The task template and the
// service share the deterministic job id; registering the template validates
// the spec without touching the scheduler, creating the service submits it.
type Adapter struct {
	client *nomad.Client
}

func NewAdapter(client *nomad.Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) RegisterTaskTemplate(ctx context.Context, spec provisioning.TaskSpec) (string, error) {
	cfg := jobConfig(spec)
	if _, err := nomad.GenerateJob(cfg); err != nil {
		return "", err
	}
	return nomad.JobID(spec.EnvironmentID, spec.ServiceID), nil
}

func (a *Adapter) CreateService(ctx context.Context, spec provisioning.TaskSpec, templateRef, targetRef, registryRef string) (string, error) {
	return a.client.DeployService(jobConfig(spec))
}

func (a *Adapter) ForceRedeploy(ctx context.Context, spec provisioning.TaskSpec, serviceRef string) error {
	if _, err := a.client.DeployService(jobConfig(spec)); err != nil {
		return err
	}
	return a.client.RestartService(serviceRef)
}

func (a *Adapter) ScaleToZero(ctx context.Context, serviceRef string) error {
	return a.client.ScaleToZero(serviceRef)
}

func (a *Adapter) DeleteService(ctx context.Context, serviceRef string) error {
	return a.client.StopService(serviceRef)
}

func jobConfig(spec provisioning.TaskSpec) nomad.JobConfig {
	return nomad.JobConfig{
		EnvironmentID: spec.EnvironmentID,
		ServiceID:     spec.ServiceID,
		Image:         spec.Image,
		CommitRef:     spec.CommitRef,
		Port:          spec.Port,
		HealthPath:    spec.HealthPath,
	}
}
