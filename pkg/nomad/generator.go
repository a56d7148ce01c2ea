package nomad

import (
	"fmt"
	"time"

	"github.com/hashicorp/nomad/api"
)

// JobID returns the deterministic Nomad job name for a preview service.
// Determinism is what makes register/deregister idempotent.
func JobID(environmentID, serviceID string) string {
	return fmt.Sprintf("preview-%s-%s", environmentID, serviceID)
}

// GenerateJob creates a Nomad job specification for a single preview service.
// Preview workloads run at low scheduler priority so they never starve
// steady-state jobs.
func GenerateJob(cfg JobConfig) (*api.Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job config: %w", err)
	}

	jobName := JobID(cfg.EnvironmentID, cfg.ServiceID)
	jobType := "service"
	region := "global"
	priority := 30

	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}

	taskGroup := &api.TaskGroup{
		Name:  &jobName,
		Count: intToPtr(1),
		RestartPolicy: &api.RestartPolicy{
			Attempts: intToPtr(3),
			Interval: timeToPtr(5 * time.Minute),
			Delay:    timeToPtr(15 * time.Second),
			Mode:     stringToPtr("fail"),
		},
		Networks: []*api.NetworkResource{
			{
				DynamicPorts: []api.Port{
					{Label: "http", To: cfg.Port},
				},
			},
		},
	}

	image := cfg.Image
	if cfg.CommitRef != "" {
		image = fmt.Sprintf("%s:%s", cfg.Image, cfg.CommitRef)
	}

	task := &api.Task{
		Name:   cfg.ServiceID,
		Driver: "docker",
		Config: map[string]interface{}{
			"image": image,
			"ports": []string{"http"},
		},
		Env: map[string]string{
			"PREVIEW_ENVIRONMENT_ID": cfg.EnvironmentID,
			"PREVIEW_SERVICE_ID":     cfg.ServiceID,
			"PREVIEW_COMMIT_REF":     cfg.CommitRef,
		},
		Resources: &api.Resources{
			CPU:      intToPtr(250),
			MemoryMB: intToPtr(512),
		},
	}

	service := &api.Service{
		Name:      jobName,
		PortLabel: "http",
		Checks: []api.ServiceCheck{
			{
				Type:     "http",
				Path:     healthPath,
				Interval: 10 * time.Second,
				Timeout:  2 * time.Second,
			},
		},
	}

	taskGroup.Tasks = []*api.Task{task}
	taskGroup.Services = []*api.Service{service}

	job := &api.Job{
		ID:          &jobName,
		Name:        &jobName,
		Type:        &jobType,
		Region:      &region,
		Datacenters: []string{"dc1"},
		Priority:    &priority,
		TaskGroups:  []*api.TaskGroup{taskGroup},
	}

	return job, nil
}

// Helpers
func intToPtr(i int) *int                      { return &i }
func stringToPtr(s string) *string             { return &s }
func timeToPtr(d time.Duration) *time.Duration { return &d }
