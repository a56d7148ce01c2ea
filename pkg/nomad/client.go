package nomad

import (
	"strings"

	"github.com/hashicorp/nomad/api"
)

type Client struct {
	client *api.Client
}

func NewClient() (*Client, error) {
	// Assumes NOMAD_ADDR and NOMAD_TOKEN are set in env or defaults to localhost
	cfg := api.DefaultConfig()
	c, err := api.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{client: c}, nil
}

// DeployService registers the generated job. Registering an existing job is a
// plain update, so duplicate deploys of the same spec converge.
func (c *Client) DeployService(cfg JobConfig) (string, error) {
	job, err := GenerateJob(cfg)
	if err != nil {
		return "", err
	}
	if _, _, err := c.client.Jobs().Register(job, nil); err != nil {
		return "", err
	}
	return *job.ID, nil
}

// RestartService forces a new deployment of a running job, picking up the
// latest image for its tag.
func (c *Client) RestartService(jobID string) error {
	_, _, err := c.client.Jobs().EvaluateWithOpts(jobID, api.EvalOptions{ForceReschedule: true}, nil)
	return err
}

// ScaleToZero stops all allocations without deregistering the job.
func (c *Client) ScaleToZero(jobID string) error {
	job, _, err := c.client.Jobs().Info(jobID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	if len(job.TaskGroups) == 0 || job.TaskGroups[0].Name == nil {
		return nil
	}
	_, _, err = c.client.Jobs().Scale(jobID, *job.TaskGroups[0].Name, intToPtr(0), "preview teardown drain", false, nil, nil)
	return err
}

// StopService purges the job. A missing job is a successful no-op.
func (c *Client) StopService(jobID string) error {
	_, _, err := c.client.Jobs().Deregister(jobID, true, nil)
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}

// ServiceStatus reports the coarse allocation state of a job.
func (c *Client) ServiceStatus(jobID string) (string, error) {
	allocs, _, err := c.client.Jobs().Allocations(jobID, false, nil)
	if err != nil {
		if isNotFound(err) {
			return "not_found", nil
		}
		return "", err
	}

	if len(allocs) == 0 {
		return "pending", nil
	}

	alloc := latestAllocation(allocs)
	if alloc == nil {
		return "pending", nil
	}

	status := strings.ToLower(strings.TrimSpace(alloc.ClientStatus))
	if status != "running" {
		return status, nil
	}
	if allocationReady(alloc) {
		return "running", nil
	}
	return "pending", nil
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}

func latestAllocation(allocs []*api.AllocationListStub) *api.AllocationListStub {
	var latest *api.AllocationListStub
	for _, alloc := range allocs {
		if alloc == nil {
			continue
		}
		if latest == nil {
			latest = alloc
			continue
		}
		if alloc.ModifyIndex > latest.ModifyIndex {
			latest = alloc
			continue
		}
		if alloc.ModifyIndex == latest.ModifyIndex && alloc.CreateIndex > latest.CreateIndex {
			latest = alloc
		}
	}
	return latest
}

func allocationReady(alloc *api.AllocationListStub) bool {
	if alloc == nil {
		return false
	}
	if alloc.DesiredStatus != "" && strings.ToLower(alloc.DesiredStatus) != api.AllocDesiredStatusRun {
		return false
	}
	if len(alloc.TaskStates) == 0 {
		return false
	}
	for _, state := range alloc.TaskStates {
		if state == nil {
			return false
		}
		if state.Failed {
			return false
		}
		if strings.ToLower(strings.TrimSpace(state.State)) != "running" {
			return false
		}
	}
	return true
}
