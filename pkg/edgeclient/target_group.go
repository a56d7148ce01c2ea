package edgeclient

import (
	"context"
	"fmt"
	"net/http"
)

type TargetGroup struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Port          int    `json:"port"`
	HealthPath    string `json:"health_path,omitempty"`
	EnvironmentID string `json:"environment_id,omitempty"`
	ServiceID     string `json:"service_id,omitempty"`
}

type CreateTargetGroupRequest struct {
	Name          string `json:"name"`
	Port          int    `json:"port"`
	HealthPath    string `json:"health_path,omitempty"`
	EnvironmentID string `json:"environment_id,omitempty"`
	ServiceID     string `json:"service_id,omitempty"`
}

// CreateTargetGroup registers a backend pool at the edge. The edge dedupes by
// name, so a replayed create returns the existing group.
func (c *Client) CreateTargetGroup(ctx context.Context, req CreateTargetGroupRequest) (*TargetGroup, error) {
	var resp TargetGroup
	if err := c.doRequest(ctx, http.MethodPost, "/v1/target-groups", req, &resp); err != nil {
		return nil, fmt.Errorf("create target group: %w", err)
	}
	return &resp, nil
}

// DeleteTargetGroup removes a backend pool. A missing group is success.
func (c *Client) DeleteTargetGroup(ctx context.Context, id string) error {
	err := c.retry.Do(ctx, true, func() error {
		return c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/v1/target-groups/%s", id), nil, nil)
	})
	if IsNotFound(err) {
		return nil
	}
	return err
}
