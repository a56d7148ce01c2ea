package edgeclient

import (
	"context"
	"fmt"
	"net/http"
)

type Rule struct {
	ID            string `json:"id"`
	ListenerName  string `json:"listener_name"`
	Priority      int    `json:"priority"`
	HeaderName    string `json:"header_name,omitempty"`
	HeaderValue   string `json:"header_value,omitempty"`
	PathPattern   string `json:"path_pattern,omitempty"`
	TargetGroupID string `json:"target_group_id"`
}

type CreateRuleRequest struct {
	ListenerName  string `json:"listener_name"`
	Priority      int    `json:"priority"`
	HeaderName    string `json:"header_name,omitempty"`
	HeaderValue   string `json:"header_value,omitempty"`
	PathPattern   string `json:"path_pattern,omitempty"`
	TargetGroupID string `json:"target_group_id"`
}

// CreateRule installs a forwarding rule on the shared listener. The edge
// rejects a taken priority with 409; the caller owns priority allocation and
// treats that as a hard error, not a retry.
func (c *Client) CreateRule(ctx context.Context, req CreateRuleRequest) (*Rule, error) {
	var resp Rule
	if err := c.doRequest(ctx, http.MethodPost, "/v1/rules", req, &resp); err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	return &resp, nil
}

// DeleteRule removes a forwarding rule. A missing rule is success.
func (c *Client) DeleteRule(ctx context.Context, listenerName, id string) error {
	err := c.retry.Do(ctx, true, func() error {
		return c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/v1/listeners/%s/rules/%s", listenerName, id), nil, nil)
	})
	if IsNotFound(err) {
		return nil
	}
	return err
}
