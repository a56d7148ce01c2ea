package registryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the service discovery registry. The registry is a simple
// keyed store; registration is an idempotent PUT and deregistration tolerates
// missing entries.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type Service struct {
	ID            string `json:"id"`
	EnvironmentID string `json:"environment_id"`
	ServiceID     string `json:"service_id"`
	Address       string `json:"address"`
	Port          int    `json:"port"`
}

// Register upserts a service entry and returns its registry id.
func (c *Client) Register(ctx context.Context, svc Service) (string, error) {
	if svc.ID == "" {
		svc.ID = fmt.Sprintf("%s-%s", svc.EnvironmentID, svc.ServiceID)
	}
	body, err := json.Marshal(svc)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1/services/%s", c.baseURL, svc.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("registry error: %s: %s", resp.Status, string(payload))
	}
	return svc.ID, nil
}

// Deregister removes a service entry. A missing entry is success.
func (c *Client) Deregister(ctx context.Context, id string) error {
	url := fmt.Sprintf("%s/v1/services/%s", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("registry error: %s: %s", resp.Status, string(payload))
	}
	return nil
}
