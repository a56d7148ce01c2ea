package githubclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Client posts pull request comments as a GitHub App installation. App
// authentication is a short-lived RS256 JWT exchanged for an installation
// token, which is cached until shortly before expiry.
type Client struct {
	baseURL        string
	appID          string
	installationID int64
	privateKey     []byte
	http           *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

type Config struct {
	BaseURL        string
	AppID          string
	InstallationID int64
	PrivateKeyPEM  string
}

func New(cfg Config) (*Client, error) {
	if cfg.AppID == "" || cfg.PrivateKeyPEM == "" || cfg.InstallationID == 0 {
		return nil, fmt.Errorf("github app credentials incomplete")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &Client{
		baseURL:        baseURL,
		appID:          cfg.AppID,
		installationID: cfg.InstallationID,
		privateKey:     []byte(cfg.PrivateKeyPEM),
		http:           &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// CommentOnPR posts a comment on the pull request. repository is the
// "owner/name" form GitHub webhooks deliver.
func (c *Client) CommentOnPR(ctx context.Context, repository string, number int, body string) error {
	token, err := c.installationToken(ctx)
	if err != nil {
		return fmt.Errorf("installation token: %w", err)
	}

	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/repos/%s/issues/%d/comments", c.baseURL, repository, number)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("github api error: %s: %s", resp.Status, string(raw))
	}
	return nil
}

func (c *Client) installationToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-2*time.Minute)) {
		return c.token, nil
	}

	appJWT, err := c.appJWT()
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", c.baseURL, c.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("github token exchange: %s: %s", resp.Status, string(raw))
	}

	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}

	c.token = out.Token
	c.tokenExpiry = out.ExpiresAt
	return c.token, nil
}

// appJWT mints the short-lived app-level JWT. GitHub caps its lifetime at
// ten minutes and rejects clocks too far ahead, so iat is backdated a minute.
func (c *Client) appJWT() (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("parse app private key: %w", err)
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}
