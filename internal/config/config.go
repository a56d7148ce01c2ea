package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServiceTemplate describes one deployable service inside a preview
// environment. Templates are matched to incoming pull requests by repository;
// a template with an empty Repository applies to every repository.
type ServiceTemplate struct {
	Name        string `json:"name"`
	Repository  string `json:"repository,omitempty"`
	Image       string `json:"image"`
	PathPattern string `json:"path_pattern"`
	Port        int    `json:"port"`
	HealthPath  string `json:"health_path,omitempty"`
}

// Config holds application configuration.
type Config struct {
	AppName    string
	AppVersion string
	Port       string

	Environment   string
	AdminAPIToken string

	// Preview environments are reachable at <env-id>.<PreviewRootDomain> and
	// selected at the edge by PreviewHeader carrying the environment id.
	PreviewRootDomain string
	PreviewRootScheme string
	PreviewHeader     string

	// Lifecycle
	DefaultTTL     time.Duration
	DrainWait      time.Duration
	DeregisterWait time.Duration

	// Sweeper
	SweepInterval  time.Duration
	SweepGrace     time.Duration
	SweepBatchSize int

	// Routing priority range reserved for preview environments on the shared
	// listener. Disjoint from the steady-state and platform ranges.
	RoutingDomain   string
	PriorityRangeLo int
	PriorityRangeHi int

	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	// Service registry backend
	RegistryBaseURL string

	// GitHub ingress + notifications
	GitHubWebhookSecret     string
	GitHubAppID             string
	GitHubAppPrivateKey     string
	GitHubAppInstallationID int64
	GitHubAPIBaseURL        string

	// Webhook ingress rate limiting (disabled when addr is empty)
	RateLimitRedisAddr     string
	RateLimitRedisPassword string
	RateLimitRedisDB       int
	RateLimitPerMinute     int

	ServiceTemplates []ServiceTemplate
}

// Load loads configuration from environment variables and .env file.
func Load() *Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:    getenv("APP_SERVICE", "dynamic-branch-env"),
		AppVersion: getenv("APP_VERSION", "0.1.0"),
		Port:       getenv("PORT", "8080"),

		Environment:   getenv("ENVIRONMENT", "development"),
		AdminAPIToken: strings.TrimSpace(getenv("ADMIN_API_TOKEN", "")),

		PreviewRootDomain: strings.TrimLeft(strings.TrimSpace(getenv("PREVIEW_ROOT_DOMAIN", "preview.localhost")), "."),
		PreviewRootScheme: strings.TrimSpace(getenv("PREVIEW_ROOT_SCHEME", "")),
		PreviewHeader:     getenv("PREVIEW_HEADER", "X-Preview-Env"),

		DefaultTTL:     getenvDuration("PREVIEW_DEFAULT_TTL", 72*time.Hour),
		DrainWait:      getenvDuration("PREVIEW_DRAIN_WAIT", 30*time.Second),
		DeregisterWait: getenvDuration("PREVIEW_DEREGISTER_WAIT", 20*time.Second),

		SweepInterval:  getenvDuration("SWEEP_INTERVAL", time.Minute),
		SweepGrace:     getenvDuration("SWEEP_GRACE", 30*time.Minute),
		SweepBatchSize: getenvInt("SWEEP_BATCH_SIZE", 50),

		RoutingDomain:   getenv("ROUTING_DOMAIN", "preview-listener"),
		PriorityRangeLo: getenvInt("PRIORITY_RANGE_LO", 1),
		PriorityRangeHi: getenvInt("PRIORITY_RANGE_HI", 100),

		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "dynbranch"),
		DBUser:            getenv("DB_USER", "postgres"),
		DBPassword:        getenv("DB_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DB_SSL_MODE", "disable"),
		DBMaxIdleConn:     10,
		DBMaxOpenConn:     100,
		DBConnMaxLifetime: 3600,
		DBConnMaxIdleTime: 60,

		RegistryBaseURL: strings.TrimSpace(getenv("REGISTRY_BASE_URL", "")),

		GitHubWebhookSecret:     strings.TrimSpace(getenv("GITHUB_WEBHOOK_SECRET", "")),
		GitHubAppID:             strings.TrimSpace(getenv("GITHUB_APP_ID", "")),
		GitHubAppPrivateKey:     getenv("GITHUB_APP_PRIVATE_KEY", ""),
		GitHubAppInstallationID: getenvInt64("GITHUB_APP_INSTALLATION_ID", 0),
		GitHubAPIBaseURL:        getenv("GITHUB_API_BASE_URL", "https://api.github.com"),

		RateLimitRedisAddr:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
		RateLimitRedisPassword: strings.TrimSpace(getenv("RATE_LIMIT_REDIS_PASSWORD", "")),
		RateLimitRedisDB:       getenvInt("RATE_LIMIT_REDIS_DB", 0),
		RateLimitPerMinute:     getenvInt("RATE_LIMIT_PER_MINUTE", 120),

		ServiceTemplates: parseServiceTemplates(getenv("PREVIEW_SERVICES", "")),
	}

	if cfg.PreviewRootScheme == "" {
		if strings.EqualFold(cfg.Environment, "production") {
			cfg.PreviewRootScheme = "https"
		} else {
			cfg.PreviewRootScheme = "http"
		}
	}

	return &cfg
}

// TemplatesForRepository returns the service templates configured for the
// given repository, falling back to repository-agnostic templates.
func (c *Config) TemplatesForRepository(repository string) []ServiceTemplate {
	var matched, fallback []ServiceTemplate
	for _, tmpl := range c.ServiceTemplates {
		switch {
		case strings.EqualFold(tmpl.Repository, repository):
			matched = append(matched, tmpl)
		case tmpl.Repository == "":
			fallback = append(fallback, tmpl)
		}
	}
	if len(matched) > 0 {
		return matched
	}
	return fallback
}

func parseServiceTemplates(raw string) []ServiceTemplate {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	var templates []ServiceTemplate
	if err := json.Unmarshal([]byte(trimmed), &templates); err != nil {
		log.Printf("invalid PREVIEW_SERVICES value: %v", err)
		return nil
	}
	out := make([]ServiceTemplate, 0, len(templates))
	for _, tmpl := range templates {
		if strings.TrimSpace(tmpl.Name) == "" {
			continue
		}
		if tmpl.HealthPath == "" {
			tmpl.HealthPath = "/health"
		}
		out = append(out, tmpl)
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
