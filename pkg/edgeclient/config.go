package edgeclient

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	BaseURL string
	APIKey  string

	Timeout time.Duration

	RetryCount int
	RetryDelay time.Duration

	RateLimit int
	RateBurst int
}

func LoadFromEnv() Config {
	return Config{
		BaseURL: os.Getenv("EDGE_API_URL"),
		APIKey:  os.Getenv("EDGE_API_KEY"),

		Timeout: time.Second * time.Duration(getInt("EDGE_CLIENT_TIMEOUT", 30)),

		RetryCount: getInt("EDGE_CLIENT_RETRY_COUNT", 3),
		RetryDelay: time.Second * time.Duration(getInt("EDGE_CLIENT_RETRY_DELAY", 1)),

		RateLimit: getInt("EDGE_CLIENT_RATE_LIMIT", 120),
		RateBurst: getInt("EDGE_CLIENT_RATE_BURST", 5),
	}
}

func getInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
