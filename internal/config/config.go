package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the task engine.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	DatabaseURL string

	AdapterMode       string
	ChatBaseURL       string
	ChatAPIKey        string
	ChatModel         string
	NativeToolCalling bool
	Streaming         bool

	RemoteToolTimeout time.Duration
	UsageFetchDelay   time.Duration
	UsageFetchRetries int
	PollDeadline      time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("TASKYON_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("TASKYON_METRICS_NAMESPACE", "taskyon"),
		AllowAnyOrigin:    false,
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		AdapterMode:       envOrDefault("TASKYON_ADAPTER_MODE", "auto"),
		ChatBaseURL:       stringsTrimSpace("TASKYON_CHAT_BASE_URL"),
		ChatAPIKey:        stringsTrimSpace("TASKYON_CHAT_API_KEY"),
		ChatModel:         stringsTrimSpace("TASKYON_CHAT_MODEL"),
		NativeToolCalling: false,
		Streaming:         true,
		ShutdownTimeout:   15 * time.Second,
		RemoteToolTimeout: 10 * time.Second,
		UsageFetchDelay:   3 * time.Second,
		UsageFetchRetries: 5,
		PollDeadline:      5 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("TASKYON_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RemoteToolTimeout, err = durationFromEnv("TASKYON_REMOTE_TOOL_TIMEOUT", cfg.RemoteToolTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.UsageFetchDelay, err = durationFromEnv("TASKYON_USAGE_FETCH_DELAY", cfg.UsageFetchDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.UsageFetchRetries, err = intFromEnv("TASKYON_USAGE_FETCH_RETRIES", cfg.UsageFetchRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.PollDeadline, err = durationFromEnv("TASKYON_POLL_DEADLINE", cfg.PollDeadline)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("TASKYON_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.NativeToolCalling, err = boolFromEnv("TASKYON_NATIVE_TOOL_CALLING", cfg.NativeToolCalling)
	if err != nil {
		return Config{}, err
	}
	cfg.Streaming, err = boolFromEnv("TASKYON_STREAMING", cfg.Streaming)
	if err != nil {
		return Config{}, err
	}

	if cfg.RemoteToolTimeout <= 0 {
		return Config{}, fmt.Errorf("TASKYON_REMOTE_TOOL_TIMEOUT must be positive")
	}
	if cfg.UsageFetchRetries < 1 {
		return Config{}, fmt.Errorf("TASKYON_USAGE_FETCH_RETRIES must be at least 1")
	}
	if cfg.PollDeadline < time.Second {
		return Config{}, fmt.Errorf("TASKYON_POLL_DEADLINE must be at least 1s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: invalid bool %q", key, v)
	}
}
