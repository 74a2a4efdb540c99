// Package config provides configuration for the dispatcher.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// scheduleParser accepts five or six field specs and descriptors such as
// "@every 15s".
var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Config holds the dispatcher configuration.
type Config struct {
	// Server settings
	HTTPPort     int
	InternalPort int

	// Database
	DatabaseURL string

	// Logging
	LogLevel  string
	LogFormat string

	// Outbound webhook settings
	WebhookUsername   string
	WebhookPassword   string
	WebhookUserAgent  string
	WebhookRatePerSec int

	// Dispatch loop
	DispatchSchedule    string
	DispatchBatchSize   int
	DispatchConcurrency int

	// Chat sessions
	SessionCleanupSchedule string
	SessionTTL             time.Duration

	// Module policy file (timeouts, chat allow-list, catalog seed)
	ModulePolicyPath string

	// Rego access policy; empty selects the built-in premium gate
	AccessPolicyPath string

	// Event stream websocket
	WSPingInterval time.Duration
	WSWriteTimeout time.Duration
	WSReadTimeout  time.Duration
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:               getEnvInt("HTTP_PORT", 8080),
		InternalPort:           getEnvInt("INTERNAL_PORT", 8081),
		DatabaseURL:            getEnv("DATABASE_URL", "file:flowdispatch.db?cache=shared&mode=rwc"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFormat:              getEnv("LOG_FORMAT", "console"),
		WebhookUsername:        getEnv("WEBHOOK_USERNAME", ""),
		WebhookPassword:        getEnv("WEBHOOK_PASSWORD", ""),
		WebhookUserAgent:       getEnv("WEBHOOK_USER_AGENT", "flowdispatch/1.0"),
		WebhookRatePerSec:      getEnvInt("WEBHOOK_RATE_PER_SEC", 5),
		DispatchSchedule:       getEnv("DISPATCH_SCHEDULE", "@every 15s"),
		DispatchBatchSize:      getEnvInt("DISPATCH_BATCH_SIZE", 10),
		DispatchConcurrency:    getEnvInt("DISPATCH_CONCURRENCY", 1),
		SessionCleanupSchedule: getEnv("SESSION_CLEANUP_SCHEDULE", "@every 1h"),
		SessionTTL:             time.Duration(getEnvInt("SESSION_TTL_MS", 86400000)) * time.Millisecond,
		ModulePolicyPath:       getEnv("MODULE_POLICY_PATH", "modules.yaml"),
		AccessPolicyPath:       getEnv("ACCESS_POLICY_PATH", ""),
		WSPingInterval:         time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WSWriteTimeout:         time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		WSReadTimeout:          time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
	}
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.InternalPort <= 0 {
		return fmt.Errorf("HTTP_PORT and INTERNAL_PORT must be > 0")
	}
	if c.HTTPPort == c.InternalPort {
		return fmt.Errorf("HTTP_PORT and INTERNAL_PORT must differ")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL cannot be empty")
	}
	if c.WebhookRatePerSec <= 0 {
		return fmt.Errorf("WEBHOOK_RATE_PER_SEC must be > 0")
	}
	if c.DispatchBatchSize <= 0 {
		return fmt.Errorf("DISPATCH_BATCH_SIZE must be > 0")
	}
	if c.DispatchConcurrency <= 0 {
		return fmt.Errorf("DISPATCH_CONCURRENCY must be > 0")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL_MS must be > 0")
	}
	if c.WSPingInterval <= 0 || c.WSWriteTimeout <= 0 || c.WSReadTimeout <= c.WSPingInterval {
		return fmt.Errorf("websocket timeouts must be > 0 and WS_READ_TIMEOUT_MS must exceed WS_PING_INTERVAL_MS")
	}
	for name, expr := range map[string]string{
		"DISPATCH_SCHEDULE":        c.DispatchSchedule,
		"SESSION_CLEANUP_SCHEDULE": c.SessionCleanupSchedule,
	} {
		if _, err := scheduleParser.Parse(expr); err != nil {
			return fmt.Errorf("%s: invalid schedule %q: %w", name, expr, err)
		}
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be console or json")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
