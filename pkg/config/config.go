// Package config provides configuration management for the aquarium dashboard.
// Settings come from environment variables and an optional .env file and are resolved
// once at startup, then handed to every collaborator that needs them.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"aquarium-dashboard/pkg/models"
	"aquarium-dashboard/pkg/status"

	"github.com/joho/godotenv"
)

// Service names used for the same-origin development prefix (/api/{service}).
const (
	ServiceMonitor = "aqua-monitor"
	ServiceSpecies = "species-hub"
	ServiceBrain   = "aqua-brain"
)

// ServicesConfig holds the base URLs of the three backend services.
type ServicesConfig struct {
	MonitorURL string // AquaMonitor base URL
	SpeciesURL string // SpeciesHub base URL
	BrainURL   string // AquaBrain base URL
}

// RedisConfig holds the Redis connection used by the redis store backend and the
// change relay.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string // Key prefix for persisted values and nonces
	Channel  string // Pub/sub channel for change notifications
}

// Config holds all settings for the dashboard service and the aquactl CLI.
type Config struct {
	// Dashboard HTTP server
	Host string
	Port string

	// Validation endpoint resolution
	AppOrigin  string // Origin for "/"-relative validation URLs
	APIBaseURL string // Base for relative and fallback validation paths

	// DevMode routes service calls through {AppOrigin}/api/{service}
	DevMode  bool
	Services ServicesConfig

	// Persistence
	StoreBackend string // sqlite, redis or memory
	StorePath    string // SQLite file
	Redis        RedisConfig
	SyncRedis    bool // Relay change notifications over Redis pub/sub
	WatchStore   bool // Watch the SQLite file for writes by other processes

	// StatusOverrides pins the component status written when a challenge validates,
	// by challenge id. STATUS_OVERRIDES="3=degraded,5=online".
	StatusOverrides map[int]string

	// Timing
	PollInterval   time.Duration
	RequestTimeout time.Duration

	// gRPC health endpoint, empty to disable
	GRPCHealthAddr string

	// HMAC on write routes
	SharedSecretKey  string
	HMACKeyID        string
	ClockSkewSeconds int

	// Logging
	LogLevel  string
	LogToFile bool
}

// Load reads configuration from environment variables and the .env file.
// Environment variables take precedence over the file.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	origin := strings.TrimRight(getEnv("APP_ORIGIN", "http://localhost:8090"), "/")

	config := &Config{
		Host: getEnv("DASHBOARD_HOST", "0.0.0.0"),
		Port: getEnv("DASHBOARD_PORT", "8090"),

		AppOrigin:  origin,
		APIBaseURL: strings.TrimRight(getEnv("API_BASE_URL", origin+"/api"), "/"),

		DevMode: getEnvAsBool("DEV_MODE", false),
		Services: ServicesConfig{
			MonitorURL: getEnv("AQUA_MONITOR_URL", "http://localhost:8001"),
			SpeciesURL: getEnv("SPECIES_HUB_URL", "http://localhost:8002"),
			BrainURL:   getEnv("AQUA_BRAIN_URL", "http://localhost:8003"),
		},

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", "sqlite")),
		StorePath:    getEnv("STORE_PATH", "dashboard.db"),
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "aquadash:"),
			Channel:  getEnv("REDIS_CHANNEL", "aquadash:changes"),
		},
		SyncRedis:  getEnvAsBool("SYNC_REDIS", false),
		WatchStore: getEnvAsBool("WATCH_STORE", true),

		PollInterval:   getEnvAsDuration("POLL_INTERVAL", 30*time.Second),
		RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second),

		GRPCHealthAddr: getEnv("GRPC_HEALTH_ADDR", ""),

		SharedSecretKey:  getEnv("SHARED_SECRET_KEY", ""),
		HMACKeyID:        getEnv("HMAC_KEY_ID", "dash-kid-1"),
		ClockSkewSeconds: getEnvAsInt("CLOCK_SKEW_SECONDS", 300),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogToFile: getEnvAsBool("LOG_TO_FILE", false),
	}

	overrides, err := parseStatusOverrides(getEnv("STATUS_OVERRIDES", ""))
	if err != nil {
		return nil, err
	}
	config.StatusOverrides = overrides

	return config, config.validate()
}

// parseStatusOverrides reads comma-separated id=status pairs.
func parseStatusOverrides(raw string) (map[int]string, error) {
	overrides := make(map[int]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idText, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("STATUS_OVERRIDES entry %q must be id=status", pair)
		}
		id, err := strconv.Atoi(strings.TrimSpace(idText))
		if err != nil || status.MapChallengeIDToComponent(id) == models.ComponentNone {
			return nil, fmt.Errorf("STATUS_OVERRIDES entry %q has an unknown challenge id", pair)
		}
		value = strings.ToLower(strings.TrimSpace(value))
		if !status.IsKnown(value) {
			return nil, fmt.Errorf("STATUS_OVERRIDES entry %q has an unknown status", pair)
		}
		overrides[id] = value
	}
	return overrides, nil
}

// validate checks the values that would otherwise fail late and obscurely.
func (c *Config) validate() error {
	switch c.StoreBackend {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("STORE_BACKEND must be one of sqlite, redis, memory (got %q)", c.StoreBackend)
	}

	if c.StoreBackend == "sqlite" && c.StorePath == "" {
		return fmt.Errorf("STORE_PATH must be set when STORE_BACKEND=sqlite")
	}

	if (c.StoreBackend == "redis" || c.SyncRedis) && c.Redis.Address == "" {
		return fmt.Errorf("REDIS_ADDRESS must be set when using redis")
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if _, err := url.ParseRequestURI(c.AppOrigin); err != nil {
		return fmt.Errorf("APP_ORIGIN is not a valid URL: %w", err)
	}

	if c.SharedSecretKey != "" && c.HMACKeyID == "" {
		return fmt.Errorf("HMAC_KEY_ID must be set when SHARED_SECRET_KEY is set")
	}

	return nil
}

// GetDashboardAddr returns the bind address for the HTTP server.
func (c *Config) GetDashboardAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// GetClockSkew returns the HMAC timestamp tolerance.
func (c *Config) GetClockSkew() time.Duration {
	return time.Duration(c.ClockSkewSeconds) * time.Second
}

// AuthEnabled reports whether write routes require a signed request.
func (c *Config) AuthEnabled() bool {
	return c.SharedSecretKey != ""
}

// GetSecrets returns the HMAC key map used to verify signed requests.
func (c *Config) GetSecrets() map[string]string {
	secrets := make(map[string]string)
	if c.SharedSecretKey != "" {
		secrets[c.HMACKeyID] = c.SharedSecretKey
	}
	return secrets
}

// MonitorBaseURL returns the base URL for AquaMonitor calls.
func (c *Config) MonitorBaseURL() string {
	return c.serviceURL(ServiceMonitor, c.Services.MonitorURL)
}

// SpeciesBaseURL returns the base URL for SpeciesHub calls.
func (c *Config) SpeciesBaseURL() string {
	return c.serviceURL(ServiceSpecies, c.Services.SpeciesURL)
}

// BrainBaseURL returns the base URL for AquaBrain calls.
func (c *Config) BrainBaseURL() string {
	return c.serviceURL(ServiceBrain, c.Services.BrainURL)
}

func (c *Config) serviceURL(service, direct string) string {
	if c.DevMode {
		return c.AppOrigin + "/api/" + service
	}
	return strings.TrimRight(direct, "/")
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as integer or returns a default.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as boolean or returns a default.
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("30s") or a bare number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
