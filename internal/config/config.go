// Package config loads the service configuration from the environment
// once at startup. The resulting Config is immutable and passed
// explicitly into each component's constructor; nothing reads the
// environment after Load returns.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds the complete service configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port string

	// DBPath is the sqlite database file path.
	DBPath string

	// HubBaseURL is the base URL of the settlement hub, the
	// authoritative source for cycle state.
	HubBaseURL string

	// LedgerBaseURL is the base URL of the central ledger's participant
	// directory, used to resolve account IDs to names and contacts.
	LedgerBaseURL string

	// APIKey protects the confirmation endpoints when non-empty.
	// Participants send it in the X-API-Key header.
	APIKey string

	// JWTSecret signs operator session tokens.
	JWTSecret string

	// TokenTTL is how long operator tokens stay valid.
	TokenTTL time.Duration

	// AdminEmail and AdminPassword seed a bootstrap operator account at
	// startup. Seeding an existing email is a no-op; both empty disables
	// seeding.
	AdminEmail    string
	AdminPassword string

	// RemoteTimeout bounds every call to the hub and the directory.
	RemoteTimeout time.Duration

	// InsecureSkipTLSVerify disables certificate verification on
	// outbound calls, for self-signed test clusters only.
	InsecureSkipTLSVerify bool

	// NATSURL enables alert event publishing when non-empty.
	NATSURL string

	// RedisAddr enables the directory identity cache when non-empty.
	RedisAddr string

	// DirectoryCacheTTL is how long cached identities stay fresh.
	DirectoryCacheTTL time.Duration

	// RepairInterval is how often the background repairer rescans failed
	// closures. Zero disables the repairer.
	RepairInterval time.Duration
}

// Load reads configuration from environment variables, applying
// defaults where a variable is unset. It returns an error when a
// required variable is missing or a duration fails to parse.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		DBPath:                getEnv("DB_PATH", "./data/closeout.db"),
		HubBaseURL:            strings.TrimRight(os.Getenv("HUB_BASE_URL"), "/"),
		LedgerBaseURL:         strings.TrimRight(os.Getenv("LEDGER_URL"), "/"),
		APIKey:                os.Getenv("API_KEY"),
		JWTSecret:             getEnv("JWT_SECRET", "dev-secret-key"),
		AdminEmail:            os.Getenv("ADMIN_EMAIL"),
		AdminPassword:         os.Getenv("ADMIN_PASSWORD"),
		InsecureSkipTLSVerify: getEnvBool("HUB_INSECURE_TLS", false),
		NATSURL:               os.Getenv("NATS_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
	}

	var err error
	if cfg.TokenTTL, err = getEnvDuration("TOKEN_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RemoteTimeout, err = getEnvDuration("REMOTE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.DirectoryCacheTTL, err = getEnvDuration("DIRECTORY_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RepairInterval, err = getEnvDuration("REPAIR_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}

	var missing []string
	if cfg.HubBaseURL == "" {
		missing = append(missing, "HUB_BASE_URL")
	}
	if cfg.LedgerBaseURL == "" {
		missing = append(missing, "LEDGER_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration in %s: %w", key, err)
	}
	return d, nil
}
