package config

import (
	"fmt"
	"os"
)

// Config holds the application configuration
type Config struct {
	// Human readable name of the local node
	NodeName string

	// Server bind address (host:port)
	BindAddr string

	// Shared secret every node must present when joining the topology.
	// Empty disables node credential checks.
	NodeSecret string

	// HMAC secret for client bearer tokens. Empty disables token
	// authentication; clients fall back to login/secret pairs.
	JWTSecret string

	// Expected issuer claim on client tokens. Empty skips the check.
	JWTIssuer string

	// Path to a JSON policy file with users and grants
	PolicyPath string

	// Size of the authorization decision cache
	DecisionCacheSize int

	// Require every joining node to carry an authenticated subject
	GlobalNodeAuth bool

	// Enable debug logging
	Debug bool
}

// Load reads configuration from environment variables with fallback defaults
func Load() (*Config, error) {
	cfg := &Config{
		NodeName:          getEnv("GRIDSEC_NODE_NAME", ""),
		BindAddr:          getEnv("GRIDSEC_BIND_ADDR", "localhost:8080"),
		NodeSecret:        getEnv("GRIDSEC_NODE_SECRET", ""),
		JWTSecret:         getEnv("GRIDSEC_JWT_SECRET", ""),
		JWTIssuer:         getEnv("GRIDSEC_JWT_ISSUER", ""),
		PolicyPath:        getEnv("GRIDSEC_POLICY_PATH", ""),
		DecisionCacheSize: getEnvInt("GRIDSEC_DECISION_CACHE_SIZE", 1024),
		GlobalNodeAuth:    getEnvBool("GRIDSEC_GLOBAL_NODE_AUTH", false),
		Debug:             getEnvBool("DEBUG", false),
	}

	if cfg.NodeName == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("GRIDSEC_NODE_NAME is not set and hostname lookup failed: %w", err)
		}
		cfg.NodeName = host
	}

	if cfg.BindAddr == "" {
		return nil, fmt.Errorf("GRIDSEC_BIND_ADDR is required")
	}

	if cfg.DecisionCacheSize <= 0 {
		return nil, fmt.Errorf("GRIDSEC_DECISION_CACHE_SIZE must be positive, got %d", cfg.DecisionCacheSize)
	}

	if cfg.JWTIssuer != "" && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("GRIDSEC_JWT_ISSUER is set but GRIDSEC_JWT_SECRET is empty")
	}

	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}
