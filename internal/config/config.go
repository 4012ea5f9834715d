package config

import (
	"fmt"
	"os"
	"strings"
)

// Config holds shared configuration values for the relayctl CLI
type Config struct {
	// ConnectionString is the relay namespace connection string
	// (Endpoint=sb://...;SharedAccessKeyName=...;SharedAccessKey=...)
	ConnectionString string

	// EntityPath is the hybrid connection name; overrides any EntityPath
	// embedded in the connection string
	EntityPath string

	// Mode selects the transport (local in-memory or remote Azure Relay)
	Mode Mode

	// LogLevel controls logging verbosity (debug, info, warn, error)
	LogLevel string
}

// Load creates a Config by reading from environment variables
// and applying defaults where values are not set
func Load() *Config {
	return &Config{
		ConnectionString: getEnvOrDefault("RELAY_CONNECTION_STRING", ""),
		EntityPath:       getEnvOrDefault("RELAY_ENTITY_PATH", ""),
		Mode:             Mode(getEnvOrDefault("RELAY_MODE", string(ModeRemote))),
		LogLevel:         getEnvOrDefault("RELAY_LOG_LEVEL", "info"),
	}
}

// Validate checks that required configuration values are present
func (c *Config) Validate() error {
	if !c.Mode.IsValid() {
		return fmt.Errorf("invalid mode %q (expected %q or %q)", c.Mode, ModeLocal, ModeRemote)
	}

	var missing []string
	if c.Mode == ModeRemote && c.ConnectionString == "" {
		missing = append(missing, "RELAY_CONNECTION_STRING")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// getEnvOrDefault retrieves an environment variable or returns a default value
func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
