package config

import (
	"os"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v3"

	"gocausal/domain/effect"
	"gocausal/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Forest   effect.Config  `yaml:"forest"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LogLevel string         `yaml:"log_level"`
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port string `yaml:"port"`
}

// DatabaseConfig holds database connection settings. An empty URL selects
// the in-memory model store.
type DatabaseConfig struct {
	URL     string `yaml:"url"`
	SSLMode string `yaml:"ssl_mode"`
}

// Enabled reports whether a database is configured
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Forest:   loadForestConfig(),
		Server:   loadServerConfig(),
		Database: loadDatabaseConfig(),
		LogLevel: getEnvOrDefault("LOG_LEVEL", "INFO"),
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

// LoadFile reads the environment configuration and then overlays the YAML
// file at path. Keys absent from the file keep their environment values.
func LoadFile(path string) (*Config, error) {
	config := &Config{
		Forest:   loadForestConfig(),
		Server:   loadServerConfig(),
		Database: loadDatabaseConfig(),
		LogLevel: getEnvOrDefault("LOG_LEVEL", "INFO"),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("config file " + path)
		}
		return nil, errors.Wrap(err, "failed to read config file")
	}
	if err := yaml.Unmarshal(raw, config); err != nil {
		return nil, errors.Wrap(errors.ConfigInvalid(err.Error()), "failed to parse config file")
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadForestConfig() effect.Config {
	defaults := effect.DefaultConfig()
	return effect.Config{
		NumTrees:          getEnvIntOrDefault("CF_NUM_TREES", defaults.NumTrees),
		SplitRatio:        getEnvFloatOrDefault("CF_SPLIT_RATIO", defaults.SplitRatio),
		MinLeaf:           getEnvIntOrDefault("CF_MIN_LEAF", defaults.MinLeaf),
		MaxDepth:          getEnvIntOrDefault("CF_MAX_DEPTH", defaults.MaxDepth),
		NumWorkers:        getEnvIntOrDefault("CF_NUM_WORKERS", runtime.NumCPU()),
		Seed:              int64(getEnvIntOrDefault("CF_SEED", int(defaults.Seed))),
		SubsampleFraction: getEnvFloatOrDefault("CF_SUBSAMPLE_FRACTION", defaults.SubsampleFraction),
		Bootstrap:         getEnvBoolOrDefault("CF_BOOTSTRAP", defaults.Bootstrap),
		FeatureFraction:   getEnvFloatOrDefault("CF_FEATURE_FRACTION", defaults.FeatureFraction),
		Propensity:        effect.PropensityMode(getEnvOrDefault("CF_PROPENSITY", string(defaults.Propensity))),
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port: getEnvOrDefault("PORT", "8080"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:     os.Getenv("DATABASE_URL"),
		SSLMode: getEnvOrDefault("SSL_MODE", "disable"),
	}
}

func validateConfig(config *Config) error {
	if err := config.Forest.Validate(); err != nil {
		return err
	}
	if config.Server.Port == "" {
		return errors.ConfigInvalid("server port is required")
	}
	if _, err := strconv.Atoi(config.Server.Port); err != nil {
		return errors.ConfigInvalid("server port must be numeric, got " + config.Server.Port)
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
