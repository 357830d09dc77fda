package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/solpay/service/solana"
	"github.com/brojonat/solpay/service/transfer"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// NATS configuration; empty disables payment events
	NATSURL string

	// Solana configuration
	SolanaCluster   string
	SolanaRPCURLs   []string
	SolanaRPCAPIKey string
	Finality        transfer.Finality

	// Temporal configuration; an empty host makes the server submit directly
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Pipeline configuration
	RemoteBuilderURL    string
	ConfirmPollInterval time.Duration
	SubmitMaxAttempts   int
	SkipPreflight       bool

	// Merchant configuration for the transaction-request endpoint
	Pay PayConfig
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// NATS configuration
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Solana configuration
	cfg.SolanaCluster = getEnvOrDefault("SOLANA_CLUSTER", "devnet")
	cfg.SolanaRPCURLs = splitList(os.Getenv("SOLANA_RPC_URL"))
	cfg.SolanaRPCAPIKey = os.Getenv("SOLANA_RPC_API_KEY")

	commitment := getEnvOrDefault("SOLANA_COMMITMENT", string(transfer.FinalityConfirmed))
	if finality, ok := transfer.ParseFinality(commitment); ok {
		cfg.Finality = finality
	} else {
		errs = append(errs, fmt.Errorf("SOLANA_COMMITMENT: must be confirmed or finalized, got %q", commitment))
	}

	// Temporal configuration
	cfg.TemporalHost = os.Getenv("TEMPORAL_HOST")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "solpay-payments")

	// Pipeline configuration
	cfg.RemoteBuilderURL = os.Getenv("REMOTE_BUILDER_URL")

	pollInterval, err := parseDuration("CONFIRM_POLL_INTERVAL", "500ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmPollInterval = pollInterval
	}

	maxAttempts, err := parseInt("SUBMIT_MAX_ATTEMPTS", 3)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SubmitMaxAttempts = maxAttempts
	}

	skipPreflight, err := parseBool("SKIP_PREFLIGHT", false)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SkipPreflight = skipPreflight
	}

	// Merchant configuration
	if err := cfg.Pay.LoadFromEnv(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.ServerAddr == "" {
		errs = append(errs, fmt.Errorf("ServerAddr is required"))
	}

	if len(c.SolanaRPCURLs) == 0 {
		if _, err := solana.ClusterURL(c.SolanaCluster); err != nil {
			errs = append(errs, fmt.Errorf("SolanaCluster: %w", err))
		}
	}

	if c.Finality != transfer.FinalityConfirmed && c.Finality != transfer.FinalityFinalized {
		errs = append(errs, fmt.Errorf("Finality must be confirmed or finalized"))
	}

	if c.TemporalHost != "" {
		if c.TemporalNamespace == "" {
			errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
		}
		if c.TemporalTaskQueue == "" {
			errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
		}
	}

	if c.ConfirmPollInterval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval must be at least 100ms"))
	}

	if c.SubmitMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("SubmitMaxAttempts must be at least 1"))
	}

	if err := c.Pay.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// Solana returns the RPC settings used to dial the cluster.
func (c *Config) Solana() solana.RPCConfig {
	return solana.RPCConfig{
		Cluster:   c.SolanaCluster,
		Endpoints: c.SolanaRPCURLs,
		APIKey:    c.SolanaRPCAPIKey,
	}
}

// Driver returns the submission and confirmation settings.
func (c *Config) Driver() transfer.DriverConfig {
	cfg := transfer.DefaultDriverConfig()
	cfg.PollInterval = c.ConfirmPollInterval
	cfg.MaxAttempts = uint(c.SubmitMaxAttempts)
	cfg.SkipPreflight = c.SkipPreflight
	return cfg
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseBool parses a boolean from an environment variable or uses a default.
func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
