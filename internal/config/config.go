// Copyright 2025 Certen Protocol
//
// Package config loads service configuration from environment variables, in
// the getEnv*/Load/Validate shape common across the stack's components: a
// struct of typed fields, populated by small getEnv/getEnvInt/getEnvBool/
// getEnvDuration helpers, each with a documented default.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// NetworkConfig describes one configured chain. NETWORKS lists the chain
// names; each name NAME then has NAME_CHAIN_ID, NAME_RPC_URL, and
// NAME_CONTRACT_ADDRESS environment variables of its own.
type NetworkConfig struct {
	Name            string
	ChainID         int64
	RPCURL          string
	ContractAddress string
}

// StoreConfig is the parsed form of STORE_URL: scheme "memory" selects the
// in-memory store, scheme "firestore" selects Firestore with the project ID
// taken from the host component (firestore://<project-id>).
type StoreConfig struct {
	Backend   string // "memory" | "firestore"
	ProjectID string
}

// Config holds all configuration for the service.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Persistence
	Store StoreConfig

	// Firestore credentials file, standard GCP client-library convention.
	FirebaseCredentialsFile string

	// Chain registry
	Networks      []NetworkConfig
	ActiveNetwork string
	SigningKey    string

	// ZKP / authentication
	ValidityWindow time.Duration
	ReplaySweep    time.Duration

	// Chain RPC
	RPCTimeout     time.Duration
	ConfirmTimeout time.Duration

	// Anchor pipeline
	BatchInterval time.Duration

	// Presence
	LiveWindow time.Duration
	IdleWindow time.Duration
	SweepEvery time.Duration

	// Multi-sig
	ProposalTTL       time.Duration
	RequiredApprovals int

	// Event bus
	SubQueueSize int
	HistorySize  int

	// Rate limiting — dropped-but-revived per-device submission limiter.
	RateLimitRequests int
	RateLimitWindow   time.Duration

	LogLevel string
}

// Load reads configuration from environment variables. Safe defaults are
// used for every ambient knob; SIGNING_KEY, NETWORKS and each network's
// <NAME>_RPC_URL and <NAME>_CHAIN_ID variables have no usable default.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  getEnv("LISTEN_ADDR", "0.0.0.0:8080"),
		MetricsAddr: getEnv("METRICS_ADDR", "0.0.0.0:9090"),

		FirebaseCredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),

		ActiveNetwork: getEnv("ACTIVE_NETWORK", ""),
		SigningKey:    getEnv("SIGNING_KEY", ""),

		ValidityWindow: getEnvDuration("VALIDITY_WINDOW", 60*time.Second),
		ReplaySweep:    getEnvDuration("ZKP_REPLAY_SWEEP", 5*time.Minute),

		RPCTimeout:     getEnvDuration("RPC_TIMEOUT", 30*time.Second),
		ConfirmTimeout: getEnvDuration("CONFIRM_TIMEOUT", 5*time.Minute),

		BatchInterval: getEnvDuration("BATCH_INTERVAL", 30*time.Second),

		LiveWindow: getEnvDuration("LIVE_WINDOW", 60*time.Second),
		IdleWindow: getEnvDuration("IDLE_WINDOW", 300*time.Second),
		SweepEvery: getEnvDuration("PRESENCE_SWEEP_INTERVAL", 15*time.Second),

		ProposalTTL:       getEnvDuration("PROPOSAL_TTL", 24*time.Hour),
		RequiredApprovals: getEnvInt("REQUIRED_APPROVALS", 2),

		SubQueueSize: getEnvInt("MAX_SUB_QUEUE", 128),
		HistorySize:  getEnvInt("EVENT_HISTORY", 1000),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	store, err := parseStoreURL(getEnv("STORE_URL", "memory://"))
	if err != nil {
		return nil, fmt.Errorf("config: STORE_URL: %w", err)
	}
	cfg.Store = store

	networks, err := parseNetworks(getEnv("NETWORKS", ""))
	if err != nil {
		return nil, fmt.Errorf("config: NETWORKS: %w", err)
	}
	cfg.Networks = networks

	return cfg, nil
}

// parseStoreURL parses STORE_URL, e.g. "memory://" or
// "firestore://my-project-id".
func parseStoreURL(value string) (StoreConfig, error) {
	u, err := url.Parse(value)
	if err != nil {
		return StoreConfig{}, fmt.Errorf("malformed URL %q: %w", value, err)
	}
	switch u.Scheme {
	case "memory":
		return StoreConfig{Backend: "memory"}, nil
	case "firestore":
		if u.Host == "" {
			return StoreConfig{}, fmt.Errorf("firestore:// URL must carry a project ID")
		}
		return StoreConfig{Backend: "firestore", ProjectID: u.Host}, nil
	default:
		return StoreConfig{}, fmt.Errorf("scheme %q is not one of memory|firestore", u.Scheme)
	}
}

// Validate checks that configuration is internally consistent and that
// required values are present before the service starts serving traffic.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Networks) == 0 {
		errs = append(errs, "NETWORKS must declare at least one network")
	}
	if c.ActiveNetwork == "" && len(c.Networks) > 0 {
		c.ActiveNetwork = c.Networks[0].Name
	}
	found := false
	for _, n := range c.Networks {
		if n.Name == c.ActiveNetwork {
			found = true
			break
		}
	}
	if !found && len(c.Networks) > 0 {
		errs = append(errs, fmt.Sprintf("ACTIVE_NETWORK %q does not match any configured network", c.ActiveNetwork))
	}

	if c.SigningKey == "" {
		errs = append(errs, "SIGNING_KEY is required but not set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// parseNetworks reads NETWORKS, a comma-separated list of chain names, and
// for each name NAME resolves NAME_CHAIN_ID, NAME_RPC_URL, and
// NAME_CONTRACT_ADDRESS (name uppercased for the env var prefix).
func parseNetworks(value string) ([]NetworkConfig, error) {
	if value == "" {
		return nil, nil
	}
	names := strings.Split(value, ",")
	out := make([]NetworkConfig, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		prefix := strings.ToUpper(name)

		rpcURL := getEnv(prefix+"_RPC_URL", "")
		if rpcURL == "" {
			return nil, fmt.Errorf("network %q: %s_RPC_URL is required", name, prefix)
		}

		chainIDStr := getEnv(prefix+"_CHAIN_ID", "")
		chainID, err := strconv.ParseInt(chainIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("network %q: invalid %s_CHAIN_ID %q: %w", name, prefix, chainIDStr, err)
		}

		out = append(out, NetworkConfig{
			Name:            name,
			ChainID:         chainID,
			RPCURL:          rpcURL,
			ContractAddress: getEnv(prefix+"_CONTRACT_ADDRESS", ""),
		})
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
