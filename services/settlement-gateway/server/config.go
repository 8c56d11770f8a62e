package server

import (
	"fmt"
	"os"
	"strings"
	"time"

	"superswap/core/types"
)

// Config captures runtime configuration for the settlement gateway service.
type Config struct {
	ListenAddress        string
	DatabasePath         string
	AllowedTimestampSkew time.Duration
	NonceTTL             time.Duration
	AdminJWTSecret       string
	// APIKeySecrets maps API key identifiers to their HMAC secrets.
	APIKeySecrets map[string]string
	// CallerIdentities maps API key identifiers to their on-ledger identity.
	// Submissions are attributed to this identity, so only keys mapped to the
	// configured collector can settle orders.
	CallerIdentities map[string]types.Identity
}

// LoadConfigFromEnv applies environment overrides on top of the provided
// base configuration.
func LoadConfigFromEnv(base Config) (Config, error) {
	cfg := base
	if listen := strings.TrimSpace(os.Getenv("SETTLEMENT_GATEWAY_LISTEN")); listen != "" {
		cfg.ListenAddress = listen
	}
	if path := strings.TrimSpace(os.Getenv("SETTLEMENT_GATEWAY_DB_PATH")); path != "" {
		cfg.DatabasePath = path
	}
	if raw := strings.TrimSpace(os.Getenv("SETTLEMENT_GATEWAY_TIMESTAMP_SKEW")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse SETTLEMENT_GATEWAY_TIMESTAMP_SKEW: %w", err)
		}
		if dur <= 0 {
			return Config{}, fmt.Errorf("SETTLEMENT_GATEWAY_TIMESTAMP_SKEW must be positive")
		}
		cfg.AllowedTimestampSkew = dur
	}
	if cfg.AllowedTimestampSkew <= 0 {
		cfg.AllowedTimestampSkew = 2 * time.Minute
	}
	if raw := strings.TrimSpace(os.Getenv("SETTLEMENT_GATEWAY_NONCE_TTL")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse SETTLEMENT_GATEWAY_NONCE_TTL: %w", err)
		}
		if dur <= 0 {
			return Config{}, fmt.Errorf("SETTLEMENT_GATEWAY_NONCE_TTL must be positive")
		}
		cfg.NonceTTL = dur
	}
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = 2 * cfg.AllowedTimestampSkew
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8080"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "settlement-gateway.db"
	}
	return cfg, nil
}
