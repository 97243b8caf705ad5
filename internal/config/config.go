// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Authentication modes.
const (
	// AuthSignature requires every protected request to carry a secp256k1
	// signature over the canonical request message.
	AuthSignature = "signature"
	// AuthHeader trusts X-Zaps-Address without a signature (local development).
	AuthHeader = "header"
	// AuthAllowAll skips authorization checks entirely (demos and tests).
	AuthAllowAll = "allow_all"
)

// Defaults for the component addresses. Components hold custody under these
// addresses on the token ledger.
const (
	DefaultRouterAddress = "0x0000000000000000000000000000000000005a01"
	DefaultVaultAddress  = "0x0000000000000000000000000000000000005a02"
	DefaultEscrowAddress = "0x0000000000000000000000000000000000005a03"
	DefaultFXAddress     = "0x0000000000000000000000000000000000005a04"
	DefaultPayoutAddress = "0x0000000000000000000000000000000000005a05"
	DefaultKeeperAddress = "0x0000000000000000000000000000000000005a06"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string `env:"PORT" envDefault:"8080"`
	Env       string `env:"ENV" envDefault:"development"` // "development", "staging", "production"
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// Storage: PostgreSQL wins over SQLite; neither means in-memory.
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH"`

	// Principals
	AdminAddress  string `env:"ADMIN_ADDRESS"`
	RouterAddress string `env:"ROUTER_ADDRESS" envDefault:"0x0000000000000000000000000000000000005a01"`
	VaultAddress  string `env:"VAULT_ADDRESS" envDefault:"0x0000000000000000000000000000000000005a02"`
	EscrowAddress string `env:"ESCROW_ADDRESS" envDefault:"0x0000000000000000000000000000000000005a03"`
	FXAddress     string `env:"FX_ADDRESS" envDefault:"0x0000000000000000000000000000000000005a04"`
	PayoutAddress string `env:"PAYOUT_ADDRESS" envDefault:"0x0000000000000000000000000000000000005a05"`
	KeeperAddress string `env:"KEEPER_ADDRESS" envDefault:"0x0000000000000000000000000000000000005a06"`

	AuthMode string        `env:"AUTH_MODE" envDefault:"signature"`
	AuthSkew time.Duration `env:"AUTH_MAX_SKEW" envDefault:"5m"`

	// Assets registered at bootstrap, as CODE or CODE:feeBps.
	Assets []string `env:"ASSETS" envSeparator:"," envDefault:"USDC,XLM"`

	EscrowRefundTimeout time.Duration `env:"ESCROW_REFUND_TIMEOUT" envDefault:"168h"`
	EscrowSweepInterval time.Duration `env:"ESCROW_SWEEP_INTERVAL" envDefault:"1m"`

	// Observability
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Per-caller request limits. RATE_LIMIT_RPM=0 disables limiting.
	RateLimitRPM   int `env:"RATE_LIMIT_RPM" envDefault:"120"`
	RateLimitBurst int `env:"RATE_LIMIT_BURST" envDefault:"20"`
}

// AssetSpec is one parsed entry of ASSETS.
type AssetSpec struct {
	Code   string
	FeeBps int64
}

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.AdminAddress == "" {
		return errors.New("ADMIN_ADDRESS is required")
	}
	if !common.IsHexAddress(c.AdminAddress) {
		return fmt.Errorf("ADMIN_ADDRESS is not a valid address: %q", c.AdminAddress)
	}

	switch c.AuthMode {
	case AuthSignature:
	case AuthHeader, AuthAllowAll:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=%s is not allowed in production", c.AuthMode)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be one of %s, %s, %s", AuthSignature, AuthHeader, AuthAllowAll)
	}

	seen := make(map[string]string)
	for name, addr := range c.principals() {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s is not a valid address: %q", name, addr)
		}
		key := strings.ToLower(addr)
		if other, dup := seen[key]; dup {
			return fmt.Errorf("%s and %s must differ", other, name)
		}
		seen[key] = name
	}

	if c.EscrowRefundTimeout <= 0 {
		return errors.New("ESCROW_REFUND_TIMEOUT must be positive")
	}
	if c.RateLimitRPM < 0 || c.RateLimitBurst < 0 {
		return errors.New("RATE_LIMIT_RPM and RATE_LIMIT_BURST must not be negative")
	}
	if _, err := c.AssetSpecs(); err != nil {
		return err
	}
	return nil
}

func (c *Config) principals() map[string]string {
	return map[string]string{
		"ROUTER_ADDRESS": c.RouterAddress,
		"VAULT_ADDRESS":  c.VaultAddress,
		"ESCROW_ADDRESS": c.EscrowAddress,
		"FX_ADDRESS":     c.FXAddress,
		"PAYOUT_ADDRESS": c.PayoutAddress,
		"KEEPER_ADDRESS": c.KeeperAddress,
	}
}

// AssetSpecs parses ASSETS.
func (c *Config) AssetSpecs() ([]AssetSpec, error) {
	var out []AssetSpec
	for _, raw := range c.Assets {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		code, bps, hasFee := strings.Cut(raw, ":")
		spec := AssetSpec{Code: strings.ToUpper(code)}
		if hasFee {
			n, err := strconv.ParseInt(bps, 10, 64)
			if err != nil || n < 0 || n > 10_000 {
				return nil, fmt.Errorf("ASSETS: invalid fee for %s: %q", code, bps)
			}
			spec.FeeBps = n
		}
		out = append(out, spec)
	}
	return out, nil
}

// UsePostgres reports whether committed state lives in PostgreSQL.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
