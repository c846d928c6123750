// Package config provides application configuration loaded from environment variables.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mmmuuieddd/gamblefi-backend/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings for the health/status surface.
type ServerConfig struct {
	Port         string        // e.g. "8080"
	Env          string        // "development" | "production"
	ReadTimeout  time.Duration // default 10s
	WriteTimeout time.Duration // default 10s
}

// DBConfig holds PostgreSQL connection settings for the event store.
type DBConfig struct {
	DSN             string        // full postgres DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
}

// ChainConfig holds RPC endpoints, the target contract, and the signing key.
type ChainConfig struct {
	RPCURL          string // request/response endpoint (reads + tx submission)
	WSSURL          string // streaming endpoint (subscriptions only)
	ContractAddress string // target dice contract
	SignerKey       string // hex private key funding settlements; must be set
	CallTimeout     time.Duration // per-RPC deadline, default 30s
	LowBalanceWei   string        // startup warning threshold, default 0.01 ether
}

// SettlerConfig holds reconciler and stream-supervision tunables.
type SettlerConfig struct {
	TickInterval         time.Duration // reconciler tick, default 10s
	DefaultRevealDelay   uint64        // used when revealDelay() is unreadable, default 3
	StaleAfter           time.Duration // heartbeat staleness forcing reconnect, default 120s
	HeartbeatInterval    time.Duration // supervisor-internal staleness check, default 30s
	MonitorInterval      time.Duration // service-layer monitor loop, default 60s
	ForceResetAfter      time.Duration // monitor forces a full stream reset, default 180s
	MaxReconnectAttempts int           // backoff attempts before giving up, default 10
	MaxBackoff           time.Duration // backoff ceiling, default 30s
	DedupeCapacity       int           // bounded BetSettled tx-hash set, default 10000
	HealthMaxBlockAge    time.Duration // stream freshness bound for /health, default 5m
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server  ServerConfig
	DB      DBConfig
	Chain   ChainConfig
	Settler SettlerConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and valid.
// Returns the first validation error encountered.
func (c *Config) Validate() error {
	var errs []error

	// The signing key is mandatory: without it the daemon cannot settle.
	if c.Chain.SignerKey == "" {
		errs = append(errs, domain.ErrMissingSignerKey)
	}

	if c.Chain.ContractAddress == "" {
		errs = append(errs, errors.New("CONTRACT_ADDRESS must be set"))
	} else if !common.IsHexAddress(c.Chain.ContractAddress) {
		errs = append(errs, fmt.Errorf("CONTRACT_ADDRESS %q is not a valid address", c.Chain.ContractAddress))
	}

	if c.Chain.RPCURL == "" {
		errs = append(errs, errors.New("RPC_URL must be set"))
	}
	if c.Chain.WSSURL == "" {
		errs = append(errs, errors.New("RPC_WSS_URL must be set"))
	}

	// In production, the DB DSN must be explicit.
	if c.IsProd() && c.DB.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
	}

	if c.Settler.MaxReconnectAttempts <= 0 {
		errs = append(errs, fmt.Errorf(
			"SETTLER_MAX_RECONNECT_ATTEMPTS must be positive, got %d",
			c.Settler.MaxReconnectAttempts,
		))
	}
	if c.Settler.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf(
			"SETTLER_TICK_INTERVAL must be positive, got %s",
			c.Settler.TickInterval,
		))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment variables.
// Panics if loading fails — call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Internal loader
// ──────────────────────────────────────────────────────────────────────────────

func load() (*Config, error) {
	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	cfg.Server = ServerConfig{
		Port:         getEnv("PORT", "8080"),
		Env:          getEnv("ENVIRONMENT", "development"),
		ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
	}

	// ── Database ──────────────────────────────────────────────────────────────
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		// Build DSN from individual components for convenience in dev
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "gamblefi_settler"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}

	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}

	cfg.DB = DBConfig{
		DSN:             dsn,
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	// ── Chain ─────────────────────────────────────────────────────────────────
	cfg.Chain = ChainConfig{
		RPCURL:          getEnv("RPC_URL", ""),
		WSSURL:          getEnv("RPC_WSS_URL", ""),
		ContractAddress: getEnv("CONTRACT_ADDRESS", ""),
		SignerKey:       getEnv("SETTLER_PRIVATE_KEY", ""),
		CallTimeout:     getDuration("CHAIN_CALL_TIMEOUT", 30*time.Second),
		// 0.01 of the native unit, in wei.
		LowBalanceWei: getEnv("CHAIN_LOW_BALANCE_WEI", "10000000000000000"),
	}

	// ── Settler ───────────────────────────────────────────────────────────────
	revealDelay, err := getInt("SETTLER_DEFAULT_REVEAL_DELAY", 3)
	if err != nil {
		return nil, fmt.Errorf("SETTLER_DEFAULT_REVEAL_DELAY: %w", err)
	}
	maxAttempts, err := getInt("SETTLER_MAX_RECONNECT_ATTEMPTS", 10)
	if err != nil {
		return nil, fmt.Errorf("SETTLER_MAX_RECONNECT_ATTEMPTS: %w", err)
	}
	dedupeCap, err := getInt("SETTLER_DEDUPE_CAPACITY", 10000)
	if err != nil {
		return nil, fmt.Errorf("SETTLER_DEDUPE_CAPACITY: %w", err)
	}

	cfg.Settler = SettlerConfig{
		TickInterval:         getDuration("SETTLER_TICK_INTERVAL", 10*time.Second),
		DefaultRevealDelay:   uint64(revealDelay),
		StaleAfter:           getDuration("SETTLER_STALE_AFTER", 120*time.Second),
		HeartbeatInterval:    getDuration("SETTLER_HEARTBEAT_INTERVAL", 30*time.Second),
		MonitorInterval:      getDuration("SETTLER_MONITOR_INTERVAL", 60*time.Second),
		ForceResetAfter:      getDuration("SETTLER_FORCE_RESET_AFTER", 180*time.Second),
		MaxReconnectAttempts: maxAttempts,
		MaxBackoff:           getDuration("SETTLER_MAX_BACKOFF", 30*time.Second),
		DedupeCapacity:       dedupeCap,
		HealthMaxBlockAge:    getDuration("SETTLER_HEALTH_MAX_BLOCK_AGE", 5*time.Minute),
	}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or empty.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Fall back to default; do not crash on parse error
		return defaultVal
	}
	return d
}
