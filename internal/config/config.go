// Package config defines the top-level configuration for bitpesad and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/engine"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BITPESA_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Price    PriceConfig    `toml:"price"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Relay    RelayConfig    `toml:"relay"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the ledger parameters of this chain instance. Chain
// selectors are decimal strings since they use the full uint64 range.
type EngineConfig struct {
	CollateralAsset         string   `toml:"collateral_asset"`
	HomeChain               string   `toml:"home_chain"`
	Admin                   string   `toml:"admin"`
	Treasury                string   `toml:"treasury"`
	InitialExecutor         string   `toml:"initial_executor"`
	RequireExecutorApproval bool     `toml:"require_executor_approval"`
	KYCVerifier             string   `toml:"kyc_verifier"`
	RequiredCollateralRatio uint64   `toml:"required_collateral_ratio"`
	LiquidationThreshold    uint64   `toml:"liquidation_threshold"`
	SupportedChains         []string `toml:"supported_chains"`
	MaxPriceAge             duration `toml:"max_price_age"`
	LiquidatorRewardBps     uint32   `toml:"liquidator_reward_bps"`
	ProtocolFeeBps          uint32   `toml:"protocol_fee_bps"`
	// InactivityPeriod gates will release on owner inactivity. Zero leaves
	// release gated only by approval and KYC.
	InactivityPeriod duration `toml:"inactivity_period"`
}

// PriceConfig selects where the collateral price comes from.
type PriceConfig struct {
	// Source is "chainlink", "static" or "cache" (another instance's poller
	// writing to Redis).
	Source       string   `toml:"source"`
	RPCURL       string   `toml:"rpc_url"`
	Aggregator   string   `toml:"aggregator"`
	StaticUSD    string   `toml:"static_usd"`
	PollInterval duration `toml:"poll_interval"`
	CacheTTL     duration `toml:"cache_ttl"`
}

// DatabaseConfig holds PostgreSQL connection parameters. Driver "memory"
// keeps everything in process and is meant for development.
type DatabaseConfig struct {
	Driver        string `toml:"driver"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. With Redis disabled the
// bus, locks and limiter are in-process, which only suits a single instance.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig schedules the export of settled records to S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// RelayConfig holds the relayer identity and the peers it trusts.
type RelayConfig struct {
	Enabled          bool     `toml:"enabled"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	TrustedRelayers  []string `toml:"trusted_relayers"`
	ResendInterval   duration `toml:"resend_interval"`
	ResendAfter      duration `toml:"resend_after"`
}

// KeeperConfig holds the liquidation keeper parameters.
type KeeperConfig struct {
	Enabled  bool     `toml:"enabled"`
	Address  string   `toml:"address"`
	Interval duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per RateWindow per client IP; zero disables it.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			CollateralAsset:         "BTC",
			HomeChain:               "1",
			RequireExecutorApproval: true,
			RequiredCollateralRatio: 150,
			LiquidationThreshold:    120,
			MaxPriceAge:             duration{time.Hour},
			LiquidatorRewardBps:     500,
			ProtocolFeeBps:          100,
		},
		Price: PriceConfig{
			Source:       "chainlink",
			PollInterval: duration{30 * time.Second},
			CacheTTL:     duration{2 * time.Hour},
		},
		Database: DatabaseConfig{
			Driver:        "postgres",
			Host:          "localhost",
			Port:          5432,
			Database:      "bitpesa",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "bitpesa-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 3 * * *",
		},
		Relay: RelayConfig{
			ResendInterval: duration{30 * time.Second},
			ResendAfter:    duration{2 * time.Minute},
		},
		Keeper: KeeperConfig{
			Interval: duration{15 * time.Second},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"liquidated", "will_released", "bridge_rejected"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"api":    true,
	"keeper": true,
	"relay":  true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, keeper, relay, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if _, err := c.Engine.Build(); err != nil {
		errs = append(errs, "engine: "+err.Error())
	}

	switch c.Price.Source {
	case "chainlink":
		if c.Price.RPCURL == "" || c.Price.Aggregator == "" {
			errs = append(errs, "price: rpc_url and aggregator are required for the chainlink source")
		}
	case "static":
		if _, err := domain.ParseUSD(c.Price.StaticUSD); err != nil {
			errs = append(errs, "price: static_usd: "+err.Error())
		}
	case "cache":
		if !c.Redis.Enabled {
			errs = append(errs, "price: the cache source needs redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("price: unknown source %q (valid: chainlink, static, cache)", c.Price.Source))
	}
	if c.Price.PollInterval.Duration <= 0 {
		errs = append(errs, "price: poll_interval must be > 0")
	}

	switch c.Database.Driver {
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must be between 0 and pool_max_conns")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("database: unknown driver %q (valid: postgres, memory)", c.Database.Driver))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Archive.Enabled {
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			errs = append(errs, "s3: endpoint and bucket are required when archiving")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
	}

	runsRelay := c.Relay.Enabled && (mode == "relay" || mode == "full")
	if runsRelay {
		if c.Relay.PrivateKey == "" && c.Relay.EncryptedKeyPath == "" {
			errs = append(errs, "relay: either private_key or encrypted_key_path must be set")
		}
		if c.Relay.EncryptedKeyPath != "" && c.Relay.KeyPassword == "" {
			errs = append(errs, "relay: key_password is required when encrypted_key_path is set")
		}
		if len(c.Relay.TrustedRelayers) == 0 {
			errs = append(errs, "relay: trusted_relayers must not be empty")
		}
		for _, r := range c.Relay.TrustedRelayers {
			if _, err := domain.ParseAddress(r); err != nil {
				errs = append(errs, "relay: trusted_relayers: "+err.Error())
			}
		}
		if !c.Redis.Enabled {
			errs = append(errs, "relay: needs redis to reach other chain instances")
		}
	}

	if c.Keeper.Enabled && (mode == "keeper" || mode == "full") {
		if _, err := domain.ParseAddress(c.Keeper.Address); err != nil {
			errs = append(errs, "keeper: address: "+err.Error())
		}
		if c.Keeper.Interval.Duration <= 0 {
			errs = append(errs, "keeper: interval must be > 0")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Build converts the engine section into an engine.Config and validates it.
func (c EngineConfig) Build() (engine.Config, error) {
	home, err := domain.ParseChainSelector(c.HomeChain)
	if err != nil {
		return engine.Config{}, fmt.Errorf("home_chain: %w", err)
	}
	admin, err := domain.ParseAddress(c.Admin)
	if err != nil {
		return engine.Config{}, fmt.Errorf("admin: %w", err)
	}
	treasury, err := domain.ParseAddress(c.Treasury)
	if err != nil {
		return engine.Config{}, fmt.Errorf("treasury: %w", err)
	}
	out := engine.Config{
		CollateralAsset:         c.CollateralAsset,
		HomeChain:               home,
		Admin:                   admin,
		Treasury:                treasury,
		RequireExecutorApproval: c.RequireExecutorApproval,
		RequiredCollateralRatio: c.RequiredCollateralRatio,
		LiquidationThreshold:    c.LiquidationThreshold,
		MaxPriceAge:             c.MaxPriceAge.Duration,
		Liquidation: engine.LiquidationPolicy{
			LiquidatorRewardBps: c.LiquidatorRewardBps,
			ProtocolFeeBps:      c.ProtocolFeeBps,
		},
	}
	if c.InitialExecutor != "" {
		if out.InitialExecutor, err = domain.ParseAddress(c.InitialExecutor); err != nil {
			return engine.Config{}, fmt.Errorf("initial_executor: %w", err)
		}
	}
	if c.KYCVerifier != "" {
		v, err := domain.ParseAddress(c.KYCVerifier)
		if err != nil {
			return engine.Config{}, fmt.Errorf("kyc_verifier: %w", err)
		}
		out.KYCVerifier = &v
	}
	for _, s := range c.SupportedChains {
		sel, err := domain.ParseChainSelector(s)
		if err != nil {
			return engine.Config{}, fmt.Errorf("supported_chains: %w", err)
		}
		out.SupportedChains = append(out.SupportedChains, sel)
	}
	if err := out.Validate(); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

// Trigger returns the will release condition the engine should use.
func (c EngineConfig) Trigger() engine.TriggerCondition {
	if c.InactivityPeriod.Duration > 0 {
		return engine.InactivityTrigger{Period: c.InactivityPeriod.Duration}
	}
	return engine.AlwaysTriggered{}
}
