package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BITPESA_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BITPESA_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.CollateralAsset, "BITPESA_ENGINE_COLLATERAL_ASSET")
	setStr(&cfg.Engine.HomeChain, "BITPESA_ENGINE_HOME_CHAIN")
	setStr(&cfg.Engine.Admin, "BITPESA_ENGINE_ADMIN")
	setStr(&cfg.Engine.Treasury, "BITPESA_ENGINE_TREASURY")
	setStr(&cfg.Engine.InitialExecutor, "BITPESA_ENGINE_INITIAL_EXECUTOR")
	setBool(&cfg.Engine.RequireExecutorApproval, "BITPESA_ENGINE_REQUIRE_EXECUTOR_APPROVAL")
	setStr(&cfg.Engine.KYCVerifier, "BITPESA_ENGINE_KYC_VERIFIER")
	setUint64(&cfg.Engine.RequiredCollateralRatio, "BITPESA_ENGINE_REQUIRED_COLLATERAL_RATIO")
	setUint64(&cfg.Engine.LiquidationThreshold, "BITPESA_ENGINE_LIQUIDATION_THRESHOLD")
	setStringSlice(&cfg.Engine.SupportedChains, "BITPESA_ENGINE_SUPPORTED_CHAINS")
	setDuration(&cfg.Engine.MaxPriceAge, "BITPESA_ENGINE_MAX_PRICE_AGE")
	setUint32(&cfg.Engine.LiquidatorRewardBps, "BITPESA_ENGINE_LIQUIDATOR_REWARD_BPS")
	setUint32(&cfg.Engine.ProtocolFeeBps, "BITPESA_ENGINE_PROTOCOL_FEE_BPS")
	setDuration(&cfg.Engine.InactivityPeriod, "BITPESA_ENGINE_INACTIVITY_PERIOD")

	// ── Price ──
	setStr(&cfg.Price.Source, "BITPESA_PRICE_SOURCE")
	setStr(&cfg.Price.RPCURL, "BITPESA_PRICE_RPC_URL")
	setStr(&cfg.Price.Aggregator, "BITPESA_PRICE_AGGREGATOR")
	setStr(&cfg.Price.StaticUSD, "BITPESA_PRICE_STATIC_USD")
	setDuration(&cfg.Price.PollInterval, "BITPESA_PRICE_POLL_INTERVAL")
	setDuration(&cfg.Price.CacheTTL, "BITPESA_PRICE_CACHE_TTL")

	// ── Database ──
	setStr(&cfg.Database.Driver, "BITPESA_DATABASE_DRIVER")
	setStr(&cfg.Database.DSN, "BITPESA_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "BITPESA_DATABASE_HOST")
	setInt(&cfg.Database.Port, "BITPESA_DATABASE_PORT")
	setStr(&cfg.Database.Database, "BITPESA_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "BITPESA_DATABASE_USER")
	setStr(&cfg.Database.Password, "BITPESA_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "BITPESA_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "BITPESA_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "BITPESA_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "BITPESA_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "BITPESA_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "BITPESA_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BITPESA_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BITPESA_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BITPESA_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BITPESA_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BITPESA_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BITPESA_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BITPESA_S3_REGION")
	setStr(&cfg.S3.Bucket, "BITPESA_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BITPESA_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BITPESA_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BITPESA_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BITPESA_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BITPESA_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "BITPESA_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "BITPESA_ARCHIVE_CRON")

	// ── Relay ──
	setBool(&cfg.Relay.Enabled, "BITPESA_RELAY_ENABLED")
	setStr(&cfg.Relay.PrivateKey, "BITPESA_RELAY_PRIVATE_KEY")
	setStr(&cfg.Relay.EncryptedKeyPath, "BITPESA_RELAY_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Relay.KeyPassword, "BITPESA_RELAY_KEY_PASSWORD")
	setStringSlice(&cfg.Relay.TrustedRelayers, "BITPESA_RELAY_TRUSTED_RELAYERS")
	setDuration(&cfg.Relay.ResendInterval, "BITPESA_RELAY_RESEND_INTERVAL")
	setDuration(&cfg.Relay.ResendAfter, "BITPESA_RELAY_RESEND_AFTER")

	// ── Keeper ──
	setBool(&cfg.Keeper.Enabled, "BITPESA_KEEPER_ENABLED")
	setStr(&cfg.Keeper.Address, "BITPESA_KEEPER_ADDRESS")
	setDuration(&cfg.Keeper.Interval, "BITPESA_KEEPER_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BITPESA_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BITPESA_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BITPESA_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BITPESA_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "BITPESA_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "BITPESA_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BITPESA_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BITPESA_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BITPESA_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BITPESA_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BITPESA_MODE")
	setStr(&cfg.LogLevel, "BITPESA_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint32(dst *uint32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
