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
// built-in defaults, applies TRADINGBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADINGBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This lets
// operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.Symbol, "TRADINGBOT_SYMBOL")
	setStringSlice(&cfg.Engine.Symbols, "TRADINGBOT_SYMBOLS")
	setDuration(&cfg.Engine.TickInterval, "TRADINGBOT_TICK_INTERVAL")
	setDuration(&cfg.Engine.FetchTimeout, "TRADINGBOT_FETCH_TIMEOUT")
	setBool(&cfg.Engine.DryRun, "TRADINGBOT_DRY_RUN")

	// ── History / detection ──
	setInt(&cfg.History.Retention, "TRADINGBOT_HISTORY_RETENTION")
	setInt(&cfg.History.MinSamples, "TRADINGBOT_HISTORY_MIN_SAMPLES")
	setFloat64(&cfg.Spike.MinSpike, "TRADINGBOT_SPIKE_MIN")
	setFloat64(&cfg.Spike.MaxSpike, "TRADINGBOT_SPIKE_MAX")
	setFloat64(&cfg.Spike.RecoveryThreshold, "TRADINGBOT_SPIKE_RECOVERY_THRESHOLD")
	setInt(&cfg.Spike.MaxLookBack, "TRADINGBOT_SPIKE_MAX_LOOK_BACK")
	setFloat64(&cfg.Spike.JumpThreshold, "TRADINGBOT_SPIKE_JUMP_THRESHOLD")

	// ── Arbitrage ──
	setFloat64(&cfg.Arbitrage.TradeSize, "TRADINGBOT_ARB_TRADE_SIZE")
	setFloat64(&cfg.Arbitrage.MinProfit, "TRADINGBOT_ARB_MIN_PROFIT")
	setBool(&cfg.Arbitrage.IncludeWithdraw, "TRADINGBOT_ARB_INCLUDE_WITHDRAW_FEES")

	// ── Position ──
	setFloat64(&cfg.Position.StopLossPct, "TRADINGBOT_STOP_LOSS_PCT")
	setFloat64(&cfg.Position.TakeProfitPct, "TRADINGBOT_TAKE_PROFIT_PCT")
	setFloat64(&cfg.Position.TrailingGivebackPct, "TRADINGBOT_TRAILING_GIVEBACK_PCT")

	// ── State ──
	setStr(&cfg.State.Dir, "TRADINGBOT_STATE_DIR")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRADINGBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADINGBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADINGBOT_REDIS_DB")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRADINGBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADINGBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADINGBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADINGBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADINGBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADINGBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADINGBOT_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "TRADINGBOT_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TRADINGBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADINGBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADINGBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADINGBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADINGBOT_S3_SECRET_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADINGBOT_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADINGBOT_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADINGBOT_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADINGBOT_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "TRADINGBOT_METRICS_ENABLED")
	setInt(&cfg.Metrics.Port, "TRADINGBOT_METRICS_PORT")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADINGBOT_MODE")
	setStr(&cfg.LogLevel, "TRADINGBOT_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
