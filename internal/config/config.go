// Package config defines the top-level configuration for the trading bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADINGBOT_* environment variables.
type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	History   HistoryConfig   `toml:"history"`
	Spike     SpikeConfig     `toml:"spike"`
	Arbitrage ArbitrageConfig `toml:"arbitrage"`
	Position  PositionConfig  `toml:"position"`
	Venues    []VenueConfig   `toml:"venues"`
	State     StateConfig     `toml:"state"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// EngineConfig holds tick-loop parameters.
type EngineConfig struct {
	Symbol       string   `toml:"symbol"`        // momentum/arbitrage modes: the single instrument
	Symbols      []string `toml:"symbols"`       // scan mode: tracked tokens
	TickInterval duration `toml:"tick_interval"` // fixed polling cadence
	FetchTimeout duration `toml:"fetch_timeout"` // per-venue quote fetch budget
	DryRun       bool     `toml:"dry_run"`       // route orders to the paper sink
}

// HistoryConfig bounds the rolling price window.
type HistoryConfig struct {
	Retention  int `toml:"retention"`   // max observations kept per instrument
	ResetKeep  int `toml:"reset_keep"`  // observations kept after an exit trims history
	MinSamples int `toml:"min_samples"` // detection is skipped below this length
}

// SpikeConfig parameterises the multi-look-back spike detector.
type SpikeConfig struct {
	MinSpike          float64 `toml:"min_spike"`
	MaxSpike          float64 `toml:"max_spike"`
	RecoveryThreshold float64 `toml:"recovery_threshold"`
	MaxLookBack       int     `toml:"max_look_back"`
	Stride            int     `toml:"stride"`
	// JumpThreshold is the fractional rise over the window minimum used by
	// scan mode (ratio detection). The two modes are never mixed.
	JumpThreshold float64 `toml:"jump_threshold"`
}

// ArbitrageConfig holds cross-venue scanner parameters.
type ArbitrageConfig struct {
	TradeSize       float64 `toml:"trade_size"` // quote-currency notional per leg
	MinProfit       float64 `toml:"min_profit"`
	ReportDecimals  int     `toml:"report_decimals"`
	IncludeWithdraw bool    `toml:"include_withdraw_fees"`
}

// PositionConfig holds state-machine thresholds.
type PositionConfig struct {
	StopLossPct         float64 `toml:"stop_loss_pct"`         // negative, e.g. -0.03
	TakeProfitPct       float64 `toml:"take_profit_pct"`       // e.g. 0.07
	TrailingGivebackPct float64 `toml:"trailing_giveback_pct"` // e.g. 0.02
	EntryDiscountPct    float64 `toml:"entry_discount_pct"`    // start price set this far below trigger

	// Volatility bands: the down-spike magnitude preceding a recovery picks
	// the band, and the band picks how aggressive the exits are.
	BandSplit         float64 `toml:"band_split"`          // calm/volatile boundary, e.g. 0.16
	CalmProfitPct     float64 `toml:"calm_profit_pct"`     // e.g. 0.02
	CalmGiveback      float64 `toml:"calm_giveback"`       // e.g. 0.01
	VolatileProfitPct float64 `toml:"volatile_profit_pct"` // e.g. 0.03
	VolatileGiveback  float64 `toml:"volatile_giveback"`   // e.g. 0.026
}

// VenueConfig describes one quote/execution source.
type VenueConfig struct {
	Name             string  `toml:"name"`
	Kind             string  `toml:"kind"` // "paper", "http", "ws"
	URL              string  `toml:"url"`
	FeeRate          float64 `toml:"fee_rate"`
	WithdrawFeeBase  float64 `toml:"withdraw_fee_base"`
	WithdrawFeeQuote float64 `toml:"withdraw_fee_quote"`
}

// StateConfig holds the persisted state file locations.
type StateConfig struct {
	Dir            string `toml:"dir"`
	HeldFile       string `toml:"held_file"`
	HistoryFile    string `toml:"history_file"`
	ThresholdsFile string `toml:"thresholds_file"`
}

// RedisConfig holds the optional latest-quote cache connection. Disabled when
// Addr is empty.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
}

// PostgresConfig holds the optional decision-log database. Disabled when both
// DSN and Host are empty.
type PostgresConfig struct {
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

// S3Config holds the optional history archive bucket. Disabled when Bucket is
// empty.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MetricsConfig holds the prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds the optional alert channels. A channel is enabled when
// its credentials are set; with no channels configured alerts are dropped.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"` // empty means all event types
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "30s" or "5m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the values the bot ships with.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			Symbol:       "LUNA/USDT",
			TickInterval: duration{30 * time.Second},
			FetchTimeout: duration{10 * time.Second},
			DryRun:       true,
		},
		History: HistoryConfig{
			Retention:  2400,
			ResetKeep:  3,
			MinSamples: 60,
		},
		Spike: SpikeConfig{
			MinSpike:          0.053,
			MaxSpike:          0.50,
			RecoveryThreshold: 0.053,
			MaxLookBack:       2400,
			Stride:            19,
			JumpThreshold:     0.027,
		},
		Arbitrage: ArbitrageConfig{
			TradeSize:      500,
			MinProfit:      0.01,
			ReportDecimals: 6,
		},
		Position: PositionConfig{
			StopLossPct:         -0.03,
			TakeProfitPct:       0.07,
			TrailingGivebackPct: 0.02,
			EntryDiscountPct:    0.03,
			BandSplit:           0.16,
			CalmProfitPct:       0.02,
			CalmGiveback:        0.01,
			VolatileProfitPct:   0.03,
			VolatileGiveback:    0.026,
		},
		Venues: []VenueConfig{
			{Name: "paper", Kind: "paper", FeeRate: 0.001},
		},
		State: StateConfig{
			Dir:            "data",
			HeldFile:       "held_tokens.json",
			HistoryFile:    "price_history.json",
			ThresholdsFile: "token_prices.json",
		},
		Redis: RedisConfig{
			PoolSize:   20,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9100,
		},
		Notify: NotifyConfig{
			Events: []string{"entry", "exit"},
		},
		Mode:     "momentum",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"momentum":  true,
	"arbitrage": true,
	"scan":      true,
}

// validNotifyEvents enumerates the accepted values for NotifyConfig.Events.
var validNotifyEvents = map[string]bool{
	"entry":       true,
	"exit":        true,
	"opportunity": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found. A non-nil error is fatal at startup;
// the process must not reach the tick loop.
func (c *Config) Validate() error {
	var problems []string

	if !validModes[strings.ToLower(c.Mode)] {
		problems = append(problems, fmt.Sprintf("mode %q is not one of momentum, arbitrage, scan", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		problems = append(problems, fmt.Sprintf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	if c.Engine.TickInterval.Duration <= 0 {
		problems = append(problems, "engine.tick_interval must be positive")
	}
	if c.Engine.FetchTimeout.Duration <= 0 {
		problems = append(problems, "engine.fetch_timeout must be positive")
	}
	if c.Engine.FetchTimeout.Duration >= c.Engine.TickInterval.Duration {
		problems = append(problems, "engine.fetch_timeout must be shorter than engine.tick_interval")
	}

	switch strings.ToLower(c.Mode) {
	case "momentum", "arbitrage":
		if c.Engine.Symbol == "" {
			problems = append(problems, "engine.symbol is required in momentum and arbitrage modes")
		}
	case "scan":
		if len(c.Engine.Symbols) == 0 {
			problems = append(problems, "engine.symbols is required in scan mode")
		}
	}

	if c.History.Retention <= 0 {
		problems = append(problems, "history.retention must be positive")
	}
	if c.History.Retention < c.Spike.MaxLookBack {
		// Not fatal for detection correctness (detection degrades to an empty
		// event set), but it is a misconfiguration worth refusing.
		problems = append(problems, fmt.Sprintf(
			"history.retention (%d) must cover spike.max_look_back (%d)",
			c.History.Retention, c.Spike.MaxLookBack))
	}
	if c.Spike.MinSpike <= 0 || c.Spike.MaxSpike <= c.Spike.MinSpike {
		problems = append(problems, "spike.min_spike must be positive and below spike.max_spike")
	}
	if c.Spike.Stride <= 0 {
		problems = append(problems, "spike.stride must be positive")
	}
	if c.Arbitrage.TradeSize <= 0 {
		problems = append(problems, "arbitrage.trade_size must be positive")
	}
	if c.Position.StopLossPct >= 0 {
		problems = append(problems, "position.stop_loss_pct must be negative")
	}
	if c.Position.TakeProfitPct <= 0 {
		problems = append(problems, "position.take_profit_pct must be positive")
	}
	if c.Position.TrailingGivebackPct <= 0 {
		problems = append(problems, "position.trailing_giveback_pct must be positive")
	}
	if len(c.Venues) == 0 {
		problems = append(problems, "at least one venue must be configured")
	}
	seen := map[string]bool{}
	for i, v := range c.Venues {
		if v.Name == "" {
			problems = append(problems, fmt.Sprintf("venues[%d].name is required", i))
		}
		if seen[v.Name] {
			problems = append(problems, fmt.Sprintf("venue %q configured twice", v.Name))
		}
		seen[v.Name] = true
		switch v.Kind {
		case "paper":
		case "http", "ws":
			if v.URL == "" {
				problems = append(problems, fmt.Sprintf("venue %q: url is required for kind %q", v.Name, v.Kind))
			}
		default:
			problems = append(problems, fmt.Sprintf("venue %q: unknown kind %q", v.Name, v.Kind))
		}
	}
	if strings.ToLower(c.Mode) == "arbitrage" && len(c.Venues) < 2 {
		problems = append(problems, "arbitrage mode needs at least two venues")
	}
	if c.State.Dir == "" {
		problems = append(problems, "state.dir is required")
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		problems = append(problems, "notify.telegram_token and notify.telegram_chat_id must be set together")
	}
	for _, e := range c.Notify.Events {
		if !validNotifyEvents[strings.ToLower(strings.TrimSpace(e))] {
			problems = append(problems, fmt.Sprintf("notify event %q is not one of entry, exit, opportunity", e))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
