package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Engine.TickInterval = duration{0}
	cfg.Position.StopLossPct = 0.03
	cfg.Venues = nil

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode")
	assert.Contains(t, err.Error(), "tick_interval")
	assert.Contains(t, err.Error(), "stop_loss_pct")
	assert.Contains(t, err.Error(), "at least one venue")
}

func TestValidateArbitrageNeedsTwoVenues(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "arbitrage"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least two venues")
}

func TestValidateScanNeedsSymbols(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "scan"
	cfg.Engine.Symbols = nil

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.symbols")
}

func TestValidateRejectsUnknownNotifyEvent(t *testing.T) {
	cfg := Defaults()
	cfg.Notify.Events = []string{"entry", "margin_call"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "margin_call")
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "scan"

[engine]
symbols = ["grass", "moodeng"]
tick_interval = "10s"
fetch_timeout = "2s"
`), 0o644))

	t.Setenv("TRADINGBOT_SPIKE_MIN", "0.07")
	t.Setenv("TRADINGBOT_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "scan", cfg.Mode)
	assert.Equal(t, []string{"grass", "moodeng"}, cfg.Engine.Symbols)
	assert.Equal(t, 10*time.Second, cfg.Engine.TickInterval.Duration)
	assert.Equal(t, 0.07, cfg.Spike.MinSpike, "env var overrides file and defaults")
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2400, cfg.History.Retention, "untouched fields keep defaults")
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}
