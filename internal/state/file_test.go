package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/domain"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir(), "held_tokens.json", "price_history.json", "token_prices.json")
	require.NoError(t, err)
	return fs
}

func TestColdStartMissingFiles(t *testing.T) {
	fs := newTestStore(t)

	st, err := fs.Load()
	require.NoError(t, err)
	assert.Empty(t, st.Held)
	assert.Empty(t, st.History)
	assert.Empty(t, st.Thresholds)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	fs := newTestStore(t)

	enteredAt := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	saved := domain.PersistedState{
		Held: map[string]domain.HeldPosition{
			"grass": {
				Instrument:   domain.Instrument{Symbol: "grass"},
				BuyPrice:     1.25,
				HighestPrice: 1.40,
				EnteredAt:    enteredAt,
			},
		},
		History: map[string][]float64{
			"grass":   {1.1, 1.2, 1.25},
			"moodeng": {0.2, 0.21},
		},
		Thresholds: map[string]domain.Thresholds{
			"grass": {StartPrice: 1.2, ProfitPrice: 1.3, TrailingGiveback: 0.01},
		},
	}
	require.NoError(t, fs.Save(saved))

	loaded, err := fs.Load()
	require.NoError(t, err)

	require.Len(t, loaded.Held, 1)
	pos := loaded.Held["grass"]
	assert.Equal(t, "grass", pos.Instrument.Symbol)
	assert.Equal(t, 1.25, pos.BuyPrice)
	assert.Equal(t, 1.40, pos.HighestPrice)
	assert.True(t, pos.EnteredAt.Equal(enteredAt))

	assert.Equal(t, saved.History, loaded.History)
	assert.Equal(t, saved.Thresholds, loaded.Thresholds)
}

func TestSaveOverwritesPreviousState(t *testing.T) {
	fs := newTestStore(t)

	first := domain.PersistedState{
		Held: map[string]domain.HeldPosition{
			"grass": {Instrument: domain.Instrument{Symbol: "grass"}, BuyPrice: 1.0, HighestPrice: 1.0},
		},
		History:    map[string][]float64{"grass": {1.0}},
		Thresholds: map[string]domain.Thresholds{"grass": {StartPrice: 0.97, ProfitPrice: 1.02}},
	}
	require.NoError(t, fs.Save(first))

	// Exit: held and thresholds cleared, history trimmed.
	second := domain.PersistedState{
		Held:       map[string]domain.HeldPosition{},
		History:    map[string][]float64{"grass": {1.1, 1.2, 1.3}},
		Thresholds: map[string]domain.Thresholds{},
	}
	require.NoError(t, fs.Save(second))

	loaded, err := fs.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded.Held)
	assert.Empty(t, loaded.Thresholds)
	assert.Equal(t, []float64{1.1, 1.2, 1.3}, loaded.History["grass"])
}

func TestHeldEntryWithoutDetailIsSkipped(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, "held_tokens.json", "price_history.json", "token_prices.json")
	require.NoError(t, err)

	raw := `{"held_instruments":["grass","ghost"],"held_details":{"grass":{"symbol":"grass","buy_price":1.0,"highest_price":1.0}}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "held_tokens.json"), []byte(raw), 0o644))

	loaded, err := fs.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Held, 1)
	assert.Contains(t, loaded.Held, "grass")
}

func TestCorruptFileReturnsError(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, "held_tokens.json", "price_history.json", "token_prices.json")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "price_history.json"), []byte("{not json"), 0o644))

	_, err = fs.Load()
	require.Error(t, err)
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, "held_tokens.json", "price_history.json", "token_prices.json")
	require.NoError(t, err)

	require.NoError(t, fs.Save(domain.PersistedState{
		Held:       map[string]domain.HeldPosition{},
		History:    map[string][]float64{"grass": {1.0}},
		Thresholds: map[string]domain.Thresholds{},
	}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}
