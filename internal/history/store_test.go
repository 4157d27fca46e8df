package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/domain"
)

var luna = domain.Instrument{Symbol: "LUNA/USDT", Venue: "bybit"}

func TestStoreBounding(t *testing.T) {
	s := New(5)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 12; i++ {
		s.Append(luna, float64(i), base.Add(time.Duration(i)*time.Second))
	}

	require.Equal(t, 5, s.Len(luna))
	// Retained entries are exactly the most recent ones, in original order.
	assert.Equal(t, []float64{7, 8, 9, 10, 11}, s.Prices(luna))
}

func TestStoreAppendReturnsEvicted(t *testing.T) {
	s := New(3)
	now := time.Now().UTC()

	assert.Empty(t, s.Append(luna, 1, now))
	assert.Empty(t, s.Append(luna, 2, now))
	assert.Empty(t, s.Append(luna, 3, now))

	evicted := s.Append(luna, 4, now)
	require.Len(t, evicted, 1)
	assert.Equal(t, 1.0, evicted[0].Price)
}

func TestWindowShorterThanRequested(t *testing.T) {
	s := New(100)
	now := time.Now().UTC()
	s.Append(luna, 10, now)
	s.Append(luna, 11, now)

	got := s.Window(luna, 50)
	require.Len(t, got, 2)
	assert.Equal(t, 10.0, got[0].Price)
	assert.Equal(t, 11.0, got[1].Price)

	// Unknown instrument: empty, not an error.
	assert.Empty(t, s.Window(domain.Instrument{Symbol: "GRASS/USDT"}, 10))
}

func TestTrimToKeepsSuffix(t *testing.T) {
	s := New(10)
	now := time.Now().UTC()
	for i := 0; i < 8; i++ {
		s.Append(luna, float64(i), now)
	}

	evicted := s.TrimTo(luna, 3)
	require.Len(t, evicted, 5)
	assert.Equal(t, 0.0, evicted[0].Price)
	assert.Equal(t, []float64{5, 6, 7}, s.Prices(luna))

	// Trimming below the current length is a no-op.
	assert.Nil(t, s.TrimTo(luna, 5))
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := New(10)
	now := time.Now().UTC()
	grass := domain.Instrument{Symbol: "GRASS/USDT", Venue: "bybit"}
	s.Append(luna, 1.5, now)
	s.Append(luna, 1.6, now)
	s.Append(grass, 0.9, now)

	snap := s.Snapshot()

	restored := New(10)
	restored.Restore(snap, func(id string) domain.Instrument {
		if id == grass.ID() {
			return grass
		}
		return luna
	})

	assert.Equal(t, []float64{1.5, 1.6}, restored.Prices(luna))
	assert.Equal(t, []float64{0.9}, restored.Prices(grass))
}

func TestRestoreTrimsOversizedSnapshot(t *testing.T) {
	s := New(3)
	s.Restore(map[string][]float64{luna.ID(): {1, 2, 3, 4, 5}}, nil)
	assert.Equal(t, []float64{3, 4, 5}, s.Prices(domain.Instrument{Symbol: luna.ID()}))
}
