package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/domain"
)

func smallCfg() SpikeConfig {
	return SpikeConfig{
		MinSpike:          0.05,
		MaxSpike:          0.50,
		RecoveryThreshold: 0.05,
		MaxLookBack:       2,
		Stride:            1,
	}
}

func TestSpikesDirectionalEvents(t *testing.T) {
	// Index 2 is 0.10 above index 1 (d=1) and 0.10 above index 0 (d=2).
	prices := []float64{1.00, 1.00, 1.10}
	events := Spikes(prices, smallCfg())

	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, 2, ev.Index)
		assert.Equal(t, domain.SpikeUp, ev.Direction)
		assert.InDelta(t, 0.10, ev.Magnitude, 1e-12)
	}
}

func TestSpikesMagnitudeBounds(t *testing.T) {
	cfg := smallCfg()

	// Below MinSpike: no events.
	assert.Empty(t, Spikes([]float64{1.00, 1.00, 1.01}, cfg))
	// Above MaxSpike: no events.
	assert.Empty(t, Spikes([]float64{1.00, 1.00, 2.00}, cfg))
}

func TestSpikesDeterministic(t *testing.T) {
	prices := []float64{1.0, 1.1, 0.95, 1.05, 1.12, 1.0, 1.08}
	cfg := smallCfg()

	first := Spikes(prices, cfg)
	second := Spikes(prices, cfg)
	assert.Equal(t, first, second)
}

func TestSpikesRecoveryAfterDown(t *testing.T) {
	// d=1: down at index 2 (-0.20, price 0.90), up at index 3 (+0.15,
	// price 1.05). Recovery = 1.05 - 0.90 = 0.15 >= threshold.
	prices := []float64{1.10, 1.10, 0.90, 1.05}
	cfg := SpikeConfig{
		MinSpike:          0.10,
		MaxSpike:          0.50,
		RecoveryThreshold: 0.10,
		MaxLookBack:       1,
		Stride:            1,
	}
	events := Spikes(prices, cfg)

	var recoveries []domain.SpikeEvent
	downIdx := -1
	for _, ev := range events {
		switch ev.Direction {
		case domain.SpikeDown:
			downIdx = ev.Index
		case domain.SpikeRecovery:
			recoveries = append(recoveries, ev)
		}
	}
	require.Len(t, recoveries, 1)
	assert.InDelta(t, 0.15, recoveries[0].Magnitude, 1e-12)
	// A recovery is never emitted before the down event it recovers from.
	assert.GreaterOrEqual(t, recoveries[0].Index, downIdx)
}

func TestSpikesNoRecoveryWithoutPriorDown(t *testing.T) {
	prices := []float64{1.00, 1.15, 1.30}
	events := Spikes(prices, SpikeConfig{
		MinSpike:          0.10,
		MaxSpike:          0.50,
		RecoveryThreshold: 0.10,
		MaxLookBack:       1,
		Stride:            1,
	})
	for _, ev := range events {
		assert.NotEqual(t, domain.SpikeRecovery, ev.Direction)
	}
}

func TestSpikesShortHistory(t *testing.T) {
	cfg := smallCfg()
	assert.Empty(t, Spikes(nil, cfg))
	assert.Empty(t, Spikes([]float64{1.0}, cfg))
	assert.Empty(t, Spikes([]float64{1.0, 2.0}, cfg)) // len == maxLookBack
}

func TestLookBackStride(t *testing.T) {
	cfg := SpikeConfig{MaxLookBack: 60, Stride: 19}
	assert.Equal(t, []int{1, 20, 39, 58}, cfg.lookBacks())
}

func TestLastPerLookBack(t *testing.T) {
	events := []domain.SpikeEvent{
		{Index: 5, LookBack: 1, Direction: domain.SpikeUp},
		{Index: 6, LookBack: 20, Direction: domain.SpikeDown},
		{Index: 9, LookBack: 1, Direction: domain.SpikeDown},
	}
	last := LastPerLookBack(events)
	require.Len(t, last, 2)
	assert.Equal(t, 9, last[0].Index) // d=1 keeps the later event
	assert.Equal(t, 6, last[1].Index)
}

func TestLastDownBefore(t *testing.T) {
	events := []domain.SpikeEvent{
		{Index: 3, LookBack: 1, Direction: domain.SpikeDown, Magnitude: -0.08},
		{Index: 5, LookBack: 20, Direction: domain.SpikeDown, Magnitude: -0.20},
		{Index: 7, LookBack: 1, Direction: domain.SpikeUp, Magnitude: 0.12},
	}

	down, ok := LastDownBefore(events, 7)
	require.True(t, ok)
	assert.Equal(t, 5, down.Index)
	assert.InDelta(t, -0.20, down.Magnitude, 1e-12)

	_, ok = LastDownBefore(events, 2)
	assert.False(t, ok)
}

func TestJumpFromMin(t *testing.T) {
	// Last price 1.06 over minimum 1.00 is a 6% rise.
	prices := []float64{1.02, 1.00, 1.03, 1.06}

	assert.InDelta(t, 0.06, JumpFromMin(prices, 0.03), 1e-12)
	// Below threshold returns 0, not the raw change.
	assert.Zero(t, JumpFromMin(prices, 0.07))
	assert.Zero(t, JumpFromMin(nil, 0.03))
}
