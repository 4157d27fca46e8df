package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/domain"
)

var grass = domain.Instrument{Symbol: "GRASS/USDT", Venue: "bybit"}

func testCfg() Config {
	return Config{
		StopLossPct:         -0.03,
		TakeProfitPct:       0.07,
		TrailingGivebackPct: 0.02,
		EntryDiscountPct:    0.03,
		BandMin:             0.053,
		BandSplit:           0.16,
		BandMax:             0.50,
		CalmProfitPct:       0.02,
		CalmGiveback:        0.01,
		VolatileProfitPct:   0.03,
		VolatileGiveback:    0.026,
	}
}

func now() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

// enter is a test helper that drives an instrument into the entered state at
// the given buy price.
func enter(t *testing.T, m *Machine, buyPrice float64) {
	t.Helper()
	require.True(t, m.ArmThresholds(grass, buyPrice, 0.10))
	tr, intent := m.Evaluate(grass, buyPrice*1.001, now())
	require.Equal(t, TransitionEnter, tr.Kind)
	require.NotNil(t, intent)
	require.NoError(t, m.Apply(tr))
}

func TestArmThresholdsBands(t *testing.T) {
	m := NewMachine(testCfg())

	t.Run("calm band", func(t *testing.T) {
		require.True(t, m.ArmThresholds(grass, 1.00, 0.10))
		th := m.Thresholds(grass)
		assert.InDelta(t, 0.97, th.StartPrice, 1e-9)
		assert.InDelta(t, 1.02, th.ProfitPrice, 1e-9)
		assert.InDelta(t, 0.01, th.TrailingGiveback, 1e-9)
	})

	t.Run("already armed", func(t *testing.T) {
		assert.False(t, m.ArmThresholds(grass, 1.10, 0.10))
	})

	t.Run("volatile band", func(t *testing.T) {
		m2 := NewMachine(testCfg())
		require.True(t, m2.ArmThresholds(grass, 1.00, 0.30))
		th := m2.Thresholds(grass)
		assert.InDelta(t, 1.03, th.ProfitPrice, 1e-9)
		assert.InDelta(t, 0.026, th.TrailingGiveback, 1e-9)
	})

	t.Run("out of band", func(t *testing.T) {
		m3 := NewMachine(testCfg())
		assert.False(t, m3.ArmThresholds(grass, 1.00, 0.01))
		assert.False(t, m3.ArmThresholds(grass, 1.00, 0.90))
	})
}

func TestFlatStaysFlatBelowThreshold(t *testing.T) {
	m := NewMachine(testCfg())
	require.True(t, m.ArmThresholds(grass, 1.00, 0.10))

	tr, intent := m.Evaluate(grass, 0.96, now())
	assert.Equal(t, TransitionNone, tr.Kind)
	assert.Nil(t, intent)
	assert.Equal(t, domain.PositionFlat, m.State(grass))
}

func TestEnterCreatesHeldPosition(t *testing.T) {
	m := NewMachine(testCfg())
	enter(t, m, 10.0)

	assert.Equal(t, domain.PositionEntered, m.State(grass))
	held, ok := m.Held(grass)
	require.True(t, ok)
	assert.InDelta(t, 10.01, held.BuyPrice, 1e-9)
	assert.Equal(t, held.BuyPrice, held.HighestPrice)
}

func TestStopLossFromEntered(t *testing.T) {
	m := NewMachine(testCfg())
	enter(t, m, 10.0)

	tr, intent := m.Evaluate(grass, 9.5, now())
	require.Equal(t, TransitionStopLoss, tr.Kind)
	require.NotNil(t, intent)
	assert.Equal(t, domain.OrderSideSell, intent.Side)

	require.NoError(t, m.Apply(tr))
	assert.Equal(t, domain.PositionFlat, m.State(grass))
	_, ok := m.Held(grass)
	assert.False(t, ok)
	// Exit resets thresholds to neutral.
	assert.False(t, m.Thresholds(grass).Armed())
}

func TestStopLossPrecedesTakeProfit(t *testing.T) {
	// Degenerate config where both conditions hold at once: stop-loss at
	// +1% or below, take-profit at +1% or above. The stop-loss branch must
	// win because it is always checked first.
	cfg := testCfg()
	cfg.StopLossPct = 0.01 // not meaningful for trading, but exercises the tie
	cfg.TakeProfitPct = 0.01
	m := NewMachine(cfg)
	require.True(t, m.ArmThresholds(grass, 10.0, 0.10))
	tr, _ := m.Evaluate(grass, 10.5, now())
	require.NoError(t, m.Apply(tr))
	require.Equal(t, domain.PositionEntered, m.State(grass))

	tr, intent := m.Evaluate(grass, 10.6, now())
	assert.Equal(t, TransitionStopLoss, tr.Kind)
	require.NotNil(t, intent)
	assert.Equal(t, domain.OrderSideSell, intent.Side)
}

func TestTrailingTakeProfitPath(t *testing.T) {
	// Property 8: buy at 10, take-profit arms at >= 10.7, peak reaches 12,
	// sell triggers once price retraces 2% from the peak (<= 11.76).
	// Restore a bare held position so arming follows the pct-based rule.
	m2 := NewMachine(testCfg())
	m2.Restore(map[string]domain.HeldPosition{
		grass.ID(): {Instrument: grass, BuyPrice: 10.0, HighestPrice: 10.0, EnteredAt: now()},
	}, nil)
	require.Equal(t, domain.PositionEntered, m2.State(grass))

	// Below take-profit: nothing happens.
	tr, intent := m2.Evaluate(grass, 10.5, now())
	assert.Equal(t, TransitionNone, tr.Kind)
	assert.Nil(t, intent)

	// 10.7 = +7%: arms the trailing logic without selling.
	tr, intent = m2.Evaluate(grass, 10.7, now())
	require.Equal(t, TransitionArm, tr.Kind)
	assert.Nil(t, intent)
	require.NoError(t, m2.Apply(tr))
	assert.Equal(t, domain.PositionArmed, m2.State(grass))

	// Price runs to 12: peak tracks up, still no sell.
	tr, intent = m2.Evaluate(grass, 12.0, now())
	require.Equal(t, TransitionTrail, tr.Kind)
	assert.Nil(t, intent)
	require.NoError(t, m2.Apply(tr))
	held, _ := m2.Held(grass)
	assert.InDelta(t, 12.0, held.HighestPrice, 1e-9)

	// 11.8 is only a 1.67% giveback: keep holding.
	tr, _ = m2.Evaluate(grass, 11.8, now())
	assert.Equal(t, TransitionTrail, tr.Kind)
	require.NoError(t, m2.Apply(tr))

	// 11.76 = 2% below the 12.0 peak: sell.
	tr, intent = m2.Evaluate(grass, 11.76, now())
	require.Equal(t, TransitionTakeProfit, tr.Kind)
	require.NotNil(t, intent)
	assert.Equal(t, domain.OrderSideSell, intent.Side)
	require.NoError(t, m2.Apply(tr))
	assert.Equal(t, domain.PositionFlat, m2.State(grass))
}

func TestTakeProfitArmsAtExactBoundary(t *testing.T) {
	// A 10.0 buy with a 7% take-profit must arm at exactly 10.7. Both naive
	// float forms miss it: (10.7-10)/10 is 0.069999... and 10*(1.07) is
	// 10.700000000000001.
	m := NewMachine(testCfg())
	m.Restore(map[string]domain.HeldPosition{
		grass.ID(): {Instrument: grass, BuyPrice: 10.0, HighestPrice: 10.0, EnteredAt: now()},
	}, nil)

	tr, _ := m.Evaluate(grass, 10.699999, now())
	assert.Equal(t, TransitionNone, tr.Kind, "just below the boundary stays entered")

	tr, intent := m.Evaluate(grass, 10.7, now())
	require.Equal(t, TransitionArm, tr.Kind)
	assert.Nil(t, intent)
}

func TestStopLossOverridesWhileArmed(t *testing.T) {
	m := NewMachine(testCfg())
	m.Restore(map[string]domain.HeldPosition{
		grass.ID(): {Instrument: grass, BuyPrice: 10.0, HighestPrice: 10.0, EnteredAt: now()},
	}, nil)
	tr, _ := m.Evaluate(grass, 10.7, now())
	require.Equal(t, TransitionArm, tr.Kind)
	require.NoError(t, m.Apply(tr))

	// Collapse straight through the stop: the stop-loss fires even though
	// the trailing condition also holds.
	tr, intent := m.Evaluate(grass, 9.0, now())
	assert.Equal(t, TransitionStopLoss, tr.Kind)
	require.NotNil(t, intent)
}

func TestMutualExclusivity(t *testing.T) {
	// One Evaluate call can never produce both a buy and a sell: there is a
	// single intent per call, and its side follows the transition kind.
	m := NewMachine(testCfg())
	require.True(t, m.ArmThresholds(grass, 1.00, 0.10))

	for _, price := range []float64{0.90, 0.97, 1.00, 1.05, 1.50} {
		tr, intent := m.Evaluate(grass, price, now())
		if intent == nil {
			continue
		}
		switch tr.Kind {
		case TransitionEnter:
			assert.Equal(t, domain.OrderSideBuy, intent.Side)
		case TransitionStopLoss, TransitionTakeProfit:
			assert.Equal(t, domain.OrderSideSell, intent.Side)
		default:
			t.Fatalf("transition %s carried an unexpected intent", tr.Kind)
		}
	}
}

func TestEnterForArb(t *testing.T) {
	m := NewMachine(testCfg())
	opp := domain.ArbOpportunity{
		Instrument: grass,
		BuyVenue:   "binance",
		SellVenue:  "kraken",
		BuyPrice:   100.0,
		NetProfit:  2.995,
	}

	tr, intent := m.EnterForArb(grass, opp, now())
	require.Equal(t, TransitionEnter, tr.Kind)
	require.NotNil(t, intent)
	assert.Equal(t, domain.OrderSideBuy, intent.Side)
	require.NoError(t, m.Apply(tr))

	// Held instruments are never re-entered.
	tr, intent = m.EnterForArb(grass, opp, now())
	assert.Equal(t, TransitionNone, tr.Kind)
	assert.Nil(t, intent)
}

func TestApplyRejectsStaleTransition(t *testing.T) {
	m := NewMachine(testCfg())
	enter(t, m, 10.0)

	stale := Transition{Kind: TransitionEnter, Instrument: grass, Price: 10.2, At: now()}
	assert.Error(t, m.Apply(stale))
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	m := NewMachine(testCfg())
	enter(t, m, 10.0)
	other := domain.Instrument{Symbol: "LUNA/USDT", Venue: "bybit"}
	require.True(t, m.ArmThresholds(other, 2.0, 0.10))

	held, thresholds := m.Snapshot()
	require.Len(t, held, 1)
	// Entry does not clear thresholds, so both instruments carry them.
	require.Len(t, thresholds, 2)

	restored := NewMachine(testCfg())
	restored.Restore(held, thresholds)

	assert.Equal(t, domain.PositionEntered, restored.State(grass))
	gotHeld, ok := restored.Held(grass)
	require.True(t, ok)
	assert.Equal(t, held[grass.ID()].BuyPrice, gotHeld.BuyPrice)
	assert.Equal(t, m.Thresholds(other), restored.Thresholds(other))

	held2, thresholds2 := restored.Snapshot()
	assert.Equal(t, held, held2)
	assert.Equal(t, thresholds, thresholds2)
}
