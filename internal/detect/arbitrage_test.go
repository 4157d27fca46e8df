package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/domain"
)

var arbInst = domain.Instrument{Symbol: "LUNA/USDT"}

func venueQuote(venue string, bid, bidQty, ask, askQty, fee float64) domain.VenueQuote {
	return domain.VenueQuote{
		Venue:   venue,
		Quote:   domain.Quote{Bid: bid, BidQty: bidQty, Ask: ask, AskQty: askQty},
		FeeRate: fee,
	}
}

func TestArbitrageWorkedExample(t *testing.T) {
	// buy_ask=100, sell_bid=100.5, fee=0.001 both sides, trade_size=1000:
	// qty=10, cost=1001, revenue=10*100.5*0.999=1003.995, profit≈2.995.
	quotes := map[string]domain.VenueQuote{
		"binance": venueQuote("binance", 99.9, 50, 100.0, 50, 0.001),
		"kraken":  venueQuote("kraken", 100.5, 50, 101.0, 50, 0.001),
	}
	cfg := ArbConfig{TradeSize: 1000, MinProfit: 0.01}

	opps := Arbitrage(arbInst, quotes, cfg, time.Now().UTC())
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, "binance", opp.BuyVenue)
	assert.Equal(t, "kraken", opp.SellVenue)
	assert.InDelta(t, 10.0, opp.Quantity, 1e-12)
	assert.InDelta(t, 2.995, opp.NetProfit, 1e-9)
}

func TestArbitrageLiquiditySkip(t *testing.T) {
	// Same prices as the worked example but the sell side only shows 5 units
	// at the best bid; qty=10 exceeds it, so the pair is skipped.
	quotes := map[string]domain.VenueQuote{
		"binance": venueQuote("binance", 99.9, 50, 100.0, 50, 0.001),
		"kraken":  venueQuote("kraken", 100.5, 5, 101.0, 50, 0.001),
	}
	cfg := ArbConfig{TradeSize: 1000, MinProfit: 0.01}

	assert.Empty(t, Arbitrage(arbInst, quotes, cfg, time.Now().UTC()))
}

func TestArbitrageFeesEatTheEdge(t *testing.T) {
	quotes := map[string]domain.VenueQuote{
		"binance": venueQuote("binance", 99.99, 50, 100.0, 50, 0.002),
		"kraken":  venueQuote("kraken", 100.1, 50, 100.2, 50, 0.002),
	}
	cfg := ArbConfig{TradeSize: 1000, MinProfit: 0.01}

	assert.Empty(t, Arbitrage(arbInst, quotes, cfg, time.Now().UTC()))
}

func TestArbitrageWithdrawFees(t *testing.T) {
	quotes := map[string]domain.VenueQuote{
		"binance": {
			Venue:           "binance",
			Quote:           domain.Quote{Bid: 99.9, BidQty: 50, Ask: 100.0, AskQty: 50},
			FeeRate:         0.001,
			WithdrawFeeBase: 0.02,
		},
		"kraken": {
			Venue:            "kraken",
			Quote:            domain.Quote{Bid: 100.5, BidQty: 50, Ask: 101.0, AskQty: 50},
			FeeRate:          0.001,
			WithdrawFeeQuote: 0.5,
		},
	}
	cfg := ArbConfig{TradeSize: 1000, MinProfit: 0.01, IncludeWithdraw: true}

	opps := Arbitrage(arbInst, quotes, cfg, time.Now().UTC())
	require.Len(t, opps, 1)
	// Worked-example profit 2.995 less 0.02*100.5 withdraw on the coin leg
	// and 0.5 on the quote leg.
	assert.InDelta(t, 2.995-2.01-0.5, opps[0].NetProfit, 1e-9)

	// The same books with withdraw fees ignored keep the full edge.
	cfg.IncludeWithdraw = false
	opps = Arbitrage(arbInst, quotes, cfg, time.Now().UTC())
	require.Len(t, opps, 1)
	assert.InDelta(t, 2.995, opps[0].NetProfit, 1e-9)
}

func TestBestPicksHighestProfit(t *testing.T) {
	opps := []domain.ArbOpportunity{
		{BuyVenue: "a", NetProfit: 1.0},
		{BuyVenue: "b", NetProfit: 3.2},
		{BuyVenue: "c", NetProfit: 2.1},
	}
	best, ok := Best(opps)
	require.True(t, ok)
	assert.Equal(t, "b", best.BuyVenue)

	_, ok = Best(nil)
	assert.False(t, ok)
}

func TestRoundTo(t *testing.T) {
	assert.Equal(t, 2.995, RoundTo(2.99500000001, 4))
	assert.Equal(t, 100.123457, RoundTo(100.123456789, 6))
}
