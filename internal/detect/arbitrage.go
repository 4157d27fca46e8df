package detect

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/domain"
)

// ArbConfig parameterises Arbitrage. TradeSize is the quote-currency notional
// spent on the buy leg; withdrawal fee terms come from each VenueQuote and
// are zero unless IncludeWithdraw is set.
type ArbConfig struct {
	TradeSize       float64
	MinProfit       float64
	IncludeWithdraw bool
}

// Arbitrage scans every ordered venue pair for one instrument and returns the
// pairs whose fee-adjusted profit meets MinProfit. Pure function of its
// inputs.
//
// For a pair (buy, sell): qty = TradeSize / buy.Ask. The pair is skipped when
// qty exceeds the displayed best-level quantity on either side; deeper book
// levels are not modelled. Then
//
//	cost    = TradeSize*(1+buyFee) [+ buy withdraw fee in quote terms]
//	revenue = sell.Bid*qty*(1-sellFee) [- sell venue quote withdraw fee]
//
// and an opportunity is emitted when revenue-cost >= MinProfit. All arithmetic
// stays in full float64 precision; rounding happens only when records are
// formatted for reporting (RoundTo).
func Arbitrage(inst domain.Instrument, quotes map[string]domain.VenueQuote, cfg ArbConfig, now time.Time) []domain.ArbOpportunity {
	var opps []domain.ArbOpportunity
	for buyVenue, buy := range quotes {
		if buy.Ask <= 0 {
			continue
		}
		qty := cfg.TradeSize / buy.Ask

		for sellVenue, sell := range quotes {
			if sellVenue == buyVenue || sell.Bid <= 0 {
				continue
			}
			if qty > buy.AskQty || qty > sell.BidQty {
				continue
			}

			cost := cfg.TradeSize * (1 + buy.FeeRate)
			revenue := sell.Bid * qty * (1 - sell.FeeRate)
			if cfg.IncludeWithdraw {
				cost += buy.WithdrawFeeBase * sell.Bid
				revenue -= sell.WithdrawFeeQuote
			}

			profit := revenue - cost
			if profit < cfg.MinProfit {
				continue
			}
			opps = append(opps, domain.ArbOpportunity{
				ID:         uuid.New().String(),
				Instrument: inst,
				BuyVenue:   buyVenue,
				SellVenue:  sellVenue,
				BuyPrice:   buy.Ask,
				SellPrice:  sell.Bid,
				Quantity:   qty,
				NetProfit:  profit,
				DetectedAt: now,
			})
		}
	}
	return opps
}

// Best returns the opportunity with the highest net profit, or false when the
// list is empty.
func Best(opps []domain.ArbOpportunity) (domain.ArbOpportunity, bool) {
	if len(opps) == 0 {
		return domain.ArbOpportunity{}, false
	}
	best := opps[0]
	for _, o := range opps[1:] {
		if o.NetProfit > best.NetProfit {
			best = o
		}
	}
	return best, true
}

// RoundTo rounds v to the given number of decimal places. Applied only at the
// reporting boundary so rounding error never compounds mid-computation.
func RoundTo(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
