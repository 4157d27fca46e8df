// Package domain defines the typed records and port interfaces shared across
// the trading bot: instruments, price observations, venue quotes, positions,
// detector events, and the external capabilities (quote source, order sink,
// state store) the decision engine consumes.
package domain

import "time"

// Instrument identifies a tradable pair on a specific venue. Immutable once
// created; use ID() as a map key.
type Instrument struct {
	Symbol string // e.g. "LUNA/USDT" or a token address
	Venue  string // exchange id or pool id
}

// ID returns a stable string key for the instrument.
func (i Instrument) ID() string {
	if i.Venue == "" {
		return i.Symbol
	}
	return i.Venue + ":" + i.Symbol
}

// PriceObservation is a single observed price for an instrument. Observations
// are appended to the rolling history and never mutated.
type PriceObservation struct {
	Instrument Instrument
	Price      float64
	At         time.Time
}

// Quote is the best bid/ask snapshot at the top of a venue's book.
type Quote struct {
	Bid    float64
	BidQty float64
	Ask    float64
	AskQty float64
	At     time.Time
}

// VenueQuote is a Quote tagged with its venue and the fee terms needed to
// evaluate a cross-venue trade. Withdrawal fees default to zero; deployments
// that do not model them simply leave them unset.
type VenueQuote struct {
	Venue string
	Quote
	FeeRate          float64 // flat taker fee, e.g. 0.001
	WithdrawFeeBase  float64 // withdrawal fee in base units (the traded coin)
	WithdrawFeeQuote float64 // withdrawal fee in quote units (e.g. USDT)
}

// Mid returns the bid/ask midpoint, or 0 when either side is missing.
func (q Quote) Mid() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return (q.Bid + q.Ask) / 2
}
