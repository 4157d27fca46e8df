package domain

import "time"

// OrderSide is the direction of an order intent.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// SpikeDirection classifies a detected price move.
type SpikeDirection string

const (
	SpikeUp       SpikeDirection = "up"
	SpikeDown     SpikeDirection = "down"
	SpikeRecovery SpikeDirection = "recovery"
)

// SpikeEvent is a qualifying directional move found by the spike detector at
// a given history index and look-back distance. Derived per tick, never
// persisted.
type SpikeEvent struct {
	Index     int
	LookBack  int
	Direction SpikeDirection
	Magnitude float64 // signed for up/down, positive for recovery
}

// ArbOpportunity is a profitable buy-low/sell-high pair across two venues,
// net of fees and bounded by best-level liquidity. Derived per tick.
type ArbOpportunity struct {
	ID         string
	Instrument Instrument
	BuyVenue   string
	SellVenue  string
	BuyPrice   float64
	SellPrice  float64
	Quantity   float64
	NetProfit  float64
	DetectedAt time.Time
}

// OrderIntent is the engine's request to the order sink: at most one per
// instrument per tick. The ID is the caller's dedup key across retries.
type OrderIntent struct {
	ID         string
	Instrument Instrument
	Side       OrderSide
	Quantity   float64
	Reason     string
	CreatedAt  time.Time
}

// OrderResult is the sink's acknowledgment of a submitted intent.
type OrderResult struct {
	Filled   float64
	AvgPrice float64
}
