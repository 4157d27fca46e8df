package domain

import (
	"context"
	"time"
)

// QuoteSource fetches the current best bid/ask for an instrument from one
// venue. A timeout or transient venue error is reported as an error; the
// engine treats it as "no data this tick" for that venue.
type QuoteSource interface {
	Venue() string
	FetchQuote(ctx context.Context, inst Instrument) (VenueQuote, error)
}

// BalanceSource reports the available quantity of an asset.
type BalanceSource interface {
	Balance(ctx context.Context, asset string) (float64, error)
}

// OrderSink submits an order intent for execution. Submission must be
// idempotent-safe from the caller's side: the caller tracks whether an intent
// was already acknowledged before retrying it.
type OrderSink interface {
	Submit(ctx context.Context, intent OrderIntent) (OrderResult, error)
}

// PersistedState is the durable projection of the engine's mutable state.
// It is written after every position transition so a restart reconstructs
// the exact pre-crash state.
type PersistedState struct {
	Held       map[string]HeldPosition // instrument ID -> position
	History    map[string][]float64    // instrument ID -> prices, oldest first
	Thresholds map[string]Thresholds   // instrument ID -> armed thresholds
}

// StateStore loads and saves the persisted engine state. Load on a cold start
// (no prior state) returns an empty PersistedState and no error.
type StateStore interface {
	Load() (PersistedState, error)
	Save(st PersistedState) error
}

// DecisionLog records detected opportunities and acknowledged orders for
// later analysis. Implementations must tolerate being called every tick.
type DecisionLog interface {
	RecordOpportunity(ctx context.Context, opp ArbOpportunity) error
	RecordOrder(ctx context.Context, intent OrderIntent, res OrderResult) error
}

// QuotePublisher pushes the latest observed price for an instrument to a
// shared cache so other processes can read it.
type QuotePublisher interface {
	SetPrice(ctx context.Context, instrumentID string, price float64, ts time.Time) error
}

// HistoryArchiver receives price-history segments evicted from the rolling
// window, for cold storage, plus a full snapshot of every retained series
// when the engine shuts down.
type HistoryArchiver interface {
	ArchiveSegment(ctx context.Context, instrumentID string, prices []float64, at time.Time) error
	ArchiveSnapshot(ctx context.Context, snapshot map[string][]float64, at time.Time) error
}
