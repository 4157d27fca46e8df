package domain

import "time"

// PositionState is the per-instrument state machine state.
type PositionState string

const (
	PositionFlat    PositionState = "flat"
	PositionEntered PositionState = "entered"
	PositionArmed   PositionState = "armed" // trailing take-profit active
)

// HeldPosition exists only while the instrument is entered or armed. It is
// created on a buy transition and destroyed on a sell transition.
// HighestPrice only ever moves up while the position is held.
type HeldPosition struct {
	Instrument   Instrument
	BuyPrice     float64
	HighestPrice float64
	EnteredAt    time.Time
}

// Thresholds are the momentum-mode entry/exit prices armed by a qualifying
// spike. Zero values mean "not armed".
type Thresholds struct {
	StartPrice       float64
	ProfitPrice      float64
	TrailingGiveback float64
}

// Armed reports whether both threshold prices have been set.
func (t Thresholds) Armed() bool {
	return t.StartPrice != 0 && t.ProfitPrice != 0
}
