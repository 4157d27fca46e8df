// Package position implements the per-instrument position state machine:
// flat -> entered -> armed -> flat, with stop-loss and trailing take-profit.
//
// The machine exposes a two-phase API. Evaluate inspects the current state
// and price and proposes at most one Transition (and at most one order
// intent) without mutating anything; Apply commits a proposed transition.
// The engine calls Apply only after the order sink acknowledged the intent,
// so a failed submission leaves the pre-submission state — and the persisted
// projection of it — untouched. That ordering is what prevents a restart
// from duplicating an order for a transition that never executed.
package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/domain"
)

// Config holds transition thresholds. Percentages are fractions of the
// reference price: StopLossPct is negative (e.g. -0.03), TakeProfitPct and
// TrailingGivebackPct positive.
type Config struct {
	StopLossPct         float64
	TakeProfitPct       float64
	TrailingGivebackPct float64
	EntryDiscountPct    float64 // entry threshold set this far below the trigger price

	// Volatility bands for threshold arming from spike magnitude. A down
	// spike whose absolute magnitude falls in [BandMin, BandSplit] arms the
	// calm band, in (BandSplit, BandMax] the volatile band.
	BandMin           float64
	BandSplit         float64
	BandMax           float64
	CalmProfitPct     float64 // e.g. 0.02
	CalmGiveback      float64 // e.g. 0.01
	VolatileProfitPct float64 // e.g. 0.03
	VolatileGiveback  float64 // e.g. 0.026
}

// boundarySlack absorbs float64 rounding in threshold targets so a price
// sitting exactly on a percentage boundary still qualifies. Relative, so it
// is scale-free across micro-cap and large-cap prices.
const boundarySlack = 1e-9

// TransitionKind labels the single transition the machine proposes for one
// instrument in one tick.
type TransitionKind int

const (
	TransitionNone TransitionKind = iota
	TransitionEnter
	TransitionStopLoss // entered/armed -> flat, sell
	TransitionArm      // entered -> armed, no order
	TransitionTrail    // armed: track a new high, no order
	TransitionTakeProfit
)

// String returns the transition name for logs.
func (k TransitionKind) String() string {
	switch k {
	case TransitionEnter:
		return "enter"
	case TransitionStopLoss:
		return "stop_loss"
	case TransitionArm:
		return "arm"
	case TransitionTrail:
		return "trail"
	case TransitionTakeProfit:
		return "take_profit"
	default:
		return "none"
	}
}

// Transition is a proposed state change for one instrument. Price is the
// tick's current price; Highest carries the updated peak for Arm/Trail.
type Transition struct {
	Kind       TransitionKind
	Instrument domain.Instrument
	Price      float64
	Highest    float64
	At         time.Time
	Reason     string
}

// instrumentState is the machine's per-instrument record.
type instrumentState struct {
	state      domain.PositionState
	held       domain.HeldPosition
	thresholds domain.Thresholds
}

// Machine tracks position state for every instrument the engine drives.
// Reads and writes happen on the engine's tick goroutine; the mutex guards
// the snapshot accessors used by persistence and metrics.
type Machine struct {
	cfg Config

	mu    sync.RWMutex
	insts map[string]*instrumentState
}

// NewMachine creates an empty Machine (every instrument flat).
func NewMachine(cfg Config) *Machine {
	return &Machine{
		cfg:   cfg,
		insts: make(map[string]*instrumentState),
	}
}

func (m *Machine) get(id string) *instrumentState {
	st, ok := m.insts[id]
	if !ok {
		st = &instrumentState{state: domain.PositionFlat}
		m.insts[id] = st
	}
	return st
}

// State returns the current state for the instrument (flat when unknown).
func (m *Machine) State(inst domain.Instrument) domain.PositionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.insts[inst.ID()]; ok {
		return st.state
	}
	return domain.PositionFlat
}

// Held returns the held position for the instrument, if any.
func (m *Machine) Held(inst domain.Instrument) (domain.HeldPosition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.insts[inst.ID()]
	if !ok || st.state == domain.PositionFlat {
		return domain.HeldPosition{}, false
	}
	return st.held, true
}

// Thresholds returns the armed entry thresholds for the instrument.
func (m *Machine) Thresholds(inst domain.Instrument) domain.Thresholds {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.insts[inst.ID()]; ok {
		return st.thresholds
	}
	return domain.Thresholds{}
}

// OpenPositions returns the number of instruments currently entered or armed.
func (m *Machine) OpenPositions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, st := range m.insts {
		if st.state != domain.PositionFlat {
			n++
		}
	}
	return n
}

// ArmThresholds sets the momentum entry/exit thresholds from a confirmed
// recovery whose preceding down spike had the given absolute magnitude. The
// most recent qualifying spike always sets the new thresholds. Returns false
// when the instrument is not flat, thresholds are already armed, or the
// magnitude falls outside the configured bands.
func (m *Machine) ArmThresholds(inst domain.Instrument, price, downMagnitude float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.get(inst.ID())
	if st.state != domain.PositionFlat || st.thresholds.Armed() {
		return false
	}

	switch {
	case downMagnitude >= m.cfg.BandMin && downMagnitude <= m.cfg.BandSplit:
		st.thresholds = domain.Thresholds{
			StartPrice:       price * (1 - m.cfg.EntryDiscountPct),
			ProfitPrice:      price * (1 + m.cfg.CalmProfitPct),
			TrailingGiveback: m.cfg.CalmGiveback,
		}
	case downMagnitude > m.cfg.BandSplit && downMagnitude <= m.cfg.BandMax:
		st.thresholds = domain.Thresholds{
			StartPrice:       price * (1 - m.cfg.EntryDiscountPct),
			ProfitPrice:      price * (1 + m.cfg.VolatileProfitPct),
			TrailingGiveback: m.cfg.VolatileGiveback,
		}
	default:
		return false
	}
	return true
}

// Evaluate proposes the single transition for this instrument at the current
// price, and the order intent it requires (nil for order-less transitions).
// It never mutates state. Branches are mutually exclusive by construction:
// one tick can propose a buy or a sell for an instrument, never both, and the
// stop-loss check always runs before any take-profit logic.
func (m *Machine) Evaluate(inst domain.Instrument, price float64, now time.Time) (Transition, *domain.OrderIntent) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.insts[inst.ID()]
	if !ok {
		st = &instrumentState{state: domain.PositionFlat}
	}

	switch st.state {
	case domain.PositionFlat:
		if st.thresholds.Armed() && price > st.thresholds.StartPrice {
			tr := Transition{
				Kind:       TransitionEnter,
				Instrument: inst,
				Price:      price,
				Highest:    price,
				At:         now,
				Reason:     fmt.Sprintf("price %.6f above entry threshold %.6f", price, st.thresholds.StartPrice),
			}
			return tr, m.intentFor(tr, domain.OrderSideBuy)
		}
		return Transition{Kind: TransitionNone, Instrument: inst, Price: price, At: now}, nil

	case domain.PositionEntered:
		if tr, intent, hit := m.stopLoss(st, inst, price, now); hit {
			return tr, intent
		}
		if m.takeProfitHit(st, price) {
			highest := st.held.HighestPrice
			if price > highest {
				highest = price
			}
			return Transition{
				Kind:       TransitionArm,
				Instrument: inst,
				Price:      price,
				Highest:    highest,
				At:         now,
				Reason:     fmt.Sprintf("take-profit reached from buy %.6f, trailing armed", st.held.BuyPrice),
			}, nil
		}

	case domain.PositionArmed:
		if tr, intent, hit := m.stopLoss(st, inst, price, now); hit {
			return tr, intent
		}
		highest := st.held.HighestPrice
		if price > highest {
			highest = price
		}
		giveback := st.thresholds.TrailingGiveback
		if giveback == 0 {
			giveback = m.cfg.TrailingGivebackPct
		}
		if highest > 0 && (highest-price)/highest >= giveback {
			tr := Transition{
				Kind:       TransitionTakeProfit,
				Instrument: inst,
				Price:      price,
				Highest:    highest,
				At:         now,
				Reason:     fmt.Sprintf("price %.6f retraced %.2f%% from peak %.6f", price, giveback*100, highest),
			}
			return tr, m.intentFor(tr, domain.OrderSideSell)
		}
		return Transition{
			Kind:       TransitionTrail,
			Instrument: inst,
			Price:      price,
			Highest:    highest,
			At:         now,
		}, nil
	}

	return Transition{Kind: TransitionNone, Instrument: inst, Price: price, At: now}, nil
}

// EnterForArb proposes an entry because an arbitrage opportunity names this
// instrument as its buy leg. Returns a none-transition when not flat.
func (m *Machine) EnterForArb(inst domain.Instrument, opp domain.ArbOpportunity, now time.Time) (Transition, *domain.OrderIntent) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if st, ok := m.insts[inst.ID()]; ok && st.state != domain.PositionFlat {
		return Transition{Kind: TransitionNone, Instrument: inst, Price: opp.BuyPrice, At: now}, nil
	}
	tr := Transition{
		Kind:       TransitionEnter,
		Instrument: inst,
		Price:      opp.BuyPrice,
		Highest:    opp.BuyPrice,
		At:         now,
		Reason: fmt.Sprintf("arbitrage buy leg: %s -> %s, net profit %.4f",
			opp.BuyVenue, opp.SellVenue, opp.NetProfit),
	}
	return tr, m.intentFor(tr, domain.OrderSideBuy)
}

func (m *Machine) stopLoss(st *instrumentState, inst domain.Instrument, price float64, now time.Time) (Transition, *domain.OrderIntent, bool) {
	buy := st.held.BuyPrice
	if buy <= 0 || (price-buy)/buy > m.cfg.StopLossPct {
		return Transition{}, nil, false
	}
	tr := Transition{
		Kind:       TransitionStopLoss,
		Instrument: inst,
		Price:      price,
		At:         now,
		Reason:     fmt.Sprintf("price %.6f dropped %.2f%% below buy %.6f", price, -m.cfg.StopLossPct*100, buy),
	}
	return tr, m.intentFor(tr, domain.OrderSideSell), true
}

func (m *Machine) takeProfitHit(st *instrumentState, price float64) bool {
	if st.thresholds.ProfitPrice > 0 {
		return price > st.thresholds.ProfitPrice
	}
	// Compare against the target price with a relative slack, not the raw
	// ratio: (price-buy)/buy misses the exact boundary (10.7 on a 10.0 buy
	// evaluates to 0.069999...), and buy*(1+pct) itself rounds a hair above
	// it (10.700000000000001).
	buy := st.held.BuyPrice
	return buy > 0 && price >= buy*(1+m.cfg.TakeProfitPct)*(1-boundarySlack)
}

func (m *Machine) intentFor(tr Transition, side domain.OrderSide) *domain.OrderIntent {
	return &domain.OrderIntent{
		ID:         uuid.New().String(),
		Instrument: tr.Instrument,
		Side:       side,
		Reason:     tr.Reason,
		CreatedAt:  tr.At,
	}
}

// Apply commits a transition previously proposed by Evaluate or EnterForArb.
// Call it only after the order (if any) was acknowledged. Applying a
// transition that no longer matches the instrument's state is an error.
func (m *Machine) Apply(tr Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.get(tr.Instrument.ID())
	switch tr.Kind {
	case TransitionNone:
		return nil

	case TransitionEnter:
		if st.state != domain.PositionFlat {
			return fmt.Errorf("apply enter: %s is %s, not flat", tr.Instrument.ID(), st.state)
		}
		st.state = domain.PositionEntered
		st.held = domain.HeldPosition{
			Instrument:   tr.Instrument,
			BuyPrice:     tr.Price,
			HighestPrice: tr.Price,
			EnteredAt:    tr.At,
		}
		return nil

	case TransitionArm:
		if st.state != domain.PositionEntered {
			return fmt.Errorf("apply arm: %s is %s, not entered", tr.Instrument.ID(), st.state)
		}
		st.state = domain.PositionArmed
		if tr.Highest > st.held.HighestPrice {
			st.held.HighestPrice = tr.Highest
		}
		return nil

	case TransitionTrail:
		if st.state != domain.PositionArmed {
			return fmt.Errorf("apply trail: %s is %s, not armed", tr.Instrument.ID(), st.state)
		}
		if tr.Highest > st.held.HighestPrice {
			st.held.HighestPrice = tr.Highest
		}
		return nil

	case TransitionStopLoss, TransitionTakeProfit:
		if st.state == domain.PositionFlat {
			return fmt.Errorf("apply %s: %s already flat", tr.Kind, tr.Instrument.ID())
		}
		st.state = domain.PositionFlat
		st.held = domain.HeldPosition{}
		st.thresholds = domain.Thresholds{}
		return nil

	default:
		return fmt.Errorf("apply: unknown transition kind %d", tr.Kind)
	}
}

// Snapshot projects held positions and thresholds into the persisted-state
// maps.
func (m *Machine) Snapshot() (held map[string]domain.HeldPosition, thresholds map[string]domain.Thresholds) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	held = make(map[string]domain.HeldPosition)
	thresholds = make(map[string]domain.Thresholds)
	for id, st := range m.insts {
		if st.state != domain.PositionFlat {
			held[id] = st.held
		}
		if st.thresholds.Armed() {
			thresholds[id] = st.thresholds
		}
	}
	return held, thresholds
}

// Restore rebuilds machine state from the persisted projection. Restored
// positions come back as entered (or armed when the current price is unknown
// the first tick re-arms them naturally); restart must never re-buy a held
// instrument, so held entries take precedence over thresholds.
func (m *Machine) Restore(held map[string]domain.HeldPosition, thresholds map[string]domain.Thresholds) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.insts = make(map[string]*instrumentState, len(held)+len(thresholds))
	for id, th := range thresholds {
		st := m.get(id)
		st.thresholds = th
	}
	for id, pos := range held {
		st := m.get(id)
		st.state = domain.PositionEntered
		st.held = pos
	}
}
