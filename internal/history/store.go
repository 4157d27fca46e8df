// Package history maintains the rolling per-instrument price window the
// detectors read. The window is bounded by observation count, FIFO-evicted,
// and survives restarts through the engine's state store.
package history

import (
	"sync"
	"time"

	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/domain"
)

// Store keeps a bounded, append-only sequence of price observations per
// instrument. All methods are safe for concurrent use; returned slices are
// copies.
type Store struct {
	retention int
	mu        sync.RWMutex
	series    map[string][]domain.PriceObservation
}

// New creates a Store retaining at most retention observations per
// instrument.
func New(retention int) *Store {
	if retention <= 0 {
		retention = 1
	}
	return &Store{
		retention: retention,
		series:    make(map[string][]domain.PriceObservation),
	}
}

// Append records a new observation for the instrument and evicts the oldest
// entries beyond the retention window. It returns the evicted observations,
// oldest first, so callers can hand them to an archiver.
func (s *Store) Append(inst domain.Instrument, price float64, at time.Time) []domain.PriceObservation {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := inst.ID()
	seq := append(s.series[id], domain.PriceObservation{Instrument: inst, Price: price, At: at})

	var evicted []domain.PriceObservation
	if overflow := len(seq) - s.retention; overflow > 0 {
		evicted = make([]domain.PriceObservation, overflow)
		copy(evicted, seq[:overflow])
		seq = append(seq[:0:0], seq[overflow:]...)
	}
	s.series[id] = seq
	return evicted
}

// Window returns the last count observations for the instrument, or fewer if
// the history is younger than count. A short or empty result is a normal
// low-information state, not an error.
func (s *Store) Window(inst domain.Instrument, count int) []domain.PriceObservation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq := s.series[inst.ID()]
	if count > len(seq) {
		count = len(seq)
	}
	if count <= 0 {
		return nil
	}
	out := make([]domain.PriceObservation, count)
	copy(out, seq[len(seq)-count:])
	return out
}

// Prices returns the full retained window as raw prices, oldest first.
func (s *Store) Prices(inst domain.Instrument) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq := s.series[inst.ID()]
	if len(seq) == 0 {
		return nil
	}
	out := make([]float64, len(seq))
	for i, obs := range seq {
		out[i] = obs.Price
	}
	return out
}

// Len returns the number of retained observations for the instrument.
func (s *Store) Len(inst domain.Instrument) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[inst.ID()])
}

// TrimTo drops all but the last keep observations for the instrument and
// returns the dropped prefix, oldest first. Used after a position exit so
// stale pre-exit prices cannot re-trigger an entry.
func (s *Store) TrimTo(inst domain.Instrument, keep int) []domain.PriceObservation {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := inst.ID()
	seq := s.series[id]
	if keep < 0 {
		keep = 0
	}
	if len(seq) <= keep {
		return nil
	}
	cut := len(seq) - keep
	evicted := make([]domain.PriceObservation, cut)
	copy(evicted, seq[:cut])
	s.series[id] = append(seq[:0:0], seq[cut:]...)
	return evicted
}

// Snapshot projects the store into the persisted-state shape: instrument ID
// to raw prices, oldest first.
func (s *Store) Snapshot() map[string][]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]float64, len(s.series))
	for id, seq := range s.series {
		prices := make([]float64, len(seq))
		for i, obs := range seq {
			prices[i] = obs.Price
		}
		out[id] = prices
	}
	return out
}

// Restore replaces the store contents from a persisted snapshot. Observation
// timestamps are unknown after a restart and left zero; detection only reads
// prices and order. Sequences longer than the retention window are trimmed to
// the most recent entries.
func (s *Store) Restore(snapshot map[string][]float64, resolve func(id string) domain.Instrument) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.series = make(map[string][]domain.PriceObservation, len(snapshot))
	for id, prices := range snapshot {
		if overflow := len(prices) - s.retention; overflow > 0 {
			prices = prices[overflow:]
		}
		inst := domain.Instrument{Symbol: id}
		if resolve != nil {
			inst = resolve(id)
		}
		seq := make([]domain.PriceObservation, len(prices))
		for i, p := range prices {
			seq[i] = domain.PriceObservation{Instrument: inst, Price: p}
		}
		s.series[id] = seq
	}
}
