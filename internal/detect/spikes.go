// Package detect holds the pure detection functions: the multi-look-back
// spike detector and the cross-venue arbitrage scanner. Nothing in this
// package mutates shared state; every function is safe to run concurrently
// for independent instruments.
package detect

import (
	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/domain"
)

// SpikeConfig parameterises Spikes. Magnitudes are absolute price differences
// in quote-currency units, not ratios; the ratio variant is JumpFromMin and
// the two are never mixed on one code path.
type SpikeConfig struct {
	MinSpike          float64
	MaxSpike          float64
	RecoveryThreshold float64
	MaxLookBack       int
	Stride            int
	// JumpThreshold is the fractional rise over the window minimum used by
	// JumpFromMin callers; Spikes ignores it.
	JumpThreshold float64
}

// lookBacks returns the fixed stride set of look-back distances:
// 1, 1+stride, 1+2*stride, ... up to MaxLookBack.
func (c SpikeConfig) lookBacks() []int {
	stride := c.Stride
	if stride <= 0 {
		stride = 19
	}
	var out []int
	for d := 1; d <= c.MaxLookBack; d += stride {
		out = append(out, d)
	}
	return out
}

// Spikes scans prices (oldest first) across every look-back distance in the
// stride set and returns the ordered list of qualifying events. For each
// index i at or beyond the largest look-back and each distance d, the change
// p[i]-p[i-d] yields an up or down event when its absolute value lies within
// [MinSpike, MaxSpike]. Per distance, the most recent down event is tracked;
// a later up event whose price has risen at least RecoveryThreshold above
// that down event's price additionally yields a recovery event.
//
// Scanning several distances in one pass catches both fast micro-spikes and
// slow drifts without committing to a single window size. A history shorter
// than the largest look-back produces fewer (possibly zero) events; that is a
// normal low-information outcome, not an error.
func Spikes(prices []float64, cfg SpikeConfig) []domain.SpikeEvent {
	distances := cfg.lookBacks()
	if len(distances) == 0 {
		return nil
	}
	maxDist := distances[len(distances)-1]
	if len(prices) <= maxDist {
		return nil
	}

	lastDownPrice := make(map[int]float64, len(distances))
	lastDownSeen := make(map[int]bool, len(distances))

	var events []domain.SpikeEvent
	for i := maxDist; i < len(prices); i++ {
		for _, d := range distances {
			change := prices[i] - prices[i-d]
			abs := change
			if abs < 0 {
				abs = -abs
			}
			if abs < cfg.MinSpike || abs > cfg.MaxSpike {
				continue
			}

			dir := domain.SpikeUp
			if change < 0 {
				dir = domain.SpikeDown
			}
			events = append(events, domain.SpikeEvent{
				Index:     i,
				LookBack:  d,
				Direction: dir,
				Magnitude: change,
			})

			if dir == domain.SpikeDown {
				lastDownSeen[d] = true
				lastDownPrice[d] = prices[i]
				continue
			}
			if lastDownSeen[d] {
				recovery := prices[i] - lastDownPrice[d]
				if recovery >= cfg.RecoveryThreshold {
					events = append(events, domain.SpikeEvent{
						Index:     i,
						LookBack:  d,
						Direction: domain.SpikeRecovery,
						Magnitude: recovery,
					})
				}
			}
		}
	}
	return events
}

// LastPerLookBack reduces an event list to the most recent event per look-back
// distance, preserving look-back order. Callers use it when only the freshest
// signal per distance matters.
func LastPerLookBack(events []domain.SpikeEvent) []domain.SpikeEvent {
	last := make(map[int]domain.SpikeEvent)
	var order []int
	for _, ev := range events {
		if _, ok := last[ev.LookBack]; !ok {
			order = append(order, ev.LookBack)
		}
		last[ev.LookBack] = ev
	}
	out := make([]domain.SpikeEvent, 0, len(order))
	for _, d := range order {
		out = append(out, last[d])
	}
	return out
}

// LastDownBefore returns the most recent down event at or before index, across
// all look-back distances, and whether one exists. The position layer uses its
// magnitude to pick a volatility band when a recovery confirms.
func LastDownBefore(events []domain.SpikeEvent, index int) (domain.SpikeEvent, bool) {
	var found domain.SpikeEvent
	var ok bool
	for _, ev := range events {
		if ev.Direction != domain.SpikeDown || ev.Index > index {
			continue
		}
		if !ok || ev.Index >= found.Index {
			found = ev
			ok = true
		}
	}
	return found, ok
}

// JumpFromMin is the ratio-based detection mode used by scan deployments: it
// returns the fractional rise of the latest price over the minimum of the
// window when that rise meets threshold, and 0 otherwise.
func JumpFromMin(prices []float64, threshold float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	min := prices[0]
	for _, p := range prices {
		if p < min {
			min = p
		}
	}
	if min <= 0 {
		return 0
	}
	change := (prices[len(prices)-1] - min) / min
	if change < threshold {
		return 0
	}
	return change
}
