// Package engine runs the decision loop: fetch quotes, extend history, run
// the mode's detector, evaluate the position machine, submit orders, and
// persist state after every applied transition.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/detect"
	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/domain"
	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/history"
	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/notify"
	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/position"
)

// Operating modes.
const (
	ModeMomentum  = "momentum"
	ModeArbitrage = "arbitrage"
	ModeScan      = "scan"
)

// Config holds the engine's loop parameters and detector settings.
type Config struct {
	Mode         string
	Instruments  []domain.Instrument
	TickInterval time.Duration
	FetchTimeout time.Duration
	MinSamples   int // detection is skipped below this history length
	ResetKeep    int // observations kept after an exit trims history
	TradeSize    float64
	Spike        detect.SpikeConfig
	Arb          detect.ArbConfig
	// ReportDecimals rounds prices and profits in logs and records only;
	// decision arithmetic stays in full precision.
	ReportDecimals int
}

// Deps are the engine's collaborators. History, Machine, at least one source,
// Sink and State are required; the rest are optional and skipped when nil.
type Deps struct {
	History   *history.Store
	Machine   *position.Machine
	Sources   []domain.QuoteSource
	Sink      domain.OrderSink
	State     domain.StateStore
	Decisions domain.DecisionLog
	Publisher domain.QuotePublisher
	Archiver  domain.HistoryArchiver
	Notifier  *notify.Notifier
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Engine owns all mutable decision state. Nothing here is global; a test can
// run several engines side by side.
type Engine struct {
	cfg       Config
	history   *history.Store
	machine   *position.Machine
	sources   []domain.QuoteSource
	sink      domain.OrderSink
	state     domain.StateStore
	decisions domain.DecisionLog
	publisher domain.QuotePublisher
	archiver  domain.HistoryArchiver
	notifier  *notify.Notifier
	metrics   *Metrics
	logger    *slog.Logger

	// dirty is set when a transition was applied but not yet durably saved.
	// While set, the engine re-persists before processing any new tick.
	dirty bool
}

// New creates an Engine and restores persisted state into the history store
// and position machine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if len(deps.Sources) == 0 {
		return nil, fmt.Errorf("engine: at least one quote source is required")
	}
	if deps.History == nil || deps.Machine == nil || deps.Sink == nil || deps.State == nil {
		return nil, fmt.Errorf("engine: history, machine, sink and state are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	e := &Engine{
		cfg:       cfg,
		history:   deps.History,
		machine:   deps.Machine,
		sources:   deps.Sources,
		sink:      deps.Sink,
		state:     deps.State,
		decisions: deps.Decisions,
		publisher: deps.Publisher,
		archiver:  deps.Archiver,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With(slog.String("component", "engine")),
	}

	if err := e.restore(); err != nil {
		return nil, err
	}
	return e, nil
}

// restore loads the persisted projection into the machine and history store.
func (e *Engine) restore() error {
	st, err := e.state.Load()
	if err != nil {
		return fmt.Errorf("engine: load state: %w", err)
	}

	e.history.Restore(st.History, instrumentFromID)
	e.machine.Restore(st.Held, st.Thresholds)

	if len(st.Held) > 0 || len(st.History) > 0 {
		e.logger.Info("state restored",
			slog.Int("held", len(st.Held)),
			slog.Int("series", len(st.History)),
			slog.Int("thresholds", len(st.Thresholds)))
	}
	return nil
}

// instrumentFromID reverses domain.Instrument.ID.
func instrumentFromID(id string) domain.Instrument {
	if venue, symbol, ok := strings.Cut(id, ":"); ok {
		return domain.Instrument{Symbol: symbol, Venue: venue}
	}
	return domain.Instrument{Symbol: id}
}

// Run executes ticks at the configured interval until ctx is cancelled.
// Ticks are strictly sequential: a slow tick delays the next one rather than
// overlapping it.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started",
		slog.String("mode", e.cfg.Mode),
		slog.Int("instruments", len(e.cfg.Instruments)),
		slog.Duration("tick_interval", e.cfg.TickInterval))

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.archiveSnapshot()
			e.logger.Info("engine stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					e.archiveSnapshot()
					return ctx.Err()
				}
				e.logger.Error("tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Tick runs one full decision cycle. A returned error means the engine could
// not durably record an applied transition; the next tick retries persistence
// before any new decisions are made.
func (e *Engine) Tick(ctx context.Context) error {
	if e.dirty {
		if err := e.persist(); err != nil {
			return err
		}
		e.dirty = false
	}

	quotes := e.fetchQuotes(ctx)
	now := time.Now().UTC()

	for _, inst := range e.cfg.Instruments {
		vq, ok := e.primaryQuote(quotes, inst)
		if !ok && e.cfg.Mode == ModeArbitrage {
			// The cross-venue scan only needs some venue's price for the
			// history series; a silent primary must not kill the pairs that
			// did answer.
			vq, ok = e.anyQuote(quotes, inst)
		}
		if !ok {
			// No data this tick for this instrument; skip, do not fail.
			e.logger.Debug("no quote this tick", slog.String("instrument", inst.ID()))
			continue
		}
		price := vq.Quote.Mid()

		evicted := e.history.Append(inst, price, now)
		e.archiveEvicted(ctx, inst, evicted, now)
		e.publishPrice(ctx, inst, price, now)
		if e.metrics != nil {
			e.metrics.lastPrice.WithLabelValues(inst.Symbol).Set(price)
		}

		switch e.cfg.Mode {
		case ModeMomentum:
			e.detectMomentum(inst, price)
		case ModeScan:
			e.detectScan(inst, price)
		case ModeArbitrage:
			if err := e.scanArbitrage(ctx, inst, quotesForSymbol(quotes, inst.Symbol), now); err != nil {
				return err
			}
		}

		tr, intent := e.machine.Evaluate(inst, price, now)
		if tr.Kind != position.TransitionNone {
			if err := e.commit(ctx, tr, intent); err != nil {
				return err
			}
		}
	}

	if e.metrics != nil {
		e.metrics.ticks.Inc()
		e.metrics.openPositions.Set(float64(e.machine.OpenPositions()))
	}
	return nil
}

// fetchResult is one venue's answer for one instrument. Each fan-out worker
// writes only its own slot.
type fetchResult struct {
	source domain.QuoteSource
	inst   domain.Instrument
	vq     domain.VenueQuote
	err    error
}

// fetchQuotes fans out one bounded fetch per (source, instrument) pair and
// collects the answers. A failed fetch leaves its venue absent from the
// result; the tick treats that as "no data this tick".
func (e *Engine) fetchQuotes(ctx context.Context) map[string]map[string]domain.VenueQuote {
	slots := make([]fetchResult, 0, len(e.sources)*len(e.cfg.Instruments))
	for _, src := range e.sources {
		for _, inst := range e.cfg.Instruments {
			slots = append(slots, fetchResult{source: src, inst: inst})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range slots {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, e.cfg.FetchTimeout)
			defer cancel()
			slots[i].vq, slots[i].err = slots[i].source.FetchQuote(fctx, slots[i].inst)
			return nil
		})
	}
	_ = g.Wait()

	quotes := make(map[string]map[string]domain.VenueQuote, len(e.sources))
	for _, slot := range slots {
		if slot.err != nil {
			if !errors.Is(slot.err, domain.ErrNoQuote) {
				e.logger.Warn("quote fetch failed",
					slog.String("venue", slot.source.Venue()),
					slog.String("instrument", slot.inst.ID()),
					slog.String("error", slot.err.Error()))
			}
			continue
		}
		byVenue, ok := quotes[slot.source.Venue()]
		if !ok {
			byVenue = make(map[string]domain.VenueQuote)
			quotes[slot.source.Venue()] = byVenue
		}
		byVenue[slot.inst.Symbol] = slot.vq
	}
	return quotes
}

// primaryQuote returns the first configured source's quote for inst.
func (e *Engine) primaryQuote(quotes map[string]map[string]domain.VenueQuote, inst domain.Instrument) (domain.VenueQuote, bool) {
	byVenue, ok := quotes[e.sources[0].Venue()]
	if !ok {
		return domain.VenueQuote{}, false
	}
	vq, ok := byVenue[inst.Symbol]
	return vq, ok
}

// anyQuote returns the first responding source's quote for inst, walking
// sources in configured order so the fallback is deterministic.
func (e *Engine) anyQuote(quotes map[string]map[string]domain.VenueQuote, inst domain.Instrument) (domain.VenueQuote, bool) {
	for _, src := range e.sources {
		if byVenue, ok := quotes[src.Venue()]; ok {
			if vq, ok := byVenue[inst.Symbol]; ok {
				return vq, true
			}
		}
	}
	return domain.VenueQuote{}, false
}

// quotesForSymbol flattens the per-venue quotes for one symbol.
func quotesForSymbol(quotes map[string]map[string]domain.VenueQuote, symbol string) map[string]domain.VenueQuote {
	out := make(map[string]domain.VenueQuote, len(quotes))
	for venue, byVenue := range quotes {
		if vq, ok := byVenue[symbol]; ok {
			out[venue] = vq
		}
	}
	return out
}

// detectMomentum runs the spike detector over the instrument's history and
// arms thresholds when the newest observation completes a recovery.
func (e *Engine) detectMomentum(inst domain.Instrument, price float64) {
	prices := e.history.Prices(inst)
	if len(prices) < e.cfg.MinSamples {
		return
	}

	events := detect.Spikes(prices, e.cfg.Spike)
	last := len(prices) - 1
	for _, ev := range events {
		if ev.Index != last {
			continue
		}
		if e.metrics != nil {
			e.metrics.spikeEvents.WithLabelValues(string(ev.Direction)).Inc()
		}
		if ev.Direction != domain.SpikeRecovery {
			continue
		}
		down, ok := detect.LastDownBefore(events, ev.Index)
		if !ok {
			continue
		}
		if e.machine.ArmThresholds(inst, price, math.Abs(down.Magnitude)) {
			e.logger.Info("thresholds armed",
				slog.String("instrument", inst.ID()),
				slog.Float64("price", price),
				slog.Float64("down_magnitude", math.Abs(down.Magnitude)),
				slog.Int("look_back", ev.LookBack))
		}
	}
}

// detectScan runs ratio detection: a rise over the tracked minimum beyond the
// jump threshold arms entry thresholds in the calm band.
func (e *Engine) detectScan(inst domain.Instrument, price float64) {
	prices := e.history.Prices(inst)
	if len(prices) < e.cfg.MinSamples {
		return
	}

	jump := detect.JumpFromMin(prices, e.cfg.Spike.JumpThreshold)
	if jump == 0 {
		return
	}
	if e.machine.ArmThresholds(inst, price, e.cfg.Spike.MinSpike) {
		e.logger.Info("jump detected, thresholds armed",
			slog.String("instrument", inst.ID()),
			slog.Float64("price", price),
			slog.Float64("jump", jump))
	}
}

// scanArbitrage looks for a profitable cross-venue pair and enters on the
// best one's buy leg when the instrument is flat.
func (e *Engine) scanArbitrage(ctx context.Context, inst domain.Instrument, vqs map[string]domain.VenueQuote, now time.Time) error {
	if len(vqs) < 2 {
		return nil
	}

	opps := detect.Arbitrage(inst, vqs, e.cfg.Arb, now)
	for _, opp := range opps {
		if e.metrics != nil {
			e.metrics.opportunities.Inc()
		}
		e.logger.Info("arbitrage opportunity",
			slog.String("instrument", inst.ID()),
			slog.String("buy_venue", opp.BuyVenue),
			slog.String("sell_venue", opp.SellVenue),
			slog.Float64("buy_price", detect.RoundTo(opp.BuyPrice, e.cfg.ReportDecimals)),
			slog.Float64("sell_price", detect.RoundTo(opp.SellPrice, e.cfg.ReportDecimals)),
			slog.Float64("net_profit", detect.RoundTo(opp.NetProfit, e.cfg.ReportDecimals)))
		if e.decisions != nil {
			if err := e.decisions.RecordOpportunity(ctx, opp); err != nil {
				e.logger.Warn("record opportunity failed", slog.String("error", err.Error()))
			}
		}
	}

	best, ok := detect.Best(opps)
	if !ok {
		return nil
	}
	id := inst.ID()
	e.alert(func(actx context.Context) error {
		return e.notifier.Opportunity(actx, id, best.BuyVenue, best.SellVenue, best.NetProfit)
	})
	tr, intent := e.machine.EnterForArb(inst, best, now)
	if tr.Kind == position.TransitionNone {
		return nil
	}
	if intent != nil {
		intent.Quantity = best.Quantity
	}
	return e.commit(ctx, tr, intent)
}

// commit submits the transition's order (if any), applies the transition
// after acknowledgment, and persists. A submission failure is not an error:
// state stays untouched and the same condition re-fires next tick. A
// persistence failure is: the engine must not advance past an unpersisted
// transition.
func (e *Engine) commit(ctx context.Context, tr position.Transition, intent *domain.OrderIntent) error {
	if intent != nil {
		e.sizeIntent(intent, tr)
		res, err := e.sink.Submit(ctx, *intent)
		if err != nil {
			e.logger.Error("order submission failed, retrying next tick",
				slog.String("instrument", tr.Instrument.ID()),
				slog.String("side", string(intent.Side)),
				slog.String("error", err.Error()))
			return nil
		}
		e.logger.Info("order acknowledged",
			slog.String("instrument", tr.Instrument.ID()),
			slog.String("side", string(intent.Side)),
			slog.Float64("quantity", intent.Quantity),
			slog.Float64("avg_price", res.AvgPrice),
			slog.String("reason", intent.Reason))
		if e.metrics != nil {
			e.metrics.orders.WithLabelValues(string(intent.Side)).Inc()
		}
		if e.decisions != nil {
			if err := e.decisions.RecordOrder(ctx, *intent, res); err != nil {
				e.logger.Warn("record order failed", slog.String("error", err.Error()))
			}
		}
		id, side, qty, reason := tr.Instrument.ID(), intent.Side, intent.Quantity, intent.Reason
		price := res.AvgPrice
		e.alert(func(actx context.Context) error {
			if side == domain.OrderSideBuy {
				return e.notifier.PositionOpened(actx, id, price, qty)
			}
			return e.notifier.PositionClosed(actx, id, reason, price, qty)
		})
	}

	if err := e.machine.Apply(tr); err != nil {
		return fmt.Errorf("engine: apply %s: %w", tr.Kind, err)
	}
	e.logger.Info("transition applied",
		slog.String("instrument", tr.Instrument.ID()),
		slog.String("kind", tr.Kind.String()),
		slog.Float64("price", tr.Price))

	if tr.Kind == position.TransitionStopLoss || tr.Kind == position.TransitionTakeProfit {
		if e.metrics != nil {
			e.metrics.exitReasons.WithLabelValues(tr.Kind.String()).Inc()
		}
		dropped := e.history.TrimTo(tr.Instrument, e.cfg.ResetKeep)
		e.archiveEvicted(ctx, tr.Instrument, dropped, tr.At)
	}

	if err := e.persist(); err != nil {
		e.dirty = true
		return err
	}
	return nil
}

// sizeIntent fills in the order quantity: buys convert the configured
// notional at the current price, sells unwind the bought quantity.
func (e *Engine) sizeIntent(intent *domain.OrderIntent, tr position.Transition) {
	if intent.Quantity > 0 {
		return
	}
	switch intent.Side {
	case domain.OrderSideBuy:
		if tr.Price > 0 {
			intent.Quantity = e.cfg.TradeSize / tr.Price
		}
	case domain.OrderSideSell:
		if held, ok := e.machine.Held(tr.Instrument); ok && held.BuyPrice > 0 {
			intent.Quantity = e.cfg.TradeSize / held.BuyPrice
		}
	}
}

// alert fires an operator notification without blocking the tick. The alert
// gets its own deadline detached from the tick context so an exit alert still
// goes out during shutdown. Delivery failures are logged by the notifier.
func (e *Engine) alert(fn func(context.Context) error) {
	if e.notifier == nil {
		return
	}
	go func() {
		actx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = fn(actx)
	}()
}

// persist writes the machine and history projection through the state store.
func (e *Engine) persist() error {
	held, thresholds := e.machine.Snapshot()
	st := domain.PersistedState{
		Held:       held,
		History:    e.history.Snapshot(),
		Thresholds: thresholds,
	}
	if err := e.state.Save(st); err != nil {
		return fmt.Errorf("engine: persist state: %w", err)
	}
	return nil
}

// archiveSnapshot uploads the full retained history on shutdown so the next
// cold start of long-running analysis has the series the restart would
// otherwise only rebuild slowly. Detached from the run context, which is
// already cancelled when this runs.
func (e *Engine) archiveSnapshot() {
	if e.archiver == nil {
		return
	}
	snapshot := e.history.Snapshot()
	if len(snapshot) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.archiver.ArchiveSnapshot(ctx, snapshot, time.Now().UTC()); err != nil {
		e.logger.Warn("archive snapshot failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) archiveEvicted(ctx context.Context, inst domain.Instrument, evicted []domain.PriceObservation, at time.Time) {
	if e.archiver == nil || len(evicted) == 0 {
		return
	}
	prices := make([]float64, len(evicted))
	for i, obs := range evicted {
		prices[i] = obs.Price
	}
	if err := e.archiver.ArchiveSegment(ctx, inst.ID(), prices, at); err != nil {
		e.logger.Warn("archive segment failed",
			slog.String("instrument", inst.ID()),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) publishPrice(ctx context.Context, inst domain.Instrument, price float64, at time.Time) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.SetPrice(ctx, inst.ID(), price, at); err != nil {
		e.logger.Warn("publish price failed",
			slog.String("instrument", inst.ID()),
			slog.String("error", err.Error()))
	}
}
