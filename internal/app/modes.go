package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/detect"
	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/domain"
	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/engine"
	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/history"
	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/position"
)

// MomentumMode runs spike detection and the position machine over the single
// configured instrument.
func (a *App) MomentumMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting momentum mode", slog.String("symbol", a.cfg.Engine.Symbol))
	eng, err := a.buildEngine(deps, []domain.Instrument{{Symbol: a.cfg.Engine.Symbol}})
	if err != nil {
		return err
	}
	return a.runGroup(ctx, deps, eng)
}

// ArbitrageMode runs the cross-venue scanner over the single configured
// instrument quoted on every venue.
func (a *App) ArbitrageMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting arbitrage mode",
		slog.String("symbol", a.cfg.Engine.Symbol),
		slog.Int("venues", len(deps.Sources)))
	eng, err := a.buildEngine(deps, []domain.Instrument{{Symbol: a.cfg.Engine.Symbol}})
	if err != nil {
		return err
	}
	return a.runGroup(ctx, deps, eng)
}

// ScanMode runs ratio (jump-from-minimum) detection over every configured
// symbol.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode", slog.Int("symbols", len(a.cfg.Engine.Symbols)))
	insts := make([]domain.Instrument, len(a.cfg.Engine.Symbols))
	for i, sym := range a.cfg.Engine.Symbols {
		insts[i] = domain.Instrument{Symbol: sym}
	}
	eng, err := a.buildEngine(deps, insts)
	if err != nil {
		return err
	}
	return a.runGroup(ctx, deps, eng)
}

// buildEngine assembles the engine for the given instrument set from the
// wired dependencies and the configuration.
func (a *App) buildEngine(deps *Dependencies, insts []domain.Instrument) (*engine.Engine, error) {
	machine := position.NewMachine(position.Config{
		StopLossPct:         a.cfg.Position.StopLossPct,
		TakeProfitPct:       a.cfg.Position.TakeProfitPct,
		TrailingGivebackPct: a.cfg.Position.TrailingGivebackPct,
		EntryDiscountPct:    a.cfg.Position.EntryDiscountPct,
		BandMin:             a.cfg.Spike.MinSpike,
		BandSplit:           a.cfg.Position.BandSplit,
		BandMax:             a.cfg.Spike.MaxSpike,
		CalmProfitPct:       a.cfg.Position.CalmProfitPct,
		CalmGiveback:        a.cfg.Position.CalmGiveback,
		VolatileProfitPct:   a.cfg.Position.VolatileProfitPct,
		VolatileGiveback:    a.cfg.Position.VolatileGiveback,
	})

	eng, err := engine.New(engine.Config{
		Mode:         a.cfg.Mode,
		Instruments:  insts,
		TickInterval: a.cfg.Engine.TickInterval.Duration,
		FetchTimeout: a.cfg.Engine.FetchTimeout.Duration,
		MinSamples:   a.cfg.History.MinSamples,
		ResetKeep:    a.cfg.History.ResetKeep,
		TradeSize:    a.cfg.Arbitrage.TradeSize,
		Spike: detect.SpikeConfig{
			MinSpike:          a.cfg.Spike.MinSpike,
			MaxSpike:          a.cfg.Spike.MaxSpike,
			RecoveryThreshold: a.cfg.Spike.RecoveryThreshold,
			MaxLookBack:       a.cfg.Spike.MaxLookBack,
			Stride:            a.cfg.Spike.Stride,
			JumpThreshold:     a.cfg.Spike.JumpThreshold,
		},
		Arb: detect.ArbConfig{
			TradeSize:       a.cfg.Arbitrage.TradeSize,
			MinProfit:       a.cfg.Arbitrage.MinProfit,
			IncludeWithdraw: a.cfg.Arbitrage.IncludeWithdraw,
		},
		ReportDecimals: a.cfg.Arbitrage.ReportDecimals,
	}, engine.Deps{
		History:   history.New(a.cfg.History.Retention),
		Machine:   machine,
		Sources:   deps.Sources,
		Sink:      deps.Sink,
		State:     deps.State,
		Decisions: deps.Decisions,
		Publisher: deps.Publisher,
		Archiver:  deps.Archiver,
		Notifier:  deps.Notifier,
		Metrics:   deps.Metrics,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: build engine: %w", err)
	}
	return eng, nil
}

// runGroup starts the engine, the websocket feeds, and the metrics endpoint,
// and blocks until the context is cancelled or one of them fails.
func (a *App) runGroup(ctx context.Context, deps *Dependencies, eng *engine.Engine) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, feed := range deps.Feeds {
		g.Go(func() error { return feed.Run(ctx) })
	}

	if deps.Registry != nil {
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", a.cfg.Metrics.Port),
			Handler: promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}),
		}
		g.Go(func() error {
			a.logger.Info("metrics endpoint up", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
			return ctx.Err()
		})
	}

	g.Go(func() error { return eng.Run(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
