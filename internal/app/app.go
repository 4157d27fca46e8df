// Package app provides the top-level application lifecycle for the trading
// bot. It wires the engine's collaborators (venues, state files, the optional
// redis/postgres/s3 infrastructure, metrics) and starts the goroutines the
// configured operating mode needs.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/config"
	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/engine"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, and blocks until the context is cancelled. On return the
// caller runs Close to release resources.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// Startup alert bypasses the event filter: operators always learn the
	// bot came (back) up.
	if err := deps.Notifier.NotifyAll(ctx, "Bot started",
		fmt.Sprintf("mode %s, %d venue(s)", a.cfg.Mode, len(a.cfg.Venues))); err != nil {
		a.logger.Warn("startup alert failed", slog.String("error", err.Error()))
	}

	switch strings.ToLower(a.cfg.Mode) {
	case engine.ModeMomentum:
		return a.MomentumMode(ctx, deps)
	case engine.ModeArbitrage:
		return a.ArbitrageMode(ctx, deps)
	case engine.ModeScan:
		return a.ScanMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
