package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	s3blob "github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/blob/s3"
	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/cache/redis"
	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/config"
	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/domain"
	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/engine"
	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/notify"
	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/state"
	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/store/postgres"
	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/venue"
)

// Dependencies bundles everything the application modes need to build and run
// the engine. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	Sources []domain.QuoteSource
	Feeds   []*venue.WSFeed // ws sources that need their own Run goroutine
	Sink    *venue.Paper

	State     domain.StateStore
	Decisions domain.DecisionLog     // nil unless postgres is configured
	Publisher domain.QuotePublisher  // always set: mirrors prices into the sink
	Archiver  domain.HistoryArchiver // nil unless s3 is configured

	Notifier *notify.Notifier // nil unless an alert channel is configured

	Metrics  *engine.Metrics
	Registry *prometheus.Registry
}

// paperFill mirrors every published price into the paper sink so dry-run
// order fills always have a quote, whatever source the price came from.
type paperFill struct {
	p *venue.Paper
}

func (pf paperFill) SetPrice(ctx context.Context, instrumentID string, price float64, ts time.Time) error {
	symbol := instrumentID
	if _, s, ok := strings.Cut(instrumentID, ":"); ok {
		symbol = s
	}
	pf.p.SetPrice(domain.Instrument{Symbol: symbol}, price)
	return nil
}

// multiPublisher fans one SetPrice out to several publishers. The first error
// wins but every publisher still gets the update.
type multiPublisher []domain.QuotePublisher

func (mp multiPublisher) SetPrice(ctx context.Context, instrumentID string, price float64, ts time.Time) error {
	var first error
	for _, p := range mp {
		if err := p.SetPrice(ctx, instrumentID, price, ts); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Venues ---
	symbols := cfg.Engine.Symbols
	if cfg.Engine.Symbol != "" {
		symbols = append([]string{cfg.Engine.Symbol}, symbols...)
	}
	for _, vc := range cfg.Venues {
		switch vc.Kind {
		case "paper":
			p := venue.NewPaper(vc.Name, vc.FeeRate)
			deps.Sources = append(deps.Sources, p)
			if deps.Sink == nil {
				deps.Sink = p
			}
		case "http":
			deps.Sources = append(deps.Sources,
				venue.NewHTTPTicker(vc.Name, vc.URL, vc.FeeRate, vc.WithdrawFeeBase, vc.WithdrawFeeQuote))
		case "ws":
			feed := venue.NewWSFeed(vc.Name, vc.URL, symbols, vc.FeeRate, logger)
			deps.Sources = append(deps.Sources, feed)
			deps.Feeds = append(deps.Feeds, feed)
		default:
			cleanup()
			return nil, nil, fmt.Errorf("wire: unknown venue kind %q", vc.Kind)
		}
	}

	// Orders always route to a paper sink: live order submission is not
	// wired, so momentum and arbitrage runs against real feeds stay
	// observation-only.
	if deps.Sink == nil {
		deps.Sink = venue.NewPaper("paper", 0)
	}
	publishers := multiPublisher{paperFill{p: deps.Sink}}

	// --- State files ---
	fileStore, err := state.NewFileStore(
		cfg.State.Dir, cfg.State.HeldFile, cfg.State.HistoryFile, cfg.State.ThresholdsFile)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: state store: %w", err)
	}
	deps.State = fileStore

	// --- Redis (optional): quote cache + single-instance lock ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		// Short TTL: the lock manager's keepalive refreshes it while we run,
		// and a crashed instance frees the lock within 2 minutes.
		unlock, err := redis.NewLockManager(redisClient).Acquire(ctx, "engine:"+cfg.State.Dir, 2*time.Minute)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: engine lock: %w", err)
		}
		closers = append(closers, unlock)

		publishers = append(publishers, redis.NewPriceCache(redisClient))
	}
	deps.Publisher = publishers

	// --- PostgreSQL (optional): decision log ---
	if cfg.Postgres.DSN != "" || cfg.Postgres.Host != "" {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		decisions := postgres.NewDecisionLog(pgClient.Pool())
		// Surface what the previous run last did; useful after a restart.
		if recent, err := decisions.RecentOrders(ctx, 5); err != nil {
			logger.Warn("load recent orders", slog.String("error", err.Error()))
		} else {
			for _, rec := range recent {
				logger.Info("prior order",
					slog.String("instrument", rec.Instrument.ID()),
					slog.String("side", string(rec.Side)),
					slog.Float64("quantity", rec.Quantity),
					slog.Time("created_at", rec.CreatedAt))
			}
		}
		deps.Decisions = decisions
	}

	// --- S3 blob storage (optional): history archive ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client))
	}

	// --- Alerts (optional) ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	// --- Metrics (optional) ---
	if cfg.Metrics.Enabled {
		deps.Registry = prometheus.NewRegistry()
		deps.Metrics = engine.NewMetrics(deps.Registry)
	}

	return deps, cleanup, nil
}
