package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/domain"
)

// DecisionLog implements domain.DecisionLog using PostgreSQL. Detected
// opportunities and acknowledged orders are appended for later analysis;
// nothing here feeds back into the decision path.
type DecisionLog struct {
	pool *pgxpool.Pool
}

// NewDecisionLog creates a DecisionLog backed by the given connection pool.
func NewDecisionLog(pool *pgxpool.Pool) *DecisionLog {
	return &DecisionLog{pool: pool}
}

// RecordOpportunity stores a detected arbitrage opportunity.
func (s *DecisionLog) RecordOpportunity(ctx context.Context, opp domain.ArbOpportunity) error {
	const query = `
		INSERT INTO arb_opportunities (
			id, symbol, buy_venue, sell_venue,
			buy_price, sell_price, quantity, net_profit, detected_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9
		)`

	_, err := s.pool.Exec(ctx, query,
		opp.ID, opp.Instrument.Symbol, opp.BuyVenue, opp.SellVenue,
		opp.BuyPrice, opp.SellPrice, opp.Quantity, opp.NetProfit, opp.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// RecordOrder stores an acknowledged order intent with its fill.
func (s *DecisionLog) RecordOrder(ctx context.Context, intent domain.OrderIntent, res domain.OrderResult) error {
	const query = `
		INSERT INTO order_log (
			id, symbol, venue, side, quantity,
			reason, filled, avg_price, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)
		ON CONFLICT (id) DO NOTHING`

	createdAt := intent.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		intent.ID, intent.Instrument.Symbol, intent.Instrument.Venue,
		string(intent.Side), intent.Quantity,
		intent.Reason, res.Filled, res.AvgPrice, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert order %s: %w", intent.ID, err)
	}
	return nil
}

// RecentOrders returns the most recent order rows, newest first.
func (s *DecisionLog) RecentOrders(ctx context.Context, limit int) ([]domain.OrderIntent, error) {
	const query = `
		SELECT id, symbol, venue, side, quantity, reason, created_at
		FROM order_log
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query recent orders: %w", err)
	}
	defer rows.Close()

	var out []domain.OrderIntent
	for rows.Next() {
		var intent domain.OrderIntent
		var side string
		if err := rows.Scan(
			&intent.ID, &intent.Instrument.Symbol, &intent.Instrument.Venue,
			&side, &intent.Quantity, &intent.Reason, &intent.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan order row: %w", err)
		}
		intent.Side = domain.OrderSide(side)
		out = append(out, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate order rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.DecisionLog = (*DecisionLog)(nil)
