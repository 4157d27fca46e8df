// Package venue contains the quote and execution adapters the engine talks
// to through the domain ports. Live order routing is out of scope; the paper
// venue stands in as the order sink even when quotes come from a real feed.
package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/domain"
)

// Paper is an in-memory venue that fills every order at the last set quote.
// It implements domain.QuoteSource, domain.OrderSink and domain.BalanceSource
// and is used for dry runs and tests.
type Paper struct {
	name    string
	feeRate float64

	mu       sync.Mutex
	quotes   map[string]domain.Quote
	balances map[string]float64
	orders   []domain.OrderIntent
}

// NewPaper creates a paper venue with the given name and taker fee rate.
func NewPaper(name string, feeRate float64) *Paper {
	return &Paper{
		name:     name,
		feeRate:  feeRate,
		quotes:   make(map[string]domain.Quote),
		balances: make(map[string]float64),
	}
}

// Venue returns the venue name.
func (p *Paper) Venue() string { return p.name }

// SetQuote installs the quote returned by subsequent FetchQuote calls for
// inst. Tests and dry runs drive the price series through this.
func (p *Paper) SetQuote(inst domain.Instrument, q domain.Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if q.At.IsZero() {
		q.At = time.Now().UTC()
	}
	p.quotes[inst.ID()] = q
}

// SetPrice is a convenience that installs a zero-spread quote at price with
// effectively unlimited depth.
func (p *Paper) SetPrice(inst domain.Instrument, price float64) {
	p.SetQuote(inst, domain.Quote{
		Bid:    price,
		BidQty: 1e12,
		Ask:    price,
		AskQty: 1e12,
		At:     time.Now().UTC(),
	})
}

// SetBalance sets the available balance for an asset.
func (p *Paper) SetBalance(asset string, amount float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[asset] = amount
}

// FetchQuote returns the last quote set for inst, or domain.ErrNoQuote if
// none was set.
func (p *Paper) FetchQuote(ctx context.Context, inst domain.Instrument) (domain.VenueQuote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.quotes[inst.ID()]
	if !ok {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: %s: %w", p.name, inst.ID(), domain.ErrNoQuote)
	}
	return domain.VenueQuote{Venue: p.name, Quote: q, FeeRate: p.feeRate}, nil
}

// Balance returns the available balance for asset.
func (p *Paper) Balance(ctx context.Context, asset string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[asset], nil
}

// Submit fills the intent at the current quote (ask for buys, bid for sells)
// and records it. A missing quote rejects the order.
func (p *Paper) Submit(ctx context.Context, intent domain.OrderIntent) (domain.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	q, ok := p.quotes[intent.Instrument.ID()]
	if !ok {
		return domain.OrderResult{}, fmt.Errorf("venue %s: submit %s: %w", p.name, intent.Instrument.ID(), domain.ErrNoQuote)
	}

	price := q.Ask
	if intent.Side == domain.OrderSideSell {
		price = q.Bid
	}
	if price <= 0 {
		return domain.OrderResult{}, fmt.Errorf("venue %s: submit %s: %w", p.name, intent.Instrument.ID(), domain.ErrOrderRejected)
	}

	p.orders = append(p.orders, intent)
	return domain.OrderResult{Filled: intent.Quantity, AvgPrice: price}, nil
}

// Orders returns a copy of every intent submitted so far, in order.
func (p *Paper) Orders() []domain.OrderIntent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.OrderIntent, len(p.orders))
	copy(out, p.orders)
	return out
}
