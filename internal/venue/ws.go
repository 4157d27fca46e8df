package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// wsSubscribe is the subscription command for the ticker channel.
type wsSubscribe struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// wsTicker is the inbound ticker message. Exchanges send prices as strings.
type wsTicker struct {
	Type       string `json:"type"`
	ProductID  string `json:"product_id"`
	BestBid    string `json:"best_bid"`
	BestBidQty string `json:"best_bid_size"`
	BestAsk    string `json:"best_ask"`
	BestAskQty string `json:"best_ask_size"`
}

// WSFeed subscribes to a ticker websocket channel for the given symbols and
// keeps the most recent quote per instrument. It implements
// domain.QuoteSource: FetchQuote serves from the cached book, so the tick
// loop never blocks on the socket. Run reconnects with exponential backoff.
type WSFeed struct {
	name    string
	wsURL   string
	symbols []string
	feeRate float64
	logger  *slog.Logger

	mu     sync.RWMutex
	quotes map[string]domain.VenueQuote
}

// NewWSFeed creates a feed for the given venue.
func NewWSFeed(name, wsURL string, symbols []string, feeRate float64, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		name:    name,
		wsURL:   wsURL,
		symbols: symbols,
		feeRate: feeRate,
		logger:  logger.With(slog.String("component", "ws_feed"), slog.String("venue", name)),
		quotes:  make(map[string]domain.VenueQuote),
	}
}

// Venue returns the venue name.
func (f *WSFeed) Venue() string { return f.name }

// FetchQuote returns the most recent quote received for inst, or
// domain.ErrNoQuote when nothing has arrived yet.
func (f *WSFeed) FetchQuote(ctx context.Context, inst domain.Instrument) (domain.VenueQuote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[inst.Symbol]
	if !ok {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: %s: %w", f.name, inst.Symbol, domain.ErrNoQuote)
	}
	return q, nil
}

// Run connects, subscribes to the ticker channel for the configured symbols,
// and runs until ctx is cancelled. Reconnects with backoff on disconnect.
func (f *WSFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}
	delay := reconnectDelay
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("ws disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (f *WSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("venue %s: connect: %w", f.name, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	sub := wsSubscribe{Type: "subscribe", ProductIDs: f.symbols, Channels: []string{"ticker"}}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("venue %s: subscribe: %w", f.name, err)
	}
	f.logger.Info("ws subscribed", slog.Int("symbols", len(f.symbols)))

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go f.pingLoop(ctx, conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("venue %s: read: %w", f.name, err)
		}
		f.handleMessage(raw)
	}
}

func (f *WSFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *WSFeed) handleMessage(raw []byte) {
	var msg wsTicker
	if err := json.Unmarshal(raw, &msg); err != nil {
		return // drop unparseable messages
	}
	if msg.Type != "ticker" || msg.ProductID == "" {
		return
	}

	bid, err1 := strconv.ParseFloat(msg.BestBid, 64)
	ask, err2 := strconv.ParseFloat(msg.BestAsk, 64)
	if err1 != nil || err2 != nil || bid <= 0 || ask <= 0 {
		return
	}
	bidQty, _ := strconv.ParseFloat(msg.BestBidQty, 64)
	askQty, _ := strconv.ParseFloat(msg.BestAskQty, 64)

	f.mu.Lock()
	f.quotes[msg.ProductID] = domain.VenueQuote{
		Venue: f.name,
		Quote: domain.Quote{
			Bid:    bid,
			BidQty: bidQty,
			Ask:    ask,
			AskQty: askQty,
			At:     time.Now().UTC(),
		},
		FeeRate: f.feeRate,
	}
	f.mu.Unlock()
}
