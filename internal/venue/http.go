package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/domain"
)

// tickerResponse is the REST best-quote payload. Prices arrive as strings.
type tickerResponse struct {
	Bid     string `json:"bid"`
	BidSize string `json:"bid_size"`
	Ask     string `json:"ask"`
	AskSize string `json:"ask_size"`
}

// HTTPTicker fetches the best quote for an instrument over REST. It is the
// QuoteSource for venues without a websocket feed; every FetchQuote is a
// fresh request, bounded by the caller's context.
type HTTPTicker struct {
	name             string
	baseURL          string
	feeRate          float64
	withdrawFeeBase  float64
	withdrawFeeQuote float64
	httpClient       *http.Client
}

// NewHTTPTicker creates a REST quote source rooted at baseURL.
func NewHTTPTicker(name, baseURL string, feeRate, withdrawFeeBase, withdrawFeeQuote float64) *HTTPTicker {
	return &HTTPTicker{
		name:             name,
		baseURL:          baseURL,
		feeRate:          feeRate,
		withdrawFeeBase:  withdrawFeeBase,
		withdrawFeeQuote: withdrawFeeQuote,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Venue returns the venue name.
func (h *HTTPTicker) Venue() string { return h.name }

// FetchQuote requests the current best bid/ask for inst.
func (h *HTTPTicker) FetchQuote(ctx context.Context, inst domain.Instrument) (domain.VenueQuote, error) {
	u := fmt.Sprintf("%s/ticker?symbol=%s", h.baseURL, url.QueryEscape(inst.Symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: build request: %w", h.name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return domain.VenueQuote{}, fmt.Errorf("venue %s: %s: %w", h.name, inst.Symbol, domain.ErrVenueTimeout)
		}
		return domain.VenueQuote{}, fmt.Errorf("venue %s: fetch ticker: %w", h.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: read body: %w", h.name, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: %s: %w", h.name, inst.Symbol, domain.ErrNoQuote)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: ticker status %d: %s", h.name, resp.StatusCode, string(body))
	}

	var ticker tickerResponse
	if err := json.Unmarshal(body, &ticker); err != nil {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: parse ticker: %w", h.name, err)
	}

	bid, err1 := strconv.ParseFloat(ticker.Bid, 64)
	ask, err2 := strconv.ParseFloat(ticker.Ask, 64)
	if err1 != nil || err2 != nil || bid <= 0 || ask <= 0 {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: %s: %w", h.name, inst.Symbol, domain.ErrNoQuote)
	}
	bidQty, _ := strconv.ParseFloat(ticker.BidSize, 64)
	askQty, _ := strconv.ParseFloat(ticker.AskSize, 64)

	return domain.VenueQuote{
		Venue: h.name,
		Quote: domain.Quote{
			Bid:    bid,
			BidQty: bidQty,
			Ask:    ask,
			AskQty: askQty,
			At:     time.Now().UTC(),
		},
		FeeRate:          h.feeRate,
		WithdrawFeeBase:  h.withdrawFeeBase,
		WithdrawFeeQuote: h.withdrawFeeQuote,
	}, nil
}
