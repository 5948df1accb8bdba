// Package pricesource implements the price source collaborator: a REST
// quote client with a single backoff retry, optionally fronted by a
// websocket ticker stream that keeps the latest quote warm.
package pricesource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskline/internal/domain"
)

// retryBackoff is the pause before the single retry of a failed quote
// request. Transient failures get exactly one more chance before
// surfacing as ErrPriceUnavailable.
const retryBackoff = 500 * time.Millisecond

// Quoter supplies the current price for a symbol.
type Quoter interface {
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// Client fetches quotes from the price source REST endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	stream     *Stream // Optional; consulted before REST when fresh
	log        zerolog.Logger
}

// NewClient creates a price source client. timeout bounds each quote
// request; stream may be nil.
func NewClient(baseURL string, timeout time.Duration, stream *Stream, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		stream:     stream,
		log:        log.With().Str("client", "pricesource").Logger(),
	}
}

// quoteResponse is the wire format of the quote endpoint.
type quoteResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// GetCurrentPrice returns the current price for a symbol. A fresh
// streamed quote short-circuits the REST round trip. REST failures are
// retried once with backoff, then surfaced as ErrPriceUnavailable.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if c.stream != nil {
		if price, ok := c.stream.LastPrice(symbol); ok {
			return price, nil
		}
	}

	price, err := c.fetchQuote(ctx, symbol)
	if err == nil {
		return price, nil
	}

	c.log.Warn().Err(err).Str("symbol", symbol).Msg("Quote request failed, retrying once")

	select {
	case <-ctx.Done():
		return 0, domain.ErrPriceUnavailable{Symbol: symbol, Cause: ctx.Err()}
	case <-time.After(retryBackoff):
	}

	price, err = c.fetchQuote(ctx, symbol)
	if err != nil {
		return 0, domain.ErrPriceUnavailable{Symbol: symbol, Cause: err}
	}
	return price, nil
}

func (c *Client) fetchQuote(ctx context.Context, symbol string) (float64, error) {
	endpoint := fmt.Sprintf("%s/quote?symbol=%s", c.baseURL, url.QueryEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build quote request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("quote request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("quote endpoint returned status %d", resp.StatusCode)
	}

	var quote quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return 0, fmt.Errorf("failed to decode quote response: %w", err)
	}
	if quote.Price <= 0 {
		return 0, fmt.Errorf("quote endpoint returned non-positive price %g", quote.Price)
	}

	return quote.Price, nil
}
