// Package calibration fetches the per-symbol risk level matrix from the
// external calibration authority. The engine treats the matrix as
// replace-only input and never infers calibration points itself.
package calibration

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

// Client fetches calibration matrices over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a calibration authority client.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("client", "calibration").Logger(),
	}
}

// matrixResponse is the wire format of the calibration endpoint: an
// ordered list of {risk_value, price} points.
type matrixResponse struct {
	Symbol string `json:"symbol"`
	Points []struct {
		RiskValue float64 `json:"risk_value"`
		Price     float64 `json:"price"`
	} `json:"points"`
}

// FetchMatrix returns the ordered calibration points for a symbol.
func (c *Client) FetchMatrix(ctx context.Context, symbol string) ([]domain.RiskLevel, error) {
	endpoint := fmt.Sprintf("%s/matrix?symbol=%s", c.baseURL, url.QueryEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build matrix request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("matrix request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calibration endpoint returned status %d", resp.StatusCode)
	}

	var payload matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode matrix response: %w", err)
	}

	levels := make([]domain.RiskLevel, 0, len(payload.Points))
	for _, p := range payload.Points {
		levels = append(levels, domain.RiskLevel{
			Symbol:    symbol,
			RiskValue: p.RiskValue,
			Price:     p.Price,
		})
	}

	c.log.Debug().Str("symbol", symbol).Int("points", len(levels)).Msg("Fetched calibration matrix")
	return levels, nil
}
