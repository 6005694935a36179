package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cuongbtq/ticker-monitor/internal/domain"
)

// Quote is one symbol's row in a batch response.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Volume        int64           `json:"volume"`
	Currency      string          `json:"currency"`
	AssetType     string          `json:"asset_type"`
	PERatio       *float64        `json:"pe_ratio,omitempty"`
	EPS           *float64        `json:"eps,omitempty"`
	DividendYield *float64        `json:"dividend_yield,omitempty"`
	MarketCap     *int64          `json:"market_cap,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// BatchQuote is the table-like result of one upstream batch call,
// keyed by symbol.
type BatchQuote struct {
	Quotes map[string]Quote
}

// Lookup returns the quote for a symbol, if present in the batch.
func (b *BatchQuote) Lookup(symbol string) (Quote, bool) {
	q, ok := b.Quotes[symbol]
	return q, ok
}

// Empty reports whether the batch carried no rows at all.
func (b *BatchQuote) Empty() bool {
	return b == nil || len(b.Quotes) == 0
}

// Config holds upstream quote source configuration
type Config struct {
	BaseURL         string
	RequestTimeout  time.Duration
	DefaultCurrency string
}

// Client fetches batch quotes from the upstream source over HTTP.
// Non-2xx responses surface as errors whose message carries the HTTP
// status text, so callers can recognize the 429 signature.
type Client struct {
	baseURL         string
	defaultCurrency string
	httpClient      *http.Client
	logger          *slog.Logger
}

// NewClient creates a new market-data client.
func NewClient(config *Config, logger *slog.Logger) *Client {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:         strings.TrimRight(config.BaseURL, "/"),
		defaultCurrency: config.DefaultCurrency,
		httpClient:      &http.Client{Timeout: timeout},
		logger:          logger,
	}
}

type quotesResponse struct {
	Data []Quote `json:"data"`
}

// FetchBatch requests quotes for a batch of symbols in one call.
func (c *Client) FetchBatch(ctx context.Context, symbols []string) (*BatchQuote, error) {
	endpoint := fmt.Sprintf("%s/quotes?symbols=%s",
		c.baseURL,
		url.QueryEscape(strings.Join(symbols, ",")),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quote request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewRetryableError(fmt.Errorf("quote request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		statusErr := fmt.Errorf("quote request failed: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return nil, domain.NewRetryableError(statusErr)
		}
		return nil, statusErr
	}

	var parsed quotesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode quote response: %w", err)
	}

	batch := &BatchQuote{Quotes: make(map[string]Quote, len(parsed.Data))}
	for _, q := range parsed.Data {
		if q.Currency == "" {
			q.Currency = c.defaultCurrency
		}
		if q.AssetType == "" {
			q.AssetType = "EQUITY"
		}
		batch.Quotes[q.Symbol] = q
	}

	c.logger.Debug("Batch quote fetched",
		slog.Int("requested", len(symbols)),
		slog.Int("returned", len(batch.Quotes)),
	)

	return batch, nil
}
