package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TickerSnapshot holds one market-data observation for a single symbol,
// extracted from a batch quote.
type TickerSnapshot struct {
	Ticker      string
	LastPrice   decimal.Decimal
	Volume      int64
	Currency    string
	AssetType   string // EQUITY, ETF, MUTUALFUND, CRYPTOCURRENCY
	LastUpdated time.Time

	// Fundamentals (optional)
	PERatio       *float64
	EPS           *float64
	DividendYield *float64
	MarketCap     *int64
}

// HasFundamentals reports whether any optional fundamental field is set.
func (s *TickerSnapshot) HasFundamentals() bool {
	return s.PERatio != nil || s.EPS != nil || s.DividendYield != nil || s.MarketCap != nil
}
