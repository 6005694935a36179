package fetch

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/cuongbtq/ticker-monitor/internal/domain"
	"github.com/cuongbtq/ticker-monitor/internal/marketdata"
)

// Source is the upstream batch quote contract.
type Source interface {
	FetchBatch(ctx context.Context, symbols []string) (*marketdata.BatchQuote, error)
}

// Tracker records fetch attempts for rate-limit statistics.
type Tracker interface {
	LogFetchAttempt(ctx context.Context, subject string, success bool, retryCount int, errorMessage string) bool
}

// Config holds batch fetch engine settings
type Config struct {
	BatchSize    int
	RequestDelay time.Duration // pause between batches
	BackoffBase  int           // base for backoff_base^attempt seconds
	MaxAttempts  int           // per-batch attempt budget
}

// Engine fetches snapshots for a symbol list in fixed-size batches with
// bounded exponential-backoff retry per batch. One exhausted batch marks
// its symbols failed and never aborts the run.
type Engine struct {
	source       Source
	tracker      Tracker
	logger       *slog.Logger
	batchSize    int
	requestDelay time.Duration
	backoffBase  int
	maxAttempts  int
	sleep        func(ctx context.Context, d time.Duration)
}

// NewEngine creates a new batch fetch engine.
func NewEngine(cfg *Config, source Source, tracker Tracker, logger *slog.Logger) *Engine {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	backoffBase := cfg.BackoffBase
	if backoffBase < 2 {
		backoffBase = 2
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	return &Engine{
		source:       source,
		tracker:      tracker,
		logger:       logger,
		batchSize:    batchSize,
		requestDelay: cfg.RequestDelay,
		backoffBase:  backoffBase,
		maxAttempts:  maxAttempts,
		sleep:        sleepContext,
	}
}

// FetchByList fetches snapshots for every symbol, batch by batch.
// Returns the successful snapshots in input order and the symbols that
// failed.
func (e *Engine) FetchByList(ctx context.Context, symbols []string) ([]domain.TickerSnapshot, []string) {
	var results []domain.TickerSnapshot
	var failed []string

	batches := partition(symbols, e.batchSize)

	e.logger.Info("Starting batch fetch",
		slog.Int("symbols", len(symbols)),
		slog.Int("batches", len(batches)),
	)

	for i, batch := range batches {
		e.logger.Info("Fetching batch",
			slog.Int("batch", i+1),
			slog.Int("total_batches", len(batches)),
			slog.Int("symbols", len(batch)),
		)

		batchData := e.fetchBatchWithRetry(ctx, batch)
		if batchData == nil {
			// Whole batch exhausted its attempts
			failed = append(failed, batch...)
			e.logger.Error("Batch failed completely",
				slog.Int("batch", i+1),
				slog.Int("symbols", len(batch)),
			)
			continue
		}

		for _, symbol := range batch {
			snapshot, ok := e.extractSnapshot(symbol, batchData)
			if !ok {
				failed = append(failed, symbol)
				e.logger.Warn("Failed to extract symbol from batch",
					slog.String("ticker", symbol),
				)
				continue
			}
			results = append(results, snapshot)
		}

		// Pace between batches, not after the last one
		if i < len(batches)-1 && e.requestDelay > 0 {
			e.sleep(ctx, e.requestDelay)
		}
	}

	e.logger.Info("Batch fetch complete",
		slog.Int("succeeded", len(results)),
		slog.Int("failed", len(failed)),
	)

	return results, failed
}

// fetchBatchWithRetry attempts one batch up to maxAttempts times,
// backing off backoffBase^attempt seconds between attempts (doubled for
// rate-limited errors). Every attempt is recorded through the tracker.
// Returns nil when all attempts are exhausted.
func (e *Engine) fetchBatchWithRetry(ctx context.Context, batch []string) *marketdata.BatchQuote {
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil
		}

		data, err := e.source.FetchBatch(ctx, batch)

		if err == nil && !data.Empty() {
			e.tracker.LogFetchAttempt(ctx, domain.SubjectBatch, true, attempt, "")
			e.logger.Debug("Batch fetched",
				slog.Int("attempt", attempt),
				slog.Int("rows", len(data.Quotes)),
			)
			return data
		}

		errMsg := "empty batch result"
		if err != nil {
			errMsg = err.Error()
		}
		e.tracker.LogFetchAttempt(ctx, domain.SubjectBatch, false, attempt, errMsg)

		rateLimited := err != nil && domain.IsRateLimitError(errMsg)

		if attempt == e.maxAttempts {
			e.logger.Error("Batch permanently failed",
				slog.Int("attempts", e.maxAttempts),
				slog.Bool("rate_limited", rateLimited),
				slog.String("error", errMsg),
			)
			return nil
		}

		backoff := e.backoffFor(attempt, rateLimited)
		e.logger.Warn("Batch attempt failed, backing off",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", e.maxAttempts),
			slog.Bool("rate_limited", rateLimited),
			slog.Duration("backoff", backoff),
			slog.String("error", errMsg),
		)
		e.sleep(ctx, backoff)
	}

	return nil
}

// backoffFor computes backoffBase^attempt seconds, amplified by 2 for
// rate-limited errors.
func (e *Engine) backoffFor(attempt int, rateLimited bool) time.Duration {
	seconds := math.Pow(float64(e.backoffBase), float64(attempt))
	if rateLimited {
		seconds *= 2
	}
	return time.Duration(seconds * float64(time.Second))
}

// extractSnapshot pulls one symbol's row out of the batch and enriches
// it into a snapshot. A missing or broken row fails only that symbol.
func (e *Engine) extractSnapshot(symbol string, batch *marketdata.BatchQuote) (domain.TickerSnapshot, bool) {
	quote, ok := batch.Lookup(symbol)
	if !ok {
		return domain.TickerSnapshot{}, false
	}

	if quote.Price.IsZero() && quote.Volume == 0 {
		// Upstream sometimes returns placeholder rows with no data
		return domain.TickerSnapshot{}, false
	}

	lastUpdated := quote.UpdatedAt
	if lastUpdated.IsZero() {
		lastUpdated = time.Now().UTC()
	}

	return domain.TickerSnapshot{
		Ticker:        symbol,
		LastPrice:     quote.Price,
		Volume:        quote.Volume,
		Currency:      quote.Currency,
		AssetType:     quote.AssetType,
		LastUpdated:   lastUpdated,
		PERatio:       quote.PERatio,
		EPS:           quote.EPS,
		DividendYield: quote.DividendYield,
		MarketCap:     quote.MarketCap,
	}, true
}

// partition splits symbols into batches of at most size elements.
func partition(symbols []string, size int) [][]string {
	var batches [][]string
	for i := 0; i < len(symbols); i += size {
		end := i + size
		if end > len(symbols) {
			end = len(symbols)
		}
		batches = append(batches, symbols[i:end])
	}
	return batches
}

// sleepContext sleeps for d or until the context is canceled.
func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
