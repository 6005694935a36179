package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/ticker-monitor/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// JobHistoryRecord is a persisted job execution, read back by the
// scheduler's anti-duplication guard and by the monitoring API.
type JobHistoryRecord struct {
	ID              int64          `db:"id" json:"id"`
	TickerIDs       pq.StringArray `db:"ticker_ids" json:"ticker_ids"`
	ExecutionTime   time.Time      `db:"execution_time" json:"execution_time"`
	RetryCount      int            `db:"retry_count" json:"retry_count"`
	Status          string         `db:"status" json:"status"`
	LastAttemptedAt *time.Time     `db:"last_attempted_at" json:"last_attempted_at"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

// Service persists ticker snapshots and job history. Each snapshot is
// written in its own transaction so a mid-batch crash never leaves a
// half-written row.
type Service struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewService creates a new persistence Service.
func NewService(db *sqlx.DB, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger,
	}
}

// SaveAll persists a list of snapshots. Per-snapshot failures are
// absorbed: the return value reports how many were saved and which
// symbols failed.
func (s *Service) SaveAll(ctx context.Context, snapshots []domain.TickerSnapshot) (int, []string) {
	savedCount := 0
	var failedTickers []string

	for i := range snapshots {
		if err := s.saveSnapshot(ctx, &snapshots[i]); err != nil {
			s.logger.Error("Failed to save ticker snapshot",
				slog.String("ticker", snapshots[i].Ticker),
				slog.String("error", err.Error()),
			)
			failedTickers = append(failedTickers, snapshots[i].Ticker)
			continue
		}
		savedCount++
	}

	s.logger.Info("Snapshot batch persisted",
		slog.Int("saved", savedCount),
		slog.Int("failed", len(failedTickers)),
	)

	return savedCount, failedTickers
}

// saveSnapshot writes one snapshot (ticker master row, price row and
// optional fundamentals row) in a single transaction.
func (s *Service) saveSnapshot(ctx context.Context, snapshot *domain.TickerSnapshot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tickerID, err := s.ensureTicker(ctx, tx, snapshot)
	if err != nil {
		return err
	}

	priceQuery := `
		INSERT INTO ticker_prices (ticker_id, price, volume, updated_at, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	if _, err := tx.ExecContext(ctx, priceQuery,
		tickerID,
		snapshot.LastPrice,
		snapshot.Volume,
		snapshot.LastUpdated,
	); err != nil {
		return fmt.Errorf("failed to save price for %s: %w", snapshot.Ticker, err)
	}

	if snapshot.HasFundamentals() {
		fundamentalsQuery := `
			INSERT INTO ticker_fundamentals
				(ticker_id, pe_ratio, eps, dividend_yield, market_cap, collected_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
		`
		if _, err := tx.ExecContext(ctx, fundamentalsQuery,
			tickerID,
			snapshot.PERatio,
			snapshot.EPS,
			snapshot.DividendYield,
			snapshot.MarketCap,
			snapshot.LastUpdated,
		); err != nil {
			return fmt.Errorf("failed to save fundamentals for %s: %w", snapshot.Ticker, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot for %s: %w", snapshot.Ticker, err)
	}

	s.logger.Debug("Ticker snapshot saved",
		slog.String("ticker", snapshot.Ticker),
		slog.String("price", snapshot.LastPrice.String()),
	)

	return nil
}

// ensureTicker looks up the master row for a symbol, creating it when
// missing, and returns its ID.
func (s *Service) ensureTicker(ctx context.Context, tx *sqlx.Tx, snapshot *domain.TickerSnapshot) (int64, error) {
	var tickerID int64

	err := tx.QueryRowContext(ctx,
		`SELECT id FROM tickers WHERE symbol = $1`,
		snapshot.Ticker,
	).Scan(&tickerID)

	if err == nil {
		return tickerID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to look up ticker %s: %w", snapshot.Ticker, err)
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO tickers (symbol, asset_type, currency, created_at)
		 VALUES ($1, $2, $3, NOW())
		 RETURNING id`,
		snapshot.Ticker,
		snapshot.AssetType,
		snapshot.Currency,
	).Scan(&tickerID)
	if err != nil {
		return 0, fmt.Errorf("failed to create ticker %s: %w", snapshot.Ticker, err)
	}

	return tickerID, nil
}

// RecordJobHistory appends one job-history row.
func (s *Service) RecordJobHistory(ctx context.Context, symbols []string, executionTime time.Time, retryCount int, status string) error {
	query := `
		INSERT INTO job_history
			(ticker_ids, execution_time, retry_count, status, last_attempted_at, created_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
	`

	if _, err := s.db.ExecContext(ctx, query,
		pq.StringArray(symbols),
		executionTime,
		retryCount,
		status,
	); err != nil {
		return fmt.Errorf("failed to record job history: %w", err)
	}

	s.logger.Debug("Job history recorded",
		slog.Int("symbols", len(symbols)),
		slog.String("status", status),
	)

	return nil
}

// HasCompletedToday reports whether a COMPLETED job-history row was
// created within the calendar day of now (in now's location). This is
// the scheduler's anti-duplication signal.
func (s *Service) HasCompletedToday(ctx context.Context, now time.Time) (bool, error) {
	year, month, day := now.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	query := `
		SELECT EXISTS (
			SELECT 1 FROM job_history
			WHERE status = $1
			  AND created_at >= $2
			  AND created_at < $3
		)
	`

	var exists bool
	if err := s.db.GetContext(ctx, &exists, query, domain.JobStatusCompleted, dayStart, dayEnd); err != nil {
		return false, fmt.Errorf("failed to check completed jobs for today: %w", err)
	}

	return exists, nil
}

// ListJobHistory returns the most recent job-history rows, newest first.
func (s *Service) ListJobHistory(ctx context.Context, limit int) ([]JobHistoryRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, ticker_ids, execution_time, retry_count, status,
		       last_attempted_at, created_at
		FROM job_history
		ORDER BY created_at DESC
		LIMIT $1
	`

	var records []JobHistoryRecord
	if err := s.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list job history: %w", err)
	}

	return records, nil
}
