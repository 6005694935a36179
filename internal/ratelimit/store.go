package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/ticker-monitor/internal/domain"
	"github.com/jmoiron/sqlx"
)

// SQLStore is the PostgreSQL-backed EventStore.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore creates a new SQLStore instance
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Insert appends a new event and returns it with its assigned ID.
func (s *SQLStore) Insert(ctx context.Context, event *domain.RateLimitEvent) (*domain.RateLimitEvent, error) {
	query := `
		INSERT INTO rate_limit_events
			(subject, blocked_at, retry_count, status, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		event.Subject,
		event.BlockedAt,
		event.RetryCount,
		event.Status,
		event.ErrorMessage,
		event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert rate limit event: %w", err)
	}

	return event, nil
}

// Resolve transitions an ACTIVE event to RESOLVED and stores the block
// duration. Events in any other status are left untouched.
func (s *SQLStore) Resolve(ctx context.Context, eventID int64, resolvedAt time.Time) error {
	query := `
		UPDATE rate_limit_events
		SET status = $1,
		    resolved_at = $2,
		    duration_seconds = EXTRACT(EPOCH FROM ($2 - blocked_at))::bigint
		WHERE id = $3
		  AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.EventStatusResolved,
		resolvedAt,
		eventID,
		domain.EventStatusActive,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve rate limit event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrEventNotFound
	}

	return nil
}

// ListBySubject returns all events recorded for a subject, oldest first.
func (s *SQLStore) ListBySubject(ctx context.Context, subject string) ([]domain.RateLimitEvent, error) {
	query := `
		SELECT id, subject, blocked_at, retry_count, duration_seconds,
		       resolved_at, status, error_message, created_at
		FROM rate_limit_events
		WHERE subject = $1
		ORDER BY created_at ASC
	`

	var events []domain.RateLimitEvent
	if err := s.db.SelectContext(ctx, &events, query, subject); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list rate limit events: %w", err)
	}

	return events, nil
}

// ListActive returns all events still in ACTIVE status, oldest first.
func (s *SQLStore) ListActive(ctx context.Context) ([]domain.RateLimitEvent, error) {
	query := `
		SELECT id, subject, blocked_at, retry_count, duration_seconds,
		       resolved_at, status, error_message, created_at
		FROM rate_limit_events
		WHERE status = $1
		ORDER BY created_at ASC
	`

	var events []domain.RateLimitEvent
	if err := s.db.SelectContext(ctx, &events, query, domain.EventStatusActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list active rate limit events: %w", err)
	}

	return events, nil
}
