package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/ticker-monitor/internal/domain"
)

// EventStore is the persistence surface the tracker needs. Events are
// append-only; Resolve is the single permitted update.
type EventStore interface {
	Insert(ctx context.Context, event *domain.RateLimitEvent) (*domain.RateLimitEvent, error)
	Resolve(ctx context.Context, eventID int64, resolvedAt time.Time) error
	ListBySubject(ctx context.Context, subject string) ([]domain.RateLimitEvent, error)
	ListActive(ctx context.Context) ([]domain.RateLimitEvent, error)
}

// Service tracks rate-limit events and derives aggregate statistics.
type Service struct {
	store  EventStore
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new rate-limit tracking service.
func NewService(store EventStore, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// LogBlockEvent records a new ACTIVE block for a subject.
func (s *Service) LogBlockEvent(ctx context.Context, subject string, retryCount int) (*domain.RateLimitEvent, error) {
	now := s.now()
	event := &domain.RateLimitEvent{
		Subject:    subject,
		BlockedAt:  &now,
		RetryCount: retryCount,
		Status:     domain.EventStatusActive,
		CreatedAt:  now,
	}

	saved, err := s.store.Insert(ctx, event)
	if err != nil {
		s.logger.Error("Failed to record block event",
			slog.String("subject", subject),
			slog.Int("retry_count", retryCount),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.logger.Warn("Rate limit block recorded",
		slog.String("subject", subject),
		slog.Int("retry_count", retryCount),
	)

	return saved, nil
}

// LogFetchAttempt records one fetch attempt, classifying it as SUCCESS,
// RATE_LIMITED (429 signature in the error text) or FAILED. Returns false
// when the event could not be stored; tracking failures never propagate
// into the fetch path.
func (s *Service) LogFetchAttempt(ctx context.Context, subject string, success bool, retryCount int, errorMessage string) bool {
	now := s.now()

	status := domain.EventStatusFailed
	var blockedAt *time.Time
	switch {
	case success:
		status = domain.EventStatusSuccess
	case domain.IsRateLimitError(errorMessage):
		status = domain.EventStatusRateLimited
		blockedAt = &now
	}

	event := &domain.RateLimitEvent{
		Subject:      subject,
		BlockedAt:    blockedAt,
		RetryCount:   retryCount,
		Status:       status,
		ErrorMessage: errorMessage,
		CreatedAt:    now,
	}

	if _, err := s.store.Insert(ctx, event); err != nil {
		s.logger.Error("Failed to record fetch attempt",
			slog.String("subject", subject),
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
		return false
	}

	switch status {
	case domain.EventStatusSuccess:
		s.logger.Debug("Fetch attempt logged",
			slog.String("subject", subject),
			slog.Int("retry_count", retryCount),
		)
	case domain.EventStatusRateLimited:
		s.logger.Warn("Rate limit logged",
			slog.String("subject", subject),
			slog.Int("retry_count", retryCount),
		)
	default:
		s.logger.Debug("Failed fetch logged",
			slog.String("subject", subject),
			slog.String("error_message", errorMessage),
		)
	}

	return true
}

// LogResolution marks an ACTIVE block as RESOLVED, computing its duration.
func (s *Service) LogResolution(ctx context.Context, eventID int64, resolvedAt *time.Time) bool {
	at := s.now()
	if resolvedAt != nil {
		at = *resolvedAt
	}

	if err := s.store.Resolve(ctx, eventID, at); err != nil {
		s.logger.Error("Failed to resolve block event",
			slog.Int64("event_id", eventID),
			slog.String("error", err.Error()),
		)
		return false
	}

	s.logger.Info("Rate limit block resolved",
		slog.Int64("event_id", eventID),
	)

	return true
}

// GetStatistics aggregates all events recorded for a subject. Derived on
// demand; a storage error yields empty statistics for the subject.
func (s *Service) GetStatistics(ctx context.Context, subject string) domain.RateLimitStatistics {
	stats := domain.RateLimitStatistics{Subject: subject}

	events, err := s.store.ListBySubject(ctx, subject)
	if err != nil {
		s.logger.Error("Failed to load events for statistics",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
		return stats
	}

	for _, e := range events {
		stats.TotalBlocks++
		if e.Status == domain.EventStatusResolved && e.DurationSeconds != nil {
			stats.TotalDurationSeconds += float64(*e.DurationSeconds)
		}
		if e.RetryCount > stats.MaxRetriesInBlock {
			stats.MaxRetriesInBlock = e.RetryCount
		}
		if e.BlockedAt != nil && (stats.LastBlockAt == nil || e.BlockedAt.After(*stats.LastBlockAt)) {
			blockedAt := *e.BlockedAt
			stats.LastBlockAt = &blockedAt
		}
	}

	stats.CalculateAverages()
	return stats
}

// GetActiveBlocks returns every block event still in ACTIVE status.
func (s *Service) GetActiveBlocks(ctx context.Context) []domain.RateLimitEvent {
	events, err := s.store.ListActive(ctx)
	if err != nil {
		s.logger.Error("Failed to load active blocks",
			slog.String("error", err.Error()),
		)
		return nil
	}
	return events
}

// IsSubjectBlocked reports whether a subject currently has an active block.
func (s *Service) IsSubjectBlocked(ctx context.Context, subject string) bool {
	for _, e := range s.GetActiveBlocks(ctx) {
		if e.Subject == subject {
			return true
		}
	}
	return false
}
