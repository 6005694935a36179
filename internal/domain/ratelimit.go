package domain

import "time"

// RateLimitEvent records one observed fetch attempt or block for a subject
// (a ticker symbol, "BATCH", or "SYSTEM"). Events are append-only: the only
// permitted mutation is the ACTIVE -> RESOLVED transition via Resolve.
type RateLimitEvent struct {
	ID              int64      `db:"id" json:"id"`
	Subject         string     `db:"subject" json:"subject"`
	BlockedAt       *time.Time `db:"blocked_at" json:"blocked_at"`
	RetryCount      int        `db:"retry_count" json:"retry_count"`
	DurationSeconds *int64     `db:"duration_seconds" json:"duration_seconds"`
	ResolvedAt      *time.Time `db:"resolved_at" json:"resolved_at"`
	Status          string     `db:"status" json:"status"`
	ErrorMessage    string     `db:"error_message" json:"error_message"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// IsResolved reports whether the block has been resolved.
func (e *RateLimitEvent) IsResolved() bool {
	return e.Status == EventStatusResolved && e.ResolvedAt != nil
}

// Resolve marks an active block as resolved and computes its duration.
func (e *RateLimitEvent) Resolve(resolvedAt time.Time) {
	e.Status = EventStatusResolved
	e.ResolvedAt = &resolvedAt
	if e.BlockedAt != nil {
		duration := int64(resolvedAt.Sub(*e.BlockedAt).Seconds())
		e.DurationSeconds = &duration
	}
}

// RateLimitStatistics aggregates block events for one subject. Derived on
// demand, never stored.
type RateLimitStatistics struct {
	Subject                string     `json:"subject"`
	TotalBlocks            int        `json:"total_blocks"`
	TotalDurationSeconds   float64    `json:"total_duration_seconds"`
	AverageDurationSeconds float64    `json:"average_duration_seconds"`
	LastBlockAt            *time.Time `json:"last_block_at"`
	MaxRetriesInBlock      int        `json:"max_retries_in_block"`
}

// CalculateAverages recomputes the average duration. When no blocks were
// recorded the average stays zero.
func (s *RateLimitStatistics) CalculateAverages() {
	if s.TotalBlocks > 0 {
		s.AverageDurationSeconds = s.TotalDurationSeconds / float64(s.TotalBlocks)
	}
}
