package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cuongbtq/ticker-monitor/internal/domain"
)

// Fetcher is the batch fetch engine contract. Per-symbol and per-batch
// failures are absorbed into the failed list, never raised.
type Fetcher interface {
	FetchByList(ctx context.Context, symbols []string) ([]domain.TickerSnapshot, []string)
}

// Store is the persistence surface the consumer needs.
type Store interface {
	SaveAll(ctx context.Context, snapshots []domain.TickerSnapshot) (int, []string)
	RecordJobHistory(ctx context.Context, symbols []string, executionTime time.Time, retryCount int, status string) error
	HasCompletedToday(ctx context.Context, now time.Time) (bool, error)
}

// Publisher re-enqueues jobs on the main queue.
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Tracker records job-level terminal failures as block events.
type Tracker interface {
	LogBlockEvent(ctx context.Context, subject string, retryCount int) (*domain.RateLimitEvent, error)
}

// Delivery is one queue message with manual acknowledgment.
type Delivery interface {
	Body() []byte
	Ack() error
	Nack(requeue bool) error
}

// Config holds consumer configuration
type Config struct {
	Logger      *slog.Logger
	Fetcher     Fetcher
	Store       Store
	Publisher   Publisher
	Tracker     Tracker
	Location    *time.Location
	BackoffBase int
	MaxRetries  int
}

// Consumer is the job scheduling state machine. It processes one
// delivery at a time: gate, fetch, persist, re-enqueue the next business
// day's job, and drive per-job retry/backoff/dead-lettering.
type Consumer struct {
	logger      *slog.Logger
	fetcher     Fetcher
	store       Store
	publisher   Publisher
	tracker     Tracker
	loc         *time.Location
	backoffBase int
	maxRetries  int
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration)
}

// New creates a new Consumer.
func New(cfg *Config) *Consumer {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	backoffBase := cfg.BackoffBase
	if backoffBase < 2 {
		backoffBase = 2
	}

	return &Consumer{
		logger:      cfg.Logger,
		fetcher:     cfg.Fetcher,
		store:       cfg.Store,
		publisher:   cfg.Publisher,
		tracker:     cfg.Tracker,
		loc:         loc,
		backoffBase: backoffBase,
		maxRetries:  cfg.MaxRetries,
		now:         func() time.Time { return time.Now() },
		sleep:       sleepContext,
	}
}

// Run consumes deliveries until the channel closes or the context is
// canceled. The in-flight delivery always runs to completion; the
// cancellation check sits between messages.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan Delivery) error {
	c.logger.Info("Consumer loop started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer loop stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("Delivery channel closed")
				return errors.New("delivery channel closed")
			}
			c.HandleDelivery(ctx, delivery)
		}
	}
}

// HandleDelivery processes one queue message through the full state
// machine. It is the terminal error boundary: every failure ends in an
// acknowledgment decision, nothing propagates past it.
func (c *Consumer) HandleDelivery(ctx context.Context, delivery Delivery) {
	msg, err := domain.DecodeJobMessage(delivery.Body())
	if err != nil {
		// Terminal: retry state is unrecoverable without the structure.
		// Nack without requeue routes the body to the DLQ.
		c.logger.Error("Malformed job message",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body())),
		)
		c.nack(delivery, "malformed message")
		return
	}

	c.logger.Info("Job received",
		slog.String("job_id", msg.JobID),
		slog.Int("tickers", len(msg.TickerList)),
		slog.Time("scheduled", msg.ExecutionTime),
		slog.Int("attempt", msg.RetryCount+1),
	)

	if !c.shouldExecute(ctx, msg.ExecutionTime) {
		// Skipped jobs are acknowledged and dropped: the daily
		// re-enqueue after a successful run covers the next schedule.
		c.logger.Debug("Job not eligible to run now, dropping",
			slog.String("job_id", msg.JobID),
		)
		c.ack(delivery, msg.JobID)
		return
	}

	if err := c.executeJob(ctx, msg); err != nil {
		c.handleJobFailure(ctx, msg, delivery, err)
		return
	}

	c.ack(delivery, msg.JobID)
	c.logger.Info("Job processed successfully",
		slog.String("job_id", msg.JobID),
	)
}

// executeJob runs the fetch/persist/re-enqueue pipeline for a due job.
func (c *Consumer) executeJob(ctx context.Context, msg *domain.JobMessage) error {
	c.logger.Info("Fetching ticker data",
		slog.String("job_id", msg.JobID),
		slog.Int("tickers", len(msg.TickerList)),
	)

	results, failed := c.fetcher.FetchByList(ctx, msg.TickerList)

	c.logger.Info("Fetch complete",
		slog.String("job_id", msg.JobID),
		slog.Int("succeeded", len(results)),
		slog.Int("failed", len(failed)),
	)

	saved, failedSave := c.store.SaveAll(ctx, results)
	c.logger.Info("Data persisted",
		slog.String("job_id", msg.JobID),
		slog.Int("saved", saved),
		slog.Int("failed", len(failedSave)),
	)

	// Anti-duplication record; a failure here is logged but never
	// fails the job.
	if err := c.store.RecordJobHistory(ctx, msg.TickerList, msg.ExecutionTime, msg.RetryCount, domain.JobStatusCompleted); err != nil {
		c.logger.Error("Failed to record job history",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
	}

	nextExecution := c.nextExecutionTime(msg.ExecutionTime)
	nextJob := domain.NewJobMessage(msg.TickerList, nextExecution)

	if err := c.publishJob(ctx, nextJob); err != nil {
		return fmt.Errorf("failed to enqueue next job: %w", err)
	}

	c.logger.Info("Next job enqueued",
		slog.String("job_id", nextJob.JobID),
		slog.Time("next_execution", nextExecution),
	)

	return nil
}

// handleJobFailure drives the retry/dead-letter branch. The republished
// message is the retry vehicle: the original is always nacked without
// requeue so exactly one message exists per logical attempt and the
// retry counter survives.
func (c *Consumer) handleJobFailure(ctx context.Context, msg *domain.JobMessage, delivery Delivery, cause error) {
	c.logger.Error("Job processing failed",
		slog.String("job_id", msg.JobID),
		slog.Int("retry_count", msg.RetryCount),
		slog.String("error", cause.Error()),
	)

	if msg.RetryCount < c.maxRetries {
		msg.RetryCount++
		backoff := c.backoffFor(msg.RetryCount)

		c.logger.Warn("Retrying job",
			slog.String("job_id", msg.JobID),
			slog.Int("retry", msg.RetryCount),
			slog.Int("max_retries", c.maxRetries),
			slog.Duration("backoff", backoff),
		)

		c.sleep(ctx, backoff)

		if err := c.publishJob(ctx, msg); err != nil {
			// The nack below dead-letters the original via the broker,
			// so the job is not lost silently.
			c.logger.Error("Failed to republish job for retry",
				slog.String("job_id", msg.JobID),
				slog.String("error", err.Error()),
			)
		}
		c.nack(delivery, msg.JobID)
		return
	}

	c.logger.Error("Job exhausted retry budget, dead-lettering",
		slog.String("job_id", msg.JobID),
		slog.Int("max_retries", c.maxRetries),
		slog.String("error", fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, cause).Error()),
	)

	if err := c.store.RecordJobHistory(ctx, msg.TickerList, msg.ExecutionTime, msg.RetryCount, domain.JobStatusFailed); err != nil {
		c.logger.Error("Failed to record failed job history",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
	}

	if _, err := c.tracker.LogBlockEvent(ctx, domain.SubjectSystem, c.maxRetries); err != nil {
		c.logger.Error("Failed to record terminal block event",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
	}

	c.nack(delivery, msg.JobID)
}

// shouldExecute is the execution gate: weekday check, anti-duplication
// guard and due-time check, in that order.
func (c *Consumer) shouldExecute(ctx context.Context, scheduledTime time.Time) bool {
	now := c.now().In(c.loc)
	scheduled := scheduledTime.In(c.loc)

	if isWeekend(now.Weekday()) {
		c.logger.Debug("Weekend detected, skipping",
			slog.String("weekday", now.Weekday().String()),
		)
		return false
	}

	completed, err := c.store.HasCompletedToday(ctx, now)
	if err != nil {
		// Fail open: a broken history query must not block the
		// schedule forever.
		c.logger.Error("Failed to check for completed run today, proceeding",
			slog.String("error", err.Error()),
		)
	} else if completed {
		c.logger.Warn("Job already completed today, skipping to avoid duplication")
		return false
	}

	// Overdue jobs run immediately; this prevents infinite requeue loops.
	if !scheduled.After(now) {
		return true
	}

	c.logger.Debug("Scheduled time not reached yet",
		slog.Time("scheduled", scheduled),
		slog.Duration("remaining", scheduled.Sub(now)),
	)
	return false
}

// nextExecutionTime computes the next business day after current,
// skipping Saturday and Sunday.
func (c *Consumer) nextExecutionTime(current time.Time) time.Time {
	next := current.In(c.loc).AddDate(0, 0, 1)
	for isWeekend(next.Weekday()) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// backoffFor computes backoffBase^retryCount seconds.
func (c *Consumer) backoffFor(retryCount int) time.Duration {
	seconds := math.Pow(float64(c.backoffBase), float64(retryCount))
	return time.Duration(seconds * float64(time.Second))
}

func (c *Consumer) publishJob(ctx context.Context, msg *domain.JobMessage) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	return c.publisher.PublishWithRetry(ctx, body, "application/json")
}

func (c *Consumer) ack(delivery Delivery, jobID string) {
	if err := delivery.Ack(); err != nil {
		c.logger.Error("Failed to ACK message",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Consumer) nack(delivery Delivery, jobID string) {
	if err := delivery.Nack(false); err != nil {
		c.logger.Error("Failed to NACK message",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

func isWeekend(day time.Weekday) bool {
	return day == time.Saturday || day == time.Sunday
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
