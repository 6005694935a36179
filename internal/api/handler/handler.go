package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/ticker-monitor/internal/domain"
	"github.com/cuongbtq/ticker-monitor/internal/persistence"
)

// RateLimitReader exposes the rate-limit tracker's read surface.
type RateLimitReader interface {
	GetStatistics(ctx context.Context, subject string) domain.RateLimitStatistics
	GetActiveBlocks(ctx context.Context) []domain.RateLimitEvent
}

// HistoryReader exposes the job history read surface.
type HistoryReader interface {
	ListJobHistory(ctx context.Context, limit int) ([]persistence.JobHistoryRecord, error)
}

// JobPublisher enqueues jobs onto the main queue.
type JobPublisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// DBHealth reports database connectivity.
type DBHealth interface {
	Ping(ctx context.Context) error
}

// QueueHealth reports broker connectivity.
type QueueHealth interface {
	IsConnected() bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger     *slog.Logger
	RateLimits RateLimitReader
	History    HistoryReader
	Publisher  JobPublisher
	DB         DBHealth
	Queue      QueueHealth

	// DefaultTickers seeds operator-triggered jobs that omit a list.
	DefaultTickers []string
}

// MonitorHandler handles monitoring and operator HTTP requests
type MonitorHandler struct {
	logger         *slog.Logger
	rateLimits     RateLimitReader
	history        HistoryReader
	publisher      JobPublisher
	db             DBHealth
	queue          QueueHealth
	defaultTickers []string
}

// NewMonitorHandler creates a new MonitorHandler instance
func NewMonitorHandler(deps *Dependencies) *MonitorHandler {
	return &MonitorHandler{
		logger:         deps.Logger,
		rateLimits:     deps.RateLimits,
		history:        deps.History,
		publisher:      deps.Publisher,
		db:             deps.DB,
		queue:          deps.Queue,
		defaultTickers: deps.DefaultTickers,
	}
}
