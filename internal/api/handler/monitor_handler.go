package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/ticker-monitor/internal/api/dto"
	"github.com/cuongbtq/ticker-monitor/internal/domain"
)

// Health handles GET /health
// Reports per-component connectivity. Degraded components turn the
// overall status unhealthy with a 503.
func (h *MonitorHandler) Health(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK

	dbStatus := "up"
	if h.db != nil {
		if err := h.db.Ping(c.Request.Context()); err != nil {
			dbStatus = "down"
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	queueStatus := "up"
	if h.queue != nil && !h.queue.IsConnected() {
		queueStatus = "down"
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":   status,
		"service":  "ticker-monitor-api",
		"database": dbStatus,
		"rabbitmq": queueStatus,
	})
}

// GetRateLimitStats handles GET /api/v1/rate-limits/stats/:subject
// Returns aggregated rate-limit statistics for one subject.
func (h *MonitorHandler) GetRateLimitStats(c *gin.Context) {
	subject := c.Param("subject")
	if subject == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "subject is required",
		})
		return
	}

	stats := h.rateLimits.GetStatistics(c.Request.Context(), subject)

	c.JSON(http.StatusOK, stats)
}

// ListActiveBlocks handles GET /api/v1/rate-limits/active
// Lists rate-limit events that have not been resolved yet.
func (h *MonitorHandler) ListActiveBlocks(c *gin.Context) {
	events := h.rateLimits.GetActiveBlocks(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"count":  len(events),
		"events": events,
	})
}

// ListJobHistory handles GET /api/v1/jobs/history
// Lists recent job executions, newest first.
func (h *MonitorHandler) ListJobHistory(c *gin.Context) {
	var req dto.ListJobHistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Limit <= 0 {
		req.Limit = 20
	}
	if req.Limit > 100 {
		req.Limit = 100
	}

	records, err := h.history.ListJobHistory(c.Request.Context(), req.Limit)
	if err != nil {
		h.logger.Error("Failed to list job history", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list job history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count": len(records),
		"jobs":  records,
	})
}

// TriggerJob handles POST /api/v1/jobs
// Enqueues a monitoring job immediately, bypassing the daily schedule.
func (h *MonitorHandler) TriggerJob(c *gin.Context) {
	var req dto.TriggerJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	tickers := req.TickerList
	if len(tickers) == 0 {
		tickers = h.defaultTickers
	}
	if len(tickers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "ticker_list is required",
		})
		return
	}

	executionTime := time.Now().UTC()
	if req.ExecutionTime != "" {
		parsed, err := time.Parse(time.RFC3339, req.ExecutionTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "execution_time must be RFC3339",
			})
			return
		}
		executionTime = parsed
	}

	job := domain.NewJobMessage(tickers, executionTime)
	body, err := job.Encode()
	if err != nil {
		h.logger.Error("Failed to encode job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to encode job",
		})
		return
	}

	if err := h.publisher.PublishWithRetry(c.Request.Context(), body, "application/json"); err != nil {
		h.logger.Error("Failed to publish job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to publish job",
		})
		return
	}

	h.logger.Info("Job triggered",
		slog.String("job_id", job.JobID),
		slog.Int("tickers", len(tickers)),
		slog.Time("execution_time", executionTime),
	)

	c.JSON(http.StatusAccepted, dto.TriggerJobResponse{
		JobID:         job.JobID,
		TickerList:    tickers,
		ExecutionTime: executionTime.Format(time.RFC3339),
		Status:        domain.JobStatusPending,
	})
}
