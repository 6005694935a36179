package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/ticker-monitor/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	monitorHandler := handler.NewMonitorHandler(deps)

	// Health check endpoint
	r.GET("/health", monitorHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		rateLimits := v1.Group("/rate-limits")
		{
			// GET /api/v1/rate-limits/stats/:subject - Aggregated stats per subject
			rateLimits.GET("/stats/:subject", monitorHandler.GetRateLimitStats)

			// GET /api/v1/rate-limits/active - Unresolved block events
			rateLimits.GET("/active", monitorHandler.ListActiveBlocks)
		}

		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs/history - Recent job executions
			jobs.GET("/history", monitorHandler.ListJobHistory)

			// POST /api/v1/jobs - Trigger a monitoring job immediately
			jobs.POST("", monitorHandler.TriggerJob)
		}
	}

	return r
}
