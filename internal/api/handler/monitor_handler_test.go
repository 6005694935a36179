package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/ticker-monitor/internal/api/handler"
	"github.com/cuongbtq/ticker-monitor/internal/api/router"
	"github.com/cuongbtq/ticker-monitor/internal/domain"
	"github.com/cuongbtq/ticker-monitor/internal/persistence"
)

type fakeRateLimits struct {
	stats  domain.RateLimitStatistics
	active []domain.RateLimitEvent
}

func (f *fakeRateLimits) GetStatistics(_ context.Context, subject string) domain.RateLimitStatistics {
	stats := f.stats
	stats.Subject = subject
	return stats
}

func (f *fakeRateLimits) GetActiveBlocks(_ context.Context) []domain.RateLimitEvent {
	return f.active
}

type fakeHistory struct {
	records  []persistence.JobHistoryRecord
	err      error
	gotLimit int
}

func (f *fakeHistory) ListJobHistory(_ context.Context, limit int) ([]persistence.JobHistoryRecord, error) {
	f.gotLimit = limit
	return f.records, f.err
}

type fakePublisher struct {
	published [][]byte
	err       error
}

func (f *fakePublisher) PublishWithRetry(_ context.Context, body []byte, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, body)
	return nil
}

type fakeDB struct {
	pingErr error
}

func (f *fakeDB) Ping(_ context.Context) error { return f.pingErr }

type fakeQueue struct {
	disconnected bool
}

func (f *fakeQueue) IsConnected() bool { return !f.disconnected }

type apiFixture struct {
	engine     *gin.Engine
	rateLimits *fakeRateLimits
	history    *fakeHistory
	publisher  *fakePublisher
	db         *fakeDB
	queue      *fakeQueue
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rateLimits := &fakeRateLimits{}
	history := &fakeHistory{}
	publisher := &fakePublisher{}
	db := &fakeDB{}
	queue := &fakeQueue{}

	engine := router.SetupRouter(&handler.Dependencies{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		RateLimits:     rateLimits,
		History:        history,
		Publisher:      publisher,
		DB:             db,
		Queue:          queue,
		DefaultTickers: []string{"PETR4.SA", "VALE3.SA"},
	})

	return &apiFixture{
		engine:     engine,
		rateLimits: rateLimits,
		history:    history,
		publisher:  publisher,
		db:         db,
		queue:      queue,
	}
}

func (fx *apiFixture) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	fx.engine.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestHealthEndpoint_DatabaseDown(t *testing.T) {
	fx := newAPIFixture(t)
	fx.db.pingErr = errors.New("connection refused")

	rec := fx.do(http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"down"`)
}

func TestHealthEndpoint_BrokerDown(t *testing.T) {
	fx := newAPIFixture(t)
	fx.queue.disconnected = true

	rec := fx.do(http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rabbitmq":"down"`)
}

func TestGetRateLimitStats(t *testing.T) {
	fx := newAPIFixture(t)
	fx.rateLimits.stats = domain.RateLimitStatistics{
		TotalBlocks:            3,
		TotalDurationSeconds:   180,
		AverageDurationSeconds: 60,
		MaxRetriesInBlock:      4,
	}

	rec := fx.do(http.MethodGet, "/api/v1/rate-limits/stats/BATCH", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.RateLimitStatistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "BATCH", got.Subject)
	assert.Equal(t, 3, got.TotalBlocks)
	assert.Equal(t, float64(60), got.AverageDurationSeconds)
}

func TestListActiveBlocks(t *testing.T) {
	fx := newAPIFixture(t)
	blockedAt := time.Date(2026, 1, 6, 17, 0, 0, 0, time.UTC)
	fx.rateLimits.active = []domain.RateLimitEvent{
		{ID: 1, Subject: "BATCH", Status: domain.EventStatusActive, BlockedAt: &blockedAt},
	}

	rec := fx.do(http.MethodGet, "/api/v1/rate-limits/active", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count  int                     `json:"count"`
		Events []domain.RateLimitEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, domain.EventStatusActive, resp.Events[0].Status)
}

func TestListJobHistory(t *testing.T) {
	fx := newAPIFixture(t)
	fx.history.records = []persistence.JobHistoryRecord{
		{ID: 1, Status: domain.JobStatusCompleted},
	}

	rec := fx.do(http.MethodGet, "/api/v1/jobs/history?limit=5", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, fx.history.gotLimit)
	assert.Contains(t, rec.Body.String(), domain.JobStatusCompleted)
}

func TestListJobHistory_DefaultAndCappedLimit(t *testing.T) {
	fx := newAPIFixture(t)

	fx.do(http.MethodGet, "/api/v1/jobs/history", nil)
	assert.Equal(t, 20, fx.history.gotLimit)

	fx.do(http.MethodGet, "/api/v1/jobs/history?limit=5000", nil)
	assert.Equal(t, 100, fx.history.gotLimit)
}

func TestListJobHistory_StorageError(t *testing.T) {
	fx := newAPIFixture(t)
	fx.history.err = errors.New("connection refused")

	rec := fx.do(http.MethodGet, "/api/v1/jobs/history", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTriggerJob(t *testing.T) {
	fx := newAPIFixture(t)

	body := []byte(`{"ticker_list": ["WEGE3.SA"]}`)
	rec := fx.do(http.MethodPost, "/api/v1/jobs", body)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, fx.publisher.published, 1)

	msg, err := domain.DecodeJobMessage(fx.publisher.published[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"WEGE3.SA"}, msg.TickerList)
	assert.Equal(t, 0, msg.RetryCount)
}

func TestTriggerJob_DefaultsToConfiguredTickers(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(http.MethodPost, "/api/v1/jobs", []byte(`{}`))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, fx.publisher.published, 1)

	msg, err := domain.DecodeJobMessage(fx.publisher.published[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"PETR4.SA", "VALE3.SA"}, msg.TickerList)
}

func TestTriggerJob_InvalidExecutionTime(t *testing.T) {
	fx := newAPIFixture(t)

	body := []byte(`{"ticker_list": ["AAA"], "execution_time": "tomorrow"}`)
	rec := fx.do(http.MethodPost, "/api/v1/jobs", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, fx.publisher.published)
}

func TestTriggerJob_PublishFailure(t *testing.T) {
	fx := newAPIFixture(t)
	fx.publisher.err = errors.New("broker unavailable")

	body := []byte(`{"ticker_list": ["AAA"]}`)
	rec := fx.do(http.MethodPost, "/api/v1/jobs", body)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
