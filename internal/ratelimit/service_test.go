package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/ticker-monitor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory EventStore for tests.
type memStore struct {
	events    []domain.RateLimitEvent
	nextID    int64
	insertErr error
}

func (m *memStore) Insert(_ context.Context, event *domain.RateLimitEvent) (*domain.RateLimitEvent, error) {
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	m.nextID++
	event.ID = m.nextID
	m.events = append(m.events, *event)
	return event, nil
}

func (m *memStore) Resolve(_ context.Context, eventID int64, resolvedAt time.Time) error {
	for i := range m.events {
		if m.events[i].ID == eventID && m.events[i].Status == domain.EventStatusActive {
			m.events[i].Resolve(resolvedAt)
			return nil
		}
	}
	return domain.ErrEventNotFound
}

func (m *memStore) ListBySubject(_ context.Context, subject string) ([]domain.RateLimitEvent, error) {
	var out []domain.RateLimitEvent
	for _, e := range m.events {
		if e.Subject == subject {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) ListActive(_ context.Context) ([]domain.RateLimitEvent, error) {
	var out []domain.RateLimitEvent
	for _, e := range m.events {
		if e.Status == domain.EventStatusActive {
			out = append(out, e)
		}
	}
	return out, nil
}

func newTestService(store EventStore) *Service {
	svc := NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	base := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
	calls := 0
	svc.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}
	return svc
}

func TestService_LogBlockEvent(t *testing.T) {
	store := &memStore{}
	svc := newTestService(store)

	event, err := svc.LogBlockEvent(context.Background(), "PETR4.SA", 3)
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, domain.EventStatusActive, event.Status)
	assert.Equal(t, "PETR4.SA", event.Subject)
	assert.Equal(t, 3, event.RetryCount)
	require.NotNil(t, event.BlockedAt)
	assert.True(t, event.ID > 0)
}

func TestService_LogFetchAttempt(t *testing.T) {
	tests := []struct {
		name         string
		success      bool
		errorMessage string
		wantStatus   string
		wantBlocked  bool
	}{
		{
			name:       "success",
			success:    true,
			wantStatus: domain.EventStatusSuccess,
		},
		{
			name:         "429 in error text",
			errorMessage: "upstream returned 429",
			wantStatus:   domain.EventStatusRateLimited,
			wantBlocked:  true,
		},
		{
			name:         "too many requests in error text",
			errorMessage: "Too Many Requests",
			wantStatus:   domain.EventStatusRateLimited,
			wantBlocked:  true,
		},
		{
			name:         "other error",
			errorMessage: "connection refused",
			wantStatus:   domain.EventStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{}
			svc := newTestService(store)

			ok := svc.LogFetchAttempt(context.Background(), domain.SubjectBatch, tt.success, 2, tt.errorMessage)
			assert.True(t, ok)

			require.Len(t, store.events, 1)
			event := store.events[0]
			assert.Equal(t, tt.wantStatus, event.Status)
			assert.Equal(t, domain.SubjectBatch, event.Subject)
			assert.Equal(t, 2, event.RetryCount)
			if tt.wantBlocked {
				assert.NotNil(t, event.BlockedAt)
			} else {
				assert.Nil(t, event.BlockedAt)
			}
		})
	}
}

func TestService_LogFetchAttempt_StoreError(t *testing.T) {
	store := &memStore{insertErr: errors.New("db down")}
	svc := newTestService(store)

	ok := svc.LogFetchAttempt(context.Background(), domain.SubjectBatch, true, 1, "")
	assert.False(t, ok)
}

func TestService_LogResolution(t *testing.T) {
	store := &memStore{}
	svc := newTestService(store)

	event, err := svc.LogBlockEvent(context.Background(), "VALE3.SA", 1)
	require.NoError(t, err)

	resolvedAt := event.BlockedAt.Add(45 * time.Second)
	ok := svc.LogResolution(context.Background(), event.ID, &resolvedAt)
	assert.True(t, ok)

	events, err := store.ListBySubject(context.Background(), "VALE3.SA")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventStatusResolved, events[0].Status)
	require.NotNil(t, events[0].DurationSeconds)
	assert.Equal(t, int64(45), *events[0].DurationSeconds)

	// Resolving again is a no-op failure: the transition left ACTIVE
	ok = svc.LogResolution(context.Background(), event.ID, &resolvedAt)
	assert.False(t, ok)
}

func TestService_GetStatistics(t *testing.T) {
	store := &memStore{}
	svc := newTestService(store)
	ctx := context.Background()

	// No events: all zero
	stats := svc.GetStatistics(ctx, "WEGE3.SA")
	assert.Equal(t, 0, stats.TotalBlocks)
	assert.Equal(t, float64(0), stats.AverageDurationSeconds)
	assert.Nil(t, stats.LastBlockAt)

	// Two resolved blocks of 30s and 90s, one with higher retry count
	e1, err := svc.LogBlockEvent(ctx, "WEGE3.SA", 2)
	require.NoError(t, err)
	r1 := e1.BlockedAt.Add(30 * time.Second)
	require.True(t, svc.LogResolution(ctx, e1.ID, &r1))

	e2, err := svc.LogBlockEvent(ctx, "WEGE3.SA", 5)
	require.NoError(t, err)
	r2 := e2.BlockedAt.Add(90 * time.Second)
	require.True(t, svc.LogResolution(ctx, e2.ID, &r2))

	stats = svc.GetStatistics(ctx, "WEGE3.SA")
	assert.Equal(t, 2, stats.TotalBlocks)
	assert.Equal(t, float64(120), stats.TotalDurationSeconds)
	assert.Equal(t, float64(60), stats.AverageDurationSeconds)
	assert.Equal(t, 5, stats.MaxRetriesInBlock)
	require.NotNil(t, stats.LastBlockAt)
	assert.Equal(t, *e2.BlockedAt, *stats.LastBlockAt)

	// Idempotent: same aggregation with no intervening events
	again := svc.GetStatistics(ctx, "WEGE3.SA")
	assert.Equal(t, stats, again)
}

func TestService_ActiveBlocks(t *testing.T) {
	store := &memStore{}
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.LogBlockEvent(ctx, "PETR4.SA", 1)
	require.NoError(t, err)
	event, err := svc.LogBlockEvent(ctx, "VALE3.SA", 2)
	require.NoError(t, err)

	assert.True(t, svc.IsSubjectBlocked(ctx, "PETR4.SA"))
	assert.True(t, svc.IsSubjectBlocked(ctx, "VALE3.SA"))
	assert.False(t, svc.IsSubjectBlocked(ctx, "WEGE3.SA"))
	assert.Len(t, svc.GetActiveBlocks(ctx), 2)

	resolvedAt := event.BlockedAt.Add(10 * time.Second)
	require.True(t, svc.LogResolution(ctx, event.ID, &resolvedAt))

	assert.False(t, svc.IsSubjectBlocked(ctx, "VALE3.SA"))
	assert.Len(t, svc.GetActiveBlocks(ctx), 1)
}
