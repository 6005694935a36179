package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobMessage(t *testing.T) {
	execTime := time.Date(2025, 3, 4, 16, 30, 0, 0, time.UTC)
	msg := NewJobMessage([]string{"PETR4.SA", "VALE3.SA"}, execTime)

	require.NotNil(t, msg)
	assert.Equal(t, []string{"PETR4.SA", "VALE3.SA"}, msg.TickerList)
	assert.Equal(t, execTime, msg.ExecutionTime)
	assert.Equal(t, 0, msg.RetryCount)
	assert.False(t, msg.CreatedAt.IsZero())

	_, err := uuid.Parse(msg.JobID)
	assert.NoError(t, err, "job_id should be a valid UUID")
}

func TestJobMessage_EncodeDecode(t *testing.T) {
	execTime := time.Date(2025, 3, 4, 16, 30, 0, 0, time.FixedZone("BRT", -3*3600))
	original := NewJobMessage([]string{"WEGE3.SA"}, execTime)
	original.RetryCount = 3

	body, err := original.Encode()
	require.NoError(t, err)

	// Wire format carries the ISO-8601 timestamp with offset
	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Contains(t, wire, "job_id")
	assert.Contains(t, wire, "ticker_list")
	assert.Contains(t, wire, "execution_time")
	assert.Contains(t, wire, "retry_count")
	assert.Contains(t, wire, "created_at")

	decoded, err := DecodeJobMessage(body)
	require.NoError(t, err)
	assert.Equal(t, original.JobID, decoded.JobID)
	assert.Equal(t, original.TickerList, decoded.TickerList)
	assert.True(t, original.ExecutionTime.Equal(decoded.ExecutionTime))
	assert.Equal(t, 3, decoded.RetryCount)
}

func TestDecodeJobMessage_Malformed(t *testing.T) {
	validID := uuid.New().String()

	tests := []struct {
		name string
		body string
	}{
		{
			name: "invalid json",
			body: `{not json`,
		},
		{
			name: "missing job_id",
			body: `{"ticker_list":["PETR4.SA"],"execution_time":"2025-03-04T16:30:00Z","retry_count":0}`,
		},
		{
			name: "job_id not a uuid",
			body: `{"job_id":"abc","ticker_list":["PETR4.SA"],"execution_time":"2025-03-04T16:30:00Z"}`,
		},
		{
			name: "empty ticker_list",
			body: `{"job_id":"` + validID + `","ticker_list":[],"execution_time":"2025-03-04T16:30:00Z"}`,
		},
		{
			name: "missing execution_time",
			body: `{"job_id":"` + validID + `","ticker_list":["PETR4.SA"]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeJobMessage([]byte(tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedMessage)
			assert.Nil(t, msg)
		})
	}
}
