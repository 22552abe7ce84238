package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	all := []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
	legal := map[[2]Status]bool{
		{StatusPending, StatusProcessing}:   true,
		{StatusProcessing, StatusCompleted}: true,
		{StatusProcessing, StatusFailed}:    true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, legal[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.False(t, CanTransition("queued", StatusProcessing))
}

func TestJobLifecycle_Completed(t *testing.T) {
	j := Job{ID: "J1", Status: StatusPending, InputPath: "/in/a.png"}
	require.NoError(t, j.Validate())

	require.NoError(t, j.Start())
	assert.Equal(t, StatusProcessing, j.Status)
	require.NoError(t, j.Validate())

	require.NoError(t, j.Complete("results/J1-output.png"))
	assert.Equal(t, StatusCompleted, j.Status)
	assert.Equal(t, "results/J1-output.png", j.OutputPath)
	assert.Empty(t, j.Error)
	require.NoError(t, j.Validate())

	err := j.Fail("late failure")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, StatusCompleted, j.Status)
	assert.Empty(t, j.Error)
}

func TestJobLifecycle_Failed(t *testing.T) {
	j := Job{ID: "J2", Status: StatusPending, InputPath: "/in/b.png"}
	require.NoError(t, j.Start())
	require.NoError(t, j.Fail("decode error"))
	assert.Equal(t, StatusFailed, j.Status)
	assert.Equal(t, "decode error", j.Error)
	assert.Empty(t, j.OutputPath)
	require.NoError(t, j.Validate())

	assert.ErrorIs(t, j.Start(), ErrInvalidTransition)
}

func TestJob_CannotSkipProcessing(t *testing.T) {
	j := Job{ID: "J3", Status: StatusPending, InputPath: "/in/c.png"}
	assert.ErrorIs(t, j.Complete("out.png"), ErrInvalidTransition)
	assert.ErrorIs(t, j.Fail("boom"), ErrInvalidTransition)
	assert.Equal(t, StatusPending, j.Status)

	require.NoError(t, j.Start())
	assert.ErrorIs(t, j.Start(), ErrInvalidTransition)
}

func TestJob_FailWithoutReasonGetsDefault(t *testing.T) {
	j := Job{ID: "J4", Status: StatusProcessing, InputPath: "/in/d.png"}
	require.NoError(t, j.Fail(""))
	assert.NotEmpty(t, j.Error)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		job  Job
		ok   bool
	}{
		{"pending", Job{ID: "a", Status: StatusPending, InputPath: "x"}, true},
		{"missing id", Job{Status: StatusPending, InputPath: "x"}, false},
		{"missing input", Job{ID: "a", Status: StatusPending}, false},
		{"unknown status", Job{ID: "a", Status: "queued", InputPath: "x"}, false},
		{"pending with output", Job{ID: "a", Status: StatusPending, InputPath: "x", OutputPath: "y"}, false},
		{"processing with error", Job{ID: "a", Status: StatusProcessing, InputPath: "x", Error: "e"}, false},
		{"completed without output", Job{ID: "a", Status: StatusCompleted, InputPath: "x"}, false},
		{"completed with both", Job{ID: "a", Status: StatusCompleted, InputPath: "x", OutputPath: "y", Error: "e"}, false},
		{"failed without error", Job{ID: "a", Status: StatusFailed, InputPath: "x"}, false},
		{"failed ok", Job{ID: "a", Status: StatusFailed, InputPath: "x", Error: "e"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidJob)
			}
		})
	}
}

func TestJobJSON_OmitsUnsetOptionalFields(t *testing.T) {
	updated := time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC)
	j := Job{ID: "J1", Status: StatusProcessing, InputPath: "/in/a.png", UpdatedAt: updated}

	raw, err := json.Marshal(j)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, map[string]any{
		"id":         "J1",
		"status":     "processing",
		"input_path": "/in/a.png",
		"updated_at": "2024-03-01T12:00:00.0000005Z",
	}, fields)
}

func TestJobJSON_ReadsSecondPrecisionTimestamps(t *testing.T) {
	raw := []byte(`{"id":"J9","status":"completed","input_path":"uploads/J9.png","output_path":"results/J9-output.png","updated_at":"2024-03-01T12:00:00Z"}`)

	var j Job
	require.NoError(t, json.Unmarshal(raw, &j))
	assert.Equal(t, StatusCompleted, j.Status)
	assert.Equal(t, "results/J9-output.png", j.OutputPath)
	assert.True(t, j.CreatedAt.IsZero())
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), j.UpdatedAt)
}

func TestJobJSON_RejectsBadTimestamp(t *testing.T) {
	var j Job
	err := json.Unmarshal([]byte(`{"id":"J","status":"pending","input_path":"x","updated_at":"yesterday"}`), &j)
	assert.Error(t, err)
}
