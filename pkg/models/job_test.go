package models_test

import (
	"testing"

	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestJobStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to models.JobStatus
		allowed  bool
	}{
		{models.PendingJobStatus, models.RunningJobStatus, true},
		{models.PendingJobStatus, models.FailedJobStatus, true},
		{models.PendingJobStatus, models.CompletedJobStatus, false},
		{models.RunningJobStatus, models.RunningJobStatus, true},
		{models.RunningJobStatus, models.CompletedJobStatus, true},
		{models.RunningJobStatus, models.FailedJobStatus, true},
		{models.RunningJobStatus, models.PendingJobStatus, false},
		{models.CompletedJobStatus, models.FailedJobStatus, false},
		{models.CompletedJobStatus, models.RunningJobStatus, false},
		{models.FailedJobStatus, models.CompletedJobStatus, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestParams(t *testing.T) {
	p := models.Params{"limit": float64(25), "dry_run": "true", "source": "google", "empty": ""}

	assert.Equal(t, 25, p.Int("limit", 100))
	assert.Equal(t, 100, p.Int("missing", 100))
	assert.True(t, p.Bool("dry_run", false))
	assert.Equal(t, "google", p.String("source", ""))
	assert.Equal(t, "folderfort", p.String("empty", "folderfort"))

	t.Run("ScanValue", func(t *testing.T) {
		raw, err := p.Value()
		assert.NoError(t, err)
		var out models.Params
		assert.NoError(t, out.Scan(raw))
		assert.Equal(t, "google", out.String("source", ""))
	})

	t.Run("ToParams", func(t *testing.T) {
		type synced struct {
			FilesSynced int `json:"files_synced"`
		}
		assert.Equal(t, float64(3), models.ToParams(synced{3})["files_synced"])
		assert.Equal(t, "ok", models.ToParams("ok")["value"])
		assert.Nil(t, models.ToParams(nil))
	})
}
