package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arjunmehta/hlsvod/pkg/models"
)

func TestValidJobTransition(t *testing.T) {
	cases := []struct {
		from, to models.JobStatus
		want     bool
	}{
		{models.JobStatusQueued, models.JobStatusProcessing, true},
		{models.JobStatusProcessing, models.JobStatusCompleted, true},
		{models.JobStatusProcessing, models.JobStatusRetrying, true},
		{models.JobStatusRetrying, models.JobStatusQueued, true},
		{models.JobStatusCompleted, models.JobStatusProcessing, false},
		{models.JobStatusFailed, models.JobStatusProcessing, false},
		{models.JobStatusQueued, models.JobStatusCompleted, false},
		{models.JobStatusQueued, models.JobStatusQueued, true},
	}

	for _, c := range cases {
		got := validJobTransition(c.from, c.to)
		assert.Equalf(t, c.want, got, "%s -> %s", c.from, c.to)
	}
}

// TestRepository_Integration is a structure for integration tests that would
// run against a real Postgres instance.
func TestRepository_Integration(t *testing.T) {
	t.Skip("skipping integration test - requires database connection")

	ctx := context.Background()
	_ = ctx

	// var repo *Repository = NewRepository(testDB)
	// video := &models.Video{Title: "sample", Status: models.VideoStatusPending}
	// job := &models.TranscodingJob{JobType: models.JobTypeHLSTranscode, Status: models.JobStatusQueued}
	// require.NoError(t, repo.CreateVideoAndJob(ctx, video, job))
}
