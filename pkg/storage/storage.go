package storage

import (
	"context"
	"fmt"

	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/pkg/errors"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrAlreadyExists     = errors.New("job already exists")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// JobFilter narrows ListJobs. Zero values match everything.
type JobFilter struct {
	Status   models.JobStatus
	Workflow string
	Limit    int
}

func (f JobFilter) Matches(j models.Job) bool {
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.Workflow != "" && j.Workflow != f.Workflow {
		return false
	}
	return true
}

// JobStore persists job records. Implementations are safe for concurrent
// use; UpdateJob rejects transitions out of a terminal state.
type JobStore interface {
	CreateJob(ctx context.Context, job models.Job) error
	GetJob(ctx context.Context, id string) (models.Job, error)
	UpdateJob(ctx context.Context, job models.Job) error
	// ListJobs returns jobs newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]models.Job, error)
	Close() error
}

// CheckTransition validates replacing prev with next.
func CheckTransition(prev, next models.Job) error {
	if !prev.Status.CanTransition(next.Status) {
		return errors.Wrap(ErrInvalidTransition, fmt.Sprintf("job %s: %s -> %s", prev.ID, prev.Status, next.Status))
	}
	return nil
}
