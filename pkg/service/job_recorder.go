package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/nadalpiantini/omnidrive/pkg/storage"
	"github.com/pkg/errors"
)

// DefaultStoreRetry bounds how long a lifecycle transition is retried
// against a failing store.
const DefaultStoreRetry = 10 * time.Second

// JobListener is told about every persisted job change.
type JobListener interface {
	OnJobUpdate(job models.Job)
}

// jobRecorder applies lifecycle changes to the store and fans them out to
// listeners. Each job has a single writer, the worker running it.
type jobRecorder struct {
	store      storage.JobStore
	logger     Logger
	notify     func(models.Job)
	retryLimit time.Duration
}

func (r *jobRecorder) create(ctx context.Context, job models.Job) error {
	if err := r.store.CreateJob(ctx, job); err != nil {
		r.logger.Errorf("Failed to create job %s: %v", job.ID, err)
		return err
	}
	r.notify(job)
	return nil
}

// apply makes one read-modify-write attempt. A missing job or a rejected
// transition is permanent; anything else may be retried.
func (r *jobRecorder) apply(ctx context.Context, id string, mutate func(*models.Job)) (models.Job, error) {
	job, err := r.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Job{}, backoff.Permanent(err)
		}
		return models.Job{}, err
	}
	mutate(&job)
	if err := r.store.UpdateJob(ctx, job); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) || errors.Is(err, storage.ErrNotFound) {
			return models.Job{}, backoff.Permanent(err)
		}
		return models.Job{}, err
	}
	return job, nil
}

func (r *jobRecorder) policy() backoff.BackOff {
	limit := r.retryLimit
	if limit <= 0 {
		limit = DefaultStoreRetry
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = limit
	return b
}

// update applies a lifecycle transition, retrying transient store errors.
// It ignores cancellation so a cancelled job still records its outcome.
func (r *jobRecorder) update(ctx context.Context, id string, mutate func(*models.Job)) (models.Job, error) {
	ctx = context.WithoutCancel(ctx)
	op := func() (models.Job, error) { return r.apply(ctx, id, mutate) }
	notify := func(err error, wait time.Duration) {
		r.logger.Errorf("Failed to update job %s, retrying in %s: %v", id, wait, err)
	}
	job, err := backoff.RetryNotifyWithData(op, backoff.WithContext(r.policy(), ctx), notify)
	if err != nil {
		r.logger.Errorf("Giving up on updating job %s: %v", id, err)
		return models.Job{}, err
	}
	r.notify(job)
	return job, nil
}

func (r *jobRecorder) start(ctx context.Context, id string) (models.Job, error) {
	return r.update(ctx, id, func(j *models.Job) {
		now := time.Now().UTC()
		j.Status = models.RunningJobStatus
		j.StartedAt = &now
	})
}

// progress is best effort and never retried; the next step or the final
// transition overwrites it anyway.
func (r *jobRecorder) progress(ctx context.Context, id string, index, total int, step string) {
	job, err := r.apply(context.WithoutCancel(ctx), id, func(j *models.Job) {
		j.CurrentStep = step
		j.StepIndex = index
		if total > 0 {
			j.TotalSteps = total
			j.Progress = float64(index) / float64(total)
		}
	})
	if err != nil {
		r.logger.Errorf("Failed to record progress of job %s: %v", id, err)
		return
	}
	r.notify(job)
}

// finish moves the job to its terminal state. It reports false when the
// store never accepted the write.
func (r *jobRecorder) finish(ctx context.Context, id string, result models.Result) bool {
	job, err := r.update(ctx, id, func(j *models.Job) {
		now := time.Now().UTC()
		j.CompletedAt = &now
		j.Result = models.ToParams(result.Data)
		if result.Succeeded() {
			j.Status = models.CompletedJobStatus
			j.Progress = 1
			j.StepIndex = j.TotalSteps
			return
		}
		j.Status = models.FailedJobStatus
		j.Error = result.Message
		j.ErrorKind = cloud.Classify(result.Err)
		if result.Err == nil {
			j.ErrorKind = models.UnexpectedErrorKind
		}
	})
	if err != nil {
		return false
	}
	if job.Status == models.CompletedJobStatus {
		r.logger.Infof("Job %s (%s) completed", job.ID, job.Workflow)
	} else {
		r.logger.Errorf("Job %s (%s) failed: %s", job.ID, job.Workflow, job.Error)
	}
	return true
}
