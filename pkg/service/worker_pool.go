package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/nadalpiantini/omnidrive/pkg/workflow"
	"github.com/pkg/errors"
)

const (
	// default job timeout is 30m
	DefaultJobTimeout = 30 * time.Minute
	defaultQueueSize  = 64
)

var ErrPoolStopped = errors.New("worker pool stopped")

// JobFunc is the body of an asynchronous job. observe reports step progress.
type JobFunc func(ctx context.Context, observe workflow.StepObserver) models.Result

type queuedJob struct {
	id  string
	run JobFunc
}

// WorkerPool runs queued jobs on a fixed set of goroutines. Runs are
// independent; each one executes its steps sequentially on one worker.
type WorkerPool struct {
	ctx      context.Context
	recorder *jobRecorder
	logger   Logger
	timeout  time.Duration
	queue    chan queuedJob
	wg       sync.WaitGroup

	mu      sync.Mutex
	running map[string]context.CancelFunc

	// stateMu guards stopped and the queue close against concurrent sends.
	stateMu sync.RWMutex
	stopped bool
}

func newWorkerPool(ctx context.Context, recorder *jobRecorder, logger Logger, timeout time.Duration, queueSize int) *WorkerPool {
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &WorkerPool{
		ctx:      ctx,
		recorder: recorder,
		logger:   logger,
		timeout:  timeout,
		queue:    make(chan queuedJob, queueSize),
		running:  make(map[string]context.CancelFunc),
	}
}

// Start begins the worker pool with the specified number of workers
func (wp *WorkerPool) Start(workers int) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	for i := 0; i < workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

// Stop stops accepting jobs and waits for queued ones to drain.
func (wp *WorkerPool) Stop() {
	wp.stateMu.Lock()
	if wp.stopped {
		wp.stateMu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.queue)
	wp.stateMu.Unlock()
	wp.wg.Wait()
}

func (wp *WorkerPool) enqueue(ctx context.Context, job queuedJob) error {
	wp.stateMu.RLock()
	defer wp.stateMu.RUnlock()
	if wp.stopped {
		return ErrPoolStopped
	}
	select {
	case wp.queue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-wp.ctx.Done():
		return wp.ctx.Err()
	}
}

// Cancel stops a running job. It reports false when the job is not running.
func (wp *WorkerPool) Cancel(id string) bool {
	wp.mu.Lock()
	cancel, ok := wp.running[id]
	wp.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for job := range wp.queue {
		if err := wp.ctx.Err(); err != nil {
			wp.logger.Infof("Skipping job %s: %v", job.id, err)
			wp.recorder.finish(wp.ctx, job.id, models.FailedResult(errors.Wrap(err, "worker pool shut down before the job started")))
			continue
		}
		wp.execute(job)
	}
}

func (wp *WorkerPool) execute(job queuedJob) {
	if _, err := wp.recorder.start(wp.ctx, job.id); err != nil {
		// PENDING may go straight to FAILED, so the job still ends terminal.
		if !wp.recorder.finish(wp.ctx, job.id, models.FailedResult(errors.Wrap(err, "job could not be started"))) {
			wp.logger.Errorf("Job %s could not be started or failed: %v", job.id, err)
		}
		return
	}

	runCtx, cancel := context.WithTimeout(wp.ctx, wp.timeout)
	defer cancel()
	wp.mu.Lock()
	wp.running[job.id] = cancel
	wp.mu.Unlock()

	observe := func(index, total int, step string) {
		wp.recorder.progress(runCtx, job.id, index, total, step)
	}

	resultCh := make(chan models.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				wp.logger.Errorf("Job %s panicked: %v", job.id, r)
				resultCh <- models.FailedResult(fmt.Errorf("job panicked: %v", r))
			}
		}()
		resultCh <- job.run(runCtx, observe)
	}()

	result := awaitResult(runCtx, resultCh)
	if err := runCtx.Err(); err != nil && !result.Succeeded() {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Wrapf(err, "job exceeded timeout of %s", wp.timeout)
		} else {
			err = errors.Wrap(err, "job cancelled")
		}
		wp.logger.Infof("Job %s stopped: %v", job.id, err)
		result = models.FailedResult(err)
	}

	wp.mu.Lock()
	delete(wp.running, job.id)
	wp.mu.Unlock()
	wp.recorder.finish(wp.ctx, job.id, result)
}

// awaitResult returns the run's result, or the zero Result when ctx ends
// first. A result that is ready when ctx ends still wins.
func awaitResult(ctx context.Context, resultCh <-chan models.Result) models.Result {
	select {
	case result := <-resultCh:
		return result
	case <-ctx.Done():
		select {
		case result := <-resultCh:
			return result
		default:
			return models.Result{}
		}
	}
}
