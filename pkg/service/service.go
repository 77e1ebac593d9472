package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/nadalpiantini/omnidrive/pkg/storage"
	"github.com/nadalpiantini/omnidrive/pkg/workflow"
	"github.com/pkg/errors"
)

// Logger defines the logging interface for Engine
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// WorkflowNotFoundError is reported, as a failed Result or an error, when a
// name is not registered.
type WorkflowNotFoundError struct {
	Name string
}

func (e *WorkflowNotFoundError) Error() string {
	return fmt.Sprintf("workflow '%s' not found", e.Name)
}

func IsWorkflowNotFound(err error) bool {
	var nf *WorkflowNotFoundError
	return errors.As(err, &nf)
}

type engineConfig struct {
	workers    int
	timeout    time.Duration
	queueSize  int
	storeRetry time.Duration
	listeners  []JobListener
}

type Option func(*engineConfig)

// WithWorkers sets the number of concurrent job runs. Zero means NumCPU.
func WithWorkers(n int) Option {
	return func(c *engineConfig) { c.workers = n }
}

func WithJobTimeout(d time.Duration) Option {
	return func(c *engineConfig) { c.timeout = d }
}

func WithQueueSize(n int) Option {
	return func(c *engineConfig) { c.queueSize = n }
}

// WithStoreRetry bounds how long job state transitions are retried when the
// store fails. Defaults to DefaultStoreRetry.
func WithStoreRetry(d time.Duration) Option {
	return func(c *engineConfig) { c.storeRetry = d }
}

func WithListener(l JobListener) Option {
	return func(c *engineConfig) { c.listeners = append(c.listeners, l) }
}

// Engine holds the workflow registry and drives synchronous executions and
// asynchronous jobs.
type Engine struct {
	store    storage.JobStore
	logger   Logger
	recorder *jobRecorder
	wp       *WorkerPool

	mu        sync.RWMutex
	runners   map[string]Runner
	listeners []JobListener
}

// NewEngine starts the job workers. Jobs run under ctx; cancelling it fails
// whatever is still running.
func NewEngine(ctx context.Context, store storage.JobStore, logger Logger, opts ...Option) *Engine {
	cfg := engineConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	e := &Engine{
		store:     store,
		logger:    logger,
		runners:   make(map[string]Runner),
		listeners: cfg.listeners,
	}
	e.recorder = &jobRecorder{store: store, logger: logger, notify: e.notify, retryLimit: cfg.storeRetry}
	e.wp = newWorkerPool(ctx, e.recorder, logger, cfg.timeout, cfg.queueSize)
	e.wp.Start(cfg.workers)
	return e
}

func (e *Engine) AddListener(l JobListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

func (e *Engine) notify(job models.Job) {
	e.mu.RLock()
	listeners := append([]JobListener(nil), e.listeners...)
	e.mu.RUnlock()
	for _, l := range listeners {
		l.OnJobUpdate(job)
	}
}

// Register adds a workflow under its own name.
func (e *Engine) Register(r Runner) error {
	info := r.Info()
	if info.Name == "" {
		return errors.New("empty workflow name")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.runners[info.Name]; exists {
		return fmt.Errorf("workflow '%s' already registered", info.Name)
	}
	e.runners[info.Name] = r
	e.logger.Infof("Registered %s workflow '%s' with %d steps", info.Kind, info.Name, info.StepCount)
	return nil
}

// ListWorkflows returns the catalogue sorted by name.
func (e *Engine) ListWorkflows() []models.WorkflowInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	infos := make([]models.WorkflowInfo, 0, len(e.runners))
	for _, r := range e.runners {
		infos = append(infos, r.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (e *Engine) lookup(name string) (Runner, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runners[name]
	if !ok {
		return nil, &WorkflowNotFoundError{Name: name}
	}
	return r, nil
}

func (e *Engine) GetWorkflow(name string) (models.WorkflowInfo, error) {
	r, err := e.lookup(name)
	if err != nil {
		return models.WorkflowInfo{}, err
	}
	return r.Info(), nil
}

// ExecuteWorkflow runs name to completion on the caller's goroutine. An
// unknown name yields a failed Result.
func (e *Engine) ExecuteWorkflow(ctx context.Context, name string, params models.Params, opts ...workflow.RunOption) models.Result {
	r, err := e.lookup(name)
	if err != nil {
		e.logger.Errorf("Cannot execute workflow: %v", err)
		return models.FailedResult(err)
	}
	e.logger.Infof("Executing workflow '%s'", name)
	return r.Run(ctx, params, opts...)
}

// RunWorkflow queues name as a job and returns its id.
func (e *Engine) RunWorkflow(ctx context.Context, name string, params models.Params) (string, error) {
	r, err := e.lookup(name)
	if err != nil {
		return "", err
	}
	info := r.Info()
	return e.Submit(ctx, models.WorkflowJobKind, name, params, info.StepCount,
		func(ctx context.Context, observe workflow.StepObserver) models.Result {
			return r.Run(ctx, params, workflow.WithObserver(observe))
		})
}

// Submit queues an arbitrary job body. Sync and search requests that are
// not registered workflows use it directly.
func (e *Engine) Submit(ctx context.Context, kind models.JobKind, name string, params models.Params, totalSteps int, fn JobFunc) (string, error) {
	job := models.Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		Workflow:   name,
		Status:     models.PendingJobStatus,
		TotalSteps: totalSteps,
		Params:     params,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.recorder.create(ctx, job); err != nil {
		return "", errors.Wrap(err, "create job")
	}
	if err := e.wp.enqueue(ctx, queuedJob{id: job.ID, run: fn}); err != nil {
		e.recorder.finish(ctx, job.ID, models.FailedResult(errors.Wrap(err, "job not queued")))
		return "", err
	}
	e.logger.Infof("Queued %s job %s for '%s'", kind, job.ID, name)
	return job.ID, nil
}

func (e *Engine) GetJobStatus(ctx context.Context, id string) (models.Job, error) {
	return e.store.GetJob(ctx, id)
}

func (e *Engine) ListJobs(ctx context.Context, filter storage.JobFilter) ([]models.Job, error) {
	return e.store.ListJobs(ctx, filter)
}

// CancelJob stops a running job. The job ends as FAILED.
func (e *Engine) CancelJob(id string) bool {
	return e.wp.Cancel(id)
}

// Wait polls until the job reaches a terminal state or ctx is done.
func (e *Engine) Wait(ctx context.Context, id string, interval time.Duration) (models.Job, error) {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := e.store.GetJob(ctx, id)
		if err != nil {
			return models.Job{}, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close drains queued jobs and stops the workers.
func (e *Engine) Close() {
	e.wp.Stop()
}
