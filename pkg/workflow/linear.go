// Package workflow implements the two execution models: a linear step
// sequence that fails fast, and a graph of nodes with conditional routing
// that records collaborator errors as data.
package workflow

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/pkg/errors"
)

var ErrSealed = errors.New("workflow already started; it can no longer be changed")

// StepFunc mutates the shared context of one run.
type StepFunc[C any] func(ctx context.Context, c *C) error

type Step[C any] struct {
	Name string
	Run  StepFunc[C]
}

// StepObserver is told about each step or node before it runs. index is
// zero based.
type StepObserver func(index, total int, name string)

type runConfig struct {
	observer StepObserver
	trace    *Trace
}

type RunOption func(*runConfig)

func WithObserver(o StepObserver) RunOption {
	return func(c *runConfig) { c.observer = o }
}

// WithTrace collects execution events into t instead of a private trace.
func WithTrace(t *Trace) RunOption {
	return func(c *runConfig) { c.trace = t }
}

func newRunConfig(name string, logger Logger, opts []RunOption) runConfig {
	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.trace == nil {
		cfg.trace = NewTrace(name, logger)
	}
	if cfg.observer == nil {
		cfg.observer = func(int, int, string) {}
	}
	return cfg
}

// Workflow is a named, ordered list of steps over one context of type C.
// Steps run strictly in order and the first error stops the run.
type Workflow[C any] struct {
	name        string
	description string
	steps       []Step[C]
	logger      Logger
	sealed      atomic.Bool
	err         error
}

func New[C any](name, description string) *Workflow[C] {
	return &Workflow[C]{name: name, description: description, logger: nopLogger{}}
}

func (w *Workflow[C]) WithLogger(l Logger) *Workflow[C] {
	if l != nil {
		w.logger = l
	}
	return w
}

// AddStep appends a step. Once the workflow has executed it is sealed and
// AddStep only records ErrSealed.
func (w *Workflow[C]) AddStep(name string, fn StepFunc[C]) *Workflow[C] {
	if w.sealed.Load() {
		w.err = ErrSealed
		w.logger.Errorf("Cannot add step '%s' to workflow '%s': %v", name, w.name, ErrSealed)
		return w
	}
	w.steps = append(w.steps, Step[C]{Name: name, Run: fn})
	return w
}

// Err returns the first builder error, if any.
func (w *Workflow[C]) Err() error {
	return w.err
}

func (w *Workflow[C]) Name() string        { return w.name }
func (w *Workflow[C]) Description() string { return w.description }

func (w *Workflow[C]) Steps() []string {
	names := make([]string, len(w.steps))
	for i, s := range w.steps {
		names[i] = s.Name
	}
	return names
}

func (w *Workflow[C]) Info() models.WorkflowInfo {
	return models.WorkflowInfo{
		Name:        w.name,
		Description: w.description,
		Kind:        models.LinearWorkflowKind,
		Policy:      models.FailFastPolicy,
		StepCount:   len(w.steps),
		Steps:       w.Steps(),
	}
}

// Execute runs every step against c. On success Data holds the final
// context value; on failure the message names the failing step and no data
// is returned.
func (w *Workflow[C]) Execute(ctx context.Context, c *C, opts ...RunOption) models.Result {
	w.sealed.Store(true)
	cfg := newRunConfig(w.name, w.logger, opts)
	trace := cfg.trace
	if c == nil {
		c = new(C)
	}

	trace.Start("workflow '%s' with %d steps", w.name, len(w.steps))
	for i, step := range w.steps {
		if err := ctx.Err(); err != nil {
			err = errors.Wrapf(err, "workflow '%s' cancelled before step '%s'", w.name, step.Name)
			trace.Error(step.Name, err)
			trace.End("failed")
			return models.FailedResult(err)
		}
		cfg.observer(i, len(w.steps), step.Name)
		trace.Node(step.Name)
		if err := step.Run(ctx, c); err != nil {
			trace.Error(step.Name, err)
			trace.End("failed at step '%s'", step.Name)
			return models.Result{
				Status:  models.FailedJobStatus,
				Message: fmt.Sprintf("Step '%s' failed: %v", step.Name, err),
				Err:     err,
			}
		}
		trace.Success(step.Name)
	}
	trace.End("completed")
	return models.CompletedResult(fmt.Sprintf("Workflow '%s' completed successfully", w.name), *c)
}

// Context is the untyped context for workflows that share a plain map.
type Context map[string]any

// MapStep adapts a map based step, initialising the map on first use.
func MapStep(fn func(ctx context.Context, c Context) error) StepFunc[Context] {
	return func(ctx context.Context, c *Context) error {
		if *c == nil {
			*c = Context{}
		}
		return fn(ctx, *c)
	}
}
