package service

import (
	"context"

	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/nadalpiantini/omnidrive/pkg/workflow"
	"github.com/pkg/errors"
)

// Runner is a registered workflow: a linear sequence or a graph, plus the
// function that builds its initial state from caller parameters.
type Runner interface {
	Info() models.WorkflowInfo
	Run(ctx context.Context, params models.Params, opts ...workflow.RunOption) models.Result
}

type linearRunner[C any] struct {
	wf   *workflow.Workflow[C]
	init func(models.Params) (*C, error)
}

// Linear registers a fail-fast step sequence. init may be nil, in which case
// every run starts from the zero value of C.
func Linear[C any](wf *workflow.Workflow[C], init func(models.Params) (*C, error)) Runner {
	return linearRunner[C]{wf: wf, init: init}
}

func (r linearRunner[C]) Info() models.WorkflowInfo {
	return r.wf.Info()
}

func (r linearRunner[C]) Run(ctx context.Context, params models.Params, opts ...workflow.RunOption) models.Result {
	c := new(C)
	if r.init != nil {
		var err error
		if c, err = r.init(params); err != nil {
			return models.FailedResult(errors.Wrap(err, "invalid parameters"))
		}
	}
	return r.wf.Execute(ctx, c, opts...)
}

type graphRunner[S any] struct {
	g    *workflow.Graph[S]
	init func(models.Params) (*S, error)
}

// Graph registers a conditional graph whose nodes record collaborator
// errors instead of failing.
func Graph[S any](g *workflow.Graph[S], init func(models.Params) (*S, error)) Runner {
	return graphRunner[S]{g: g, init: init}
}

func (r graphRunner[S]) Info() models.WorkflowInfo {
	return r.g.Info()
}

func (r graphRunner[S]) Run(ctx context.Context, params models.Params, opts ...workflow.RunOption) models.Result {
	s := new(S)
	if r.init != nil {
		var err error
		if s, err = r.init(params); err != nil {
			return models.FailedResult(errors.Wrap(err, "invalid parameters"))
		}
	}
	return r.g.Execute(ctx, s, opts...)
}
