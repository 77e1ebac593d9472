package models

type WorkflowKind string

const (
	LinearWorkflowKind WorkflowKind = "linear"
	GraphWorkflowKind  WorkflowKind = "graph"
)

// ErrorPolicy names how a workflow reacts to a failing step or node.
type ErrorPolicy string

const (
	// FailFastPolicy stops at the first step error.
	FailFastPolicy ErrorPolicy = "fail-fast"
	// CaptureErrorsPolicy records collaborator errors into the run's error trail
	// and lets routing decide whether to continue.
	CaptureErrorsPolicy ErrorPolicy = "capture-errors"
)

// WorkflowInfo describes a registered workflow or graph.
type WorkflowInfo struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Kind        WorkflowKind `json:"kind"`
	Policy      ErrorPolicy  `json:"policy"`
	StepCount   int          `json:"step_count"`
	Steps       []string     `json:"steps"`
	Edges       []Edge       `json:"edges,omitempty"`
}

// Result is the outcome of one synchronous workflow execution.
type Result struct {
	Status  JobStatus `json:"status"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
	Err     error     `json:"-"`
}

func (r Result) Succeeded() bool {
	return r.Status == CompletedJobStatus
}

func CompletedResult(message string, data any) Result {
	return Result{Status: CompletedJobStatus, Message: message, Data: data}
}

func FailedResult(err error) Result {
	return Result{Status: FailedJobStatus, Message: err.Error(), Err: err}
}
