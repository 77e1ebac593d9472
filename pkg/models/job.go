package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type JobStatus string

const (
	PendingJobStatus   JobStatus = "PENDING"
	RunningJobStatus   JobStatus = "RUNNING"
	CompletedJobStatus JobStatus = "COMPLETED"
	FailedJobStatus    JobStatus = "FAILED"
)

func (s JobStatus) Terminal() bool {
	return s == CompletedJobStatus || s == FailedJobStatus
}

// CanTransition reports whether a job may move from s to next.
// Re-entering the same non-terminal state is allowed so progress updates
// can be written while running.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case PendingJobStatus:
		return next == PendingJobStatus || next == RunningJobStatus || next == FailedJobStatus
	case RunningJobStatus:
		return next == RunningJobStatus || next == CompletedJobStatus || next == FailedJobStatus
	default:
		return false
	}
}

type JobKind string

const (
	WorkflowJobKind JobKind = "workflow"
	SyncJobKind     JobKind = "sync"
	SearchJobKind   JobKind = "search"
)

// ErrorKind classifies a failure for users: re-authenticate, fix the
// backend-side problem, or report a bug.
type ErrorKind string

const (
	NoErrorKind             ErrorKind = ""
	AuthenticationErrorKind ErrorKind = "authentication"
	ServiceErrorKind        ErrorKind = "service"
	UnexpectedErrorKind     ErrorKind = "unexpected"
)

// Job is one tracked asynchronous execution.
type Job struct {
	ID          string     `json:"job_id" db:"id"`
	Kind        JobKind    `json:"kind" db:"kind"`
	Workflow    string     `json:"workflow_name" db:"workflow"`
	Status      JobStatus  `json:"status" db:"status"`
	CurrentStep string     `json:"current_step,omitempty" db:"current_step"`
	StepIndex   int        `json:"step_index" db:"step_index"`
	TotalSteps  int        `json:"total_steps" db:"total_steps"`
	Progress    float64    `json:"progress" db:"progress"`
	Params      Params     `json:"params,omitempty" db:"params"`
	Result      Params     `json:"result,omitempty" db:"result"`
	Error       string     `json:"error,omitempty" db:"error"`
	ErrorKind   ErrorKind  `json:"error_kind,omitempty" db:"error_kind"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Params carries loosely typed job input and output. It is stored as JSONB.
type Params map[string]any

func (p Params) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

func (p *Params) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = Params{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Params", src)
	}
	out := Params{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*p = out
	return nil
}

func (p Params) String(key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return def
		}
		return s
	}
	return fmt.Sprint(v)
}

func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (p Params) Bool(key string, def bool) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// ToParams converts arbitrary result data into Params through its JSON form.
// Non-object values end up under "value".
func ToParams(data any) Params {
	if data == nil {
		return nil
	}
	if p, ok := data.(Params); ok {
		return p
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Params{"value": fmt.Sprint(data)}
	}
	out := Params{}
	if err := json.Unmarshal(raw, &out); err != nil {
		var v any
		_ = json.Unmarshal(raw, &v)
		return Params{"value": v}
	}
	return out
}
