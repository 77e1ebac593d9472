package models

import "time"

type TraceEventType string

const (
	StartTraceEvent   TraceEventType = "start"
	NodeTraceEvent    TraceEventType = "node"
	BranchTraceEvent  TraceEventType = "branch"
	SuccessTraceEvent TraceEventType = "success"
	ErrorTraceEvent   TraceEventType = "error"
	EndTraceEvent     TraceEventType = "end"
)

// TraceEvent is one entry of a workflow execution trace.
type TraceEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	ElapsedMs int64          `json:"elapsed_ms"` // since the start event
	Event     TraceEventType `json:"event"`
	Node      string         `json:"node,omitempty"`
	Message   string         `json:"message"`
}
