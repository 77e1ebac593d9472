package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/nadalpiantini/omnidrive/pkg/models"
)

// Logger defines the logging interface used by workflow executions.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// Trace records the events of one execution with elapsed time since start.
type Trace struct {
	workflow string
	logger   Logger
	now      func() time.Time
	started  time.Time

	mu     sync.Mutex
	events []models.TraceEvent
}

func NewTrace(workflow string, logger Logger) *Trace {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Trace{workflow: workflow, logger: logger, now: time.Now}
}

func (t *Trace) record(event models.TraceEventType, node, format string, args ...interface{}) {
	now := t.now()
	t.mu.Lock()
	if t.started.IsZero() {
		t.started = now
	}
	e := models.TraceEvent{
		Timestamp: now,
		ElapsedMs: now.Sub(t.started).Milliseconds(),
		Event:     event,
		Node:      node,
		Message:   fmt.Sprintf(format, args...),
	}
	t.events = append(t.events, e)
	t.mu.Unlock()

	if event == models.ErrorTraceEvent {
		t.logger.Errorf("[%s +%dms] %s %s: %s", t.workflow, e.ElapsedMs, event, node, e.Message)
		return
	}
	t.logger.Infof("[%s +%dms] %s %s: %s", t.workflow, e.ElapsedMs, event, node, e.Message)
}

func (t *Trace) Start(format string, args ...interface{}) {
	t.record(models.StartTraceEvent, "", format, args...)
}

func (t *Trace) Node(node string) {
	t.record(models.NodeTraceEvent, node, "entering")
}

func (t *Trace) Branch(from, key, to string) {
	t.record(models.BranchTraceEvent, from, "decision %q -> %s", key, to)
}

func (t *Trace) Success(node string) {
	t.record(models.SuccessTraceEvent, node, "done")
}

func (t *Trace) Error(node string, err error) {
	t.record(models.ErrorTraceEvent, node, "%v", err)
}

func (t *Trace) End(format string, args ...interface{}) {
	t.record(models.EndTraceEvent, "", format, args...)
}

// Events returns a copy of the recorded events.
func (t *Trace) Events() []models.TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.TraceEvent, len(t.events))
	copy(out, t.events)
	return out
}
