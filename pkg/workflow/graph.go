package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/pkg/errors"
)

// End is the terminal sink of every graph.
const End = "__end__"

// Emit is a node's contribution to the run's accumulating fields.
type Emit struct {
	Logs   []string
	Errors []string
}

func Logf(format string, args ...interface{}) Emit {
	return Emit{Logs: []string{fmt.Sprintf(format, args...)}}
}

func (e Emit) Logf(format string, args ...interface{}) Emit {
	e.Logs = append(e.Logs, fmt.Sprintf(format, args...))
	return e
}

func (e Emit) Errorf(format string, args ...interface{}) Emit {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
	return e
}

// Trail holds the accumulating fields of a run. Entries are only ever
// appended, in node execution order.
type Trail struct {
	Logs   []string `json:"logs"`
	Errors []string `json:"errors"`
}

func (t *Trail) append(e Emit) {
	t.Logs = append(t.Logs, e.Logs...)
	t.Errors = append(t.Errors, e.Errors...)
}

// NodeFunc transforms the overwrite fields of S. Collaborator failures go
// into the returned Emit; a non-nil error is fatal and halts the graph.
type NodeFunc[S any] func(ctx context.Context, s *S) (Emit, error)

// Decision picks the key of the next node from a conditional edge's target
// set. It must be deterministic.
type Decision[S any] func(s *S, trail Trail) string

type transition[S any] struct {
	to      string
	decide  Decision[S]
	targets map[string]string
}

// Outcome is the result data of a completed graph run.
type Outcome[S any] struct {
	State  S        `json:"state"`
	Logs   []string `json:"logs"`
	Errors []string `json:"errors"`
}

// Graph is a set of nodes over state S joined by static and conditional
// edges, with one entry node and End as the sink.
type Graph[S any] struct {
	name        string
	description string
	nodes       map[string]NodeFunc[S]
	order       []string
	entry       string
	edges       map[string]transition[S]
	logger      Logger
	buildErrs   []string
	err         error

	sealed      atomic.Bool
	compileOnce sync.Once
	compileErr  error
}

func NewGraph[S any](name, description string) *Graph[S] {
	return &Graph[S]{
		name:        name,
		description: description,
		nodes:       make(map[string]NodeFunc[S]),
		edges:       make(map[string]transition[S]),
		logger:      nopLogger{},
	}
}

func (g *Graph[S]) WithLogger(l Logger) *Graph[S] {
	if l != nil {
		g.logger = l
	}
	return g
}

func (g *Graph[S]) Name() string        { return g.name }
func (g *Graph[S]) Description() string { return g.description }

// Err returns ErrSealed when the graph was changed after it compiled.
func (g *Graph[S]) Err() error {
	return g.err
}

// rejectSealed reports whether the graph has compiled, recording ErrSealed
// for the attempted change.
func (g *Graph[S]) rejectSealed(change string) bool {
	if !g.sealed.Load() {
		return false
	}
	g.err = ErrSealed
	g.logger.Errorf("Cannot %s in graph '%s': %v", change, g.name, ErrSealed)
	return true
}

// AddNode registers a node. After Compile or Run the graph is sealed and
// every builder method only records ErrSealed.
func (g *Graph[S]) AddNode(name string, fn NodeFunc[S]) *Graph[S] {
	if g.rejectSealed(fmt.Sprintf("add node '%s'", name)) {
		return g
	}
	switch {
	case name == "" || name == End:
		g.buildErrs = append(g.buildErrs, fmt.Sprintf("invalid node name %q", name))
	case g.nodes[name] != nil:
		g.buildErrs = append(g.buildErrs, fmt.Sprintf("node '%s' added twice", name))
	case fn == nil:
		g.buildErrs = append(g.buildErrs, fmt.Sprintf("node '%s' has no function", name))
	default:
		g.nodes[name] = fn
		g.order = append(g.order, name)
	}
	return g
}

func (g *Graph[S]) SetEntry(name string) *Graph[S] {
	if g.rejectSealed(fmt.Sprintf("set entry '%s'", name)) {
		return g
	}
	g.entry = name
	return g
}

func (g *Graph[S]) setTransition(from string, t transition[S]) {
	if g.rejectSealed(fmt.Sprintf("add edge from '%s'", from)) {
		return
	}
	if _, exists := g.edges[from]; exists {
		g.buildErrs = append(g.buildErrs, fmt.Sprintf("node '%s' already has an outgoing edge", from))
		return
	}
	g.edges[from] = t
}

func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	g.setTransition(from, transition[S]{to: to})
	return g
}

// AddConditionalEdge routes from a node through decide, whose result must be
// a key of targets.
func (g *Graph[S]) AddConditionalEdge(from string, decide Decision[S], targets map[string]string) *Graph[S] {
	if g.rejectSealed(fmt.Sprintf("add edge from '%s'", from)) {
		return g
	}
	if decide == nil || len(targets) == 0 {
		g.buildErrs = append(g.buildErrs, fmt.Sprintf("conditional edge from '%s' needs a decision and targets", from))
		return g
	}
	copied := make(map[string]string, len(targets))
	for k, v := range targets {
		copied[k] = v
	}
	g.setTransition(from, transition[S]{decide: decide, targets: copied})
	return g
}

// Compile validates the graph: known entry, one transition per node, every
// target a node or End, and no cycle along any path. The first call seals
// the graph, so its result holds for every later call.
func (g *Graph[S]) Compile() error {
	g.compileOnce.Do(func() {
		g.sealed.Store(true)
		g.compileErr = g.validate()
	})
	return g.compileErr
}

func (g *Graph[S]) validate() error {
	errs := append([]string(nil), g.buildErrs...)
	if g.entry == "" {
		errs = append(errs, "no entry node set")
	} else if _, ok := g.nodes[g.entry]; !ok {
		errs = append(errs, fmt.Sprintf("entry node '%s' does not exist", g.entry))
	}

	successors := make(map[string][]string)
	for from, t := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Sprintf("edge from unknown node '%s'", from))
			continue
		}
		for _, to := range t.destinations() {
			if to == End {
				continue
			}
			if _, ok := g.nodes[to]; !ok {
				errs = append(errs, fmt.Sprintf("edge from '%s' targets unknown node '%s'", from, to))
				continue
			}
			successors[from] = append(successors[from], to)
		}
	}
	for _, name := range g.order {
		if _, ok := g.edges[name]; !ok {
			errs = append(errs, fmt.Sprintf("node '%s' has no outgoing edge", name))
		}
	}
	if len(errs) == 0 {
		if _, err := topologicalOrder(g.order, successors); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid graph '%s': %s", g.name, strings.Join(errs, "; "))
	}
	return nil
}

func (t transition[S]) destinations() []string {
	if t.decide == nil {
		return []string{t.to}
	}
	out := make([]string, 0, len(t.targets))
	for _, to := range t.targets {
		out = append(out, to)
	}
	sort.Strings(out)
	return out
}

func (g *Graph[S]) Edges() []models.Edge {
	var edges []models.Edge
	for _, from := range g.order {
		t, ok := g.edges[from]
		if !ok {
			continue
		}
		if t.decide == nil {
			edges = append(edges, models.Edge{From: from, To: t.to})
			continue
		}
		keys := make([]string, 0, len(t.targets))
		for k := range t.targets {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			edges = append(edges, models.Edge{From: from, To: t.targets[k], Conditional: true, Key: k})
		}
	}
	return edges
}

func (g *Graph[S]) Info() models.WorkflowInfo {
	return models.WorkflowInfo{
		Name:        g.name,
		Description: g.description,
		Kind:        models.GraphWorkflowKind,
		Policy:      models.CaptureErrorsPolicy,
		StepCount:   len(g.order),
		Steps:       append([]string(nil), g.order...),
		Edges:       g.Edges(),
	}
}

// Run drives s from the entry node to End. The returned trail is complete
// up to the point of failure when err is non-nil.
func (g *Graph[S]) Run(ctx context.Context, s *S, opts ...RunOption) (Trail, error) {
	var trail Trail
	if err := g.Compile(); err != nil {
		return trail, err
	}
	cfg := newRunConfig(g.name, g.logger, opts)
	trace := cfg.trace

	trace.Start("graph '%s' from '%s'", g.name, g.entry)
	current := g.entry
	for steps := 0; current != End; steps++ {
		if steps >= len(g.order) {
			err := fmt.Errorf("graph '%s' exceeded %d steps", g.name, len(g.order))
			trace.Error(current, err)
			return trail, err
		}
		if err := ctx.Err(); err != nil {
			err = errors.Wrapf(err, "graph '%s' cancelled before node '%s'", g.name, current)
			trace.Error(current, err)
			trace.End("failed")
			return trail, err
		}

		cfg.observer(steps, len(g.order), current)
		trace.Node(current)
		emit, err := g.nodes[current](ctx, s)
		trail.append(emit)
		for _, msg := range emit.Errors {
			trace.Error(current, errors.New(msg))
		}
		if err != nil {
			err = errors.Wrapf(err, "node '%s' failed", current)
			trace.Error(current, err)
			trace.End("failed at node '%s'", current)
			return trail, err
		}
		trace.Success(current)

		t := g.edges[current]
		if t.decide == nil {
			current = t.to
			continue
		}
		key := t.decide(s, trail)
		next, ok := t.targets[key]
		if !ok {
			err := fmt.Errorf("node '%s' decided unknown branch %q", current, key)
			trace.Error(current, err)
			trace.End("failed")
			return trail, err
		}
		trace.Branch(current, key, next)
		current = next
	}
	trace.End("completed with %d logs and %d errors", len(trail.Logs), len(trail.Errors))
	return trail, nil
}

// Execute runs the graph and wraps the outcome in a Result. Recorded node
// errors do not fail the result; only fatal node errors do.
func (g *Graph[S]) Execute(ctx context.Context, s *S, opts ...RunOption) models.Result {
	if s == nil {
		s = new(S)
	}
	trail, err := g.Run(ctx, s, opts...)
	if err != nil {
		return models.FailedResult(err)
	}
	return models.CompletedResult(
		fmt.Sprintf("Graph '%s' completed successfully", g.name),
		Outcome[S]{State: *s, Logs: trail.Logs, Errors: trail.Errors},
	)
}
