package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/nadalpiantini/omnidrive/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{}) {
	// no-op
}

func (l logger) Errorf(format string, args ...interface{}) {
	// no-op
}

func setFlag(key string, value any) workflow.StepFunc[workflow.Context] {
	return workflow.MapStep(func(ctx context.Context, c workflow.Context) error {
		c[key] = value
		return nil
	})
}

func TestLinearWorkflow(t *testing.T) {
	ctx := context.Background()

	t.Run("AllStepsSucceed", func(t *testing.T) {
		wf := workflow.New[workflow.Context]("merge", "later writes win").
			WithLogger(logger{}).
			AddStep("one", setFlag("a", 1)).
			AddStep("two", setFlag("b", 2)).
			AddStep("three", setFlag("a", 3))

		result := wf.Execute(ctx, &workflow.Context{"seed": true})
		require.True(t, result.Succeeded(), result.Message)
		assert.Equal(t, "Workflow 'merge' completed successfully", result.Message)
		assert.Equal(t, workflow.Context{"seed": true, "a": 3, "b": 2}, result.Data)
	})

	t.Run("FailFast", func(t *testing.T) {
		for k := 1; k <= 3; k++ {
			t.Run(fmt.Sprintf("FailAtStep%d", k), func(t *testing.T) {
				ran := 0
				wf := workflow.New[workflow.Context]("failing", "")
				for i := 1; i <= 3; i++ {
					i := i
					wf.AddStep(fmt.Sprintf("s%d", i), workflow.MapStep(func(ctx context.Context, c workflow.Context) error {
						ran++
						if i == k {
							return errors.New("disk on fire")
						}
						c[fmt.Sprintf("s%d", i)] = true
						return nil
					}))
				}

				result := wf.Execute(ctx, nil)
				assert.Equal(t, models.FailedJobStatus, result.Status)
				assert.Contains(t, result.Message, "disk on fire")
				assert.Contains(t, result.Message, fmt.Sprintf("s%d", k))
				assert.Nil(t, result.Data)
				assert.Equal(t, k, ran, "no step after the failing one runs")
			})
		}
	})

	t.Run("TypedContext", func(t *testing.T) {
		type counter struct {
			Visited []string
			Total   int
		}
		wf := workflow.New[counter]("typed", "").
			AddStep("first", func(ctx context.Context, c *counter) error {
				c.Visited = append(c.Visited, "first")
				c.Total += 2
				return nil
			}).
			AddStep("second", func(ctx context.Context, c *counter) error {
				c.Visited = append(c.Visited, "second")
				c.Total *= 10
				return nil
			})
		result := wf.Execute(ctx, &counter{Total: 1})
		require.True(t, result.Succeeded())
		assert.Equal(t, counter{Visited: []string{"first", "second"}, Total: 30}, result.Data)
		assert.Equal(t, []string{"first", "second"}, wf.Steps())
	})

	t.Run("SealedAfterExecute", func(t *testing.T) {
		wf := workflow.New[workflow.Context]("sealed", "").AddStep("one", setFlag("one", true))
		wf.Execute(ctx, nil)
		wf.AddStep("late", setFlag("late", true))
		assert.ErrorIs(t, wf.Err(), workflow.ErrSealed)
		assert.Equal(t, 1, wf.Info().StepCount)
	})

	t.Run("Cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		ran := 0
		wf := workflow.New[workflow.Context]("cancel", "").
			AddStep("first", workflow.MapStep(func(ctx context.Context, c workflow.Context) error {
				ran++
				cancel()
				return nil
			})).
			AddStep("second", workflow.MapStep(func(ctx context.Context, c workflow.Context) error {
				ran++
				return nil
			}))
		result := wf.Execute(cctx, nil)
		assert.Equal(t, models.FailedJobStatus, result.Status)
		assert.ErrorIs(t, result.Err, context.Canceled)
		assert.Equal(t, 1, ran)
	})

	t.Run("ObserverAndTrace", func(t *testing.T) {
		var seen []string
		trace := workflow.NewTrace("observed", logger{})
		wf := workflow.New[workflow.Context]("observed", "").
			AddStep("a", setFlag("a", true)).
			AddStep("b", setFlag("b", true))
		result := wf.Execute(ctx, nil,
			workflow.WithTrace(trace),
			workflow.WithObserver(func(index, total int, name string) {
				seen = append(seen, fmt.Sprintf("%d/%d %s", index, total, name))
			}))
		require.True(t, result.Succeeded())
		assert.Equal(t, []string{"0/2 a", "1/2 b"}, seen)

		var kinds []models.TraceEventType
		var last int64
		for _, e := range trace.Events() {
			kinds = append(kinds, e.Event)
			assert.GreaterOrEqual(t, e.ElapsedMs, last)
			last = e.ElapsedMs
		}
		assert.Equal(t, []models.TraceEventType{
			models.StartTraceEvent,
			models.NodeTraceEvent, models.SuccessTraceEvent,
			models.NodeTraceEvent, models.SuccessTraceEvent,
			models.EndTraceEvent,
		}, kinds)
	})
}
