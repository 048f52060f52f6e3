package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentd/pkg/templates"
	"agentd/pkg/tracker"
)

type stubPipeline struct {
	result string
	err    error
	calls  int
}

func (s *stubPipeline) Run(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.result, s.err
}

func newTestExecutor(t *testing.T, p Pipeline, opts ...Option) (*Executor, *tracker.Tracker, *templates.Registry) {
	t.Helper()
	trk := tracker.New(3)
	reg, err := templates.NewRegistry()
	require.NoError(t, err)
	return New(p, trk, reg, opts...), trk, reg
}

func testAction() Action {
	return Action{
		TriggerName:    "health",
		TemplateName:   templates.HealthCheckTemplate,
		RenderedPrompt: "run the health check",
	}
}

func TestExecuteRecordsSuccess(t *testing.T) {
	pipe := &stubPipeline{result: "all healthy"}
	e, trk, reg := newTestExecutor(t, pipe)

	rec := e.Execute(context.Background(), testAction())

	assert.Equal(t, tracker.ResultRecorded, rec.Result)
	assert.Empty(t, rec.Reason)
	assert.Equal(t, 1, pipe.calls)

	history := trk.History(0)
	require.Len(t, history, 1)
	assert.Equal(t, rec.ActionID, history[0].ActionID)

	stats, ok := reg.Stats(templates.HealthCheckTemplate)
	require.True(t, ok)
	assert.Equal(t, 1, stats.SuccessCount)
}

func TestBlockingConstraintRejectsBeforeExecution(t *testing.T) {
	pipe := &stubPipeline{result: "should never run"}
	e, trk, _ := newTestExecutor(t, pipe)

	e.RegisterConstraint(Constraint{
		Name:        "no_low_success",
		Allow:       func(_ Action, m tracker.Metrics) bool { return m.SuccessRate >= 0.5 },
		OnViolation: SeverityBlock,
	})

	// Drive success rate to zero.
	trk.Update(tracker.NewActionRecord("seed", "p", tracker.ResultFailed, "boom"))

	rec := e.Execute(context.Background(), testAction())

	assert.Equal(t, tracker.ResultRejected, rec.Result)
	assert.Equal(t, "no_low_success", rec.Reason)
	assert.Zero(t, pipe.calls, "blocked action must never reach the pipeline")
}

func TestWarnConstraintDoesNotBlock(t *testing.T) {
	pipe := &stubPipeline{result: "done"}
	e, _, _ := newTestExecutor(t, pipe)

	e.RegisterConstraint(Constraint{
		Name:        "advisory",
		Allow:       func(Action, tracker.Metrics) bool { return false },
		OnViolation: SeverityWarn,
	})

	rec := e.Execute(context.Background(), testAction())
	assert.Equal(t, tracker.ResultRecorded, rec.Result)
	assert.Equal(t, 1, pipe.calls)
}

func TestConstraintOrderFirstBlockWins(t *testing.T) {
	pipe := &stubPipeline{result: "done"}
	e, _, _ := newTestExecutor(t, pipe)

	e.RegisterConstraint(Constraint{
		Name:        "first",
		Allow:       func(Action, tracker.Metrics) bool { return false },
		OnViolation: SeverityBlock,
	})
	e.RegisterConstraint(Constraint{
		Name:        "second",
		Allow:       func(Action, tracker.Metrics) bool { return false },
		OnViolation: SeverityBlock,
	})

	rec := e.Execute(context.Background(), testAction())
	assert.Equal(t, "first", rec.Reason)
}

func TestPipelineErrorYieldsFailed(t *testing.T) {
	pipe := &stubPipeline{err: fmt.Errorf("provider unreachable")}
	e, trk, _ := newTestExecutor(t, pipe)

	rec := e.Execute(context.Background(), testAction())

	assert.Equal(t, tracker.ResultFailed, rec.Result)
	assert.Contains(t, rec.Reason, "provider unreachable")
	require.Len(t, trk.History(0), 1, "failure must be recorded exactly once")
}

func TestEmptyResultRejectedByValidation(t *testing.T) {
	pipe := &stubPipeline{result: ""}
	e, _, _ := newTestExecutor(t, pipe)

	rec := e.Execute(context.Background(), testAction())

	assert.Equal(t, tracker.ResultRejected, rec.Result)
	assert.Contains(t, rec.Reason, "validation failed")
}

func TestCustomValidator(t *testing.T) {
	pipe := &stubPipeline{result: "DANGER: rm -rf"}
	e, _, _ := newTestExecutor(t, pipe, WithValidator(func(result string) error {
		if len(result) > 0 && result[0] == 'D' {
			return fmt.Errorf("disallowed side effect reported")
		}
		return nil
	}))

	rec := e.Execute(context.Background(), testAction())
	assert.Equal(t, tracker.ResultRejected, rec.Result)
	assert.Contains(t, rec.Reason, "disallowed side effect")
}

func TestRateLimitRejectsAsSafetyBlock(t *testing.T) {
	now := time.Unix(1000, 0)
	pipe := &stubPipeline{result: "ok"}
	e, _, _ := newTestExecutor(t, pipe,
		WithRateLimit(2, time.Minute),
		WithCooldown(0),
		WithClock(func() time.Time { return now }),
	)

	a := testAction()
	assert.Equal(t, tracker.ResultRecorded, e.Execute(context.Background(), a).Result)
	assert.Equal(t, tracker.ResultRecorded, e.Execute(context.Background(), a).Result)

	rec := e.Execute(context.Background(), a)
	assert.Equal(t, tracker.ResultRejected, rec.Result)
	assert.Equal(t, RateLimitConstraint, rec.Reason)
	assert.Equal(t, 2, pipe.calls)

	// Executions age out of the rolling window.
	now = now.Add(2 * time.Minute)
	assert.Equal(t, tracker.ResultRecorded, e.Execute(context.Background(), a).Result)
}

func TestCooldownPerTrigger(t *testing.T) {
	now := time.Unix(1000, 0)
	pipe := &stubPipeline{result: "ok"}
	e, _, _ := newTestExecutor(t, pipe,
		WithCooldown(30*time.Second),
		WithClock(func() time.Time { return now }),
	)

	first := testAction()
	assert.Equal(t, tracker.ResultRecorded, e.Execute(context.Background(), first).Result)

	// Same trigger inside the cooldown is rejected.
	rec := e.Execute(context.Background(), first)
	assert.Equal(t, tracker.ResultRejected, rec.Result)
	assert.Equal(t, CooldownConstraint, rec.Reason)

	// A different trigger is unaffected.
	other := Action{TriggerName: "memory", TemplateName: templates.MemoryOptimizeTemplate, RenderedPrompt: "p"}
	assert.Equal(t, tracker.ResultRecorded, e.Execute(context.Background(), other).Result)

	// After the cooldown the original trigger may run again.
	now = now.Add(31 * time.Second)
	assert.Equal(t, tracker.ResultRecorded, e.Execute(context.Background(), first).Result)
}

func TestStopSignalRejectsBeforeExecuting(t *testing.T) {
	pipe := &stubPipeline{result: "ok"}
	e, _, _ := newTestExecutor(t, pipe)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := e.Execute(ctx, testAction())
	assert.Equal(t, tracker.ResultRejected, rec.Result)
	assert.Zero(t, pipe.calls)
}

func TestStateObserverSeesTransitions(t *testing.T) {
	collect := func(states *[]State) Option {
		return WithStateObserver(func(s State) { *states = append(*states, s) })
	}

	t.Run("recorded", func(t *testing.T) {
		var states []State
		e, _, _ := newTestExecutor(t, &stubPipeline{result: "ok"}, collect(&states))
		e.Execute(context.Background(), testAction())
		assert.Equal(t, []State{
			StatePending, StateSafetyChecking, StateExecuting, StateValidating, StateRecorded,
		}, states)
	})

	t.Run("safety rejection skips execution", func(t *testing.T) {
		var states []State
		e, _, _ := newTestExecutor(t, &stubPipeline{result: "ok"},
			WithRateLimit(0, time.Minute), collect(&states))
		e.Execute(context.Background(), testAction())
		assert.Equal(t, []State{StatePending, StateSafetyChecking, StateRejected}, states)
	})

	t.Run("pipeline error", func(t *testing.T) {
		var states []State
		e, _, _ := newTestExecutor(t, &stubPipeline{err: fmt.Errorf("boom")}, collect(&states))
		e.Execute(context.Background(), testAction())
		assert.Equal(t, []State{
			StatePending, StateSafetyChecking, StateExecuting, StateFailed,
		}, states)
	})

	t.Run("validation rejection", func(t *testing.T) {
		var states []State
		e, _, _ := newTestExecutor(t, &stubPipeline{result: ""}, collect(&states))
		e.Execute(context.Background(), testAction())
		assert.Equal(t, []State{
			StatePending, StateSafetyChecking, StateExecuting, StateValidating, StateRejected,
		}, states)
	})
}
