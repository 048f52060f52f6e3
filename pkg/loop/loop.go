// Package loop implements the autonomous scheduler that ties trigger
// evaluation, template rendering, safe execution, and state tracking
// together on a fixed tick.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"

	"agentd/pkg/executor"
	"agentd/pkg/logx"
	"agentd/pkg/templates"
	"agentd/pkg/tracker"
	"agentd/pkg/trigger"
)

// DefaultInterval is the tick period when none is configured.
const DefaultInterval = 30 * time.Second

// RecordHook observes every ActionRecord produced by a tick. Hooks run
// synchronously on the loop goroutine; keep them fast.
type RecordHook func(tracker.ActionRecord)

// StepGate blocks after each tick in step-through mode. Returning false
// stops the loop.
type StepGate func() bool

// Loop drives ticks on a single goroutine. Within one tick, due triggers
// execute sequentially so ActionRecord ordering stays total and rate-limit
// accounting stays exact.
type Loop struct {
	evaluator *trigger.Evaluator
	registry  *templates.Registry
	executor  *executor.Executor
	tracker   *tracker.Tracker
	logger    *logx.Logger
	interval  time.Duration
	stepGate  StepGate
	hooks     []RecordHook
	now       func() time.Time

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

// WithInterval sets the tick period.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(lg *logx.Logger) Option {
	return func(l *Loop) { l.logger = lg }
}

// WithStepGate enables step-through mode.
func WithStepGate(g StepGate) Option {
	return func(l *Loop) { l.stepGate = g }
}

// WithRecordHook appends an observer for completed actions.
func WithRecordHook(h RecordHook) Option {
	return func(l *Loop) { l.hooks = append(l.hooks, h) }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// New creates a Loop over the given collaborators.
func New(ev *trigger.Evaluator, reg *templates.Registry, exec *executor.Executor, trk *tracker.Tracker, opts ...Option) *Loop {
	l := &Loop{
		evaluator: ev,
		registry:  reg,
		executor:  exec,
		tracker:   trk,
		logger:    logx.NewLogger("loop"),
		interval:  DefaultInterval,
		now:       time.Now,
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches the tick loop on its own goroutine. The loop exits when
// ctx is canceled, Stop is called, or a step gate declines to continue.
func (l *Loop) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.run(ctx)
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("autonomous loop started (interval %s)", l.interval)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("autonomous loop stopped by context")
			return
		case <-l.stop:
			l.logger.Info("autonomous loop stopped")
			return
		case <-ticker.C:
			l.Tick(ctx, l.now())
			if l.stepGate != nil && !l.stepGate() {
				l.logger.Info("step gate declined, stopping loop")
				return
			}
		}
	}
}

// Stop signals the loop to exit at the next tick boundary. An in-flight
// action is allowed to finish on its own; issued tool calls cannot be
// rolled back.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Wait blocks until the loop goroutine has exited.
func (l *Loop) Wait() {
	l.wg.Wait()
}

// Tick runs one evaluate-and-act pass and returns the records it produced.
// A single trigger's failure never aborts the tick for the remaining due
// triggers; when the tracker's failure ceiling is hit the tick becomes a
// no-op until the tracker is externally reset.
func (l *Loop) Tick(ctx context.Context, now time.Time) []tracker.ActionRecord {
	if !l.tracker.CanContinue() {
		l.logger.DebugDomain("loop", "failure ceiling reached, loop inert until reset")
		return nil
	}

	due := l.evaluator.Check(now)
	if len(due) == 0 {
		return nil
	}

	records := make([]tracker.ActionRecord, 0, len(due))
	for _, t := range due {
		if ctx.Err() != nil {
			l.logger.Info("stop requested, abandoning remaining triggers this tick")
			break
		}

		prompt, ok := l.renderTrigger(t)
		if !ok {
			continue
		}

		rec := l.executor.Execute(ctx, executor.Action{
			TriggerName:    t.Name,
			TemplateName:   t.TemplateName,
			RenderedPrompt: prompt,
		})
		for _, hook := range l.hooks {
			hook(rec)
		}
		records = append(records, rec)

		if !l.tracker.CanContinue() {
			l.logger.Warn("failure ceiling reached mid-tick, skipping remaining triggers")
			break
		}
	}
	return records
}

// renderTrigger renders the trigger's template against its context
// provider. Missing context keys skip the trigger without producing an
// ActionRecord; the trigger owner must supply the keys or be removed.
func (l *Loop) renderTrigger(t *trigger.Trigger) (string, bool) {
	var tctx map[string]any
	if t.Context != nil {
		tctx = t.Context()
	}

	prompt, err := l.registry.Render(t.TemplateName, tctx)
	if err != nil {
		var missing *templates.MissingContextError
		if errors.As(err, &missing) {
			l.logger.Warn("trigger %q skipped: %v", t.Name, missing)
		} else {
			l.logger.Error("trigger %q render failed: %v", t.Name, err)
		}
		return "", false
	}
	return prompt, true
}
