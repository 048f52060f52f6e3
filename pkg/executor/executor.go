// Package executor runs rendered prompts through the agent pipeline behind
// safety checks, rate limiting, and post-execution validation.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agentd/pkg/logx"
	"agentd/pkg/templates"
	"agentd/pkg/tracker"
)

// State is the per-invocation execution state.
type State string

const (
	// StatePending is the initial state.
	StatePending State = "pending"
	// StateSafetyChecking means constraints are being evaluated.
	StateSafetyChecking State = "safety_checking"
	// StateExecuting means the external pipeline call is in flight.
	StateExecuting State = "executing"
	// StateValidating means post-execution checks are running.
	StateValidating State = "validating"
	// StateRecorded is the terminal success state.
	StateRecorded State = "recorded"
	// StateRejected is the terminal state for safety or validation blocks.
	StateRejected State = "rejected"
	// StateFailed is the terminal state for pipeline errors.
	StateFailed State = "failed"
)

// Action is a candidate autonomous action produced by a fired trigger.
type Action struct {
	TriggerName    string
	TemplateName   string
	RenderedPrompt string
}

// Severity controls whether a violated constraint blocks execution.
type Severity string

const (
	// SeverityBlock rejects the action when the constraint is violated.
	SeverityBlock Severity = "block"
	// SeverityWarn logs the violation but lets the action proceed.
	SeverityWarn Severity = "warn"
)

// Constraint is a configured safety predicate. Allow returns true when the
// action may proceed.
type Constraint struct {
	Name        string
	Allow       func(Action, tracker.Metrics) bool
	OnViolation Severity
}

// Pipeline is the external agent/tool round-trip. It is the only step that
// performs I/O outside the process.
type Pipeline interface {
	Run(ctx context.Context, prompt string) (string, error)
}

// Validator checks an execution result before it is recorded. Returning an
// error rejects the action.
type Validator func(result string) error

// Built-in constraint names used as rejection reasons.
const (
	RateLimitConstraint = "rate_limit"
	CooldownConstraint  = "cooldown"
)

const (
	defaultMaxPerWindow = 10
	defaultWindow       = time.Minute
	defaultCooldown     = 5 * time.Second
	defaultTimeout      = 2 * time.Minute
)

// Executor is the safety-gated action runner for a single agent instance.
// Invocations are expected to be sequential; the mutex only guards against
// misuse, not a designed-for concurrency level.
type Executor struct {
	mu          sync.Mutex
	pipeline    Pipeline
	tracker     *tracker.Tracker
	registry    *templates.Registry
	logger      *logx.Logger
	constraints []Constraint
	validators  []Validator
	now         func() time.Time

	maxPerWindow int
	window       time.Duration
	cooldown     time.Duration
	timeout      time.Duration

	execTimes  []time.Time
	lastByTrig map[string]time.Time
	observers  []func(State)
}

// Option configures an Executor.
type Option func(*Executor)

// WithRateLimit caps executions per rolling window.
func WithRateLimit(maxExecutions int, window time.Duration) Option {
	return func(e *Executor) {
		e.maxPerWindow = maxExecutions
		e.window = window
	}
}

// WithCooldown sets the minimum gap between executions of the same trigger.
func WithCooldown(d time.Duration) Option {
	return func(e *Executor) { e.cooldown = d }
}

// WithTimeout bounds each pipeline call.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *logx.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithValidator appends a post-execution validator.
func WithValidator(v Validator) Option {
	return func(e *Executor) { e.validators = append(e.validators, v) }
}

// WithStateObserver registers a callback invoked on every state transition
// of an invocation, in order. Used for step-through inspection and tests.
func WithStateObserver(fn func(State)) Option {
	return func(e *Executor) { e.observers = append(e.observers, fn) }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New creates an executor. Every invocation appends an ActionRecord to trk
// whatever the outcome; registry receives the two-phase usage stats update
// for actions that reach execution.
func New(pipeline Pipeline, trk *tracker.Tracker, registry *templates.Registry, opts ...Option) *Executor {
	e := &Executor{
		pipeline:     pipeline,
		tracker:      trk,
		registry:     registry,
		logger:       logx.NewLogger(""),
		now:          time.Now,
		maxPerWindow: defaultMaxPerWindow,
		window:       defaultWindow,
		cooldown:     defaultCooldown,
		timeout:      defaultTimeout,
		lastByTrig:   make(map[string]time.Time),
	}
	e.validators = append(e.validators, func(result string) error {
		if result == "" {
			return fmt.Errorf("empty result")
		}
		return nil
	})
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterConstraint appends a safety constraint. Constraints are evaluated
// in registration order, after the built-in rate limit and cooldown checks.
func (e *Executor) RegisterConstraint(c Constraint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.constraints = append(e.constraints, c)
}

// Execute runs one candidate action through the state machine. The returned
// record has already been appended to the tracker.
func (e *Executor) Execute(ctx context.Context, action Action) tracker.ActionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.transition(StatePending)

	// SafetyChecking: built-in limits first, then configured constraints.
	e.transition(StateSafetyChecking)
	now := e.now()
	if name := e.limitViolation(action, now); name != "" {
		return e.finishRejected(action, name)
	}

	metrics := e.tracker.Snapshot()
	for i := range e.constraints {
		c := &e.constraints[i]
		if c.Allow != nil && !c.Allow(action, metrics) {
			if c.OnViolation == SeverityBlock {
				return e.finishRejected(action, c.Name)
			}
			e.logger.Warn("safety constraint %s violated (warn) for trigger %s", c.Name, action.TriggerName)
		}
	}

	// Stop signals are honored up to the Executing transition; an in-flight
	// pipeline call is left to complete or fail on its own.
	if ctx.Err() != nil {
		return e.finishRejected(action, "stop requested")
	}

	// Executing.
	e.transition(StateExecuting)
	e.execTimes = append(e.execTimes, now)
	e.lastByTrig[action.TriggerName] = now

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	start := e.now()
	result, err := e.pipeline.Run(cctx, action.RenderedPrompt)
	latency := e.now().Sub(start)
	cancel()

	if err != nil {
		e.transition(StateFailed)
		e.registry.RecordOutcome(action.TemplateName, false, latency)
		rec := tracker.NewActionRecord(action.TriggerName, action.RenderedPrompt, tracker.ResultFailed, err.Error())
		e.tracker.Update(rec)
		e.logger.Error("action %s failed for trigger %s: %v", rec.ActionID, action.TriggerName, err)
		return rec
	}

	// Validating.
	e.transition(StateValidating)
	for _, v := range e.validators {
		if verr := v(result); verr != nil {
			e.transition(StateRejected)
			e.registry.RecordOutcome(action.TemplateName, false, latency)
			rec := tracker.NewActionRecord(action.TriggerName, action.RenderedPrompt, tracker.ResultRejected,
				fmt.Sprintf("validation failed: %v", verr))
			e.tracker.Update(rec)
			return rec
		}
	}

	e.transition(StateRecorded)
	e.registry.RecordOutcome(action.TemplateName, true, latency)
	rec := tracker.NewActionRecord(action.TriggerName, action.RenderedPrompt, tracker.ResultRecorded, "")
	e.tracker.Update(rec)
	e.logger.DebugDomain("executor", "action %s recorded for trigger %s in %s", rec.ActionID, action.TriggerName, latency)
	return rec
}

// limitViolation reports which built-in limit the action would break, or ""
// when clear. Rate limit and cooldown violations are safety blocks, not
// errors.
func (e *Executor) limitViolation(action Action, now time.Time) string {
	// Drop executions that have aged out of the rolling window.
	cutoff := now.Add(-e.window)
	kept := e.execTimes[:0]
	for _, ts := range e.execTimes {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.execTimes = kept

	if len(e.execTimes) >= e.maxPerWindow {
		return RateLimitConstraint
	}
	if last, ok := e.lastByTrig[action.TriggerName]; ok && now.Sub(last) < e.cooldown {
		return CooldownConstraint
	}
	return ""
}

func (e *Executor) transition(s State) {
	for _, fn := range e.observers {
		fn(s)
	}
}

func (e *Executor) finishRejected(action Action, reason string) tracker.ActionRecord {
	e.transition(StateRejected)
	rec := tracker.NewActionRecord(action.TriggerName, action.RenderedPrompt, tracker.ResultRejected, reason)
	e.tracker.Update(rec)
	e.logger.DebugDomain("executor", "action rejected for trigger %s: %s", action.TriggerName, reason)
	return rec
}
