// Package trigger evaluates the conditions that start autonomous actions.
package trigger

import (
	"fmt"
	"sync"
	"time"

	"agentd/pkg/logx"
	"agentd/pkg/tracker"
)

// Kind distinguishes trigger condition types.
type Kind string

const (
	// KindPeriodic fires on a fixed interval.
	KindPeriodic Kind = "periodic"
	// KindThreshold fires when a metrics predicate transitions false to true.
	KindThreshold Kind = "threshold"
)

// ContextProvider supplies the render context for a trigger's template at
// fire time.
type ContextProvider func() map[string]any

// Condition is a threshold predicate over the current tracker metrics.
type Condition func(tracker.Metrics) bool

// Trigger is one configured autonomous action source. lastFired and the edge
// detection state are owned by the Evaluator; triggers are never destroyed
// during a run.
type Trigger struct {
	Name         string
	Kind         Kind
	TemplateName string
	Interval     time.Duration
	Condition    Condition
	Context      ContextProvider

	lastFired   time.Time
	condWasTrue bool
}

// NewPeriodic creates a periodic trigger for the given template.
func NewPeriodic(name, templateName string, interval time.Duration, ctx ContextProvider) *Trigger {
	return &Trigger{
		Name:         name,
		Kind:         KindPeriodic,
		TemplateName: templateName,
		Interval:     interval,
		Context:      ctx,
	}
}

// NewThreshold creates an edge-triggered threshold trigger for the given
// template.
func NewThreshold(name, templateName string, cond Condition, ctx ContextProvider) *Trigger {
	return &Trigger{
		Name:         name,
		Kind:         KindThreshold,
		TemplateName: templateName,
		Condition:    cond,
		Context:      ctx,
	}
}

// LastFired returns when the trigger last fired; the zero time means never.
func (t *Trigger) LastFired() time.Time {
	return t.lastFired
}

// MetricsSource provides the tracker snapshot threshold conditions evaluate
// against. *tracker.Tracker satisfies it.
type MetricsSource interface {
	Snapshot() tracker.Metrics
}

// Evaluator owns a set of triggers and decides which are due each tick.
type Evaluator struct {
	mu       sync.Mutex
	triggers []*Trigger
	metrics  MetricsSource
	logger   *logx.Logger
}

// NewEvaluator creates an evaluator drawing threshold inputs from metrics.
func NewEvaluator(metrics MetricsSource, logger *logx.Logger) *Evaluator {
	if logger == nil {
		logger = logx.NewLogger("")
	}
	return &Evaluator{metrics: metrics, logger: logger}
}

// Add registers a trigger. Names must be unique.
func (e *Evaluator) Add(t *Trigger) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, existing := range e.triggers {
		if existing.Name == t.Name {
			return fmt.Errorf("trigger %s already registered", t.Name)
		}
	}
	e.triggers = append(e.triggers, t)
	return nil
}

// Check returns the triggers due at now, in registration order. Firing marks
// last_fired under the same lock as evaluation, so re-entrant calls cannot
// double-fire a trigger. Threshold triggers are edge-triggered: they fire
// once per false-to-true transition of their condition.
func (e *Evaluator) Check(now time.Time) []*Trigger {
	e.mu.Lock()
	defer e.mu.Unlock()

	var metrics tracker.Metrics
	metricsLoaded := false

	var due []*Trigger
	for _, t := range e.triggers {
		switch t.Kind {
		case KindPeriodic:
			if t.lastFired.IsZero() || now.Sub(t.lastFired) >= t.Interval {
				t.lastFired = now
				due = append(due, t)
			}

		case KindThreshold:
			if t.Condition == nil {
				continue
			}
			if !metricsLoaded && e.metrics != nil {
				metrics = e.metrics.Snapshot()
				metricsLoaded = true
			}
			condTrue := t.Condition(metrics)
			if condTrue && !t.condWasTrue {
				t.lastFired = now
				due = append(due, t)
			}
			t.condWasTrue = condTrue
		}
	}

	if len(due) > 0 {
		e.logger.DebugDomain("trigger", "%d trigger(s) due at %s", len(due), now.Format(time.RFC3339))
	}
	return due
}

// Triggers returns the registered triggers in registration order.
func (e *Evaluator) Triggers() []*Trigger {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Trigger, len(e.triggers))
	copy(out, e.triggers)
	return out
}
