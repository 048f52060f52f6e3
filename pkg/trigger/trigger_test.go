package trigger

import (
	"testing"
	"time"

	"agentd/pkg/tracker"
)

type stubMetrics struct {
	m tracker.Metrics
}

func (s *stubMetrics) Snapshot() tracker.Metrics { return s.m }

func TestPeriodicTriggerInterval(t *testing.T) {
	e := NewEvaluator(nil, nil)
	base := time.Unix(0, 0)

	tr := NewPeriodic("health", "health_check", 60*time.Second, nil)
	if err := e.Add(tr); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// Never fired: due immediately.
	due := e.Check(base)
	if len(due) != 1 || due[0].Name != "health" {
		t.Fatalf("expected health due at t=0, got %v", due)
	}

	// Not due again before the interval elapses.
	for _, offset := range []time.Duration{1 * time.Second, 30 * time.Second, 59 * time.Second} {
		if due := e.Check(base.Add(offset)); len(due) != 0 {
			t.Errorf("expected nothing due at +%s, got %d", offset, len(due))
		}
	}

	// Due again at exactly the interval boundary.
	if due := e.Check(base.Add(60 * time.Second)); len(due) != 1 {
		t.Errorf("expected health due at +60s, got %d", len(due))
	}
}

func TestThresholdTriggerEdgeFiring(t *testing.T) {
	metrics := &stubMetrics{}
	e := NewEvaluator(metrics, nil)

	tr := NewThreshold("failures", "health_check", func(m tracker.Metrics) bool {
		return m.ConsecutiveFailures >= 2
	}, nil)
	if err := e.Add(tr); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	now := time.Unix(0, 0)

	// Condition false: nothing fires.
	if due := e.Check(now); len(due) != 0 {
		t.Fatalf("expected nothing due while condition false, got %d", len(due))
	}

	// Condition becomes true: fires once.
	metrics.m.ConsecutiveFailures = 2
	if due := e.Check(now.Add(time.Second)); len(due) != 1 {
		t.Fatalf("expected fire on false->true transition, got %d", len(due))
	}

	// Condition stays true: must not re-fire.
	for i := 2; i < 5; i++ {
		if due := e.Check(now.Add(time.Duration(i) * time.Second)); len(due) != 0 {
			t.Fatalf("expected no re-fire while condition stays true, got %d at check %d", len(due), i)
		}
	}

	// Condition clears then trips again: fires again.
	metrics.m.ConsecutiveFailures = 0
	e.Check(now.Add(5 * time.Second))
	metrics.m.ConsecutiveFailures = 3
	if due := e.Check(now.Add(6 * time.Second)); len(due) != 1 {
		t.Errorf("expected fire on second transition, got %d", len(due))
	}
}

func TestCheckUpdatesLastFired(t *testing.T) {
	e := NewEvaluator(nil, nil)
	tr := NewPeriodic("health", "health_check", time.Minute, nil)
	_ = e.Add(tr)

	now := time.Unix(100, 0)
	e.Check(now)
	if !tr.LastFired().Equal(now) {
		t.Errorf("expected last_fired=%v, got %v", now, tr.LastFired())
	}
}

func TestDuplicateTriggerName(t *testing.T) {
	e := NewEvaluator(nil, nil)
	if err := e.Add(NewPeriodic("health", "health_check", time.Minute, nil)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := e.Add(NewPeriodic("health", "memory_optimize", time.Hour, nil)); err == nil {
		t.Error("expected duplicate name rejected")
	}
}

func TestMultipleTriggersRegistrationOrder(t *testing.T) {
	e := NewEvaluator(nil, nil)
	_ = e.Add(NewPeriodic("b", "health_check", time.Minute, nil))
	_ = e.Add(NewPeriodic("a", "memory_optimize", time.Minute, nil))

	due := e.Check(time.Unix(0, 0))
	if len(due) != 2 {
		t.Fatalf("expected both due, got %d", len(due))
	}
	if due[0].Name != "b" || due[1].Name != "a" {
		t.Errorf("expected registration order preserved, got %s,%s", due[0].Name, due[1].Name)
	}
}

func TestNamedConditions(t *testing.T) {
	lowRate, err := NamedCondition(CondSuccessRateBelow, 0.5)
	if err != nil {
		t.Fatalf("NamedCondition failed: %v", err)
	}
	if lowRate(tracker.Metrics{}) {
		t.Error("success_rate_below must not fire before any actions exist")
	}
	if !lowRate(tracker.Metrics{TotalActions: 10, SuccessRate: 0.3}) {
		t.Error("expected fire at success rate 0.3")
	}
	if lowRate(tracker.Metrics{TotalActions: 10, SuccessRate: 0.9}) {
		t.Error("unexpected fire at success rate 0.9")
	}

	failures, err := NamedCondition(CondConsecutiveFailuresOver, 2)
	if err != nil {
		t.Fatalf("NamedCondition failed: %v", err)
	}
	if failures(tracker.Metrics{ConsecutiveFailures: 1}) {
		t.Error("unexpected fire below threshold")
	}
	if !failures(tracker.Metrics{ConsecutiveFailures: 2}) {
		t.Error("expected fire at threshold")
	}

	if _, err := NamedCondition("vibes", 1); err == nil {
		t.Error("expected unknown condition rejected")
	}
}
