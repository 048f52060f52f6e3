package trigger

import (
	"fmt"

	"agentd/pkg/tracker"
)

// Named threshold conditions available to configuration files.
const (
	CondSuccessRateBelow        = "success_rate_below"
	CondConsecutiveFailuresOver = "consecutive_failures_at_least"
	CondRejectedCountOver       = "rejected_count_at_least"
)

// NamedCondition builds a threshold predicate from its config name and
// threshold value. Predicates only fire once actions exist, so a freshly
// started tracker (success rate 1.0, zero counts) never trips them.
func NamedCondition(name string, value float64) (Condition, error) {
	switch name {
	case CondSuccessRateBelow:
		return func(m tracker.Metrics) bool {
			return m.TotalActions > 0 && m.SuccessRate < value
		}, nil
	case CondConsecutiveFailuresOver:
		return func(m tracker.Metrics) bool {
			return m.ConsecutiveFailures >= int(value)
		}, nil
	case CondRejectedCountOver:
		return func(m tracker.Metrics) bool {
			return m.RejectedCount >= int(value)
		}, nil
	default:
		return nil, fmt.Errorf("unknown threshold condition %q", name)
	}
}
