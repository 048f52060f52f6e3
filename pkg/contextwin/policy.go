package contextwin

// EvictionPolicy decides how many tokens a single eviction batch should
// target. The manager handles turn grouping and the never-evict-system rule;
// the policy only sizes the batch. Kept as an interface so the fixed
// fraction can later be replaced by a policy adaptive to message size
// variance without touching the manager.
type EvictionPolicy interface {
	// BatchTarget returns the token count one eviction batch should remove,
	// given the evictable (non-system) token total and the window budget.
	BatchTarget(evictableTokens, totalTokens, maxTokens int) int
}

// DefaultBatchFraction is the share of evictable tokens removed per batch.
// Batch (not per-message) eviction amortizes provider cache invalidation:
// removing one message per turn would break the cached prefix every turn.
const DefaultBatchFraction = 0.25

// FixedBatch removes a fixed fraction of the evictable tokens per batch,
// plus whatever the window is currently over budget by.
type FixedBatch struct {
	Fraction float64
}

// BatchTarget implements EvictionPolicy.
func (p FixedBatch) BatchTarget(evictableTokens, totalTokens, maxTokens int) int {
	fraction := p.Fraction
	if fraction <= 0 || fraction > 1 {
		fraction = DefaultBatchFraction
	}
	target := int(float64(evictableTokens) * fraction)
	if over := totalTokens - maxTokens; over > 0 && over > target {
		target = over
	}
	return target
}
