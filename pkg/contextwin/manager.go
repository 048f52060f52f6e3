// Package contextwin manages a bounded conversation context window with
// batched, cache-prefix-preserving eviction.
package contextwin

import (
	"sync"

	"agentd/pkg/logx"
	"agentd/pkg/tokens"
)

// EvictionReport describes the outcome of one eviction batch.
type EvictionReport struct {
	MessagesRemoved int `json:"messages_removed"`
	TokensRemoved   int `json:"tokens_removed"`
	// OverBudget is true when the window still exceeds the budget after
	// this batch; the caller should invoke MaybeEvict again.
	OverBudget bool `json:"over_budget"`
}

// Stats is a read-only summary of window state.
type Stats struct {
	MessageCount    int `json:"message_count"`
	TotalTokens     int `json:"total_tokens"`
	MaxTokens       int `json:"max_tokens"`
	StablePrefixLen int `json:"stable_prefix_len"`
}

// Manager owns the ordered message sequence for one agent instance. It
// enforces the token budget via MaybeEvict and tracks the cache boundary:
// the end of the leading run of messages unchanged since the last provider
// call, eligible for provider-side prompt cache reuse.
//
// Append never evicts synchronously; the window may transiently exceed the
// budget between an append and the next MaybeEvict.
type Manager struct {
	mu        sync.Mutex
	messages  []Message
	estimator tokens.Estimator
	policy    EvictionPolicy
	logger    *logx.Logger
	maxTokens int
	nextSeq   int
	// boundary counts messages in the stable prefix. It only moves forward
	// (MarkDelivered) except at eviction, when it is recomputed to the end
	// of the surviving head block.
	boundary    int
	totalTokens int
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy overrides the default fixed-fraction eviction policy.
func WithPolicy(p EvictionPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithLogger sets the logger used for eviction debug output.
func WithLogger(l *logx.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a context window manager with the given token budget.
func NewManager(maxTokens int, estimator tokens.Estimator, opts ...Option) *Manager {
	m := &Manager{
		messages:  make([]Message, 0),
		estimator: estimator,
		policy:    FixedBatch{Fraction: DefaultBatchFraction},
		logger:    logx.NewLogger("contextwin"),
		maxTokens: maxTokens,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Append assigns the next sequence index, estimates the token cost if not
// pre-set, and stores the message. Returns the assigned sequence index.
func (m *Manager) Append(msg Message) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.TokenCount <= 0 {
		msg.TokenCount = m.estimateTokens(&msg)
	}
	msg.SequenceIndex = m.nextSeq
	m.nextSeq++

	m.messages = append(m.messages, msg)
	m.totalTokens += msg.TokenCount
	return msg.SequenceIndex
}

// estimateTokens approximates the cost of a message including role overhead
// and structured tool payloads.
func (m *Manager) estimateTokens(msg *Message) int {
	count := m.estimator.Estimate(string(msg.Role)) + m.estimator.Estimate(msg.Content)
	for i := range msg.ToolCalls {
		tc := &msg.ToolCalls[i]
		count += m.estimator.Estimate(tc.Name)
		for k, v := range tc.Parameters {
			count += m.estimator.Estimate(k)
			if s, ok := v.(string); ok {
				count += m.estimator.Estimate(s)
			} else {
				count++
			}
		}
	}
	if count == 0 {
		count = 1
	}
	return count
}

// MaybeEvict removes at most one batch of the oldest non-system messages
// when the window is at or above budget. The batch targets the policy's
// token share, rounded down to turn boundaries so an assistant tool-call
// message is never separated from its tool results. System messages are
// never evicted. Returns nil when no eviction occurred.
//
// Eviction is capped at one batch per call so a single oversized message
// cannot cause an unbounded loop; when the report's OverBudget flag is set
// the caller must re-invoke.
func (m *Manager) MaybeEvict() *EvictionReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.totalTokens < m.maxTokens || len(m.messages) == 0 {
		return nil
	}

	headLen := m.systemHeadLen()
	evictable := m.messages[headLen:]
	if len(evictable) == 0 {
		return nil
	}

	evictableTokens := 0
	for i := range evictable {
		evictableTokens += evictable[i].TokenCount
	}

	target := m.policy.BatchTarget(evictableTokens, m.totalTokens, m.maxTokens)
	removeCount, removedTokens := m.selectBatch(evictable, target)
	if removeCount == 0 {
		return nil
	}

	retained := make([]Message, 0, len(m.messages)-removeCount)
	retained = append(retained, m.messages[:headLen]...)
	retained = append(retained, m.messages[headLen+removeCount:]...)
	m.messages = retained
	m.totalTokens -= removedTokens

	// Everything past the eviction cut no longer matches what the provider
	// cached; the new stable prefix is the surviving head block.
	m.boundary = headLen

	report := &EvictionReport{
		MessagesRemoved: removeCount,
		TokensRemoved:   removedTokens,
		OverBudget:      m.totalTokens >= m.maxTokens,
	}
	m.logger.DebugDomain("contextwin", "evicted %d messages (%d tokens), %d tokens retained",
		report.MessagesRemoved, report.TokensRemoved, m.totalTokens)
	return report
}

// systemHeadLen returns the length of the leading run of system messages,
// which is never eligible for eviction.
func (m *Manager) systemHeadLen() int {
	n := 0
	for n < len(m.messages) && m.messages[n].Role == RoleSystem {
		n++
	}
	return n
}

// selectBatch walks the evictable region in turn groups and returns how many
// leading messages to remove to reach the target token count. The batch is
// rounded down at group boundaries; at least one group is removed so that
// eviction always makes forward progress, even when a single group exceeds
// the entire budget.
func (m *Manager) selectBatch(evictable []Message, target int) (count, tokens int) {
	idx := 0
	for idx < len(evictable) {
		// A system message inside the window ends the batch: system
		// messages are never removed, and removal must stay a prefix.
		if evictable[idx].Role == RoleSystem {
			break
		}

		groupEnd := m.turnGroupEnd(evictable, idx)
		groupTokens := 0
		for i := idx; i < groupEnd; i++ {
			groupTokens += evictable[i].TokenCount
		}

		if count > 0 && tokens+groupTokens > target {
			break
		}

		count = groupEnd
		tokens += groupTokens
		idx = groupEnd

		if tokens >= target {
			break
		}
	}
	return count, tokens
}

// turnGroupEnd returns the exclusive end index of the logically paired turn
// starting at idx: an assistant message carrying tool calls is grouped with
// the role=tool results that answer its call IDs.
func (m *Manager) turnGroupEnd(msgs []Message, idx int) int {
	msg := &msgs[idx]
	if msg.Role != RoleAssistant || len(msg.ToolCalls) == 0 {
		return idx + 1
	}

	pending := make(map[string]bool, len(msg.ToolCalls))
	for i := range msg.ToolCalls {
		pending[msg.ToolCalls[i].ID] = true
	}

	end := idx + 1
	for end < len(msgs) && len(pending) > 0 {
		if msgs[end].Role != RoleTool {
			break
		}
		delete(pending, msgs[end].ToolCallID)
		end++
	}
	return end
}

// Window returns a read-only snapshot of the current messages for prompt
// assembly.
func (m *Manager) Window() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make([]Message, len(m.messages))
	copy(snapshot, m.messages)
	return snapshot
}

// MarkDelivered records that the current window contents were sent to the
// provider, extending the stable prefix to the full window. The boundary
// never recedes here; only eviction recomputes it.
func (m *Manager) MarkDelivered() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.messages) > m.boundary {
		m.boundary = len(m.messages)
	}
}

// StablePrefixLen returns the number of messages in the cache-stable prefix.
// Collaborators that support explicit cache markers annotate exactly this
// many leading messages as cacheable.
func (m *Manager) StablePrefixLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.boundary
}

// TotalTokens returns the current estimated token total.
func (m *Manager) TotalTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalTokens
}

// MessageCount returns the number of retained messages.
func (m *Manager) MessageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// GetStats returns a summary of the window state.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		MessageCount:    len(m.messages),
		TotalTokens:     m.totalTokens,
		MaxTokens:       m.maxTokens,
		StablePrefixLen: m.boundary,
	}
}
