// Package tracker maintains the per-agent action history and the derived
// metrics that gate autonomous operation.
package tracker

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"agentd/pkg/logx"
)

// ActionResult is the terminal outcome of an autonomous action.
type ActionResult string

const (
	// ResultRecorded means the action executed and passed validation.
	ResultRecorded ActionResult = "recorded"
	// ResultRejected means a safety constraint or validation blocked the action.
	ResultRejected ActionResult = "rejected"
	// ResultFailed means the external pipeline returned an error.
	ResultFailed ActionResult = "failed"
)

// ActionRecord is one entry in the append-only action history. Records are
// never mutated after creation.
type ActionRecord struct {
	ActionID       string       `json:"action_id"`
	TriggerName    string       `json:"trigger_name"`
	RenderedPrompt string       `json:"rendered_prompt"`
	Result         ActionResult `json:"result"`
	Reason         string       `json:"reason,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

// NewActionRecord creates a record with a fresh action ID.
func NewActionRecord(triggerName, renderedPrompt string, result ActionResult, reason string) ActionRecord {
	return ActionRecord{
		ActionID:       uuid.New().String(),
		TriggerName:    triggerName,
		RenderedPrompt: renderedPrompt,
		Result:         result,
		Reason:         reason,
		Timestamp:      time.Now().UTC(),
	}
}

// Metrics is the read-only snapshot consumed by threshold triggers and
// safety constraints.
type Metrics struct {
	TotalActions        int       `json:"total_actions"`
	RecordedCount       int       `json:"recorded_count"`
	RejectedCount       int       `json:"rejected_count"`
	FailedCount         int       `json:"failed_count"`
	SuccessRate         float64   `json:"success_rate"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastActionAt        time.Time `json:"last_action_at"`
}

const defaultMaxHistory = 1000

// Tracker owns the action history for a single agent instance.
type Tracker struct {
	mu                  sync.Mutex
	history             []ActionRecord
	logger              *logx.Logger
	failureCeiling      int
	maxHistory          int
	recordedCount       int
	rejectedCount       int
	failedCount         int
	totalActions        int
	consecutiveFailures int
	lastAction          time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMaxHistory bounds the retained history length.
func WithMaxHistory(n int) Option {
	return func(t *Tracker) { t.maxHistory = n }
}

// WithLogger sets the logger.
func WithLogger(l *logx.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// New creates a tracker. failureCeiling is the number of consecutive failed
// actions at which CanContinue starts returning false.
func New(failureCeiling int, opts ...Option) *Tracker {
	t := &Tracker{
		failureCeiling: failureCeiling,
		maxHistory:     defaultMaxHistory,
		logger:         logx.NewLogger(""),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Update appends a record and recomputes derived metrics. Only failed actions
// advance the consecutive failure counter; a recorded success resets it, and
// rejections leave it unchanged.
func (t *Tracker) Update(rec ActionRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = append(t.history, rec)
	if len(t.history) > t.maxHistory {
		t.history = t.history[len(t.history)-t.maxHistory:]
	}

	t.totalActions++
	t.lastAction = rec.Timestamp

	switch rec.Result {
	case ResultRecorded:
		t.recordedCount++
		t.consecutiveFailures = 0
	case ResultRejected:
		t.rejectedCount++
	case ResultFailed:
		t.failedCount++
		t.consecutiveFailures++
		if t.consecutiveFailures >= t.failureCeiling {
			t.logger.Warn("consecutive failure ceiling reached (%d), autonomous actions paused", t.consecutiveFailures)
		}
	}
}

// CanContinue reports whether autonomous actions should keep firing. It
// returns false once consecutive failures reach the configured ceiling, until
// either a success is recorded or ResetFailures is called.
func (t *Tracker) CanContinue() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecutiveFailures < t.failureCeiling
}

// ResetFailures clears the consecutive failure counter. Intended for external
// operator intervention after the loop has gone inert.
func (t *Tracker) ResetFailures() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutiveFailures = 0
}

// Snapshot returns the current derived metrics.
func (t *Tracker) Snapshot() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := Metrics{
		TotalActions:        t.totalActions,
		RecordedCount:       t.recordedCount,
		RejectedCount:       t.rejectedCount,
		FailedCount:         t.failedCount,
		ConsecutiveFailures: t.consecutiveFailures,
		LastActionAt:        t.lastAction,
	}
	if t.totalActions > 0 {
		m.SuccessRate = float64(t.recordedCount) / float64(t.totalActions)
	} else {
		m.SuccessRate = 1.0
	}
	return m
}

// History returns a copy of the most recent records, newest last. A limit of
// zero or less returns the full retained history.
func (t *Tracker) History(limit int) []ActionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]ActionRecord, n)
	copy(out, t.history[len(t.history)-n:])
	return out
}
