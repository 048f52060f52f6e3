// Package metrics provides Prometheus recording and querying for the agent
// runtime.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"agentd/pkg/contextwin"
	"agentd/pkg/llm"
	"agentd/pkg/tracker"
)

// Recorder exposes the runtime's Prometheus metrics.
type Recorder struct {
	actionsTotal      *prometheus.CounterVec
	evictionsTotal    prometheus.Counter
	evictedTokens     prometheus.Counter
	contextTokens     prometheus.Gauge
	stablePrefixLen   prometheus.Gauge
	llmTokensTotal    *prometheus.CounterVec
	llmRequestSeconds *prometheus.HistogramVec
}

// NewRecorder registers the agent metrics with reg. Passing nil uses the
// default registerer; tests pass their own registry to avoid duplicate
// registration.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		actionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_actions_total",
				Help: "Total autonomous actions by trigger and terminal result",
			},
			[]string{"trigger", "result"},
		),
		evictionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentd_evictions_total",
				Help: "Total context window eviction batches",
			},
		),
		evictedTokens: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentd_evicted_tokens_total",
				Help: "Total tokens removed from the context window",
			},
		),
		contextTokens: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentd_context_tokens",
				Help: "Current estimated tokens retained in the context window",
			},
		),
		stablePrefixLen: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentd_context_stable_prefix_messages",
				Help: "Messages in the cache-stable window prefix",
			},
		),
		llmTokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_llm_tokens_total",
				Help: "Total tokens used in LLM requests",
			},
			[]string{"model", "type"},
		),
		llmRequestSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentd_llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "status"},
		),
	}
}

// ObserveAction records one terminal action outcome.
func (r *Recorder) ObserveAction(rec tracker.ActionRecord) {
	r.actionsTotal.WithLabelValues(rec.TriggerName, string(rec.Result)).Inc()
}

// ObserveEviction records one eviction batch.
func (r *Recorder) ObserveEviction(report contextwin.EvictionReport) {
	r.evictionsTotal.Inc()
	r.evictedTokens.Add(float64(report.TokensRemoved))
}

// ObserveWindow updates the window gauges from a stats snapshot.
func (r *Recorder) ObserveWindow(stats contextwin.Stats) {
	r.contextTokens.Set(float64(stats.TotalTokens))
	r.stablePrefixLen.Set(float64(stats.StablePrefixLen))
}

// ObserveCompletion records one LLM round-trip. Token counts are only added
// on success.
func (r *Recorder) ObserveCompletion(model string, usage llm.Usage, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.llmRequestSeconds.WithLabelValues(model, status).Observe(duration.Seconds())

	if err == nil {
		r.llmTokensTotal.WithLabelValues(model, "prompt").Add(float64(usage.InputTokens))
		r.llmTokensTotal.WithLabelValues(model, "completion").Add(float64(usage.OutputTokens))
	}
}
