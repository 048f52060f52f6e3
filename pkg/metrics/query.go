package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// ActionSummary aggregates action outcomes for one trigger, or for all
// triggers when TriggerName is empty.
type ActionSummary struct {
	TriggerName string  `json:"trigger_name,omitempty"`
	Recorded    int64   `json:"recorded"`
	Rejected    int64   `json:"rejected"`
	Failed      int64   `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// QueryService reads aggregated runtime metrics back out of a Prometheus
// server.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a query service against the given Prometheus URL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// GetActionSummary aggregates action counts. triggerName narrows the
// summary to one trigger; empty covers all.
func (q *QueryService) GetActionSummary(ctx context.Context, triggerName string) (*ActionSummary, error) {
	summary := &ActionSummary{TriggerName: triggerName}

	selector := ""
	if triggerName != "" {
		selector = fmt.Sprintf(", trigger=%q", triggerName)
	}

	var err error
	if summary.Recorded, err = q.sumQuery(ctx,
		fmt.Sprintf(`sum(agentd_actions_total{result="recorded"%s})`, selector)); err != nil {
		return nil, err
	}
	if summary.Rejected, err = q.sumQuery(ctx,
		fmt.Sprintf(`sum(agentd_actions_total{result="rejected"%s})`, selector)); err != nil {
		return nil, err
	}
	if summary.Failed, err = q.sumQuery(ctx,
		fmt.Sprintf(`sum(agentd_actions_total{result="failed"%s})`, selector)); err != nil {
		return nil, err
	}

	total := summary.Recorded + summary.Rejected + summary.Failed
	if total > 0 {
		summary.SuccessRate = float64(summary.Recorded) / float64(total)
	}
	return summary, nil
}

// GetTokenTotals returns prompt and completion token totals per model.
func (q *QueryService) GetTokenTotals(ctx context.Context) (map[string]int64, error) {
	result, _, err := q.queryAPI.Query(ctx, `sum by (model) (agentd_llm_tokens_total)`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query token totals: %w", err)
	}

	totals := make(map[string]int64)
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			if modelName, ok := sample.Metric["model"]; ok {
				totals[string(modelName)] = int64(sample.Value)
			}
		}
	}
	return totals, nil
}

// GetEvictedTokens returns the lifetime count of evicted tokens.
func (q *QueryService) GetEvictedTokens(ctx context.Context) (int64, error) {
	return q.sumQuery(ctx, `sum(agentd_evicted_tokens_total)`)
}

func (q *QueryService) sumQuery(ctx context.Context, query string) (int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to run query %q: %w", query, err)
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}
