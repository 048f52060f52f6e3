package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePrometheus answers /api/v1/query with canned instant vectors keyed on
// the query text.
func fakePrometheus(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		query := r.FormValue("query")

		sample := func(value int) string {
			return fmt.Sprintf(`{"metric":{},"value":[1693300000,"%d"]}`, value)
		}
		var result string
		switch {
		case strings.Contains(query, `result="recorded"`):
			result = sample(12)
		case strings.Contains(query, `result="rejected"`):
			result = sample(3)
		case strings.Contains(query, `result="failed"`):
			result = sample(5)
		case strings.Contains(query, "agentd_llm_tokens_total"):
			result = `{"metric":{"model":"claude"},"value":[1693300000,"200"]},` +
				`{"metric":{"model":"gpt-4"},"value":[1693300000,"100"]}`
		case strings.Contains(query, "agentd_evicted_tokens_total"):
			result = sample(42)
		default:
			result = ""
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"success","data":{"resultType":"vector","result":[%s]}}`, result)
	}))
}

func TestGetActionSummary(t *testing.T) {
	srv := fakePrometheus(t)
	defer srv.Close()

	qs, err := NewQueryService(srv.URL)
	require.NoError(t, err)

	sum, err := qs.GetActionSummary(t.Context(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(12), sum.Recorded)
	assert.Equal(t, int64(3), sum.Rejected)
	assert.Equal(t, int64(5), sum.Failed)
	assert.InDelta(t, 0.6, sum.SuccessRate, 0.001)
	assert.Empty(t, sum.TriggerName)
}

func TestGetActionSummaryPerTrigger(t *testing.T) {
	queries := make([]string, 0, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		queries = append(queries, r.FormValue("query"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"success","data":{"resultType":"vector","result":[]}}`)
	}))
	defer srv.Close()

	qs, err := NewQueryService(srv.URL)
	require.NoError(t, err)

	sum, err := qs.GetActionSummary(t.Context(), "health")
	require.NoError(t, err)

	// Empty vectors read back as zero counts, not errors.
	assert.Equal(t, int64(0), sum.Recorded)
	assert.Zero(t, sum.SuccessRate)

	require.Len(t, queries, 3)
	for _, q := range queries {
		assert.Contains(t, q, `trigger="health"`)
	}
}

func TestGetTokenTotals(t *testing.T) {
	srv := fakePrometheus(t)
	defer srv.Close()

	qs, err := NewQueryService(srv.URL)
	require.NoError(t, err)

	totals, err := qs.GetTokenTotals(t.Context())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"claude": 200, "gpt-4": 100}, totals)
}

func TestGetEvictedTokens(t *testing.T) {
	srv := fakePrometheus(t)
	defer srv.Close()

	qs, err := NewQueryService(srv.URL)
	require.NoError(t, err)

	evicted, err := qs.GetEvictedTokens(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(42), evicted)
}

func TestQueryServerUnreachable(t *testing.T) {
	srv := fakePrometheus(t)
	srv.Close()

	qs, err := NewQueryService(srv.URL)
	require.NoError(t, err)

	_, err = qs.GetActionSummary(t.Context(), "")
	assert.Error(t, err)
}
