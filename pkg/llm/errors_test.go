package llm

import (
	"errors"
	"fmt"
	"testing"
)

func TestProviderErrorClassification(t *testing.T) {
	cause := fmt.Errorf("connection reset by peer")
	err := WrapProviderError("anthropic", ErrorKindNetwork, cause, "request failed")

	if !IsKind(err, ErrorKindNetwork) {
		t.Error("Expected network kind")
	}
	if KindOf(err) != ErrorKindNetwork {
		t.Errorf("Expected network kind, got %s", KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Error("Expected wrapped cause to be reachable via errors.Is")
	}
}

func TestProviderErrorRetryable(t *testing.T) {
	cases := []struct {
		kind      ErrorKind
		retryable bool
	}{
		{ErrorKindNetwork, true},
		{ErrorKindRateLimit, true},
		{ErrorKindMalformed, false},
		{ErrorKindAuth, false},
		{ErrorKindUnknown, false},
	}

	for _, tc := range cases {
		err := NewProviderError("test", tc.kind, "boom")
		if err.IsRetryable() != tc.retryable {
			t.Errorf("Kind %s: expected retryable=%v", tc.kind, tc.retryable)
		}
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if KindOf(fmt.Errorf("plain error")) != ErrorKindUnknown {
		t.Error("Expected unknown kind for unclassified error")
	}
}

func TestMockClientReplaysResponses(t *testing.T) {
	mock := NewMockClient([]CompletionResponse{
		{Content: "first"},
		{Content: "second"},
	}, nil)

	resp, err := mock.Complete(t.Context(), NewCompletionRequest(nil))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Content != "first" {
		t.Errorf("Expected 'first', got %q", resp.Content)
	}

	resp, _ = mock.Complete(t.Context(), NewCompletionRequest(nil))
	if resp.Content != "second" {
		t.Errorf("Expected 'second', got %q", resp.Content)
	}

	if _, err := mock.Complete(t.Context(), NewCompletionRequest(nil)); err == nil {
		t.Error("Expected error when responses exhausted")
	}

	if got := len(mock.Requests()); got != 3 {
		t.Errorf("Expected 3 recorded requests, got %d", got)
	}
}
