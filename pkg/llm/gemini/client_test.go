package gemini

import (
	"testing"

	"google.golang.org/genai"

	"agentd/pkg/llm"
	"agentd/pkg/tools"
)

func TestConvertMessages(t *testing.T) {
	contents, system, err := convertMessages([]llm.CompletionMessage{
		{Role: llm.RoleSystem, Content: "operator"},
		{Role: llm.RoleUser, Content: "what time is it"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "current_time", Name: "current_time", Parameters: map[string]any{}},
		}},
		{Role: llm.RoleTool, ToolCallID: "current_time", Content: "noon"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if system != "operator" {
		t.Errorf("expected system instruction extracted, got %q", system)
	}
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}
	if contents[1].Role != "model" {
		t.Errorf("expected assistant mapped to model role, got %q", contents[1].Role)
	}
	if contents[1].Parts[0].FunctionCall == nil {
		t.Error("expected function call part")
	}
	if contents[2].Parts[0].FunctionResponse == nil {
		t.Error("expected function response part")
	} else if contents[2].Parts[0].FunctionResponse.Name != "current_time" {
		t.Errorf("expected response matched by name, got %q", contents[2].Parts[0].FunctionResponse.Name)
	}
}

func TestConvertMessagesEmpty(t *testing.T) {
	if _, _, err := convertMessages(nil); err == nil {
		t.Error("expected error for empty message list")
	}
}

func TestConvertTools(t *testing.T) {
	decls := convertTools([]tools.ToolDefinition{{
		Name:        "record_note",
		Description: "record a note",
		InputSchema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"topic":   {Type: "string"},
				"urgency": {Type: "string", Enum: []string{"low", "high"}},
			},
			Required: []string{"topic"},
		},
	}})

	if len(decls) != 1 {
		t.Fatalf("expected 1 declaration, got %d", len(decls))
	}
	if decls[0].Parameters.Type != genai.TypeObject {
		t.Errorf("expected object schema, got %v", decls[0].Parameters.Type)
	}
	if len(decls[0].Parameters.Properties["urgency"].Enum) != 2 {
		t.Error("expected enum carried over")
	}
}

func TestConvertFunctionCallsFallbackID(t *testing.T) {
	calls := convertFunctionCalls([]*genai.FunctionCall{
		{Name: "current_time", Args: map[string]any{}},
	})
	if calls[0].ID != "current_time" {
		t.Errorf("expected name used as ID fallback, got %q", calls[0].ID)
	}
}

func TestClassifyError(t *testing.T) {
	err := classifyError(errQuota{})
	if llm.KindOf(err) != llm.ErrorKindRateLimit {
		t.Errorf("expected rate_limit kind, got %s", llm.KindOf(err))
	}
}

type errQuota struct{}

func (errQuota) Error() string { return "googleapi: Error 429: quota exceeded" }
