package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(CurrentTimeTool{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	tool, err := reg.Get("current_time")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if tool.Definition().Name != "current_time" {
		t.Errorf("Expected tool name 'current_time', got %q", tool.Definition().Name)
	}
}

func TestRegistryDuplicateRejected(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(CurrentTimeTool{}); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := reg.Register(CurrentTimeTool{}); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
}

func TestRegistryGetUnknownReturnsNotFound(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Get("no_such_tool")
	if err == nil {
		t.Fatal("Expected error for unknown tool")
	}

	var te *ToolError
	if !errors.As(err, &te) {
		t.Fatalf("Expected *ToolError, got %T", err)
	}
	if te.Kind != ErrorKindNotFound {
		t.Errorf("Expected not_found kind, got %s", te.Kind)
	}
}

func TestRegistryListSorted(t *testing.T) {
	reg := NewRegistry()
	book := NewNoteBook()
	_ = reg.Register(RecordNoteTool{Book: book})
	_ = reg.Register(CurrentTimeTool{})
	_ = reg.Register(ContextStatsTool{Source: func() any { return nil }})

	defs := reg.List()
	if len(defs) != 3 {
		t.Fatalf("Expected 3 definitions, got %d", len(defs))
	}
	for i := 1; i < len(defs); i++ {
		if defs[i].Name < defs[i-1].Name {
			t.Errorf("Definitions not sorted: %q before %q", defs[i-1].Name, defs[i].Name)
		}
	}
}

func TestCurrentTimeTool(t *testing.T) {
	result, err := CurrentTimeTool{}.Exec(context.Background(), nil)
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if s, ok := result.(string); !ok || s == "" {
		t.Errorf("Expected non-empty timestamp string, got %v", result)
	}
}

func TestContextStatsTool(t *testing.T) {
	tool := ContextStatsTool{Source: func() any {
		return map[string]int{"message_count": 3, "total_tokens": 120}
	}}

	result, err := tool.Exec(context.Background(), nil)
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	s, ok := result.(string)
	if !ok {
		t.Fatalf("Expected string result, got %T", result)
	}
	if !strings.Contains(s, "message_count") {
		t.Errorf("Expected stats JSON, got %q", s)
	}
}

func TestRecordNoteTool(t *testing.T) {
	book := NewNoteBook()
	tool := RecordNoteTool{Book: book}

	_, err := tool.Exec(context.Background(), map[string]any{
		"topic":   "health",
		"content": "all subsystems nominal",
	})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}

	notes := book.Notes()
	if len(notes) != 1 {
		t.Fatalf("Expected 1 note, got %d", len(notes))
	}
	if notes[0].Topic != "health" {
		t.Errorf("Expected topic 'health', got %q", notes[0].Topic)
	}
}

func TestRecordNoteToolValidatesArguments(t *testing.T) {
	tool := RecordNoteTool{Book: NewNoteBook()}

	_, err := tool.Exec(context.Background(), map[string]any{"topic": "only-topic"})
	if err == nil {
		t.Fatal("Expected error for missing content argument")
	}

	var te *ToolError
	if !errors.As(err, &te) {
		t.Fatalf("Expected *ToolError, got %T", err)
	}
	if te.Kind != ErrorKindInvalidArguments {
		t.Errorf("Expected invalid_arguments kind, got %s", te.Kind)
	}

	_, err = tool.Exec(context.Background(), map[string]any{"topic": 42, "content": "x"})
	if KindOf(err) != ErrorKindInvalidArguments {
		t.Errorf("Expected invalid_arguments for mistyped topic, got %s", KindOf(err))
	}
}
