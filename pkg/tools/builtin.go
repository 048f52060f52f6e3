package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// CurrentTimeTool reports the current UTC time. Autonomous prompts use it to
// anchor periodic maintenance actions.
type CurrentTimeTool struct{}

func (CurrentTimeTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "current_time",
		Description: "Returns the current UTC time in RFC 3339 format.",
		InputSchema: InputSchema{Type: "object"},
	}
}

func (CurrentTimeTool) Exec(_ context.Context, _ map[string]any) (any, error) {
	return time.Now().UTC().Format(time.RFC3339), nil
}

// StatsSource supplies a point-in-time stats payload to ContextStatsTool.
type StatsSource func() any

// ContextStatsTool exposes context window statistics so self-inspection
// prompts (health checks, memory optimization) can reason about capacity.
type ContextStatsTool struct {
	Source StatsSource
}

func (ContextStatsTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "context_stats",
		Description: "Returns context window statistics: message count, token totals, and the stable cache prefix length.",
		InputSchema: InputSchema{Type: "object"},
	}
}

func (t ContextStatsTool) Exec(_ context.Context, _ map[string]any) (any, error) {
	if t.Source == nil {
		return nil, NewToolError(ErrorKindExecution, "context_stats", "no stats source configured")
	}
	data, err := json.Marshal(t.Source())
	if err != nil {
		return nil, WrapToolError(ErrorKindExecution, "context_stats", err)
	}
	return string(data), nil
}

// Note is a single observation recorded by the agent during autonomous runs.
type Note struct {
	Timestamp time.Time `json:"timestamp"`
	Topic     string    `json:"topic"`
	Content   string    `json:"content"`
}

// NoteBook collects notes recorded via RecordNoteTool.
type NoteBook struct {
	mu    sync.Mutex
	notes []Note
}

// NewNoteBook creates an empty note collection.
func NewNoteBook() *NoteBook {
	return &NoteBook{}
}

// Add appends a note.
func (n *NoteBook) Add(topic, content string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, Note{Timestamp: time.Now().UTC(), Topic: topic, Content: content})
}

// Notes returns a copy of all recorded notes.
func (n *NoteBook) Notes() []Note {
	n.mu.Lock()
	defer n.mu.Unlock()
	result := make([]Note, len(n.notes))
	copy(result, n.notes)
	return result
}

// RecordNoteTool persists an observation into the agent's notebook.
type RecordNoteTool struct {
	Book *NoteBook
}

func (RecordNoteTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "record_note",
		Description: "Records an observation for later review. Use for findings from health checks or maintenance actions.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"topic":   {Type: "string", Description: "Short label for the observation"},
				"content": {Type: "string", Description: "The observation text"},
			},
			Required: []string{"topic", "content"},
		},
	}
}

func (t RecordNoteTool) Exec(_ context.Context, args map[string]any) (any, error) {
	if t.Book == nil {
		return nil, NewToolError(ErrorKindExecution, "record_note", "no notebook configured")
	}
	topic, err := stringArg("record_note", args, "topic")
	if err != nil {
		return nil, err
	}
	content, err := stringArg("record_note", args, "content")
	if err != nil {
		return nil, err
	}
	t.Book.Add(topic, content)
	return fmt.Sprintf("note recorded under %q", topic), nil
}
