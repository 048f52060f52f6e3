package contextwin

// Role identifies the author of a context message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall represents a structured tool invocation requested by the assistant.
type ToolCall struct {
	Parameters map[string]any `json:"parameters"`
	ID         string         `json:"id"`
	Name       string         `json:"name"`
}

// Message is a single entry in the context window. Messages are immutable
// once appended; the manager owns stored messages and callers receive copies.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolCalls holds structured tool invocations for assistant messages.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a role=tool result back to the call that produced it.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// TokenCount is the estimated token cost. Zero at append time means
	// "estimate for me".
	TokenCount int `json:"token_count"`
	// SequenceIndex is assigned by the manager at append time and is
	// monotonic for the life of the manager, surviving evictions.
	SequenceIndex int `json:"sequence_index"`
	// Cacheable marks messages eligible for provider-side prompt caching.
	Cacheable bool `json:"cacheable"`
}

// NewSystemMessage creates a system instruction message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, Cacheable: true}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message with optional tool calls.
func NewAssistantMessage(content string, toolCalls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

// NewToolMessage creates a tool result message linked to a tool call ID.
func NewToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}
