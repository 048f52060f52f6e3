// Package llm defines the provider-neutral completion interface shared by
// all model backends.
package llm

import (
	"context"

	"agentd/pkg/tools"
)

// CompletionRole represents the role of a message in a conversation.
type CompletionRole string

const (
	// RoleSystem indicates a system message that provides instructions or context.
	RoleSystem CompletionRole = "system"
	// RoleUser indicates a message from the human user.
	RoleUser CompletionRole = "user"
	// RoleAssistant indicates a message from the AI assistant.
	RoleAssistant CompletionRole = "assistant"
	// RoleTool indicates a tool result message answering an assistant tool call.
	RoleTool CompletionRole = "tool"
)

// ToolCall represents a tool call made by the model.
type ToolCall struct {
	Parameters map[string]any `json:"parameters"`
	ID         string         `json:"id"`
	Name       string         `json:"name"`
}

// CompletionMessage represents a message in a completion request.
type CompletionMessage struct {
	Role       CompletionRole
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// CompletionRequest represents a request to generate a completion.
// StablePrefixLen marks how many leading messages are unchanged since the
// previous request; providers that support prompt caching place a cache
// marker at that boundary.
type CompletionRequest struct {
	Messages        []CompletionMessage
	Tools           []tools.ToolDefinition
	Temperature     float32
	MaxTokens       int
	StablePrefixLen int
}

// Usage reports token accounting for a single completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// CompletionResponse represents a response from a completion request.
type CompletionResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Client defines the interface for language model interactions.
type Client interface {
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// ModelName returns the model identifier this client talks to.
	ModelName() string
}

// NewCompletionRequest creates a new completion request with default values.
func NewCompletionRequest(messages []CompletionMessage) CompletionRequest {
	return CompletionRequest{
		Messages:    messages,
		MaxTokens:   4096,
		Temperature: 0.7,
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleUser, Content: content}
}

// NewToolResultMessage creates a tool result message answering the given call.
func NewToolResultMessage(callID, content string) CompletionMessage {
	return CompletionMessage{Role: RoleTool, Content: content, ToolCallID: callID}
}
