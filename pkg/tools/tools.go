// Package tools provides the tool interface, registry, and builtin tools
// exposed to the agent pipeline.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Property describes a single parameter in a tool's input schema.
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []string             `json:"enum,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
}

// InputSchema is the JSON-schema-shaped parameter declaration for a tool.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition is the provider-facing description of a tool.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// Tool is a callable capability exposed to the LLM.
type Tool interface {
	// Definition returns the name, description, and input schema.
	Definition() ToolDefinition

	// Exec runs the tool with the given arguments. Implementations return
	// a *ToolError for argument and execution failures.
	Exec(ctx context.Context, args map[string]any) (any, error)
}

// Registry holds the tool set for one agent instance. Unlike a global
// factory registry, each agent owns its registry so parallel instances
// never share tool state.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a duplicate name is an error.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Definition().Name
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Get returns the named tool or a not-found ToolError.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return nil, NewToolError(ErrorKindNotFound, name, fmt.Sprintf("tool %q not registered", name))
	}
	return tool, nil
}

// List returns definitions for all registered tools in name order.
func (r *Registry) List() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// stringArg extracts a required string argument, returning an
// invalid-arguments ToolError when missing or mistyped.
func stringArg(toolName string, args map[string]any, key string) (string, error) {
	raw, exists := args[key]
	if !exists {
		return "", NewToolError(ErrorKindInvalidArguments, toolName, fmt.Sprintf("missing required argument %q", key))
	}
	s, ok := raw.(string)
	if !ok {
		return "", NewToolError(ErrorKindInvalidArguments, toolName, fmt.Sprintf("argument %q must be a string", key))
	}
	return s, nil
}
