package tools

import (
	"errors"
	"fmt"
)

// ErrorKind classifies tool execution failures.
type ErrorKind int8

const (
	// ErrorKindNotFound indicates the requested tool is not registered.
	ErrorKindNotFound ErrorKind = iota
	// ErrorKindInvalidArguments indicates the call arguments failed validation.
	ErrorKindInvalidArguments
	// ErrorKindExecution indicates the tool itself failed while running.
	ErrorKindExecution
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNotFound:
		return "not_found"
	case ErrorKindInvalidArguments:
		return "invalid_arguments"
	case ErrorKindExecution:
		return "execution"
	default:
		return "invalid"
	}
}

// ToolError is a classified tool failure.
//
//nolint:revive // tools.ToolError reads naturally at call sites alongside llm.ProviderError
type ToolError struct {
	Err     error
	Message string
	Tool    string
	Kind    ErrorKind
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("tool error (%s) for %s: %s", e.Kind.String(), e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error (%s) for %s: %v", e.Kind.String(), e.Tool, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ToolError) Unwrap() error {
	return e.Err
}

// NewToolError creates a classified tool error.
func NewToolError(kind ErrorKind, tool, message string) *ToolError {
	return &ToolError{Kind: kind, Tool: tool, Message: message}
}

// WrapToolError wraps an underlying execution failure.
func WrapToolError(kind ErrorKind, tool string, err error) *ToolError {
	return &ToolError{Kind: kind, Tool: tool, Err: err}
}

// KindOf returns the error kind of a tool error, or ErrorKindExecution for
// unclassified errors.
func KindOf(err error) ErrorKind {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ErrorKindExecution
}
