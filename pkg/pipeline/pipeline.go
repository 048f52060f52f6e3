// Package pipeline runs the completion/tool-execution loop for a single
// prompt against the shared context window.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"agentd/pkg/contextwin"
	"agentd/pkg/llm"
	"agentd/pkg/logx"
	"agentd/pkg/tools"
)

// DefaultMaxIterations bounds how many completion rounds a single prompt may
// consume before the run is abandoned.
const DefaultMaxIterations = 10

// Runner drives one prompt through the model: append the prompt to the
// window, complete, execute any requested tools, feed results back, and
// repeat until the model answers without tool calls.
//
// All conversation state lives in the window manager, so consecutive runs
// share history and the provider-side prompt cache.
type Runner struct {
	client        llm.Client
	window        *contextwin.Manager
	registry      *tools.Registry
	logger        *logx.Logger
	maxIterations int
	maxTokens     int
	temperature   float32
	onEviction    func(contextwin.EvictionReport)
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxIterations overrides the completion round cap.
func WithMaxIterations(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxIterations = n
		}
	}
}

// WithMaxTokens sets the per-completion output token limit.
func WithMaxTokens(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxTokens = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(r *Runner) { r.temperature = t }
}

// WithLogger sets the logger.
func WithLogger(l *logx.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithEvictionHook observes every eviction batch, for metrics.
func WithEvictionHook(h func(contextwin.EvictionReport)) Option {
	return func(r *Runner) { r.onEviction = h }
}

// New creates a Runner over the given client, window, and tool registry.
func New(client llm.Client, window *contextwin.Manager, registry *tools.Registry, opts ...Option) *Runner {
	r := &Runner{
		client:        client,
		window:        window,
		registry:      registry,
		logger:        logx.NewLogger("pipeline"),
		maxIterations: DefaultMaxIterations,
		maxTokens:     4096,
		temperature:   0.7,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the prompt and returns the model's final text answer. The
// prompt, every assistant turn, and every tool result are appended to the
// window so the full exchange survives into later runs.
func (r *Runner) Run(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	r.window.Append(contextwin.NewUserMessage(prompt))

	for iteration := 0; iteration < r.maxIterations; iteration++ {
		r.evict()

		req := llm.CompletionRequest{
			Messages:        buildMessages(r.window.Window()),
			Tools:           r.registry.List(),
			Temperature:     r.temperature,
			MaxTokens:       r.maxTokens,
			StablePrefixLen: r.window.StablePrefixLen(),
		}

		resp, err := r.client.Complete(ctx, req)
		if err != nil {
			return "", logx.Wrap(err, "completion failed")
		}
		// The request that just succeeded pins the current window contents
		// in the provider cache; extend the stable prefix before appending
		// the response.
		r.window.MarkDelivered()

		r.window.Append(contextwin.NewAssistantMessage(resp.Content, toWindowCalls(resp.ToolCalls)))

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		r.logger.DebugDomain("pipeline", "iteration %d: executing %d tool calls", iteration+1, len(resp.ToolCalls))

		// Every tool call must get a result message, including lookup and
		// execution failures: providers reject an assistant tool_use with
		// no matching result.
		for _, call := range resp.ToolCalls {
			content := r.executeTool(ctx, call)
			r.window.Append(contextwin.NewToolMessage(call.ID, content))
		}
	}

	return "", fmt.Errorf("prompt did not converge after %d iterations", r.maxIterations)
}

// evict re-invokes MaybeEvict until the window reports itself under budget.
// Each batch removes at least one message, so the loop terminates.
func (r *Runner) evict() {
	for {
		report := r.window.MaybeEvict()
		if report == nil {
			return
		}
		r.logger.Info("evicted %d messages (%d tokens) from context window",
			report.MessagesRemoved, report.TokensRemoved)
		if r.onEviction != nil {
			r.onEviction(*report)
		}
		if !report.OverBudget {
			return
		}
	}
}

// executeTool resolves and runs one tool call, formatting failures as error
// text rather than aborting the run.
func (r *Runner) executeTool(ctx context.Context, call llm.ToolCall) string {
	tool, err := r.registry.Get(call.Name)
	if err != nil {
		r.logger.Warn("tool %q not found: %v", call.Name, err)
		return formatToolResult(nil, err)
	}

	result, err := tool.Exec(ctx, call.Parameters)
	if err != nil {
		r.logger.Warn("tool %q failed: %v", call.Name, err)
	}
	return formatToolResult(result, err)
}

// formatToolResult renders a tool outcome as the text fed back to the model.
func formatToolResult(result any, err error) string {
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	switch v := result.(type) {
	case nil:
		return "OK"
	case string:
		return v
	default:
		data, merr := json.Marshal(v)
		if merr != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// buildMessages converts the window snapshot into provider-neutral
// completion messages.
func buildMessages(window []contextwin.Message) []llm.CompletionMessage {
	messages := make([]llm.CompletionMessage, 0, len(window))
	for i := range window {
		msg := &window[i]
		messages = append(messages, llm.CompletionMessage{
			Role:       llm.CompletionRole(msg.Role),
			Content:    msg.Content,
			ToolCalls:  toLLMCalls(msg.ToolCalls),
			ToolCallID: msg.ToolCallID,
		})
	}
	return messages
}

func toWindowCalls(calls []llm.ToolCall) []contextwin.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]contextwin.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = contextwin.ToolCall{Parameters: c.Parameters, ID: c.ID, Name: c.Name}
	}
	return out
}

func toLLMCalls(calls []contextwin.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = llm.ToolCall{Parameters: c.Parameters, ID: c.ID, Name: c.Name}
	}
	return out
}
