// Package openai provides an OpenAI client implementing llm.Client.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"agentd/pkg/llm"
	"agentd/pkg/tools"
)

const providerName = "openai"

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o"

// Client wraps the official OpenAI Go client to implement llm.Client.
type Client struct {
	client openai.Client
	model  string
}

// NewClient creates a new OpenAI client for the given model. An empty model
// selects DefaultModel.
func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// ModelName returns the model identifier for this client.
func (c *Client) ModelName() string {
	return c.model
}

// convertPropertyToSchema recursively converts a Property to OpenAI schema format.
func convertPropertyToSchema(prop *tools.Property) map[string]any {
	schema := map[string]any{
		"type":        prop.Type,
		"description": prop.Description,
	}
	if len(prop.Enum) > 0 {
		schema["enum"] = prop.Enum
	}
	if prop.Type == "array" && prop.Items != nil {
		schema["items"] = convertPropertyToSchema(prop.Items)
	}
	if prop.Type == "object" && prop.Properties != nil {
		properties := make(map[string]any)
		for name, childProp := range prop.Properties {
			if childProp != nil {
				properties[name] = convertPropertyToSchema(childProp)
			}
		}
		schema["properties"] = properties
	}
	return schema
}

func convertMessages(messages []llm.CompletionMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				args, err := json.Marshal(tc.Parameters)
				if err != nil {
					args = []byte("{}")
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(args),
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case llm.RoleTool:
			tool := openai.ChatCompletionToolMessageParam{ToolCallID: msg.ToolCallID}
			tool.Content.OfString = openai.String(msg.Content)
			out = append(out, openai.ChatCompletionMessageParamUnion{OfTool: &tool})
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    convertMessages(in.Messages),
		MaxTokens:   openai.Int(int64(in.MaxTokens)),
		Temperature: openai.Float(float64(in.Temperature)),
	}

	for i := range in.Tools {
		tool := &in.Tools[i]
		properties := make(map[string]any, len(tool.InputSchema.Properties))
		for name, prop := range tool.InputSchema.Properties {
			prop := prop
			properties[name] = convertPropertyToSchema(&prop)
		}
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openai.String(tool.Description),
			Parameters: openai.FunctionParameters{
				"type":       "object",
				"properties": properties,
				"required":   tool.InputSchema.Required,
			},
		}))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return llm.CompletionResponse{}, llm.NewProviderError(providerName, llm.ErrorKindMalformed, "empty response from chat completions API")
	}

	choice := &resp.Choices[0]
	var toolCalls []llm.ToolCall
	for i := range choice.Message.ToolCalls {
		tc := &choice.Message.ToolCalls[i]
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return llm.CompletionResponse{}, llm.WrapProviderError(providerName, llm.ErrorKindMalformed, err, "failed to parse tool arguments")
			}
		}
		toolCalls = append(toolCalls, llm.ToolCall{
			ID:         tc.ID,
			Name:       tc.Function.Name,
			Parameters: args,
		})
	}

	return llm.CompletionResponse{
		Content:   choice.Message.Content,
		ToolCalls: toolCalls,
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// classifyError maps OpenAI SDK errors to provider error kinds.
func classifyError(err error) *llm.ProviderError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return llm.WrapProviderError(providerName, llm.ErrorKindNetwork, err, "request interrupted")
	}

	var apierr *openai.Error
	if errors.As(err, &apierr) {
		pe := llm.WrapProviderError(providerName, llm.ErrorKindUnknown, err, "")
		pe.StatusCode = apierr.StatusCode
		switch {
		case apierr.StatusCode == 401 || apierr.StatusCode == 403:
			pe.Kind = llm.ErrorKindAuth
			pe.Message = "authentication failed - check API key"
		case apierr.StatusCode == 429:
			pe.Kind = llm.ErrorKindRateLimit
			pe.Message = "rate limit exceeded"
		case apierr.StatusCode == 400:
			pe.Kind = llm.ErrorKindMalformed
			pe.Message = "bad request - check prompt format and parameters"
		case apierr.StatusCode >= 500:
			pe.Kind = llm.ErrorKindNetwork
			pe.Message = "server error"
		}
		return pe
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "eof"):
		return llm.WrapProviderError(providerName, llm.ErrorKindNetwork, err, "network or connection error")
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "quota"):
		return llm.WrapProviderError(providerName, llm.ErrorKindRateLimit, err, "rate limiting detected")
	}
	return llm.WrapProviderError(providerName, llm.ErrorKindUnknown, err, "unclassified error")
}
