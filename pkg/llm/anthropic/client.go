// Package anthropic provides an Anthropic Claude client implementing llm.Client.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"agentd/pkg/llm"
)

const providerName = "anthropic"

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

// Client wraps the Anthropic API client to implement llm.Client.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClient creates a new Claude client for the given model. An empty model
// selects DefaultModel.
func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// ModelName returns the model identifier for this client.
func (c *Client) ModelName() string {
	return string(c.model)
}

// convertMessages prepares messages for the Anthropic API.
// 1. Extracts leading and embedded system messages to the system parameter
// 2. Maps tool result messages to user-role tool_result blocks
// 3. Merges consecutive non-assistant messages so roles alternate
// 4. Places an ephemeral cache marker on the last block of the stable prefix.
func convertMessages(in llm.CompletionRequest) (system []anthropic.TextBlockParam, out []anthropic.MessageParam, err error) {
	if len(in.Messages) == 0 {
		return nil, nil, fmt.Errorf("message list cannot be empty")
	}

	markIdx := in.StablePrefixLen - 1

	for i := range in.Messages {
		msg := &in.Messages[i]
		cached := i == markIdx

		switch msg.Role {
		case llm.RoleSystem:
			block := anthropic.TextBlockParam{Text: msg.Content}
			if cached {
				block.CacheControl = anthropic.NewCacheControlEphemeralParam()
			}
			system = append(system, block)

		case llm.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: tc.Parameters,
					},
				})
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(" "))
			}
			if cached {
				markCacheable(&blocks[len(blocks)-1])
			}
			out = append(out, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})

		case llm.RoleTool:
			block := anthropic.ContentBlockParamUnion{
				OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: msg.ToolCallID,
					Content: []anthropic.ToolResultBlockParamContentUnion{
						{OfText: &anthropic.TextBlockParam{Text: msg.Content}},
					},
				},
			}
			if cached {
				markCacheable(&block)
			}
			appendUserBlock(&out, block)

		case llm.RoleUser:
			block := anthropic.NewTextBlock(msg.Content)
			if cached {
				markCacheable(&block)
			}
			appendUserBlock(&out, block)

		default:
			return nil, nil, fmt.Errorf("unsupported role %q at index %d", msg.Role, i)
		}
	}

	if len(out) == 0 {
		return nil, nil, fmt.Errorf("must have at least one non-system message")
	}
	if out[0].Role != anthropic.MessageParamRoleUser {
		return nil, nil, fmt.Errorf("first message must be user role")
	}
	return system, out, nil
}

// appendUserBlock adds a block to the trailing user message, creating one if
// the previous message was from the assistant. This keeps roles alternating.
func appendUserBlock(out *[]anthropic.MessageParam, block anthropic.ContentBlockParamUnion) {
	n := len(*out)
	if n > 0 && (*out)[n-1].Role == anthropic.MessageParamRoleUser {
		(*out)[n-1].Content = append((*out)[n-1].Content, block)
		return
	}
	*out = append(*out, anthropic.MessageParam{
		Role:    anthropic.MessageParamRoleUser,
		Content: []anthropic.ContentBlockParamUnion{block},
	})
}

func markCacheable(block *anthropic.ContentBlockParamUnion) {
	cc := anthropic.NewCacheControlEphemeralParam()
	switch {
	case block.OfText != nil:
		block.OfText.CacheControl = cc
	case block.OfToolUse != nil:
		block.OfToolUse.CacheControl = cc
	case block.OfToolResult != nil:
		block.OfToolResult.CacheControl = cc
	}
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	system, messages, err := convertMessages(in)
	if err != nil {
		return llm.CompletionResponse{}, llm.WrapProviderError(providerName, llm.ErrorKindMalformed, err, "message conversion failed")
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(in.MaxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if len(system) > 0 {
		params.System = system
	}

	if len(in.Tools) > 0 {
		toolParams := make([]anthropic.ToolUnionParam, 0, len(in.Tools))
		for i := range in.Tools {
			tool := &in.Tools[i]
			props := make(map[string]any, len(tool.InputSchema.Properties))
			for name := range tool.InputSchema.Properties {
				prop := tool.InputSchema.Properties[name]
				propMap := map[string]any{"type": prop.Type}
				if prop.Description != "" {
					propMap["description"] = prop.Description
				}
				if len(prop.Enum) > 0 {
					propMap["enum"] = prop.Enum
				}
				props[name] = propMap
			}
			toolParams = append(toolParams, anthropic.ToolUnionParamOfTool(
				anthropic.ToolInputSchemaParam{
					Type:       "object",
					Properties: props,
					Required:   tool.InputSchema.Required,
				},
				tool.Name,
			))
		}
		params.Tools = toolParams
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfAuto: &anthropic.ToolChoiceAutoParam{},
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llm.NewProviderError(providerName, llm.ErrorKindMalformed, "empty response from Claude API")
	}

	var text string
	var toolCalls []llm.ToolCall
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			text += block.AsText().Text
		case "tool_use":
			tu := block.AsToolUse()
			var args map[string]any
			if err := json.Unmarshal(tu.Input, &args); err != nil {
				return llm.CompletionResponse{}, llm.WrapProviderError(providerName, llm.ErrorKindMalformed, err, "failed to parse tool input")
			}
			toolCalls = append(toolCalls, llm.ToolCall{
				ID:         tu.ID,
				Name:       tu.Name,
				Parameters: args,
			})
		}
	}

	return llm.CompletionResponse{
		Content:   text,
		ToolCalls: toolCalls,
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// classifyError maps Anthropic SDK errors to provider error kinds.
func classifyError(err error) *llm.ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return llm.WrapProviderError(providerName, llm.ErrorKindNetwork, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return llm.WrapProviderError(providerName, llm.ErrorKindNetwork, err, "request canceled")
	}

	var apierr *anthropic.Error
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
		strings.Contains(errStr, "eof") ||
		strings.Contains(errStr, "reset"):
		return llm.WrapProviderError(providerName, llm.ErrorKindNetwork, err, "network or connection error")
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "quota"):
		return llm.WrapProviderError(providerName, llm.ErrorKindRateLimit, err, "rate limiting detected")
	case strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "api key"):
		return llm.WrapProviderError(providerName, llm.ErrorKindAuth, err, "authentication error")
	}
	return llm.WrapProviderError(providerName, llm.ErrorKindUnknown, err, "unclassified error")
}
