package tokens

import (
	"context"
	"encoding/json"

	anthropicapi "github.com/chronicle-run/chronicle/internal/api/anthropic"
)

// AnthropicCounter counts tokens via Anthropic's native count_tokens
// endpoint, so Claude models get the provider's own count rather than an
// estimate.
type AnthropicCounter struct {
	client  *anthropicapi.Client
	matcher *ModelMatcher
}

// NewAnthropicCounter builds an AnthropicCounter backed by a fresh API
// client.
func NewAnthropicCounter(apiKey string, opts ...anthropicapi.ClientOption) *AnthropicCounter {
	return NewAnthropicCounterWithClient(anthropicapi.NewClient(apiKey, opts...))
}

// NewAnthropicCounterWithClient builds an AnthropicCounter around an
// already-configured client, letting callers share one client across the
// codec and the counter.
func NewAnthropicCounterWithClient(client *anthropicapi.Client) *AnthropicCounter {
	return &AnthropicCounter{
		client:  client,
		matcher: NewModelMatcher([]string{"claude-"}, nil),
	}
}

// CountTokens converts req to Anthropic's wire shape and counts it via
// the count_tokens API.
func (c *AnthropicCounter) CountTokens(ctx context.Context, req *Request) (*Result, error) {
	apiReq := &anthropicapi.CountTokensRequest{Model: req.Model}

	for _, msg := range req.Messages {
		switch {
		case msg.Role == "tool":
			apiReq.Messages = append(apiReq.Messages, anthropicapi.Message{
				Role: "user",
				Content: anthropicapi.ContentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})
		case len(msg.ToolCalls) > 0:
			var parts anthropicapi.ContentBlock
			if msg.Content != "" {
				parts = append(parts, anthropicapi.ContentPart{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var input any
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
					input = tc.Function.Arguments
				}
				parts = append(parts, anthropicapi.ContentPart{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: input,
				})
			}
			apiReq.Messages = append(apiReq.Messages, anthropicapi.Message{Role: msg.Role, Content: parts})
		case len(msg.Parts) > 0:
			var parts anthropicapi.ContentBlock
			for _, part := range msg.Parts {
				if part.Text != "" {
					parts = append(parts, anthropicapi.ContentPart{Type: "text", Text: part.Text})
				}
			}
			apiReq.Messages = append(apiReq.Messages, anthropicapi.Message{Role: msg.Role, Content: parts})
		default:
			apiReq.Messages = append(apiReq.Messages, anthropicapi.Message{
				Role:    msg.Role,
				Content: anthropicapi.ContentBlock{{Type: "text", Text: msg.Content}},
			})
		}
	}

	if req.System != "" {
		apiReq.System = anthropicapi.SystemMessages{{Type: "text", Text: req.System}}
	}

	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, anthropicapi.Tool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: tool.Function.Parameters,
		})
	}

	resp, err := c.client.CountTokens(ctx, apiReq, nil)
	if err != nil {
		return nil, err
	}

	return &Result{InputTokens: resp.InputTokens, Model: req.Model, Estimated: false}, nil
}

// SupportsModel reports whether model is a Claude model.
func (c *AnthropicCounter) SupportsModel(model string) bool {
	return c.matcher.Matches(model)
}
