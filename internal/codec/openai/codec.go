// Package openai implements the codec.Codec for the OpenAI Chat Completions
// wire format, and for any OpenAI-compatible upstream (Groq, Ollama's
// OpenAI-compat surface, etc.) that reuses the same shape.
package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/chronicle-run/chronicle/internal/api/openai"
	"github.com/chronicle-run/chronicle/internal/codec"
	"github.com/chronicle-run/chronicle/internal/domain"
)

// Codec implements codec.Codec for OpenAI Chat Completions.
type Codec struct {
	// ProviderName overrides "openai" for wire-compatible providers that
	// want their own name surfaced in ResponseMeta.Provider (e.g. "groq").
	ProviderName string
}

func New() *Codec { return &Codec{ProviderName: "openai"} }

func NewNamed(name string) *Codec { return &Codec{ProviderName: name} }

func (c *Codec) Name() string {
	if c.ProviderName != "" {
		return c.ProviderName
	}
	return "openai"
}

func (c *Codec) EncodeRequest(ctx context.Context, req *domain.CanonicalRequest, model string) ([]byte, http.Header, error) {
	apiReq := CanonicalToAPIRequest(req)
	apiReq.Model = model
	if req.Stream {
		apiReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, nil, fmt.Errorf("encode openai request: %w", err)
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return body, h, nil
}

func (c *Codec) DecodeResponse(data []byte) (*domain.CanonicalResponse, error) {
	var apiResp openai.ChatCompletionResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return nil, fmt.Errorf("decode openai response: %w", err)
	}
	return APIResponseToCanonical(&apiResp, c.Name()), nil
}

func (c *Codec) ClassifyError(statusCode int, headers http.Header, body []byte) codec.Outcome {
	if apiErr, err := openai.ParseErrorResponse(body); err == nil && apiErr != nil {
		if codec.KnownTransientMessage(c.Name(), apiErr.Message) {
			return codec.Retryable("provider_known_transient", statusCode)
		}
	}
	return codec.ClassifyHTTPStatus(statusCode, headers, body)
}

func (c *Codec) DecodeStream(r io.Reader) (<-chan domain.StreamChunk, func() *domain.CanonicalResponse, error) {
	out := make(chan domain.StreamChunk)
	merged := &domain.CanonicalResponse{Meta: domain.ResponseMeta{Provider: c.Name()}}

	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				return
			}
			var apiChunk openai.ChatCompletionChunk
			if err := json.Unmarshal([]byte(payload), &apiChunk); err != nil {
				continue
			}
			chunk := APIChunkToCanonical(&apiChunk)
			domain.MergeChunk(merged, chunk)
			out <- chunk
		}
	}()

	return out, func() *domain.CanonicalResponse { return merged }, nil
}

// CanonicalToAPIRequest converts a canonical request to OpenAI wire format.
func CanonicalToAPIRequest(req *domain.CanonicalRequest) *openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    contentValue(m),
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			messages[i].ToolCalls = append(messages[i].ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: tc.Type,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
	}

	apiReq := &openai.ChatCompletionRequest{
		Model:      req.Model,
		Messages:   messages,
		Stream:     req.Stream,
		Stop:       req.Stop,
		User:       req.User,
		Seed:       req.Seed,
		ToolChoice: req.ToolChoice,
	}

	if req.MaxTokens > 0 {
		apiReq.MaxCompletionTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		apiReq.Temperature = &t
	}
	if req.TopP != nil {
		p := float32(*req.TopP)
		apiReq.TopP = &p
	}
	if len(req.Tools) > 0 {
		apiReq.Tools = make([]openai.Tool, len(req.Tools))
		for i, t := range req.Tools {
			apiReq.Tools[i] = openai.Tool{
				Type: t.Type,
				Function: openai.FunctionTool{
					Name:        t.Function.Name,
					Description: t.Function.Description,
					Parameters:  t.Function.Parameters,
				},
			}
		}
	}

	return apiReq
}

// contentValue picks Content or Parts depending on which the caller sent —
// OpenAI accepts a bare string for text-only messages or a content-part
// array for multimodal ones, and unlike Anthropic/Bedrock takes image_url
// references directly without requiring the caller (or Chronicle) to fetch
// and inline them.
func contentValue(m domain.Message) any {
	if len(m.Parts) == 0 {
		return m.Content
	}
	parts := make([]openai.ContentPart, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Type {
		case domain.ContentTypeText:
			parts = append(parts, openai.ContentPart{Type: "text", Text: p.Text})
		case domain.ContentTypeImageURL:
			parts = append(parts, openai.ContentPart{Type: "image_url", ImageURL: &openai.ImageURL{URL: p.ImageURL}})
		}
	}
	return parts
}

// contentString extracts the plain text of a decoded response message's
// Content field. OpenAI only ever returns a bare string for assistant
// messages, never a content-part array, so no multimodal reconstruction is
// needed here — only encoding (requests) is ever multimodal.
func contentString(v any) string {
	s, _ := v.(string)
	return s
}

// mapFinishReason normalizes an OpenAI finish_reason string into the
// closed domain.FinishReason enum.
func mapFinishReason(raw string) (domain.FinishReason, string) {
	switch raw {
	case "stop":
		return domain.FinishStop, ""
	case "length":
		return domain.FinishLength, ""
	case "tool_calls", "function_call":
		return domain.FinishToolCalls, ""
	case "content_filter":
		return domain.FinishContentFilter, ""
	case "":
		return "", ""
	default:
		return domain.FinishError, raw
	}
}

// APIResponseToCanonical converts an OpenAI wire response to canonical format.
func APIResponseToCanonical(apiResp *openai.ChatCompletionResponse, provider string) *domain.CanonicalResponse {
	choices := make([]domain.Choice, len(apiResp.Choices))
	var rawFinish string
	for i, c := range apiResp.Choices {
		fr, raw := mapFinishReason(c.FinishReason)
		if raw != "" {
			rawFinish = raw
		}
		msg := &domain.Message{
			Role:    c.Message.Role,
			Content: contentString(c.Message.Content),
			Name:    c.Message.Name,
		}
		for _, tc := range c.Message.ToolCalls {
			call := domain.ToolCall{ID: tc.ID, Type: tc.Type}
			call.Function.Name = tc.Function.Name
			call.Function.Arguments = tc.Function.Arguments
			msg.ToolCalls = append(msg.ToolCalls, call)
		}
		choices[i] = domain.Choice{Index: c.Index, Message: msg, FinishReason: fr}
	}

	return &domain.CanonicalResponse{
		ID:      apiResp.ID,
		Object:  apiResp.Object,
		Created: apiResp.Created,
		Model:   apiResp.Model,
		Choices: choices,
		Usage: domain.Usage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		},
		Meta: domain.ResponseMeta{Provider: provider, Model: apiResp.Model, RawFinishReason: rawFinish},
	}
}

// APIChunkToCanonical converts an OpenAI streaming chunk to a canonical chunk.
func APIChunkToCanonical(chunk *openai.ChatCompletionChunk) domain.StreamChunk {
	out := domain.StreamChunk{ID: chunk.ID, Object: chunk.Object, Created: chunk.Created, Model: chunk.Model}
	for _, c := range chunk.Choices {
		delta := &domain.Message{Role: c.Delta.Role, Content: c.Delta.Content}
		for _, tc := range c.Delta.ToolCalls {
			call := domain.ToolCall{ID: tc.ID, Type: tc.Type}
			if tc.Function != nil {
				call.Function.Name = tc.Function.Name
				call.Function.Arguments = tc.Function.Arguments
			}
			delta.ToolCalls = append(delta.ToolCalls, call)
		}
		var fr domain.FinishReason
		if c.FinishReason != nil {
			fr, _ = mapFinishReason(*c.FinishReason)
		}
		out.Choices = append(out.Choices, domain.Choice{Index: c.Index, Delta: delta, FinishReason: fr})
	}
	if chunk.Usage != nil {
		out.Usage = &domain.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}
	return out
}

var _ codec.Codec = (*Codec)(nil)
