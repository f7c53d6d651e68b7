// Package ollama implements the codec.Codec for Ollama's /api/chat wire
// format: close to OpenAI's shape but NDJSON-streamed instead of SSE, and
// tool call arguments travel as a JSON object rather than a JSON-encoded
// string.
package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/chronicle-run/chronicle/internal/codec"
	"github.com/chronicle-run/chronicle/internal/domain"
)

// Codec implements codec.Codec for Ollama's /api/chat.
type Codec struct {
	// Images fetches image_url content parts and strips them down to the
	// raw base64 payload Ollama's images field wants — no data URL prefix,
	// no media-type wrapper.
	Images *codec.ImageFetcher
}

func New() *Codec { return &Codec{Images: codec.NewImageFetcher()} }

func (c *Codec) Name() string { return "ollama" }

// chatRequest is the /api/chat request body.
type chatRequest struct {
	Model    string         `json:"model"`
	Messages []message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Tools    []tool         `json:"tools,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Images    []string   `json:"images,omitempty"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type toolCall struct {
	Function functionCall `json:"function"`
}

// functionCall carries Arguments as a decoded object — Ollama's wire
// format never JSON-encodes tool arguments into a string the way OpenAI's
// does.
type functionCall struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

type tool struct {
	Type     string       `json:"type"`
	Function functionTool `json:"function"`
}

type functionTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// chatResponse is both the non-streaming response and one NDJSON line of
// a streaming response; Done distinguishes the final line.
type chatResponse struct {
	Model      string  `json:"model"`
	CreatedAt  string  `json:"created_at"`
	Message    message `json:"message"`
	Done       bool    `json:"done"`
	DoneReason string  `json:"done_reason,omitempty"`

	PromptEvalCount int `json:"prompt_eval_count,omitempty"`
	EvalCount       int `json:"eval_count,omitempty"`
}

func (c *Codec) EncodeRequest(ctx context.Context, req *domain.CanonicalRequest, model string) ([]byte, http.Header, error) {
	apiReq, err := c.canonicalToAPIRequest(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("encode ollama request: %w", err)
	}
	apiReq.Model = model
	apiReq.Stream = req.Stream
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, nil, fmt.Errorf("encode ollama request: %w", err)
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return body, h, nil
}

func (c *Codec) canonicalToAPIRequest(ctx context.Context, req *domain.CanonicalRequest) (*chatRequest, error) {
	messages := make([]message, len(req.Messages))
	for i, m := range req.Messages {
		content, images, err := c.contentAndImages(ctx, m)
		if err != nil {
			return nil, err
		}
		messages[i] = message{Role: m.Role, Content: content, Images: images}
		for _, tc := range m.ToolCalls {
			var args any
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = tc.Function.Arguments
			}
			messages[i].ToolCalls = append(messages[i].ToolCalls, toolCall{
				Function: functionCall{Name: tc.Function.Name, Arguments: args},
			})
		}
	}

	apiReq := &chatRequest{Messages: messages}
	if len(req.Tools) > 0 {
		apiReq.Tools = make([]tool, len(req.Tools))
		for i, t := range req.Tools {
			apiReq.Tools[i] = tool{
				Type: t.Type,
				Function: functionTool{
					Name:        t.Function.Name,
					Description: t.Function.Description,
					Parameters:  t.Function.Parameters,
				},
			}
		}
	}
	if req.Temperature != nil || req.TopP != nil || len(req.Stop) > 0 {
		apiReq.Options = map[string]any{}
		if req.Temperature != nil {
			apiReq.Options["temperature"] = *req.Temperature
		}
		if req.TopP != nil {
			apiReq.Options["top_p"] = *req.TopP
		}
		if len(req.Stop) > 0 {
			apiReq.Options["stop"] = req.Stop
		}
	}
	return apiReq, nil
}

// contentAndImages splits a message's Content/Parts into Ollama's flat
// content string plus a separate images array of raw base64 (no data URL
// prefix, no media-type wrapper) — unlike Anthropic/Bedrock, Ollama doesn't
// interleave text and images within content.
func (c *Codec) contentAndImages(ctx context.Context, m domain.Message) (string, []string, error) {
	if len(m.Parts) == 0 {
		return m.Content, nil, nil
	}
	var text string
	var images []string
	for _, part := range m.Parts {
		switch part.Type {
		case domain.ContentTypeText:
			text += part.Text
		case domain.ContentTypeImageURL:
			source, err := c.Images.FetchAndConvert(ctx, part.ImageURL)
			if err != nil {
				return "", nil, fmt.Errorf("fetch image_url content part: %w", err)
			}
			images = append(images, source.Data)
		}
	}
	return text, images, nil
}

func (c *Codec) DecodeResponse(data []byte) (*domain.CanonicalResponse, error) {
	var apiResp chatResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	return apiResponseToCanonical(&apiResp), nil
}

// mapDoneReason normalizes Ollama's done_reason, treating a message that
// carries tool calls as FinishToolCalls regardless of what done_reason
// says — Ollama reports "stop" even when it just emitted tool calls.
func mapDoneReason(raw string, hasToolCalls bool) (domain.FinishReason, string) {
	if hasToolCalls {
		return domain.FinishToolCalls, ""
	}
	switch raw {
	case "stop", "":
		return domain.FinishStop, ""
	case "length":
		return domain.FinishLength, ""
	default:
		return domain.FinishError, raw
	}
}

func toDomainMessage(m message) *domain.Message {
	msg := &domain.Message{Role: m.Role, Content: m.Content}
	for _, tc := range m.ToolCalls {
		argBytes, _ := json.Marshal(tc.Function.Arguments)
		msg.ToolCalls = append(msg.ToolCalls, domain.NewToolCall("", "function", tc.Function.Name, string(argBytes)))
	}
	return msg
}

func apiResponseToCanonical(apiResp *chatResponse) *domain.CanonicalResponse {
	msg := toDomainMessage(apiResp.Message)
	fr, rawFinish := mapDoneReason(apiResp.DoneReason, len(msg.ToolCalls) > 0)

	return &domain.CanonicalResponse{
		Model: apiResp.Model,
		Choices: []domain.Choice{
			{Index: 0, Message: msg, FinishReason: fr},
		},
		Usage: domain.Usage{
			PromptTokens:     apiResp.PromptEvalCount,
			CompletionTokens: apiResp.EvalCount,
			TotalTokens:      apiResp.PromptEvalCount + apiResp.EvalCount,
		},
		Meta: domain.ResponseMeta{Provider: "ollama", Model: apiResp.Model, RawFinishReason: rawFinish},
	}
}

func (c *Codec) ClassifyError(statusCode int, headers http.Header, body []byte) codec.Outcome {
	return codec.ClassifyHTTPStatus(statusCode, headers, body)
}

// DecodeStream reads Ollama's NDJSON stream — one JSON object per line,
// no "data: " framing and no terminal sentinel; the line with done:true
// is the last one.
func (c *Codec) DecodeStream(r io.Reader) (<-chan domain.StreamChunk, func() *domain.CanonicalResponse, error) {
	out := make(chan domain.StreamChunk)
	merged := &domain.CanonicalResponse{Meta: domain.ResponseMeta{Provider: "ollama"}}

	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var apiResp chatResponse
			if err := json.Unmarshal(line, &apiResp); err != nil {
				continue
			}
			chunk := apiChunkToCanonical(&apiResp)
			domain.MergeChunk(merged, chunk)
			out <- chunk
			if apiResp.Done {
				return
			}
		}
	}()

	return out, func() *domain.CanonicalResponse { return merged }, nil
}

func apiChunkToCanonical(apiResp *chatResponse) domain.StreamChunk {
	msg := toDomainMessage(apiResp.Message)
	var fr domain.FinishReason
	if apiResp.Done {
		fr, _ = mapDoneReason(apiResp.DoneReason, len(msg.ToolCalls) > 0)
	}

	chunk := domain.StreamChunk{
		Model: apiResp.Model,
		Choices: []domain.Choice{
			{Index: 0, Delta: msg, FinishReason: fr},
		},
	}
	if apiResp.Done {
		chunk.Usage = &domain.Usage{
			PromptTokens:     apiResp.PromptEvalCount,
			CompletionTokens: apiResp.EvalCount,
			TotalTokens:      apiResp.PromptEvalCount + apiResp.EvalCount,
		}
	}
	return chunk
}

var _ codec.Codec = (*Codec)(nil)
