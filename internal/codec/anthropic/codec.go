// Package anthropic implements the codec.Codec for the Anthropic Messages
// wire format.
package anthropic

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/chronicle-run/chronicle/internal/api/anthropic"
	"github.com/chronicle-run/chronicle/internal/codec"
	"github.com/chronicle-run/chronicle/internal/domain"
)

const defaultMaxTokens = 1024

// Codec implements codec.Codec for Anthropic Messages.
type Codec struct {
	// Images fetches and base64-inlines image_url content parts — Anthropic
	// requires image content to arrive as base64, not a remote reference.
	Images *codec.ImageFetcher
}

func New() *Codec { return &Codec{Images: codec.NewImageFetcher()} }

func (c *Codec) Name() string { return "anthropic" }

func (c *Codec) EncodeRequest(ctx context.Context, req *domain.CanonicalRequest, model string) ([]byte, http.Header, error) {
	apiReq, err := CanonicalToAPIRequestWithImages(ctx, req, c.Images)
	if err != nil {
		return nil, nil, fmt.Errorf("encode anthropic request: %w", err)
	}
	apiReq.Model = model
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, nil, fmt.Errorf("encode anthropic request: %w", err)
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("anthropic-version", "2023-06-01")
	return body, h, nil
}

func (c *Codec) DecodeResponse(data []byte) (*domain.CanonicalResponse, error) {
	var apiResp anthropic.MessagesResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}
	return APIResponseToCanonical(&apiResp), nil
}

func (c *Codec) ClassifyError(statusCode int, headers http.Header, body []byte) codec.Outcome {
	return codec.ClassifyHTTPStatus(statusCode, headers, body)
}

// mapStopReason normalizes Anthropic's stop_reason into the closed
// domain.FinishReason enum.
func mapStopReason(raw string) (domain.FinishReason, string) {
	switch raw {
	case "end_turn", "stop_sequence":
		return domain.FinishStop, ""
	case "max_tokens":
		return domain.FinishLength, ""
	case "tool_use":
		return domain.FinishToolCalls, ""
	case "":
		return "", ""
	default:
		return domain.FinishError, raw
	}
}

// APIResponseToCanonical converts an Anthropic response to canonical format,
// consolidating text blocks and surfacing tool_use blocks as tool calls.
func APIResponseToCanonical(apiResp *anthropic.MessagesResponse) *domain.CanonicalResponse {
	var content string
	var toolCalls []domain.ToolCall
	for _, part := range apiResp.Content {
		switch part.Type {
		case "text":
			content += part.Text
		case "tool_use":
			args, _ := json.Marshal(part.Input)
			toolCalls = append(toolCalls, domain.NewToolCall(part.ID, "function", part.Name, string(args)))
		}
	}

	fr, raw := mapStopReason(apiResp.StopReason)

	return &domain.CanonicalResponse{
		ID:      apiResp.ID,
		Object:  "chat.completion",
		Model:   apiResp.Model,
		Choices: []domain.Choice{
			{
				Index: 0,
				Message: &domain.Message{
					Role:      "assistant",
					Content:   content,
					ToolCalls: toolCalls,
				},
				FinishReason: fr,
			},
		},
		Usage: domain.Usage{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
		Meta: domain.ResponseMeta{Provider: "anthropic", Model: apiResp.Model, RawFinishReason: raw},
	}
}

// CanonicalToAPIRequest converts a canonical request to Anthropic wire
// format without fetching any image_url content parts (they are dropped).
// Kept for callers that only ever pass plain-text messages; EncodeRequest
// uses CanonicalToAPIRequestWithImages instead so multimodal parts survive.
func CanonicalToAPIRequest(req *domain.CanonicalRequest) *anthropic.MessagesRequest {
	apiReq, _ := CanonicalToAPIRequestWithImages(context.Background(), req, nil)
	return apiReq
}

// CanonicalToAPIRequestWithImages converts a canonical request to Anthropic
// wire format: the system message is consolidated into a top-level field, a
// max_tokens is always supplied (Anthropic requires it), and any image_url
// content part is fetched and inlined as base64 via fetcher (a nil fetcher
// silently drops image_url parts, matching CanonicalToAPIRequest's behavior).
func CanonicalToAPIRequestWithImages(ctx context.Context, req *domain.CanonicalRequest, fetcher *codec.ImageFetcher) (*anthropic.MessagesRequest, error) {
	var systemBlocks anthropic.SystemMessages
	var messages []anthropic.Message

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			systemBlocks = append(systemBlocks, anthropic.SystemBlock{Type: "text", Text: m.Content})
		case "tool":
			messages = append(messages, anthropic.Message{
				Role: "user",
				Content: anthropic.ContentBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
		default:
			blocks, err := contentBlocks(ctx, m, fetcher)
			if err != nil {
				return nil, err
			}
			for _, tc := range m.ToolCalls {
				var input any
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
				blocks = append(blocks, anthropic.ContentPart{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: input,
				})
			}
			messages = append(messages, anthropic.Message{Role: m.Role, Content: blocks})
		}
	}

	apiReq := &anthropic.MessagesRequest{
		Model:         req.Model,
		Messages:      messages,
		Stream:        req.Stream,
		StopSequences: req.Stop,
	}
	if len(systemBlocks) > 0 {
		apiReq.System = systemBlocks
	}
	if req.MaxTokens > 0 {
		apiReq.MaxTokens = req.MaxTokens
	} else {
		apiReq.MaxTokens = defaultMaxTokens
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		apiReq.Temperature = &t
	}
	if len(req.Tools) > 0 {
		apiReq.Tools = make([]anthropic.Tool, len(req.Tools))
		for i, t := range req.Tools {
			apiReq.Tools[i] = anthropic.Tool{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				InputSchema: t.Function.Parameters,
			}
		}
	}

	return apiReq, nil
}

// contentBlocks translates a message's Content/Parts into Anthropic content
// blocks. A plain Content string becomes a single text block; Parts (set
// when the caller sent multimodal content) are translated part by part,
// fetching and inlining any image_url via fetcher.
func contentBlocks(ctx context.Context, m domain.Message, fetcher *codec.ImageFetcher) (anthropic.ContentBlock, error) {
	if len(m.Parts) == 0 {
		if m.Content == "" {
			return nil, nil
		}
		return anthropic.ContentBlock{{Type: "text", Text: m.Content}}, nil
	}

	var blocks anthropic.ContentBlock
	for _, part := range m.Parts {
		switch part.Type {
		case domain.ContentTypeText:
			blocks = append(blocks, anthropic.ContentPart{Type: "text", Text: part.Text})
		case domain.ContentTypeImageURL:
			if fetcher == nil {
				continue
			}
			converted, err := fetcher.ConvertContentPart(ctx, &part)
			if err != nil {
				return nil, fmt.Errorf("fetch image_url content part: %w", err)
			}
			if converted.Source == nil {
				continue
			}
			blocks = append(blocks, anthropic.ContentPart{
				Type: "image",
				Source: &anthropic.ImageSource{
					Type:      converted.Source.Type,
					MediaType: converted.Source.MediaType,
					Data:      converted.Source.Data,
				},
			})
		}
	}
	return blocks, nil
}

// DecodeStream consumes Anthropic's typed SSE event stream and synthesises
// OpenAI-style canonical chunks: message_start's role and prompt usage go
// into the merged response only (no chunk is emitted for it),
// content_block_delta carries text, message_delta carries the terminal
// finish_reason and completion usage.
func (c *Codec) DecodeStream(r io.Reader) (<-chan domain.StreamChunk, func() *domain.CanonicalResponse, error) {
	out := make(chan domain.StreamChunk)
	merged := &domain.CanonicalResponse{Meta: domain.ResponseMeta{Provider: "anthropic"}}

	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var toolUseIndex = map[int]string{} // block index -> tool call id, for partial_json deltas
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			var kind struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal([]byte(payload), &kind); err != nil {
				continue
			}

			var chunk domain.StreamChunk
			forward := true
			switch kind.Type {
			case "message_start":
				// Folded into merged only: spec.md §8 scenario 4 counts three
				// canonical chunks for this sequence, so message_start's role/
				// usage never reaches the output channel on its own.
				var ev anthropic.MessageStartEvent
				json.Unmarshal([]byte(payload), &ev)
				chunk = domain.StreamChunk{
					ID: ev.Message.ID, Model: ev.Message.Model,
					Choices: []domain.Choice{{Index: 0, Delta: &domain.Message{Role: "assistant"}}},
					Usage:   &domain.Usage{PromptTokens: ev.Message.Usage.InputTokens},
				}
				forward = false

			case "content_block_start":
				var ev anthropic.ContentBlockStartEvent
				json.Unmarshal([]byte(payload), &ev)
				if ev.ContentBlock.Type == "tool_use" {
					toolUseIndex[ev.Index] = ev.ContentBlock.ID
					chunk = domain.StreamChunk{Choices: []domain.Choice{{Index: 0, Delta: &domain.Message{
						ToolCalls: []domain.ToolCall{domain.NewToolCall(ev.ContentBlock.ID, "function", ev.ContentBlock.Name, "")},
					}}}}
				} else {
					continue
				}

			case "content_block_delta":
				var ev anthropic.ContentBlockDeltaEvent
				json.Unmarshal([]byte(payload), &ev)
				delta := &domain.Message{}
				switch ev.Delta.Type {
				case "text_delta":
					delta.Content = ev.Delta.Text
				case "input_json_delta":
					id := toolUseIndex[ev.Index]
					delta.ToolCalls = []domain.ToolCall{domain.NewToolCall(id, "function", "", ev.Delta.PartialJSON)}
				default:
					continue
				}
				chunk = domain.StreamChunk{Choices: []domain.Choice{{Index: 0, Delta: delta}}}

			case "message_delta":
				var ev anthropic.MessageDeltaEvent
				json.Unmarshal([]byte(payload), &ev)
				fr, _ := mapStopReason(ev.Delta.StopReason)
				chunk = domain.StreamChunk{Choices: []domain.Choice{{Index: 0, Delta: &domain.Message{}, FinishReason: fr}}}
				if ev.Usage != nil {
					chunk.Usage = &domain.Usage{CompletionTokens: ev.Usage.OutputTokens}
				}

			case "message_stop":
				return

			default:
				continue
			}

			domain.MergeChunk(merged, chunk)
			if forward {
				out <- chunk
			}
		}
	}()

	return out, func() *domain.CanonicalResponse { return merged }, nil
}

var _ codec.Codec = (*Codec)(nil)
