package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/chronicle-run/chronicle/internal/codec"
	"github.com/chronicle-run/chronicle/internal/domain"
)

func TestEncodeRequest_SetsModelAndStreamOptions(t *testing.T) {
	req := &domain.CanonicalRequest{
		Stream:   true,
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	}
	body, headers, err := New().EncodeRequest(context.Background(), req, "gpt-4o")
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}
	if ct := headers.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if fields["model"] != "gpt-4o" {
		t.Errorf("model = %v, want gpt-4o", fields["model"])
	}
	so, ok := fields["stream_options"].(map[string]any)
	if !ok {
		t.Fatalf("stream_options missing or wrong shape: %v", fields["stream_options"])
	}
	if so["include_usage"] != true {
		t.Errorf("stream_options.include_usage = %v, want true", so["include_usage"])
	}
}

func TestEncodeRequest_TranslatesMultimodalParts(t *testing.T) {
	req := &domain.CanonicalRequest{
		Messages: []domain.Message{
			{Role: "user", Parts: []domain.ContentPart{
				{Type: domain.ContentTypeText, Text: "what's this?"},
				{Type: domain.ContentTypeImageURL, ImageURL: "https://example.com/cat.png"},
			}},
		},
	}
	body, _, err := New().EncodeRequest(context.Background(), req, "gpt-4o")
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	messages := fields["messages"].([]any)
	content := messages[0].(map[string]any)["content"].([]any)
	if len(content) != 2 {
		t.Fatalf("content parts = %+v, want 2", content)
	}
	imgPart := content[1].(map[string]any)
	if imgPart["type"] != "image_url" {
		t.Errorf("part type = %v, want image_url", imgPart["type"])
	}
	imgURL := imgPart["image_url"].(map[string]any)
	if imgURL["url"] != "https://example.com/cat.png" {
		t.Errorf("image_url.url = %v, want https://example.com/cat.png", imgURL["url"])
	}
}

func TestNewNamed_OverridesProviderInMeta(t *testing.T) {
	c := NewNamed("groq")
	if c.Name() != "groq" {
		t.Errorf("Name() = %q, want groq", c.Name())
	}

	body := []byte(`{
		"id": "chatcmpl-1", "object": "chat.completion", "model": "llama-3.1-70b",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
	}`)
	resp, err := c.DecodeResponse(body)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if resp.Meta.Provider != "groq" {
		t.Errorf("Meta.Provider = %q, want groq", resp.Meta.Provider)
	}
}

func TestMapFinishReason(t *testing.T) {
	cases := []struct {
		raw  string
		want domain.FinishReason
	}{
		{"stop", domain.FinishStop},
		{"length", domain.FinishLength},
		{"tool_calls", domain.FinishToolCalls},
		{"function_call", domain.FinishToolCalls},
		{"content_filter", domain.FinishContentFilter},
		{"", ""},
		{"weird", domain.FinishError},
	}
	for _, tc := range cases {
		got, _ := mapFinishReason(tc.raw)
		if got != tc.want {
			t.Errorf("mapFinishReason(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestDecodeResponse_ToolCalls(t *testing.T) {
	body := []byte(`{
		"id": "chatcmpl-1", "object": "chat.completion", "model": "gpt-4o",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "",
			"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"Boston\"}"}}]},
			"finish_reason": "tool_calls"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`)
	resp, err := New().DecodeResponse(body)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if resp.Choices[0].FinishReason != domain.FinishToolCalls {
		t.Errorf("FinishReason = %q, want tool_calls", resp.Choices[0].FinishReason)
	}
	if resp.Choices[0].Message.ToolCalls[0].Function.Name != "get_weather" {
		t.Errorf("tool call name = %q, want get_weather", resp.Choices[0].Message.ToolCalls[0].Function.Name)
	}
}

func TestDecodeStream_SSEWithDoneSentinel(t *testing.T) {
	body := "" +
		`data: {"id":"1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}` + "\n\n" +
		`data: {"id":"1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}` + "\n\n" +
		`data: {"id":"1","object":"chat.completion.chunk","model":"gpt-4o","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}` + "\n\n" +
		`data: [DONE]` + "\n\n"

	chunks, finalFn, err := New().DecodeStream(strings.NewReader(body))
	if err != nil {
		t.Fatalf("DecodeStream() error = %v", err)
	}

	var got []domain.StreamChunk
	for c := range chunks {
		got = append(got, c)
	}
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}

	final := finalFn()
	if final.Choices[0].Message.Content != "Hello" {
		t.Errorf("merged content = %q, want Hello", final.Choices[0].Message.Content)
	}
	if final.Usage.TotalTokens != 5 {
		t.Errorf("merged TotalTokens = %d, want 5", final.Usage.TotalTokens)
	}
}

func TestClassifyError_DelegatesToHTTPStatus(t *testing.T) {
	outcome := New().ClassifyError(429, http.Header{}, nil)
	if outcome.Kind != codec.OutcomeRateLimited {
		t.Errorf("ClassifyError(429) Kind = %q, want %q", outcome.Kind, codec.OutcomeRateLimited)
	}
}
