package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chronicle-run/chronicle/internal/codec"
	"github.com/chronicle-run/chronicle/internal/domain"
)

func TestEncodeRequest_ToolCallArgumentsAreObjects(t *testing.T) {
	req := &domain.CanonicalRequest{
		Model: "ignored",
		Messages: []domain.Message{
			{Role: "user", Content: "what's the weather"},
			{Role: "assistant", ToolCalls: []domain.ToolCall{
				domain.NewToolCall("1", "function", "get_weather", `{"city":"Boston"}`),
			}},
		},
	}

	body, headers, err := New().EncodeRequest(context.Background(), req, "llama3.2")
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}
	if ct := headers.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var decoded chatRequest
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.Model != "llama3.2" {
		t.Errorf("Model = %q, want llama3.2", decoded.Model)
	}
	args, ok := decoded.Messages[1].ToolCalls[0].Function.Arguments.(map[string]any)
	if !ok {
		t.Fatalf("Arguments = %T, want map[string]any", decoded.Messages[1].ToolCalls[0].Function.Arguments)
	}
	if args["city"] != "Boston" {
		t.Errorf("Arguments[city] = %v, want Boston", args["city"])
	}
}

func TestEncodeRequest_OptionsOnlySetWhenParamsPresent(t *testing.T) {
	req := &domain.CanonicalRequest{Messages: []domain.Message{{Role: "user", Content: "hi"}}}
	body, _, err := New().EncodeRequest(context.Background(), req, "llama3.2")
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}
	var decoded chatRequest
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.Options != nil {
		t.Errorf("Options = %v, want nil when no sampling params set", decoded.Options)
	}
}

func TestEncodeRequest_ImageURLPartBecomesRawBase64Image(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("fake-png-bytes"))
	}))
	defer srv.Close()

	req := &domain.CanonicalRequest{
		Messages: []domain.Message{
			{Role: "user", Parts: []domain.ContentPart{
				{Type: domain.ContentTypeText, Text: "describe this"},
				{Type: domain.ContentTypeImageURL, ImageURL: srv.URL},
			}},
		},
	}
	body, _, err := New().EncodeRequest(context.Background(), req, "llava")
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}

	var decoded chatRequest
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.Messages[0].Content != "describe this" {
		t.Errorf("Content = %q, want 'describe this'", decoded.Messages[0].Content)
	}
	if len(decoded.Messages[0].Images) != 1 || decoded.Messages[0].Images[0] == "" {
		t.Fatalf("Images = %+v, want one non-empty base64 entry", decoded.Messages[0].Images)
	}
	if strings.Contains(decoded.Messages[0].Images[0], "data:") {
		t.Errorf("Images[0] = %q, want raw base64 without a data: URL prefix", decoded.Messages[0].Images[0])
	}
}

func TestDecodeResponse_ToolCallFinishReason(t *testing.T) {
	body := []byte(`{
		"model": "llama3.2",
		"message": {"role": "assistant", "content": "", "tool_calls": [{"function": {"name": "get_weather", "arguments": {"city": "Boston"}}}]},
		"done": true,
		"done_reason": "stop",
		"prompt_eval_count": 10,
		"eval_count": 5
	}`)

	resp, err := New().DecodeResponse(body)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if resp.Choices[0].FinishReason != domain.FinishToolCalls {
		t.Errorf("FinishReason = %q, want %q", resp.Choices[0].FinishReason, domain.FinishToolCalls)
	}
	if resp.Choices[0].Message.ToolCalls[0].Function.Name != "get_weather" {
		t.Errorf("tool call name = %q, want get_weather", resp.Choices[0].Message.ToolCalls[0].Function.Name)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}
}

func TestDecodeResponse_PlainStop(t *testing.T) {
	body := []byte(`{
		"model": "llama3.2",
		"message": {"role": "assistant", "content": "hi there"},
		"done": true,
		"done_reason": "stop"
	}`)
	resp, err := New().DecodeResponse(body)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if resp.Choices[0].FinishReason != domain.FinishStop {
		t.Errorf("FinishReason = %q, want stop", resp.Choices[0].FinishReason)
	}
}

func TestDecodeStream_NDJSON(t *testing.T) {
	body := "" +
		`{"model":"llama3.2","message":{"role":"assistant","content":"Hel"},"done":false}` + "\n" +
		`{"model":"llama3.2","message":{"role":"assistant","content":"lo"},"done":false}` + "\n" +
		`{"model":"llama3.2","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":3,"eval_count":2}` + "\n"

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
	if got[len(got)-1].Choices[0].FinishReason != domain.FinishStop {
		t.Errorf("final FinishReason = %q, want stop", got[len(got)-1].Choices[0].FinishReason)
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
	outcome := New().ClassifyError(500, nil, nil)
	if outcome.Kind != codec.OutcomeRetryable {
		t.Errorf("ClassifyError(500) Kind = %q, want %q", outcome.Kind, codec.OutcomeRetryable)
	}
}
