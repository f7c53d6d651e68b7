package anthropic

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

func TestEncodeRequest_SetsVersionHeaderAndDefaultMaxTokens(t *testing.T) {
	req := &domain.CanonicalRequest{
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	}
	body, headers, err := New().EncodeRequest(context.Background(), req, "claude-3-5-sonnet-20241022")
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}
	if v := headers.Get("anthropic-version"); v != "2023-06-01" {
		t.Errorf("anthropic-version = %q, want 2023-06-01", v)
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if fields["max_tokens"].(float64) != defaultMaxTokens {
		t.Errorf("max_tokens = %v, want default %d", fields["max_tokens"], defaultMaxTokens)
	}
	if fields["model"] != "claude-3-5-sonnet-20241022" {
		t.Errorf("model = %v, want claude-3-5-sonnet-20241022", fields["model"])
	}
}

func TestCanonicalToAPIRequest_ConsolidatesSystemMessage(t *testing.T) {
	req := &domain.CanonicalRequest{
		MaxTokens: 256,
		Messages: []domain.Message{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hi"},
		},
	}
	apiReq := CanonicalToAPIRequest(req)
	if len(apiReq.System) != 1 || apiReq.System[0].Text != "be terse" {
		t.Errorf("System = %+v, want single block 'be terse'", apiReq.System)
	}
	if len(apiReq.Messages) != 1 || apiReq.Messages[0].Role != "user" {
		t.Errorf("Messages = %+v, want single user message", apiReq.Messages)
	}
	if apiReq.MaxTokens != 256 {
		t.Errorf("MaxTokens = %d, want 256", apiReq.MaxTokens)
	}
}

func TestCanonicalToAPIRequestWithImages_InlinesImageURLAsBase64(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("fake-png-bytes"))
	}))
	defer srv.Close()

	req := &domain.CanonicalRequest{
		Messages: []domain.Message{
			{Role: "user", Parts: []domain.ContentPart{
				{Type: domain.ContentTypeText, Text: "what's in this image?"},
				{Type: domain.ContentTypeImageURL, ImageURL: srv.URL},
			}},
		},
	}

	apiReq, err := CanonicalToAPIRequestWithImages(context.Background(), req, codec.NewImageFetcher())
	if err != nil {
		t.Fatalf("CanonicalToAPIRequestWithImages() error = %v", err)
	}
	if len(apiReq.Messages) != 1 {
		t.Fatalf("Messages = %+v, want 1", apiReq.Messages)
	}
	blocks := apiReq.Messages[0].Content
	if len(blocks) != 2 {
		t.Fatalf("Content blocks = %+v, want 2", blocks)
	}
	if blocks[0].Type != "text" || blocks[0].Text != "what's in this image?" {
		t.Errorf("blocks[0] = %+v, want text block", blocks[0])
	}
	if blocks[1].Type != "image" || blocks[1].Source == nil {
		t.Fatalf("blocks[1] = %+v, want image block with source", blocks[1])
	}
	if blocks[1].Source.MediaType != "image/png" {
		t.Errorf("Source.MediaType = %q, want image/png", blocks[1].Source.MediaType)
	}
	if blocks[1].Source.Data == "" {
		t.Error("Source.Data is empty, want base64-encoded image bytes")
	}
}

func TestDecodeResponse_TextAndToolUse(t *testing.T) {
	body := []byte(`{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-3-5-sonnet-20241022",
		"content": [
			{"type": "text", "text": "checking the weather"},
			{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"city": "Boston"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`)
	resp, err := New().DecodeResponse(body)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	msg := resp.Choices[0].Message
	if msg.Content != "checking the weather" {
		t.Errorf("Content = %q, want 'checking the weather'", msg.Content)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Function.Name != "get_weather" {
		t.Errorf("ToolCalls = %+v, want one get_weather call", msg.ToolCalls)
	}
	if resp.Choices[0].FinishReason != domain.FinishToolCalls {
		t.Errorf("FinishReason = %q, want tool_calls", resp.Choices[0].FinishReason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}
}

func TestMapStopReason(t *testing.T) {
	cases := []struct {
		raw  string
		want domain.FinishReason
	}{
		{"end_turn", domain.FinishStop},
		{"stop_sequence", domain.FinishStop},
		{"max_tokens", domain.FinishLength},
		{"tool_use", domain.FinishToolCalls},
		{"", ""},
		{"refusal", domain.FinishError},
	}
	for _, tc := range cases {
		got, _ := mapStopReason(tc.raw)
		if got != tc.want {
			t.Errorf("mapStopReason(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestDecodeStream_TextDeltasAndFinishReason(t *testing.T) {
	body := "" +
		`data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-sonnet-20241022","content":[],"stop_reason":"","usage":{"input_tokens":10,"output_tokens":0}}}` + "\n\n" +
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}` + "\n\n" +
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}` + "\n\n" +
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}` + "\n\n" +
		`data: {"type":"content_block_stop","index":0}` + "\n\n" +
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}` + "\n\n" +
		`data: {"type":"message_stop"}` + "\n\n"

	chunks, finalFn, err := New().DecodeStream(strings.NewReader(body))
	if err != nil {
		t.Fatalf("DecodeStream() error = %v", err)
	}

	var got []domain.StreamChunk
	for c := range chunks {
		got = append(got, c)
	}
	// Two text deltas plus message_delta: message_start folds into merged
	// without forwarding, content_block_start for plain text is skipped
	// (continue), content_block_stop isn't handled.
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}

	final := finalFn()
	if final.Choices[0].Message.Content != "Hello" {
		t.Errorf("merged content = %q, want Hello", final.Choices[0].Message.Content)
	}
	if final.Choices[0].FinishReason != domain.FinishStop {
		t.Errorf("merged FinishReason = %q, want stop", final.Choices[0].FinishReason)
	}
}

func TestDecodeStream_ToolUseDeltasAccumulateArguments(t *testing.T) {
	body := "" +
		`data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-sonnet-20241022","content":[],"stop_reason":"","usage":{"input_tokens":10,"output_tokens":0}}}` + "\n\n" +
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather"}}` + "\n\n" +
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}` + "\n\n" +
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"Boston\"}"}}` + "\n\n" +
		`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":8}}` + "\n\n" +
		`data: {"type":"message_stop"}` + "\n\n"

	_, finalFn, err := New().DecodeStream(strings.NewReader(body))
	if err != nil {
		t.Fatalf("DecodeStream() error = %v", err)
	}

	final := finalFn()
	toolCalls := final.Choices[0].Message.ToolCalls
	if len(toolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(toolCalls))
	}
	if toolCalls[0].Function.Arguments != `{"city":"Boston"}` {
		t.Errorf("accumulated arguments = %q, want {\"city\":\"Boston\"}", toolCalls[0].Function.Arguments)
	}
	if toolCalls[0].Function.Name != "get_weather" {
		t.Errorf("Function.Name = %q, want get_weather", toolCalls[0].Function.Name)
	}
}

func TestClassifyError_DelegatesToHTTPStatus(t *testing.T) {
	outcome := New().ClassifyError(529, nil, nil)
	if outcome.StatusCode != 529 {
		t.Errorf("ClassifyError StatusCode = %d, want 529", outcome.StatusCode)
	}
}
