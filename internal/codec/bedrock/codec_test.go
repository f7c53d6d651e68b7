package bedrock

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/chronicle-run/chronicle/internal/codec"
	"github.com/chronicle-run/chronicle/internal/domain"
)

func TestEncodeRequest_StripsModelAddsVersionAndPath(t *testing.T) {
	req := &domain.CanonicalRequest{
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	}

	body, headers, err := New().EncodeRequest(context.Background(), req, "anthropic.claude-3-5-sonnet-20241022-v2:0")
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if _, present := fields["model"]; present {
		t.Errorf("body carries \"model\", want it stripped")
	}
	if fields["anthropic_version"] != anthropicVersion {
		t.Errorf("anthropic_version = %v, want %q", fields["anthropic_version"], anthropicVersion)
	}

	wantPath := "/model/anthropic.claude-3-5-sonnet-20241022-v2:0/invoke"
	if got := headers.Get(bedrockPathHeader); got != wantPath {
		t.Errorf("path header = %q, want %q", got, wantPath)
	}
}

func TestEncodeRequest_StreamingUsesResponseStreamPath(t *testing.T) {
	req := &domain.CanonicalRequest{
		Stream:   true,
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	}
	_, headers, err := New().EncodeRequest(context.Background(), req, "anthropic.claude-3-haiku-20240307-v1:0")
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}
	wantPath := "/model/anthropic.claude-3-haiku-20240307-v1:0/invoke-with-response-stream"
	if got := headers.Get(bedrockPathHeader); got != wantPath {
		t.Errorf("path header = %q, want %q", got, wantPath)
	}
}

func TestEncodeRequest_InlinesImageURLContentPart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("fake-jpeg-bytes"))
	}))
	defer srv.Close()

	req := &domain.CanonicalRequest{
		Messages: []domain.Message{
			{Role: "user", Parts: []domain.ContentPart{
				{Type: domain.ContentTypeImageURL, ImageURL: srv.URL},
			}},
		},
	}
	body, _, err := New().EncodeRequest(context.Background(), req, "anthropic.claude-3-5-sonnet-20241022-v2:0")
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	messages := fields["messages"].([]any)
	content := messages[0].(map[string]any)["content"].([]any)
	block := content[0].(map[string]any)
	if block["type"] != "image" {
		t.Errorf("block type = %v, want image", block["type"])
	}
	source := block["source"].(map[string]any)
	if source["media_type"] != "image/jpeg" {
		t.Errorf("media_type = %v, want image/jpeg", source["media_type"])
	}
}

func TestDecodeResponse_SetsProviderMeta(t *testing.T) {
	body := []byte(`{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "anthropic.claude-3-5-sonnet-20241022-v2:0",
		"content": [{"type": "text", "text": "hello"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 5, "output_tokens": 3}
	}`)

	resp, err := New().DecodeResponse(body)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if resp.Meta.Provider != "bedrock" {
		t.Errorf("Meta.Provider = %q, want bedrock", resp.Meta.Provider)
	}
	if resp.Choices[0].Message.Content != "hello" {
		t.Errorf("content = %q, want hello", resp.Choices[0].Message.Content)
	}
	if resp.Choices[0].FinishReason != domain.FinishStop {
		t.Errorf("FinishReason = %q, want stop", resp.Choices[0].FinishReason)
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

func TestDecodeAnthropicEvent_MessageStart(t *testing.T) {
	payload := []byte(`{
		"type": "message_start",
		"message": {
			"id": "msg_1", "type": "message", "role": "assistant",
			"model": "anthropic.claude-3-5-sonnet-20241022-v2:0",
			"content": [], "stop_reason": "",
			"usage": {"input_tokens": 12, "output_tokens": 0}
		}
	}`)

	chunk, done := decodeAnthropicEvent(payload, map[int]string{})
	if done {
		t.Fatalf("message_start reported done")
	}
	if chunk == nil {
		t.Fatalf("chunk = nil, want non-nil")
	}
	if chunk.ID != "msg_1" {
		t.Errorf("ID = %q, want msg_1", chunk.ID)
	}
	if chunk.Usage.PromptTokens != 12 {
		t.Errorf("PromptTokens = %d, want 12", chunk.Usage.PromptTokens)
	}
}

func TestDecodeAnthropicEvent_ToolUseLifecycle(t *testing.T) {
	toolUseIndex := map[int]string{}

	start := []byte(`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"tool_1","name":"get_weather"}}`)
	chunk, done := decodeAnthropicEvent(start, toolUseIndex)
	if done || chunk == nil {
		t.Fatalf("content_block_start: done=%v chunk=%v", done, chunk)
	}
	if chunk.Choices[0].Delta.ToolCalls[0].ID != "tool_1" {
		t.Errorf("tool call ID = %q, want tool_1", chunk.Choices[0].Delta.ToolCalls[0].ID)
	}
	if toolUseIndex[0] != "tool_1" {
		t.Errorf("toolUseIndex[0] = %q, want tool_1", toolUseIndex[0])
	}

	delta := []byte(`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`)
	chunk, done = decodeAnthropicEvent(delta, toolUseIndex)
	if done || chunk == nil {
		t.Fatalf("content_block_delta: done=%v chunk=%v", done, chunk)
	}
	if chunk.Choices[0].Delta.ToolCalls[0].ID != "tool_1" {
		t.Errorf("delta tool call ID = %q, want tool_1", chunk.Choices[0].Delta.ToolCalls[0].ID)
	}
	if chunk.Choices[0].Delta.ToolCalls[0].Function.Arguments != `{"city":` {
		t.Errorf("partial json = %q, want {\"city\":", chunk.Choices[0].Delta.ToolCalls[0].Function.Arguments)
	}
}

func TestDecodeAnthropicEvent_MessageStop(t *testing.T) {
	_, done := decodeAnthropicEvent([]byte(`{"type":"message_stop"}`), map[int]string{})
	if !done {
		t.Errorf("message_stop did not report done")
	}
}

func TestParseCredential(t *testing.T) {
	creds, err := parseCredential("AKID:SECRET")
	if err != nil {
		t.Fatalf("parseCredential() error = %v", err)
	}
	if creds.AccessKeyID != "AKID" || creds.SecretAccessKey != "SECRET" {
		t.Errorf("creds = %+v, want AKID/SECRET", creds)
	}
	if creds.SessionToken != "" {
		t.Errorf("SessionToken = %q, want empty", creds.SessionToken)
	}

	creds, err = parseCredential("AKID:SECRET:TOKEN")
	if err != nil {
		t.Fatalf("parseCredential() error = %v", err)
	}
	if creds.SessionToken != "TOKEN" {
		t.Errorf("SessionToken = %q, want TOKEN", creds.SessionToken)
	}

	if _, err := parseCredential("justaccesskey"); err == nil {
		t.Errorf("parseCredential(malformed) error = nil, want error")
	}
}

func TestRegionFromHost(t *testing.T) {
	region, err := regionFromHost("bedrock-runtime.us-east-1.amazonaws.com")
	if err != nil {
		t.Fatalf("regionFromHost() error = %v", err)
	}
	if region != "us-east-1" {
		t.Errorf("region = %q, want us-east-1", region)
	}

	if _, err := regionFromHost("example.com"); err == nil {
		t.Errorf("regionFromHost(unrecognized) error = nil, want error")
	}
}

func TestSign_MissingPathHeaderErrors(t *testing.T) {
	req := &http.Request{URL: &url.URL{Host: "bedrock-runtime.us-east-1.amazonaws.com"}, Header: http.Header{}}
	if err := New().Sign(req, nil, "AKID:SECRET"); err == nil {
		t.Errorf("Sign() error = nil, want error for missing path header")
	}
}

func TestClassifyError_DelegatesToHTTPStatus(t *testing.T) {
	outcome := New().ClassifyError(429, http.Header{}, nil)
	if outcome.Kind != codec.OutcomeRateLimited {
		t.Errorf("ClassifyError(429) Kind = %q, want %q", outcome.Kind, codec.OutcomeRateLimited)
	}
}
