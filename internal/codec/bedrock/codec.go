// Package bedrock implements the codec.Codec for AWS Bedrock's InvokeModel
// and InvokeModelWithResponseStream APIs, targeting Anthropic Claude
// models on Bedrock: the request/response bodies are Anthropic's Messages
// format (model and anthropic_version placed per Bedrock's convention
// instead of Anthropic's own), dispatched over a SigV4-signed request
// instead of a bearer token.
package bedrock

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	signerv4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"

	anthropicapi "github.com/chronicle-run/chronicle/internal/api/anthropic"
	anthropiccodec "github.com/chronicle-run/chronicle/internal/codec/anthropic"
	"github.com/chronicle-run/chronicle/internal/codec"
	"github.com/chronicle-run/chronicle/internal/domain"
)

const anthropicVersion = "bedrock-2023-05-31"

// bedrockPathHeader carries the InvokeModel path EncodeRequest resolved
// (it needs the model ID, which only EncodeRequest sees) through to Sign,
// which rewrites req.URL.Path from it and removes the header before
// signing — Bedrock's signature covers the canonical request including
// the path, so it must be final before SigV4 runs.
const bedrockPathHeader = "X-Chronicle-Bedrock-Path"

// Codec implements codec.Codec for Bedrock-hosted Anthropic models.
type Codec struct {
	// Images fetches and base64-inlines image_url content parts, same as
	// the direct Anthropic codec — Claude on Bedrock takes the same
	// content-block shape.
	Images *codec.ImageFetcher
}

func New() *Codec { return &Codec{Images: codec.NewImageFetcher()} }

func (c *Codec) Name() string { return "bedrock" }

func (c *Codec) EncodeRequest(ctx context.Context, req *domain.CanonicalRequest, model string) ([]byte, http.Header, error) {
	apiReq, err := anthropiccodec.CanonicalToAPIRequestWithImages(ctx, req, c.Images)
	if err != nil {
		return nil, nil, fmt.Errorf("encode bedrock request: %w", err)
	}

	// Re-marshal through a map so Bedrock's body never carries Anthropic's
	// own "model" field (Bedrock takes the model from the URL path) and
	// always carries the anthropic_version field Bedrock requires instead.
	raw, err := json.Marshal(apiReq)
	if err != nil {
		return nil, nil, fmt.Errorf("encode bedrock request: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, nil, fmt.Errorf("encode bedrock request: %w", err)
	}
	delete(fields, "model")
	fields["anthropic_version"] = anthropicVersion

	body, err := json.Marshal(fields)
	if err != nil {
		return nil, nil, fmt.Errorf("encode bedrock request: %w", err)
	}

	path := fmt.Sprintf("/model/%s/invoke", model)
	if req.Stream {
		path = fmt.Sprintf("/model/%s/invoke-with-response-stream", model)
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set(bedrockPathHeader, path)
	return body, h, nil
}

func (c *Codec) DecodeResponse(data []byte) (*domain.CanonicalResponse, error) {
	var apiResp anthropicapi.MessagesResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return nil, fmt.Errorf("decode bedrock response: %w", err)
	}
	resp := anthropiccodec.APIResponseToCanonical(&apiResp)
	resp.Meta.Provider = "bedrock"
	return resp, nil
}

func (c *Codec) ClassifyError(statusCode int, headers http.Header, body []byte) codec.Outcome {
	return codec.ClassifyHTTPStatus(statusCode, headers, body)
}

// DecodeStream unwraps Bedrock's binary event-stream framing
// (application/vnd.amazon.event-stream): each event's payload is a JSON
// envelope `{"bytes": "<base64>"}` whose decoded bytes are one of
// Anthropic's own typed stream events, so once unwrapped each event is
// translated by decodeAnthropicEvent the way the direct Anthropic codec
// translates it, except that message_start is also sent on the channel as
// a chunk (the Anthropic codec only merges it).
func (c *Codec) DecodeStream(r io.Reader) (<-chan domain.StreamChunk, func() *domain.CanonicalResponse, error) {
	out := make(chan domain.StreamChunk)
	merged := &domain.CanonicalResponse{Meta: domain.ResponseMeta{Provider: "bedrock"}}

	go func() {
		defer close(out)
		decoder := eventstream.NewDecoder()
		br := bufio.NewReader(r)
		toolUseIndex := map[int]string{}
		buf := make([]byte, 0, 64*1024)
		for {
			msg, err := decoder.Decode(br, buf)
			if err != nil {
				return
			}
			var envelope struct {
				Bytes string `json:"bytes"`
			}
			if err := json.Unmarshal(msg.Payload, &envelope); err != nil || envelope.Bytes == "" {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(envelope.Bytes)
			if err != nil {
				continue
			}
			chunk, done := decodeAnthropicEvent(payload, toolUseIndex)
			if done {
				return
			}
			if chunk == nil {
				continue
			}
			domain.MergeChunk(merged, *chunk)
			out <- *chunk
		}
	}()

	return out, func() *domain.CanonicalResponse { return merged }, nil
}

// decodeAnthropicEvent translates one decoded Anthropic stream event
// (message_start/content_block_*/message_delta/message_stop) into a
// canonical chunk. toolUseIndex tracks content-block index -> tool call
// id across content_block_start/content_block_delta pairs for one stream.
func decodeAnthropicEvent(payload []byte, toolUseIndex map[int]string) (*domain.StreamChunk, bool) {
	var kind struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &kind); err != nil {
		return nil, false
	}

	switch kind.Type {
	case "message_start":
		var ev anthropicapi.MessageStartEvent
		json.Unmarshal(payload, &ev)
		return &domain.StreamChunk{
			ID: ev.Message.ID, Model: ev.Message.Model,
			Choices: []domain.Choice{{Index: 0, Delta: &domain.Message{Role: "assistant"}}},
			Usage:   &domain.Usage{PromptTokens: ev.Message.Usage.InputTokens},
		}, false

	case "content_block_start":
		var ev anthropicapi.ContentBlockStartEvent
		json.Unmarshal(payload, &ev)
		if ev.ContentBlock.Type != "tool_use" {
			return nil, false
		}
		toolUseIndex[ev.Index] = ev.ContentBlock.ID
		return &domain.StreamChunk{Choices: []domain.Choice{{Index: 0, Delta: &domain.Message{
			ToolCalls: []domain.ToolCall{domain.NewToolCall(ev.ContentBlock.ID, "function", ev.ContentBlock.Name, "")},
		}}}}, false

	case "content_block_delta":
		var ev anthropicapi.ContentBlockDeltaEvent
		json.Unmarshal(payload, &ev)
		delta := &domain.Message{}
		switch ev.Delta.Type {
		case "text_delta":
			delta.Content = ev.Delta.Text
		case "input_json_delta":
			delta.ToolCalls = []domain.ToolCall{domain.NewToolCall(toolUseIndex[ev.Index], "function", "", ev.Delta.PartialJSON)}
		default:
			return nil, false
		}
		return &domain.StreamChunk{Choices: []domain.Choice{{Index: 0, Delta: delta}}}, false

	case "message_delta":
		var ev anthropicapi.MessageDeltaEvent
		json.Unmarshal(payload, &ev)
		fr, _ := mapStopReason(ev.Delta.StopReason)
		chunk := &domain.StreamChunk{Choices: []domain.Choice{{Index: 0, Delta: &domain.Message{}, FinishReason: fr}}}
		if ev.Usage != nil {
			chunk.Usage = &domain.Usage{CompletionTokens: ev.Usage.OutputTokens}
		}
		return chunk, false

	case "message_stop":
		return nil, true

	default:
		return nil, false
	}
}

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

// Sign implements codec.RequestSigner: it rewrites req.URL.Path from the
// header EncodeRequest stashed, then SigV4-signs the request. credential
// is "accessKeyID:secretAccessKey" or "accessKeyID:secretAccessKey:sessionToken",
// the convention the bedrock provider's keyvault entry is stored under.
func (c *Codec) Sign(req *http.Request, body []byte, credential string) error {
	path := req.Header.Get(bedrockPathHeader)
	req.Header.Del(bedrockPathHeader)
	if path == "" {
		return fmt.Errorf("bedrock: missing resolved invoke path")
	}
	req.URL.Path = path
	req.Host = req.URL.Host

	creds, err := parseCredential(credential)
	if err != nil {
		return err
	}
	region, err := regionFromHost(req.URL.Host)
	if err != nil {
		return err
	}

	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])

	signer := signerv4.NewSigner()
	return signer.SignHTTP(context.Background(), creds, req, payloadHash, "bedrock", region, time.Now())
}

func parseCredential(credential string) (awssdk.Credentials, error) {
	parts := strings.SplitN(credential, ":", 3)
	if len(parts) < 2 {
		return awssdk.Credentials{}, fmt.Errorf("bedrock: credential must be accessKeyID:secretAccessKey[:sessionToken]")
	}
	var sessionToken string
	if len(parts) == 3 {
		sessionToken = parts[2]
	}
	return credentials.NewStaticCredentialsProvider(parts[0], parts[1], sessionToken).Retrieve(context.Background())
}

// regionFromHost extracts the region from a bedrock-runtime endpoint host,
// e.g. "bedrock-runtime.us-east-1.amazonaws.com" -> "us-east-1".
func regionFromHost(host string) (string, error) {
	parts := strings.Split(host, ".")
	if len(parts) < 3 || parts[0] != "bedrock-runtime" {
		return "", fmt.Errorf("bedrock: unrecognized endpoint host %q", host)
	}
	return parts[1], nil
}

var _ codec.Codec = (*Codec)(nil)
var _ codec.RequestSigner = (*Codec)(nil)
