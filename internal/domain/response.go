package domain

// FinishReason is the closed set of reasons a choice stopped generating.
// Codecs translate every provider-specific stop reason into one of these;
// anything unrecognized maps to FinishError with the raw value preserved in
// ResponseMeta.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// Usage is the token accounting for one response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one completion candidate. Message is populated on a
// non-streaming response; Delta is populated on a streaming chunk.
type Choice struct {
	Index        int          `json:"index"`
	Message      *Message     `json:"message,omitempty"`
	Delta        *Message     `json:"delta,omitempty"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
}

// ResponseMeta carries Chronicle-internal bookkeeping alongside the
// canonical response: which provider/model actually served the request,
// whether the attempt hit a rate limit before succeeding, and any raw
// provider finish-reason string that didn't map cleanly into FinishReason.
type ResponseMeta struct {
	ChronicleID      string `json:"chronicle_id"`
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	WasRateLimited   bool   `json:"was_rate_limited"`
	Attempts         int    `json:"attempts"`
	RawFinishReason  string `json:"raw_finish_reason,omitempty"`
	RawStatusCode    int    `json:"raw_status_code,omitempty"`
}

// CanonicalResponse mirrors the OpenAI chat-completion response shape plus
// Chronicle's Meta sidecar.
type CanonicalResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`

	Meta ResponseMeta `json:"meta"`
}

// StreamChunk is one canonical SSE event decoded from a provider stream.
type StreamChunk struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// MergeChunk folds one streaming chunk's deltas into an in-progress merged
// response, used by the dispatcher to build the CanonicalResponse it logs
// once a stream completes. A tool call fragment's arguments are appended to
// the existing call with the same ID (a fragment with no ID and no name
// extends the last call), otherwise it is added as a new call; content
// deltas are appended.
func MergeChunk(acc *CanonicalResponse, chunk StreamChunk) {
	acc.ID = chunk.ID
	acc.Object = "chat.completion"
	acc.Created = chunk.Created
	acc.Model = chunk.Model
	if chunk.Usage != nil {
		acc.Usage = *chunk.Usage
	}
	for _, c := range chunk.Choices {
		for len(acc.Choices) <= c.Index {
			acc.Choices = append(acc.Choices, Choice{Index: len(acc.Choices)})
		}
		dst := &acc.Choices[c.Index]
		if dst.Message == nil {
			dst.Message = &Message{Role: "assistant"}
		}
		if c.Delta == nil {
			continue
		}
		if c.Delta.Role != "" {
			dst.Message.Role = c.Delta.Role
		}
		dst.Message.Content += c.Delta.Content
		for _, tc := range c.Delta.ToolCalls {
			mergeToolCall(dst.Message, tc)
		}
		if c.FinishReason != "" {
			dst.FinishReason = c.FinishReason
		}
	}
}

func mergeToolCall(msg *Message, tc ToolCall) {
	for i := range msg.ToolCalls {
		if msg.ToolCalls[i].ID == tc.ID || (tc.ID == "" && i == len(msg.ToolCalls)-1 && tc.Function.Name == "") {
			msg.ToolCalls[i].Function.Arguments += tc.Function.Arguments
			if tc.Function.Name != "" {
				msg.ToolCalls[i].Function.Name = tc.Function.Name
			}
			return
		}
	}
	msg.ToolCalls = append(msg.ToolCalls, tc)
}
