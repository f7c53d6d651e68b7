// Package domain holds the canonical chat-completion schema Chronicle exposes
// to callers regardless of which upstream provider ultimately serves a
// request, plus the event/run/step aggregates the logging pipeline persists.
package domain

import "encoding/json"

// ImageSource is a base64-inlined image, the shape Anthropic and Bedrock
// require content to arrive in. Produced by fetching an image_url part
// (internal/codec.ImageFetcher) or passed through when the caller already
// sent base64 data.
type ImageSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ContentPart is one piece of a multimodal message. Only content sent as an
// array becomes Parts; a bare string stays in Message.Content. A Type
// "image_url" part carries the caller's reference in ImageURL; a Type
// "image" part, produced by ImageFetcher.ConvertContentPart, carries the
// fetched, base64-encoded image in Source.
type ContentPart struct {
	Type     string       `json:"type"` // "text" | "image_url" | "input_audio"
	Text     string       `json:"text,omitempty"`
	ImageURL string       `json:"image_url,omitempty"`
	Source   *ImageSource `json:"source,omitempty"`
}

const (
	ContentTypeText     = "text"
	ContentTypeImageURL = "image_url"
	ContentTypeImage    = "image"
)

// ToolCall is a model-issued invocation of a tool, carried on an assistant
// message.
type ToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // "function"
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// NewToolCall builds a ToolCall, avoiding the awkward anonymous-struct
// literal callers would otherwise need for the Function field.
func NewToolCall(id, typ, name, arguments string) ToolCall {
	tc := ToolCall{ID: id, Type: typ}
	tc.Function.Name = name
	tc.Function.Arguments = arguments
	return tc
}

// Message is one turn of the conversation. Content is either a plain string
// or a []ContentPart; Parts is populated when the caller sent structured
// content, Content when they sent a bare string. Exactly one is read by
// codecs depending on what they need.
type Message struct {
	Role       string        `json:"role"` // system | user | assistant | tool
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"-"`
	Name       string        `json:"name,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// UnmarshalJSON accepts either a string or an array of content parts for
// "content", mirroring what every provider's wire format actually does.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	var raw struct {
		alias
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message(raw.alias)
	if len(raw.Content) == 0 {
		return nil
	}
	var str string
	if err := json.Unmarshal(raw.Content, &str); err == nil {
		m.Content = str
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(raw.Content, &parts); err != nil {
		return err
	}
	m.Parts = parts
	return nil
}

// FunctionDef is a tool's JSON-Schema function signature.
type FunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
	Strict      bool   `json:"strict,omitempty"`
}

// ToolDefinition is one entry of the request's tools[].
type ToolDefinition struct {
	Type     string      `json:"type"` // "function"
	Function FunctionDef `json:"function"`
}

// AliasModel is one candidate in an Alias's ordered model list.
type AliasModel struct {
	Sort       int    `json:"sort"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	APIKeyName string `json:"api_key_name,omitempty"`
}

// ModelAttempt is a single (provider, model, api_key) candidate the alias
// resolver produced for a request; the retry/fallback machine walks this
// list in order.
type ModelAttempt struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	APIKeyName string `json:"api_key_name,omitempty"`
}

// RetryOptions overrides the default retry/backoff policy for one call.
// Zero values mean "use the default" — see retryflow.DefaultPolicy.
type RetryOptions struct {
	MaxTries                       int    `json:"max_tries,omitempty"`
	InitialBackoffMS                int    `json:"initial_backoff_ms,omitempty"`
	MaxBackoffMS                    int    `json:"max_backoff_ms,omitempty"`
	JitterMS                        int    `json:"jitter_ms,omitempty"`
	GrowthKind                      string `json:"growth,omitempty"` // constant | exponential | additive
	GrowthMultiplier                float64 `json:"growth_multiplier,omitempty"`
	GrowthAmountMS                  int    `json:"growth_amount_ms,omitempty"`
	FailIfRateLimitExceedsMaxBackoff bool   `json:"fail_if_rate_limit_exceeds_max_backoff,omitempty"`
}

// Metadata is the structured sidecar every request carries for logging and
// workflow correlation. Extra holds anything not given a first-class field.
type Metadata struct {
	Application    string         `json:"application,omitempty"`
	Environment    string         `json:"environment,omitempty"`
	OrganizationID string         `json:"organization_id,omitempty"`
	ProjectID      string         `json:"project_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	WorkflowID     string         `json:"workflow_id,omitempty"`
	WorkflowName   string         `json:"workflow_name,omitempty"`
	RunID          string         `json:"run_id,omitempty"`
	Step           string         `json:"step,omitempty"`
	StepIndex      *int           `json:"step_index,omitempty"`
	PromptID       string         `json:"prompt_id,omitempty"`
	PromptVersion  string         `json:"prompt_version,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// RequestOptions is the out-of-band control surface for a call: which
// provider/model(s) to use, how to authenticate, and how to retry. These
// values may arrive as JSON fields or as x-chronicle-* headers; headers win.
type RequestOptions struct {
	Model        string         `json:"model,omitempty"`
	Provider     string         `json:"provider,omitempty"`
	OverrideURL  string         `json:"override_url,omitempty"`
	APIKey       string         `json:"api_key,omitempty"`
	Models       []AliasModel   `json:"models,omitempty"`
	RandomChoice bool           `json:"random_choice,omitempty"`
	TimeoutMS    int            `json:"timeout_ms,omitempty"`
	Retry        RetryOptions   `json:"retry,omitempty"`
	Metadata     Metadata       `json:"metadata,omitempty"`
}

// CanonicalRequest mirrors the OpenAI chat-completions schema plus
// Chronicle's metadata/options sidecars.
type CanonicalRequest struct {
	Messages    []Message        `json:"messages"`
	Model       string           `json:"model,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  any              `json:"tool_choice,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
	Stop        []string         `json:"stop,omitempty"`
	User        string           `json:"user,omitempty"`
	Seed        *int             `json:"seed,omitempty"`

	Options  RequestOptions `json:"-"`
	Metadata Metadata       `json:"-"`
}
