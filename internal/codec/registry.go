package codec

import (
	"context"
	"io"
	"net/http"

	"github.com/chronicle-run/chronicle/internal/domain"
)

// Codec is the three-operation translator between Chronicle's canonical
// schema and one provider's wire format, plus the error-classification
// operation spec §4.1 requires. One Codec instance is shared across all
// requests for its provider; implementations must hold no per-call state.
type Codec interface {
	// Name identifies the codec, e.g. "openai", "anthropic", "bedrock", "ollama".
	Name() string

	// EncodeRequest maps a canonical request into this provider's wire
	// body and any headers the upstream call needs (content-type,
	// anthropic-version, auth, etc.) beyond what the transport already sets.
	// ctx bounds any network work the encoding itself does, e.g. fetching a
	// message's image_url content parts to inline as base64.
	EncodeRequest(ctx context.Context, req *domain.CanonicalRequest, model string) (body []byte, headers http.Header, err error)

	// DecodeResponse maps a non-streaming provider response body into the
	// canonical shape. finish_reason is empty (no reason reported) or one
	// of the closed enum values; anything unrecognized is reported as domain.FinishError with
	// the raw string preserved on ResponseMeta.RawFinishReason.
	DecodeResponse(data []byte) (*domain.CanonicalResponse, error)

	// DecodeStream consumes the provider's streaming body (SSE, NDJSON or
	// AWS event-stream framing, depending on the codec) and returns a channel of canonical
	// chunks plus a function that, once the channel is drained, returns the
	// full merged response assembled from those chunks (for logging). The
	// channel is closed when the stream ends or ctx-driven read fails.
	DecodeStream(r io.Reader) (<-chan domain.StreamChunk, func() *domain.CanonicalResponse, error)

	// ClassifyError turns a failed upstream call's raw status/headers/body
	// into a retry Outcome.
	ClassifyError(statusCode int, headers http.Header, body []byte) Outcome
}

// RequestSigner is implemented by codecs whose upstream authenticates by
// signing the whole request rather than accepting a bearer token —
// currently only internal/codec/bedrock. The dispatcher calls Sign after
// building the HTTP request and before sending it, in place of setting an
// Authorization: Bearer header.
type RequestSigner interface {
	Sign(req *http.Request, body []byte, credential string) error
}

// Registry looks up a Codec by provider name. Entries are registered once
// at startup (see internal/runtime.Gateway.Start) and read concurrently
// thereafter; no mutation happens after Start.
type Registry struct {
	codecs map[string]Codec
}

func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Codec)}
}

func (r *Registry) Register(c Codec) {
	r.codecs[c.Name()] = c
}

func (r *Registry) Get(provider string) (Codec, bool) {
	c, ok := r.codecs[provider]
	return c, ok
}
