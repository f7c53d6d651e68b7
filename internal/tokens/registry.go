// Package tokens provides best-effort prompt token counting across
// providers: an exact tiktoken count for OpenAI models, Anthropic's native
// count_tokens API for Claude models, and a char-based estimate for
// everything else. It is a supplementary helper that no other package in
// this module calls; a provider's own reported Usage on a completed
// response is always authoritative.
package tokens

import (
	"context"
	"strings"

	"github.com/chronicle-run/chronicle/internal/domain"
)

// Request is the input to a token count: a subset of a CanonicalRequest
// small enough for every counter to accept, regardless of how it sources
// its count.
type Request struct {
	Model    string
	System   string
	Messages []domain.Message
	Tools    []domain.ToolDefinition
}

// RequestFromCanonical extracts a Request from a full CanonicalRequest,
// pulling any system message out of Messages so counters can weigh it
// separately the way each provider's wire format does.
func RequestFromCanonical(req *domain.CanonicalRequest) *Request {
	out := &Request{Model: req.Model, Tools: req.Tools}
	for _, msg := range req.Messages {
		if msg.Role == "system" && out.System == "" {
			out.System = msg.Content
			continue
		}
		out.Messages = append(out.Messages, msg)
	}
	return out
}

// Result is a token count, with Estimated distinguishing a heuristic guess
// from a provider-confirmed or tiktoken-exact count.
type Result struct {
	InputTokens int
	Model       string
	Estimated   bool
}

// Counter counts tokens for the models it supports.
type Counter interface {
	CountTokens(ctx context.Context, req *Request) (*Result, error)
	SupportsModel(model string) bool
}

// Registry dispatches to the first registered Counter that supports a
// model, falling back to a char-based Estimator when none does.
type Registry struct {
	counters []Counter
	fallback Counter
}

// NewRegistry builds a Registry with the default character-based
// Estimator as its fallback.
func NewRegistry() *Registry {
	return &Registry{fallback: NewEstimator()}
}

// Register adds a counter, consulted in registration order ahead of the
// fallback.
func (r *Registry) Register(counter Counter) {
	r.counters = append(r.counters, counter)
}

// SetFallback replaces the estimator used when no registered counter
// supports the requested model.
func (r *Registry) SetFallback(counter Counter) {
	r.fallback = counter
}

// CountTokens counts req.Model's prompt tokens using the first supporting
// registered counter, or the fallback estimator.
func (r *Registry) CountTokens(ctx context.Context, req *Request) (*Result, error) {
	if c := r.GetCounter(req.Model); c != nil {
		return c.CountTokens(ctx, req)
	}
	return r.fallback.CountTokens(ctx, req)
}

// GetCounter returns the counter that would handle model, or the fallback
// estimator if none of the registered counters support it.
func (r *Registry) GetCounter(model string) Counter {
	for _, counter := range r.counters {
		if counter.SupportsModel(model) {
			return counter
		}
	}
	return r.fallback
}

// Estimator is a char/4 heuristic, the fallback for any model with no
// registered exact counter.
type Estimator struct {
	// CharsPerToken is the average characters per token.
	CharsPerToken float64
}

// NewEstimator builds an Estimator using 4 characters per token, a
// reasonable default across most tokenizer families.
func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4.0}
}

// CountTokens estimates req's prompt token count from its character length.
func (e *Estimator) CountTokens(ctx context.Context, req *Request) (*Result, error) {
	totalChars := 0
	if req.System != "" {
		totalChars += len(req.System) + 4
	}
	for _, msg := range req.Messages {
		totalChars += len(msg.Role) + len(msg.Content) + 4
		for _, part := range msg.Parts {
			totalChars += len(part.Text)
		}
		for _, tc := range msg.ToolCalls {
			totalChars += len(tc.Function.Name) + len(tc.Function.Arguments)
		}
	}
	for _, tool := range req.Tools {
		totalChars += len(tool.Function.Name) + len(tool.Function.Description) + 50
	}
	return &Result{
		InputTokens: int(float64(totalChars) / e.CharsPerToken),
		Model:       req.Model,
		Estimated:   true,
	}, nil
}

// SupportsModel always returns true; Estimator is the catch-all fallback.
func (e *Estimator) SupportsModel(model string) bool { return true }

// ModelMatcher matches a model name against a provider's known prefixes or
// exact legacy names.
type ModelMatcher struct {
	prefixes []string
	exact    []string
}

// NewModelMatcher builds a ModelMatcher from a prefix list and an exact
// match list.
func NewModelMatcher(prefixes, exact []string) *ModelMatcher {
	return &ModelMatcher{prefixes: prefixes, exact: exact}
}

// Matches reports whether model is covered by m's prefixes or exact names.
func (m *ModelMatcher) Matches(model string) bool {
	for _, e := range m.exact {
		if model == e {
			return true
		}
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}
