// Package codec translates between Chronicle's canonical chat-completion
// schema and each upstream provider's wire format.
package codec

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/chronicle-run/chronicle/internal/domain"
)

// Outcome is the result of classifying one upstream attempt, per spec
// §4.1/§4.3. Exactly one constructor below should be used; Dispatcher
// switches on Kind.
type Outcome struct {
	Kind       OutcomeKind
	Reason     string
	RetryAfterMS int
	Body       string
	StatusCode int
}

type OutcomeKind string

const (
	OutcomeRetryable   OutcomeKind = "retryable"
	OutcomeRateLimited OutcomeKind = "rate_limited"
	OutcomeTerminal    OutcomeKind = "terminal"
)

func Retryable(reason string, statusCode int) Outcome {
	return Outcome{Kind: OutcomeRetryable, Reason: reason, StatusCode: statusCode}
}

func RateLimited(retryAfterMS int, statusCode int) Outcome {
	return Outcome{Kind: OutcomeRateLimited, Reason: "rate_limit", RetryAfterMS: retryAfterMS, StatusCode: statusCode}
}

func Terminal(body string, statusCode int) Outcome {
	return Outcome{Kind: OutcomeTerminal, Body: body, StatusCode: statusCode}
}

// ClassifyHTTPStatus maps a raw HTTP status code from an upstream call into
// an Outcome per spec §4.1's error-classification paragraph: 429 is rate
// limited (with a Retry-After given in whole seconds honoured); 408/409 and
// 5xx are retryable transport/server trouble; a 2xx yields an Outcome with
// an empty Kind; everything else is terminal.
func ClassifyHTTPStatus(statusCode int, headers http.Header, body []byte) Outcome {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return RateLimited(parseRetryAfterMS(headers.Get("Retry-After")), statusCode)
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusConflict:
		return Retryable("http_"+strconv.Itoa(statusCode), statusCode)
	case statusCode >= 500:
		return Retryable("http_5xx", statusCode)
	case statusCode >= 200 && statusCode < 300:
		return Outcome{Kind: OutcomeKind(""), StatusCode: statusCode}
	default:
		return Terminal(string(body), statusCode)
	}
}

func parseRetryAfterMS(v string) int {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return secs * 1000
	}
	return 0
}

// KnownTransientMessage reports whether an upstream error message is a
// provider-specific known-transient failure, e.g. Groq's spurious
// tool-call parse errors. The OpenAI codec's ClassifyError marks such a
// failure Retryable even when its HTTP status (e.g. 400) would otherwise be
// terminal; it is consulted only for non-2xx responses.
func KnownTransientMessage(provider, message string) bool {
	if provider != "groq" {
		return false
	}
	lower := strings.ToLower(message)
	return strings.Contains(lower, "failed to call a function") ||
		strings.Contains(lower, "tool call validation failed")
}

// DetectErrorKind heuristically classifies a free-form upstream error
// message when the wire format gives no structured error type, the way the
// teacher's detectErrorTypeFromMessage did for OpenAI-shaped bodies.
func DetectErrorKind(message string) domain.ErrorKind {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "context length"), strings.Contains(lower, "context window"),
		strings.Contains(lower, "too many tokens"):
		return domain.KindBadRequest
	case strings.Contains(lower, "rate limit"):
		return domain.KindUpstreamRateLimited
	case strings.Contains(lower, "api key"), strings.Contains(lower, "authentication"),
		strings.Contains(lower, "unauthorized"):
		return domain.KindUnauthenticated
	case strings.Contains(lower, "model not found"), strings.Contains(lower, "does not exist"):
		return domain.KindNotFound
	default:
		return domain.KindUpstreamTerminal
	}
}

// WriteError writes a Chronicle error as the JSON body §7 describes:
// {"error": {"message", "type", "details": {"body"}}}. Unlike the
// provider-shaped error bodies codecs decode, Chronicle's own HTTP surface
// always responds in this one shape regardless of which provider failed.
func WriteError(w http.ResponseWriter, err *domain.Error) {
	obj := map[string]any{
		"message": err.Message,
		"type":    string(err.Kind),
	}
	if err.Param != "" {
		obj["param"] = err.Param
	}
	if err.Body != "" || len(err.Attempts) > 0 {
		details := map[string]any{}
		if err.Body != "" {
			details["body"] = err.Body
		}
		if len(err.Attempts) > 0 {
			details["attempts"] = err.Attempts
		}
		obj["details"] = details
	}
	body, _ := json.Marshal(map[string]any{"error": obj})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatusCode())
	_, _ = w.Write(body)
}
