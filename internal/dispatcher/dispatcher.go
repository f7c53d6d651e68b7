// Package dispatcher is the single entry point per chat call: it resolves
// an attempt list, walks it under the retry/fallback state machine, talks
// to the upstream HTTP endpoint via the resolved provider's codec, and
// enqueues exactly one log entry per call. Grounded on the gateway's
// internal/openai.Provider.Complete/Stream shape (codec-driven request
// encode, response decode, streaming channel fan-out), generalized from a
// single hardcoded provider per request to the alias/retry-driven
// multi-attempt loop spec'd for Chronicle.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/chronicle-run/chronicle/internal/alias"
	"github.com/chronicle-run/chronicle/internal/codec"
	"github.com/chronicle-run/chronicle/internal/domain"
	"github.com/chronicle-run/chronicle/internal/keyvault"
	"github.com/chronicle-run/chronicle/internal/retryflow"
)

const defaultAttemptTimeout = 60 * time.Second

// ProviderEndpoint is the resolved upstream target for one provider name:
// its base URL, which codec translates its wire format, and any static
// headers (e.g. a custom provider's extra auth headers) to attach.
type ProviderEndpoint struct {
	BaseURL string
	Codec   string // key into the codec.Registry; usually == provider name
	Headers map[string]string
}

// ProviderResolver maps a provider name (as produced by the alias resolver)
// to its upstream endpoint. Implementations cover both the builtin
// providers (openai, anthropic, bedrock, ollama) and operator-registered
// domain.CustomProvider rows.
type ProviderResolver interface {
	Resolve(ctx context.Context, provider string) (ProviderEndpoint, error)
}

// EventSink receives the one log entry chat()/chat_stream() produces per
// call. Implementations enqueue onto the event queue/writer (internal/eventqueue).
type EventSink interface {
	Enqueue(ctx context.Context, event domain.ChronicleEvent)
}

// Dispatcher is shared across all requests; it holds no per-call state.
type Dispatcher struct {
	Codecs    *codec.Registry
	Providers ProviderResolver
	Alias     *alias.Resolver
	Keys      *keyvault.Vault
	Sink      EventSink
	BasePolicy retryflow.Policy
	HTTPClient *http.Client
	Logger    *slog.Logger
}

func New(codecs *codec.Registry, providers ProviderResolver, aliasResolver *alias.Resolver, keys *keyvault.Vault, sink EventSink) *Dispatcher {
	return &Dispatcher{
		Codecs:     codecs,
		Providers:  providers,
		Alias:      aliasResolver,
		Keys:       keys,
		Sink:       sink,
		BasePolicy: retryflow.DefaultPolicy(),
		HTTPClient: &http.Client{},
		Logger:     slog.Default(),
	}
}

// attemptOutcome is the shared result of a single upstream round trip,
// consumed by both Chat and ChatStream.
type attemptOutcome struct {
	attempt      domain.ModelAttempt
	endpoint     ProviderEndpoint
	cdc          codec.Codec
	httpResp     *http.Response
	latency      time.Duration
	transportErr error
}

func (d *Dispatcher) doAttempt(ctx context.Context, orgID string, req *domain.CanonicalRequest, attempt domain.ModelAttempt) (*attemptOutcome, error) {
	endpoint, err := d.Providers.Resolve(ctx, attempt.Provider)
	if err != nil {
		return nil, fmt.Errorf("resolve provider %q: %w", attempt.Provider, err)
	}
	cdc, ok := d.Codecs.Get(endpoint.Codec)
	if !ok {
		return nil, fmt.Errorf("no codec registered for %q", endpoint.Codec)
	}

	body, headers, err := cdc.EncodeRequest(ctx, req, attempt.Model)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	apiKey, err := d.Keys.Resolve(ctx, attempt.Provider, attempt.APIKeyName)
	if err != nil {
		return nil, fmt.Errorf("resolve api key: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vals := range headers {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	for k, v := range endpoint.Headers {
		httpReq.Header.Set(k, v)
	}
	if signer, ok := cdc.(codec.RequestSigner); ok {
		if err := signer.Sign(httpReq, body, apiKey); err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
	} else if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	start := time.Now()
	resp, err := d.HTTPClient.Do(httpReq)
	latency := time.Since(start)

	return &attemptOutcome{attempt: attempt, endpoint: endpoint, cdc: cdc, httpResp: resp, latency: latency, transportErr: err}, nil
}

func classify(o *attemptOutcome) codec.Outcome {
	if o.transportErr != nil {
		return codec.Retryable("transport_error", 0)
	}
	if o.httpResp.StatusCode >= 200 && o.httpResp.StatusCode < 300 {
		return codec.Outcome{}
	}
	body, _ := io.ReadAll(o.httpResp.Body)
	o.httpResp.Body.Close()
	return o.cdc.ClassifyError(o.httpResp.StatusCode, o.httpResp.Header, body)
}

func attemptTimeout(req *domain.CanonicalRequest) time.Duration {
	if req.Options.TimeoutMS > 0 {
		return time.Duration(req.Options.TimeoutMS) * time.Millisecond
	}
	return defaultAttemptTimeout
}

// attemptContext bounds an attempt's connect phase to timeout without
// tying a committed stream's body reads to the same deadline: the timer
// cancels attemptCtx unless disarm is called first, e.g. once a streaming
// attempt has its headers back and is no longer retryable. cancel must
// always be called to release the context and stop the timer.
func attemptContext(ctx context.Context, timeout time.Duration) (attemptCtx context.Context, cancel context.CancelFunc, disarm func()) {
	attemptCtx, cancel = context.WithCancel(ctx)
	timer := time.AfterFunc(timeout, cancel)
	return attemptCtx, cancel, func() { timer.Stop() }
}

// Chat resolves an attempt list and walks it under the retry/fallback
// machine, returning the first successful non-streaming response. Exactly
// one log entry is enqueued regardless of outcome.
func (d *Dispatcher) Chat(ctx context.Context, orgID string, req *domain.CanonicalRequest) (*domain.CanonicalResponse, error) {
	totalStart := time.Now()
	attempts, err := d.Alias.Resolve(ctx, orgID, req)
	if err != nil {
		badReq := domain.NewBadRequest("%s", err.Error())
		badReq.Param = "model"
		return nil, badReq
	}

	policy := retryflow.Merge(d.BasePolicy, req.Options.Retry)
	state := retryflow.NewState(policy, len(attempts))
	retries := 0
	wasRateLimited := false
	var lastErr error
	var lastReqJSON string

	for {
		attempt := attempts[state.ProviderIndex()]
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout(req))
		out, buildErr := d.doAttempt(attemptCtx, orgID, req, attempt)
		if buildErr != nil {
			cancel()
			d.enqueueChatLog(ctx, orgID, req, attempt, nil, buildErr, retries, wasRateLimited, time.Since(totalStart), 0)
			return nil, domain.NewUpstreamTerminal("", buildErr)
		}

		if out.transportErr != nil && ctx.Err() != nil {
			cancel()
			d.enqueueChatLog(ctx, orgID, req, attempt, nil, domain.NewCancelled(), retries, wasRateLimited, time.Since(totalStart), 0)
			return nil, domain.NewCancelled()
		}

		outcome := classify(out)
		if outcome.Kind == "" {
			body, readErr := io.ReadAll(out.httpResp.Body)
			out.httpResp.Body.Close()
			cancel()
			if readErr != nil {
				e := domain.NewUpstreamTerminal("", fmt.Errorf("read response body: %w", readErr))
				d.enqueueChatLog(ctx, orgID, req, attempt, nil, e, retries, wasRateLimited, time.Since(totalStart), out.latency)
				return nil, e
			}
			canon, decErr := out.cdc.DecodeResponse(body)
			if decErr != nil {
				e := domain.NewUpstreamTerminal(string(body), fmt.Errorf("decode response: %w", decErr))
				d.enqueueChatLog(ctx, orgID, req, attempt, nil, e, retries, wasRateLimited, time.Since(totalStart), out.latency)
				return nil, e
			}
			canon.Meta.Attempts = retries + 1
			canon.Meta.WasRateLimited = wasRateLimited
			d.enqueueChatLog(ctx, orgID, req, attempt, canon, nil, retries, wasRateLimited, time.Since(totalStart), out.latency)
			return canon, nil
		}
		cancel()

		lastErr = fmt.Errorf("%s: %s", attempt.Provider, outcome.Reason)
		if outcome.Body != "" {
			lastReqJSON = outcome.Body
		}
		if outcome.Kind == codec.OutcomeRateLimited {
			wasRateLimited = true
		}

		decision := state.Next(outcome)
		switch decision.Action {
		case retryflow.ActionWait:
			retries++
			select {
			case <-ctx.Done():
				d.enqueueChatLog(ctx, orgID, req, attempt, nil, domain.NewCancelled(), retries, wasRateLimited, time.Since(totalStart), 0)
				return nil, domain.NewCancelled()
			case <-time.After(decision.Delay):
			}
		case retryflow.ActionNextProvider:
			retries++
		case retryflow.ActionFail:
			d.enqueueChatLog(ctx, orgID, req, attempt, nil, lastErr, retries, wasRateLimited, time.Since(totalStart), 0)
			e := domain.NewUpstreamTerminal(lastReqJSON, lastErr)
			return nil, e
		}
	}
}

// ChatStream behaves like Chat through attempt selection, but once the
// first byte of a stream arrives without an HTTP error the attempt is
// committed: no further retries happen, chunks are forwarded as emitted,
// and the dispatcher accumulates the merged response concurrently so it
// can enqueue one log entry once the stream closes.
func (d *Dispatcher) ChatStream(ctx context.Context, orgID string, req *domain.CanonicalRequest) (<-chan domain.StreamChunk, error) {
	totalStart := time.Now()
	attempts, err := d.Alias.Resolve(ctx, orgID, req)
	if err != nil {
		badReq := domain.NewBadRequest("%s", err.Error())
		badReq.Param = "model"
		return nil, badReq
	}

	policy := retryflow.Merge(d.BasePolicy, req.Options.Retry)
	state := retryflow.NewState(policy, len(attempts))
	retries := 0
	wasRateLimited := false

	for {
		attempt := attempts[state.ProviderIndex()]
		attemptCtx, cancel, disarm := attemptContext(ctx, attemptTimeout(req))
		out, buildErr := d.doAttempt(attemptCtx, orgID, req, attempt)
		if buildErr != nil {
			cancel()
			d.enqueueChatLog(ctx, orgID, req, attempt, nil, buildErr, retries, wasRateLimited, time.Since(totalStart), 0)
			return nil, domain.NewUpstreamTerminal("", buildErr)
		}

		if out.transportErr != nil && ctx.Err() != nil {
			cancel()
			d.enqueueChatLog(ctx, orgID, req, attempt, nil, domain.NewCancelled(), retries, wasRateLimited, time.Since(totalStart), 0)
			return nil, domain.NewCancelled()
		}

		if out.transportErr == nil && out.httpResp.StatusCode >= 200 && out.httpResp.StatusCode < 300 {
			disarm()
			chunks, getMerged, err := out.cdc.DecodeStream(out.httpResp.Body)
			if err != nil {
				out.httpResp.Body.Close()
				cancel()
				e := domain.NewUpstreamTerminal("", fmt.Errorf("decode stream: %w", err))
				d.enqueueChatLog(ctx, orgID, req, attempt, nil, e, retries, wasRateLimited, time.Since(totalStart), out.latency)
				return nil, e
			}
			forwarded := make(chan domain.StreamChunk)
			go func() {
				defer close(forwarded)
				defer out.httpResp.Body.Close()
				defer cancel()
				aborted := false
				for chunk := range chunks {
					select {
					case forwarded <- chunk:
					case <-ctx.Done():
						aborted = true
					}
					if aborted {
						break
					}
				}
				if aborted || ctx.Err() != nil {
					// Drain in the background so the codec's producer
					// goroutine (blocked sending its current chunk) can
					// observe the closed body and exit instead of leaking.
					go func() {
						for range chunks {
						}
					}()
					d.enqueueChatLog(ctx, orgID, req, attempt, nil, domain.NewCancelled(), retries, wasRateLimited, time.Since(totalStart), out.latency)
					return
				}
				merged := getMerged()
				merged.Meta.Attempts = retries + 1
				merged.Meta.WasRateLimited = wasRateLimited
				d.enqueueChatLog(ctx, orgID, req, attempt, merged, nil, retries, wasRateLimited, time.Since(totalStart), out.latency)
			}()
			return forwarded, nil
		}

		outcome := classify(out)
		cancel()
		decision := state.Next(outcome)
		if outcome.Kind == codec.OutcomeRateLimited {
			wasRateLimited = true
		}
		switch decision.Action {
		case retryflow.ActionWait:
			retries++
			select {
			case <-ctx.Done():
				d.enqueueChatLog(ctx, orgID, req, attempt, nil, domain.NewCancelled(), retries, wasRateLimited, time.Since(totalStart), 0)
				return nil, domain.NewCancelled()
			case <-time.After(decision.Delay):
			}
		case retryflow.ActionNextProvider:
			retries++
		default:
			err := fmt.Errorf("%s: %s", attempt.Provider, outcome.Reason)
			d.enqueueChatLog(ctx, orgID, req, attempt, nil, err, retries, wasRateLimited, time.Since(totalStart), 0)
			e := domain.NewUpstreamTerminal("", err)
			return nil, e
		}
	}
}

func (d *Dispatcher) enqueueChatLog(ctx context.Context, orgID string, req *domain.CanonicalRequest, attempt domain.ModelAttempt, resp *domain.CanonicalResponse, callErr error, retries int, wasRateLimited bool, totalLatency, requestLatency time.Duration) {
	if d.Sink == nil {
		return
	}
	reqJSON, _ := json.Marshal(req)
	event := domain.ChronicleEvent{
		Kind:             "chat",
		Provider:         attempt.Provider,
		Model:            attempt.Model,
		RequestJSON:      string(reqJSON),
		Retries:          retries,
		WasRateLimited:   wasRateLimited,
		RequestLatencyMS: int(requestLatency.Milliseconds()),
		TotalLatencyMS:   int(totalLatency.Milliseconds()),
		OrganizationID:   orgID,
		RunID:            req.Metadata.RunID,
	}
	var chronErr *domain.Error
	if errors.As(callErr, &chronErr) && chronErr.Kind == domain.KindCancelled {
		event.Status = "cancelled"
		event.ErrorText = callErr.Error()
	} else if callErr != nil {
		event.Status = "error"
		event.ErrorText = callErr.Error()
	} else {
		event.Status = "ok"
		respJSON, _ := json.Marshal(resp)
		event.ResponseJSON = string(respJSON)
	}
	d.Sink.Enqueue(ctx, event)
}
