package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/chronicle-run/chronicle/internal/codec"
	"github.com/chronicle-run/chronicle/internal/domain"
)

// chatRequestBody is the wire shape of POST /chat: CanonicalRequest's
// regular chat-completion fields plus the options/metadata sidecars, which
// CanonicalRequest itself excludes from JSON (json:"-") so that the same
// struct can be shared between the HTTP layer, where they are top-level
// body fields, and the dispatcher/codec layer, where they travel
// separately from the provider-facing request shape.
type chatRequestBody struct {
	domain.CanonicalRequest
	Options  domain.RequestOptions `json:"options,omitempty"`
	Metadata domain.Metadata       `json:"metadata,omitempty"`
}

// handleChat decodes a CanonicalRequest, applies x-chronicle-* header
// overrides per the option-propagation rule (headers win over body JSON),
// and dispatches to Chat or ChatStream depending on req.Stream.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	orgID, _ := OrganizationIDFromContext(r.Context())

	var body chatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeChatError(w, domain.NewBadRequest("invalid request body: %s", err.Error()))
		return
	}
	req := body.CanonicalRequest
	req.Options = body.Options
	req.Metadata = body.Metadata

	if err := applyOptionHeaders(r.Header, &req); err != nil {
		writeChatError(w, err)
		return
	}

	AddLogField(r.Context(), "organization_id", orgID)
	AddLogField(r.Context(), "model", req.Model)

	if req.Stream {
		s.handleChatStream(w, r, orgID, &req)
		return
	}

	resp, err := s.dispatcher.Chat(r.Context(), orgID, &req)
	if err != nil {
		writeChatError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request, orgID string, req *domain.CanonicalRequest) {
	chunks, err := s.dispatcher.ChatStream(r.Context(), orgID, req)
	if err != nil {
		writeChatError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeChatError(w, domain.NewUpstreamTerminal("", fmt.Errorf("response writer does not support flushing")))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range chunks {
		data, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// writeChatError writes any error as Chronicle's standard error body,
// wrapping plain errors that didn't originate as *domain.Error.
func writeChatError(w http.ResponseWriter, err error) {
	if derr, ok := err.(*domain.Error); ok {
		codec.WriteError(w, derr)
		return
	}
	codec.WriteError(w, domain.NewUpstreamTerminal("", err))
}

// applyOptionHeaders merges x-chronicle-* headers into req.Options per the
// option-propagation rule: every RequestOptions field may arrive as a body
// field or as a header, JSON-encoded where structured, and headers always
// win over whatever the body already set.
func applyOptionHeaders(h http.Header, req *domain.CanonicalRequest) *domain.Error {
	if v := h.Get("x-chronicle-model"); v != "" {
		req.Options.Model = v
	}
	if v := h.Get("x-chronicle-provider"); v != "" {
		req.Options.Provider = v
	}
	if v := h.Get("x-chronicle-override-url"); v != "" {
		req.Options.OverrideURL = v
	}
	if v := h.Get("x-chronicle-api-key"); v != "" {
		req.Options.APIKey = v
	}
	if v := h.Get("x-chronicle-random-choice"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return badHeader("x-chronicle-random-choice", err)
		}
		req.Options.RandomChoice = b
	}
	if v := h.Get("x-chronicle-timeout-ms"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return badHeader("x-chronicle-timeout-ms", err)
		}
		req.Options.TimeoutMS = n
	}
	if v := h.Get("x-chronicle-models"); v != "" {
		var models []domain.AliasModel
		if err := json.Unmarshal([]byte(v), &models); err != nil {
			return badHeader("x-chronicle-models", err)
		}
		req.Options.Models = models
	}
	if v := h.Get("x-chronicle-retry"); v != "" {
		var retry domain.RetryOptions
		if err := json.Unmarshal([]byte(v), &retry); err != nil {
			return badHeader("x-chronicle-retry", err)
		}
		req.Options.Retry = retry
	}
	if v := h.Get("x-chronicle-metadata"); v != "" {
		var meta domain.Metadata
		if err := json.Unmarshal([]byte(v), &meta); err != nil {
			return badHeader("x-chronicle-metadata", err)
		}
		req.Metadata = meta
	}
	applyMetadataFieldHeaders(h, &req.Metadata)
	return nil
}

// applyMetadataFieldHeaders supports setting individual metadata.* fields
// through dedicated x-chronicle-metadata-* headers without requiring a
// caller to JSON-encode the whole sidecar just to set one field.
func applyMetadataFieldHeaders(h http.Header, m *domain.Metadata) {
	fields := map[string]*string{
		"x-chronicle-metadata-application":   &m.Application,
		"x-chronicle-metadata-environment":   &m.Environment,
		"x-chronicle-metadata-project-id":    &m.ProjectID,
		"x-chronicle-metadata-user-id":       &m.UserID,
		"x-chronicle-metadata-workflow-id":   &m.WorkflowID,
		"x-chronicle-metadata-workflow-name": &m.WorkflowName,
		"x-chronicle-metadata-run-id":        &m.RunID,
		"x-chronicle-metadata-step":          &m.Step,
	}
	for header, dst := range fields {
		if v := h.Get(header); v != "" {
			*dst = v
		}
	}
}

func badHeader(name string, cause error) *domain.Error {
	e := domain.NewBadRequest("invalid %s header: %s", name, cause.Error())
	e.Param = strings.TrimPrefix(name, "x-chronicle-")
	return e
}
