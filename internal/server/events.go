package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/chronicle-run/chronicle/internal/codec"
	"github.com/chronicle-run/chronicle/internal/domain"
)

// handleEvents decodes POST /events and applies every event via
// ApplyEvents, returning 204 on success.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	orgID, _ := OrganizationIDFromContext(r.Context())

	events, err := decodeEventsBody(r.Body)
	if err != nil {
		codec.WriteError(w, domain.NewBadRequest("invalid events body: %s", err.Error()))
		return
	}
	if len(events) == 0 {
		codec.WriteError(w, domain.NewBadRequest("events body must contain at least one event"))
		return
	}

	if _, err := s.events.ApplyEvents(r.Context(), orgID, events); err != nil {
		AddError(r.Context(), err)
		codec.WriteError(w, domain.NewDb(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvent decodes a single event from POST /event and returns its
// assigned id as {"id": "..."}.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	orgID, _ := OrganizationIDFromContext(r.Context())

	var event domain.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		codec.WriteError(w, domain.NewBadRequest("invalid event body: %s", err.Error()))
		return
	}

	ids, err := s.events.ApplyEvents(r.Context(), orgID, []domain.Event{event})
	if err != nil {
		AddError(r.Context(), err)
		codec.WriteError(w, domain.NewDb(err))
		return
	}
	var id string
	if len(ids) > 0 {
		id = ids[0]
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
}

// decodeEventsBody accepts the three shapes a caller may send: a bare
// array of events, {"events": [...]}, or a single bare event object. The
// outermost JSON token (array vs. object, and which keys the object has)
// decides the interpretation — there is no ambiguity between them.
func decodeEventsBody(r io.Reader) ([]domain.Event, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var list []domain.Event
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	}

	var envelope struct {
		Events *[]domain.Event `json:"events"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, err
	}
	if envelope.Events != nil {
		return *envelope.Events, nil
	}

	var single domain.Event
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, err
	}
	return []domain.Event{single}, nil
}
