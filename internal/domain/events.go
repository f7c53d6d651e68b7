package domain

import (
	"encoding/json"
	"time"
)

// EventType is the discriminator of the Event tagged union. The six
// workflow variants mutate Run/Step aggregates; every other value is a
// GenericEvent carried through untouched.
type EventType string

const (
	EventRunStart   EventType = "run:start"
	EventRunUpdate  EventType = "run:update"
	EventStepStart  EventType = "step:start"
	EventStepEnd    EventType = "step:end"
	EventStepError  EventType = "step:error"
	EventStepState  EventType = "step:state"
)

// IsWorkflowEvent reports whether t is one of the six run/step variants
// that the writer aggregates into chronicle_runs/chronicle_steps rather
// than storing as a bare generic row.
func (t EventType) IsWorkflowEvent() bool {
	switch t {
	case EventRunStart, EventRunUpdate, EventStepStart, EventStepEnd, EventStepError, EventStepState:
		return true
	default:
		return false
	}
}

// IsStepEvent reports whether t is one of the four step:* variants, whose
// wire shape nests its type-specific scalars under "data" (see Event's
// UnmarshalJSON), unlike run:start/run:update which carry them at the
// top level.
func (t EventType) IsStepEvent() bool {
	switch t {
	case EventStepStart, EventStepEnd, EventStepError, EventStepState:
		return true
	default:
		return false
	}
}

// Event is the wire shape accepted by POST /events and POST /event. Type
// selects which fields are meaningful: workflow events read RunID/StepID/
// Name/Status/Tags/Info/ParentStep; anything else is a GenericEvent and
// only Data/Error are meaningful. When Time is absent, ApplyEvents uses the
// wall-clock time at which it stores the event.
type Event struct {
	ID        string         `json:"id,omitempty"`
	Type      EventType      `json:"type"`
	Time      *time.Time     `json:"time,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	StepID    string         `json:"step_id,omitempty"`
	ParentStep string        `json:"parent_step,omitempty"`

	Name        string         `json:"name,omitempty"`
	StepType    string         `json:"step_type,omitempty"`
	Description string         `json:"description,omitempty"`
	Application string         `json:"application,omitempty"`
	Environment string         `json:"environment,omitempty"`
	Input       any            `json:"input,omitempty"`
	Output      any            `json:"output,omitempty"`
	Status      string         `json:"status,omitempty"`
	TraceID     string         `json:"trace_id,omitempty"`
	SpanID      string         `json:"span_id,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Info        map[string]any `json:"info,omitempty"`

	Data  map[string]any `json:"data,omitempty"`
	Error string         `json:"error,omitempty"`
}

// stepEventData mirrors the original implementation's per-variant payload
// structs (workflow_events.rs's StepStartData/StepEndData/ErrorData), all
// nested under a step event's "data" key per its
// #[serde(tag = "type", content = "data")] encoding.
type stepEventData struct {
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	ParentStep string          `json:"parent_step"`
	SpanID     string          `json:"span_id"`
	Tags       []string        `json:"tags"`
	Info       map[string]any  `json:"info"`
	Input      any             `json:"input"`
	Output     any             `json:"output"`
	Error      json.RawMessage `json:"error"`
}

// UnmarshalJSON decodes an Event, then — for step:start/step:end/step:error/
// step:state — falls back to the nested "data" object for name/type/
// parent_step/span_id/tags/info/input/output/error when the top-level
// field is unset, matching spec.md §8 scenario 5's
// `step:start{step_id, run_id, data:{name:"x", type:"t"}}` shape and the
// original implementation's tag/content encoding. run:start/run:update
// carry these fields flat, so they are left untouched.
func (e *Event) UnmarshalJSON(raw []byte) error {
	type alias Event
	var a alias
	if err := json.Unmarshal(raw, &a); err != nil {
		return err
	}
	*e = Event(a)

	if !e.Type.IsStepEvent() || len(e.Data) == 0 {
		return nil
	}

	nestedJSON, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	var nested stepEventData
	if err := json.Unmarshal(nestedJSON, &nested); err != nil {
		return err
	}

	if e.Name == "" {
		e.Name = nested.Name
	}
	if e.StepType == "" {
		e.StepType = nested.Type
	}
	if e.ParentStep == "" {
		e.ParentStep = nested.ParentStep
	}
	if e.SpanID == "" {
		e.SpanID = nested.SpanID
	}
	if e.Tags == nil {
		e.Tags = nested.Tags
	}
	if e.Info == nil {
		e.Info = nested.Info
	}
	if e.Input == nil {
		e.Input = nested.Input
	}
	if e.Output == nil {
		e.Output = nested.Output
	}
	if e.Error == "" && len(nested.Error) > 0 {
		var asString string
		if err := json.Unmarshal(nested.Error, &asString); err == nil {
			e.Error = asString
		} else {
			e.Error = string(nested.Error)
		}
	}
	return nil
}

// RunStatus is the lifecycle state of a Run or Step.
type RunStatus string

const (
	StatusRunning  RunStatus = "running"
	StatusFinished RunStatus = "finished"
	StatusError    RunStatus = "error"
)

// Run is the persisted aggregate a run:* event family builds up. Receiving
// run:start for an already-existing row updates it rather than being
// ignored; Info is shallow-merged across updates, Tags is replaced.
type Run struct {
	ID          string         `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	Description string         `json:"description,omitempty" db:"description"`
	Application string         `json:"application,omitempty" db:"application"`
	Environment string         `json:"environment,omitempty" db:"environment"`
	Input       any            `json:"input,omitempty" db:"input"`
	Output      any            `json:"output,omitempty" db:"output"`
	Status      RunStatus      `json:"status" db:"status"`
	TraceID     string         `json:"trace_id,omitempty" db:"trace_id"`
	SpanID      string         `json:"span_id,omitempty" db:"span_id"`
	Tags        []string       `json:"tags,omitempty" db:"-"`
	Info        map[string]any `json:"info,omitempty" db:"-"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

// Step is the persisted aggregate a step:* event family builds up. Steps
// carry no foreign key to their Run — events may arrive out of order and
// reference a run_id that hasn't been created yet.
type Step struct {
	ID         string         `json:"id" db:"id"`
	RunID      string         `json:"run_id" db:"run_id"`
	Type       string         `json:"type,omitempty" db:"type"`
	ParentStep string         `json:"parent_step,omitempty" db:"parent_step"`
	Name       string         `json:"name" db:"name"`
	Input      any            `json:"input,omitempty" db:"input"`
	Output     any            `json:"output,omitempty" db:"output"`
	Status     RunStatus      `json:"status" db:"status"`
	Tags       []string       `json:"tags,omitempty" db:"-"`
	Info       map[string]any `json:"info,omitempty" db:"-"`
	SpanID     string         `json:"span_id,omitempty" db:"span_id"`
	StartTime  time.Time      `json:"start_time" db:"start_time"`
	EndTime    *time.Time     `json:"end_time,omitempty" db:"end_time"`
}

// ChronicleEvent is one row of chronicle_events: either a chat-call log
// entry synthesised by the dispatcher, or a bare generic event accepted
// via POST /events. Exactly one of (Request/Response) or Data is populated
// depending on Kind.
type ChronicleEvent struct {
	ID        string    `json:"id" db:"id"` // UUIDv7
	Kind      string    `json:"kind" db:"kind"` // "chat" | "generic"
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// Chat log fields.
	Provider       string `json:"provider,omitempty" db:"provider"`
	Model          string `json:"model,omitempty" db:"model"`
	RequestJSON    string `json:"request_json,omitempty" db:"request_json"`
	ResponseJSON   string `json:"response_json,omitempty" db:"response_json"`
	Status         string `json:"status,omitempty" db:"status"` // ok | error | cancelled
	Retries        int    `json:"retries,omitempty" db:"retries"`
	WasRateLimited bool   `json:"was_rate_limited,omitempty" db:"was_rate_limited"`
	ErrorText      string `json:"error_text,omitempty" db:"error_text"`
	RequestLatencyMS int  `json:"request_latency_ms,omitempty" db:"request_latency_ms"`
	TotalLatencyMS   int  `json:"total_latency_ms,omitempty" db:"total_latency_ms"`

	// Generic event fields.
	EventType string         `json:"event_type,omitempty" db:"event_type"`
	Data      map[string]any `json:"data,omitempty" db:"-"`

	RunID          string `json:"run_id,omitempty" db:"run_id"`
	OrganizationID string `json:"organization_id,omitempty" db:"organization_id"`
}
