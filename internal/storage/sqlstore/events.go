package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chronicle-run/chronicle/internal/domain"
)

// InsertChronicleEvents bulk-inserts already-shaped chat log rows — the
// dispatcher's own event-queue writer posts one batch of these per flush.
// A single insert per row (spec §4.6 "Chat log entry: single insert").
func (s *Store) InsertChronicleEvents(ctx context.Context, events []domain.ChronicleEvent) error {
	if len(events) == 0 {
		return nil
	}
	query := s.dialect.Rebind(`INSERT INTO chronicle_events (
id, kind, organization_id, provider, model, request_json, response_json, status,
retries, was_rate_limited, error_text, request_latency_ms, total_latency_ms,
event_type, data_json, run_id, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range events {
		if e.ID == "" {
			e.ID = newID()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		dataJSON, err := marshalOrNil(e.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		_, err = tx.ExecContext(ctx, query,
			e.ID, e.Kind, e.OrganizationID, e.Provider, e.Model, e.RequestJSON, e.ResponseJSON, e.Status,
			e.Retries, e.WasRateLimited, e.ErrorText, e.RequestLatencyMS, e.TotalLatencyMS,
			e.EventType, dataJSON, e.RunID, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert chronicle event: %w", err)
		}
	}

	return tx.Commit()
}

// ApplyEvents ingests externally-submitted wire events (POST /events, POST
// /event): the six run:*/step:* variants are upserted into chronicle_runs/
// chronicle_steps (implicit creation, shallow-merged info, replaced tags,
// per spec §3/§4.6); everything else is stored as a generic chronicle_event
// row. Returns the (possibly generated) id assigned to each event, in order.
func (s *Store) ApplyEvents(ctx context.Context, orgID string, events []domain.Event) ([]string, error) {
	ids := make([]string, len(events))

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for i, e := range events {
		if e.ID == "" {
			e.ID = newID()
		}
		ids[i] = e.ID
		when := time.Now()
		if e.Time != nil {
			when = *e.Time
		}

		if e.Type.IsWorkflowEvent() {
			if err := s.applyWorkflowEvent(ctx, tx, orgID, e, when); err != nil {
				return nil, err
			}
			continue
		}

		dataJSON, err := marshalOrNil(e.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal event data: %w", err)
		}
		query := s.dialect.Rebind(`INSERT INTO chronicle_events (
id, kind, organization_id, status, error_text, event_type, data_json, run_id, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		_, err = tx.ExecContext(ctx, query,
			e.ID, "generic", orgID, e.Status, e.Error, string(e.Type), dataJSON, e.RunID, when)
		if err != nil {
			return nil, fmt.Errorf("insert generic event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if s.dialect.Name() == "postgres" {
		s.notifyWorkflowEvents(ctx, events)
	}

	return ids, nil
}

func (s *Store) applyWorkflowEvent(ctx context.Context, tx *sqlx.Tx, orgID string, e domain.Event, when time.Time) error {
	switch e.Type {
	case domain.EventRunStart, domain.EventRunUpdate:
		return s.upsertRun(ctx, tx, orgID, e, when)
	case domain.EventStepStart, domain.EventStepEnd, domain.EventStepError, domain.EventStepState:
		if e.RunID != "" {
			if err := s.ensureRun(ctx, tx, orgID, e.RunID, when); err != nil {
				return err
			}
		}
		return s.upsertStep(ctx, tx, e, when)
	default:
		return nil
	}
}

// ensureRun creates a stub running row for runID if one doesn't already
// exist, implementing implicit run creation from a step event that arrives
// before its run:start (spec §3).
func (s *Store) ensureRun(ctx context.Context, tx *sqlx.Tx, orgID, runID string, when time.Time) error {
	var count int
	err := tx.QueryRowContext(ctx, s.dialect.Rebind(`SELECT COUNT(*) FROM chronicle_runs WHERE id = ?`), runID).Scan(&count)
	if err != nil {
		return fmt.Errorf("check run existence: %w", err)
	}
	if count > 0 {
		return nil
	}
	query := s.dialect.Rebind(`INSERT INTO chronicle_runs (
id, organization_id, name, status, tags_json, info_json, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = tx.ExecContext(ctx, query, runID, orgID, "", string(domain.StatusRunning), "[]", "{}", when, when)
	if err != nil {
		return fmt.Errorf("create implicit run: %w", err)
	}
	return nil
}

// upsertRun handles run:start (create-or-update) and run:update. Receiving
// run:start for an existing row updates it rather than being ignored.
func (s *Store) upsertRun(ctx context.Context, tx *sqlx.Tx, orgID string, e domain.Event, when time.Time) error {
	if e.RunID == "" {
		return fmt.Errorf("run event missing run_id")
	}

	existing, found, err := s.loadExistingRun(ctx, tx, e.RunID)
	if err != nil {
		return err
	}

	info := mergeInfo(existing.Info, e.Info)
	tags := existing.Tags
	if e.Tags != nil {
		tags = e.Tags
	}
	infoJSON, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal run info: %w", err)
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal run tags: %w", err)
	}

	name := coalesce(e.Name, existing.Name)
	description := coalesce(e.Description, existing.Description)
	application := coalesce(e.Application, existing.Application)
	environment := coalesce(e.Environment, existing.Environment)
	traceID := coalesce(e.TraceID, existing.TraceID)
	spanID := coalesce(e.SpanID, existing.SpanID)
	status := e.Status
	if status == "" {
		status = string(existing.Status)
		if status == "" {
			status = string(domain.StatusRunning)
		}
	}

	inputJSON, err := marshalAnyOrNil(e.Input)
	if err != nil {
		return fmt.Errorf("marshal run input: %w", err)
	}
	outputJSON, err := marshalAnyOrNil(e.Output)
	if err != nil {
		return fmt.Errorf("marshal run output: %w", err)
	}

	if !found {
		query := s.dialect.Rebind(`INSERT INTO chronicle_runs (
id, organization_id, name, description, application, environment, input_json, output_json, status, trace_id, span_id,
tags_json, info_json, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		_, err := tx.ExecContext(ctx, query,
			e.RunID, orgID, name, description, application, environment, inputJSON, outputJSON, status, traceID, spanID,
			string(tagsJSON), string(infoJSON), when, when)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return nil
	}

	query := s.dialect.Rebind(`UPDATE chronicle_runs SET
name = ?, description = ?, application = ?, environment = ?, status = ?, trace_id = ?, span_id = ?,
tags_json = ?, info_json = ?, updated_at = ?` + updateInputOutputClause(inputJSON, outputJSON) + `
WHERE id = ?`)
	args := []any{name, description, application, environment, status, traceID, spanID,
		string(tagsJSON), string(infoJSON), when}
	args = append(args, updateInputOutputArgs(inputJSON, outputJSON)...)
	args = append(args, e.RunID)
	_, err = tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// coalesce returns v if non-empty, else fallback — used to keep a
// workflow-event update from clobbering a scalar field the event itself
// left unset.
func coalesce(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// updateInputOutputClause/Args append input_json/output_json assignments
// only when the event actually carries a value, so an update (e.g.
// run:update with no input) never clobbers a value set by an earlier event.
func updateInputOutputClause(inputJSON, outputJSON any) string {
	var clause string
	if inputJSON != nil {
		clause += ", input_json = ?"
	}
	if outputJSON != nil {
		clause += ", output_json = ?"
	}
	return clause
}

func updateInputOutputArgs(inputJSON, outputJSON any) []any {
	var args []any
	if inputJSON != nil {
		args = append(args, inputJSON)
	}
	if outputJSON != nil {
		args = append(args, outputJSON)
	}
	return args
}

func marshalAnyOrNil(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// loadExistingRun reads the row a workflow event's upsert would merge
// into, so scalar fields the event leaves unset (e.g. a run:update with no
// name) fall back to what's already stored instead of being clobbered with
// empty strings. Returns a zero Run and found=false when runID is new.
func (s *Store) loadExistingRun(ctx context.Context, tx *sqlx.Tx, runID string) (domain.Run, bool, error) {
	var r domain.Run
	var infoJSON, tagsJSON sql.NullString
	err := tx.QueryRowContext(ctx, s.dialect.Rebind(`SELECT name, description, application, environment, status,
trace_id, span_id, info_json, tags_json FROM chronicle_runs WHERE id = ?`), runID).
		Scan(&r.Name, &r.Description, &r.Application, &r.Environment, &r.Status, &r.TraceID, &r.SpanID, &infoJSON, &tagsJSON)
	if err == sql.ErrNoRows {
		return domain.Run{}, false, nil
	}
	if err != nil {
		return domain.Run{}, false, fmt.Errorf("load run: %w", err)
	}
	r.Info = map[string]any{}
	if infoJSON.Valid && infoJSON.String != "" {
		if err := json.Unmarshal([]byte(infoJSON.String), &r.Info); err != nil {
			return domain.Run{}, false, fmt.Errorf("unmarshal run info: %w", err)
		}
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &r.Tags); err != nil {
			return domain.Run{}, false, fmt.Errorf("unmarshal run tags: %w", err)
		}
	}
	return r, true, nil
}

// upsertStep handles step:start/step:end/step:error/step:state. Steps carry
// no FK to runs; an unresolvable run_id is stored as-is.
func (s *Store) upsertStep(ctx context.Context, tx *sqlx.Tx, e domain.Event, when time.Time) error {
	stepID := e.StepID
	if stepID == "" {
		stepID = newID()
	}

	existing, found, err := s.loadExistingStep(ctx, tx, stepID)
	if err != nil {
		return err
	}

	info := mergeInfo(existing.Info, e.Info)
	tags := existing.Tags
	if e.Tags != nil {
		tags = e.Tags
	}
	infoJSON, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal step info: %w", err)
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal step tags: %w", err)
	}

	runID := coalesce(e.RunID, existing.RunID)
	stepType := coalesce(e.StepType, existing.Type)
	name := coalesce(e.Name, existing.Name)
	parentStep := coalesce(e.ParentStep, existing.ParentStep)
	spanID := coalesce(e.SpanID, existing.SpanID)

	status := e.Status
	endTime := sql.NullTime{}
	if existing.EndTime != nil {
		endTime = sql.NullTime{Time: *existing.EndTime, Valid: true}
	}
	startTime := when
	if found {
		startTime = existing.StartTime
	}
	existingTerminal := found && (existing.Status == domain.StatusFinished || existing.Status == domain.StatusError)
	switch e.Type {
	case domain.EventStepStart, domain.EventStepState:
		// A late-arriving start/state event never regresses a step that has
		// already reached a terminal status from an out-of-order end/error.
		if status == "" {
			if existingTerminal {
				status = string(existing.Status)
			} else {
				status = string(domain.StatusRunning)
			}
		}
	case domain.EventStepEnd:
		if status == "" {
			status = string(domain.StatusFinished)
		}
		endTime = sql.NullTime{Time: when, Valid: true}
	case domain.EventStepError:
		if status == "" {
			status = string(domain.StatusError)
		}
		endTime = sql.NullTime{Time: when, Valid: true}
	}

	inputJSON, err := marshalAnyOrNil(e.Input)
	if err != nil {
		return fmt.Errorf("marshal step input: %w", err)
	}
	outputJSON, err := marshalAnyOrNil(e.Output)
	if err != nil {
		return fmt.Errorf("marshal step output: %w", err)
	}

	if !found {
		query := s.dialect.Rebind(`INSERT INTO chronicle_steps (
id, run_id, type, parent_step, name, input_json, output_json, status, tags_json, info_json, span_id, start_time, end_time
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		_, err := tx.ExecContext(ctx, query,
			stepID, runID, stepType, parentStep, name, inputJSON, outputJSON, status, string(tagsJSON), string(infoJSON), spanID,
			startTime, endTime)
		if err != nil {
			return fmt.Errorf("insert step: %w", err)
		}
		return nil
	}

	query := s.dialect.Rebind(`UPDATE chronicle_steps SET
run_id = ?, type = ?, parent_step = ?, name = ?, status = ?, tags_json = ?, info_json = ?, span_id = ?,
start_time = ?, end_time = ?` + updateInputOutputClause(inputJSON, outputJSON) + `
WHERE id = ?`)
	args := []any{runID, stepType, parentStep, name, status, string(tagsJSON), string(infoJSON), spanID,
		startTime, endTime}
	args = append(args, updateInputOutputArgs(inputJSON, outputJSON)...)
	args = append(args, stepID)
	_, err = tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	return nil
}

// loadExistingStep is loadExistingRun's counterpart for chronicle_steps:
// a found row's Name/Type/ParentStep/SpanID/StartTime/EndTime seed the
// fallback values an out-of-order or partial update event falls back to.
func (s *Store) loadExistingStep(ctx context.Context, tx *sqlx.Tx, stepID string) (domain.Step, bool, error) {
	var st domain.Step
	var infoJSON, tagsJSON sql.NullString
	var endTime sql.NullTime
	err := tx.QueryRowContext(ctx, s.dialect.Rebind(`SELECT run_id, type, parent_step, name, status, span_id,
start_time, end_time, info_json, tags_json FROM chronicle_steps WHERE id = ?`), stepID).
		Scan(&st.RunID, &st.Type, &st.ParentStep, &st.Name, &st.Status, &st.SpanID, &st.StartTime, &endTime, &infoJSON, &tagsJSON)
	if err == sql.ErrNoRows {
		return domain.Step{}, false, nil
	}
	if err != nil {
		return domain.Step{}, false, fmt.Errorf("load step: %w", err)
	}
	if endTime.Valid {
		st.EndTime = &endTime.Time
	}
	st.Info = map[string]any{}
	if infoJSON.Valid && infoJSON.String != "" {
		if err := json.Unmarshal([]byte(infoJSON.String), &st.Info); err != nil {
			return domain.Step{}, false, fmt.Errorf("unmarshal step info: %w", err)
		}
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &st.Tags); err != nil {
			return domain.Step{}, false, fmt.Errorf("unmarshal step tags: %w", err)
		}
	}
	return st, true, nil
}

// notifyWorkflowEvents emits a NOTIFY on a per-run channel for every
// run:update or terminal step:* event in the batch, per spec §4.6
// ("PostgreSQL only: ... emit a NOTIFY on a per-run channel"). Best-effort:
// a notify failure never fails the ingest.
func (s *Store) notifyWorkflowEvents(ctx context.Context, events []domain.Event) {
	for _, e := range events {
		notify := e.Type == domain.EventRunUpdate || e.Type == domain.EventStepEnd || e.Type == domain.EventStepError
		if !notify || e.RunID == "" {
			continue
		}
		channel := "chronicle_run_" + e.RunID
		s.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channel, string(e.Type))
	}
}

func mergeInfo(existing, update map[string]any) map[string]any {
	if existing == nil {
		existing = map[string]any{}
	}
	for k, v := range update {
		existing[k] = v
	}
	return existing
}

func marshalOrNil(v map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
