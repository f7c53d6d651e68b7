package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/chronicle-run/chronicle/internal/domain"
)

// GetRun reads one run aggregate by id, for the admin read surface.
func (s *Store) GetRun(ctx context.Context, id string) (*domain.Run, bool, error) {
	var r domain.Run
	var infoJSON, tagsJSON sql.NullString
	query := s.dialect.Rebind(`SELECT id, name, description, application, environment, status, trace_id, span_id,
tags_json, info_json, created_at, updated_at FROM chronicle_runs WHERE id = ?`)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&r.ID, &r.Name, &r.Description, &r.Application, &r.Environment, &r.Status, &r.TraceID, &r.SpanID,
		&tagsJSON, &infoJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get run: %w", err)
	}
	if err := unmarshalTagsInfo(tagsJSON, infoJSON, &r.Tags, &r.Info); err != nil {
		return nil, false, err
	}
	return &r, true, nil
}

// ListRuns lists runs for an organization, most recently updated first.
func (s *Store) ListRuns(ctx context.Context, orgID string, limit, offset int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.dialect.Rebind(`SELECT id, name, description, application, environment, status, trace_id, span_id,
tags_json, info_json, created_at, updated_at FROM chronicle_runs
WHERE organization_id = ? ORDER BY updated_at DESC LIMIT ? OFFSET ?`)
	rows, err := s.db.QueryContext(ctx, query, orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		var r domain.Run
		var infoJSON, tagsJSON sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Application, &r.Environment, &r.Status, &r.TraceID, &r.SpanID,
			&tagsJSON, &infoJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := unmarshalTagsInfo(tagsJSON, infoJSON, &r.Tags, &r.Info); err != nil {
			return nil, err
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// ListSteps lists every step recorded against a run, in start order. No FK
// join is performed — a run_id with no matching chronicle_runs row still
// returns its steps.
func (s *Store) ListSteps(ctx context.Context, runID string) ([]*domain.Step, error) {
	query := s.dialect.Rebind(`SELECT id, run_id, type, parent_step, name, status, tags_json, info_json, span_id, start_time, end_time
FROM chronicle_steps WHERE run_id = ? ORDER BY start_time ASC`)
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []*domain.Step
	for rows.Next() {
		var st domain.Step
		var infoJSON, tagsJSON sql.NullString
		if err := rows.Scan(&st.ID, &st.RunID, &st.Type, &st.ParentStep, &st.Name, &st.Status, &tagsJSON, &infoJSON,
			&st.SpanID, &st.StartTime, &st.EndTime); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if err := unmarshalTagsInfo(tagsJSON, infoJSON, &st.Tags, &st.Info); err != nil {
			return nil, err
		}
		steps = append(steps, &st)
	}
	return steps, rows.Err()
}

func unmarshalTagsInfo(tagsJSON, infoJSON sql.NullString, tags *[]string, info *map[string]any) error {
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), tags); err != nil {
			return fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if infoJSON.Valid && infoJSON.String != "" {
		if err := json.Unmarshal([]byte(infoJSON.String), info); err != nil {
			return fmt.Errorf("unmarshal info: %w", err)
		}
	}
	return nil
}
