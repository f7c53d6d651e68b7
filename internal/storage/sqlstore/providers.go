package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chronicle-run/chronicle/internal/domain"
)

// GetCustomProvider resolves a registered upstream by name, implementing
// the custom-provider half of dispatcher.ProviderResolver.
func (s *Store) GetCustomProvider(ctx context.Context, orgID, name string) (*domain.CustomProvider, bool, error) {
	var p domain.CustomProvider
	var headersJSON sql.NullString
	query := s.dialect.Rebind(`SELECT id, name, url, format, api_key_source, api_key_value, headers_json, model_prefix, created_at, updated_at
FROM chronicle_custom_providers WHERE organization_id = ? AND name = ?`)
	err := s.db.QueryRowContext(ctx, query, orgID, name).Scan(
		&p.ID, &p.Name, &p.URL, &p.Format, &p.APIKeySource, &p.APIKeyValue, &headersJSON, &p.ModelPrefix, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup custom provider: %w", err)
	}
	if headersJSON.Valid && headersJSON.String != "" {
		if err := json.Unmarshal([]byte(headersJSON.String), &p.Headers); err != nil {
			return nil, false, fmt.Errorf("unmarshal provider headers: %w", err)
		}
	}
	return &p, true, nil
}

// CreateCustomProvider registers a new upstream endpoint.
func (s *Store) CreateCustomProvider(ctx context.Context, orgID string, p *domain.CustomProvider) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	headersJSON, err := marshalOrNil(toAnyMap(p.Headers))
	if err != nil {
		return fmt.Errorf("marshal provider headers: %w", err)
	}
	query := s.dialect.Rebind(`INSERT INTO chronicle_custom_providers
(id, organization_id, name, url, format, api_key_source, api_key_value, headers_json, model_prefix, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		p.ID, orgID, p.Name, p.URL, p.Format, p.APIKeySource, p.APIKeyValue, headersJSON, p.ModelPrefix, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create custom provider: %w", err)
	}
	return nil
}

// UpdateCustomProvider overwrites an existing provider's fields.
func (s *Store) UpdateCustomProvider(ctx context.Context, p *domain.CustomProvider) error {
	p.UpdatedAt = time.Now()
	headersJSON, err := marshalOrNil(toAnyMap(p.Headers))
	if err != nil {
		return fmt.Errorf("marshal provider headers: %w", err)
	}
	query := s.dialect.Rebind(`UPDATE chronicle_custom_providers SET
name = ?, url = ?, format = ?, api_key_source = ?, api_key_value = ?, headers_json = ?, model_prefix = ?, updated_at = ?
WHERE id = ?`)
	result, err := s.db.ExecContext(ctx, query,
		p.Name, p.URL, p.Format, p.APIKeySource, p.APIKeyValue, headersJSON, p.ModelPrefix, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("update custom provider: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("custom provider %s not found", p.ID)
	}
	return nil
}

// DeleteCustomProvider removes a registered upstream.
func (s *Store) DeleteCustomProvider(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM chronicle_custom_providers WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete custom provider: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("custom provider %s not found", id)
	}
	return nil
}

// ListCustomProviders lists every upstream registered for an organization.
func (s *Store) ListCustomProviders(ctx context.Context, orgID string) ([]*domain.CustomProvider, error) {
	query := s.dialect.Rebind(`SELECT id, name, url, format, api_key_source, api_key_value, headers_json, model_prefix, created_at, updated_at
FROM chronicle_custom_providers WHERE organization_id = ? ORDER BY name ASC`)
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("list custom providers: %w", err)
	}
	defer rows.Close()

	var providers []*domain.CustomProvider
	for rows.Next() {
		var p domain.CustomProvider
		var headersJSON sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.URL, &p.Format, &p.APIKeySource, &p.APIKeyValue, &headersJSON, &p.ModelPrefix, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan custom provider: %w", err)
		}
		if headersJSON.Valid && headersJSON.String != "" {
			if err := json.Unmarshal([]byte(headersJSON.String), &p.Headers); err != nil {
				return nil, fmt.Errorf("unmarshal provider headers: %w", err)
			}
		}
		providers = append(providers, &p)
	}
	return providers, rows.Err()
}

// CreatePricingPlan inserts an operator-configured per-token cost row.
func (s *Store) CreatePricingPlan(ctx context.Context, p *domain.PricingPlan) error {
	p.CreatedAt = time.Now()
	query := s.dialect.Rebind(`INSERT INTO chronicle_pricing_plans
(id, provider, model, prompt_cost_per_1m, completion_cost_per_1m, created_at)
VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, p.ID, p.Provider, p.Model, p.PromptCostPer1M, p.CompletionCostPer1M, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create pricing plan: %w", err)
	}
	return nil
}

// GetPricingPlan looks up the cost table for one (provider, model) pair.
func (s *Store) GetPricingPlan(ctx context.Context, provider, model string) (*domain.PricingPlan, bool, error) {
	var p domain.PricingPlan
	query := s.dialect.Rebind(`SELECT id, provider, model, prompt_cost_per_1m, completion_cost_per_1m, created_at
FROM chronicle_pricing_plans WHERE provider = ? AND model = ?`)
	err := s.db.QueryRowContext(ctx, query, provider, model).Scan(&p.ID, &p.Provider, &p.Model, &p.PromptCostPer1M, &p.CompletionCostPer1M, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup pricing plan: %w", err)
	}
	return &p, true, nil
}

// ListPricingPlans returns every registered cost row.
func (s *Store) ListPricingPlans(ctx context.Context) ([]*domain.PricingPlan, error) {
	query := `SELECT id, provider, model, prompt_cost_per_1m, completion_cost_per_1m, created_at
FROM chronicle_pricing_plans ORDER BY provider ASC, model ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pricing plans: %w", err)
	}
	defer rows.Close()

	var plans []*domain.PricingPlan
	for rows.Next() {
		var p domain.PricingPlan
		if err := rows.Scan(&p.ID, &p.Provider, &p.Model, &p.PromptCostPer1M, &p.CompletionCostPer1M, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pricing plan: %w", err)
		}
		plans = append(plans, &p)
	}
	return plans, rows.Err()
}

func toAnyMap(m map[string]string) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
