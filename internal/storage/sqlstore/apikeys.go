package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chronicle-run/chronicle/internal/domain"
)

// LookupAPIKey implements keyvault.Store.
func (s *Store) LookupAPIKey(ctx context.Context, provider, name string) (*domain.ProviderApiKey, bool, error) {
	var k domain.ProviderApiKey
	query := s.dialect.Rebind(`SELECT id, name, provider, source, value, created_at
FROM chronicle_api_keys WHERE provider = ? AND name = ?`)
	err := s.db.QueryRowContext(ctx, query, provider, name).Scan(&k.ID, &k.Name, &k.Provider, &k.Source, &k.Value, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup api key: %w", err)
	}
	return &k, true, nil
}

// CreateAPIKey inserts a named provider credential reference.
func (s *Store) CreateAPIKey(ctx context.Context, orgID string, k *domain.ProviderApiKey) error {
	k.CreatedAt = time.Now()
	query := s.dialect.Rebind(`INSERT INTO chronicle_api_keys (id, organization_id, name, provider, source, value, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, k.ID, orgID, k.Name, k.Provider, k.Source, k.Value, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// DeleteAPIKey removes a named credential reference.
func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM chronicle_api_keys WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("api key %s not found", id)
	}
	return nil
}

// ListAPIKeys lists the credential references registered for an organization.
// Value is never returned by admin list views; callers needing the literal
// go through keyvault.Vault.Resolve instead.
func (s *Store) ListAPIKeys(ctx context.Context, orgID string) ([]*domain.ProviderApiKey, error) {
	query := s.dialect.Rebind(`SELECT id, name, provider, source, created_at
FROM chronicle_api_keys WHERE organization_id = ? ORDER BY provider ASC, name ASC`)
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*domain.ProviderApiKey
	for rows.Next() {
		var k domain.ProviderApiKey
		if err := rows.Scan(&k.ID, &k.Name, &k.Provider, &k.Source, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}
