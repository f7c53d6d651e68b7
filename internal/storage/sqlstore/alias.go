package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/chronicle-run/chronicle/internal/domain"
)

// Lookup implements alias.Store: it resolves a named alias for orgID,
// joining in its ordered AliasModel candidates.
func (s *Store) Lookup(ctx context.Context, orgID, name string) (*domain.Alias, bool, error) {
	var a domain.Alias
	query := s.dialect.Rebind(`SELECT id, name, random_order, created_at, updated_at
FROM chronicle_aliases WHERE organization_id = ? AND name = ?`)
	err := s.db.QueryRowContext(ctx, query, orgID, name).Scan(&a.ID, &a.Name, &a.RandomOrder, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup alias: %w", err)
	}

	models, err := s.listAliasModels(ctx, a.ID)
	if err != nil {
		return nil, false, err
	}
	a.Models = models
	return &a, true, nil
}

func (s *Store) listAliasModels(ctx context.Context, aliasID string) ([]domain.AliasModel, error) {
	query := s.dialect.Rebind(`SELECT sort, provider, model, api_key_name
FROM chronicle_alias_providers WHERE alias_id = ? ORDER BY sort ASC`)
	rows, err := s.db.QueryContext(ctx, query, aliasID)
	if err != nil {
		return nil, fmt.Errorf("list alias models: %w", err)
	}
	defer rows.Close()

	var models []domain.AliasModel
	for rows.Next() {
		var m domain.AliasModel
		var apiKeyName sql.NullString
		if err := rows.Scan(&m.Sort, &m.Provider, &m.Model, &apiKeyName); err != nil {
			return nil, fmt.Errorf("scan alias model: %w", err)
		}
		m.APIKeyName = apiKeyName.String
		models = append(models, m)
	}
	return models, rows.Err()
}

// CreateAlias inserts an alias and its ordered model list in one transaction.
func (s *Store) CreateAlias(ctx context.Context, orgID string, a *domain.Alias) error {
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := s.dialect.Rebind(`INSERT INTO chronicle_aliases (id, organization_id, name, random_order, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, query, a.ID, orgID, a.Name, a.RandomOrder, a.CreatedAt, a.UpdatedAt); err != nil {
		return fmt.Errorf("insert alias: %w", err)
	}

	if err := s.replaceAliasModels(ctx, tx, a.ID, a.Models); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateAlias replaces an alias's fields and its entire model list.
func (s *Store) UpdateAlias(ctx context.Context, a *domain.Alias) error {
	a.UpdatedAt = time.Now()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := s.dialect.Rebind(`UPDATE chronicle_aliases SET name = ?, random_order = ?, updated_at = ? WHERE id = ?`)
	result, err := tx.ExecContext(ctx, query, a.Name, a.RandomOrder, a.UpdatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("update alias: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("alias %s not found", a.ID)
	}

	if err := s.replaceAliasModels(ctx, tx, a.ID, a.Models); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) replaceAliasModels(ctx context.Context, tx *sqlx.Tx, aliasID string, models []domain.AliasModel) error {
	del := s.dialect.Rebind(`DELETE FROM chronicle_alias_providers WHERE alias_id = ?`)
	if _, err := tx.ExecContext(ctx, del, aliasID); err != nil {
		return fmt.Errorf("clear alias models: %w", err)
	}
	insert := s.dialect.Rebind(`INSERT INTO chronicle_alias_providers (id, alias_id, sort, provider, model, api_key_name)
VALUES (?, ?, ?, ?, ?, ?)`)
	for _, m := range models {
		if _, err := tx.ExecContext(ctx, insert, newID(), aliasID, m.Sort, m.Provider, m.Model, m.APIKeyName); err != nil {
			return fmt.Errorf("insert alias model: %w", err)
		}
	}
	return nil
}

// DeleteAlias removes an alias and its model rows.
func (s *Store) DeleteAlias(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM chronicle_alias_providers WHERE alias_id = ?`), id); err != nil {
		return fmt.Errorf("delete alias models: %w", err)
	}
	result, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM chronicle_aliases WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete alias: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("alias %s not found", id)
	}
	return tx.Commit()
}

// ListAliases lists every alias (with its models) for an organization.
func (s *Store) ListAliases(ctx context.Context, orgID string) ([]*domain.Alias, error) {
	query := s.dialect.Rebind(`SELECT id, name, random_order, created_at, updated_at
FROM chronicle_aliases WHERE organization_id = ? ORDER BY name ASC`)
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer rows.Close()

	var aliases []*domain.Alias
	for rows.Next() {
		var a domain.Alias
		if err := rows.Scan(&a.ID, &a.Name, &a.RandomOrder, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		aliases = append(aliases, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, a := range aliases {
		models, err := s.listAliasModels(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		a.Models = models
	}
	return aliases, nil
}
