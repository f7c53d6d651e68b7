package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chronicle-run/chronicle/internal/domain"
)

// CreateOrganization inserts a new tenant boundary.
func (s *Store) CreateOrganization(ctx context.Context, o *domain.Organization) error {
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now
	query := s.dialect.Rebind(`INSERT INTO chronicle_organizations (id, name, owner, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, o.ID, o.Name, o.Owner, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create organization: %w", err)
	}
	return nil
}

// GetOrganization looks up a tenant by id.
func (s *Store) GetOrganization(ctx context.Context, id string) (*domain.Organization, bool, error) {
	var o domain.Organization
	query := s.dialect.Rebind(`SELECT id, name, owner, created_at, updated_at FROM chronicle_organizations WHERE id = ?`)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&o.ID, &o.Name, &o.Owner, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get organization: %w", err)
	}
	return &o, true, nil
}

// UpdateOrganization overwrites name and, only when ownerChange is true
// (the caller has already verified the acting permission is owner),
// Owner — enforcing spec §4.7's "owner-only fields" write gate at the
// single call site rather than inside every handler.
func (s *Store) UpdateOrganization(ctx context.Context, o *domain.Organization, ownerChange bool) error {
	o.UpdatedAt = time.Now()
	var query string
	var err error
	if ownerChange {
		query = s.dialect.Rebind(`UPDATE chronicle_organizations SET name = ?, owner = ?, updated_at = ? WHERE id = ?`)
		_, err = s.db.ExecContext(ctx, query, o.Name, o.Owner, o.UpdatedAt, o.ID)
	} else {
		query = s.dialect.Rebind(`UPDATE chronicle_organizations SET name = ?, updated_at = ? WHERE id = ?`)
		_, err = s.db.ExecContext(ctx, query, o.Name, o.UpdatedAt, o.ID)
	}
	if err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	return nil
}

// DeleteOrganization removes a tenant record.
func (s *Store) DeleteOrganization(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM chronicle_organizations WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete organization: %w", err)
	}
	return nil
}

// ListOrganizations lists every tenant, unfiltered; callers (internal/admin)
// are responsible for filtering to what the acting user can see.
func (s *Store) ListOrganizations(ctx context.Context) ([]*domain.Organization, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, owner, created_at, updated_at FROM chronicle_organizations ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*domain.Organization
	for rows.Next() {
		var o domain.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.Owner, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, &o)
	}
	return orgs, rows.Err()
}

// CreateUser inserts a new actor.
func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	query := s.dialect.Rebind(`INSERT INTO chronicle_users (id, email, name, active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, u.ID, u.Email, u.Name, u.Active, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser looks up an actor by id.
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, bool, error) {
	var u domain.User
	query := s.dialect.Rebind(`SELECT id, email, name, active, created_at, updated_at FROM chronicle_users WHERE id = ?`)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Email, &u.Name, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get user: %w", err)
	}
	return &u, true, nil
}

// UpdateUser overwrites an actor's mutable fields.
func (s *Store) UpdateUser(ctx context.Context, u *domain.User) error {
	u.UpdatedAt = time.Now()
	query := s.dialect.Rebind(`UPDATE chronicle_users SET email = ?, name = ?, active = ?, updated_at = ? WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, u.Email, u.Name, u.Active, u.UpdatedAt, u.ID)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// DeleteUser removes an actor record.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM chronicle_users WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// ListUsers lists every registered actor.
func (s *Store) ListUsers(ctx context.Context) ([]*domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, email, name, active, created_at, updated_at FROM chronicle_users ORDER BY email ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

// CreateRole grants a user a permission within an organization.
func (s *Store) CreateRole(ctx context.Context, r *domain.Role) error {
	r.CreatedAt = time.Now()
	query := s.dialect.Rebind(`INSERT INTO chronicle_roles (id, organization_id, user_id, permission, created_at)
VALUES (?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, r.ID, r.OrganizationID, r.UserID, string(r.Permission), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create role: %w", err)
	}
	return nil
}

// UpdateRole changes the permission level of an existing grant.
func (s *Store) UpdateRole(ctx context.Context, r *domain.Role) error {
	query := s.dialect.Rebind(`UPDATE chronicle_roles SET permission = ? WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, string(r.Permission), r.ID)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return nil
}

// DeleteRole revokes a grant.
func (s *Store) DeleteRole(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM chronicle_roles WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	return nil
}

// ListRoles lists every grant within an organization.
func (s *Store) ListRoles(ctx context.Context, orgID string) ([]*domain.Role, error) {
	query := s.dialect.Rebind(`SELECT id, organization_id, user_id, permission, created_at
FROM chronicle_roles WHERE organization_id = ? ORDER BY created_at ASC`)
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var roles []*domain.Role
	for rows.Next() {
		var r domain.Role
		var perm string
		if err := rows.Scan(&r.ID, &r.OrganizationID, &r.UserID, &perm, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		r.Permission = domain.Permission(perm)
		roles = append(roles, &r)
	}
	return roles, rows.Err()
}

// ActorPermission resolves the effective permission a user holds within an
// organization: PermissionOwner if the organization's owner is the user,
// else the highest Permission among that user's Role grants in the org, else
// empty (no access). Spec §4.7: "(organization_id, actor_id, permission)"
// yields a permission that may be null — an empty Permission is that null.
// PermissionOrgAdmin is a separate, cross-organization super-permission
// this lookup never produces; nothing in the current schema grants it.
func (s *Store) ActorPermission(ctx context.Context, orgID, userID string) (domain.Permission, error) {
	org, found, err := s.GetOrganization(ctx, orgID)
	if err != nil {
		return "", err
	}
	if found && org.Owner == userID {
		return domain.PermissionOwner, nil
	}

	query := s.dialect.Rebind(`SELECT permission FROM chronicle_roles WHERE organization_id = ? AND user_id = ?`)
	rows, err := s.db.QueryContext(ctx, query, orgID, userID)
	if err != nil {
		return "", fmt.Errorf("resolve actor permission: %w", err)
	}
	defer rows.Close()

	var best domain.Permission
	for rows.Next() {
		var perm string
		if err := rows.Scan(&perm); err != nil {
			return "", fmt.Errorf("scan actor permission: %w", err)
		}
		p := domain.Permission(perm)
		if best == "" || p.Allows(best) {
			best = p
		}
	}
	return best, rows.Err()
}
