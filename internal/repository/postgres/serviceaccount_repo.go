package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
)

// ServiceAccountRepo implements ServiceAccountRepository using PostgreSQL.
// Scopes are stored as jsonb since a ScopePattern slice has no natural
// column-per-field shape.
type ServiceAccountRepo struct{ db *DB }

// NewServiceAccountRepo constructs a service account repository.
func NewServiceAccountRepo(db *DB) *ServiceAccountRepo { return &ServiceAccountRepo{db: db} }

// Create inserts a new service account.
func (r *ServiceAccountRepo) Create(ctx context.Context, sa *model.ServiceAccount) error {
	scopes, err := json.Marshal(sa.Scopes)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO service_accounts (id, name, scopes, ip_allowlist, token_prefix, token_hash)
VALUES ($1,$2,$3,$4,$5,$6)`
	_, err = r.db.Pool.Exec(ctx, q, sa.ID, sa.Name, scopes, sa.IPAllowlist, sa.TokenPrefix, sa.TokenHash)
	if isUniqueViolation(err) {
		return errs.New(errs.KindConflict, "service account name already in use", errs.ErrAlreadyExists)
	}
	return err
}

// GetByTokenPrefix resolves a service account by its token's public prefix,
// the first step of login before the full token hash is verified.
func (r *ServiceAccountRepo) GetByTokenPrefix(ctx context.Context, prefix string) (*model.ServiceAccount, error) {
	const q = `
SELECT id, name, scopes, ip_allowlist, token_prefix, token_hash, use_count, created_at
FROM service_accounts WHERE token_prefix=$1`
	row := r.db.Pool.QueryRow(ctx, q, prefix)
	var sa model.ServiceAccount
	var scopes []byte
	if err := row.Scan(&sa.ID, &sa.Name, &scopes, &sa.IPAllowlist, &sa.TokenPrefix, &sa.TokenHash, &sa.UseCount, &sa.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.KindNotFound, "service account not found", errs.ErrNotFound)
		}
		return nil, err
	}
	if err := json.Unmarshal(scopes, &sa.Scopes); err != nil {
		return nil, err
	}
	return &sa, nil
}

// IncrementUse bumps a service account's use counter on successful login.
func (r *ServiceAccountRepo) IncrementUse(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE service_accounts SET use_count = use_count + 1 WHERE id=$1`
	_, err := r.db.Pool.Exec(ctx, q, id)
	return err
}

// ScopesFor satisfies access.ServiceAccountLookup.
func (r *ServiceAccountRepo) ScopesFor(ctx context.Context, id uuid.UUID) ([]model.ScopePattern, []string, error) {
	const q = `SELECT scopes, ip_allowlist FROM service_accounts WHERE id=$1`
	row := r.db.Pool.QueryRow(ctx, q, id)
	var scopes []byte
	var allowlist []string
	if err := row.Scan(&scopes, &allowlist); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, errs.New(errs.KindNotFound, "service account not found", errs.ErrNotFound)
		}
		return nil, nil, err
	}
	var patterns []model.ScopePattern
	if err := json.Unmarshal(scopes, &patterns); err != nil {
		return nil, nil, err
	}
	return patterns, allowlist, nil
}
