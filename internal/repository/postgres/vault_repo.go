package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
)

// VaultRepo implements VaultRepository using PostgreSQL.
type VaultRepo struct{ db *DB }

// NewVaultRepo constructs a vault repository.
func NewVaultRepo(db *DB) *VaultRepo { return &VaultRepo{db: db} }

// Create inserts a new vault row.
func (r *VaultRepo) Create(ctx context.Context, v *model.Vault) error {
	const q = `
INSERT INTO vaults (id, storage_id, name, slug, tags, kind, encryption, wrapped_key, cache_policy, is_default)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := r.db.Pool.Exec(ctx, q, v.ID, v.StorageID, v.Name, v.Slug, v.Tags,
		string(v.Kind), string(v.Encryption), v.WrappedKey, string(v.CachePolicy), v.Default)
	if isUniqueViolation(err) {
		return errs.New(errs.KindConflict, "vault slug already in use", errs.ErrAlreadyExists)
	}
	return err
}

// Get returns a vault by id.
func (r *VaultRepo) Get(ctx context.Context, id uuid.UUID) (*model.Vault, error) {
	const q = `
SELECT id, storage_id, name, slug, tags, kind, encryption, wrapped_key, cache_policy, is_default, row_version, created_at
FROM vaults WHERE id=$1`
	return scanVault(r.db.Pool.QueryRow(ctx, q, id))
}

// GetBySlug returns a vault by its slug.
func (r *VaultRepo) GetBySlug(ctx context.Context, slug string) (*model.Vault, error) {
	const q = `
SELECT id, storage_id, name, slug, tags, kind, encryption, wrapped_key, cache_policy, is_default, row_version, created_at
FROM vaults WHERE slug=$1`
	return scanVault(r.db.Pool.QueryRow(ctx, q, slug))
}

// List returns every vault bound to a storage.
func (r *VaultRepo) List(ctx context.Context, storageID uuid.UUID) ([]model.Vault, error) {
	const q = `
SELECT id, storage_id, name, slug, tags, kind, encryption, wrapped_key, cache_policy, is_default, row_version, created_at
FROM vaults WHERE storage_id=$1 ORDER BY name ASC`
	rows, err := r.db.Pool.Query(ctx, q, storageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Vault
	for rows.Next() {
		v, err := scanVaultRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVault(row pgx.Row) (*model.Vault, error) {
	v, err := scanVaultRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.KindNotFound, "vault not found", errs.ErrNotFound)
		}
		return nil, err
	}
	return v, nil
}

func scanVaultRow(row rowScanner) (*model.Vault, error) {
	var v model.Vault
	var kind, enc, cache string
	if err := row.Scan(&v.ID, &v.StorageID, &v.Name, &v.Slug, &v.Tags, &kind, &enc, &v.WrappedKey,
		&cache, &v.Default, &v.RowVersion, &v.CreatedAt); err != nil {
		return nil, err
	}
	v.Kind = model.VaultKind(kind)
	v.Encryption = model.EncryptionType(enc)
	v.CachePolicy = model.CachePolicy(cache)
	return &v, nil
}
