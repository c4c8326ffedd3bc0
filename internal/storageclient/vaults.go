package storageclient

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
)

// UpsertVault writes a vault's server-authoritative fields, preserving any
// already-cached UnwrappedKey.
func (s *Store) UpsertVault(ctx context.Context, v model.CachedVault) error {
	tags, err := json.Marshal(v.Tags)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO vaults (id, storage_id, name, slug, tags, kind, encryption, wrapped_key, unwrapped_key, cache_policy, is_default, row_version, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
	name=excluded.name, slug=excluded.slug, tags=excluded.tags, kind=excluded.kind,
	encryption=excluded.encryption, wrapped_key=excluded.wrapped_key,
	cache_policy=excluded.cache_policy, is_default=excluded.is_default,
	row_version=excluded.row_version`
	_, err = s.write.ExecContext(ctx, q,
		v.ID.String(), v.StorageID.String(), v.Name, v.Slug, string(tags), string(v.Kind), string(v.Encryption),
		[]byte(v.WrappedKey), v.UnwrappedKey, string(v.CachePolicy), boolToInt(v.Default), v.RowVersion, v.CreatedAt)
	return err
}

// SetUnwrappedKey records the locally-unwrapped vault key material, derived
// from the caller's KEK, for offline reads under the vault's cache policy.
func (s *Store) SetUnwrappedKey(ctx context.Context, vaultID uuid.UUID, key []byte) error {
	const q = `UPDATE vaults SET unwrapped_key=? WHERE id=?`
	res, err := s.write.ExecContext(ctx, q, key, vaultID.String())
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// GetVault returns one cached vault by id.
func (s *Store) GetVault(ctx context.Context, id uuid.UUID) (*model.CachedVault, error) {
	const q = vaultSelect + ` WHERE id=?`
	return s.scanVault(s.read.QueryRowContext(ctx, q, id.String()))
}

// GetVaultBySlug returns one cached vault by its storage-scoped slug.
func (s *Store) GetVaultBySlug(ctx context.Context, storageID uuid.UUID, slug string) (*model.CachedVault, error) {
	const q = vaultSelect + ` WHERE storage_id=? AND slug=?`
	return s.scanVault(s.read.QueryRowContext(ctx, q, storageID.String(), slug))
}

// ListVaults returns every cached vault for a storage.
func (s *Store) ListVaults(ctx context.Context, storageID uuid.UUID) ([]model.CachedVault, error) {
	const q = vaultSelect + ` WHERE storage_id=? ORDER BY name`
	rows, err := s.read.QueryContext(ctx, q, storageID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CachedVault
	for rows.Next() {
		v, err := scanVaultRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

const vaultSelect = `
SELECT id, storage_id, name, slug, tags, kind, encryption, wrapped_key, unwrapped_key, cache_policy, is_default, row_version, created_at
FROM vaults`

type rowOrRowsScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanVault(row rowOrRowsScanner) (*model.CachedVault, error) {
	v, err := scanVaultRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.New(errs.KindNotFound, "vault not cached", errs.ErrNotFound)
		}
		return nil, err
	}
	return v, nil
}

func scanVaultRow(row rowOrRowsScanner) (*model.CachedVault, error) {
	var v model.CachedVault
	var id, storageID, tags, kind, encryption, cachePolicy string
	var isDefault int
	var createdAt time.Time
	if err := row.Scan(&id, &storageID, &v.Name, &v.Slug, &tags, &kind, &encryption,
		&v.WrappedKey, &v.UnwrappedKey, &cachePolicy, &isDefault, &v.RowVersion, &createdAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.FromString(id)
	if err != nil {
		return nil, err
	}
	storageParsed, err := uuid.FromString(storageID)
	if err != nil {
		return nil, err
	}
	v.ID, v.StorageID = parsed, storageParsed
	v.Kind, v.Encryption, v.CachePolicy = model.VaultKind(kind), model.EncryptionType(encryption), model.CachePolicy(cachePolicy)
	v.Default, v.CreatedAt = isDefault != 0, createdAt
	if err := json.Unmarshal([]byte(tags), &v.Tags); err != nil {
		return nil, err
	}
	return &v, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.New(errs.KindNotFound, "not cached", errs.ErrNotFound)
	}
	return nil
}
