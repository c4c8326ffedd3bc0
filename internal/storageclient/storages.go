package storageclient

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
)

// UpsertStorage persists a client binding to a local-only or remote storage.
func (s *Store) UpsertStorage(ctx context.Context, st model.Storage) error {
	const q = `
INSERT INTO storages (id, kind, server_url, pinned_fingerprint, account_subject, personal_vaults_enable, created_at)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
	server_url=excluded.server_url, pinned_fingerprint=excluded.pinned_fingerprint,
	account_subject=excluded.account_subject, personal_vaults_enable=excluded.personal_vaults_enable`
	_, err := s.write.ExecContext(ctx, q,
		st.ID.String(), string(st.Kind), st.ServerURL, st.PinnedFingerprint, st.AccountSubject,
		boolToInt(st.PersonalVaultsEnable), st.CreatedAt)
	return err
}

// GetStorage returns one cached storage binding by id.
func (s *Store) GetStorage(ctx context.Context, id uuid.UUID) (*model.Storage, error) {
	const q = `
SELECT id, kind, server_url, pinned_fingerprint, account_subject, personal_vaults_enable, created_at
FROM storages WHERE id=?`
	var st model.Storage
	var sid, kind string
	var enable int
	var createdAt time.Time
	err := s.read.QueryRowContext(ctx, q, id.String()).Scan(
		&sid, &kind, &st.ServerURL, &st.PinnedFingerprint, &st.AccountSubject, &enable, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.New(errs.KindNotFound, "storage not cached", errs.ErrNotFound)
		}
		return nil, err
	}
	if st.ID, err = uuid.FromString(sid); err != nil {
		return nil, err
	}
	st.Kind, st.PersonalVaultsEnable, st.CreatedAt = model.StorageKind(kind), enable != 0, createdAt
	return &st, nil
}

// ListStorages returns every cached storage binding.
func (s *Store) ListStorages(ctx context.Context) ([]model.Storage, error) {
	const q = `
SELECT id, kind, server_url, pinned_fingerprint, account_subject, personal_vaults_enable, created_at
FROM storages ORDER BY created_at`
	rows, err := s.read.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Storage
	for rows.Next() {
		var st model.Storage
		var sid, kind string
		var enable int
		if err := rows.Scan(&sid, &kind, &st.ServerURL, &st.PinnedFingerprint, &st.AccountSubject, &enable, &st.CreatedAt); err != nil {
			return nil, err
		}
		if st.ID, err = uuid.FromString(sid); err != nil {
			return nil, err
		}
		st.Kind, st.PersonalVaultsEnable = model.StorageKind(kind), enable != 0
		out = append(out, st)
	}
	return out, rows.Err()
}
