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

// UpsertItem writes the local mirror of a server item, used both when
// applying pulled changes and when marking a local edit dirty.
func (s *Store) UpsertItem(ctx context.Context, it model.CachedItem) error {
	const q = `
INSERT INTO items (id, vault_id, path, display_name, type_id, payload_enc, payload_checksum, version, row_version, status, deleted_at, deleted_by, file_id, upload_state, local_rev, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
	path=excluded.path, display_name=excluded.display_name, type_id=excluded.type_id,
	payload_enc=excluded.payload_enc, payload_checksum=excluded.payload_checksum,
	version=excluded.version, row_version=excluded.row_version, status=excluded.status,
	deleted_at=excluded.deleted_at, deleted_by=excluded.deleted_by, file_id=excluded.file_id,
	upload_state=excluded.upload_state, local_rev=excluded.local_rev, updated_at=excluded.updated_at`
	var deletedBy any
	if it.DeletedBy != uuid.Nil {
		deletedBy = it.DeletedBy.String()
	}
	_, err := s.write.ExecContext(ctx, q,
		it.ID.String(), it.VaultID.String(), it.Path, it.DisplayName, it.TypeID,
		[]byte(it.PayloadEnc), it.PayloadChecksum, it.Version, it.RowVersion, string(it.Status),
		it.DeletedAt, deletedBy, it.FileID, string(it.UploadState), it.LocalRev, it.UpdatedAt)
	return err
}

// MarkStatus flips an item's local sync_status without touching its payload,
// used for conflict marking and tombstone/undo transitions.
func (s *Store) MarkStatus(ctx context.Context, itemID uuid.UUID, status model.SyncStatus) error {
	const q = `UPDATE items SET status=? WHERE id=?`
	res, err := s.write.ExecContext(ctx, q, string(status), itemID.String())
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// GetItem returns one cached item by id.
func (s *Store) GetItem(ctx context.Context, id uuid.UUID) (*model.CachedItem, error) {
	const q = itemSelect + ` WHERE id=?`
	row := s.read.QueryRowContext(ctx, q, id.String())
	it, err := scanItemRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.New(errs.KindNotFound, "item not cached", errs.ErrNotFound)
		}
		return nil, err
	}
	return it, nil
}

// ListItems returns active (non-tombstoned) cached items in a vault.
func (s *Store) ListItems(ctx context.Context, vaultID uuid.UUID) ([]model.CachedItem, error) {
	const q = itemSelect + ` WHERE vault_id=? AND status != ? ORDER BY path`
	rows, err := s.read.QueryContext(ctx, q, vaultID.String(), string(model.StatusTombstone))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CachedItem
	for rows.Next() {
		it, err := scanItemRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

const itemSelect = `
SELECT id, vault_id, path, display_name, type_id, payload_enc, payload_checksum, version, row_version, status, deleted_at, deleted_by, file_id, upload_state, local_rev, updated_at
FROM items`

func scanItemRow(row rowOrRowsScanner) (*model.CachedItem, error) {
	var it model.CachedItem
	var id, vaultID, status string
	var deletedBy sql.NullString
	if err := row.Scan(&id, &vaultID, &it.Path, &it.DisplayName, &it.TypeID,
		&it.PayloadEnc, &it.PayloadChecksum, &it.Version, &it.RowVersion, &status,
		&it.DeletedAt, &deletedBy, &it.FileID, &it.UploadState, &it.LocalRev, &it.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.FromString(id)
	if err != nil {
		return nil, err
	}
	vaultParsed, err := uuid.FromString(vaultID)
	if err != nil {
		return nil, err
	}
	it.ID, it.VaultID, it.Status = parsed, vaultParsed, model.SyncStatus(status)
	if deletedBy.Valid {
		db, err := uuid.FromString(deletedBy.String)
		if err != nil {
			return nil, err
		}
		it.DeletedBy = db
	}
	return &it, nil
}

// AppendHistory records one revision in the local history mirror, kept only
// for vaults whose cache policy is CacheFull.
func (s *Store) AppendHistory(ctx context.Context, h model.ItemHistory) error {
	const q = `
INSERT INTO item_history (item_id, version, vault_id, payload_enc, kind, author_id, author_device, created_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(item_id, version) DO NOTHING`
	_, err := s.write.ExecContext(ctx, q,
		h.ItemID.String(), h.Version, h.VaultID.String(), []byte(h.PayloadEnc), string(h.Kind),
		h.AuthorID.String(), h.AuthorDevice.String(), h.CreatedAt)
	return err
}

// ListHistory returns the cached version history of an item, newest first.
func (s *Store) ListHistory(ctx context.Context, itemID uuid.UUID) ([]model.ItemHistory, error) {
	const q = `
SELECT item_id, version, vault_id, payload_enc, kind, author_id, author_device, created_at
FROM item_history WHERE item_id=? ORDER BY version DESC`
	rows, err := s.read.QueryContext(ctx, q, itemID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ItemHistory
	for rows.Next() {
		var h model.ItemHistory
		var id, vaultID, kind, authorID, authorDevice string
		var createdAt time.Time
		if err := rows.Scan(&id, &h.Version, &vaultID, &h.PayloadEnc, &kind, &authorID, &authorDevice, &createdAt); err != nil {
			return nil, err
		}
		if h.ItemID, err = uuid.FromString(id); err != nil {
			return nil, err
		}
		if h.VaultID, err = uuid.FromString(vaultID); err != nil {
			return nil, err
		}
		h.Kind, h.CreatedAt = model.ChangeKind(kind), createdAt
		h.AuthorID, _ = uuid.FromString(authorID)
		h.AuthorDevice, _ = uuid.FromString(authorDevice)
		out = append(out, h)
	}
	return out, rows.Err()
}
