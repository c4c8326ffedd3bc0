package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
)

// ItemRepo implements repository.ItemRepository using PostgreSQL, generalizing
// the teacher's flat per-user item table to per-vault items with history and
// a per-vault monotonic change sequence.
type ItemRepo struct{ db *DB }

// NewItemRepo constructs an item repository.
func NewItemRepo(db *DB) *ItemRepo { return &ItemRepo{db: db} }

// Create inserts a new active item at version 1.
func (r *ItemRepo) Create(ctx context.Context, in model.UpsertItem, author uuid.UUID) (result model.ItemVersion, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.ItemVersion{}, err
	}
	defer func() { finish(ctx, tx, &err) }()

	const insItem = `
INSERT INTO items (id, vault_id, path, display_name, type_id, payload_enc, payload_checksum, version, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,1,'active')`
	if _, err = tx.Exec(ctx, insItem, in.ID, in.VaultID, in.Path, in.DisplayName, in.TypeID, []byte(in.PayloadEnc), in.PayloadChecksum); err != nil {
		if isUniqueViolation(err) {
			return model.ItemVersion{}, errs.New(errs.KindConflict, "path already in use", errs.ErrAlreadyExists)
		}
		return model.ItemVersion{}, err
	}

	seq, updatedAt, err := appendChange(ctx, tx, in.VaultID, in.ID, model.ChangeCreate, 1, author)
	if err != nil {
		return model.ItemVersion{}, err
	}
	if err = appendHistory(ctx, tx, in.ID, in.VaultID, 1, in.PayloadEnc, model.ChangeCreate, author); err != nil {
		return model.ItemVersion{}, err
	}
	return model.ItemVersion{ID: in.ID, NewVer: 1, NewSeq: seq, UpdatedAt: updatedAt}, nil
}

// Update applies an optimistic-concurrency update to an existing item.
func (r *ItemRepo) Update(ctx context.Context, in model.UpsertItem, author uuid.UUID) (result model.ItemVersion, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.ItemVersion{}, err
	}
	defer func() { finish(ctx, tx, &err) }()

	const sel = `SELECT version FROM items WHERE id=$1 AND vault_id=$2 AND status != 'tombstone' FOR UPDATE`
	var curVer int64
	if err = tx.QueryRow(ctx, sel, in.ID, in.VaultID).Scan(&curVer); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ItemVersion{}, errs.New(errs.KindNotFound, "item not found", errs.ErrNotFound)
		}
		return model.ItemVersion{}, err
	}
	if curVer != in.BaseSeq {
		return model.ItemVersion{}, errs.New(errs.KindConflict, fmt.Sprintf("base sequence stale: current version %d", curVer), errs.ErrVersionConflict)
	}

	newVer := curVer + 1
	const upd = `UPDATE items SET payload_enc=$3, payload_checksum=$4, display_name=$5, version=$6, status='active', updated_at=now() WHERE id=$1 AND vault_id=$2`
	if _, err = tx.Exec(ctx, upd, in.ID, in.VaultID, []byte(in.PayloadEnc), in.PayloadChecksum, in.DisplayName, newVer); err != nil {
		return model.ItemVersion{}, err
	}

	seq, updatedAt, err := appendChange(ctx, tx, in.VaultID, in.ID, model.ChangeUpdate, newVer, author)
	if err != nil {
		return model.ItemVersion{}, err
	}
	if err = appendHistory(ctx, tx, in.ID, in.VaultID, newVer, in.PayloadEnc, model.ChangeUpdate, author); err != nil {
		return model.ItemVersion{}, err
	}
	return model.ItemVersion{ID: in.ID, NewVer: newVer, NewSeq: seq, UpdatedAt: updatedAt}, nil
}

// Delete tombstones an item.
func (r *ItemRepo) Delete(ctx context.Context, vaultID, itemID, author uuid.UUID, baseSeq int64) (result model.ItemVersion, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.ItemVersion{}, err
	}
	defer func() { finish(ctx, tx, &err) }()

	const sel = `SELECT version FROM items WHERE id=$1 AND vault_id=$2 FOR UPDATE`
	var curVer int64
	if err = tx.QueryRow(ctx, sel, itemID, vaultID).Scan(&curVer); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ItemVersion{}, errs.New(errs.KindNotFound, "item not found", errs.ErrNotFound)
		}
		return model.ItemVersion{}, err
	}
	if curVer != baseSeq {
		return model.ItemVersion{}, errs.New(errs.KindConflict, fmt.Sprintf("base sequence stale: current version %d", curVer), errs.ErrVersionConflict)
	}

	newVer := curVer + 1
	const upd = `UPDATE items SET status='tombstone', version=$3, deleted_at=now(), deleted_by=$4, updated_at=now() WHERE id=$1 AND vault_id=$2`
	if _, err = tx.Exec(ctx, upd, itemID, vaultID, newVer, author); err != nil {
		return model.ItemVersion{}, err
	}

	seq, updatedAt, err := appendChange(ctx, tx, vaultID, itemID, model.ChangeDelete, newVer, author)
	if err != nil {
		return model.ItemVersion{}, err
	}
	if err = appendHistory(ctx, tx, itemID, vaultID, newVer, nil, model.ChangeDelete, author); err != nil {
		return model.ItemVersion{}, err
	}
	return model.ItemVersion{ID: itemID, NewVer: newVer, NewSeq: seq, UpdatedAt: updatedAt}, nil
}

// Restore copies a prior history payload forward as a new active version.
func (r *ItemRepo) Restore(ctx context.Context, vaultID, itemID uuid.UUID, fromVersion int64, author uuid.UUID) (result model.ItemVersion, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.ItemVersion{}, err
	}
	defer func() { finish(ctx, tx, &err) }()

	const selHist = `SELECT payload_enc FROM item_history WHERE item_id=$1 AND version=$2`
	var payload []byte
	if err = tx.QueryRow(ctx, selHist, itemID, fromVersion).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ItemVersion{}, errs.New(errs.KindNotFound, "history version not found", errs.ErrNotFound)
		}
		return model.ItemVersion{}, err
	}

	const sel = `SELECT version FROM items WHERE id=$1 AND vault_id=$2 FOR UPDATE`
	var curVer int64
	if err = tx.QueryRow(ctx, sel, itemID, vaultID).Scan(&curVer); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ItemVersion{}, errs.New(errs.KindNotFound, "item not found", errs.ErrNotFound)
		}
		return model.ItemVersion{}, err
	}
	newVer := curVer + 1

	const upd = `UPDATE items SET payload_enc=$3, version=$4, status='active', deleted_at=NULL, deleted_by=NULL, updated_at=now() WHERE id=$1 AND vault_id=$2`
	if _, err = tx.Exec(ctx, upd, itemID, vaultID, payload, newVer); err != nil {
		return model.ItemVersion{}, err
	}

	seq, updatedAt, err := appendChange(ctx, tx, vaultID, itemID, model.ChangeRestore, newVer, author)
	if err != nil {
		return model.ItemVersion{}, err
	}
	if err = appendHistory(ctx, tx, itemID, vaultID, newVer, model.EncryptedBlob(payload), model.ChangeRestore, author); err != nil {
		return model.ItemVersion{}, err
	}
	return model.ItemVersion{ID: itemID, NewVer: newVer, NewSeq: seq, UpdatedAt: updatedAt}, nil
}

// GetItem returns a single item by id.
func (r *ItemRepo) GetItem(ctx context.Context, vaultID, itemID uuid.UUID) (*model.Item, error) {
	const q = `
SELECT id, vault_id, path, display_name, type_id, payload_enc, payload_checksum, version, status, updated_at
FROM items WHERE vault_id=$1 AND id=$2`
	row := r.db.Pool.QueryRow(ctx, q, vaultID, itemID)
	var it model.Item
	var status string
	if err := row.Scan(&it.ID, &it.VaultID, &it.Path, &it.DisplayName, &it.TypeID, &it.PayloadEnc, &it.PayloadChecksum, &it.Version, &status, &it.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.KindNotFound, "item not found", errs.ErrNotFound)
		}
		return nil, err
	}
	it.Status = model.SyncStatus(status)
	return &it, nil
}

// ListItems returns active items in a vault, paginated.
func (r *ItemRepo) ListItems(ctx context.Context, vaultID uuid.UUID, limit, offset int) ([]model.Item, error) {
	const q = `
SELECT id, vault_id, path, display_name, type_id, payload_enc, payload_checksum, version, status, updated_at
FROM items WHERE vault_id=$1 AND status != 'tombstone'
ORDER BY path ASC LIMIT $2 OFFSET $3`
	rows, err := r.db.Pool.Query(ctx, q, vaultID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Item
	for rows.Next() {
		var it model.Item
		var status string
		if err := rows.Scan(&it.ID, &it.VaultID, &it.Path, &it.DisplayName, &it.TypeID, &it.PayloadEnc, &it.PayloadChecksum, &it.Version, &status, &it.UpdatedAt); err != nil {
			return nil, err
		}
		it.Status = model.SyncStatus(status)
		out = append(out, it)
	}
	return out, rows.Err()
}

// ListHistory returns version history for an item, newest first.
func (r *ItemRepo) ListHistory(ctx context.Context, itemID uuid.UUID, limit int) ([]model.ItemHistory, error) {
	const q = `
SELECT item_id, version, vault_id, payload_enc, kind, author_id, author_device, created_at
FROM item_history WHERE item_id=$1 ORDER BY version DESC LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ItemHistory
	for rows.Next() {
		var h model.ItemHistory
		var kind string
		if err := rows.Scan(&h.ItemID, &h.Version, &h.VaultID, &h.PayloadEnc, &kind, &h.AuthorID, &h.AuthorDevice, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Kind = model.ChangeKind(kind)
		out = append(out, h)
	}
	return out, rows.Err()
}

// GetHistoryVersion returns one specific historical revision.
func (r *ItemRepo) GetHistoryVersion(ctx context.Context, itemID uuid.UUID, version int64) (*model.ItemHistory, error) {
	const q = `
SELECT item_id, version, vault_id, payload_enc, kind, author_id, author_device, created_at
FROM item_history WHERE item_id=$1 AND version=$2`
	row := r.db.Pool.QueryRow(ctx, q, itemID, version)
	var h model.ItemHistory
	var kind string
	if err := row.Scan(&h.ItemID, &h.Version, &h.VaultID, &h.PayloadEnc, &kind, &h.AuthorID, &h.AuthorDevice, &h.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.KindNotFound, "history version not found", errs.ErrNotFound)
		}
		return nil, err
	}
	h.Kind = model.ChangeKind(kind)
	return &h, nil
}

// ChangesSince returns the change feed strictly after sinceSeq, the single
// source of truth for sync ordering within a vault.
func (r *ItemRepo) ChangesSince(ctx context.Context, vaultID uuid.UUID, sinceSeq int64, limit int) ([]model.Change, error) {
	const q = `
SELECT sequence, vault_id, item_id, kind, version, device_id, created_at
FROM changes WHERE vault_id=$1 AND sequence>$2
ORDER BY sequence ASC LIMIT $3`
	rows, err := r.db.Pool.Query(ctx, q, vaultID, sinceSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Change
	for rows.Next() {
		var c model.Change
		var kind string
		var device uuid.NullUUID
		if err := rows.Scan(&c.Sequence, &c.VaultID, &c.ItemID, &kind, &c.Version, &device, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Kind = model.ChangeKind(kind)
		if device.Valid {
			c.DeviceID = device.UUID
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetUploadState transitions an item's file-attachment state, enforcing the
// pending->stored gating spec.md §4.3 requires.
func (r *ItemRepo) SetUploadState(ctx context.Context, itemID uuid.UUID, fileID string, newState model.UploadState) error {
	const sel = `SELECT file_id, upload_state FROM items WHERE id=$1`
	var curFileID, curState string
	if err := r.db.Pool.QueryRow(ctx, sel, itemID).Scan(&curFileID, &curState); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.New(errs.KindNotFound, "item not found", errs.ErrNotFound)
		}
		return err
	}
	if model.UploadState(curState) != model.UploadPending {
		return errs.New(errs.KindUploadStateInvalid, "item is not awaiting upload", errs.ErrUploadStateInvalid)
	}
	if fileID == "" {
		return errs.New(errs.KindFileIDMissing, "file id required", errs.ErrFileIDMissing)
	}
	if curFileID != fileID {
		return errs.New(errs.KindFileIDMismatch, "file id does not match pending upload", errs.ErrFileIDMismatch)
	}

	const upd = `UPDATE items SET upload_state=$2, updated_at=now() WHERE id=$1`
	_, err := r.db.Pool.Exec(ctx, upd, itemID, string(newState))
	return err
}

// PurgeTombstones removes tombstones older than olderThanDays together with
// all of their history: rows older than the newest historyTail versions are
// deleted first, and the remaining rows go with the item through
// item_history's ON DELETE CASCADE.
func (r *ItemRepo) PurgeTombstones(ctx context.Context, olderThanDays, historyTail int) (int64, error) {
	const delHist = `
DELETE FROM item_history h USING items i
WHERE h.item_id = i.id
  AND i.status = 'tombstone'
  AND i.deleted_at < now() - ($1 || ' days')::interval
  AND h.version <= i.version - $2`
	if _, err := r.db.Pool.Exec(ctx, delHist, olderThanDays, historyTail); err != nil {
		return 0, err
	}

	const delItems = `
DELETE FROM items
WHERE status = 'tombstone' AND deleted_at < now() - ($1 || ' days')::interval`
	tag, err := r.db.Pool.Exec(ctx, delItems, olderThanDays)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func appendChange(ctx context.Context, tx pgx.Tx, vaultID, itemID uuid.UUID, kind model.ChangeKind, version int64, device uuid.UUID) (int64, time.Time, error) {
	const ins = `
INSERT INTO changes (vault_id, item_id, kind, version, device_id, created_at)
VALUES ($1,$2,$3,$4,$5,now())
RETURNING sequence, created_at`
	var seq int64
	var ts time.Time
	if err := tx.QueryRow(ctx, ins, vaultID, itemID, string(kind), version, device).Scan(&seq, &ts); err != nil {
		return 0, time.Time{}, err
	}
	return seq, ts, nil
}

func appendHistory(ctx context.Context, tx pgx.Tx, itemID, vaultID uuid.UUID, version int64, payload model.EncryptedBlob, kind model.ChangeKind, author uuid.UUID) error {
	const ins = `
INSERT INTO item_history (item_id, version, vault_id, payload_enc, kind, author_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,now())`
	_, err := tx.Exec(ctx, ins, itemID, version, vaultID, []byte(payload), string(kind), author)
	return err
}

func finish(ctx context.Context, tx pgx.Tx, err *error) {
	if *err != nil {
		_ = tx.Rollback(ctx)
		return
	}
	if e := tx.Commit(ctx); e != nil {
		*err = e
	}
}
