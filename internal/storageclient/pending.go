package storageclient

import (
	"context"
	"database/sql"
	"errors"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
)

// Enqueue records a pending mutation. Per spec.md §4.4 the queue is keyed by
// item id; a subsequent mutation on the same item collapses onto the
// existing entry rather than appending a second one. base_seq is preserved
// from the existing row: it must stay pinned to the earliest un-synced
// edit's base sequence number, not the latest call's, or a push would race
// against intervening server changes it never actually observed.
func (s *Store) Enqueue(ctx context.Context, c model.PendingChange) error {
	const q = `
INSERT INTO pending_changes (item_id, vault_id, kind, payload_enc, base_seq, created_at)
VALUES (?,?,?,?,?,?)
ON CONFLICT(item_id) DO UPDATE SET
	kind=excluded.kind, payload_enc=excluded.payload_enc, base_seq=pending_changes.base_seq`
	_, err := s.write.ExecContext(ctx, q,
		c.ItemID.String(), c.VaultID.String(), string(c.Kind), []byte(c.PayloadEnc), c.BaseSeq, c.CreatedAt)
	return err
}

// Dequeue removes a pending entry once its push has succeeded.
func (s *Store) Dequeue(ctx context.Context, itemID uuid.UUID) error {
	_, err := s.write.ExecContext(ctx, `DELETE FROM pending_changes WHERE item_id=?`, itemID.String())
	return err
}

// ListPending returns queued mutations for a vault, oldest first, as the
// sync engine's push pass requires.
func (s *Store) ListPending(ctx context.Context, vaultID uuid.UUID) ([]model.PendingChange, error) {
	const q = `
SELECT item_id, vault_id, kind, payload_enc, base_seq, created_at
FROM pending_changes WHERE vault_id=? ORDER BY created_at ASC`
	rows, err := s.read.QueryContext(ctx, q, vaultID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PendingChange
	for rows.Next() {
		var c model.PendingChange
		var itemID, vid, kind string
		if err := rows.Scan(&itemID, &vid, &kind, &c.PayloadEnc, &c.BaseSeq, &c.CreatedAt); err != nil {
			return nil, err
		}
		if c.ItemID, err = uuid.FromString(itemID); err != nil {
			return nil, err
		}
		if c.VaultID, err = uuid.FromString(vid); err != nil {
			return nil, err
		}
		c.Kind = model.ChangeKind(kind)
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetPending returns the single queued entry for an item, if any.
func (s *Store) GetPending(ctx context.Context, itemID uuid.UUID) (*model.PendingChange, error) {
	const q = `
SELECT item_id, vault_id, kind, payload_enc, base_seq, created_at
FROM pending_changes WHERE item_id=?`
	var c model.PendingChange
	var id, vid, kind string
	err := s.read.QueryRowContext(ctx, q, itemID.String()).Scan(&id, &vid, &kind, &c.PayloadEnc, &c.BaseSeq, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.New(errs.KindNotFound, "no pending change for item", errs.ErrNotFound)
		}
		return nil, err
	}
	if c.ItemID, err = uuid.FromString(id); err != nil {
		return nil, err
	}
	if c.VaultID, err = uuid.FromString(vid); err != nil {
		return nil, err
	}
	c.Kind = model.ChangeKind(kind)
	return &c, nil
}
