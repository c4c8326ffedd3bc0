package storageclient

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/model"
)

// GetCursor returns a vault's sync bookmark, or the zero cursor if the vault
// has never been synced.
func (s *Store) GetCursor(ctx context.Context, storageID, vaultID uuid.UUID) (model.SyncCursor, error) {
	const q = `SELECT last_seq, last_synced_at FROM sync_cursors WHERE storage_id=? AND vault_id=?`
	var seq int64
	var syncedAt sql.NullTime
	err := s.read.QueryRowContext(ctx, q, storageID.String(), vaultID.String()).Scan(&seq, &syncedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.SyncCursor{StorageID: storageID, VaultID: vaultID}, nil
	case err != nil:
		return model.SyncCursor{}, err
	}
	c := model.SyncCursor{StorageID: storageID, VaultID: vaultID, LastSeq: seq}
	if syncedAt.Valid {
		c.LastSyncedAt = syncedAt.Time
	}
	return c, nil
}

// AdvanceCursor persists a vault's new bookmark. Per spec.md §4.5 this is
// only called after a full pull batch has been durably applied.
func (s *Store) AdvanceCursor(ctx context.Context, storageID, vaultID uuid.UUID, lastSeq int64, at time.Time) error {
	const q = `
INSERT INTO sync_cursors (storage_id, vault_id, last_seq, last_synced_at)
VALUES (?,?,?,?)
ON CONFLICT(storage_id, vault_id) DO UPDATE SET last_seq=excluded.last_seq, last_synced_at=excluded.last_synced_at`
	_, err := s.write.ExecContext(ctx, q, storageID.String(), vaultID.String(), lastSeq, at)
	return err
}
