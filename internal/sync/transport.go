package sync

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/model"
)

// Transport is everything the sync engine needs from the storage-server,
// independent of the wire protocol actually used to reach it (HTTP in the
// shipped client).
type Transport interface {
	PushCreate(ctx context.Context, in model.UpsertItem) (model.ItemVersion, error)
	PushUpdate(ctx context.Context, in model.UpsertItem) (model.ItemVersion, error)
	PushDelete(ctx context.Context, vaultID, itemID uuid.UUID, baseSeq int64) (model.ItemVersion, error)
	PushRestore(ctx context.Context, vaultID, itemID uuid.UUID, fromVersion int64) (model.ItemVersion, error)

	// ChangesSince returns the next page of the vault's change feed after
	// sinceSeq, bounded by limit.
	ChangesSince(ctx context.Context, vaultID uuid.UUID, sinceSeq int64, limit int) ([]model.Change, error)

	// GetItem fetches a full item (including payload) for vaults whose
	// cache policy defers payload storage until actually needed.
	GetItem(ctx context.Context, vaultID, itemID uuid.UUID) (*model.Item, error)
}
