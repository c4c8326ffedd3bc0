package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"
	"github.com/zann-project/zann/internal/model"
)

// ItemRepository provides versioned access to encrypted items within a vault.
type ItemRepository interface {
	// Create inserts a new active item at version 1. Returns errs.ErrAlreadyExists
	// if an active item already occupies that (vault, path).
	Create(ctx context.Context, item model.UpsertItem, author uuid.UUID) (model.ItemVersion, error)

	// Update applies a versioned change using optimistic concurrency on BaseSeq.
	// Returns errs.ErrVersionConflict (carrying the current version) on mismatch.
	Update(ctx context.Context, item model.UpsertItem, author uuid.UUID) (model.ItemVersion, error)

	// Delete tombstones an item, recording the deleting principal.
	Delete(ctx context.Context, vaultID, itemID, author uuid.UUID, baseSeq int64) (model.ItemVersion, error)

	// Restore reverses a tombstone, copying a prior history payload forward
	// as a new version.
	Restore(ctx context.Context, vaultID, itemID uuid.UUID, fromVersion int64, author uuid.UUID) (model.ItemVersion, error)

	// GetItem returns a single item by id.
	GetItem(ctx context.Context, vaultID, itemID uuid.UUID) (*model.Item, error)

	// ListItems returns active items in a vault, paginated.
	ListItems(ctx context.Context, vaultID uuid.UUID, limit int, offset int) ([]model.Item, error)

	// ListHistory returns the version history of an item, newest first.
	ListHistory(ctx context.Context, itemID uuid.UUID, limit int) ([]model.ItemHistory, error)

	// GetHistoryVersion returns one specific historical revision.
	GetHistoryVersion(ctx context.Context, itemID uuid.UUID, version int64) (*model.ItemHistory, error)

	// ChangesSince returns the per-vault change feed strictly after sinceSeq,
	// bounded by limit.
	ChangesSince(ctx context.Context, vaultID uuid.UUID, sinceSeq int64, limit int) ([]model.Change, error)

	// SetUploadState transitions an item's file-attachment state, enforcing
	// the pending->stored gating of spec.md §4.3.
	SetUploadState(ctx context.Context, itemID uuid.UUID, fileID string, newState model.UploadState) error

	// PurgeTombstones removes tombstoned items older than olderThanDays
	// together with all of their history rows.
	PurgeTombstones(ctx context.Context, olderThanDays int, historyTail int) (int64, error)
}
