package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
)

// ItemService defines operations over vault-scoped encrypted items with
// optimistic-concurrency versioning.
type ItemService interface {
	// Create inserts a new active item.
	Create(ctx context.Context, in model.UpsertItem, author uuid.UUID) (model.ItemVersion, error)
	// Update applies a versioned change against BaseSeq.
	Update(ctx context.Context, in model.UpsertItem, author uuid.UUID) (model.ItemVersion, error)
	// Delete tombstones an item.
	Delete(ctx context.Context, vaultID, itemID, author uuid.UUID, baseSeq int64) (model.ItemVersion, error)
	// Restore reverses a tombstone from a prior history version.
	Restore(ctx context.Context, vaultID, itemID uuid.UUID, fromVersion int64, author uuid.UUID) (model.ItemVersion, error)
	// GetOne returns a single item.
	GetOne(ctx context.Context, vaultID, itemID uuid.UUID) (*model.Item, error)
	// List returns active items in a vault, paginated.
	List(ctx context.Context, vaultID uuid.UUID, limit, offset int) ([]model.Item, error)
	// ListHistory returns version history, newest first.
	ListHistory(ctx context.Context, itemID uuid.UUID, limit int) ([]model.ItemHistory, error)
	// GetHistoryVersion returns one specific historical revision.
	GetHistoryVersion(ctx context.Context, itemID uuid.UUID, version int64) (*model.ItemHistory, error)
	// ChangesSince returns the change feed after sinceSeq, bounded by limit.
	ChangesSince(ctx context.Context, vaultID uuid.UUID, sinceSeq int64, limit int) ([]model.Change, error)
	// SetUploadState transitions a file attachment's upload state.
	SetUploadState(ctx context.Context, itemID uuid.UUID, fileID string, newState model.UploadState) error
}

type ItemServiceImpl struct {
	repo        repository.ItemRepository
	maxPageSize int
}

// NewItemService constructs ItemService with a pagination cap.
func NewItemService(repo repository.ItemRepository, maxPageSize int) *ItemServiceImpl {
	if maxPageSize <= 0 {
		maxPageSize = 200
	}
	return &ItemServiceImpl{repo: repo, maxPageSize: maxPageSize}
}

// validatePath enforces the syntactic rules spec.md §3 places on item paths:
// segmented, no leading dot, no "..", max 500 chars.
func validatePath(path string) error {
	if path == "" || len(path) > 500 {
		return errs.New(errs.KindPathInvalid, "path must be 1-500 chars", errs.ErrPathInvalid)
	}
	if strings.HasPrefix(path, ".") {
		return errs.New(errs.KindPathInvalid, "path must not start with a dot", errs.ErrPathInvalid)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return errs.New(errs.KindPathInvalid, "path must not contain \"..\" segments", errs.ErrPathInvalid)
		}
	}
	return nil
}

func validateUpsert(in model.UpsertItem, requirePath bool) error {
	if in.VaultID == uuid.Nil {
		return errs.New(errs.KindPathInvalid, "vault id required", errs.ErrInvalidPayload)
	}
	if requirePath {
		if err := validatePath(in.Path); err != nil {
			return err
		}
	}
	if len(in.DisplayName) > 200 {
		return errs.New(errs.KindInvalidPayload, "display name exceeds 200 chars", errs.ErrInvalidPayload)
	}
	if len(in.PayloadEnc) == 0 {
		return errs.New(errs.KindPayloadEncRequire, "encrypted payload required", errs.ErrInvalidPayload)
	}
	if len(in.PayloadChecksum) == 0 {
		return errs.New(errs.KindChecksumRequired, "payload checksum required", errs.ErrInvalidPayload)
	}
	return nil
}

// Create inserts a new active item at version 1.
func (s *ItemServiceImpl) Create(ctx context.Context, in model.UpsertItem, author uuid.UUID) (model.ItemVersion, error) {
	if in.ID == uuid.Nil {
		return model.ItemVersion{}, errs.New(errs.KindInvalidPayload, "item id required", errs.ErrInvalidPayload)
	}
	if err := validateUpsert(in, true); err != nil {
		return model.ItemVersion{}, err
	}
	return s.repo.Create(ctx, in, author)
}

// Update applies a versioned change against BaseSeq.
func (s *ItemServiceImpl) Update(ctx context.Context, in model.UpsertItem, author uuid.UUID) (model.ItemVersion, error) {
	if in.ID == uuid.Nil {
		return model.ItemVersion{}, errs.New(errs.KindInvalidPayload, "item id required", errs.ErrInvalidPayload)
	}
	if in.BaseSeq < 0 {
		return model.ItemVersion{}, errs.New(errs.KindInvalidPayload, "negative base sequence", errs.ErrInvalidPayload)
	}
	if err := validateUpsert(in, in.Path != ""); err != nil {
		return model.ItemVersion{}, err
	}
	return s.repo.Update(ctx, in, author)
}

// Delete tombstones an item.
func (s *ItemServiceImpl) Delete(ctx context.Context, vaultID, itemID, author uuid.UUID, baseSeq int64) (model.ItemVersion, error) {
	if vaultID == uuid.Nil || itemID == uuid.Nil {
		return model.ItemVersion{}, errs.New(errs.KindInvalidPayload, "vault/item id required", errs.ErrInvalidPayload)
	}
	if baseSeq < 0 {
		return model.ItemVersion{}, errs.New(errs.KindInvalidPayload, "negative base sequence", errs.ErrInvalidPayload)
	}
	return s.repo.Delete(ctx, vaultID, itemID, author, baseSeq)
}

// Restore reverses a tombstone from a prior history version.
func (s *ItemServiceImpl) Restore(ctx context.Context, vaultID, itemID uuid.UUID, fromVersion int64, author uuid.UUID) (model.ItemVersion, error) {
	if vaultID == uuid.Nil || itemID == uuid.Nil {
		return model.ItemVersion{}, errs.New(errs.KindInvalidPayload, "vault/item id required", errs.ErrInvalidPayload)
	}
	if fromVersion <= 0 {
		return model.ItemVersion{}, errs.New(errs.KindInvalidPayload, "history version must be positive", errs.ErrInvalidPayload)
	}
	return s.repo.Restore(ctx, vaultID, itemID, fromVersion, author)
}

// GetOne returns a single item.
func (s *ItemServiceImpl) GetOne(ctx context.Context, vaultID, itemID uuid.UUID) (*model.Item, error) {
	if vaultID == uuid.Nil || itemID == uuid.Nil {
		return nil, errs.New(errs.KindInvalidPayload, "vault/item id required", errs.ErrInvalidPayload)
	}
	return s.repo.GetItem(ctx, vaultID, itemID)
}

// List returns active items in a vault, clamping limit to the configured maximum.
func (s *ItemServiceImpl) List(ctx context.Context, vaultID uuid.UUID, limit, offset int) ([]model.Item, error) {
	if vaultID == uuid.Nil {
		return nil, errs.New(errs.KindInvalidPayload, "vault id required", errs.ErrInvalidPayload)
	}
	if limit <= 0 || limit > s.maxPageSize {
		limit = s.maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListItems(ctx, vaultID, limit, offset)
}

// ListHistory returns version history, newest first.
func (s *ItemServiceImpl) ListHistory(ctx context.Context, itemID uuid.UUID, limit int) ([]model.ItemHistory, error) {
	if itemID == uuid.Nil {
		return nil, errs.New(errs.KindInvalidPayload, "item id required", errs.ErrInvalidPayload)
	}
	if limit <= 0 || limit > s.maxPageSize {
		limit = s.maxPageSize
	}
	return s.repo.ListHistory(ctx, itemID, limit)
}

// GetHistoryVersion returns one specific historical revision.
func (s *ItemServiceImpl) GetHistoryVersion(ctx context.Context, itemID uuid.UUID, version int64) (*model.ItemHistory, error) {
	if itemID == uuid.Nil || version <= 0 {
		return nil, errs.New(errs.KindInvalidPayload, "item id and positive version required", errs.ErrInvalidPayload)
	}
	return s.repo.GetHistoryVersion(ctx, itemID, version)
}

// ChangesSince returns the change feed after sinceSeq, clamping limit to the
// configured maximum page size.
func (s *ItemServiceImpl) ChangesSince(ctx context.Context, vaultID uuid.UUID, sinceSeq int64, limit int) ([]model.Change, error) {
	if vaultID == uuid.Nil {
		return nil, errs.New(errs.KindInvalidPayload, "vault id required", errs.ErrInvalidPayload)
	}
	if sinceSeq < 0 {
		return nil, errs.New(errs.KindInvalidPayload, "negative cursor", errs.ErrInvalidPayload)
	}
	if limit <= 0 || limit > s.maxPageSize {
		limit = s.maxPageSize
	}
	return s.repo.ChangesSince(ctx, vaultID, sinceSeq, limit)
}

// SetUploadState transitions a file attachment's upload state.
func (s *ItemServiceImpl) SetUploadState(ctx context.Context, itemID uuid.UUID, fileID string, newState model.UploadState) error {
	if itemID == uuid.Nil {
		return errs.New(errs.KindInvalidPayload, "item id required", errs.ErrInvalidPayload)
	}
	if newState != model.UploadStored {
		return fmt.Errorf("unsupported upload state transition: %s", newState)
	}
	return s.repo.SetUploadState(ctx, itemID, fileID, newState)
}
