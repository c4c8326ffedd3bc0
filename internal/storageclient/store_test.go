package storageclient

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/zann-project/zann/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_VaultRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	storageID := uuid.Must(uuid.NewV4())
	require.NoError(t, s.UpsertStorage(ctx, model.Storage{ID: storageID, Kind: model.StorageRemote, ServerURL: "https://zann.example", CreatedAt: time.Now()}))

	v := model.CachedVault{Vault: model.Vault{
		ID: uuid.Must(uuid.NewV4()), StorageID: storageID, Name: "Personal", Slug: "personal",
		Tags: []string{"default"}, Kind: model.VaultPersonal, Encryption: model.EncryptionClient,
		WrappedKey: []byte{1, 2, 3}, CachePolicy: model.CacheFull, Default: true, RowVersion: 1, CreatedAt: time.Now(),
	}}
	require.NoError(t, s.UpsertVault(ctx, v))
	require.NoError(t, s.SetUnwrappedKey(ctx, v.ID, []byte("dek")))

	got, err := s.GetVault(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, "Personal", got.Name)
	require.Equal(t, []byte("dek"), got.UnwrappedKey)
	require.Equal(t, []string{"default"}, got.Tags)

	bySlug, err := s.GetVaultBySlug(ctx, storageID, "personal")
	require.NoError(t, err)
	require.Equal(t, v.ID, bySlug.ID)

	list, err := s.ListVaults(ctx, storageID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = s.GetVault(ctx, uuid.Must(uuid.NewV4()))
	require.Error(t, err)
}

func TestStore_ItemAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	vaultID := uuid.Must(uuid.NewV4())
	itemID := uuid.Must(uuid.NewV4())

	it := model.CachedItem{Item: model.Item{
		ID: itemID, VaultID: vaultID, Path: "passwords/bank", DisplayName: "Bank",
		PayloadEnc: model.EncryptedBlob{1, 2}, PayloadChecksum: []byte{9}, Version: 1,
		Status: model.StatusActive, UpdatedAt: time.Now(),
	}}
	require.NoError(t, s.UpsertItem(ctx, it))

	got, err := s.GetItem(ctx, itemID)
	require.NoError(t, err)
	require.Equal(t, "passwords/bank", got.Path)

	list, err := s.ListItems(ctx, vaultID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.MarkStatus(ctx, itemID, model.StatusConflict))
	got, err = s.GetItem(ctx, itemID)
	require.NoError(t, err)
	require.Equal(t, model.StatusConflict, got.Status)

	h := model.ItemHistory{ItemID: itemID, Version: 1, VaultID: vaultID, PayloadEnc: model.EncryptedBlob{1}, Kind: model.ChangeCreate, CreatedAt: time.Now()}
	require.NoError(t, s.AppendHistory(ctx, h))
	hist, err := s.ListHistory(ctx, itemID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
}

func TestStore_PendingQueueCollapsesByItemID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	vaultID := uuid.Must(uuid.NewV4())
	itemID := uuid.Must(uuid.NewV4())

	require.NoError(t, s.Enqueue(ctx, model.PendingChange{ItemID: itemID, VaultID: vaultID, Kind: model.ChangeCreate, BaseSeq: 0, CreatedAt: time.Now()}))
	require.NoError(t, s.Enqueue(ctx, model.PendingChange{ItemID: itemID, VaultID: vaultID, Kind: model.ChangeUpdate, BaseSeq: 1, CreatedAt: time.Now()}))

	list, err := s.ListPending(ctx, vaultID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, model.ChangeUpdate, list[0].Kind)
	require.Equal(t, int64(0), list[0].BaseSeq)

	require.NoError(t, s.Dequeue(ctx, itemID))
	_, err = s.GetPending(ctx, itemID)
	require.Error(t, err)
}

func TestStore_CursorAdvance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	storageID := uuid.Must(uuid.NewV4())
	vaultID := uuid.Must(uuid.NewV4())

	c, err := s.GetCursor(ctx, storageID, vaultID)
	require.NoError(t, err)
	require.Equal(t, int64(0), c.LastSeq)

	require.NoError(t, s.AdvanceCursor(ctx, storageID, vaultID, 42, time.Now()))
	c, err = s.GetCursor(ctx, storageID, vaultID)
	require.NoError(t, err)
	require.Equal(t, int64(42), c.LastSeq)
}
