package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/storageclient"
	"github.com/zann-project/zann/internal/sync"
)

// httpTransport implements sync.Transport by calling the HTTP item routes
// built for this vault in internal/httpapi, the CLI-side counterpart to the
// gRPC stubs the teacher drove its sync loop with.
type httpTransport struct {
	c *apiClient
}

func (t *httpTransport) upsertPath(vaultID uuid.UUID, itemID uuid.UUID, create bool) string {
	if create {
		return fmt.Sprintf("/v1/vaults/%s/items", vaultID)
	}
	return fmt.Sprintf("/v1/vaults/%s/items/%s", vaultID, itemID)
}

func (t *httpTransport) push(ctx context.Context, in model.UpsertItem, create bool) (model.ItemVersion, error) {
	body := map[string]any{
		"id": in.ID.String(), "path": in.Path, "display_name": in.DisplayName,
		"type_id": in.TypeID, "base_seq": in.BaseSeq,
		"payload_enc":      base64.StdEncoding.EncodeToString(in.PayloadEnc),
		"payload_checksum": base64.StdEncoding.EncodeToString(in.PayloadChecksum),
	}
	method := http.MethodPut
	if create {
		method = http.MethodPost
	}
	var out itemVersionInfo
	if err := t.c.do(ctx, method, t.upsertPath(in.VaultID, in.ID, create), body, &out); err != nil {
		return model.ItemVersion{}, err
	}
	return toModelVersion(out)
}

func (t *httpTransport) PushCreate(ctx context.Context, in model.UpsertItem) (model.ItemVersion, error) {
	return t.push(ctx, in, true)
}

func (t *httpTransport) PushUpdate(ctx context.Context, in model.UpsertItem) (model.ItemVersion, error) {
	return t.push(ctx, in, false)
}

func (t *httpTransport) PushDelete(ctx context.Context, vaultID, itemID uuid.UUID, baseSeq int64) (model.ItemVersion, error) {
	var out itemVersionInfo
	url := fmt.Sprintf("/v1/vaults/%s/items/%s?base_seq=%d", vaultID, itemID, baseSeq)
	if err := t.c.do(ctx, http.MethodDelete, url, nil, &out); err != nil {
		return model.ItemVersion{}, err
	}
	return toModelVersion(out)
}

func (t *httpTransport) PushRestore(ctx context.Context, vaultID, itemID uuid.UUID, fromVersion int64) (model.ItemVersion, error) {
	var out itemVersionInfo
	url := fmt.Sprintf("/v1/vaults/%s/items/%s/restore", vaultID, itemID)
	if err := t.c.do(ctx, http.MethodPost, url, map[string]any{"from_version": fromVersion}, &out); err != nil {
		return model.ItemVersion{}, err
	}
	return toModelVersion(out)
}

func (t *httpTransport) ChangesSince(ctx context.Context, vaultID uuid.UUID, sinceSeq int64, limit int) ([]model.Change, error) {
	var out []changeInfo
	url := fmt.Sprintf("/v1/vaults/%s/changes?since=%d&limit=%d", vaultID, sinceSeq, limit)
	if err := t.c.do(ctx, http.MethodGet, url, nil, &out); err != nil {
		return nil, err
	}
	changes := make([]model.Change, 0, len(out))
	for _, c := range out {
		itemID, err := uuid.FromString(c.ItemID)
		if err != nil {
			return nil, err
		}
		createdAt, _ := time.Parse(timeLayout, c.CreatedAt)
		changes = append(changes, model.Change{
			Sequence: c.Sequence, VaultID: vaultID, ItemID: itemID,
			Kind: model.ChangeKind(c.Kind), Version: c.Version, CreatedAt: createdAt,
		})
	}
	return changes, nil
}

func (t *httpTransport) GetItem(ctx context.Context, vaultID, itemID uuid.UUID) (*model.Item, error) {
	var it itemInfo
	url := fmt.Sprintf("/v1/vaults/%s/items/%s", vaultID, itemID)
	if err := t.c.do(ctx, http.MethodGet, url, nil, &it); err != nil {
		return nil, err
	}
	payload, err := base64.StdEncoding.DecodeString(it.PayloadEnc)
	if err != nil {
		return nil, err
	}
	checksum, _ := base64.StdEncoding.DecodeString(it.PayloadChecksum)
	updatedAt, _ := time.Parse(timeLayout, it.UpdatedAt)
	return &model.Item{
		ID: itemID, VaultID: vaultID, Path: it.Path, DisplayName: it.DisplayName,
		TypeID: it.TypeID, PayloadEnc: payload, PayloadChecksum: checksum,
		Version: it.Version, Status: model.SyncStatus(it.Status), UpdatedAt: updatedAt,
	}, nil
}

type itemInfo struct {
	ID              string `json:"id"`
	VaultID         string `json:"vault_id"`
	Path            string `json:"path"`
	DisplayName     string `json:"display_name"`
	TypeID          string `json:"type_id"`
	PayloadEnc      string `json:"payload_enc"`
	PayloadChecksum string `json:"payload_checksum"`
	Version         int64  `json:"version"`
	Status          string `json:"status"`
	UpdatedAt       string `json:"updated_at"`
}

type changeInfo struct {
	Sequence  int64  `json:"sequence"`
	ItemID    string `json:"item_id"`
	Kind      string `json:"kind"`
	Version   int64  `json:"version"`
	CreatedAt string `json:"created_at"`
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func toModelVersion(out itemVersionInfo) (model.ItemVersion, error) {
	id, err := uuid.FromString(out.ID)
	if err != nil {
		return model.ItemVersion{}, err
	}
	updatedAt, _ := time.Parse(timeLayout, out.UpdatedAt)
	return model.ItemVersion{ID: id, NewVer: out.NewVer, NewSeq: out.NewSeq, UpdatedAt: updatedAt}, nil
}

// cachePath returns the path to this storage's local SQLite cache file.
func cachePath() string {
	return filepath.Join(cfgDir(), "cache.db")
}

// cmdSync runs one push-then-pull pass against the named vault's local
// cache, provisioning the cache's storage/vault rows on first use.
func cmdSync(ctx context.Context, api *apiClient, args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	vaultSlug := fs.String("vault", "personal", "vault slug")
	_ = fs.Parse(args)

	c, tf, err := authedClient(api.base, false)
	if err != nil {
		fail(err)
	}
	v, err := resolveVault(ctx, c, *vaultSlug)
	if err != nil {
		fail(err)
	}
	vaultKey, err := vaultKeyFor(v)
	if err != nil {
		fail(err)
	}

	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		fail(err)
	}
	store, err := storageclient.Open(ctx, cachePath())
	if err != nil {
		fail(err)
	}
	defer store.Close()

	storageID, err := uuid.FromString(tf.UserID)
	if err != nil {
		fail(err)
	}
	vaultID, err := uuid.FromString(v.ID)
	if err != nil {
		fail(err)
	}

	if err := store.UpsertStorage(ctx, model.Storage{
		ID: storageID, Kind: model.StorageRemote, ServerURL: api.base,
		PersonalVaultsEnable: true,
	}); err != nil {
		fail(err)
	}
	if err := store.UpsertVault(ctx, model.CachedVault{
		Vault: model.Vault{
			ID: vaultID, StorageID: storageID, Name: v.Name, Slug: v.Slug, Tags: v.Tags,
			Kind: model.VaultKind(v.Kind), Encryption: model.EncryptionType(v.Encryption),
			CachePolicy: model.CachePolicy(v.CachePolicy), Default: v.Default,
		},
		UnwrappedKey: vaultKey,
	}); err != nil {
		fail(err)
	}

	engine := sync.NewEngine(store, &httpTransport{c: c}, 200)
	engine.Notify = func(status sync.StorageStatus) {
		fmt.Fprintf(os.Stderr, "sync status: %s\n", status)
	}
	if err := engine.RunOnce(ctx, storageID, vaultID); err != nil {
		fail(err)
	}

	items, err := store.ListItems(ctx, vaultID)
	if err != nil {
		fail(err)
	}
	fmt.Printf("synced %d item(s) in vault %s\n", len(items), v.Slug)
}
