// Package sync implements the client-side sync engine: a cancellation-aware
// push-then-pull pass per (storage, vault), reconciling the local cache
// against the storage-server's authoritative change feed.
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/storageclient"
)

// StorageStatus mirrors the UI-facing status the engine reports after a
// pass, per spec.md §4.5's offline/session-expired surfacing.
type StorageStatus string

const (
	StatusOK             StorageStatus = "ok"
	StatusOffline        StorageStatus = "offline"
	StatusSessionExpired StorageStatus = "session-expired"
)

// Engine runs sync passes for a single storage/vault pair against its cache.
type Engine struct {
	store     *storageclient.Store
	transport Transport
	pageSize  int

	// Notify reports a storage-wide status transition; nil is allowed.
	Notify func(status StorageStatus)
}

// NewEngine constructs a sync Engine with a pull page size.
func NewEngine(store *storageclient.Store, transport Transport, pageSize int) *Engine {
	if pageSize <= 0 {
		pageSize = 200
	}
	return &Engine{store: store, transport: transport, pageSize: pageSize}
}

// Run wraps RunOnce with exponential backoff and jitter on transient
// transport failure, per spec.md §4.5. Auth failures are not retried: the
// engine reports session-expired and returns immediately so the caller can
// trigger a credential refresh.
func (e *Engine) Run(ctx context.Context, storageID, vaultID uuid.UUID) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // bounded instead by ctx cancellation

	operation := func() error {
		err := e.RunOnce(ctx, storageID, vaultID)
		if err == nil {
			e.notify(StatusOK)
			return nil
		}
		var e2 *errs.Error
		if errors.As(err, &e2) {
			switch e2.Kind {
			case errs.KindUnauthenticated, errs.KindSessionExpired:
				e.notify(StatusSessionExpired)
				return backoff.Permanent(err)
			case errs.KindServerUnreachable, errs.KindTimeout, errs.KindTransient:
				e.notify(StatusOffline)
				return err
			}
		}
		return backoff.Permanent(err)
	}
	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}

// RunOnce performs exactly one push-then-pull pass: drain the local push
// queue oldest-first, then pull and apply the server's change feed in
// page-bounded batches, advancing the cursor only after each batch is fully
// applied. It checks ctx between batches and between items within a batch.
func (e *Engine) RunOnce(ctx context.Context, storageID, vaultID uuid.UUID) error {
	if err := e.push(ctx, vaultID); err != nil {
		return err
	}
	if err := e.pull(ctx, storageID, vaultID); err != nil {
		return err
	}
	return nil
}

func (e *Engine) push(ctx context.Context, vaultID uuid.UUID) error {
	pending, err := e.store.ListPending(ctx, vaultID)
	if err != nil {
		return err
	}
	for _, pc := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.pushOne(ctx, pc); err != nil {
			var e2 *errs.Error
			if errors.As(err, &e2) && e2.Kind == errs.KindConflict {
				if mErr := e.store.MarkStatus(ctx, pc.ItemID, model.StatusConflict); mErr != nil {
					return mErr
				}
				continue // stop pushing this item only; move on to the next
			}
			return err
		}
	}
	return nil
}

func (e *Engine) pushOne(ctx context.Context, pc model.PendingChange) error {
	cached, err := e.store.GetItem(ctx, pc.ItemID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}

	var ver model.ItemVersion
	switch pc.Kind {
	case model.ChangeCreate:
		in := model.UpsertItem{ID: pc.ItemID, VaultID: pc.VaultID, PayloadEnc: pc.PayloadEnc, BaseSeq: pc.BaseSeq}
		if cached != nil {
			in.Path, in.DisplayName, in.TypeID, in.PayloadChecksum = cached.Path, cached.DisplayName, cached.TypeID, cached.PayloadChecksum
		}
		ver, err = e.transport.PushCreate(ctx, in)
	case model.ChangeUpdate:
		in := model.UpsertItem{ID: pc.ItemID, VaultID: pc.VaultID, PayloadEnc: pc.PayloadEnc, BaseSeq: pc.BaseSeq}
		if cached != nil {
			in.Path, in.DisplayName, in.TypeID, in.PayloadChecksum = cached.Path, cached.DisplayName, cached.TypeID, cached.PayloadChecksum
		}
		ver, err = e.transport.PushUpdate(ctx, in)
	case model.ChangeDelete:
		ver, err = e.transport.PushDelete(ctx, pc.VaultID, pc.ItemID, pc.BaseSeq)
	case model.ChangeRestore:
		ver, err = e.transport.PushRestore(ctx, pc.VaultID, pc.ItemID, pc.BaseSeq)
	}
	if err != nil {
		return err
	}

	if err := e.store.Dequeue(ctx, pc.ItemID); err != nil {
		return err
	}
	if cached == nil {
		return nil
	}
	cached.Version, cached.RowVersion, cached.UpdatedAt = ver.NewVer, ver.NewSeq, ver.UpdatedAt
	cached.Status = model.StatusActive
	return e.store.UpsertItem(ctx, *cached)
}

func (e *Engine) pull(ctx context.Context, storageID, vaultID uuid.UUID) error {
	vault, err := e.store.GetVault(ctx, vaultID)
	if err != nil {
		return err
	}
	cursor, err := e.store.GetCursor(ctx, storageID, vaultID)
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := e.transport.ChangesSince(ctx, vaultID, cursor.LastSeq, e.pageSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		for _, ch := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.applyChange(ctx, vault.CachePolicy, ch); err != nil {
				return err
			}
		}

		cursor.LastSeq = batch[len(batch)-1].Sequence
		if err := e.store.AdvanceCursor(ctx, storageID, vaultID, cursor.LastSeq, time.Now()); err != nil {
			return err
		}
		if len(batch) < e.pageSize {
			return nil
		}
	}
}

func (e *Engine) applyChange(ctx context.Context, policy model.CachePolicy, ch model.Change) error {
	local, err := e.store.GetItem(ctx, ch.ItemID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	if local != nil && (local.Status == model.StatusConflict || local.Status == model.StatusModified) {
		local.Version = ch.Version
		return e.store.UpsertItem(ctx, *local)
	}

	if policy == model.CacheNone {
		return nil
	}

	item, err := e.transport.GetItem(ctx, ch.VaultID, ch.ItemID)
	if err != nil {
		return err
	}
	cached := model.CachedItem{Item: *item}
	if policy == model.CacheMetadataOnly {
		cached.PayloadEnc = nil
		cached.PayloadChecksum = nil
	}
	if ch.Kind == model.ChangeDelete {
		cached.Status = model.StatusTombstone
	}
	return e.store.UpsertItem(ctx, cached)
}

func (e *Engine) notify(status StorageStatus) {
	if e.Notify != nil {
		e.Notify(status)
	}
}
