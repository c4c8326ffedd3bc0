package service

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
)

type fakeItemRepo struct {
	createIn  model.UpsertItem
	createOut model.ItemVersion
	createErr error

	updateIn  model.UpsertItem
	updateOut model.ItemVersion
	updateErr error

	delInVault uuid.UUID
	delInID    uuid.UUID
	delInBase  int64
	delOut     model.ItemVersion
	delErr     error

	restoreOut model.ItemVersion
	restoreErr error

	getInVault uuid.UUID
	getInID    uuid.UUID
	getOut     *model.Item
	getErr     error

	listOut []model.Item
	listErr error

	historyOut []model.ItemHistory
	historyErr error

	historyVersionOut *model.ItemHistory
	historyVersionErr error

	chInVault uuid.UUID
	chInSince int64
	chInLimit int
	chOut     []model.Change
	chErr     error

	uploadErr error
}

var _ repository.ItemRepository = (*fakeItemRepo)(nil)

func (f *fakeItemRepo) Create(_ context.Context, item model.UpsertItem, _ uuid.UUID) (model.ItemVersion, error) {
	f.createIn = item
	return f.createOut, f.createErr
}
func (f *fakeItemRepo) Update(_ context.Context, item model.UpsertItem, _ uuid.UUID) (model.ItemVersion, error) {
	f.updateIn = item
	return f.updateOut, f.updateErr
}
func (f *fakeItemRepo) Delete(_ context.Context, vaultID, itemID, _ uuid.UUID, baseSeq int64) (model.ItemVersion, error) {
	f.delInVault, f.delInID, f.delInBase = vaultID, itemID, baseSeq
	return f.delOut, f.delErr
}
func (f *fakeItemRepo) Restore(_ context.Context, _, _ uuid.UUID, _ int64, _ uuid.UUID) (model.ItemVersion, error) {
	return f.restoreOut, f.restoreErr
}
func (f *fakeItemRepo) GetItem(_ context.Context, vaultID, itemID uuid.UUID) (*model.Item, error) {
	f.getInVault, f.getInID = vaultID, itemID
	return f.getOut, f.getErr
}
func (f *fakeItemRepo) ListItems(_ context.Context, _ uuid.UUID, _ int, _ int) ([]model.Item, error) {
	return f.listOut, f.listErr
}
func (f *fakeItemRepo) ListHistory(_ context.Context, _ uuid.UUID, _ int) ([]model.ItemHistory, error) {
	return f.historyOut, f.historyErr
}
func (f *fakeItemRepo) GetHistoryVersion(_ context.Context, _ uuid.UUID, _ int64) (*model.ItemHistory, error) {
	return f.historyVersionOut, f.historyVersionErr
}
func (f *fakeItemRepo) ChangesSince(_ context.Context, vaultID uuid.UUID, sinceSeq int64, limit int) ([]model.Change, error) {
	f.chInVault, f.chInSince, f.chInLimit = vaultID, sinceSeq, limit
	return f.chOut, f.chErr
}
func (f *fakeItemRepo) SetUploadState(_ context.Context, _ uuid.UUID, _ string, _ model.UploadState) error {
	return f.uploadErr
}
func (f *fakeItemRepo) PurgeTombstones(_ context.Context, _ int, _ int) (int64, error) {
	return 0, nil
}

func TestNewItemService_DefaultMaxPageSize(t *testing.T) {
	s := NewItemService(&fakeItemRepo{}, 0)
	if s.maxPageSize != 200 {
		t.Fatalf("default maxPageSize want 200, got %d", s.maxPageSize)
	}
}

func validUpsert(vaultID, id uuid.UUID) model.UpsertItem {
	return model.UpsertItem{
		ID: id, VaultID: vaultID, Path: "passwords/bank", DisplayName: "Bank",
		PayloadEnc: model.EncryptedBlob{1, 2, 3}, PayloadChecksum: []byte{9},
	}
}

func TestItemService_Create_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := &fakeItemRepo{}
	s := NewItemService(repo, 10)
	author := uuid.Must(uuid.NewV4())
	vaultID := uuid.Must(uuid.NewV4())
	id := uuid.Must(uuid.NewV4())

	if _, err := s.Create(ctx, model.UpsertItem{}, author); err == nil {
		t.Fatalf("want validation error on empty item id")
	}
	in := validUpsert(vaultID, id)
	in.VaultID = uuid.Nil
	if _, err := s.Create(ctx, in, author); err == nil {
		t.Fatalf("want validation error on empty vault id")
	}

	bad := validUpsert(vaultID, id)
	bad.Path = "../escape"
	if _, err := s.Create(ctx, bad, author); err == nil {
		t.Fatalf("want validation error on dotdot path")
	}

	bad = validUpsert(vaultID, id)
	bad.PayloadEnc = nil
	if _, err := s.Create(ctx, bad, author); err == nil {
		t.Fatalf("want validation error on empty payload")
	}

	repo.createOut = model.ItemVersion{ID: id, NewVer: 1, NewSeq: 1}
	out, err := s.Create(ctx, validUpsert(vaultID, id), author)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if out.NewVer != 1 || repo.createIn.ID != id {
		t.Fatalf("unexpected create result: %+v", out)
	}
}

func TestItemService_Update_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := &fakeItemRepo{}
	s := NewItemService(repo, 10)
	author := uuid.Must(uuid.NewV4())
	vaultID := uuid.Must(uuid.NewV4())
	id := uuid.Must(uuid.NewV4())

	in := validUpsert(vaultID, id)
	in.Path = ""
	in.BaseSeq = -1
	if _, err := s.Update(ctx, in, author); err == nil {
		t.Fatalf("want validation error on negative base sequence")
	}

	repo.updateOut = model.ItemVersion{ID: id, NewVer: 2, NewSeq: 5}
	in = validUpsert(vaultID, id)
	in.Path = "" // path optional on update when unchanged
	in.BaseSeq = 1
	out, err := s.Update(ctx, in, author)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if out.NewVer != 2 || repo.updateIn.BaseSeq != 1 {
		t.Fatalf("unexpected update result: %+v", out)
	}
}

func TestItemService_Delete_ValidationAndDelegate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := &fakeItemRepo{delOut: model.ItemVersion{ID: uuid.Must(uuid.NewV4()), NewVer: 11}}
	s := NewItemService(repo, 10)

	vaultID := uuid.Must(uuid.NewV4())
	id := uuid.Must(uuid.NewV4())
	author := uuid.Must(uuid.NewV4())

	if _, err := s.Delete(ctx, uuid.Nil, id, author, 0); err == nil {
		t.Fatalf("want validation error on empty vault id")
	}
	if _, err := s.Delete(ctx, vaultID, uuid.Nil, author, 0); err == nil {
		t.Fatalf("want validation error on empty item id")
	}
	if _, err := s.Delete(ctx, vaultID, id, author, -1); err == nil {
		t.Fatalf("want validation error on negative base")
	}

	ver, err := s.Delete(ctx, vaultID, id, author, 3)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ver.NewVer != 11 || repo.delInVault != vaultID || repo.delInID != id || repo.delInBase != 3 {
		t.Fatalf("delegate args/result mismatch: ver=%+v repo=%+v", ver, repo)
	}
}

func TestItemService_Restore_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := &fakeItemRepo{restoreOut: model.ItemVersion{NewVer: 4}}
	s := NewItemService(repo, 10)

	vaultID := uuid.Must(uuid.NewV4())
	id := uuid.Must(uuid.NewV4())
	author := uuid.Must(uuid.NewV4())

	if _, err := s.Restore(ctx, vaultID, id, 0, author); err == nil {
		t.Fatalf("want validation error on non-positive from-version")
	}
	out, err := s.Restore(ctx, vaultID, id, 2, author)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if out.NewVer != 4 {
		t.Fatalf("unexpected restore result: %+v", out)
	}
}

func TestItemService_ChangesSince_ValidationAndClamp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := &fakeItemRepo{chOut: []model.Change{{Sequence: 5}, {Sequence: 6}}}
	s := NewItemService(repo, 10)

	vaultID := uuid.Must(uuid.NewV4())

	if _, err := s.ChangesSince(ctx, uuid.Nil, 0, 10); err == nil {
		t.Fatalf("want validation error on empty vault id")
	}
	if _, err := s.ChangesSince(ctx, vaultID, -1, 10); err == nil {
		t.Fatalf("want validation error on negative cursor")
	}

	out, err := s.ChangesSince(ctx, vaultID, 4, 999)
	if err != nil {
		t.Fatalf("ChangesSince: %v", err)
	}
	if len(out) != 2 || out[0].Sequence != 5 || repo.chInVault != vaultID || repo.chInSince != 4 {
		t.Fatalf("delegate mismatch: out=%+v repo=%+v", out, repo)
	}
	if repo.chInLimit != 10 {
		t.Fatalf("want limit clamped to maxPageSize 10, got %d", repo.chInLimit)
	}
}

func TestItemService_GetOne_ValidationAndDelegate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	itID := uuid.Must(uuid.NewV4())
	vaultID := uuid.Must(uuid.NewV4())
	repo := &fakeItemRepo{getOut: &model.Item{ID: itID, Version: 9}}
	s := NewItemService(repo, 10)

	if _, err := s.GetOne(ctx, uuid.Nil, itID); err == nil {
		t.Fatalf("want validation error on empty vault id")
	}
	if _, err := s.GetOne(ctx, vaultID, uuid.Nil); err == nil {
		t.Fatalf("want validation error on empty item id")
	}
	got, err := s.GetOne(ctx, vaultID, itID)
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if got.ID != itID || repo.getInVault != vaultID || repo.getInID != itID {
		t.Fatalf("delegate mismatch: got=%+v repo=%+v", got, repo)
	}
}

func TestItemService_SetUploadState_RestrictsTransition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := &fakeItemRepo{}
	s := NewItemService(repo, 10)
	id := uuid.Must(uuid.NewV4())

	if err := s.SetUploadState(ctx, uuid.Nil, "f1", model.UploadStored); err == nil {
		t.Fatalf("want validation error on empty item id")
	}
	if err := s.SetUploadState(ctx, id, "f1", model.UploadPending); err == nil {
		t.Fatalf("want error for unsupported transition to pending")
	}
	if err := s.SetUploadState(ctx, id, "f1", model.UploadStored); err != nil {
		t.Fatalf("SetUploadState: %v", err)
	}
}

func TestItemService_RepoErrorsPropagate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := &fakeItemRepo{
		createErr: errors.New("boom-create"),
		delErr:    errors.New("boom-del"),
		chErr:     errors.New("boom-ch"),
		getErr:    errors.New("boom-get"),
	}
	s := NewItemService(repo, 10)
	vaultID := uuid.Must(uuid.NewV4())
	id := uuid.Must(uuid.NewV4())
	author := uuid.Must(uuid.NewV4())

	if _, err := s.Create(ctx, validUpsert(vaultID, id), author); err == nil {
		t.Fatalf("want repo error propagate (create)")
	}
	if _, err := s.Delete(ctx, vaultID, id, author, 0); err == nil {
		t.Fatalf("want repo error propagate (delete)")
	}
	if _, err := s.ChangesSince(ctx, vaultID, 0, 10); err == nil {
		t.Fatalf("want repo error propagate (changes)")
	}
	if _, err := s.GetOne(ctx, vaultID, id); err == nil {
		t.Fatalf("want repo error propagate (get)")
	}
}
