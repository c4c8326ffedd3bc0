package httpapi

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/access"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
)

type itemResponse struct {
	ID              string `json:"id"`
	VaultID         string `json:"vault_id"`
	Path            string `json:"path"`
	DisplayName     string `json:"display_name"`
	TypeID          string `json:"type_id"`
	PayloadEnc      string `json:"payload_enc"` // base64
	PayloadChecksum string `json:"payload_checksum,omitempty"`
	Version         int64  `json:"version"`
	Status          string `json:"status"`
	UpdatedAt       string `json:"updated_at"`
}

func toItemResponse(it model.Item) itemResponse {
	return itemResponse{
		ID: it.ID.String(), VaultID: it.VaultID.String(), Path: it.Path,
		DisplayName: it.DisplayName, TypeID: it.TypeID,
		PayloadEnc:      base64.StdEncoding.EncodeToString(it.PayloadEnc),
		PayloadChecksum: base64.StdEncoding.EncodeToString(it.PayloadChecksum),
		Version:         it.Version, Status: string(it.Status),
		UpdatedAt: it.UpdatedAt.Format(timeLayout),
	}
}

type itemVersionResponse struct {
	ID        string `json:"id"`
	NewVer    int64  `json:"new_version"`
	NewSeq    int64  `json:"new_sequence"`
	UpdatedAt string `json:"updated_at"`
}

func toItemVersionResponse(v model.ItemVersion) itemVersionResponse {
	return itemVersionResponse{ID: v.ID.String(), NewVer: v.NewVer, NewSeq: v.NewSeq, UpdatedAt: v.UpdatedAt.Format(timeLayout)}
}

// authorizeVaultOp resolves the request's vault id and checks the caller may
// perform op against it, returning the vault id on success.
func (h *handlers) authorizeVaultOp(w http.ResponseWriter, r *http.Request, op access.Op) (uuid.UUID, bool) {
	vaultID, err := urlParamUUID(r, "vaultID")
	if err != nil {
		writeErr(w, err)
		return uuid.Nil, false
	}
	p, _ := PrincipalFromCtx(r.Context())
	v, err := h.d.Vaults.Get(r.Context(), vaultID)
	if err != nil {
		writeErr(w, err)
		return uuid.Nil, false
	}
	ref := access.VaultRef{ID: v.ID, Slug: v.Slug, Tags: v.Tags, Kind: v.Kind, Encryption: v.Encryption}
	if err := h.d.Access.Authorize(r.Context(), p, ref, r.URL.Path, op); err != nil {
		writeErr(w, err)
		return uuid.Nil, false
	}
	return vaultID, true
}

type upsertItemRequest struct {
	ID              string `json:"id"`
	Path            string `json:"path"`
	DisplayName     string `json:"display_name"`
	TypeID          string `json:"type_id"`
	BaseSeq         int64  `json:"base_seq"`
	PayloadEnc      string `json:"payload_enc"`      // base64
	PayloadChecksum string `json:"payload_checksum"` // base64
}

func (h *handlers) createItem(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := h.authorizeVaultOp(w, r, access.OpCreate)
	if !ok {
		return
	}
	var req upsertItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	id, err := uuid.FromString(req.ID)
	if err != nil {
		writeErr(w, errs.New(errs.KindInvalidPayload, "id must be a uuid", errs.ErrInvalidPayload))
		return
	}
	in, err := decodeUpsertItem(req, id, vaultID)
	if err != nil {
		writeErr(w, err)
		return
	}
	p, _ := PrincipalFromCtx(r.Context())
	ver, err := h.d.Items.Create(r.Context(), in, p.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, toItemVersionResponse(ver))
}

func (h *handlers) updateItem(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := h.authorizeVaultOp(w, r, access.OpUpdate)
	if !ok {
		return
	}
	itemID, err := urlParamUUID(r, "itemID")
	if err != nil {
		writeErr(w, err)
		return
	}
	var req upsertItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	in, err := decodeUpsertItem(req, itemID, vaultID)
	if err != nil {
		writeErr(w, err)
		return
	}
	p, _ := PrincipalFromCtx(r.Context())
	ver, err := h.d.Items.Update(r.Context(), in, p.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, toItemVersionResponse(ver))
}

func decodeUpsertItem(req upsertItemRequest, id, vaultID uuid.UUID) (model.UpsertItem, error) {
	payload, err := base64.StdEncoding.DecodeString(req.PayloadEnc)
	if err != nil {
		return model.UpsertItem{}, errs.New(errs.KindInvalidPayload, "payload_enc must be base64", errs.ErrInvalidPayload)
	}
	checksum, err := base64.StdEncoding.DecodeString(req.PayloadChecksum)
	if err != nil {
		return model.UpsertItem{}, errs.New(errs.KindInvalidPayload, "payload_checksum must be base64", errs.ErrInvalidPayload)
	}
	return model.UpsertItem{
		ID: id, VaultID: vaultID, Path: req.Path, DisplayName: req.DisplayName,
		TypeID: req.TypeID, BaseSeq: req.BaseSeq, PayloadEnc: payload, PayloadChecksum: checksum,
	}, nil
}

func (h *handlers) deleteItem(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := h.authorizeVaultOp(w, r, access.OpDelete)
	if !ok {
		return
	}
	itemID, err := urlParamUUID(r, "itemID")
	if err != nil {
		writeErr(w, err)
		return
	}
	baseSeq, _ := strconv.ParseInt(r.URL.Query().Get("base_seq"), 10, 64)
	p, _ := PrincipalFromCtx(r.Context())
	ver, err := h.d.Items.Delete(r.Context(), vaultID, itemID, p.UserID, baseSeq)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, toItemVersionResponse(ver))
}

type restoreItemRequest struct {
	FromVersion int64 `json:"from_version"`
}

func (h *handlers) restoreItem(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := h.authorizeVaultOp(w, r, access.OpUpdate)
	if !ok {
		return
	}
	itemID, err := urlParamUUID(r, "itemID")
	if err != nil {
		writeErr(w, err)
		return
	}
	var req restoreItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	p, _ := PrincipalFromCtx(r.Context())
	ver, err := h.d.Items.Restore(r.Context(), vaultID, itemID, req.FromVersion, p.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, toItemVersionResponse(ver))
}

func (h *handlers) getItem(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := h.authorizeVaultOp(w, r, access.OpRead)
	if !ok {
		return
	}
	itemID, err := urlParamUUID(r, "itemID")
	if err != nil {
		writeErr(w, err)
		return
	}
	it, err := h.d.Items.GetOne(r.Context(), vaultID, itemID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, toItemResponse(*it))
}

func (h *handlers) listItems(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := h.authorizeVaultOp(w, r, access.OpList)
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	items, err := h.d.Items.List(r.Context(), vaultID, limit, offset)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]itemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, toItemResponse(it))
	}
	writeData(w, http.StatusOK, out)
}

type itemHistoryResponse struct {
	ItemID     string `json:"item_id"`
	Version    int64  `json:"version"`
	PayloadEnc string `json:"payload_enc"`
	Kind       string `json:"kind"`
	AuthorID   string `json:"author_id"`
	CreatedAt  string `json:"created_at"`
}

func toItemHistoryResponse(h model.ItemHistory) itemHistoryResponse {
	return itemHistoryResponse{
		ItemID: h.ItemID.String(), Version: h.Version,
		PayloadEnc: base64.StdEncoding.EncodeToString(h.PayloadEnc),
		Kind:       string(h.Kind), AuthorID: h.AuthorID.String(),
		CreatedAt: h.CreatedAt.Format(timeLayout),
	}
}

func (h *handlers) listHistory(w http.ResponseWriter, r *http.Request) {
	_, ok := h.authorizeVaultOp(w, r, access.OpRead)
	if !ok {
		return
	}
	itemID, err := urlParamUUID(r, "itemID")
	if err != nil {
		writeErr(w, err)
		return
	}
	limit, _ := pageParams(r)
	hist, err := h.d.Items.ListHistory(r.Context(), itemID, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]itemHistoryResponse, 0, len(hist))
	for _, rev := range hist {
		out = append(out, toItemHistoryResponse(rev))
	}
	writeData(w, http.StatusOK, out)
}

func (h *handlers) getHistoryVersion(w http.ResponseWriter, r *http.Request) {
	_, ok := h.authorizeVaultOp(w, r, access.OpRead)
	if !ok {
		return
	}
	itemID, err := urlParamUUID(r, "itemID")
	if err != nil {
		writeErr(w, err)
		return
	}
	version, err := strconv.ParseInt(chi.URLParam(r, "version"), 10, 64)
	if err != nil {
		writeErr(w, errs.New(errs.KindPathInvalid, "version must be an integer", errs.ErrPathInvalid))
		return
	}
	rev, err := h.d.Items.GetHistoryVersion(r.Context(), itemID, version)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, toItemHistoryResponse(*rev))
}

// itemFile serves the file-attachment representation endpoint: GET returns
// the item's encrypted payload under either representation, POST marks the
// attachment's upload state transitioned to stored once the client has
// durably written the ciphertext representation it chose.
func (h *handlers) itemFile(w http.ResponseWriter, r *http.Request) {
	var op access.Op
	if r.Method == http.MethodPost {
		op = access.OpUpdate
	} else {
		op = access.OpRead
	}
	vaultID, ok := h.authorizeVaultOp(w, r, op)
	if !ok {
		return
	}
	itemID, err := urlParamUUID(r, "itemID")
	if err != nil {
		writeErr(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		it, err := h.d.Items.GetOne(r.Context(), vaultID, itemID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeData(w, http.StatusOK, toItemResponse(*it))
	case http.MethodPost:
		fileID := r.URL.Query().Get("file_id")
		if fileID == "" {
			writeErr(w, errs.New(errs.KindFileIDMissing, "file_id is required", errs.ErrFileIDMissing))
			return
		}
		if err := h.d.Items.SetUploadState(r.Context(), itemID, fileID, model.UploadStored); err != nil {
			writeErr(w, err)
			return
		}
		writeData(w, http.StatusOK, struct{}{})
	default:
		writeErr(w, errs.New(errs.KindPathInvalid, "method not allowed", errs.ErrPathInvalid))
	}
}

type changeResponse struct {
	Sequence  int64  `json:"sequence"`
	ItemID    string `json:"item_id"`
	Kind      string `json:"kind"`
	Version   int64  `json:"version"`
	CreatedAt string `json:"created_at"`
}

func (h *handlers) changesSince(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := h.authorizeVaultOp(w, r, access.OpList)
	if !ok {
		return
	}
	since, limit := sinceCursor(r)
	changes, err := h.d.Items.ChangesSince(r.Context(), vaultID, since, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]changeResponse, 0, len(changes))
	for _, c := range changes {
		out = append(out, changeResponse{
			Sequence: c.Sequence, ItemID: c.ItemID.String(), Kind: string(c.Kind),
			Version: c.Version, CreatedAt: c.CreatedAt.Format(timeLayout),
		})
	}
	writeData(w, http.StatusOK, out)
}
