package httpapi

import (
	"encoding/base64"
	"net/http"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/access"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
)

type vaultResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Slug        string   `json:"slug"`
	Tags        []string `json:"tags,omitempty"`
	Kind        string   `json:"kind"`
	Encryption  string   `json:"encryption"`
	CachePolicy string   `json:"cache_policy"`
	Default     bool     `json:"default"`
}

func toVaultResponse(v model.Vault) vaultResponse {
	return vaultResponse{
		ID: v.ID.String(), Name: v.Name, Slug: v.Slug, Tags: v.Tags,
		Kind: string(v.Kind), Encryption: string(v.Encryption),
		CachePolicy: string(v.CachePolicy), Default: v.Default,
	}
}

// listVaults lists the vaults of the caller's storage account. Each vault is
// checked with access.Evaluator for OpList (with an empty path), and vaults
// the caller may not list are left out of the response.
func (h *handlers) listVaults(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromCtx(r.Context())
	vaults, err := h.d.Vaults.List(r.Context(), p.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]vaultResponse, 0, len(vaults))
	for _, v := range vaults {
		ref := access.VaultRef{ID: v.ID, Slug: v.Slug, Tags: v.Tags, Kind: v.Kind, Encryption: v.Encryption}
		if err := h.d.Access.Authorize(r.Context(), p, ref, "", access.OpList); err != nil {
			continue
		}
		out = append(out, toVaultResponse(v))
	}
	writeData(w, http.StatusOK, out)
}

type createVaultRequest struct {
	Name        string   `json:"name"`
	Slug        string   `json:"slug"`
	Tags        []string `json:"tags,omitempty"`
	Kind        string   `json:"kind"`
	Encryption  string   `json:"encryption"`
	WrappedKey  string   `json:"wrapped_key"` // base64
	CachePolicy string   `json:"cache_policy"`
	Default     bool     `json:"default"`
}

func (h *handlers) createVault(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromCtx(r.Context())
	if p.IsServiceAccount() {
		writeErr(w, errs.New(errs.KindForbidden, "service accounts may only read/list", errs.ErrForbidden))
		return
	}
	var req createVaultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Name == "" || req.Slug == "" {
		writeErr(w, errs.New(errs.KindInvalidPayload, "name and slug are required", errs.ErrInvalidPayload))
		return
	}
	wrappedKey, decErr := base64.StdEncoding.DecodeString(req.WrappedKey)
	if decErr != nil {
		writeErr(w, errs.New(errs.KindInvalidPayload, "wrapped_key must be base64", errs.ErrInvalidPayload))
		return
	}
	id, err := uuid.NewV4()
	if err != nil {
		writeErr(w, err)
		return
	}
	v := &model.Vault{
		ID: id, StorageID: p.UserID, Name: req.Name, Slug: req.Slug, Tags: req.Tags,
		Kind: model.VaultKind(req.Kind), Encryption: model.EncryptionType(req.Encryption),
		WrappedKey: wrappedKey, CachePolicy: model.CachePolicy(req.CachePolicy), Default: req.Default,
	}
	if err := h.d.Vaults.Create(r.Context(), v); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, toVaultResponse(*v))
}
