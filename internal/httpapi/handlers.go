package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/errs"
)

// handlers holds the dependencies shared by every route handler.
type handlers struct {
	d Deps
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.New(errs.KindInvalidPayload, "malformed request body", errs.ErrInvalidPayload)
	}
	return nil
}

func urlParamUUID(r *http.Request, name string) (uuid.UUID, error) {
	v := chi.URLParam(r, name)
	id, err := uuid.FromString(v)
	if err != nil {
		return uuid.Nil, errs.New(errs.KindPathInvalid, name+" must be a uuid", errs.ErrPathInvalid)
	}
	return id, nil
}
