package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/zann-project/zann/internal/errs"
)

const apiVersion = "1"

// envelope is the uniform response shape of spec.md §6:
// {ok, api_version, data?, error?{kind,message}}.
type envelope struct {
	OK         bool         `json:"ok"`
	APIVersion string       `json:"api_version"`
	Data       any          `json:"data,omitempty"`
	Error      *envelopeErr `json:"error,omitempty"`
}

type envelopeErr struct {
	Kind    errs.Kind `json:"kind"`
	Message string    `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{OK: true, APIVersion: apiVersion, Data: data})
}

func writeErr(w http.ResponseWriter, err error) {
	kind, status, message := classify(err)
	writeJSON(w, status, envelope{OK: false, APIVersion: apiVersion, Error: &envelopeErr{Kind: kind, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// classify maps an internal error onto the wire error kind/HTTP status of
// spec.md §7. Forbidden is sent with the same HTTP status as NotFound (404);
// the kind in the response body stays Forbidden.
func classify(err error) (errs.Kind, int, string) {
	var e *errs.Error
	if !errors.As(err, &e) {
		return errs.KindInternal, http.StatusInternalServerError, "internal error"
	}

	status := http.StatusInternalServerError
	switch e.Kind {
	case errs.KindUnauthenticated, errs.KindSessionExpired, errs.KindInvalidCredentials,
		errs.KindServerIdentityInvalid, errs.KindServerIdentityMissing, errs.KindServerTimeSkew:
		status = http.StatusUnauthorized
	case errs.KindForbidden:
		status = http.StatusNotFound // same status as NotFound; the kind is not changed
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindInvalidPayload, errs.KindPayloadRequired, errs.KindPayloadEncRequire,
		errs.KindPayloadForbidden, errs.KindPayloadEncForbid, errs.KindChecksumRequired, errs.KindPathInvalid:
		status = http.StatusBadRequest
	case errs.KindConflict:
		status = http.StatusConflict
	case errs.KindUploadStateInvalid, errs.KindFileIDMissing, errs.KindFileIDMismatch:
		status = http.StatusBadRequest
	case errs.KindBodyTooLarge:
		status = http.StatusRequestEntityTooLarge
	case errs.KindRateLimited:
		status = http.StatusTooManyRequests
	case errs.KindServerUnreachable, errs.KindTimeout, errs.KindTransient:
		status = http.StatusServiceUnavailable
	case errs.KindConfigInvalid, errs.KindMasterKeyMissing:
		status = http.StatusInternalServerError
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	return e.Kind, status, msg
}
