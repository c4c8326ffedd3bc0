package httpapi

import (
	"encoding/base64"
	"net/http"

	"github.com/zann-project/zann/internal/errs"
)

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DeviceName  string `json:"device_name"`
	Fingerprint string `json:"fingerprint"` // base64
}

type registerResponse struct {
	UserID string `json:"user_id"`
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	fp, err := decodeFingerprint(req.Fingerprint)
	if err != nil {
		writeErr(w, err)
		return
	}
	id, err := h.d.Auth.Register(r.Context(), req.Email, req.Password, req.DeviceName, fp)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, registerResponse{UserID: id.String()})
}

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DeviceName  string `json:"device_name"`
	Fingerprint string `json:"fingerprint"`
}

type tokensResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    string `json:"expires_at"`
	UserID       string `json:"user_id,omitempty"`
	Email        string `json:"email,omitempty"`
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	fp, err := decodeFingerprint(req.Fingerprint)
	if err != nil {
		writeErr(w, err)
		return
	}
	ip := h.d.Authenticator.clientIP(r)
	tokens, user, err := h.d.Auth.Login(r.Context(), req.Email, req.Password, req.DeviceName, fp, ip.String())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, tokensResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt.Format(timeLayout),
		UserID:       user.ID.String(),
		Email:        user.Email,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	tokens, err := h.d.Auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, tokensResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt.Format(timeLayout),
	})
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := h.d.Auth.Logout(r.Context(), req.RefreshToken); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, struct{}{})
}

type serviceAccountLoginRequest struct {
	Token string `json:"token"`
}

func (h *handlers) serviceAccountLogin(w http.ResponseWriter, r *http.Request) {
	var req serviceAccountLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	tokens, err := h.d.Auth.ServiceAccountLogin(r.Context(), req.Token)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, tokensResponse{
		AccessToken: tokens.AccessToken,
		ExpiresAt:   tokens.ExpiresAt.Format(timeLayout),
	})
}

type oidcLoginRequest struct {
	IDToken     string `json:"id_token"`
	DeviceName  string `json:"device_name"`
	Fingerprint string `json:"fingerprint"`
}

func (h *handlers) oidcLogin(w http.ResponseWriter, r *http.Request) {
	if h.d.OIDC == nil {
		writeErr(w, errs.New(errs.KindForbidden, "oidc auth is not enabled", errs.ErrForbidden))
		return
	}
	var req oidcLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	fp, err := decodeFingerprint(req.Fingerprint)
	if err != nil {
		writeErr(w, err)
		return
	}
	user, err := h.d.OIDC.Verify(r.Context(), req.IDToken)
	if err != nil {
		writeErr(w, err)
		return
	}
	tokens, err := h.d.Auth.LoginVerifiedUser(r.Context(), *user, req.DeviceName, fp)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, tokensResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt.Format(timeLayout),
		UserID:       user.ID.String(),
		Email:        user.Email,
	})
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func decodeFingerprint(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	fp, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errs.New(errs.KindInvalidPayload, "fingerprint must be base64", errs.ErrInvalidPayload)
	}
	return fp, nil
}
