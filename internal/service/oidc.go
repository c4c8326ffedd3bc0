package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/zann-project/zann/internal/crypto"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
)

// OIDCMode selects how auth.mode (spec.md §6) combines internal password
// login with OIDC.
type OIDCMode string

const (
	OIDCModeInternal OIDCMode = "internal"
	OIDCModeOnly     OIDCMode = "oidc"
	OIDCModeBoth     OIDCMode = "both"
	OIDCModeDisabled OIDCMode = "disabled"
)

// OIDCConfig mirrors the auth.oidc.* surface of spec.md §6.
type OIDCConfig struct {
	Issuer        string
	Audience      string
	JWKSURL       string // mutually exclusive with JWKSFile
	JWKSFile      string
	AutoProvision bool // create a user on first sight of a verified subject
}

// OIDCVerifier validates a caller-supplied ID token against a JWKS, auto-
// fetched from the issuer's discovery document or loaded from a local file,
// and maps its verified subject to a local user per spec.md §4.6.
//
// Subjects are mapped by the token's email claim rather than a stored
// subject column: UserRepository keys users by email only, and spec.md §3
// does not call out a distinct OIDC-identity entity, so reusing the email
// index is the minimal mapping that still satisfies "maps the subject to a
// user". This is recorded as an Open Question decision in DESIGN.md.
type OIDCVerifier struct {
	cfg      OIDCConfig
	verifier *oidc.IDTokenVerifier
	users    repository.UserRepository
}

// NewOIDCVerifier builds a verifier for JWKS-URL mode, performing OIDC
// discovery against cfg.Issuer.
func NewOIDCVerifier(ctx context.Context, cfg OIDCConfig, users repository.UserRepository) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	v := provider.Verifier(&oidc.Config{ClientID: cfg.Audience})
	return &OIDCVerifier{cfg: cfg, verifier: v, users: users}, nil
}

// NewOIDCVerifierFromKeySet builds a verifier from a static key set, used
// for auth.oidc.jwks_file mode where no network discovery is performed.
func NewOIDCVerifierFromKeySet(cfg OIDCConfig, keySet oidc.KeySet, users repository.UserRepository) *OIDCVerifier {
	v := oidc.NewVerifier(cfg.Issuer, keySet, &oidc.Config{ClientID: cfg.Audience})
	return &OIDCVerifier{cfg: cfg, verifier: v, users: users}
}

type oidcClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// Verify checks rawIDToken's signature, issuer and audience, then resolves
// (or, if policy allows, provisions) the local user for its subject.
func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string) (*model.User, error) {
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errs.New(errs.KindUnauthenticated, "oidc token invalid", err)
	}

	var claims oidcClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, errs.New(errs.KindUnauthenticated, "oidc claims malformed", err)
	}
	if claims.Email == "" || !claims.EmailVerified {
		return nil, errs.New(errs.KindUnauthenticated, "oidc subject has no verified email", nil)
	}

	u, err := v.users.GetByEmail(ctx, claims.Email)
	switch {
	case err == nil:
		if u.Status != model.UserActive {
			return nil, errs.New(errs.KindForbidden, "account suspended", nil)
		}
		return u, nil
	case !errors.Is(err, errs.ErrNotFound):
		return nil, err
	}

	if !v.cfg.AutoProvision {
		return nil, errs.New(errs.KindForbidden, "no local account for oidc subject", errs.ErrForbidden)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	salt, err := pkgcrypto.RandBytes(16)
	if err != nil {
		return nil, err
	}
	created := &model.User{ID: id, Email: claims.Email, KDFSalt: salt, PasswordHash: []byte{}, Status: model.UserActive, CreatedAt: time.Now()}
	if err := v.users.Create(ctx, created); err != nil {
		return nil, err
	}
	return created, nil
}
