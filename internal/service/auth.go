// Package service contains application services for authentication and items.
package service

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/zann-project/zann/internal/crypto"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/limiter"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
)

// tokenPrefixLen is the number of leading characters of a service-account
// token used as the lookup key before the full token hash is verified.
const tokenPrefixLen = 12

// AuthService defines authentication, session-refresh and identity-bootstrap operations.
type AuthService interface {
	// Register creates a new internal-auth user and its initial device.
	Register(ctx context.Context, email, password, deviceName string, fingerprint []byte) (uuid.UUID, error)
	// Login verifies credentials, applies per-(email, ip) rate limiting, and
	// mints a new session bound to a device.
	Login(ctx context.Context, email, password, deviceName string, fingerprint []byte, ip string) (model.Tokens, model.User, error)
	// Refresh atomically rotates a session's access/refresh token pair.
	Refresh(ctx context.Context, refreshToken string) (model.Tokens, error)
	// Logout deletes the session matching the given refresh token.
	Logout(ctx context.Context, refreshToken string) error
	// ServiceAccountLogin verifies a long-lived service-account token and
	// mints a short-lived, self-contained access token.
	ServiceAccountLogin(ctx context.Context, token string) (model.Tokens, error)
	// LoginVerifiedUser mints a session for a user whose identity an external
	// credential (an OIDC ID token) already verified, binding it to the
	// caller's device like Login does.
	LoginVerifiedUser(ctx context.Context, u model.User, deviceName string, fingerprint []byte) (model.Tokens, error)
}

// AuthServiceImpl implements AuthService against repository-backed storage.
type AuthServiceImpl struct {
	users           repository.UserRepository
	devices         repository.DeviceRepository
	sessions        repository.SessionRepository
	serviceAccounts repository.ServiceAccountRepository
	lim             limiter.Limiter

	passwordPepper []byte
	tokenPepper    []byte
	argon2Params   pkgcrypto.Argon2Params

	accessTTL          time.Duration
	refreshTTL         time.Duration
	serviceAccountTTL  time.Duration
	serviceAccountSign []byte
}

// NewAuthService constructs AuthService with its required dependencies.
func NewAuthService(
	users repository.UserRepository,
	devices repository.DeviceRepository,
	sessions repository.SessionRepository,
	serviceAccounts repository.ServiceAccountRepository,
	lim limiter.Limiter,
	passwordPepper, tokenPepper, serviceAccountSign []byte,
	accessTTL, refreshTTL, serviceAccountTTL time.Duration,
) *AuthServiceImpl {
	return &AuthServiceImpl{
		users: users, devices: devices, sessions: sessions, serviceAccounts: serviceAccounts,
		lim: lim, passwordPepper: passwordPepper, tokenPepper: tokenPepper,
		argon2Params: pkgcrypto.DefaultArgon2Params, serviceAccountSign: serviceAccountSign,
		accessTTL: accessTTL, refreshTTL: refreshTTL, serviceAccountTTL: serviceAccountTTL,
	}
}

// Register derives a per-user KDF salt and argon2id(password||pepper) hash,
// then creates the user and its initial device.
func (s *AuthServiceImpl) Register(ctx context.Context, email, password, deviceName string, fingerprint []byte) (uuid.UUID, error) {
	if email == "" || password == "" {
		return uuid.Nil, errs.New(errs.KindInvalidPayload, "email and password are required", errs.ErrInvalidPayload)
	}
	salt, err := pkgcrypto.RandBytes(16)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	hash := pkgcrypto.HashPassword([]byte(password), s.passwordPepper, salt, s.argon2Params)
	u := &model.User{ID: id, Email: email, KDFSalt: salt, PasswordHash: hash, Status: model.UserActive}
	if err := s.users.Create(ctx, u); err != nil {
		return uuid.Nil, err
	}
	if _, err := s.resolveDevice(ctx, id, deviceName, fingerprint); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Login authenticates by email/password, rate-limited by (email, ip), binds
// the session to the caller's device (creating it on first sight), and
// mints an opaque access/refresh token pair per spec.md §4.6.
func (s *AuthServiceImpl) Login(ctx context.Context, email, password, deviceName string, fingerprint []byte, ip string) (model.Tokens, model.User, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.New(errs.KindRateLimited, "too many login attempts", errs.ErrRateLimited)
	}

	u, err := s.users.GetByEmail(ctx, email)
	verified := err == nil && pkgcrypto.VerifyPassword([]byte(password), s.passwordPepper, u.KDFSalt, u.PasswordHash, s.argon2Params)
	if !verified {
		if blocked, _, ferr := s.lim.Failure(ctx, email, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, errs.New(errs.KindRateLimited, "too many login attempts", errs.ErrRateLimited)
		}
		return model.Tokens{}, model.User{}, errs.New(errs.KindInvalidCredentials, "invalid email or password", errs.ErrUnauthorized)
	}
	if u.Status != model.UserActive {
		return model.Tokens{}, model.User{}, errs.New(errs.KindForbidden, "account suspended", errs.ErrForbidden)
	}
	_ = s.lim.Success(ctx, email, ipHash)

	device, err := s.resolveDevice(ctx, u.ID, deviceName, fingerprint)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}

	tokens, session, err := s.mintSession(u.ID, device.ID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return tokens, *u, nil
}

// LoginVerifiedUser mints a session for a user resolved by an external
// identity check (OIDCVerifier.Verify), skipping password verification and
// its rate limiter since the credential was already checked upstream.
func (s *AuthServiceImpl) LoginVerifiedUser(ctx context.Context, u model.User, deviceName string, fingerprint []byte) (model.Tokens, error) {
	if u.Status != model.UserActive {
		return model.Tokens{}, errs.New(errs.KindForbidden, "account suspended", errs.ErrForbidden)
	}
	device, err := s.resolveDevice(ctx, u.ID, deviceName, fingerprint)
	if err != nil {
		return model.Tokens{}, err
	}
	tokens, session, err := s.mintSession(u.ID, device.ID)
	if err != nil {
		return model.Tokens{}, err
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return model.Tokens{}, err
	}
	return tokens, nil
}

// resolveDevice returns the caller's existing device by fingerprint, or
// registers a new one on first sight.
func (s *AuthServiceImpl) resolveDevice(ctx context.Context, userID uuid.UUID, name string, fingerprint []byte) (*model.Device, error) {
	if d, err := s.devices.GetByFingerprint(ctx, userID, fingerprint); err == nil {
		_ = s.devices.Touch(ctx, d.ID, time.Now())
		return d, nil
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	d := &model.Device{ID: id, UserID: userID, Name: name, Fingerprint: fingerprint}
	if err := s.devices.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Refresh identifies the session by its refresh token's hash and atomically
// rotates both access and refresh hashes, invalidating the presented token.
func (s *AuthServiceImpl) Refresh(ctx context.Context, refreshToken string) (model.Tokens, error) {
	oldHash := pkgcrypto.HashToken(s.tokenPepper, []byte(refreshToken))
	cur, err := s.sessions.GetByRefreshHash(ctx, oldHash)
	if err != nil {
		return model.Tokens{}, err
	}
	if time.Now().After(cur.RefreshExpiry) {
		return model.Tokens{}, errs.New(errs.KindSessionExpired, "refresh token expired", errs.ErrSessionExpired)
	}

	tokens, next, err := s.mintSession(cur.UserID, cur.DeviceID)
	if err != nil {
		return model.Tokens{}, err
	}
	next.ID = cur.ID
	if err := s.sessions.Rotate(ctx, oldHash, next); err != nil {
		return model.Tokens{}, err
	}
	return tokens, nil
}

// Logout deletes the session matching the presented refresh token.
func (s *AuthServiceImpl) Logout(ctx context.Context, refreshToken string) error {
	hash := pkgcrypto.HashToken(s.tokenPepper, []byte(refreshToken))
	return s.sessions.DeleteByRefreshHash(ctx, hash)
}

// mintSession generates fresh random 256-bit access/refresh tokens, returning
// the raw values (shown to the caller once) alongside a Session row carrying
// only their keyed hashes.
func (s *AuthServiceImpl) mintSession(userID, deviceID uuid.UUID) (model.Tokens, *model.Session, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return model.Tokens{}, nil, err
	}
	access, err := randomToken()
	if err != nil {
		return model.Tokens{}, nil, err
	}
	refresh, err := randomToken()
	if err != nil {
		return model.Tokens{}, nil, err
	}
	now := time.Now()
	accessExpiry := now.Add(s.accessTTL)
	session := &model.Session{
		ID: id, UserID: userID, DeviceID: deviceID,
		AccessHash: pkgcrypto.HashToken(s.tokenPepper, []byte(access)), RefreshHash: pkgcrypto.HashToken(s.tokenPepper, []byte(refresh)),
		AccessExpiry: accessExpiry, RefreshExpiry: now.Add(s.refreshTTL),
	}
	return model.Tokens{AccessToken: access, RefreshToken: refresh, ExpiresAt: accessExpiry}, session, nil
}

func randomToken() (string, error) {
	raw, err := pkgcrypto.RandBytes(32)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// serviceAccountClaims carries the scoped identity a service-account access
// token is self-contained enough to be checked without a further DB round
// trip per request; revocation is still possible by rotating the
// service-account's long-lived token hash.
type serviceAccountClaims struct {
	jwt.RegisteredClaims
	ServiceAccount bool `json:"sa"`
}

// ServiceAccountLogin verifies a presented long-lived token against its
// stored hash and mints a short-lived JWT access token.
func (s *AuthServiceImpl) ServiceAccountLogin(ctx context.Context, token string) (model.Tokens, error) {
	if len(token) <= tokenPrefixLen {
		return model.Tokens{}, errs.New(errs.KindInvalidCredentials, "malformed service account token", errs.ErrUnauthorized)
	}
	sa, err := s.serviceAccounts.GetByTokenPrefix(ctx, token[:tokenPrefixLen])
	if err != nil {
		return model.Tokens{}, errs.New(errs.KindInvalidCredentials, "invalid service account token", errs.ErrUnauthorized)
	}
	hash := pkgcrypto.HashToken(s.tokenPepper, []byte(token))
	if subtle.ConstantTimeCompare(hash, sa.TokenHash) != 1 {
		return model.Tokens{}, errs.New(errs.KindInvalidCredentials, "invalid service account token", errs.ErrUnauthorized)
	}
	_ = s.serviceAccounts.IncrementUse(ctx, sa.ID)

	now := time.Now()
	exp := now.Add(s.serviceAccountTTL)
	claims := serviceAccountClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sa.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		ServiceAccount: true,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.serviceAccountSign)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: signed, ExpiresAt: exp}, nil
}
