package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/zann-project/zann/internal/crypto"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/limiter"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
)

type fakeUsers struct {
	byEmail map[string]*model.User

	createErr error
	getErr    error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byEmail == nil {
		f.byEmail = map[string]*model.User{}
	}
	if _, exists := f.byEmail[u.Email]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *u
	f.byEmail[u.Email] = &cpy
	return nil
}
func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	for _, u := range f.byEmail {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}
func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byEmail[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

type fakeDevices struct {
	byFingerprint map[string]*model.Device
	createErr     error
}

var _ repository.DeviceRepository = (*fakeDevices)(nil)

func (f *fakeDevices) Create(_ context.Context, d *model.Device) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byFingerprint == nil {
		f.byFingerprint = map[string]*model.Device{}
	}
	cpy := *d
	f.byFingerprint[string(d.Fingerprint)] = &cpy
	return nil
}
func (f *fakeDevices) Touch(context.Context, uuid.UUID, time.Time) error { return nil }
func (f *fakeDevices) GetByFingerprint(_ context.Context, userID uuid.UUID, fingerprint []byte) (*model.Device, error) {
	d, ok := f.byFingerprint[string(fingerprint)]
	if !ok || d.UserID != userID {
		return nil, errs.ErrNotFound
	}
	c := *d
	return &c, nil
}

type fakeSessions struct {
	byRefresh map[string]*model.Session

	createErr error
	rotateErr error
}

var _ repository.SessionRepository = (*fakeSessions)(nil)

func (f *fakeSessions) Create(_ context.Context, s *model.Session) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byRefresh == nil {
		f.byRefresh = map[string]*model.Session{}
	}
	cpy := *s
	f.byRefresh[string(s.RefreshHash)] = &cpy
	return nil
}
func (f *fakeSessions) Rotate(_ context.Context, oldRefreshHash []byte, s *model.Session) error {
	if f.rotateErr != nil {
		return f.rotateErr
	}
	old, ok := f.byRefresh[string(oldRefreshHash)]
	if !ok {
		return errs.New(errs.KindSessionExpired, "refresh token not recognized", errs.ErrSessionExpired)
	}
	delete(f.byRefresh, string(oldRefreshHash))
	next := *s
	next.ID = old.ID
	next.UserID = old.UserID
	next.DeviceID = old.DeviceID
	f.byRefresh[string(next.RefreshHash)] = &next
	return nil
}
func (f *fakeSessions) GetByAccessHash(context.Context, []byte) (*model.Session, error) {
	return nil, errs.ErrNotFound
}
func (f *fakeSessions) GetByRefreshHash(_ context.Context, refreshHash []byte) (*model.Session, error) {
	s, ok := f.byRefresh[string(refreshHash)]
	if !ok {
		return nil, errs.New(errs.KindSessionExpired, "session not found", errs.ErrSessionExpired)
	}
	c := *s
	return &c, nil
}
func (f *fakeSessions) DeleteByRefreshHash(_ context.Context, refreshHash []byte) error {
	delete(f.byRefresh, string(refreshHash))
	return nil
}

type fakeServiceAccounts struct {
	byPrefix map[string]*model.ServiceAccount
	useCount map[uuid.UUID]int64
}

var _ repository.ServiceAccountRepository = (*fakeServiceAccounts)(nil)

func (f *fakeServiceAccounts) Create(_ context.Context, sa *model.ServiceAccount) error {
	if f.byPrefix == nil {
		f.byPrefix = map[string]*model.ServiceAccount{}
	}
	cpy := *sa
	f.byPrefix[sa.TokenPrefix] = &cpy
	return nil
}
func (f *fakeServiceAccounts) GetByTokenPrefix(_ context.Context, prefix string) (*model.ServiceAccount, error) {
	sa, ok := f.byPrefix[prefix]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *sa
	return &c, nil
}
func (f *fakeServiceAccounts) IncrementUse(_ context.Context, id uuid.UUID) error {
	if f.useCount == nil {
		f.useCount = map[uuid.UUID]int64{}
	}
	f.useCount[id]++
	return nil
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

func newTestAuth(users *fakeUsers, devices *fakeDevices, sessions *fakeSessions, sas *fakeServiceAccounts, lim *fakeLimiter) *AuthServiceImpl {
	return NewAuthService(users, devices, sessions, sas, lim,
		[]byte("password-pepper"), []byte("token-pepper"), []byte("sa-sign"),
		15*time.Minute, 30*24*time.Hour, 5*time.Minute)
}

func TestAuth_Register_Basics(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{}
	s := newTestAuth(users, &fakeDevices{}, &fakeSessions{}, &fakeServiceAccounts{}, &fakeLimiter{})

	if _, err := s.Register(context.Background(), "", "", "laptop", []byte("fp")); err == nil {
		t.Fatalf("want validation error on empty email/password")
	}

	id, err := s.Register(context.Background(), "alice@example.com", "pwd", "laptop", []byte("fp1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id == uuid.Nil {
		t.Fatalf("empty user id")
	}

	if _, err := s.Register(context.Background(), "alice@example.com", "pwd2", "laptop", []byte("fp2")); err == nil {
		t.Fatalf("want repo error on duplicate email")
	}

	users.createErr = errors.New("boom")
	if _, err := s.Register(context.Background(), "bob@example.com", "pwd", "laptop", []byte("fp3")); err == nil {
		t.Fatalf("want propagated repo error")
	}
}

func TestAuth_Login_RateLimiterAndCreds(t *testing.T) {
	t.Parallel()

	salt, _ := pkgcrypto.RandBytes(16)
	pepper := []byte("password-pepper")
	pw := []byte("correct")
	u := &model.User{
		ID:           uuid.Must(uuid.NewV4()),
		Email:        "alice@example.com",
		KDFSalt:      salt,
		PasswordHash: pkgcrypto.HashPassword(pw, pepper, salt, pkgcrypto.DefaultArgon2Params),
		Status:       model.UserActive,
	}

	users := &fakeUsers{byEmail: map[string]*model.User{u.Email: u}}
	lim := &fakeLimiter{allowOK: true}
	s := newTestAuth(users, &fakeDevices{}, &fakeSessions{}, &fakeServiceAccounts{}, lim)

	lim.allowErr = errors.New("lim-err")
	if _, _, err := s.Login(context.Background(), u.Email, "correct", "laptop", []byte("fp"), "1.2.3.4"); err == nil {
		t.Fatalf("want limiter error propagate")
	}
	lim.allowErr = nil

	lim.allowOK = false
	if _, _, err := s.Login(context.Background(), u.Email, "correct", "laptop", []byte("fp"), "1.2.3.4"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	lim.allowOK = true

	users.getErr = errs.ErrNotFound
	if _, _, err := s.Login(context.Background(), "nope@example.com", "x", "laptop", []byte("fp"), ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on missing user, got %v", err)
	}
	users.getErr = nil

	lim.failBlocked = true
	if _, _, err := s.Login(context.Background(), u.Email, "wrong", "laptop", []byte("fp"), ""); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited on blocked after failure, got %v", err)
	}

	lim.failBlocked = false
	if _, _, err := s.Login(context.Background(), u.Email, "wrong", "laptop", []byte("fp"), ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on wrong password, got %v", err)
	}

	tok, gotUser, err := s.Login(context.Background(), u.Email, "correct", "laptop", []byte("fp"), "127.0.0.1")
	if err != nil {
		t.Fatalf("Login success: %v", err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" || tok.ExpiresAt.Before(time.Now()) {
		t.Fatalf("bad token: %+v", tok)
	}
	if gotUser.ID != u.ID {
		t.Fatalf("bad user returned: %+v", gotUser)
	}
	if lim.successCalls == 0 {
		t.Fatalf("expected Success() to be called")
	}
}

func TestAuth_Login_SuspendedAccount(t *testing.T) {
	t.Parallel()

	salt, _ := pkgcrypto.RandBytes(16)
	pepper := []byte("password-pepper")
	u := &model.User{
		ID: uuid.Must(uuid.NewV4()), Email: "sus@example.com", KDFSalt: salt,
		PasswordHash: pkgcrypto.HashPassword([]byte("pw"), pepper, salt, pkgcrypto.DefaultArgon2Params),
		Status:       model.UserSuspended,
	}
	users := &fakeUsers{byEmail: map[string]*model.User{u.Email: u}}
	s := newTestAuth(users, &fakeDevices{}, &fakeSessions{}, &fakeServiceAccounts{}, &fakeLimiter{allowOK: true})

	if _, _, err := s.Login(context.Background(), u.Email, "pw", "laptop", []byte("fp"), ""); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("want ErrForbidden for suspended account, got %v", err)
	}
}

func TestAuth_RefreshAndLogout(t *testing.T) {
	t.Parallel()

	salt, _ := pkgcrypto.RandBytes(16)
	pepper := []byte("password-pepper")
	u := &model.User{
		ID: uuid.Must(uuid.NewV4()), Email: "bob@example.com", KDFSalt: salt,
		PasswordHash: pkgcrypto.HashPassword([]byte("p"), pepper, salt, pkgcrypto.DefaultArgon2Params),
		Status:       model.UserActive,
	}
	users := &fakeUsers{byEmail: map[string]*model.User{u.Email: u}}
	sessions := &fakeSessions{}
	s := newTestAuth(users, &fakeDevices{}, sessions, &fakeServiceAccounts{}, &fakeLimiter{allowOK: true})

	tok, _, err := s.Login(context.Background(), u.Email, "p", "laptop", []byte("fp"), "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	next, err := s.Refresh(context.Background(), tok.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.AccessToken == "" || next.RefreshToken == "" || next.RefreshToken == tok.RefreshToken {
		t.Fatalf("expected rotated tokens, got %+v", next)
	}

	if _, err := s.Refresh(context.Background(), tok.RefreshToken); err == nil {
		t.Fatalf("want stale refresh token rejected")
	}

	if err := s.Logout(context.Background(), next.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := s.Refresh(context.Background(), next.RefreshToken); err == nil {
		t.Fatalf("want refresh rejected after logout")
	}
}

func TestAuth_ServiceAccountLogin(t *testing.T) {
	t.Parallel()

	tokenPepper := []byte("token-pepper")
	token := "svc_0123456789abcdef"
	sa := &model.ServiceAccount{
		ID: uuid.Must(uuid.NewV4()), Name: "ci-bot",
		TokenPrefix: token[:tokenPrefixLen],
		TokenHash:   pkgcrypto.HashToken(tokenPepper, []byte(token)),
	}
	sas := &fakeServiceAccounts{byPrefix: map[string]*model.ServiceAccount{sa.TokenPrefix: sa}}
	s := newTestAuth(&fakeUsers{}, &fakeDevices{}, &fakeSessions{}, sas, &fakeLimiter{})

	if _, err := s.ServiceAccountLogin(context.Background(), "short"); err == nil {
		t.Fatalf("want error for malformed token")
	}

	tok, err := s.ServiceAccountLogin(context.Background(), token)
	if err != nil {
		t.Fatalf("ServiceAccountLogin: %v", err)
	}
	if tok.AccessToken == "" || tok.ExpiresAt.Before(time.Now()) {
		t.Fatalf("bad token: %+v", tok)
	}
	if sas.useCount[sa.ID] != 1 {
		t.Fatalf("expected IncrementUse to be called once, got %d", sas.useCount[sa.ID])
	}

	if _, err := s.ServiceAccountLogin(context.Background(), token[:tokenPrefixLen]+"wrongrest"); err == nil {
		t.Fatalf("want error for token with valid prefix but wrong hash")
	}
}
