package access

import (
	"context"
	"net"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
)

type fakeMembers struct {
	roles map[uuid.UUID]model.Role
}

func (f fakeMembers) RoleFor(ctx context.Context, vaultID, userID uuid.UUID) (model.Role, error) {
	return f.roles[userID], nil
}

type fakeAccounts struct {
	scopes    []model.ScopePattern
	allowlist []string
}

func (f fakeAccounts) ScopesFor(ctx context.Context, id uuid.UUID) ([]model.ScopePattern, []string, error) {
	return f.scopes, f.allowlist, nil
}

func TestAuthorizeUser_RoleGrantsExpectedOps(t *testing.T) {
	t.Parallel()

	userID := uuid.Must(uuid.NewV4())
	vaultID := uuid.Must(uuid.NewV4())
	e := New(fakeMembers{roles: map[uuid.UUID]model.Role{userID: model.RoleReadonly}}, fakeAccounts{})
	p := Principal{UserID: userID}
	v := VaultRef{ID: vaultID}

	if err := e.Authorize(context.Background(), p, v, "x", OpRead); err != nil {
		t.Fatalf("readonly read: %v", err)
	}
	if err := e.Authorize(context.Background(), p, v, "x", OpUpdate); err == nil {
		t.Fatalf("readonly update: expected Forbidden")
	}
}

func TestAuthorizeUser_UnknownRoleIsNotFound(t *testing.T) {
	t.Parallel()

	userID := uuid.Must(uuid.NewV4())
	e := New(fakeMembers{roles: map[uuid.UUID]model.Role{}}, fakeAccounts{})
	err := e.Authorize(context.Background(), Principal{UserID: userID}, VaultRef{}, "x", OpRead)
	if err == nil {
		t.Fatalf("expected error")
	}
	var e2 *errs.Error
	if !asErr(err, &e2) || e2.Kind != errs.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestAuthorizeServiceAccount_ScopeMatch(t *testing.T) {
	t.Parallel()

	saID := uuid.Must(uuid.NewV4())
	e := New(fakeMembers{}, fakeAccounts{
		scopes: []model.ScopePattern{
			{VaultMatch: "infra", PathPrefix: "db/prod/", Ops: []string{"read", "list"}},
		},
	})
	p := Principal{ServiceAccountID: saID}
	v := VaultRef{Slug: "infra", Kind: model.VaultShared, Encryption: model.EncryptionServer}

	if err := e.Authorize(context.Background(), p, v, "db/prod/item1", OpRead); err != nil {
		t.Fatalf("expected read allowed: %v", err)
	}
	if err := e.Authorize(context.Background(), p, v, "db/prod/item1", OpUpdate); err == nil {
		t.Fatalf("expected write forbidden for service account")
	}
	if err := e.Authorize(context.Background(), p, v, "db/staging/item1", OpRead); err == nil {
		t.Fatalf("expected NotFound for out-of-scope path")
	}
}

func TestAuthorizeServiceAccount_IPAllowlist(t *testing.T) {
	t.Parallel()

	saID := uuid.Must(uuid.NewV4())
	e := New(fakeMembers{}, fakeAccounts{
		scopes:    []model.ScopePattern{{VaultMatch: "infra", PathPrefix: "", Ops: []string{"read"}}},
		allowlist: []string{"10.0.0.0/8"},
	})
	v := VaultRef{Slug: "infra", Kind: model.VaultShared, Encryption: model.EncryptionServer}

	ok := Principal{ServiceAccountID: saID, ClientIP: net.ParseIP("10.1.2.3")}
	if err := e.Authorize(context.Background(), ok, v, "x", OpRead); err != nil {
		t.Fatalf("expected allowed IP to pass: %v", err)
	}

	bad := Principal{ServiceAccountID: saID, ClientIP: net.ParseIP("8.8.8.8")}
	if err := e.Authorize(context.Background(), bad, v, "x", OpRead); err == nil {
		t.Fatalf("expected disallowed IP to be rejected")
	}
}

func TestAuthorizeServiceAccount_RejectsPersonalOrClientEncryptedVault(t *testing.T) {
	t.Parallel()

	saID := uuid.Must(uuid.NewV4())
	e := New(fakeMembers{}, fakeAccounts{
		scopes: []model.ScopePattern{
			{VaultMatch: "infra", PathPrefix: "", Ops: []string{"read", "list"}},
		},
	})
	p := Principal{ServiceAccountID: saID}

	personal := VaultRef{Slug: "infra", Kind: model.VaultPersonal, Encryption: model.EncryptionServer}
	err := e.Authorize(context.Background(), p, personal, "x", OpRead)
	if err == nil {
		t.Fatalf("expected personal vault to be rejected for service account")
	}
	var e2 *errs.Error
	if !asErr(err, &e2) || e2.Kind != errs.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	clientEnc := VaultRef{Slug: "infra", Kind: model.VaultShared, Encryption: model.EncryptionClient}
	err = e.Authorize(context.Background(), p, clientEnc, "x", OpRead)
	if err == nil {
		t.Fatalf("expected client-encrypted vault to be rejected for service account")
	}
	var e3 *errs.Error
	if !asErr(err, &e3) || e3.Kind != errs.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func asErr(err error, target **errs.Error) bool {
	e, ok := err.(*errs.Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
