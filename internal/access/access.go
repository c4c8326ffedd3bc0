// Package access evaluates role and service-account scope authorization for
// every vault-scoped operation.
package access

import (
	"context"
	"net"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
)

// Op is a requested operation over a vault/path.
type Op string

const (
	OpRead          Op = "read"
	OpList          Op = "list"
	OpCreate        Op = "create"
	OpUpdate        Op = "update"
	OpDelete        Op = "delete"
	OpRotate        Op = "rotate"
	OpManageMembers Op = "manage-members"
)

// roleOps maps each role to the action set it permits, per spec.md §4.2.
var roleOps = map[model.Role]map[Op]bool{
	model.RoleAdmin: {
		OpRead: true, OpList: true, OpCreate: true, OpUpdate: true,
		OpDelete: true, OpRotate: true, OpManageMembers: true,
	},
	model.RoleOperator: {
		OpRead: true, OpList: true, OpCreate: true, OpUpdate: true,
		OpDelete: true, OpRotate: true,
	},
	model.RoleMember: {
		OpRead: true, OpList: true, OpCreate: true, OpUpdate: true,
	},
	model.RoleReadonly: {
		OpRead: true, OpList: true,
	},
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID           uuid.UUID
	ServiceAccountID uuid.UUID
	ClientIP         net.IP
}

// IsServiceAccount reports whether the principal is a machine identity.
func (p Principal) IsServiceAccount() bool {
	return p.ServiceAccountID != uuid.Nil
}

// VaultRef identifies a vault by any of the ways a scope pattern may match
// it, plus the two properties that gate service-account eligibility.
type VaultRef struct {
	ID         uuid.UUID
	Slug       string
	Tags       []string
	Kind       model.VaultKind
	Encryption model.EncryptionType
}

// MemberLookup resolves a user's role within a vault.
type MemberLookup interface {
	RoleFor(ctx context.Context, vaultID, userID uuid.UUID) (model.Role, error)
}

// ServiceAccountLookup resolves a service account's scopes and allowlist.
type ServiceAccountLookup interface {
	ScopesFor(ctx context.Context, id uuid.UUID) ([]model.ScopePattern, []string, error)
}

// Evaluator decides whether a principal may perform an operation on a
// (vault, path). Built in the teacher's plain interface-over-struct shape
// (cf. limiter.Limiter/limiter.PG).
type Evaluator struct {
	members  MemberLookup
	accounts ServiceAccountLookup
}

// New constructs an Evaluator.
func New(members MemberLookup, accounts ServiceAccountLookup) *Evaluator {
	return &Evaluator{members: members, accounts: accounts}
}

// Authorize resolves the most specific matching role or scope for the
// principal and the requested (vault, path, op). Returns errs.ErrForbidden
// when the principal is known but not permitted, or errs.ErrNotFound when
// revealing the vault/path's existence would itself be a disclosure.
func (e *Evaluator) Authorize(ctx context.Context, p Principal, v VaultRef, path string, op Op) error {
	if p.IsServiceAccount() {
		return e.authorizeServiceAccount(ctx, p, v, path, op)
	}
	return e.authorizeUser(ctx, p, v, op)
}

func (e *Evaluator) authorizeUser(ctx context.Context, p Principal, v VaultRef, op Op) error {
	role, err := e.members.RoleFor(ctx, v.ID, p.UserID)
	if err != nil {
		return err
	}
	if role == "" {
		return errs.New(errs.KindNotFound, "vault not found", errs.ErrNotFound)
	}
	ops, ok := roleOps[role]
	if !ok || !ops[op] {
		return errs.New(errs.KindForbidden, "operation not permitted for role", errs.ErrForbidden)
	}
	return nil
}

// authorizeServiceAccount implements spec.md §4.2's scope evaluation:
// service accounts may only read/list against shared server-encrypted
// vaults whose matching scope's path prefix covers the requested path, and
// only from an allowlisted IP if one is configured.
func (e *Evaluator) authorizeServiceAccount(ctx context.Context, p Principal, v VaultRef, path string, op Op) error {
	if op != OpRead && op != OpList {
		return errs.New(errs.KindForbidden, "service accounts may only read/list", errs.ErrForbidden)
	}
	if v.Kind != model.VaultShared || v.Encryption != model.EncryptionServer {
		return errs.New(errs.KindNotFound, "vault or path not in scope", errs.ErrNotFound)
	}

	scopes, allowlist, err := e.accounts.ScopesFor(ctx, p.ServiceAccountID)
	if err != nil {
		return err
	}

	if len(allowlist) > 0 && !ipAllowed(p.ClientIP, allowlist) {
		return errs.New(errs.KindForbidden, "client IP not allowlisted", errs.ErrForbidden)
	}

	for _, s := range scopes {
		if !vaultMatches(v, s.VaultMatch) {
			continue
		}
		if !strings.HasPrefix(path, s.PathPrefix) {
			continue
		}
		for _, allowed := range s.Ops {
			if Op(allowed) == op {
				return nil
			}
		}
	}
	return errs.New(errs.KindNotFound, "vault or path not in scope", errs.ErrNotFound)
}

func vaultMatches(v VaultRef, match string) bool {
	if v.ID.String() == match || v.Slug == match {
		return true
	}
	for _, tag := range v.Tags {
		if tag == match {
			return true
		}
	}
	return false
}

func ipAllowed(ip net.IP, allowlist []string) bool {
	if ip == nil {
		return false
	}
	for _, entry := range allowlist {
		if _, cidr, err := net.ParseCIDR(entry); err == nil {
			if cidr.Contains(ip) {
				return true
			}
			continue
		}
		if net.ParseIP(entry).Equal(ip) {
			return true
		}
	}
	return false
}
