package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
)

// MemberRepo implements MemberRepository and access.MemberLookup using PostgreSQL.
type MemberRepo struct{ db *DB }

// NewMemberRepo constructs a member repository.
func NewMemberRepo(db *DB) *MemberRepo { return &MemberRepo{db: db} }

// RoleFor returns the caller's role within a vault.
func (r *MemberRepo) RoleFor(ctx context.Context, vaultID, userID uuid.UUID) (model.Role, error) {
	const q = `SELECT role FROM vault_members WHERE vault_id=$1 AND user_id=$2`
	var role string
	err := r.db.Pool.QueryRow(ctx, q, vaultID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", errs.New(errs.KindNotFound, "not a member of this vault", errs.ErrNotFound)
		}
		return "", err
	}
	return model.Role(role), nil
}

// SetRole upserts a member's role within a vault.
func (r *MemberRepo) SetRole(ctx context.Context, vaultID, userID uuid.UUID, role model.Role) error {
	const q = `
INSERT INTO vault_members (vault_id, user_id, role)
VALUES ($1,$2,$3)
ON CONFLICT (vault_id, user_id) DO UPDATE SET role=excluded.role`
	_, err := r.db.Pool.Exec(ctx, q, vaultID, userID, string(role))
	return err
}
