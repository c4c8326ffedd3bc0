// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/zann-project/zann/internal/model"
)

// UserRepository provides CRUD access for users.
type UserRepository interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

// DeviceRepository tracks client installations belonging to a user.
type DeviceRepository interface {
	Create(ctx context.Context, d *model.Device) error
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
	GetByFingerprint(ctx context.Context, userID uuid.UUID, fingerprint []byte) (*model.Device, error)
}

// SessionRepository stores issued access/refresh token hashes.
type SessionRepository interface {
	Create(ctx context.Context, s *model.Session) error
	// Rotate atomically replaces a session's access/refresh hashes, keyed by
	// the current refresh hash, or returns errs.ErrSessionExpired if it no longer matches.
	Rotate(ctx context.Context, oldRefreshHash []byte, s *model.Session) error
	GetByAccessHash(ctx context.Context, accessHash []byte) (*model.Session, error)
	GetByRefreshHash(ctx context.Context, refreshHash []byte) (*model.Session, error)
	DeleteByRefreshHash(ctx context.Context, refreshHash []byte) error
}

// ServiceAccountRepository manages machine identities and their tokens.
type ServiceAccountRepository interface {
	Create(ctx context.Context, sa *model.ServiceAccount) error
	GetByTokenPrefix(ctx context.Context, prefix string) (*model.ServiceAccount, error)
	IncrementUse(ctx context.Context, id uuid.UUID) error
}

// VaultRepository manages vault lifecycle and membership.
type VaultRepository interface {
	Create(ctx context.Context, v *model.Vault) error
	Get(ctx context.Context, id uuid.UUID) (*model.Vault, error)
	GetBySlug(ctx context.Context, slug string) (*model.Vault, error)
	List(ctx context.Context, storageID uuid.UUID) ([]model.Vault, error)
}

// MemberRepository resolves and manages per-vault role membership.
type MemberRepository interface {
	RoleFor(ctx context.Context, vaultID, userID uuid.UUID) (model.Role, error)
	SetRole(ctx context.Context, vaultID, userID uuid.UUID, role model.Role) error
}
