// Package model defines the domain entities shared by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// StorageKind distinguishes a local-only binding from a server-backed one.
type StorageKind string

const (
	StorageLocal  StorageKind = "local"
	StorageRemote StorageKind = "remote"
)

// Storage is a client-side binding to either local-only state or a remote server.
type Storage struct {
	ID                   uuid.UUID
	Kind                 StorageKind
	ServerURL            string
	PinnedFingerprint    []byte
	AccountSubject       string
	PersonalVaultsEnable bool
	CreatedAt            time.Time
}

// VaultKind distinguishes personal (always client-encrypted) from shared vaults.
type VaultKind string

const (
	VaultPersonal VaultKind = "personal"
	VaultShared   VaultKind = "shared"
)

// EncryptionType records which party holds the KEK able to unwrap a vault's DEK.
type EncryptionType string

const (
	EncryptionClient EncryptionType = "client"
	EncryptionServer EncryptionType = "server"
)

// CachePolicy controls what a client persists locally for a vault.
type CachePolicy string

const (
	CacheFull         CachePolicy = "full"
	CacheMetadataOnly CachePolicy = "metadata-only"
	CacheNone         CachePolicy = "none"
)

// Vault is a keyed container grouping items under a single encryption scope.
type Vault struct {
	ID          uuid.UUID
	StorageID   uuid.UUID
	Name        string
	Slug        string
	Tags        []string
	Kind        VaultKind
	Encryption  EncryptionType
	WrappedKey  []byte // vault DEK wrapped by the applicable KEK
	CachePolicy CachePolicy
	Default     bool
	RowVersion  int64
	CreatedAt   time.Time
}

// SyncStatus is the lifecycle state of an item as seen by a client cache or
// the authoritative server log.
type SyncStatus string

const (
	StatusActive       SyncStatus = "active"
	StatusTombstone    SyncStatus = "tombstone"
	StatusModified     SyncStatus = "modified"     // client-local: dirty, awaiting push
	StatusLocalDeleted SyncStatus = "local-deleted" // client-local: tombstone pending push
	StatusConflict     SyncStatus = "conflict"
	StatusSynced       SyncStatus = "synced"
)

// RotationState tracks an in-flight secret rotation for an item.
type RotationState string

const (
	RotationNone    RotationState = ""
	RotationPending RotationState = "pending"
	RotationApplied RotationState = "applied"
)

// UploadState tracks the lifecycle of a file attachment referenced by an item.
type UploadState string

const (
	UploadNone    UploadState = ""
	UploadPending UploadState = "pending"
	UploadStored  UploadState = "stored"
)

// EncryptedBlob is an opaque envelope produced by the crypto layer.
type EncryptedBlob []byte

// Item lives in exactly one vault and carries a versioned encrypted payload.
type Item struct {
	ID              uuid.UUID
	VaultID         uuid.UUID
	Path            string // segmented, no leading dot, no "..", max 500 chars
	DisplayName     string // <= 200 chars
	TypeID          string
	PayloadEnc      EncryptedBlob
	PayloadChecksum []byte
	Version         int64 // monotonic per-item version, starts at 1
	RowVersion      int64
	Status          SyncStatus
	DeletedAt       *time.Time
	DeletedBy       uuid.UUID

	RotationState     RotationState
	RotationCandidate EncryptedBlob
	RotationStarted   *time.Time
	RotationExpires   *time.Time

	FileID      string
	UploadState UploadState

	UpdatedAt time.Time
}

// ChangeKind enumerates the kinds of mutation recorded in history and the change feed.
type ChangeKind string

const (
	ChangeCreate  ChangeKind = "create"
	ChangeUpdate  ChangeKind = "update"
	ChangeDelete  ChangeKind = "delete"
	ChangeRestore ChangeKind = "restore"
)

// ItemHistory is an append-only record of a prior item revision.
type ItemHistory struct {
	ItemID       uuid.UUID
	Version      int64
	VaultID      uuid.UUID
	PayloadEnc   EncryptedBlob
	Kind         ChangeKind
	AuthorID     uuid.UUID
	AuthorDevice uuid.UUID
	CreatedAt    time.Time
}

// Change is a row in a per-vault monotonically increasing sequence consumed by sync pull.
type Change struct {
	Sequence  int64
	VaultID   uuid.UUID
	ItemID    uuid.UUID
	Kind      ChangeKind
	Version   int64
	DeviceID  uuid.UUID
	CreatedAt time.Time
}

// PendingChange is a client-local, not-yet-acknowledged mutation awaiting push.
type PendingChange struct {
	ItemID     uuid.UUID
	VaultID    uuid.UUID
	Kind       ChangeKind
	PayloadEnc EncryptedBlob
	BaseSeq    int64
	CreatedAt  time.Time
}

// SyncCursor records a client's bookmark into a vault's change feed.
type SyncCursor struct {
	StorageID    uuid.UUID
	VaultID      uuid.UUID
	LastSeq      int64
	LastSyncedAt time.Time
}

// UserStatus enumerates account lifecycle states.
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
)

// User is an account on an internal-auth or OIDC-mapped identity. Sensitive
// keys are never stored in plaintext.
type User struct {
	ID           uuid.UUID
	Email        string
	KDFSalt      []byte // per-user password-hash salt
	PasswordHash []byte // Argon2id(password || pepper, KDFSalt)
	Status       UserStatus
	CreatedAt    time.Time
}

// Device represents one client installation belonging to a user.
type Device struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Name        string
	Fingerprint []byte
	LastSeenAt  time.Time
	CreatedAt   time.Time
}

// Session is an issued access/refresh token pair, stored as hashes.
type Session struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	DeviceID      uuid.UUID
	AccessHash    []byte
	RefreshHash   []byte
	AccessExpiry  time.Time
	RefreshExpiry time.Time
	CreatedAt     time.Time
}

// ScopePattern is one service-account authorization rule. Ops is restricted
// to read/list; service accounts never get write access.
type ScopePattern struct {
	VaultMatch string // vault id, slug, or tag
	PathPrefix string
	Ops        []string
}

// ServiceAccount is a machine identity carrying a long-lived scoped token.
type ServiceAccount struct {
	ID          uuid.UUID
	Name        string
	Scopes      []ScopePattern
	IPAllowlist []string
	TokenPrefix string
	TokenHash   []byte
	UseCount    int64
	CreatedAt   time.Time
}

// Role is a per-vault named permission set for human principals.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleMember   Role = "member"
	RoleReadonly Role = "readonly"
)

// VaultMember binds a user to a role within a vault.
type VaultMember struct {
	VaultID uuid.UUID
	UserID  uuid.UUID
	Role    Role
}

// Tokens collects issued access/refresh tokens (refresh optional, e.g. for
// service-account logins).
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// UpsertItem is a client change intent with optimistic concurrency base sequence.
type UpsertItem struct {
	ID              uuid.UUID
	VaultID         uuid.UUID
	Path            string
	DisplayName     string
	TypeID          string
	BaseSeq         int64
	PayloadEnc      EncryptedBlob
	PayloadChecksum []byte
}

// ItemVersion reports the new version/sequence after a successful change.
type ItemVersion struct {
	ID        uuid.UUID
	NewVer    int64
	NewSeq    int64
	UpdatedAt time.Time
}

// CachedVault is a client-local mirror of a Vault, carrying the unwrapped key
// material needed for offline reads under the vault's CachePolicy.
type CachedVault struct {
	Vault
	UnwrappedKey []byte
}

// CachedItem is a client-local mirror of an Item plus its sync bookkeeping.
type CachedItem struct {
	Item
	LocalRev int64
}
