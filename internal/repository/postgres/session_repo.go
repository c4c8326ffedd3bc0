package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
)

// SessionRepo implements SessionRepository using PostgreSQL.
type SessionRepo struct{ db *DB }

// NewSessionRepo constructs a session repository.
func NewSessionRepo(db *DB) *SessionRepo { return &SessionRepo{db: db} }

// Create inserts a newly issued session.
func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	const q = `
INSERT INTO sessions (id, user_id, device_id, access_hash, refresh_hash, access_expiry, refresh_expiry)
VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.db.Pool.Exec(ctx, q, s.ID, s.UserID, s.DeviceID, s.AccessHash, s.RefreshHash, s.AccessExpiry, s.RefreshExpiry)
	return err
}

// Rotate atomically replaces a session's access/refresh hashes, keyed by the
// current refresh hash, to stop a stolen refresh token from being replayed
// once it has been exchanged.
func (r *SessionRepo) Rotate(ctx context.Context, oldRefreshHash []byte, s *model.Session) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { finish(ctx, tx, &err) }()

	const sel = `SELECT id FROM sessions WHERE refresh_hash=$1 FOR UPDATE`
	var id string
	if err = tx.QueryRow(ctx, sel, oldRefreshHash).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.New(errs.KindSessionExpired, "refresh token not recognized", errs.ErrSessionExpired)
		}
		return err
	}

	const upd = `
UPDATE sessions SET access_hash=$2, refresh_hash=$3, access_expiry=$4, refresh_expiry=$5
WHERE refresh_hash=$1`
	_, err = tx.Exec(ctx, upd, oldRefreshHash, s.AccessHash, s.RefreshHash, s.AccessExpiry, s.RefreshExpiry)
	return err
}

// GetByAccessHash resolves a session by its hashed access token.
func (r *SessionRepo) GetByAccessHash(ctx context.Context, accessHash []byte) (*model.Session, error) {
	const q = `
SELECT id, user_id, device_id, access_hash, refresh_hash, access_expiry, refresh_expiry, created_at
FROM sessions WHERE access_hash=$1`
	row := r.db.Pool.QueryRow(ctx, q, accessHash)
	var s model.Session
	if err := row.Scan(&s.ID, &s.UserID, &s.DeviceID, &s.AccessHash, &s.RefreshHash, &s.AccessExpiry, &s.RefreshExpiry, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.KindSessionExpired, "session not found", errs.ErrSessionExpired)
		}
		return nil, err
	}
	return &s, nil
}

// GetByRefreshHash resolves a session by its hashed refresh token.
func (r *SessionRepo) GetByRefreshHash(ctx context.Context, refreshHash []byte) (*model.Session, error) {
	const q = `
SELECT id, user_id, device_id, access_hash, refresh_hash, access_expiry, refresh_expiry, created_at
FROM sessions WHERE refresh_hash=$1`
	row := r.db.Pool.QueryRow(ctx, q, refreshHash)
	var s model.Session
	if err := row.Scan(&s.ID, &s.UserID, &s.DeviceID, &s.AccessHash, &s.RefreshHash, &s.AccessExpiry, &s.RefreshExpiry, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.KindSessionExpired, "session not found", errs.ErrSessionExpired)
		}
		return nil, err
	}
	return &s, nil
}

// DeleteByRefreshHash revokes a session (logout).
func (r *SessionRepo) DeleteByRefreshHash(ctx context.Context, refreshHash []byte) error {
	const q = `DELETE FROM sessions WHERE refresh_hash=$1`
	_, err := r.db.Pool.Exec(ctx, q, refreshHash)
	return err
}
