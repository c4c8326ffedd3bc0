package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
)

// DeviceRepo implements DeviceRepository using PostgreSQL.
type DeviceRepo struct{ db *DB }

// NewDeviceRepo constructs a device repository.
func NewDeviceRepo(db *DB) *DeviceRepo { return &DeviceRepo{db: db} }

// Create registers a new device installation.
func (r *DeviceRepo) Create(ctx context.Context, d *model.Device) error {
	const q = `
INSERT INTO devices (id, user_id, name, fingerprint, last_seen_at)
VALUES ($1,$2,$3,$4,now())`
	_, err := r.db.Pool.Exec(ctx, q, d.ID, d.UserID, d.Name, d.Fingerprint)
	return err
}

// Touch updates a device's last-seen timestamp.
func (r *DeviceRepo) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE devices SET last_seen_at=$2 WHERE id=$1`
	_, err := r.db.Pool.Exec(ctx, q, id, at)
	return err
}

// GetByFingerprint looks up a user's device by its client-reported fingerprint.
func (r *DeviceRepo) GetByFingerprint(ctx context.Context, userID uuid.UUID, fingerprint []byte) (*model.Device, error) {
	const q = `
SELECT id, user_id, name, fingerprint, last_seen_at, created_at
FROM devices WHERE user_id=$1 AND fingerprint=$2`
	row := r.db.Pool.QueryRow(ctx, q, userID, fingerprint)
	var d model.Device
	if err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.Fingerprint, &d.LastSeenAt, &d.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.KindNotFound, "device not found", errs.ErrNotFound)
		}
		return nil, err
	}
	return &d, nil
}
