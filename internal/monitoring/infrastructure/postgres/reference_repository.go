package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	monitoring "energy-monitor/internal/monitoring/domain"
)

const (
	defaultDeviceTable = "device_references"
	defaultUserTable   = "user_references"
)

// ReferenceRepository is a Postgres implementation of the device/user
// reference read model.
type ReferenceRepository struct {
	db          *sql.DB
	deviceTable string
	userTable   string
}

// NewReferenceRepository constructs a repository with default table names.
func NewReferenceRepository(db *sql.DB, opts ...ReferenceOption) *ReferenceRepository {
	repo := &ReferenceRepository{db: db, deviceTable: defaultDeviceTable, userTable: defaultUserTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ReferenceOption configures the repository.
type ReferenceOption func(*ReferenceRepository)

// WithDeviceTable overrides the device table name.
func WithDeviceTable(table string) ReferenceOption {
	return func(repo *ReferenceRepository) {
		if table != "" {
			repo.deviceTable = table
		}
	}
}

// WithUserTable overrides the user table name.
func WithUserTable(table string) ReferenceOption {
	return func(repo *ReferenceRepository) {
		if table != "" {
			repo.userTable = table
		}
	}
}

// Lookup returns the device reference or (nil, nil) when absent.
func (r *ReferenceRepository) Lookup(ctx context.Context, deviceID string) (*monitoring.DeviceReference, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reference repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT device_id, device_name, max_consumption, owner_user_id
FROM %s
WHERE device_id = $1`, r.deviceTable)

	ref := monitoring.DeviceReference{}
	owner := sql.NullString{}
	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(&ref.DeviceID, &ref.DeviceName, &ref.MaxConsumption, &owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ref.OwnerUserID = owner.String
	return &ref, nil
}

// Upsert stores a device reference.
func (r *ReferenceRepository) Upsert(ctx context.Context, ref monitoring.DeviceReference) error {
	if r == nil || r.db == nil {
		return errors.New("reference repo: nil db")
	}
	if err := ref.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (device_id, device_name, max_consumption, owner_user_id, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (device_id)
DO UPDATE SET
	device_name = EXCLUDED.device_name,
	max_consumption = EXCLUDED.max_consumption,
	owner_user_id = EXCLUDED.owner_user_id,
	updated_at = EXCLUDED.updated_at`, r.deviceTable)

	owner := sql.NullString{}
	if ref.OwnerUserID != "" {
		owner = sql.NullString{String: ref.OwnerUserID, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query, ref.DeviceID, ref.DeviceName, ref.MaxConsumption, owner, time.Now().UTC())
	return err
}

// Delete removes a device reference.
func (r *ReferenceRepository) Delete(ctx context.Context, deviceID string) error {
	if r == nil || r.db == nil {
		return errors.New("reference repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE device_id = $1", r.deviceTable), deviceID)
	return err
}

// UpsertUser stores a user reference.
func (r *ReferenceRepository) UpsertUser(ctx context.Context, ref monitoring.UserReference) error {
	if r == nil || r.db == nil {
		return errors.New("reference repo: nil db")
	}
	if ref.UserID == "" {
		return errors.New("reference repo: empty user id")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (user_id, username, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (user_id)
DO UPDATE SET
	username = EXCLUDED.username,
	updated_at = EXCLUDED.updated_at`, r.userTable)

	_, err := r.db.ExecContext(ctx, query, ref.UserID, ref.Username, time.Now().UTC())
	return err
}
