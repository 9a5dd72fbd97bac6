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
	defaultBucketTable  = "hourly_consumption"
	defaultAppliedTable = "applied_measurements"
)

// BucketRepository is a Postgres implementation of the bucket store. The
// increment is expressed in the database, so concurrent workers touching the
// same bucket serialize on the row instead of on any in-process lock.
type BucketRepository struct {
	db           *sql.DB
	bucketTable  string
	appliedTable string
}

// NewBucketRepository constructs a repository with default table names.
func NewBucketRepository(db *sql.DB, opts ...BucketOption) *BucketRepository {
	repo := &BucketRepository{db: db, bucketTable: defaultBucketTable, appliedTable: defaultAppliedTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// BucketOption configures the repository.
type BucketOption func(*BucketRepository)

// WithBucketTable overrides the bucket table name.
func WithBucketTable(table string) BucketOption {
	return func(repo *BucketRepository) {
		if table != "" {
			repo.bucketTable = table
		}
	}
}

// WithAppliedTable overrides the applied-keys table name.
func WithAppliedTable(table string) BucketOption {
	return func(repo *BucketRepository) {
		if table != "" {
			repo.appliedTable = table
		}
	}
}

// ApplyMeasurement records the idempotency key and increments the bucket
// total in one transaction. A key seen before leaves the total untouched and
// reports Duplicate.
func (r *BucketRepository) ApplyMeasurement(ctx context.Context, key, deviceID string, hourStart time.Time, delta float64) (monitoring.AppliedUpdate, error) {
	if r == nil || r.db == nil {
		return monitoring.AppliedUpdate{}, errors.New("bucket repo: nil db")
	}
	if key == "" || deviceID == "" || hourStart.IsZero() {
		return monitoring.AppliedUpdate{}, errors.New("bucket repo: invalid arguments")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return monitoring.AppliedUpdate{}, err
	}

	now := time.Now().UTC()
	claim := fmt.Sprintf(`
INSERT INTO %s (measurement_key, device_id, hour_start, applied_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (measurement_key)
DO NOTHING`, r.appliedTable)

	res, err := tx.ExecContext(ctx, claim, key, deviceID, hourStart.UTC(), now)
	if err != nil {
		_ = tx.Rollback()
		return monitoring.AppliedUpdate{}, err
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return monitoring.AppliedUpdate{}, err
	}

	if claimed == 0 {
		// Redelivery. Report the current total without touching it.
		current := fmt.Sprintf(`
SELECT total_consumption, alerted
FROM %s
WHERE device_id = $1 AND hour_start = $2`, r.bucketTable)
		update := monitoring.AppliedUpdate{Duplicate: true}
		err := tx.QueryRowContext(ctx, current, deviceID, hourStart.UTC()).Scan(&update.NewTotal, &update.Alerted)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			_ = tx.Rollback()
			return monitoring.AppliedUpdate{}, err
		}
		if err := tx.Commit(); err != nil {
			return monitoring.AppliedUpdate{}, err
		}
		return update, nil
	}

	upsert := fmt.Sprintf(`
INSERT INTO %s (device_id, hour_start, total_consumption, alerted, updated_at)
VALUES ($1, $2, $3, FALSE, $4)
ON CONFLICT (device_id, hour_start)
DO UPDATE SET
	total_consumption = %s.total_consumption + EXCLUDED.total_consumption,
	updated_at = EXCLUDED.updated_at
RETURNING total_consumption, alerted`, r.bucketTable, r.bucketTable)

	update := monitoring.AppliedUpdate{}
	if err := tx.QueryRowContext(ctx, upsert, deviceID, hourStart.UTC(), delta, now).Scan(&update.NewTotal, &update.Alerted); err != nil {
		_ = tx.Rollback()
		return monitoring.AppliedUpdate{}, err
	}
	if err := tx.Commit(); err != nil {
		return monitoring.AppliedUpdate{}, err
	}
	return update, nil
}

// Get loads one bucket, returning (nil, nil) when absent.
func (r *BucketRepository) Get(ctx context.Context, deviceID string, hourStart time.Time) (*monitoring.HourlyConsumption, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("bucket repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT device_id, hour_start, total_consumption, alerted, updated_at
FROM %s
WHERE device_id = $1 AND hour_start = $2`, r.bucketTable)

	bucket := monitoring.HourlyConsumption{}
	err := r.db.QueryRowContext(ctx, query, deviceID, hourStart.UTC()).Scan(
		&bucket.DeviceID,
		&bucket.HourStart,
		&bucket.TotalConsumption,
		&bucket.Alerted,
		&bucket.LastUpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bucket, nil
}

// MarkAlerted flips the alerted flag and reports whether this call performed
// the transition.
func (r *BucketRepository) MarkAlerted(ctx context.Context, deviceID string, hourStart time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("bucket repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET alerted = TRUE, updated_at = $3
WHERE device_id = $1 AND hour_start = $2 AND alerted = FALSE`, r.bucketTable)

	res, err := r.db.ExecContext(ctx, query, deviceID, hourStart.UTC(), time.Now().UTC())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ListByDeviceAndRange returns buckets in [from, to) ordered by hour.
func (r *BucketRepository) ListByDeviceAndRange(ctx context.Context, deviceID string, from, to time.Time) ([]monitoring.HourlyConsumption, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("bucket repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT device_id, hour_start, total_consumption, alerted, updated_at
FROM %s
WHERE device_id = $1 AND hour_start >= $2 AND hour_start < $3
ORDER BY hour_start ASC`, r.bucketTable)

	rows, err := r.db.QueryContext(ctx, query, deviceID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []monitoring.HourlyConsumption
	for rows.Next() {
		bucket := monitoring.HourlyConsumption{}
		if err := rows.Scan(&bucket.DeviceID, &bucket.HourStart, &bucket.TotalConsumption, &bucket.Alerted, &bucket.LastUpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, bucket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteByDevice removes all buckets and applied keys for a device.
func (r *BucketRepository) DeleteByDevice(ctx context.Context, deviceID string) error {
	if r == nil || r.db == nil {
		return errors.New("bucket repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE device_id = $1", r.appliedTable), deviceID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE device_id = $1", r.bucketTable), deviceID); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// PruneAppliedBefore drops idempotency keys applied before the cutoff.
func (r *BucketRepository) PruneAppliedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("bucket repo: nil db")
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE applied_at < $1", r.appliedTable)
	res, err := r.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
