package monitoring

import (
	"context"
	"errors"
	"time"
)

// ErrBucketFinalized is returned when a measurement targets a bucket older
// than the configured finalization horizon.
var ErrBucketFinalized = errors.New("monitoring: bucket finalized")

// HourlyConsumption is the accumulated energy total for one device and hour.
type HourlyConsumption struct {
	DeviceID         string    `json:"deviceId"`
	HourStart        time.Time `json:"hourStart"`
	TotalConsumption float64   `json:"totalConsumption"`
	Alerted          bool      `json:"alerted"`
	LastUpdatedAt    time.Time `json:"lastUpdatedAt"`
}

// AppliedUpdate is the outcome of one ApplyMeasurement call.
type AppliedUpdate struct {
	NewTotal  float64
	Alerted   bool
	Duplicate bool
}

// BucketRepository persists per-device-per-hour consumption totals.
//
// ApplyMeasurement must be atomic per (deviceID, hourStart): recording the
// idempotency key and incrementing the total happen together or not at all.
// A key seen before yields Duplicate=true and leaves the total untouched.
type BucketRepository interface {
	ApplyMeasurement(ctx context.Context, key, deviceID string, hourStart time.Time, delta float64) (AppliedUpdate, error)
	Get(ctx context.Context, deviceID string, hourStart time.Time) (*HourlyConsumption, error)
	// MarkAlerted flips the per-bucket alerted flag and reports whether this
	// call performed the false-to-true transition.
	MarkAlerted(ctx context.Context, deviceID string, hourStart time.Time) (bool, error)
	ListByDeviceAndRange(ctx context.Context, deviceID string, from, to time.Time) ([]HourlyConsumption, error)
	DeleteByDevice(ctx context.Context, deviceID string) error
	// PruneAppliedBefore discards idempotency keys applied before the cutoff,
	// keeping the dedup table bounded.
	PruneAppliedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
