package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	monitoring "energy-monitor/internal/monitoring/domain"
)

// ConsumptionHistory answers read queries over aggregated hourly totals.
type ConsumptionHistory struct {
	buckets monitoring.BucketRepository
}

// NewConsumptionHistory constructs the query service.
func NewConsumptionHistory(buckets monitoring.BucketRepository) (*ConsumptionHistory, error) {
	if buckets == nil {
		return nil, errors.New("consumption history: nil bucket repository")
	}
	return &ConsumptionHistory{buckets: buckets}, nil
}

// ListDay returns the hourly buckets for one device on one UTC calendar day,
// ordered by hour. Hours without measurements are absent.
func (h *ConsumptionHistory) ListDay(ctx context.Context, deviceID string, day time.Time) ([]monitoring.HourlyConsumption, error) {
	if deviceID == "" {
		return nil, errors.New("consumption history: empty device id")
	}
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := h.buckets.ListByDeviceAndRange(ctx, deviceID, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("consumption history: list %s: %w", deviceID, err)
	}
	return rows, nil
}

// Bucket returns one device's bucket for the hour containing at, or nil when
// no measurement has been aggregated into it.
func (h *ConsumptionHistory) Bucket(ctx context.Context, deviceID string, at time.Time) (*monitoring.HourlyConsumption, error) {
	if deviceID == "" {
		return nil, errors.New("consumption history: empty device id")
	}
	hourStart := at.UTC().Truncate(time.Hour)
	bucket, err := h.buckets.Get(ctx, deviceID, hourStart)
	if err != nil {
		return nil, fmt.Errorf("consumption history: get %s: %w", deviceID, err)
	}
	return bucket, nil
}
