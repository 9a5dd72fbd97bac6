package application

import (
	"context"
	"errors"
	"fmt"
	"log"

	"energy-monitor/internal/monitoring/application/events"
	monitoring "energy-monitor/internal/monitoring/domain"
)

// ReferenceSync maintains the local read model of devices and users from
// upstream sync events. Handlers are idempotent; redelivery re-applies the
// same upsert or delete.
type ReferenceSync struct {
	devices monitoring.DeviceReferenceRepository
	users   monitoring.UserReferenceRepository
	buckets monitoring.BucketRepository
	logger  *log.Logger
}

// NewReferenceSync constructs the sync service.
func NewReferenceSync(devices monitoring.DeviceReferenceRepository, users monitoring.UserReferenceRepository, buckets monitoring.BucketRepository, logger *log.Logger) (*ReferenceSync, error) {
	if devices == nil {
		return nil, errors.New("reference sync: nil device repository")
	}
	if users == nil {
		return nil, errors.New("reference sync: nil user repository")
	}
	if buckets == nil {
		return nil, errors.New("reference sync: nil bucket repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ReferenceSync{devices: devices, users: users, buckets: buckets, logger: logger}, nil
}

// HandleDeviceCreated records or refreshes a device reference.
func (s *ReferenceSync) HandleDeviceCreated(ctx context.Context, event events.DeviceCreated) error {
	if event.DeviceID == "" {
		return errors.New("reference sync: device created without device id")
	}
	ref := monitoring.DeviceReference{
		DeviceID:       event.DeviceID,
		DeviceName:     event.DeviceName,
		MaxConsumption: event.MaxConsumption,
		OwnerUserID:    event.OwnerUserID,
	}
	if err := s.devices.Upsert(ctx, ref); err != nil {
		return fmt.Errorf("reference sync: upsert device %s: %w", event.DeviceID, err)
	}
	s.logger.Printf("reference sync: device upserted id=%s limit=%.3f", event.DeviceID, event.MaxConsumption)
	return nil
}

// HandleDeviceDeleted removes the device reference and all of its aggregated
// history and dedup keys.
func (s *ReferenceSync) HandleDeviceDeleted(ctx context.Context, event events.DeviceDeleted) error {
	if event.DeviceID == "" {
		return errors.New("reference sync: device deleted without device id")
	}
	if err := s.buckets.DeleteByDevice(ctx, event.DeviceID); err != nil {
		return fmt.Errorf("reference sync: purge buckets for %s: %w", event.DeviceID, err)
	}
	if err := s.devices.Delete(ctx, event.DeviceID); err != nil {
		return fmt.Errorf("reference sync: delete device %s: %w", event.DeviceID, err)
	}
	s.logger.Printf("reference sync: device removed id=%s", event.DeviceID)
	return nil
}

// HandleUserCreated records or refreshes a user reference.
func (s *ReferenceSync) HandleUserCreated(ctx context.Context, event events.UserCreated) error {
	if event.UserID == "" {
		return errors.New("reference sync: user created without user id")
	}
	ref := monitoring.UserReference{UserID: event.UserID, Username: event.Username}
	if err := s.users.UpsertUser(ctx, ref); err != nil {
		return fmt.Errorf("reference sync: upsert user %s: %w", event.UserID, err)
	}
	s.logger.Printf("reference sync: user upserted id=%s", event.UserID)
	return nil
}
