package memory

import (
	"context"
	"sync"

	monitoring "energy-monitor/internal/monitoring/domain"
)

// ReferenceRepository is an in-memory device/user reference store.
type ReferenceRepository struct {
	mu      sync.RWMutex
	devices map[string]monitoring.DeviceReference
	users   map[string]monitoring.UserReference
}

// NewReferenceRepository constructs a repository.
func NewReferenceRepository() *ReferenceRepository {
	return &ReferenceRepository{
		devices: make(map[string]monitoring.DeviceReference),
		users:   make(map[string]monitoring.UserReference),
	}
}

// Lookup returns the device reference or (nil, nil) when absent.
func (r *ReferenceRepository) Lookup(ctx context.Context, deviceID string) (*monitoring.DeviceReference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.devices[deviceID]
	if !ok {
		return nil, nil
	}
	copied := ref
	return &copied, nil
}

// Upsert stores a device reference.
func (r *ReferenceRepository) Upsert(ctx context.Context, ref monitoring.DeviceReference) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ref.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[ref.DeviceID] = ref
	return nil
}

// Delete removes a device reference.
func (r *ReferenceRepository) Delete(ctx context.Context, deviceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, deviceID)
	return nil
}

// UpsertUser stores a user reference.
func (r *ReferenceRepository) UpsertUser(ctx context.Context, ref monitoring.UserReference) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[ref.UserID] = ref
	return nil
}
