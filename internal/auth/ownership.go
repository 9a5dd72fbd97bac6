package auth

import (
	"context"
	"errors"

	monitoring "energy-monitor/internal/monitoring/domain"
)

var (
	// ErrOwnerMismatch indicates the device belongs to a different user.
	ErrOwnerMismatch = errors.New("auth: device owner mismatch")
	// ErrDeviceUnknown indicates the device is not in the local read model.
	ErrDeviceUnknown = errors.New("auth: device unknown")
)

// DeviceOwnerChecker validates device ownership for read queries.
type DeviceOwnerChecker interface {
	EnsureDeviceOwner(ctx context.Context, userID, deviceID string) error
}

// OwnerChecker checks device ownership against the reference read model.
// Admins bypass the check in the HTTP layer; the checker itself only
// answers who owns what.
type OwnerChecker struct {
	refs monitoring.DeviceReferenceRepository
}

// NewOwnerChecker constructs an OwnerChecker.
func NewOwnerChecker(refs monitoring.DeviceReferenceRepository) *OwnerChecker {
	if refs == nil {
		return nil
	}
	return &OwnerChecker{refs: refs}
}

// EnsureDeviceOwner verifies the device belongs to the user.
func (c *OwnerChecker) EnsureDeviceOwner(ctx context.Context, userID, deviceID string) error {
	if c == nil || c.refs == nil {
		return nil
	}
	if userID == "" || deviceID == "" {
		return nil
	}
	ref, err := c.refs.Lookup(ctx, deviceID)
	if err != nil {
		return err
	}
	if ref == nil {
		return ErrDeviceUnknown
	}
	if ref.OwnerUserID != "" && ref.OwnerUserID != userID {
		return ErrOwnerMismatch
	}
	return nil
}
