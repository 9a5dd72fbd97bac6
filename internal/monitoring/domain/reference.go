package monitoring

import (
	"context"
	"errors"
)

// ErrInvalidReference is returned when a reference record fails validation.
var ErrInvalidReference = errors.New("monitoring: invalid reference")

// DeviceReference is the read-model copy of a device kept current by the
// out-of-band sync stream. At most one reference exists per device.
type DeviceReference struct {
	DeviceID       string  `json:"deviceId"`
	DeviceName     string  `json:"deviceName"`
	MaxConsumption float64 `json:"maxConsumption"`
	OwnerUserID    string  `json:"ownerUserId"`
}

// Validate checks reference invariants.
func (r DeviceReference) Validate() error {
	if r.DeviceID == "" {
		return errors.New("monitoring: device reference: empty device id")
	}
	if r.MaxConsumption < 0 {
		return errors.New("monitoring: device reference: negative max consumption")
	}
	return nil
}

// UserReference is the read-model copy of a user.
type UserReference struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// DeviceReferenceRepository reads and syncs device references. Lookup
// returns (nil, nil) when no reference exists.
type DeviceReferenceRepository interface {
	Lookup(ctx context.Context, deviceID string) (*DeviceReference, error)
	Upsert(ctx context.Context, ref DeviceReference) error
	Delete(ctx context.Context, deviceID string) error
}

// UserReferenceRepository syncs user references.
type UserReferenceRepository interface {
	UpsertUser(ctx context.Context, ref UserReference) error
}
