package events

import "time"

// MeasurementReceived is raised when the ingest path accepts a device sample.
type MeasurementReceived struct {
	DeviceID         string    `json:"deviceId"`
	Timestamp        time.Time `json:"timestamp"`
	MeasurementValue float64   `json:"measurementValue"`
	SequenceNo       string    `json:"sequenceNo,omitempty"`
	OccurredAt       time.Time `json:"occurredAt"`
}

// OverconsumptionAlert is published when an hourly total first crosses the
// device's configured ceiling.
type OverconsumptionAlert struct {
	DeviceID     string    `json:"deviceId"`
	OwnerUserID  string    `json:"userId"`
	HourStart    time.Time `json:"hourStart"`
	CurrentTotal float64   `json:"measurementValue"`
	Limit        float64   `json:"limit"`
	Message      string    `json:"message"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// DeviceCreated is a sync event carrying a device-creation fact.
type DeviceCreated struct {
	DeviceID       string    `json:"deviceId"`
	DeviceName     string    `json:"deviceName"`
	MaxConsumption float64   `json:"maxConsumption"`
	OwnerUserID    string    `json:"ownerUserId"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// DeviceDeleted is a sync event carrying a device-removal fact.
type DeviceDeleted struct {
	DeviceID   string    `json:"deviceId"`
	OccurredAt time.Time `json:"occurredAt"`
}

// UserCreated is a sync event carrying a user-creation fact.
type UserCreated struct {
	UserID     string    `json:"userId"`
	Username   string    `json:"username"`
	OccurredAt time.Time `json:"occurredAt"`
}
