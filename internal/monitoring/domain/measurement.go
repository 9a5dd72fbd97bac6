package monitoring

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidMeasurement is returned when a measurement fails validation.
var ErrInvalidMeasurement = errors.New("monitoring: invalid measurement")

// Measurement is one energy sample reported by a device. Value is the energy
// delta for the sampling interval, never a running total.
type Measurement struct {
	DeviceID   string
	Timestamp  time.Time
	Value      float64
	SequenceNo string
}

// Validate checks measurement invariants.
func (m Measurement) Validate() error {
	if m.DeviceID == "" {
		return fmt.Errorf("%w: empty device id", ErrInvalidMeasurement)
	}
	if m.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalidMeasurement)
	}
	if m.Value < 0 {
		return fmt.Errorf("%w: negative value", ErrInvalidMeasurement)
	}
	return nil
}

// HourStart truncates the measurement timestamp down to its containing hour.
func (m Measurement) HourStart() time.Time {
	return m.Timestamp.UTC().Truncate(time.Hour)
}

// IdempotencyKey identifies this measurement across redeliveries. The
// producer-assigned sequence number wins when present; otherwise the key is
// derived from the measurement content, which makes broker redeliveries of
// the same message collapse while distinct samples stay distinct.
func (m Measurement) IdempotencyKey() string {
	if m.SequenceNo != "" {
		return m.DeviceID + ":" + m.SequenceNo
	}
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%d|%.6f", m.DeviceID, m.Timestamp.UTC().UnixNano(), m.Value)))
	return hex.EncodeToString(sum[:])
}
