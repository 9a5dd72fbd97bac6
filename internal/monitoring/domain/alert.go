package monitoring

import "time"

// DefaultAlertMessage is the human-readable alert text.
const DefaultAlertMessage = "High energy consumption detected!"

// AlertEvent is the outbound overconsumption notification. It is ephemeral;
// the notification relay owns any persistence.
type AlertEvent struct {
	DeviceID     string    `json:"deviceId"`
	OwnerUserID  string    `json:"userId"`
	HourStart    time.Time `json:"hourStart"`
	CurrentTotal float64   `json:"measurementValue"`
	Limit        float64   `json:"limit"`
	Timestamp    time.Time `json:"timestamp"`
	Message      string    `json:"message"`
}
