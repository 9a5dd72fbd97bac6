package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"energy-monitor/internal/auth"
	"energy-monitor/internal/monitoring/application"
	monitoring "energy-monitor/internal/monitoring/domain"
	"energy-monitor/internal/sharding"
)

const dateLayout = "2006-01-02"

// Submitter routes a measurement into the aggregation pipeline.
type Submitter interface {
	Submit(ctx context.Context, m monitoring.Measurement) error
}

// MeasurementsHandler handles POST /monitoring/measurements.
type MeasurementsHandler struct {
	submitter Submitter
	logger    *log.Logger
}

// NewMeasurementsHandler constructs a MeasurementsHandler.
func NewMeasurementsHandler(submitter Submitter, logger *log.Logger) (*MeasurementsHandler, error) {
	if submitter == nil {
		return nil, errors.New("measurements handler: nil submitter")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &MeasurementsHandler{submitter: submitter, logger: logger}, nil
}

type measurementRequest struct {
	DeviceID   string  `json:"deviceId"`
	Timestamp  string  `json:"timestamp"`
	Value      float64 `json:"measurementValue"`
	SequenceNo string  `json:"sequenceNo,omitempty"`
}

// ServeHTTP accepts one measurement and enqueues it for its shard.
func (h *MeasurementsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req measurementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	ts, err := time.Parse(time.RFC3339, req.Timestamp)
	if err != nil {
		http.Error(w, "timestamp must be RFC3339", http.StatusBadRequest)
		return
	}
	m := monitoring.Measurement{
		DeviceID:   req.DeviceID,
		Timestamp:  ts,
		Value:      req.Value,
		SequenceNo: req.SequenceNo,
	}
	if err := h.submitter.Submit(r.Context(), m); err != nil {
		switch {
		case errors.Is(err, monitoring.ErrInvalidMeasurement):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, sharding.ErrNoShardAvailable):
			http.Error(w, "no shard available", http.StatusServiceUnavailable)
		default:
			h.logger.Printf("measurements handler: submit failed device=%s: %v", req.DeviceID, err)
			http.Error(w, "submit error", http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ConsumptionHandler handles GET /monitoring/devices/{deviceId}/consumption.
type ConsumptionHandler struct {
	history *application.ConsumptionHistory
	owners  auth.DeviceOwnerChecker
	logger  *log.Logger
}

// NewConsumptionHandler constructs a ConsumptionHandler.
func NewConsumptionHandler(history *application.ConsumptionHistory, owners auth.DeviceOwnerChecker, logger *log.Logger) (*ConsumptionHandler, error) {
	if history == nil {
		return nil, errors.New("consumption handler: nil history service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ConsumptionHandler{history: history, owners: owners, logger: logger}, nil
}

// ServeHTTP returns the hourly buckets for one device and day.
func (h *ConsumptionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	deviceID := mux.Vars(r)["deviceId"]
	if deviceID == "" {
		http.Error(w, "deviceId is required", http.StatusBadRequest)
		return
	}
	day, err := parseDateQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := ensureDeviceOwner(r, h.owners, deviceID); err != nil {
		respondOwnerError(w, err)
		return
	}

	rows, err := h.history.ListDay(r.Context(), deviceID, day)
	if err != nil {
		h.logger.Printf("consumption handler: list failed device=%s: %v", deviceID, err)
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []monitoring.HourlyConsumption{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rows)
}

// RingHandler handles GET /monitoring/ring.
type RingHandler struct {
	ring *sharding.Ring
}

// NewRingHandler constructs a RingHandler.
func NewRingHandler(ring *sharding.Ring) (*RingHandler, error) {
	if ring == nil {
		return nil, errors.New("ring handler: nil ring")
	}
	return &RingHandler{ring: ring}, nil
}

type ringResponse struct {
	Shards       []string `json:"shards"`
	VirtualNodes int      `json:"virtualNodes"`
	Entries      int      `json:"entries"`
	Device       string   `json:"device,omitempty"`
	Shard        string   `json:"shard,omitempty"`
}

// ServeHTTP reports ring topology and optionally resolves one device.
func (h *RingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := ringResponse{
		Shards:       h.ring.Shards(),
		VirtualNodes: h.ring.VirtualNodes(),
		Entries:      h.ring.Size(),
	}
	if device := r.URL.Query().Get("device"); device != "" {
		shard, err := h.ring.Lookup(device)
		if err != nil {
			http.Error(w, "no shard available", http.StatusServiceUnavailable)
			return
		}
		resp.Device = device
		resp.Shard = shard
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func parseDateQuery(r *http.Request) (time.Time, error) {
	value := r.URL.Query().Get("date")
	if value == "" {
		return time.Now().UTC(), nil
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, errors.New("date must be YYYY-MM-DD")
	}
	return parsed, nil
}

func ensureDeviceOwner(r *http.Request, owners auth.DeviceOwnerChecker, deviceID string) error {
	if owners == nil {
		return nil
	}
	if auth.RoleFromContext(r.Context()) == auth.RoleAdmin {
		return nil
	}
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		return nil
	}
	return owners.EnsureDeviceOwner(r.Context(), userID, deviceID)
}

func respondOwnerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrOwnerMismatch):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, auth.ErrDeviceUnknown):
		http.Error(w, "device not found", http.StatusNotFound)
	default:
		http.Error(w, "authorization error", http.StatusInternalServerError)
	}
}
