package routing

import (
	"errors"
	"fmt"

	monitoring "energy-monitor/internal/monitoring/domain"
	"energy-monitor/internal/observability/metrics"
	"energy-monitor/internal/sharding"
)

// Router assigns measurements to aggregation shards by device identity.
// Every measurement for one device lands on the same shard for a fixed
// shard set.
type Router struct {
	ring *sharding.Ring
}

// NewRouter constructs a router over an immutable ring.
func NewRouter(ring *sharding.Ring) (*Router, error) {
	if ring == nil {
		return nil, errors.New("routing: nil ring")
	}
	return &Router{ring: ring}, nil
}

// Route returns the shard that owns the measurement's device.
func (r *Router) Route(m monitoring.Measurement) (string, error) {
	if err := m.Validate(); err != nil {
		metrics.IncRoutingError()
		return "", err
	}
	shard, err := r.ring.Lookup(m.DeviceID)
	if err != nil {
		metrics.IncRoutingError()
		return "", fmt.Errorf("routing: device %s: %w", m.DeviceID, err)
	}
	return shard, nil
}

// ShardFor resolves the owning shard for a raw device id. Used by the ring
// diagnostic endpoint.
func (r *Router) ShardFor(deviceID string) (string, error) {
	return r.ring.Lookup(deviceID)
}

// Ring exposes the underlying ring for diagnostics.
func (r *Router) Ring() *sharding.Ring {
	return r.ring
}
