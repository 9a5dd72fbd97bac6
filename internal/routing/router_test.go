package routing

import (
	"errors"
	"testing"
	"time"

	monitoring "energy-monitor/internal/monitoring/domain"
	"energy-monitor/internal/sharding"
)

func testRing(t *testing.T, shards ...string) *sharding.Ring {
	t.Helper()
	ring, err := sharding.NewRing(shards, 100)
	if err != nil {
		t.Fatalf("new ring: %v", err)
	}
	return ring
}

func validMeasurement(deviceID string) monitoring.Measurement {
	return monitoring.Measurement{
		DeviceID:  deviceID,
		Timestamp: time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC),
		Value:     1.5,
	}
}

func TestRouteIsDeterministicPerDevice(t *testing.T) {
	router, err := NewRouter(testRing(t, "shard-1", "shard-2", "shard-3"))
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	first, err := router.Route(validMeasurement("device-42"))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	for i := 0; i < 50; i++ {
		shard, err := router.Route(validMeasurement("device-42"))
		if err != nil {
			t.Fatalf("route repeat: %v", err)
		}
		if shard != first {
			t.Fatalf("routing not stable: got %q then %q", first, shard)
		}
	}
}

func TestRouteIgnoresTimestampAndValue(t *testing.T) {
	router, err := NewRouter(testRing(t, "shard-1", "shard-2", "shard-3"))
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	a := validMeasurement("device-7")
	b := validMeasurement("device-7")
	b.Timestamp = b.Timestamp.Add(48 * time.Hour)
	b.Value = 999.0

	shardA, _ := router.Route(a)
	shardB, _ := router.Route(b)
	if shardA != shardB {
		t.Fatalf("same device routed to %q and %q", shardA, shardB)
	}
}

func TestRouteRejectsInvalidMeasurement(t *testing.T) {
	router, err := NewRouter(testRing(t, "shard-1"))
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	_, err = router.Route(monitoring.Measurement{Timestamp: time.Now(), Value: 1})
	if !errors.Is(err, monitoring.ErrInvalidMeasurement) {
		t.Fatalf("want ErrInvalidMeasurement, got %v", err)
	}
}
