package interfaces

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"energy-monitor/internal/eventing"
	"energy-monitor/internal/eventing/eventbus"
	"energy-monitor/internal/monitoring/application"
	"energy-monitor/internal/monitoring/application/events"
	monitoring "energy-monitor/internal/monitoring/domain"
	"energy-monitor/internal/monitoring/infrastructure/memory"
)

type stubSubmitter struct {
	mu        sync.Mutex
	submitted []monitoring.Measurement
}

func (s *stubSubmitter) Submit(_ context.Context, m monitoring.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, m)
	return nil
}

type memProcessed struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemProcessed() *memProcessed {
	return &memProcessed{seen: make(map[string]bool)}
}

func (s *memProcessed) HasProcessed(_ context.Context, eventID, consumerName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[eventID+"|"+consumerName], nil
}

func (s *memProcessed) MarkProcessed(_ context.Context, eventID, consumerName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[eventID+"|"+consumerName] = true
	return nil
}

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func TestMeasurementConsumerSubmits(t *testing.T) {
	bus := eventbus.NewInMemoryBus()
	submitter := &stubSubmitter{}
	if err := RegisterMeasurementConsumer(bus, submitter, nil, quiet()); err != nil {
		t.Fatalf("register: %v", err)
	}

	event := events.MeasurementReceived{
		DeviceID:         "dev-1",
		Timestamp:        time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC),
		MeasurementValue: 3.0,
		SequenceNo:       "s-1",
	}
	if err := bus.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(submitter.submitted) != 1 {
		t.Fatalf("want 1 submission, got %d", len(submitter.submitted))
	}
	got := submitter.submitted[0]
	if got.DeviceID != "dev-1" || got.Value != 3.0 || got.SequenceNo != "s-1" {
		t.Fatalf("unexpected measurement: %+v", got)
	}
}

func TestMeasurementConsumerIdempotentPerEventID(t *testing.T) {
	bus := eventbus.NewInMemoryBus()
	submitter := &stubSubmitter{}
	store := newMemProcessed()
	if err := RegisterMeasurementConsumer(bus, submitter, store, quiet()); err != nil {
		t.Fatalf("register: %v", err)
	}

	event := events.MeasurementReceived{
		DeviceID:         "dev-1",
		Timestamp:        time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC),
		MeasurementValue: 3.0,
	}
	ctx := eventing.WithEnvelope(context.Background(), eventing.Envelope{EventID: "evt-1"})
	for i := 0; i < 3; i++ {
		if err := bus.Publish(ctx, event); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	if len(submitter.submitted) != 1 {
		t.Fatalf("redelivery was not deduplicated: %d submissions", len(submitter.submitted))
	}
}

func TestSyncConsumersMaintainReadModel(t *testing.T) {
	bus := eventbus.NewInMemoryBus()
	buckets := memory.NewBucketRepository()
	refs := memory.NewReferenceRepository()
	sync, err := application.NewReferenceSync(refs, refs, buckets, quiet())
	if err != nil {
		t.Fatalf("new reference sync: %v", err)
	}
	if err := RegisterSyncConsumers(bus, sync, nil, quiet()); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	created := events.DeviceCreated{DeviceID: "dev-2", DeviceName: "boiler", MaxConsumption: 9.0, OwnerUserID: "user-2"}
	if err := bus.Publish(ctx, created); err != nil {
		t.Fatalf("publish device created: %v", err)
	}
	ref, err := refs.Lookup(ctx, "dev-2")
	if err != nil || ref == nil {
		t.Fatalf("device not synced: %v %v", ref, err)
	}

	if err := bus.Publish(ctx, events.UserCreated{UserID: "user-2", Username: "kim"}); err != nil {
		t.Fatalf("publish user created: %v", err)
	}

	if err := bus.Publish(ctx, events.DeviceDeleted{DeviceID: "dev-2"}); err != nil {
		t.Fatalf("publish device deleted: %v", err)
	}
	if ref, _ := refs.Lookup(ctx, "dev-2"); ref != nil {
		t.Fatalf("device survived deletion: %+v", ref)
	}
}

type stubNotifier struct {
	mu     sync.Mutex
	alerts []monitoring.AlertEvent
}

func (n *stubNotifier) Notify(_ context.Context, alert monitoring.AlertEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
}

func TestAlertConsumerForwardsToNotifier(t *testing.T) {
	bus := eventbus.NewInMemoryBus()
	notifier := &stubNotifier{}
	if err := RegisterAlertConsumer(bus, notifier, nil, quiet()); err != nil {
		t.Fatalf("register: %v", err)
	}

	alert := events.OverconsumptionAlert{
		DeviceID:     "dev-3",
		OwnerUserID:  "user-3",
		HourStart:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		CurrentTotal: 8.0,
		Limit:        7.0,
		Message:      monitoring.DefaultAlertMessage,
	}
	if err := bus.Publish(context.Background(), alert); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(notifier.alerts) != 1 {
		t.Fatalf("want 1 alert, got %d", len(notifier.alerts))
	}
	if notifier.alerts[0].DeviceID != "dev-3" || notifier.alerts[0].CurrentTotal != 8.0 {
		t.Fatalf("unexpected alert: %+v", notifier.alerts[0])
	}
}
