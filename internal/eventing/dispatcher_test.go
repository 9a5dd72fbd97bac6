package eventing

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubEvent struct {
	DeviceID   string    `json:"deviceId"`
	OccurredAt time.Time `json:"occurredAt"`
}

type memOutbox struct {
	records []OutboxRecord
	sent    []string
	retried []string
	failed  []string
}

func (m *memOutbox) ListPending(_ context.Context, _ int) ([]OutboxRecord, error) {
	return append([]OutboxRecord(nil), m.records...), nil
}

func (m *memOutbox) MarkSent(_ context.Context, id string) error {
	m.sent = append(m.sent, id)
	return nil
}

func (m *memOutbox) MarkRetry(_ context.Context, id string) error {
	m.retried = append(m.retried, id)
	return nil
}

func (m *memOutbox) MarkFailed(_ context.Context, id string) error {
	m.failed = append(m.failed, id)
	return nil
}

type memDLQ struct {
	failures []Envelope
}

func (m *memDLQ) RecordFailure(_ context.Context, env Envelope, _ error) error {
	m.failures = append(m.failures, env)
	return nil
}

type busFunc func(ctx context.Context, event any) error

func (f busFunc) Publish(ctx context.Context, event any) error { return f(ctx, event) }

func buildTestEnvelope(t *testing.T) Envelope {
	t.Helper()
	env, err := BuildEnvelope(stubEvent{DeviceID: "device-1", OccurredAt: time.Now().UTC()}, Meta{})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	return env
}

func TestBuildEnvelopeDefaults(t *testing.T) {
	env := buildTestEnvelope(t)
	if env.EventID == "" {
		t.Fatal("expected generated event id")
	}
	if env.DeviceID != "device-1" {
		t.Fatalf("expected device id from payload, got %q", env.DeviceID)
	}
	if env.CorrelationID != env.EventID {
		t.Fatalf("expected correlation id to default to event id")
	}
	if env.EventType != "eventing.stubEvent" {
		t.Fatalf("unexpected event type %q", env.EventType)
	}
}

func TestDispatchDeliversAndMarksSent(t *testing.T) {
	registry := NewRegistry()
	registry.Register(stubEvent{})
	outbox := &memOutbox{records: []OutboxRecord{{ID: "rec-1", Envelope: buildTestEnvelope(t)}}}
	dlq := &memDLQ{}

	delivered := 0
	bus := busFunc(func(ctx context.Context, event any) error {
		if _, ok := EnvelopeFromContext(ctx); !ok {
			t.Fatal("expected envelope in context")
		}
		if _, ok := event.(stubEvent); !ok {
			t.Fatalf("unexpected event %T", event)
		}
		delivered++
		return nil
	})

	dispatcher := NewDispatcher(bus, outbox, registry, dlq)
	if err := dispatcher.Dispatch(context.Background(), 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}
	if len(outbox.sent) != 1 || outbox.sent[0] != "rec-1" {
		t.Fatalf("expected rec-1 marked sent, got %v", outbox.sent)
	}
	if len(dlq.failures) != 0 {
		t.Fatalf("expected empty dlq, got %d", len(dlq.failures))
	}
}

func TestDispatchRetriesBeforeDeadLetter(t *testing.T) {
	registry := NewRegistry()
	registry.Register(stubEvent{})
	env := buildTestEnvelope(t)
	dlq := &memDLQ{}
	bus := busFunc(func(context.Context, any) error { return errors.New("boom") })

	outbox := &memOutbox{records: []OutboxRecord{{ID: "rec-1", Attempts: 0, Envelope: env}}}
	dispatcher := NewDispatcher(bus, outbox, registry, dlq, WithMaxAttempts(2))
	if err := dispatcher.Dispatch(context.Background(), 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(outbox.retried) != 1 {
		t.Fatalf("expected first failure to retry, got retried=%v failed=%v", outbox.retried, outbox.failed)
	}

	outbox = &memOutbox{records: []OutboxRecord{{ID: "rec-1", Attempts: 1, Envelope: env}}}
	dispatcher = NewDispatcher(bus, outbox, registry, dlq, WithMaxAttempts(2))
	if err := dispatcher.Dispatch(context.Background(), 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(outbox.failed) != 1 {
		t.Fatalf("expected terminal failure at attempt bound, got retried=%v failed=%v", outbox.retried, outbox.failed)
	}
	if len(dlq.failures) != 1 {
		t.Fatalf("expected dlq record, got %d", len(dlq.failures))
	}
}

func TestDispatchUnknownTypeDeadLettersImmediately(t *testing.T) {
	registry := NewRegistry()
	outbox := &memOutbox{records: []OutboxRecord{{ID: "rec-1", Envelope: buildTestEnvelope(t)}}}
	dlq := &memDLQ{}
	bus := busFunc(func(context.Context, any) error { return nil })

	dispatcher := NewDispatcher(bus, outbox, registry, dlq)
	if err := dispatcher.Dispatch(context.Background(), 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(outbox.failed) != 1 || len(dlq.failures) != 1 {
		t.Fatalf("expected immediate dead-letter, got failed=%v dlq=%d", outbox.failed, len(dlq.failures))
	}
}

type memProcessed struct {
	seen map[string]bool
}

func (m *memProcessed) HasProcessed(_ context.Context, eventID, consumer string) (bool, error) {
	return m.seen[eventID+"|"+consumer], nil
}

func (m *memProcessed) MarkProcessed(_ context.Context, eventID, consumer string) error {
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	m.seen[eventID+"|"+consumer] = true
	return nil
}

func TestWrapHandlerIdempotency(t *testing.T) {
	store := &memProcessed{}
	calls := 0
	handler := WrapHandler("test.consumer", func(context.Context, any) error {
		calls++
		return nil
	}, store)

	env := buildTestEnvelope(t)
	ctx := WithEnvelope(context.Background(), env)
	for i := 0; i < 3; i++ {
		if err := handler(ctx, stubEvent{}); err != nil {
			t.Fatalf("handler: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected single invocation, got %d", calls)
	}
}

func TestWrapHandlerPropagatesErrorWithoutMarking(t *testing.T) {
	store := &memProcessed{}
	boom := errors.New("boom")
	calls := 0
	handler := WrapHandler("test.consumer", func(context.Context, any) error {
		calls++
		if calls == 1 {
			return boom
		}
		return nil
	}, store)

	env := buildTestEnvelope(t)
	ctx := WithEnvelope(context.Background(), env)
	if err := handler(ctx, stubEvent{}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := handler(ctx, stubEvent{}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected handler to run again after failure, got %d calls", calls)
	}
}
