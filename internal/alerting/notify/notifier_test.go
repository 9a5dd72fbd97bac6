package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	monitoring "energy-monitor/internal/monitoring/domain"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureChannel struct {
	mu       sync.Mutex
	contents []string
	err      error
}

func (c *captureChannel) Send(_ context.Context, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.contents = append(c.contents, content)
	return nil
}

func (c *captureChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.contents)
}

func sampleAlert(device string) monitoring.AlertEvent {
	return monitoring.AlertEvent{
		DeviceID:     device,
		OwnerUserID:  "user-1",
		HourStart:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		CurrentTotal: 8.0,
		Limit:        7.0,
		Timestamp:    time.Date(2024, 3, 1, 10, 40, 0, 0, time.UTC),
		Message:      monitoring.DefaultAlertMessage,
	}
}

func TestWebhookChannelPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	notifier, err := NewNotifier(channel, nil)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), sampleAlert("dev-1"))

	select {
	case payload := <-payloadCh:
		if payload.MsgType != "text" {
			t.Fatalf("unexpected msgtype %q", payload.MsgType)
		}
		if !strings.Contains(payload.Text.Content, "dev-1") {
			t.Fatalf("content missing device id: %q", payload.Text.Content)
		}
		if !strings.Contains(payload.Text.Content, "8.00") || !strings.Contains(payload.Text.Content, "7.00") {
			t.Fatalf("content missing totals: %q", payload.Text.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not called")
	}
}

func TestNotifierCooldownSuppressesRepeats(t *testing.T) {
	channel := &captureChannel{}
	clock := &manualClock{now: time.Date(2024, 3, 1, 10, 40, 0, 0, time.UTC)}
	notifier, err := NewNotifier(channel, nil, WithClock(clock), WithCooldown(10*time.Minute))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	ctx := context.Background()
	notifier.Notify(ctx, sampleAlert("dev-2"))
	notifier.Notify(ctx, sampleAlert("dev-2"))
	if channel.count() != 1 {
		t.Fatalf("cooldown leaked: %d sends", channel.count())
	}

	clock.advance(11 * time.Minute)
	notifier.Notify(ctx, sampleAlert("dev-2"))
	if channel.count() != 2 {
		t.Fatalf("send after cooldown expiry missing: %d sends", channel.count())
	}
}

func TestNotifierCooldownIsPerDeviceHour(t *testing.T) {
	channel := &captureChannel{}
	clock := &manualClock{now: time.Date(2024, 3, 1, 10, 40, 0, 0, time.UTC)}
	notifier, err := NewNotifier(channel, nil, WithClock(clock), WithCooldown(time.Hour))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	ctx := context.Background()
	notifier.Notify(ctx, sampleAlert("dev-a"))
	notifier.Notify(ctx, sampleAlert("dev-b"))

	other := sampleAlert("dev-a")
	other.HourStart = other.HourStart.Add(time.Hour)
	notifier.Notify(ctx, other)

	if channel.count() != 3 {
		t.Fatalf("distinct keys were suppressed: %d sends", channel.count())
	}
}

func TestNotifierDedupeWindow(t *testing.T) {
	channel := &captureChannel{}
	clock := &manualClock{now: time.Date(2024, 3, 1, 10, 40, 0, 0, time.UTC)}
	notifier, err := NewNotifier(channel, nil, WithClock(clock), WithDedupeWindow(30*time.Minute))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	ctx := context.Background()
	notifier.Notify(ctx, sampleAlert("dev-3"))
	notifier.Notify(ctx, sampleAlert("dev-3"))
	if channel.count() != 1 {
		t.Fatalf("identical content not deduped: %d sends", channel.count())
	}

	// Changed content within the window goes through.
	changed := sampleAlert("dev-3")
	changed.CurrentTotal = 9.5
	notifier.Notify(ctx, changed)
	if channel.count() != 2 {
		t.Fatalf("changed content was suppressed: %d sends", channel.count())
	}
}

func TestMultiNotifierFansOut(t *testing.T) {
	first := &captureChannel{}
	second := &captureChannel{}
	a, _ := NewNotifier(first, nil)
	b, _ := NewNotifier(second, nil)
	multi := NewMultiNotifier(a, b, nil)

	multi.Notify(context.Background(), sampleAlert("dev-4"))
	if first.count() != 1 || second.count() != 1 {
		t.Fatalf("fan-out incomplete: %d/%d", first.count(), second.count())
	}
}
