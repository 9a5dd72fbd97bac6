package notify

import (
	"context"

	"energy-monitor/internal/monitoring/application"
	monitoring "energy-monitor/internal/monitoring/domain"
)

// MultiNotifier fans alerts out to multiple notifiers.
type MultiNotifier struct {
	notifiers []application.AlertNotifier
}

// NewMultiNotifier constructs a MultiNotifier.
func NewMultiNotifier(notifiers ...application.AlertNotifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify forwards the alert to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, alert monitoring.AlertEvent) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		if notifier != nil {
			notifier.Notify(ctx, alert)
		}
	}
}
