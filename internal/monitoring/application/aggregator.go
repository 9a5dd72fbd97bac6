package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"energy-monitor/internal/monitoring/application/events"
	monitoring "energy-monitor/internal/monitoring/domain"
	"energy-monitor/internal/observability/metrics"
)

// AlertPublisher publishes alert events for downstream relays.
type AlertPublisher interface {
	Publish(ctx context.Context, event any) error
}

// AlertNotifier pushes alerts to operator channels, best-effort.
type AlertNotifier interface {
	Notify(ctx context.Context, alert monitoring.AlertEvent)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Aggregator folds measurements into per-device-per-hour totals and raises
// overconsumption alerts. One Aggregator serves one shard; the bucket store
// serializes concurrent updates to the same bucket, so multiple workers per
// shard stay correct.
type Aggregator struct {
	buckets       monitoring.BucketRepository
	refs          monitoring.DeviceReferenceRepository
	publisher     AlertPublisher
	notifier      AlertNotifier
	logger        *log.Logger
	clock         Clock
	opTimeout     time.Duration
	finalizeAfter time.Duration
}

// AggregatorOption customizes the aggregator.
type AggregatorOption func(*Aggregator)

// WithPublisher assigns the outbound alert publisher.
func WithPublisher(publisher AlertPublisher) AggregatorOption {
	return func(a *Aggregator) {
		a.publisher = publisher
	}
}

// WithNotifier assigns a best-effort alert notifier.
func WithNotifier(notifier AlertNotifier) AggregatorOption {
	return func(a *Aggregator) {
		a.notifier = notifier
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) AggregatorOption {
	return func(a *Aggregator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithOperationTimeout bounds store and reference lookups.
func WithOperationTimeout(timeout time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if timeout > 0 {
			a.opTimeout = timeout
		}
	}
}

// WithFinalizeAfter rejects measurements whose bucket is older than the
// horizon. Zero keeps buckets open to amendment indefinitely.
func WithFinalizeAfter(horizon time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if horizon > 0 {
			a.finalizeAfter = horizon
		}
	}
}

// NewAggregator constructs an aggregator.
func NewAggregator(buckets monitoring.BucketRepository, refs monitoring.DeviceReferenceRepository, opts ...AggregatorOption) (*Aggregator, error) {
	if buckets == nil {
		return nil, errors.New("aggregator: nil bucket repository")
	}
	if refs == nil {
		return nil, errors.New("aggregator: nil reference repository")
	}
	agg := &Aggregator{
		buckets:   buckets,
		refs:      refs,
		logger:    log.Default(),
		clock:     systemClock{},
		opTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(agg)
	}
	return agg, nil
}

// Process applies one measurement. A returned error means the durable update
// did not happen and the message must stay unacknowledged so redelivery can
// retry; ErrBucketFinalized is terminal and must not be retried.
func (a *Aggregator) Process(ctx context.Context, m monitoring.Measurement) error {
	if a == nil {
		return errors.New("aggregator: nil aggregator")
	}
	if err := m.Validate(); err != nil {
		return err
	}

	hourStart := m.HourStart()
	if a.finalizeAfter > 0 {
		age := a.clock.Now().UTC().Sub(hourStart.Add(time.Hour))
		if age > a.finalizeAfter {
			metrics.IncLateDrop()
			a.logger.Printf("aggregator: dropping late measurement device=%s hour=%s age=%s", m.DeviceID, hourStart.Format(time.RFC3339), age)
			return fmt.Errorf("%w: hour %s", monitoring.ErrBucketFinalized, hourStart.Format(time.RFC3339))
		}
	}

	opCtx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()

	started := a.clock.Now()
	update, err := a.buckets.ApplyMeasurement(opCtx, m.IdempotencyKey(), m.DeviceID, hourStart, m.Value)
	if err != nil {
		metrics.ObserveAggregation("error", a.clock.Now().Sub(started))
		return fmt.Errorf("aggregator: apply measurement: %w", err)
	}
	metrics.ObserveAggregation("success", a.clock.Now().Sub(started))

	if update.Duplicate {
		metrics.IncDuplicate()
		a.logger.Printf("aggregator: skipping redelivered measurement device=%s hour=%s", m.DeviceID, hourStart.Format(time.RFC3339))
		return nil
	}

	a.logger.Printf("aggregator: device=%s hour=%s total=%.3f", m.DeviceID, hourStart.Format(time.RFC3339), update.NewTotal)

	// Alerting is best-effort and strictly downstream of the durable write;
	// its failures never surface as processing errors.
	a.evaluateAlert(ctx, m.DeviceID, hourStart, update)
	return nil
}

func (a *Aggregator) evaluateAlert(ctx context.Context, deviceID string, hourStart time.Time, update monitoring.AppliedUpdate) {
	opCtx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()

	ref, err := a.refs.Lookup(opCtx, deviceID)
	if err != nil {
		metrics.IncReferenceLookupError()
		a.logger.Printf("aggregator: reference lookup failed device=%s: %v", deviceID, err)
		return
	}
	if ref == nil {
		metrics.IncAlertSuppressed("missing_reference")
		a.logger.Printf("aggregator: no device reference for device=%s, alert suppressed", deviceID)
		return
	}
	if update.NewTotal <= ref.MaxConsumption {
		return
	}
	if ref.OwnerUserID == "" {
		metrics.IncAlertSuppressed("no_owner")
		a.logger.Printf("aggregator: device=%s has no owner, alert suppressed", deviceID)
		return
	}
	if update.Alerted {
		metrics.IncAlertSuppressed("already_alerted")
		return
	}

	won, err := a.buckets.MarkAlerted(opCtx, deviceID, hourStart)
	if err != nil {
		a.logger.Printf("aggregator: mark alerted failed device=%s hour=%s: %v", deviceID, hourStart.Format(time.RFC3339), err)
		return
	}
	if !won {
		metrics.IncAlertSuppressed("already_alerted")
		return
	}

	now := a.clock.Now().UTC()
	alert := monitoring.AlertEvent{
		DeviceID:     deviceID,
		OwnerUserID:  ref.OwnerUserID,
		HourStart:    hourStart,
		CurrentTotal: update.NewTotal,
		Limit:        ref.MaxConsumption,
		Timestamp:    now,
		Message:      monitoring.DefaultAlertMessage,
	}
	a.logger.Printf("aggregator: OVERCONSUMPTION device=%s limit=%.3f current=%.3f", deviceID, ref.MaxConsumption, update.NewTotal)

	if a.publisher != nil {
		event := events.OverconsumptionAlert{
			DeviceID:     alert.DeviceID,
			OwnerUserID:  alert.OwnerUserID,
			HourStart:    alert.HourStart,
			CurrentTotal: alert.CurrentTotal,
			Limit:        alert.Limit,
			Message:      alert.Message,
			OccurredAt:   now,
		}
		if err := a.publisher.Publish(opCtx, event); err != nil {
			a.logger.Printf("aggregator: alert publish failed device=%s: %v", deviceID, err)
		}
	}
	if a.notifier != nil {
		a.notifier.Notify(opCtx, alert)
	}
	metrics.IncAlertEmitted()
}
