package interfaces

import (
	"context"
	"errors"
	"fmt"
	"log"

	"energy-monitor/internal/eventing"
	"energy-monitor/internal/eventing/eventbus"
	"energy-monitor/internal/monitoring/application"
	"energy-monitor/internal/monitoring/application/events"
	monitoring "energy-monitor/internal/monitoring/domain"
)

// Submitter routes a measurement into the aggregation pipeline.
type Submitter interface {
	Submit(ctx context.Context, m monitoring.Measurement) error
}

// RegisterMeasurementConsumer subscribes the routing pipeline to
// MeasurementReceived events. With a processed store attached the consumer
// is idempotent per event id.
func RegisterMeasurementConsumer(bus eventbus.EventBus, submitter Submitter, store eventing.ProcessedStore, logger *log.Logger) error {
	if bus == nil {
		return errors.New("measurement consumer: nil bus")
	}
	if submitter == nil {
		return errors.New("measurement consumer: nil submitter")
	}
	if logger == nil {
		logger = log.Default()
	}

	handler := func(ctx context.Context, event any) error {
		received, ok := asMeasurementReceived(event)
		if !ok {
			return fmt.Errorf("measurement consumer: unexpected event %T", event)
		}
		m := monitoring.Measurement{
			DeviceID:   received.DeviceID,
			Timestamp:  received.Timestamp,
			Value:      received.MeasurementValue,
			SequenceNo: received.SequenceNo,
		}
		if err := submitter.Submit(ctx, m); err != nil {
			logger.Printf("measurement consumer: submit failed device=%s: %v", m.DeviceID, err)
			return err
		}
		return nil
	}
	eventing.Subscribe(bus, eventbus.EventTypeOf[events.MeasurementReceived](), "monitoring.measurements", handler, store)
	return nil
}

// RegisterSyncConsumers subscribes the reference read model to device and
// user sync events.
func RegisterSyncConsumers(bus eventbus.EventBus, sync *application.ReferenceSync, store eventing.ProcessedStore, logger *log.Logger) error {
	if bus == nil {
		return errors.New("sync consumer: nil bus")
	}
	if sync == nil {
		return errors.New("sync consumer: nil reference sync")
	}
	if logger == nil {
		logger = log.Default()
	}

	deviceCreated := func(ctx context.Context, event any) error {
		created, ok := asDeviceCreated(event)
		if !ok {
			return fmt.Errorf("sync consumer: unexpected event %T", event)
		}
		return sync.HandleDeviceCreated(ctx, created)
	}
	deviceDeleted := func(ctx context.Context, event any) error {
		deleted, ok := asDeviceDeleted(event)
		if !ok {
			return fmt.Errorf("sync consumer: unexpected event %T", event)
		}
		return sync.HandleDeviceDeleted(ctx, deleted)
	}
	userCreated := func(ctx context.Context, event any) error {
		created, ok := asUserCreated(event)
		if !ok {
			return fmt.Errorf("sync consumer: unexpected event %T", event)
		}
		return sync.HandleUserCreated(ctx, created)
	}

	eventing.Subscribe(bus, eventbus.EventTypeOf[events.DeviceCreated](), "monitoring.sync", deviceCreated, store)
	eventing.Subscribe(bus, eventbus.EventTypeOf[events.DeviceDeleted](), "monitoring.sync", deviceDeleted, store)
	eventing.Subscribe(bus, eventbus.EventTypeOf[events.UserCreated](), "monitoring.sync", userCreated, store)
	return nil
}

// RegisterAlertConsumer forwards dispatched OverconsumptionAlert events to a
// notifier. The outbox dispatcher redelivers on failure, so the notifier's
// own dedupe keeps the channel quiet.
func RegisterAlertConsumer(bus eventbus.EventBus, notifier application.AlertNotifier, store eventing.ProcessedStore, logger *log.Logger) error {
	if bus == nil {
		return errors.New("alert consumer: nil bus")
	}
	if notifier == nil {
		return errors.New("alert consumer: nil notifier")
	}
	if logger == nil {
		logger = log.Default()
	}

	handler := func(ctx context.Context, event any) error {
		alert, ok := asOverconsumptionAlert(event)
		if !ok {
			return fmt.Errorf("alert consumer: unexpected event %T", event)
		}
		notifier.Notify(ctx, monitoring.AlertEvent{
			DeviceID:     alert.DeviceID,
			OwnerUserID:  alert.OwnerUserID,
			HourStart:    alert.HourStart,
			CurrentTotal: alert.CurrentTotal,
			Limit:        alert.Limit,
			Timestamp:    alert.OccurredAt,
			Message:      alert.Message,
		})
		return nil
	}
	eventing.Subscribe(bus, eventbus.EventTypeOf[events.OverconsumptionAlert](), "monitoring.alerts", handler, store)
	return nil
}

func asMeasurementReceived(event any) (events.MeasurementReceived, bool) {
	switch v := event.(type) {
	case events.MeasurementReceived:
		return v, true
	case *events.MeasurementReceived:
		if v != nil {
			return *v, true
		}
	}
	return events.MeasurementReceived{}, false
}

func asDeviceCreated(event any) (events.DeviceCreated, bool) {
	switch v := event.(type) {
	case events.DeviceCreated:
		return v, true
	case *events.DeviceCreated:
		if v != nil {
			return *v, true
		}
	}
	return events.DeviceCreated{}, false
}

func asDeviceDeleted(event any) (events.DeviceDeleted, bool) {
	switch v := event.(type) {
	case events.DeviceDeleted:
		return v, true
	case *events.DeviceDeleted:
		if v != nil {
			return *v, true
		}
	}
	return events.DeviceDeleted{}, false
}

func asUserCreated(event any) (events.UserCreated, bool) {
	switch v := event.(type) {
	case events.UserCreated:
		return v, true
	case *events.UserCreated:
		if v != nil {
			return *v, true
		}
	}
	return events.UserCreated{}, false
}

func asOverconsumptionAlert(event any) (events.OverconsumptionAlert, bool) {
	switch v := event.(type) {
	case events.OverconsumptionAlert:
		return v, true
	case *events.OverconsumptionAlert:
		if v != nil {
			return *v, true
		}
	}
	return events.OverconsumptionAlert{}, false
}
