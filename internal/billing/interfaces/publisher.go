package interfaces

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"condo-water/internal/billing/application"
	"condo-water/internal/eventing"
)

// BusPublisher publishes billing events on the in-process bus.
type BusPublisher struct {
	bus eventing.EventBus
}

// NewBusPublisher constructs a bus publisher.
func NewBusPublisher(bus eventing.EventBus) (*BusPublisher, error) {
	if bus == nil {
		return nil, errors.New("billing publisher: nil bus")
	}
	return &BusPublisher{bus: bus}, nil
}

// PublishPeriodClosed dispatches the event to subscribers.
func (p *BusPublisher) PublishPeriodClosed(ctx context.Context, event application.PeriodClosed) error {
	return p.bus.Publish(ctx, event)
}

// LoggingPublisher logs period closed events.
type LoggingPublisher struct {
	logger *zap.Logger
}

// NewLoggingPublisher constructs a logging publisher.
func NewLoggingPublisher(logger *zap.Logger) *LoggingPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingPublisher{logger: logger}
}

// PublishPeriodClosed logs the event.
func (p *LoggingPublisher) PublishPeriodClosed(ctx context.Context, event application.PeriodClosed) error {
	_ = ctx
	if p == nil {
		return errors.New("billing publisher: nil publisher")
	}
	p.logger.Info("period closed",
		zap.String("reading_id", event.ReadingID),
		zap.String("condo_id", event.CondoID),
		zap.String("date", event.Date.Format("2006-01-02")),
		zap.Int("units", len(event.UnitIDs)),
		zap.String("total_cost", event.TotalCost.StringFixed(2)),
	)
	return nil
}

// Handle lets the logging publisher subscribe to the bus.
func (p *LoggingPublisher) Handle(ctx context.Context, event application.PeriodClosed) error {
	return p.PublishPeriodClosed(ctx, event)
}
