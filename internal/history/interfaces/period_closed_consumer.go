package interfaces

import (
	"context"
	"errors"

	"go.uber.org/zap"

	billingapp "condo-water/internal/billing/application"
	"condo-water/internal/eventing"
	historyapp "condo-water/internal/history/application"
)

// ConsumerName identifies the stats invalidation consumer for idempotency records.
const ConsumerName = "history.stats-invalidation"

// PeriodClosedConsumer drops cached stats of a condo once one of its periods closes.
type PeriodClosedConsumer struct {
	query  *historyapp.QueryService
	logger *zap.Logger
}

// NewPeriodClosedConsumer constructs a consumer.
func NewPeriodClosedConsumer(query *historyapp.QueryService, logger *zap.Logger) (*PeriodClosedConsumer, error) {
	if query == nil {
		return nil, errors.New("period closed consumer: nil query service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeriodClosedConsumer{query: query, logger: logger}, nil
}

// Register subscribes the consumer on bus. store may be nil.
func (c *PeriodClosedConsumer) Register(bus eventing.EventBus, store eventing.ProcessedStore) {
	eventing.Subscribe(bus, eventing.EventTypeOf[billingapp.PeriodClosed](), ConsumerName, eventing.Typed(c.Handle), store)
}

// Handle invalidates the condo stats cache.
func (c *PeriodClosedConsumer) Handle(ctx context.Context, event billingapp.PeriodClosed) error {
	if err := c.query.InvalidateCondo(ctx, event.CondoID); err != nil {
		c.logger.Warn("stats cache invalidate failed",
			zap.String("condo_id", event.CondoID),
			zap.String("reading_id", event.ReadingID),
			zap.Error(err),
		)
		return err
	}
	c.logger.Debug("stats cache invalidated", zap.String("condo_id", event.CondoID), zap.String("reading_id", event.ReadingID))
	return nil
}
