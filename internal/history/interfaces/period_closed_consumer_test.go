package interfaces

import (
	"context"
	"testing"

	billingapp "condo-water/internal/billing/application"
	"condo-water/internal/docstore/memory"
	"condo-water/internal/eventing"
	eventstore "condo-water/internal/eventing/infrastructure/docstore"
	historyapp "condo-water/internal/history/application"
	history "condo-water/internal/history/domain"
	historystore "condo-water/internal/history/infrastructure/docstore"
)

type recordingCache struct {
	invalidated []string
}

func (c *recordingCache) GetCondoStats(context.Context, string) (*history.CondoStats, error) {
	return nil, nil
}

func (c *recordingCache) SetCondoStats(context.Context, history.CondoStats) error { return nil }

func (c *recordingCache) Invalidate(_ context.Context, condoID string) error {
	c.invalidated = append(c.invalidated, condoID)
	return nil
}

func TestPeriodClosedConsumer_InvalidatesOncePerEvent(t *testing.T) {
	store := memory.NewStore()
	cache := &recordingCache{}
	query, err := historyapp.NewQueryService(historystore.NewRepository(store), historyapp.WithStatsCache(cache))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	consumer, err := NewPeriodClosedConsumer(query, nil)
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	processed, _ := eventstore.NewProcessedStore(store)
	bus := eventing.NewInMemoryBus()
	consumer.Register(bus, processed)

	ctx := eventing.WithEventID(context.Background(), "evt-1")
	event := billingapp.PeriodClosed{ReadingID: "r-1", CondoID: "c-1"}
	for i := 0; i < 2; i++ {
		if err := bus.Publish(ctx, event); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != "c-1" {
		t.Fatalf("expected one invalidation of c-1, got %v", cache.invalidated)
	}
}
