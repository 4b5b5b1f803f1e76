package docstore

import (
	"context"
	"errors"
	"time"

	"condo-water/internal/docstore"
)

// ProcessedCollection records which consumer handled which event.
const ProcessedCollection = "processed-events"

type processedDocument struct {
	EventID      string    `json:"eventId"`
	ConsumerName string    `json:"consumerName"`
	ProcessedAt  time.Time `json:"processedAt"`
}

// ProcessedStore implements eventing.ProcessedStore on a document store.
type ProcessedStore struct {
	store docstore.Store
	now   func() time.Time
}

// NewProcessedStore constructs a processed store.
func NewProcessedStore(store docstore.Store) (*ProcessedStore, error) {
	if store == nil {
		return nil, errors.New("processed store: nil document store")
	}
	return &ProcessedStore{store: store, now: time.Now}, nil
}

func processedID(eventID, consumerName string) string {
	return consumerName + "|" + eventID
}

// HasProcessed reports whether the consumer already handled the event.
func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	doc, err := s.store.Get(ctx, ProcessedCollection, processedID(eventID, consumerName))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return doc != nil, nil
}

// MarkProcessed records the event as handled. Marking twice is not an error.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	err := s.store.Commit(ctx, docstore.NewBatch().Create(ProcessedCollection, processedID(eventID, consumerName), processedDocument{
		EventID:      eventID,
		ConsumerName: consumerName,
		ProcessedAt:  s.now().UTC(),
	}))
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return nil
	}
	return err
}
