package application

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	billing "condo-water/internal/billing/domain"
	history "condo-water/internal/history/domain"
)

// ReadingRepository persists meter readings.
// Get returns nil, nil when the reading does not exist.
type ReadingRepository interface {
	Get(ctx context.Context, id string) (*billing.MeterReading, error)
	Create(ctx context.Context, reading *billing.MeterReading) error
	// SaveOpen stores an open reading only while the stored copy is still open.
	// It returns billing.ErrCommitConflict otherwise.
	SaveOpen(ctx context.Context, reading *billing.MeterReading) error
	// ListClosed returns the closed readings of a condo, newest first.
	ListClosed(ctx context.Context, condoID string) ([]*billing.MeterReading, error)
}

// CloseCommitter writes a closed reading and its history in one atomic commit,
// guarded by the stored reading still being open. A failed guard yields
// billing.ErrCommitConflict and no writes.
type CloseCommitter interface {
	CommitClose(ctx context.Context, reading *billing.MeterReading, units []history.UnitEntry, condo history.CondoEntry) error
}

// UnitDirectory answers which condos exist and which of their units are active.
type UnitDirectory interface {
	CondoExists(ctx context.Context, condoID string) (bool, error)
	ActiveUnits(ctx context.Context, condoID string) ([]string, error)
}

// EventPublisher publishes billing events.
type EventPublisher interface {
	PublishPeriodClosed(ctx context.Context, event PeriodClosed) error
}

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

// PeriodClosed is emitted after a close has been committed.
type PeriodClosed struct {
	ReadingID  string
	CondoID    string
	Date       time.Time
	UnitIDs    []string
	TotalCost  decimal.Decimal
	OccurredAt time.Time
}
