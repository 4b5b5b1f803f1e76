package application

import (
	"context"
	"errors"

	"go.uber.org/zap"

	billing "condo-water/internal/billing/domain"
	history "condo-water/internal/history/domain"
	"condo-water/internal/observability/metrics"
)

// ClosedReadingSource lists the closed readings of a condo.
type ClosedReadingSource interface {
	ListClosed(ctx context.Context, condoID string) ([]*billing.MeterReading, error)
}

// RebuildResult summarizes a history rebuild.
type RebuildResult struct {
	CondoID      string `json:"condo_id"`
	Readings     int    `json:"readings"`
	UnitEntries  int    `json:"unit_entries"`
	CondoEntries int    `json:"condo_entries"`
}

// Rebuilder reconstructs history from closed readings.
type Rebuilder struct {
	readings ClosedReadingSource
	repo     history.Repository
	query    *QueryService
	logger   *zap.Logger
}

// NewRebuilder constructs a rebuilder. query may be nil.
func NewRebuilder(readings ClosedReadingSource, repo history.Repository, query *QueryService, logger *zap.Logger) (*Rebuilder, error) {
	if readings == nil {
		return nil, errors.New("history rebuild: nil reading source")
	}
	if repo == nil {
		return nil, errors.New("history rebuild: nil repository")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rebuilder{readings: readings, repo: repo, query: query, logger: logger}, nil
}

// Replay derives every history entry from the given closed readings.
func Replay(readings []*billing.MeterReading) ([]history.UnitEntry, []history.CondoEntry, error) {
	var units []history.UnitEntry
	condos := make([]history.CondoEntry, 0, len(readings))
	for _, reading := range readings {
		if reading == nil || reading.Status() != billing.StatusClosed {
			continue
		}
		entries, err := history.BuildUnitEntries(reading)
		if err != nil {
			return nil, nil, err
		}
		condo, err := history.BuildCondoEntry(reading)
		if err != nil {
			return nil, nil, err
		}
		units = append(units, entries...)
		condos = append(condos, condo)
	}
	return units, condos, nil
}

// RebuildCondo replaces a condo's history with one derived from its closed readings.
func (r *Rebuilder) RebuildCondo(ctx context.Context, condoID string) (result RebuildResult, err error) {
	defer func() { metrics.IncHistoryRebuild(resultOf(err)) }()

	if condoID == "" {
		return RebuildResult{}, errors.New("history rebuild: empty condo id")
	}
	readings, err := r.readings.ListClosed(ctx, condoID)
	if err != nil {
		return RebuildResult{}, err
	}
	units, condos, err := Replay(readings)
	if err != nil {
		return RebuildResult{}, err
	}
	if err := r.repo.Replace(ctx, condoID, units, condos); err != nil {
		return RebuildResult{}, err
	}
	if r.query != nil {
		if err := r.query.InvalidateCondo(ctx, condoID); err != nil {
			r.logger.Warn("stats cache invalidate failed", zap.String("condo_id", condoID), zap.Error(err))
		}
	}
	result = RebuildResult{
		CondoID:      condoID,
		Readings:     len(condos),
		UnitEntries:  len(units),
		CondoEntries: len(condos),
	}
	r.logger.Info("history rebuilt",
		zap.String("condo_id", condoID),
		zap.Int("readings", result.Readings),
		zap.Int("unit_entries", result.UnitEntries),
	)
	return result, nil
}
