package application

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	billing "condo-water/internal/billing/domain"
	history "condo-water/internal/history/domain"
	"condo-water/internal/observability/metrics"
)

// CreatePeriodInput carries the data of a new billing period.
// UnitReadings maps unit id to the raw meter value as typed by the user.
type CreatePeriodInput struct {
	CondoID      string
	Date         time.Time
	UnitReadings map[string]string
}

// ClosePeriodInput carries the main meter figures of the period being closed.
type ClosePeriodInput struct {
	ReadingID    string
	TotalReading decimal.Decimal
	TotalCost    decimal.Decimal
}

// CloseSummary is the period-level outcome of a close.
type CloseSummary struct {
	ReadingID           string
	CondoID             string
	Date                time.Time
	First               bool
	UnitCount           int
	Totals              billing.Totals
	TotalIndividualCost decimal.Decimal
	TotalCommonAreaCost decimal.Decimal
	AllocatedCost       decimal.Decimal
	ClosedAt            time.Time
}

// CloseResult is returned by a successful close.
type CloseResult struct {
	Summary CloseSummary
	Units   []billing.UnitAllocation
}

// LifecycleService drives a meter reading from open to closed.
type LifecycleService struct {
	readings  ReadingRepository
	committer CloseCommitter
	units     UnitDirectory
	resolver  *BaselineResolver
	publisher EventPublisher
	clock     Clock
	logger    *zap.Logger
	newID     func() string
}

// Option configures the lifecycle service.
type Option func(*LifecycleService)

// WithPublisher sets the event publisher.
func WithPublisher(publisher EventPublisher) Option {
	return func(s *LifecycleService) {
		s.publisher = publisher
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *LifecycleService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIDGenerator overrides reading id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *LifecycleService) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// NewLifecycleService constructs the service.
func NewLifecycleService(readings ReadingRepository, committer CloseCommitter, units UnitDirectory, clock Clock, opts ...Option) (*LifecycleService, error) {
	if readings == nil {
		return nil, errors.New("lifecycle service: nil reading repository")
	}
	if committer == nil {
		return nil, errors.New("lifecycle service: nil close committer")
	}
	if units == nil {
		return nil, errors.New("lifecycle service: nil unit directory")
	}
	if clock == nil {
		return nil, errors.New("lifecycle service: nil clock")
	}
	resolver, err := NewBaselineResolver(readings)
	if err != nil {
		return nil, err
	}
	s := &LifecycleService{
		readings:  readings,
		committer: committer,
		units:     units,
		resolver:  resolver,
		clock:     clock,
		logger:    zap.NewNop(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreatePeriod opens a billing period with its initial unit readings.
func (s *LifecycleService) CreatePeriod(ctx context.Context, in CreatePeriodInput) (id string, err error) {
	start := time.Now()
	defer func() {
		metrics.ObservePeriodCreate(resultOf(err), time.Since(start))
	}()

	verr := &billing.ValidationError{}
	if in.CondoID == "" {
		verr.Add("", "condoId", billing.ErrValueRequired.Error())
	}
	if in.Date.IsZero() {
		verr.Add("", "date", billing.ErrValueRequired.Error())
	}
	if len(in.UnitReadings) == 0 {
		verr.Add("", "unitReadings", "at least one unit reading is required")
	}
	values := make(map[string]decimal.Decimal, len(in.UnitReadings))
	for _, unitID := range sortedUnitIDs(in.UnitReadings) {
		value, perr := billing.ParseReadingValue(in.UnitReadings[unitID])
		if perr != nil {
			verr.Add(unitID, "reading", perr.Error())
			continue
		}
		values[unitID] = value
	}
	if err := verr.OrNil(); err != nil {
		return "", err
	}

	exists, err := s.units.CondoExists(ctx, in.CondoID)
	if err != nil {
		return "", &billing.PersistenceError{Op: "load condo", Err: err}
	}
	if !exists {
		return "", billing.NewPreconditionError(billing.ErrUnknownCondo, in.CondoID)
	}
	active, err := s.activeSet(ctx, in.CondoID)
	if err != nil {
		return "", err
	}
	for _, unitID := range sortedUnitIDs(in.UnitReadings) {
		if _, ok := active[unitID]; !ok {
			verr.Add(unitID, "unitId", "not an active unit of condo "+in.CondoID)
		}
	}
	if err := verr.OrNil(); err != nil {
		return "", err
	}

	date := billing.NormalizeDate(in.Date)
	closed, err := s.readings.ListClosed(ctx, in.CondoID)
	if err != nil {
		return "", &billing.PersistenceError{Op: "list closed readings", Err: err}
	}
	if len(closed) > 0 && date.Before(closed[0].Date()) {
		return "", billing.NewPreconditionError(billing.ErrDateBeforeLastClose,
			date.Format(billing.DateLayout)+" < "+closed[0].Date().Format(billing.DateLayout))
	}

	reading, err := billing.NewMeterReading(s.newID(), in.CondoID, date, values, s.clock.Now())
	if err != nil {
		return "", err
	}
	if err := s.readings.Create(ctx, reading); err != nil {
		return "", &billing.PersistenceError{Op: "create reading", Err: err}
	}
	s.logger.Info("billing period created",
		zap.String("reading_id", reading.ID()),
		zap.String("condo_id", reading.CondoID()),
		zap.String("date", date.Format(billing.DateLayout)),
		zap.Int("units", len(values)),
	)
	return reading.ID(), nil
}

// SubmitUnitReading records or replaces one unit's raw value on an open period.
func (s *LifecycleService) SubmitUnitReading(ctx context.Context, readingID, unitID, raw string) (reading *billing.MeterReading, err error) {
	defer func() {
		metrics.IncUnitReading(resultOf(err))
	}()

	value, perr := billing.ParseReadingValue(raw)
	if perr != nil {
		return nil, billing.NewValidationError(billing.FieldError{UnitID: unitID, Field: "reading", Reason: perr.Error()})
	}
	reading, err = s.load(ctx, readingID)
	if err != nil {
		return nil, err
	}
	if !reading.IsOpen() {
		return nil, billing.NewPreconditionError(billing.ErrReadingClosed, readingID)
	}
	active, err := s.activeSet(ctx, reading.CondoID())
	if err != nil {
		return nil, err
	}
	if _, ok := active[unitID]; !ok {
		return nil, billing.NewValidationError(billing.FieldError{
			UnitID: unitID,
			Field:  "unitId",
			Reason: "not an active unit of condo " + reading.CondoID(),
		})
	}
	if err := reading.RecordUnitReading(unitID, value, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.readings.SaveOpen(ctx, reading); err != nil {
		return nil, persistenceError("save unit reading", err)
	}
	return reading, nil
}

// GetReading loads a reading.
func (s *LifecycleService) GetReading(ctx context.Context, readingID string) (*billing.MeterReading, error) {
	return s.load(ctx, readingID)
}

// ClosePeriod closes an open reading. Either the closed reading and every
// history entry are committed together, or nothing is written and the stored
// reading stays open.
func (s *LifecycleService) ClosePeriod(ctx context.Context, in ClosePeriodInput) (result *CloseResult, err error) {
	start := time.Now()
	defer func() {
		outcome := resultOf(err)
		if billing.IsRetryable(err) {
			outcome = metrics.ResultConflict
		}
		metrics.ObservePeriodClose(outcome, time.Since(start))
	}()

	reading, err := s.load(ctx, in.ReadingID)
	if err != nil {
		return nil, err
	}
	if !reading.IsOpen() {
		return nil, billing.NewPreconditionError(billing.ErrReadingClosed, in.ReadingID)
	}

	activeIDs, err := s.units.ActiveUnits(ctx, reading.CondoID())
	if err != nil {
		return nil, &billing.PersistenceError{Op: "list active units", Err: err}
	}
	if len(activeIDs) == 0 {
		return nil, billing.NewPreconditionError(billing.ErrNoActiveUnits, reading.CondoID())
	}
	sort.Strings(activeIDs)
	if missing := reading.MissingUnits(activeIDs); len(missing) > 0 {
		pe := billing.NewPreconditionError(billing.ErrIncompleteReadings, in.ReadingID)
		pe.MissingUnits = missing
		return nil, pe
	}

	baselines, err := s.resolver.Resolve(ctx, reading.CondoID(), reading.Date(), reading.ID())
	if err != nil {
		return nil, &billing.PersistenceError{Op: "resolve baselines", Err: err}
	}
	if baselines.LaterReadingID != "" {
		return nil, billing.NewPreconditionError(billing.ErrDateBeforeLastClose,
			reading.Date().Format(billing.DateLayout)+" predates closed reading "+baselines.LaterReadingID)
	}

	verr := &billing.ValidationError{}
	consumptions := make([]billing.UnitConsumption, 0, len(activeIDs))
	for _, unitID := range activeIDs {
		entry, _ := reading.Entry(unitID)
		baseline := baselines.For(unitID)
		// A unit no closed period has seen starts from its current reading.
		consumption := billing.ComputeConsumption(entry.Reading, baseline, baselines.First || !baselines.Has(unitID))
		if fe := billing.CheckConsumption(unitID, entry.Reading, baseline, consumption); fe != nil {
			verr.Fields = append(verr.Fields, *fe)
			continue
		}
		consumptions = append(consumptions, billing.UnitConsumption{
			UnitID:          unitID,
			Reading:         entry.Reading,
			PreviousReading: baseline,
			Consumption:     consumption,
		})
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	alloc, err := billing.Allocate(in.TotalReading, in.TotalCost, consumptions)
	if err != nil {
		return nil, err
	}

	closed, err := billing.RestoreMeterReading(reading.Snapshot())
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := closed.Close(alloc, now); err != nil {
		return nil, err
	}
	unitEntries, err := history.BuildUnitEntries(closed)
	if err != nil {
		return nil, err
	}
	condoEntry, err := history.BuildCondoEntry(closed)
	if err != nil {
		return nil, err
	}

	if err := s.committer.CommitClose(ctx, closed, unitEntries, condoEntry); err != nil {
		s.logger.Warn("billing period close rejected",
			zap.String("reading_id", closed.ID()),
			zap.Error(err),
		)
		return nil, persistenceError("commit close", err)
	}

	result = &CloseResult{
		Summary: CloseSummary{
			ReadingID:           closed.ID(),
			CondoID:             closed.CondoID(),
			Date:                closed.Date(),
			First:               baselines.First,
			UnitCount:           len(alloc.Units),
			Totals:              alloc.Totals,
			TotalIndividualCost: condoEntry.TotalIndividualCost,
			TotalCommonAreaCost: condoEntry.TotalCommonAreaCost,
			AllocatedCost:       alloc.AllocatedTotal(),
			ClosedAt:            closed.ClosedAt(),
		},
		Units: alloc.Units,
	}
	s.logger.Info("billing period closed",
		zap.String("reading_id", closed.ID()),
		zap.String("condo_id", closed.CondoID()),
		zap.Int("units", len(alloc.Units)),
		zap.String("total_cost", alloc.Totals.TotalCost.StringFixed(billing.MoneyScale)),
		zap.String("allocated", result.Summary.AllocatedCost.StringFixed(billing.MoneyScale)),
		zap.Bool("first", baselines.First),
	)
	s.publishClosed(ctx, closed, activeIDs, now)
	return result, nil
}

func (s *LifecycleService) publishClosed(ctx context.Context, closed *billing.MeterReading, unitIDs []string, now time.Time) {
	if s.publisher == nil {
		return
	}
	totals, _ := closed.Totals()
	event := PeriodClosed{
		ReadingID:  closed.ID(),
		CondoID:    closed.CondoID(),
		Date:       closed.Date(),
		UnitIDs:    append([]string(nil), unitIDs...),
		TotalCost:  totals.TotalCost,
		OccurredAt: now.UTC(),
	}
	if err := s.publisher.PublishPeriodClosed(ctx, event); err != nil {
		s.logger.Error("publish period closed failed",
			zap.String("reading_id", closed.ID()),
			zap.Error(err),
		)
	}
}

func (s *LifecycleService) load(ctx context.Context, readingID string) (*billing.MeterReading, error) {
	if readingID == "" {
		return nil, billing.NewValidationError(billing.FieldError{Field: "readingId", Reason: billing.ErrValueRequired.Error()})
	}
	reading, err := s.readings.Get(ctx, readingID)
	if err != nil {
		return nil, &billing.PersistenceError{Op: "load reading", Err: err}
	}
	if reading == nil {
		return nil, billing.NewPreconditionError(billing.ErrReadingNotFound, readingID)
	}
	return reading, nil
}

func (s *LifecycleService) activeSet(ctx context.Context, condoID string) (map[string]struct{}, error) {
	ids, err := s.units.ActiveUnits(ctx, condoID)
	if err != nil {
		return nil, &billing.PersistenceError{Op: "list active units", Err: err}
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func persistenceError(op string, err error) error {
	return &billing.PersistenceError{
		Op:        op,
		Err:       err,
		Retryable: errors.Is(err, billing.ErrCommitConflict),
	}
}

func resultOf(err error) string {
	if err != nil {
		return metrics.ResultError
	}
	return metrics.ResultSuccess
}

func sortedUnitIDs(m map[string]string) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
