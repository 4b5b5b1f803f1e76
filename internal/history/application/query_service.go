package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	history "condo-water/internal/history/domain"
	"condo-water/internal/observability/metrics"
)

// QueryService answers history and statistics queries.
type QueryService struct {
	repo   history.Repository
	cache  history.StatsCache
	logger *zap.Logger
}

// QueryOption configures the query service.
type QueryOption func(*QueryService)

// WithStatsCache enables caching of condo stats.
func WithStatsCache(cache history.StatsCache) QueryOption {
	return func(s *QueryService) {
		s.cache = cache
	}
}

// WithQueryLogger sets the logger.
func WithQueryLogger(logger *zap.Logger) QueryOption {
	return func(s *QueryService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewQueryService constructs a query service.
func NewQueryService(repo history.Repository, opts ...QueryOption) (*QueryService, error) {
	if repo == nil {
		return nil, errors.New("history query: nil repository")
	}
	s := &QueryService{repo: repo, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetUnitHistory returns a unit's entries, newest first.
func (s *QueryService) GetUnitHistory(ctx context.Context, unitID string) (entries []history.UnitEntry, err error) {
	start := time.Now()
	defer func() { metrics.ObserveHistoryQuery("unit_history", resultOf(err), time.Since(start)) }()

	entries, err = s.repo.ListUnitEntries(ctx, unitID)
	if err != nil {
		return nil, err
	}
	history.SortUnitEntries(entries)
	return entries, nil
}

// GetUnitStats aggregates a unit's closed periods.
func (s *QueryService) GetUnitStats(ctx context.Context, unitID string) (stats history.UnitStats, err error) {
	start := time.Now()
	defer func() { metrics.ObserveHistoryQuery("unit_stats", resultOf(err), time.Since(start)) }()

	entries, err := s.repo.ListUnitEntries(ctx, unitID)
	if err != nil {
		return history.UnitStats{}, err
	}
	return history.ComputeUnitStats(unitID, entries)
}

// GetCondoHistory returns a condo's entries, newest first.
func (s *QueryService) GetCondoHistory(ctx context.Context, condoID string) (entries []history.CondoEntry, err error) {
	start := time.Now()
	defer func() { metrics.ObserveHistoryQuery("condo_history", resultOf(err), time.Since(start)) }()

	entries, err = s.repo.ListCondoEntries(ctx, condoID)
	if err != nil {
		return nil, err
	}
	history.SortCondoEntries(entries)
	return entries, nil
}

// GetCondoStats aggregates a condo's closed periods. Cache failures fall back
// to computing from the repository.
func (s *QueryService) GetCondoStats(ctx context.Context, condoID string) (stats history.CondoStats, err error) {
	start := time.Now()
	defer func() { metrics.ObserveHistoryQuery("condo_stats", resultOf(err), time.Since(start)) }()

	if s.cache != nil {
		cached, cerr := s.cache.GetCondoStats(ctx, condoID)
		if cerr != nil {
			s.logger.Warn("stats cache get failed", zap.String("condo_id", condoID), zap.Error(cerr))
		}
		metrics.IncStatsCache(cached != nil)
		if cached != nil {
			return *cached, nil
		}
	}

	entries, err := s.repo.ListCondoEntries(ctx, condoID)
	if err != nil {
		return history.CondoStats{}, err
	}
	stats, err = history.ComputeCondoStats(condoID, entries)
	if err != nil {
		return history.CondoStats{}, err
	}
	if s.cache != nil {
		if cerr := s.cache.SetCondoStats(ctx, stats); cerr != nil {
			s.logger.Warn("stats cache set failed", zap.String("condo_id", condoID), zap.Error(cerr))
		}
	}
	return stats, nil
}

// InvalidateCondo drops cached stats of a condo.
func (s *QueryService) InvalidateCondo(ctx context.Context, condoID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, condoID)
}

func resultOf(err error) string {
	if err != nil {
		return metrics.ResultError
	}
	return metrics.ResultSuccess
}
