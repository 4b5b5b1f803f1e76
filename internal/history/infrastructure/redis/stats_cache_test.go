package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	history "condo-water/internal/history/domain"
)

func setupTestCache(t *testing.T) (*miniredis.Miniredis, *StatsCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache, err := NewStatsCache(client, WithTTL(time.Minute))
	require.NoError(t, err)
	return mr, cache
}

func TestStatsCache_RoundTrip(t *testing.T) {
	mr, cache := setupTestCache(t)
	ctx := context.Background()

	stats := history.CondoStats{
		CondoID:            "c-1",
		Periods:            2,
		AverageConsumption: decimal.RequireFromString("45.5"),
		AverageCost:        decimal.RequireFromString("50.25"),
		MinCost:            decimal.RequireFromString("40"),
		MaxCost:            decimal.RequireFromString("60.5"),
		ConsumptionTrend: []history.TrendPoint{
			{ReadingID: "r-2", Date: time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), Consumption: decimal.NewFromInt(50), Cost: decimal.RequireFromString("60.5")},
		},
		LastReading: &history.CondoEntry{CondoID: "c-1", ReadingID: "r-2", UnitCount: 3},
	}
	require.NoError(t, cache.SetCondoStats(ctx, stats))
	assert.True(t, mr.Exists(defaultKeyPrefix+"c-1"))
	assert.Equal(t, time.Minute, mr.TTL(defaultKeyPrefix+"c-1"))

	got, err := cache.GetCondoStats(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Periods)
	assert.True(t, got.AverageCost.Equal(stats.AverageCost))
	assert.True(t, got.MaxCost.Equal(stats.MaxCost))
	require.Len(t, got.ConsumptionTrend, 1)
	assert.Equal(t, "r-2", got.ConsumptionTrend[0].ReadingID)
	require.NotNil(t, got.LastReading)
	assert.Equal(t, 3, got.LastReading.UnitCount)
}

func TestStatsCache_MissAndInvalidate(t *testing.T) {
	mr, cache := setupTestCache(t)
	ctx := context.Background()

	got, err := cache.GetCondoStats(ctx, "c-9")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, cache.SetCondoStats(ctx, history.CondoStats{CondoID: "c-9"}))
	require.NoError(t, cache.Invalidate(ctx, "c-9"))
	assert.False(t, mr.Exists(defaultKeyPrefix+"c-9"))

	mr.FastForward(2 * time.Minute)
	got, err = cache.GetCondoStats(ctx, "c-9")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStatsCache_RejectsEmptyCondo(t *testing.T) {
	_, cache := setupTestCache(t)
	assert.Error(t, cache.SetCondoStats(context.Background(), history.CondoStats{}))

	_, err := NewStatsCache(nil)
	assert.Error(t, err)
}
