package latency

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mandelmonkey/latency-test/internal/metrics"
	"github.com/mandelmonkey/latency-test/internal/models"
)

const closestCacheSize = 4096

// AppConfig holds selection policy settings.
type AppConfig struct {
	// CloseThresholdMs is the largest average a region may report and
	// still be recommended.
	CloseThresholdMs int64
	// ClosestCacheTTL bounds how stale a cached closest-region answer may
	// be. Zero disables the cache.
	ClosestCacheTTL time.Duration
}

// App serves the read side: per-user latency listings and the
// closest-region recommendation.
type App struct {
	repo   Repository
	config AppConfig

	closestCache *expirable.LRU[string, models.ClosestRegion]
}

// NewApp creates the latency query app.
func NewApp(repo Repository, config AppConfig) *App {
	a := &App{
		repo:   repo,
		config: config,
	}
	if config.ClosestCacheTTL > 0 {
		a.closestCache = expirable.NewLRU[string, models.ClosestRegion](
			closestCacheSize, nil, config.ClosestCacheTTL)
	}
	return a
}

// LatenciesByUser lists every region's latency record for a user. An
// empty result is not an error.
func (a *App) LatenciesByUser(ctx context.Context, userID string) ([]models.RegionLatencyRecord, error) {
	records, err := a.repo.FindLatenciesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list latencies: %w", err)
	}
	return records, nil
}

// ClosestRegion picks the region with the lowest latest average for a
// user. Ties keep the first record seen, which both repository
// implementations return in first-completion order. A best region slower
// than the threshold yields ClosestAboveThreshold; a user with no records
// yields ClosestNoData.
func (a *App) ClosestRegion(ctx context.Context, userID string) (*models.ClosestRegion, error) {
	if a.closestCache != nil {
		if cached, ok := a.closestCache.Get(userID); ok {
			return &cached, nil
		}
	}

	records, err := a.repo.FindLatenciesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select closest region: %w", err)
	}

	result := selectClosest(records, a.config.CloseThresholdMs)
	metrics.ClosestQueries.WithLabelValues(string(result.Outcome)).Inc()

	if a.closestCache != nil {
		a.closestCache.Add(userID, result)
	}
	return &result, nil
}

// selectClosest scans records for the minimum average. The comparison
// metric is the latest average, not the min watermark: the recommendation
// should reflect what the user currently measures, while the watermark is
// a historical floor.
func selectClosest(records []models.RegionLatencyRecord, thresholdMs int64) models.ClosestRegion {
	if len(records) == 0 {
		return models.ClosestRegion{Outcome: models.ClosestNoData}
	}

	best := records[0]
	for _, rec := range records[1:] {
		if rec.AverageRTTMs < best.AverageRTTMs {
			best = rec
		}
	}

	if best.AverageRTTMs > thresholdMs {
		return models.ClosestRegion{Outcome: models.ClosestAboveThreshold}
	}

	return models.ClosestRegion{
		Outcome:      models.ClosestFound,
		Region:       best.Region,
		AverageRTTMs: best.AverageRTTMs,
		UpdatedAt:    best.UpdatedAt,
	}
}
