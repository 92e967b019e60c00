package latency

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mandelmonkey/latency-test/internal/models"
)

func newAppFixture(t *testing.T, thresholdMs int64, cacheTTL time.Duration) (*App, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository(clockwork.NewFakeClock())
	app := NewApp(repo, AppConfig{
		CloseThresholdMs: thresholdMs,
		ClosestCacheTTL:  cacheTTL,
	})
	return app, repo
}

func seed(t *testing.T, repo *MemoryRepository, userID string, averages map[string]int64, order []string) {
	t.Helper()
	for _, region := range order {
		_, err := repo.UpsertLatency(context.Background(), UpsertLatencyRequest{
			UserID:       userID,
			Region:       region,
			AverageRTTMs: averages[region],
		})
		require.NoError(t, err)
	}
}

func TestClosestRegionPicksMinimum(t *testing.T) {
	app, repo := newAppFixture(t, 150, 0)
	seed(t, repo, "user-1", map[string]int64{"region-a": 200, "region-b": 90}, []string{"region-a", "region-b"})

	closest, err := app.ClosestRegion(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.ClosestFound, closest.Outcome)
	assert.Equal(t, "region-b", closest.Region)
	assert.Equal(t, int64(90), closest.AverageRTTMs)
	assert.False(t, closest.UpdatedAt.IsZero())
}

func TestClosestRegionAboveThreshold(t *testing.T) {
	app, repo := newAppFixture(t, 150, 0)
	seed(t, repo, "user-1", map[string]int64{"region-a": 200, "region-b": 180}, []string{"region-a", "region-b"})

	closest, err := app.ClosestRegion(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.ClosestAboveThreshold, closest.Outcome)
	assert.Empty(t, closest.Region)
}

func TestClosestRegionNoData(t *testing.T) {
	app, _ := newAppFixture(t, 150, 0)

	closest, err := app.ClosestRegion(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.ClosestNoData, closest.Outcome)
}

func TestClosestRegionExactlyAtThresholdQualifies(t *testing.T) {
	app, repo := newAppFixture(t, 150, 0)
	seed(t, repo, "user-1", map[string]int64{"region-a": 150}, []string{"region-a"})

	closest, err := app.ClosestRegion(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.ClosestFound, closest.Outcome)
	assert.Equal(t, "region-a", closest.Region)
}

func TestClosestRegionTieKeepsFirstSeen(t *testing.T) {
	app, repo := newAppFixture(t, 150, 0)
	seed(t, repo, "user-1", map[string]int64{"region-a": 100, "region-b": 100}, []string{"region-a", "region-b"})

	closest, err := app.ClosestRegion(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "region-a", closest.Region)
}

func TestClosestRegionCachesResult(t *testing.T) {
	app, repo := newAppFixture(t, 150, time.Minute)
	seed(t, repo, "user-1", map[string]int64{"region-a": 100}, []string{"region-a"})

	closest, err := app.ClosestRegion(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "region-a", closest.Region)

	// A faster region completing inside the TTL is not visible yet.
	seed(t, repo, "user-1", map[string]int64{"region-b": 50}, []string{"region-b"})
	closest, err = app.ClosestRegion(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "region-a", closest.Region)
}

func TestLatenciesByUser(t *testing.T) {
	app, repo := newAppFixture(t, 150, 0)
	seed(t, repo, "user-1", map[string]int64{"region-a": 200, "region-b": 90}, []string{"region-a", "region-b"})

	records, err := app.LatenciesByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	records, err = app.LatenciesByUser(context.Background(), "user-2")
	require.NoError(t, err)
	assert.Empty(t, records)
}
