package latency

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func TestUpsertCreatesRecord(t *testing.T) {
	repo := NewMemoryRepository(clockwork.NewFakeClock())

	rec, err := repo.UpsertLatency(context.Background(), UpsertLatencyRequest{
		UserID:       "user-1",
		Region:       "eu-west",
		AverageRTTMs: 100,
		MinRTTMs:     int64Ptr(90),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), rec.AverageRTTMs)
	require.NotNil(t, rec.MinRTTMs)
	assert.Equal(t, int64(90), *rec.MinRTTMs)
	assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)
}

func TestUpsertLatestAverageMinimumWatermark(t *testing.T) {
	clock := clockwork.NewFakeClock()
	repo := NewMemoryRepository(clock)

	_, err := repo.UpsertLatency(context.Background(), UpsertLatencyRequest{
		UserID: "user-1", Region: "eu-west", AverageRTTMs: 100, MinRTTMs: int64Ptr(100),
	})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	rec, err := repo.UpsertLatency(context.Background(), UpsertLatencyRequest{
		UserID: "user-1", Region: "eu-west", AverageRTTMs: 80, MinRTTMs: int64Ptr(80),
	})
	require.NoError(t, err)

	// Latest wins for the average, minimum wins for the watermark.
	assert.Equal(t, int64(80), rec.AverageRTTMs)
	require.NotNil(t, rec.MinRTTMs)
	assert.LessOrEqual(t, *rec.MinRTTMs, int64(80))

	// A slower session later never raises the watermark.
	rec, err = repo.UpsertLatency(context.Background(), UpsertLatencyRequest{
		UserID: "user-1", Region: "eu-west", AverageRTTMs: 200, MinRTTMs: int64Ptr(200),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(200), rec.AverageRTTMs)
	assert.Equal(t, int64(80), *rec.MinRTTMs)
}

func TestUpsertKeepsCreatedAt(t *testing.T) {
	clock := clockwork.NewFakeClock()
	repo := NewMemoryRepository(clock)

	first, err := repo.UpsertLatency(context.Background(), UpsertLatencyRequest{
		UserID: "user-1", Region: "eu-west", AverageRTTMs: 100,
	})
	require.NoError(t, err)

	clock.Advance(time.Hour)
	second, err := repo.UpsertLatency(context.Background(), UpsertLatencyRequest{
		UserID: "user-1", Region: "eu-west", AverageRTTMs: 80,
	})
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(second.CreatedAt))
}

func TestUpsertWithoutWatermarkLeavesItUnset(t *testing.T) {
	repo := NewMemoryRepository(clockwork.NewFakeClock())

	rec, err := repo.UpsertLatency(context.Background(), UpsertLatencyRequest{
		UserID: "user-1", Region: "eu-west", AverageRTTMs: 100,
	})
	require.NoError(t, err)
	assert.Nil(t, rec.MinRTTMs)
}

func TestFindLatenciesByUserFirstUpsertOrder(t *testing.T) {
	repo := NewMemoryRepository(clockwork.NewFakeClock())
	ctx := context.Background()

	for _, region := range []string{"us-east", "eu-west", "ap-south"} {
		_, err := repo.UpsertLatency(ctx, UpsertLatencyRequest{
			UserID: "user-1", Region: region, AverageRTTMs: 100,
		})
		require.NoError(t, err)
	}
	// Re-upserting must not change the order.
	_, err := repo.UpsertLatency(ctx, UpsertLatencyRequest{
		UserID: "user-1", Region: "eu-west", AverageRTTMs: 50,
	})
	require.NoError(t, err)

	records, err := repo.FindLatenciesByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "us-east", records[0].Region)
	assert.Equal(t, "eu-west", records[1].Region)
	assert.Equal(t, "ap-south", records[2].Region)
}

func TestFindLatenciesByUserEmpty(t *testing.T) {
	repo := NewMemoryRepository(clockwork.NewFakeClock())

	records, err := repo.FindLatenciesByUser(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, records)
}
