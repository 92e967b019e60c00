package latency

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mandelmonkey/latency-test/internal/models"
)

const upsertLatencySQL = `
INSERT INTO region_latencies (user_id, region, average_rtt_ms, min_rtt_ms, client_address, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())
ON CONFLICT (user_id, region) DO UPDATE SET
    average_rtt_ms = EXCLUDED.average_rtt_ms,
    min_rtt_ms     = LEAST(region_latencies.min_rtt_ms, EXCLUDED.min_rtt_ms),
    client_address = COALESCE(EXCLUDED.client_address, region_latencies.client_address),
    updated_at     = now()
RETURNING user_id, region, average_rtt_ms, min_rtt_ms, client_address, created_at, updated_at`

const findLatenciesByUserSQL = `
SELECT user_id, region, average_rtt_ms, min_rtt_ms, client_address, created_at, updated_at
FROM region_latencies
WHERE user_id = $1
ORDER BY created_at, region`

// PostgresRepository implements Repository on a pgx connection pool. The
// upsert is a single statement, so concurrent completions for the same
// (user, region) key serialize inside Postgres.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a Postgres-backed latency repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// UpsertLatency creates or updates the record for (user, region).
// Postgres's LEAST ignores NULLs, which gives the watermark semantics for
// free: a missing incoming minimum leaves the stored one alone, and a
// missing stored one adopts the incoming value.
func (r *PostgresRepository) UpsertLatency(ctx context.Context, req UpsertLatencyRequest) (*models.RegionLatencyRecord, error) {
	row := r.pool.QueryRow(ctx, upsertLatencySQL,
		req.UserID, req.Region, req.AverageRTTMs, req.MinRTTMs, req.ClientAddress)

	var rec models.RegionLatencyRecord
	if err := row.Scan(
		&rec.UserID, &rec.Region, &rec.AverageRTTMs,
		&rec.MinRTTMs, &rec.ClientAddress, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to upsert latency record: %w", err)
	}

	return &rec, nil
}

// FindLatenciesByUser returns all latency records for a user, ordered by
// first completion so the closest-region scan is deterministic.
func (r *PostgresRepository) FindLatenciesByUser(ctx context.Context, userID string) ([]models.RegionLatencyRecord, error) {
	rows, err := r.pool.Query(ctx, findLatenciesByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latency records: %w", err)
	}
	defer rows.Close()

	var records []models.RegionLatencyRecord
	for rows.Next() {
		var rec models.RegionLatencyRecord
		if err := rows.Scan(
			&rec.UserID, &rec.Region, &rec.AverageRTTMs,
			&rec.MinRTTMs, &rec.ClientAddress, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan latency record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read latency records: %w", err)
	}

	return records, nil
}
