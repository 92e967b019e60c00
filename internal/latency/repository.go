package latency

import (
	"context"

	"github.com/mandelmonkey/latency-test/internal/models"
)

// UpsertLatencyRequest carries one completed handshake's aggregate into
// the repository.
type UpsertLatencyRequest struct {
	UserID        string  `json:"user_id"`
	Region        string  `json:"region"`
	AverageRTTMs  int64   `json:"average_rtt_ms"`
	MinRTTMs      *int64  `json:"min_rtt_ms,omitempty"`
	ClientAddress *string `json:"client_address,omitempty"`
}

// Repository defines the persistence contract for region latency records.
// UpsertLatency is latest-wins for the average and monotonic-minimum for
// the watermark; created_at is set only on first insert. Implementations
// must be safe for concurrent calls, including repeated calls on the same
// (user, region) key.
type Repository interface {
	UpsertLatency(ctx context.Context, req UpsertLatencyRequest) (*models.RegionLatencyRecord, error)
	FindLatenciesByUser(ctx context.Context, userID string) ([]models.RegionLatencyRecord, error)
}
