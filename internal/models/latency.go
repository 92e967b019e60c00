package models

import "time"

// RegionLatencyRecord is the persisted latency aggregate for one
// (user, region) pair. AverageRTTMs always reflects the most recently
// completed handshake; MinRTTMs is a best-ever watermark that only
// ever decreases once set.
type RegionLatencyRecord struct {
	UserID        string    `json:"user_id"`
	Region        string    `json:"region"`
	AverageRTTMs  int64     `json:"average_rtt_ms"`
	MinRTTMs      *int64    `json:"min_rtt_ms,omitempty"`
	ClientAddress *string   `json:"client_address,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ClosestOutcome classifies the result of a closest-region query.
type ClosestOutcome string

const (
	// ClosestFound means a region qualified under the threshold.
	ClosestFound ClosestOutcome = "ok"
	// ClosestNoData means the user has no latency records at all.
	ClosestNoData ClosestOutcome = "no_data"
	// ClosestAboveThreshold means records exist but even the best
	// region is slower than the configured threshold.
	ClosestAboveThreshold ClosestOutcome = "above_threshold"
)

// ClosestRegion is the answer to a closest-region query. Region,
// AverageRTTMs and UpdatedAt are only meaningful when Outcome is
// ClosestFound.
type ClosestRegion struct {
	Outcome      ClosestOutcome `json:"status"`
	Region       string         `json:"region,omitempty"`
	AverageRTTMs int64          `json:"average_rtt_ms,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at,omitempty"`
}
