package latency

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/mandelmonkey/latency-test/internal/models"
)

// MemoryRepository is a map-backed Repository for storage-free deployments
// and tests. Records per user keep first-upsert order, matching the
// ordering the Postgres implementation produces.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]map[string]*models.RegionLatencyRecord
	order   map[string][]string

	clock clockwork.Clock
}

// NewMemoryRepository creates an empty in-memory latency repository.
func NewMemoryRepository(clock clockwork.Clock) *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string]map[string]*models.RegionLatencyRecord),
		order:   make(map[string][]string),
		clock:   clock,
	}
}

// UpsertLatency creates or updates the record for (user, region).
func (r *MemoryRepository) UpsertLatency(ctx context.Context, req UpsertLatencyRequest) (*models.RegionLatencyRecord, error) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	byRegion, ok := r.records[req.UserID]
	if !ok {
		byRegion = make(map[string]*models.RegionLatencyRecord)
		r.records[req.UserID] = byRegion
	}

	rec, ok := byRegion[req.Region]
	if !ok {
		rec = &models.RegionLatencyRecord{
			UserID:    req.UserID,
			Region:    req.Region,
			CreatedAt: now,
		}
		byRegion[req.Region] = rec
		r.order[req.UserID] = append(r.order[req.UserID], req.Region)
	}

	rec.AverageRTTMs = req.AverageRTTMs
	if req.MinRTTMs != nil {
		if rec.MinRTTMs == nil || *req.MinRTTMs < *rec.MinRTTMs {
			min := *req.MinRTTMs
			rec.MinRTTMs = &min
		}
	}
	if req.ClientAddress != nil {
		addr := *req.ClientAddress
		rec.ClientAddress = &addr
	}
	rec.UpdatedAt = now

	out := *rec
	return &out, nil
}

// FindLatenciesByUser returns copies of all records for a user in
// first-upsert order.
func (r *MemoryRepository) FindLatenciesByUser(ctx context.Context, userID string) ([]models.RegionLatencyRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regions := r.order[userID]
	if len(regions) == 0 {
		return nil, nil
	}

	records := make([]models.RegionLatencyRecord, 0, len(regions))
	for _, region := range regions {
		records = append(records, *r.records[userID][region])
	}
	return records, nil
}
