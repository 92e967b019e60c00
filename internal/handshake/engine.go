package handshake

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mandelmonkey/latency-test/internal/latency"
	"github.com/mandelmonkey/latency-test/internal/metrics"
	"github.com/mandelmonkey/latency-test/internal/session"
)

// SessionStore defines what the engine needs from the session table.
type SessionStore interface {
	Create(userID, clientAddress string, totalIterations int) *session.Session
	Advance(token string) (*session.Session, bool, error)
}

// Publisher emits a completion event after a handshake's aggregate has
// been persisted. Implementations are best-effort; failures are logged
// and never surfaced to the measuring client.
type Publisher interface {
	LatencyRecorded(ctx context.Context, req latency.UpsertLatencyRequest) error
}

// Config identifies this measurement server instance.
type Config struct {
	// Region is the geographic identity the instance reports under.
	Region string
	// TotalIterations is the fixed round count for every session.
	TotalIterations int
}

// Engine drives the two-phase RTT handshake: StartSession opens a session
// and stamps the reference point for round 1; each ReportRound banks the
// elapsed time since that stamp as one round trip. The measured value is
// server-observed wall-clock time, so it includes client think-time
// between rounds; that approximates application-perceived latency rather
// than raw network RTT.
type Engine struct {
	store     SessionStore
	repo      latency.Repository
	publisher Publisher
	config    Config
}

// NewEngine creates a handshake engine. publisher may be nil when
// completion events are disabled.
func NewEngine(store SessionStore, repo latency.Repository, publisher Publisher, config Config) *Engine {
	return &Engine{
		store:     store,
		repo:      repo,
		publisher: publisher,
		config:    config,
	}
}

// StartSessionRequest opens a handshake for a user.
type StartSessionRequest struct {
	UserID        string `json:"user_id"`
	ClientAddress string `json:"-"`
}

// StartSessionResponse returns the capability token for the new session.
type StartSessionResponse struct {
	Token           string `json:"token"`
	TotalIterations int    `json:"total_iterations"`
}

// ReportRoundRequest reports that the client received the previous
// response, closing one measurement round.
type ReportRoundRequest struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// ReportRoundResponse describes handshake progress. While rounds remain,
// Iteration/TotalIterations advance; on the final round Completed is true
// and the aggregate fields are set.
type ReportRoundResponse struct {
	Completed       bool   `json:"completed"`
	Iteration       int    `json:"iteration,omitempty"`
	TotalIterations int    `json:"total_iterations"`
	AverageRTTMs    int64  `json:"average_rtt_ms,omitempty"`
	MinRTTMs        int64  `json:"min_rtt_ms,omitempty"`
	Region          string `json:"region,omitempty"`
}

// StartSession validates the request and opens a new session.
func (e *Engine) StartSession(ctx context.Context, req StartSessionRequest) (*StartSessionResponse, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}

	s := e.store.Create(req.UserID, req.ClientAddress, e.config.TotalIterations)

	log.Debug().
		Str("user_id", req.UserID).
		Str("token", s.Token).
		Int("total_iterations", s.TotalIterations).
		Msg("handshake session started")

	return &StartSessionResponse{
		Token:           s.Token,
		TotalIterations: s.TotalIterations,
	}, nil
}

// ReportRound advances the session one round. On the final round the
// aggregate is written through the repository before the response is
// built; a failed write is logged and counted but the client still gets
// its result, since the measurement itself succeeded.
func (e *Engine) ReportRound(ctx context.Context, req ReportRoundRequest) (*ReportRoundResponse, error) {
	if req.UserID == "" || req.Token == "" {
		return nil, fmt.Errorf("%w: user_id and token are required", ErrInvalidRequest)
	}

	s, completed, err := e.store.Advance(req.Token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to advance session: %w", err)
	}

	if !completed {
		return &ReportRoundResponse{
			Iteration:       s.Iteration,
			TotalIterations: s.TotalIterations,
		}, nil
	}

	avgMs := s.AverageRTTMs()
	minMs := s.MinRTTMs()

	upsert := latency.UpsertLatencyRequest{
		UserID:       s.UserID,
		Region:       e.config.Region,
		AverageRTTMs: avgMs,
		MinRTTMs:     &minMs,
	}
	if s.ClientAddress != "" {
		upsert.ClientAddress = &s.ClientAddress
	}

	if _, err := e.repo.UpsertLatency(ctx, upsert); err != nil {
		metrics.PersistenceFailures.Inc()
		log.Error().Err(err).
			Str("user_id", s.UserID).
			Str("region", e.config.Region).
			Int64("average_rtt_ms", avgMs).
			Msg("failed to persist latency record, result stays stale until next handshake")
	} else if e.publisher != nil {
		if err := e.publisher.LatencyRecorded(ctx, upsert); err != nil {
			metrics.EventPublishFailures.Inc()
			log.Error().Err(err).
				Str("user_id", s.UserID).
				Str("region", e.config.Region).
				Msg("failed to publish completion event")
		}
	}

	log.Info().
		Str("user_id", s.UserID).
		Str("region", e.config.Region).
		Int64("average_rtt_ms", avgMs).
		Int64("min_rtt_ms", minMs).
		Int("iterations", s.TotalIterations).
		Msg("handshake completed")

	return &ReportRoundResponse{
		Completed:       true,
		TotalIterations: s.TotalIterations,
		AverageRTTMs:    avgMs,
		MinRTTMs:        minMs,
		Region:          e.config.Region,
	}, nil
}
