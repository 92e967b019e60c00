package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mandelmonkey/latency-test/internal/events"
	"github.com/mandelmonkey/latency-test/internal/gateway"
	"github.com/mandelmonkey/latency-test/internal/handshake"
	"github.com/mandelmonkey/latency-test/internal/latency"
	"github.com/mandelmonkey/latency-test/internal/session"
)

// Services holds the wired application.
type Services struct {
	Store     *session.Store
	Engine    *handshake.Engine
	Latency   *latency.App
	Gateway   *gateway.Handler
	WebSocket *gateway.WebSocketHandler
	Publisher *events.JetStreamPublisher
}

// setupServices wires the dependency chain: repository → apps → gateway.
// pool may be nil when the memory backend is selected.
func setupServices(ctx context.Context, config *Config, pool *pgxpool.Pool) (*Services, error) {
	clock := clockwork.NewRealClock()

	var repo latency.Repository
	switch config.Storage {
	case "postgres":
		repo = latency.NewPostgresRepository(pool)
	case "memory":
		repo = latency.NewMemoryRepository(clock)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", config.Storage)
	}

	var publisher *events.JetStreamPublisher
	if config.NATSURL != "" {
		cfg := events.DefaultJetStreamConfig()
		cfg.URL = config.NATSURL
		p, err := events.NewJetStreamPublisher(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to set up event publisher: %w", err)
		}
		publisher = p
	}

	store := session.NewStore(clock, session.Config{
		Expiration:    config.SessionExpiration,
		SweepInterval: config.SweepInterval,
	})

	var enginePublisher handshake.Publisher
	if publisher != nil {
		enginePublisher = publisher
	}
	engine := handshake.NewEngine(store, repo, enginePublisher, handshake.Config{
		Region:          config.Region,
		TotalIterations: config.TotalIterations,
	})

	latencyApp := latency.NewApp(repo, latency.AppConfig{
		CloseThresholdMs: config.CloseThresholdMs,
		ClosestCacheTTL:  config.ClosestCacheTTL,
	})

	log.Info().
		Str("region", config.Region).
		Str("storage", config.Storage).
		Int("total_iterations", config.TotalIterations).
		Int64("close_threshold_ms", config.CloseThresholdMs).
		Bool("events_enabled", publisher != nil).
		Msg("services wired")

	return &Services{
		Store:     store,
		Engine:    engine,
		Latency:   latencyApp,
		Gateway:   gateway.NewHandler(engine, latencyApp),
		WebSocket: gateway.NewWebSocketHandler(engine, latencyApp, gateway.DefaultConnectionConfig()),
		Publisher: publisher,
	}, nil
}
