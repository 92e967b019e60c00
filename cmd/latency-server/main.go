package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	config, err := loadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
}

func run(ctx context.Context, config *Config) error {
	var services *Services
	if config.Storage == "postgres" {
		pool, err := setupDatabase(ctx, config.Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		services, err = setupServices(ctx, config, pool)
		if err != nil {
			return err
		}
	} else {
		var err error
		services, err = setupServices(ctx, config, nil)
		if err != nil {
			return err
		}
	}
	if services.Publisher != nil {
		defer services.Publisher.Close()
	}

	go services.Store.Run(ctx)

	server := setupServer(config, services)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Str("region", config.Region).Msg("latency server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
