package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bustrack/internal/auth"
	"bustrack/internal/config"
	"bustrack/internal/fleet"
	"bustrack/internal/handlers"
	"bustrack/internal/ingest"
	"bustrack/internal/seed"
	"bustrack/internal/storage/sqlite"
	"bustrack/internal/stream"
	"bustrack/pkg/realtime"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "bustrack:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return err
	}

	hub := realtime.NewBroadcaster(realtime.NewRegistry(), logger)
	opts := []fleet.Option{fleet.WithEventSink(stream.NewFanout(hub, logger))}
	if cfg.DBPath != "" {
		repo, err := sqlite.Open(ctx, cfg.DBPath)
		if err != nil {
			return err
		}
		defer repo.Close()
		opts = append(opts, fleet.WithRepository(repo))
		logger.Info("persistence enabled", "path", cfg.DBPath)
	}
	store := fleet.NewStore(opts...)
	if err := store.Load(ctx); err != nil {
		return err
	}
	if cfg.SeedFile != "" {
		file, err := seed.LoadFile(cfg.SeedFile)
		if err != nil {
			return err
		}
		created, err := seed.Apply(ctx, store, file)
		if err != nil {
			return err
		}
		logger.Info("fleet seeded", "file", cfg.SeedFile, "created", created)
	}

	streamServer := stream.NewServer(hub, verifier, stream.Options{
		QueueSize:      cfg.StreamQueueSize,
		WriteTimeout:   cfg.StreamWriteTimeout,
		PingInterval:   cfg.StreamPingInterval,
		AllowAnonymous: cfg.StreamAllowAnonymous,
		AllowedOrigins: cfg.CORSOrigins,
	}, logger)

	router := handlers.NewRouter(handlers.Deps{
		Service:        ingest.NewService(store, cfg.SpeedLimitKPH, logger),
		Store:          store,
		Hub:            hub,
		Verifier:       verifier,
		Stream:         streamServer,
		Logger:         logger,
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout,
	})

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	hub.CloseAll()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	delivered, dropped := hub.Stats()
	logger.Info("stopped", "delivered", delivered, "dropped", dropped)
	return nil
}
