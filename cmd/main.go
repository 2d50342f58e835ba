package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"live-queue/auth"
	"live-queue/infrastructure/api"
	"live-queue/infrastructure/ws"
	"live-queue/internal"
	"live-queue/moderation"
	"live-queue/observability"
	"live-queue/repositories"
	"live-queue/runtime"
	"live-queue/runtime/workers"
	"live-queue/services"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// Returning instead of exiting lets every defer (database close included) run.
func run() error {
	// 1. Configuration & Logger
	config, err := internal.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Identity
	users := repositories.NewUserRepository(db)
	tokens := auth.NewTokenManager(config.JWTSecret, config.JWTIssuer, config.AuthTokenDuration)
	verifier := auth.NewVerifier(tokens, users, config.VerifyTimeout)

	// 4. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	// 5. Realtime core
	hubOptions := []runtime.HubOption{runtime.WithMetricInterval(config.MetricInterval)}
	if config.ModerationEnabled {
		moderator, err := newModerator(config, log)
		if err != nil {
			return err
		}
		hubOptions = append(hubOptions, runtime.WithModeration(moderator))
	}
	supervisor := workers.NewSupervisor(log, config.RestartInterval)
	hub := runtime.NewHub(log, runtime.NewRegistry(log), supervisor, metrics,
		config.BufferSize, config.SinkTimeout, hubOptions...)

	realtime := ws.NewServer(log, hub, verifier, metrics, ws.Options{
		ConnectionBufferSize: config.ConnectionBufferSize,
		WriteTimeout:         config.WriteTimeout,
		PongWait:             config.PongWait,
		VerifyTimeout:        config.VerifyTimeout,
		AllowedOrigins:       config.AllowedOrigins(),
	})

	// 6. HTTP
	var process api.ProcessSampler
	if monitor, err := observability.NewProcessMonitor(); err == nil {
		process = monitor
	} else {
		log.Warn("Process stats unavailable", "error", err)
	}
	router := api.NewRouter(api.Dependencies{
		Log:            log,
		Auth:           services.NewAuthService(log, users, tokens),
		Verifier:       verifier,
		Notifications:  services.NewNotificationService(log, hub),
		Stats:          hub,
		Process:        process,
		Gatherer:       registry,
		Realtime:       realtime,
		AllowedOrigins: config.AllowedOrigins(),
	})
	server := &http.Server{
		Addr:              config.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 7. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Start(gCtx)
	})
	g.Go(func() error {
		log.Info("Starting HTTP server", "address", server.Addr, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// 8. Wait for Stop or Error, then clean up
	g.Go(func() error {
		<-gCtx.Done()
		log.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		// Hijacked websocket connections are not tracked by Shutdown
		realtime.Close()
		hub.Stop()
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Program stopped cleanly")
	return nil
}

func newModerator(config internal.Config, log *slog.Logger) (*moderation.Moderator, error) {
	char, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return nil, err
	}
	data, err := moderation.LoadEmbedded()
	if err != nil {
		return nil, fmt.Errorf("loading censored words: %w", err)
	}
	moderator, err := moderation.NewModerator(data.Words, char, log)
	if err != nil {
		return nil, fmt.Errorf("building moderator: %w", err)
	}
	log.Info("Moderation enabled", "languages", data.Languages, "words", len(data.Words))
	return moderator, nil
}
