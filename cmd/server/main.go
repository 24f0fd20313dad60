// Server entrypoint: wires config, storage, services and the HTTP router.
// Business logic lives in the internal/library packages.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"biblio/internal/library/availability"
	"biblio/internal/library/copies"
	"biblio/internal/library/handler"
	"biblio/internal/library/loans"
	"biblio/internal/library/notify"
	"biblio/internal/library/reservations"
	"biblio/internal/library/returns"
	"biblio/internal/library/store"
	"biblio/internal/library/users"
	"biblio/internal/platform/config"
	"biblio/internal/platform/logger"
	"biblio/internal/platform/metrics"
	"biblio/internal/platform/postgres"
	redisplatform "biblio/internal/platform/redis"
	"biblio/internal/platform/token"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Error("schema migration failed", "error", err)
		os.Exit(1)
	}

	pg := store.NewPostgres(db)
	runner := newPostgresTxRunner(db, cfg.TxTimeout)
	m := metrics.New()

	// Activation tokens live in Redis when configured, otherwise they share
	// the relational store.
	var tokens store.TokenStore = pg
	if cfg.RedisURL != "" {
		redisClient, err := redisplatform.Open(ctx, cfg.RedisURL)
		if err != nil {
			log.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		tokens = store.NewRedisTokenStore(redisClient)
	}

	sink := notify.NewRecorder(&notify.LogSink{Log: log}, pg, pg, log, m)

	tracker := availability.NewTracker(pg, pg)
	copySvc := copies.NewService(runner, pg, pg, pg, log, m)
	loanSvc := loans.NewService(runner, pg, pg, pg, pg, pg, log, m)
	returnSvc := returns.NewService(runner, pg, pg, pg, pg, log, m)
	reservationSvc := reservations.NewService(runner, pg, pg, pg, log, m)
	userSvc := users.NewService(runner, pg, pg, tokens, sink, cfg.ActivationTokenTTL, log, m)
	reminders := notify.NewReminders(sink, pg, log, cfg.ReminderConcurrency)

	tokenManager := token.NewManager([]byte(cfg.JWTSigningKey), 12*time.Hour)

	h := handler.New(log, tokenManager, tracker, copySvc, loanSvc, returnSvc, reservationSvc, userSvc, reminders)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", h.Router())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
