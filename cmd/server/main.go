package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Simplici0/glassquote/internal/auth"
	"github.com/Simplici0/glassquote/internal/config"
	"github.com/Simplici0/glassquote/internal/db"
	"github.com/Simplici0/glassquote/internal/logging"
	"github.com/Simplici0/glassquote/internal/metrics"
	"github.com/Simplici0/glassquote/internal/migrations"
	"github.com/Simplici0/glassquote/internal/pricing"
	"github.com/Simplici0/glassquote/internal/seed"
	"github.com/Simplici0/glassquote/internal/snapshotfile"
	"github.com/Simplici0/glassquote/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.IsDev())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer database.Close()

	if cfg.IsDev() {
		if err := migrations.Up(ctx, database, cfg.MigrationsDir); err != nil {
			log.Fatal().Err(err).Msg("failed to run database migrations")
		}
		stats, err := seed.Run(ctx, database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to seed database")
		}
		log.Info().Int("inserts", stats.Inserts).Msg("seed complete")
	}

	st := store.New(database)
	srv := newServer(st, auth.NewVerifier(cfg.SessionSecret), metrics.New(), cfg.FormulaTimeout)

	if cfg.SnapshotFile != "" {
		if err := watchSnapshotFile(ctx, cfg.SnapshotFile, st); err != nil {
			log.Fatal().Err(err).Str("path", cfg.SnapshotFile).Msg("failed to load snapshot file")
		}
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	log.Info().Str("addr", httpServer.Addr).Str("env", cfg.Env).Msg("starting glassquote server")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server stopped")
}

// watchSnapshotFile imports path once and then again on every change until ctx ends.
func watchSnapshotFile(ctx context.Context, path string, st *store.Store) error {
	apply := func(ctx context.Context, snap pricing.Snapshot) error {
		_, err := st.Import(ctx, snap, "snapshot-file")
		return err
	}

	snap, err := snapshotfile.LoadFile(path)
	if err != nil {
		return err
	}
	if err := apply(ctx, snap); err != nil {
		return err
	}

	w, err := snapshotfile.NewWatcher(path, log.Logger, apply)
	if err != nil {
		return err
	}
	go func() {
		if err := w.Run(ctx); err != nil {
			log.Error().Err(err).Msg("snapshot watcher stopped")
		}
	}()
	log.Info().Str("path", path).Msg("watching snapshot file")
	return nil
}
