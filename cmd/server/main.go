// Package main is the entry point for the riskline risk assessment
// engine. It assembles the object graph, warms the model snapshots from
// persisted state, and serves the HTTP API until a shutdown signal
// arrives.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskline/internal/config"
	"github.com/aristath/riskline/internal/di"
	"github.com/aristath/riskline/internal/server"
	"github.com/aristath/riskline/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("port", cfg.Port).
		Bool("dev_mode", cfg.DevMode).
		Msg("Starting risk engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire application")
	}
	defer container.Close()

	if container.PriceStream != nil {
		container.PriceStream.Start(ctx)
	}

	// Snapshots rebuild from persisted models so assessments are served
	// immediately; a miss for a symbol falls back to lazy loading.
	go warmSnapshots(ctx, container, log)

	container.Scheduler.Start()

	srv := server.New(server.Config{
		Log:         log,
		Port:        cfg.Port,
		DevMode:     cfg.DevMode,
		DataDir:     cfg.DataDir,
		UniverseDB:  container.UniverseDB,
		LedgerDB:    container.LedgerDB,
		HistoryDB:   container.HistoryDB,
		CacheDB:     container.CacheDB,
		Assessments: container.Assessments,
		Bounds:      container.Bounds,
		Recalc:      container.Recalc,
		Symbols:     container.SymbolRepo,
		TimeSpent:   container.BandsRepo,
		Overrides:   container.OverrideRepo,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server stopped unexpectedly")
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	container.Scheduler.Stop()
	if container.PriceStream != nil {
		container.PriceStream.Stop()
	}

	log.Info().Msg("Risk engine stopped")
}

// warmSnapshots publishes a snapshot for every active symbol from
// persisted models. Failures are per-symbol and non-fatal.
func warmSnapshots(ctx context.Context, container *di.Container, log zerolog.Logger) {
	symbols, err := container.SymbolRepo.GetAllActive()
	if err != nil {
		log.Error().Err(err).Msg("Snapshot warm-up failed to list symbols")
		return
	}

	warmed := 0
	for _, sym := range symbols {
		if ctx.Err() != nil {
			return
		}
		snapshot, err := container.Recalc.LoadSnapshot(ctx, sym.Symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym.Symbol).Msg("Snapshot warm-up skipped symbol")
			continue
		}
		container.SnapshotStore.Publish(sym.Symbol, snapshot)
		warmed++
	}

	log.Info().Int("symbols", warmed).Msg("Model snapshots warmed")
}
