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

	"github.com/cyp0633/recurra/internal/config"
	"github.com/cyp0633/recurra/server/api"
	"github.com/cyp0633/recurra/server/cache"
	"github.com/cyp0633/recurra/server/notify"
	"github.com/cyp0633/recurra/server/recurrence"
	"github.com/cyp0633/recurra/server/repository"
	"github.com/cyp0633/recurra/server/scheduler"
	"github.com/cyp0633/recurra/server/storage"
	"github.com/cyp0633/recurra/server/storage/memory"
	"github.com/cyp0633/recurra/server/storage/sqlite"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	engineCfg, err := cfg.EngineSettings()
	if err != nil {
		return err
	}

	bus := notify.NewBus()
	defer bus.Close()
	events := cache.New(cfg.CacheSettings())
	defer events.Close()
	events.Watch(bus)

	repo := repository.New(repository.Config{
		Store:     store,
		Engine:    recurrence.NewEngineWithConfig(engineCfg),
		Timezones: recurrence.NewFallbackResolver(cfg.Timezone),
		Publisher: bus,
		Cache:     events,
		Logger:    logger,
	})

	go logMutations(bus.Subscribe(64), logger)

	sched, err := scheduler.New(repo, scheduler.Config{
		Schedule: cfg.RegenerateCron,
		Location: cfg.Location(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if regenerateOnStart {
		stats, err := sched.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("startup regeneration failed: %w", err)
		}
		logger.Info("startup regeneration finished", "regenerated", stats.Regenerated, "failed", stats.Failed)
	}
	sched.Start()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewServer(repo, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen, "storage", cfg.Storage.Driver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = sched.Stop(context.Background())
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown", "error", err)
	}
	return nil
}

// openStore opens the configured backend and returns its closer.
func openStore(cfg *config.Config) (storage.Storage, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		return memory.New(), func() {}, nil
	default:
		db, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s: %w", cfg.Storage.Path, err)
		}
		return db, func() { _ = db.Close() }, nil
	}
}

func logMutations(sub *notify.Subscription, logger *slog.Logger) {
	for m := range sub.C {
		logger.Debug("rule mutated", "rule_id", m.RuleID, "kind", string(m.Kind), "at", m.At.Format(time.RFC3339))
	}
}
