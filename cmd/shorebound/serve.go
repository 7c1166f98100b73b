// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"github.com/shorebound/shorebound/internal/cache"
	"github.com/shorebound/shorebound/internal/catalog"
	"github.com/shorebound/shorebound/internal/command"
	"github.com/shorebound/shorebound/internal/config"
	"github.com/shorebound/shorebound/internal/gateway"
	"github.com/shorebound/shorebound/internal/guard"
	"github.com/shorebound/shorebound/internal/logging"
	"github.com/shorebound/shorebound/internal/moderation"
	"github.com/shorebound/shorebound/internal/observability"
	"github.com/shorebound/shorebound/internal/room"
	"github.com/shorebound/shorebound/internal/store"
	"github.com/shorebound/shorebound/internal/world"
)

const shutdownGrace = 15 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the world server",
		Long: `Start the world server: accept WebSocket sessions, route players
into location instances, and persist progress to PostgreSQL.`,
		RunE: runServe,
	}

	cmd.Flags().String("listen-addr", ":8080", "WebSocket listen address")
	cmd.Flags().String("metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address")
	cmd.Flags().String("database-url", "", "PostgreSQL connection string")
	cmd.Flags().String("log-format", "json", "log format (json or text)")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().Duration("flush-interval", 30*time.Second, "write-back cache flush interval")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("shorebound", version, cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The reboot command cancels this context after its grace delay.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slog.Info("starting server",
		"listen_addr", cfg.ListenAddr,
		"lobby", cfg.LobbyLocation,
		"locations", len(cfg.Locations),
	)

	persist, err := store.NewPostgresGateway(ctx, cfg.DatabaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	defer persist.Close()

	slog.Info("connected to database")

	items := catalog.New()
	for _, it := range cfg.Items {
		items.Register(catalog.ItemDefinition{ID: it.ID, Name: it.Name, StackSize: it.StackSize})
	}

	registry := world.NewRegistry()
	for _, loc := range cfg.Locations {
		registry.Register(world.LocationConfig{
			ID:          loc.ID,
			DisplayName: loc.DisplayName,
			MapAssetRef: loc.MapAssetRef,
			MaxPlayers:  loc.MaxPlayers,
			IsPublic:    loc.IsPublic,
			Spawn:       world.SpawnAnchor{X: loc.SpawnX, Y: loc.SpawnY},
		})
	}
	router := world.NewRouter(registry, cfg.LobbyLocation)
	if err := router.EnsureLobby(); err != nil {
		return err
	}

	bus := moderation.NewBus()
	inventory := cache.NewInventoryCache(persist, items)
	stats := cache.NewStatsCache(persist)

	pipeline := command.New(command.Deps{
		Gateway:     persist,
		Bus:         bus,
		Inventory:   inventory,
		Items:       items,
		Terminate:   cancel,
		RebootGrace: cfg.RebootGrace,
	})

	manager := room.NewManager(guard.New(persist, router), router, registry, room.Deps{
		Gateway:  persist,
		Commands: pipeline,
		Stats:    stats,
		Bus:      bus,
	})

	var ready atomic.Bool
	obs := observability.NewServer(cfg.MetricsAddr, ready.Load, observability.Gauges{
		ActiveInstances: func() float64 { return float64(router.InstanceCount()) },
		OnlinePlayers:   func() float64 { return float64(router.ConnectedCount()) },
	})
	obsErrCh, err := obs.Start()
	if err != nil {
		return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
	}
	slog.Info("observability server started", "addr", obs.Addr())

	metrics := obs.Metrics()
	bus.OnDrop(observability.RecordDroppedEvent)
	pipeline.OnExecuted(func(name string) {
		metrics.CommandsTotal.WithLabelValues(name).Inc()
	})
	inventory.OnFlushError(func() {
		metrics.FlushFailuresTotal.WithLabelValues("inventory").Inc()
	})
	stats.OnFlushError(func() {
		metrics.FlushFailuresTotal.WithLabelValues("stats").Inc()
	})

	inventory.StartAutoFlush(cfg.FlushInterval)
	stats.StartAutoFlush(cfg.FlushInterval)

	ws := gateway.NewServer(cfg.ListenAddr, manager, cfg.LobbyLocation)
	ws.OnConnected = metrics.ConnectionsTotal.Inc
	ws.OnRejected = func(reason string) {
		metrics.JoinsRejectedTotal.WithLabelValues(reason).Inc()
	}

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- ws.Run(ctx)
	}()

	ready.Store(true)
	cmd.Println("Server started")
	slog.Info("server ready", "listen_addr", cfg.ListenAddr)

	select {
	case err := <-serveErrCh:
		if err != nil {
			slog.Error("gateway server failed", "error", err)
		}
	case err, ok := <-obsErrCh:
		if ok && err != nil {
			slog.Error("observability server failed", "error", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown requested")
	}
	ready.Store(false)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()

	if err := manager.Shutdown(shutdownCtx); err != nil {
		slog.Warn("room shutdown incomplete", "error", err)
	}

	inventory.StopAutoFlush()
	stats.StopAutoFlush()
	flushOnShutdown(shutdownCtx, "inventory", inventory.FlushDirty)
	flushOnShutdown(shutdownCtx, "stats", stats.FlushDirty)

	if err := obs.Stop(shutdownCtx); err != nil {
		slog.Warn("error stopping observability server", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// flushOnShutdown makes a final best-effort attempt to land dirty cache
// entries before the pool closes. Failures are logged, not fatal; the
// process is exiting either way.
func flushOnShutdown(ctx context.Context, name string, flush func(context.Context) error) {
	backoff := retry.WithMaxDuration(10*time.Second, retry.NewFibonacci(250*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		return retry.RetryableError(flush(ctx))
	})
	if err != nil {
		slog.Error("final cache flush failed", "cache", name, "error", err)
	}
}
