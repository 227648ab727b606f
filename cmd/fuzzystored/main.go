package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haukened/fuzzystore/internal/fuzzy/common/clock"
	"github.com/haukened/fuzzystore/internal/fuzzy/common/log"
	"github.com/haukened/fuzzystore/internal/fuzzy/config"
	"github.com/haukened/fuzzystore/internal/fuzzy/gateways/admin"
	"github.com/haukened/fuzzystore/internal/fuzzy/gateways/transport"
	"github.com/haukened/fuzzystore/internal/fuzzy/gateways/wire"
	"github.com/haukened/fuzzystore/internal/fuzzy/repos/bloom"
	"github.com/haukened/fuzzystore/internal/fuzzy/repos/checkcache"
	"github.com/haukened/fuzzystore/internal/fuzzy/repos/index"
	"github.com/haukened/fuzzystore/internal/fuzzy/repos/meta"
	"github.com/haukened/fuzzystore/internal/fuzzy/repos/snapshot"
	"github.com/haukened/fuzzystore/internal/fuzzy/services/store"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "fuzzystored"
)

// Application holds all the components of the fuzzy storage worker.
type Application struct {
	config    *config.AppConfig
	transport *transport.StreamTransport
	store     *store.Store
	admin     *admin.Server
	meta      meta.Store

	signals chan os.Signal
}

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Configure global logging
	err = log.Configure(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":   version,
		"env":       cfg.Env,
		"log_level": cfg.LogLevel,
		"listen":    cfg.Listen,
		"hashfile":  cfg.HashFile,
		"expire":    cfg.Expire,
		"mod_limit": cfg.ModLimit,
	}, "Starting fuzzy storage worker")

	// Build application with all dependencies
	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	// The parent supervisor follows SIGINT with SIGTERM, so SIGINT
	// itself is ignored.
	signal.Ignore(syscall.SIGINT)
	signal.Notify(app.signals, syscall.SIGTERM, syscall.SIGUSR2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Worker failed")
	}

	log.Info(nil, "fuzzy storage worker stopped")
}

// buildApplication constructs all components and wires them together.
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	clk := clock.RealClock{}
	logger := log.GetLogger()
	codec := wire.NewCodec(logger)

	// Membership filter and bucketed index
	filter := bloom.New(cfg.BloomBits, cfg.BloomHashes)
	idx := index.New(filter)

	// CHECK decision cache
	cacheSize := cfg.CacheSize
	if cfg.DisableCache {
		cacheSize = 0
		log.Info(map[string]any{"disabled": true}, "check decision cache disabled")
	}
	cache, err := checkcache.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create check cache: %w", err)
	}

	// Snapshot persistence
	var snap *snapshot.Store
	if cfg.HashFile != "" {
		snap = snapshot.New(cfg.HashFile, logger)
	} else {
		log.Warn(nil, "no hash file configured, store is in-memory only")
	}

	// Worker state store
	var metaStore meta.Store = meta.NopStore{}
	if cfg.StateFile != "" {
		metaStore, err = meta.New(cfg.StateFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open state file: %w", err)
		}
		if st, err := metaStore.State(); err == nil && st.Syncs > 0 {
			log.Info(map[string]any{
				"records":   st.Records,
				"syncs":     st.Syncs,
				"last_sync": time.Unix(st.LastSyncUnix, 0).UTC(),
			}, "previous worker state")
		}
	}

	storeService := store.New(store.Options{
		Index:        idx,
		Cache:        cache,
		Snapshot:     snap,
		Meta:         metaStore,
		Clock:        clk,
		Logger:       logger,
		Expire:       cfg.Expire,
		ModLimit:     cfg.ModLimit,
		SyncInterval: time.Duration(cfg.SyncInterval) * time.Second,
	})

	// Load snapshot before serving; errors are non-fatal.
	storeService.Load()

	streamTransport := transport.New(transport.Options{
		Network:   cfg.Network(),
		Addr:      cfg.Listen,
		Codec:     codec,
		Logger:    logger,
		IOTimeout: time.Duration(cfg.IOTimeout) * time.Second,
		MaxConns:  cfg.MaxConns,
	})

	var adminServer *admin.Server
	if cfg.AdminAddr != "" {
		adminServer = admin.New(cfg.AdminAddr, storeService, logger)
	}

	return &Application{
		config:    cfg,
		transport: streamTransport,
		store:     storeService,
		admin:     adminServer,
		meta:      metaStore,
		signals:   make(chan os.Signal, 1),
	}, nil
}

// Run starts the worker and blocks until a shutdown signal arrives or the
// context is cancelled.
func (app *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Arm the sync timer before binding the listening socket.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := app.store.RunSyncLoop(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := app.transport.Start(ctx, app.store); err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("failed to start transport: %w", err)
	}
	if app.admin != nil {
		if err := app.admin.Start(ctx); err != nil {
			_ = app.transport.Stop()
			cancel()
			_ = g.Wait()
			return fmt.Errorf("failed to start admin endpoint: %w", err)
		}
	}

	log.Info(map[string]any{
		"address":   app.transport.Address(),
		"transport": app.config.Network(),
		"records":   app.store.Stats().Records,
	}, "fuzzy storage worker ready")

	select {
	case sig := <-app.signals:
		switch sig {
		case syscall.SIGTERM:
			log.Info(map[string]any{"signal": sig.String()}, "shutdown signal received")
			app.shutdown()
		case syscall.SIGUSR2:
			log.Info(map[string]any{
				"signal":   sig.String(),
				"drain_in": app.config.SoftShutdown,
			}, "worker shutdown is pending")
			app.softShutdown()
		}
	case <-ctx.Done():
		app.shutdown()
	}

	st := app.store.Stats()
	log.Info(map[string]any{
		"records": st.Records,
		"checks":  st.Checks,
		"writes":  st.Writes,
		"deletes": st.Deletes,
		"matches": st.Matches,
		"syncs":   st.Syncs,
	}, "worker stats")

	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	return app.meta.Close()
}

// shutdown stops accepting, drains briefly, and force-flushes the
// snapshot so nothing since the last sync is lost.
func (app *Application) shutdown() {
	_ = app.transport.Stop()
	app.transport.Drain(time.Duration(app.config.IOTimeout) * time.Second)
	app.store.ForceSync()
	app.stopAdmin()
	_ = log.Sync()
}

// softShutdown implements the reload path: stop accepting, give
// in-flight sessions SoftShutdown seconds to finish, and hand the
// listening address back without a forced flush. Mutations made since
// the last periodic sync are not written to the snapshot on this path;
// the parent follows up with SIGTERM when it wants a final flush.
func (app *Application) softShutdown() {
	_ = app.transport.Stop()
	drained := app.transport.Drain(time.Duration(app.config.SoftShutdown) * time.Second)
	if !drained {
		log.Warn(nil, "sessions still in flight after soft shutdown window")
	}
	app.stopAdmin()
	_ = log.Sync()
}

func (app *Application) stopAdmin() {
	if app.admin != nil {
		if err := app.admin.Stop(); err != nil {
			log.Warn(map[string]any{"error": err.Error()}, "error stopping admin endpoint")
		}
	}
}
