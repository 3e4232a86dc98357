// Copyright 2026 The ComicFS Authors
// SPDX-License-Identifier: Apache-2.0

// comicfs-daemon mounts the comic filesystem and serves the HTTP
// ingestion API. Registered comics appear as directories immediately;
// page content is downloaded lazily on first open and cached in the
// content store, so a restart never re-downloads committed pages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/comicfs-dev/comicfs/lib/catalog"
	"github.com/comicfs-dev/comicfs/lib/config"
	"github.com/comicfs-dev/comicfs/lib/content"
	"github.com/comicfs-dev/comicfs/lib/fetch"
	"github.com/comicfs-dev/comicfs/lib/fuse"
	"github.com/comicfs-dev/comicfs/lib/gateway"
	"github.com/comicfs-dev/comicfs/lib/process"
	"github.com/comicfs-dev/comicfs/lib/resolve"
	"github.com/comicfs-dev/comicfs/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	var showVersion bool

	flagSet := pflag.NewFlagSet("comicfs-daemon", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to comicfs.yaml (overrides COMICFS_CONFIG)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		version.Print("comicfs-daemon")
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel}))
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	var namer catalog.Namer = catalog.SequenceNamer{}
	if cfg.Fetch.Naming == "url" {
		namer = catalog.URLNamer{}
	}

	cat, err := catalog.Open(catalog.Config{
		Path:   cfg.Paths.Catalog,
		Namer:  namer,
		Logger: logger.With("component", "catalog"),
	})
	if err != nil {
		return err
	}
	defer cat.Close()

	store, err := content.NewStore(cfg.Paths.Store)
	if err != nil {
		return err
	}

	// Reconcile catalog and store after a possible crash: files
	// recorded as fetched whose blobs are missing go back to pending.
	repaired, err := cat.Repair(ctx, func(ref string) bool {
		parsed, err := content.ParseRef(ref)
		if err != nil {
			return false
		}
		return store.Has(parsed)
	})
	if err != nil {
		return fmt.Errorf("repairing catalog: %w", err)
	}
	if repaired > 0 {
		logger.Warn("demoted files with missing content to pending", "count", repaired)
	}

	attemptTimeout, err := cfg.AttemptTimeout()
	if err != nil {
		return err
	}
	retryCooldown, err := cfg.RetryCooldown()
	if err != nil {
		return err
	}

	fetcher, err := fetch.New(fetch.Config{
		Catalog:        cat,
		Store:          store,
		MaxAttempts:    cfg.Fetch.MaxAttempts,
		AttemptTimeout: attemptTimeout,
		RetryCooldown:  retryCooldown,
		Logger:         logger.With("component", "fetch"),
	})
	if err != nil {
		return err
	}

	fuseServer, err := fuse.Mount(fuse.Options{
		Mountpoint: cfg.Mount.Mountpoint,
		Resolver:   resolve.New(cat),
		Catalog:    cat,
		Store:      store,
		Fetcher:    fetcher,
		AllowOther: cfg.Mount.AllowOther,
		Logger:     logger.With("component", "fuse"),
	})
	if err != nil {
		return err
	}

	gatewayServer, err := gateway.NewServer(gateway.Config{
		Address: cfg.Gateway.Address,
		Catalog: cat,
		Logger:  logger.With("component", "gateway"),
	})
	if err != nil {
		return err
	}

	gatewayDone := make(chan error, 1)
	go func() {
		gatewayDone <- gatewayServer.Serve(ctx)
	}()

	<-gatewayServer.Ready()
	logger.Info("comicfs running",
		"mountpoint", cfg.Mount.Mountpoint,
		"gateway", gatewayServer.Addr().String(),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := fuseServer.Unmount(); err != nil {
		logger.Error("unmounting filesystem", "error", err)
	}
	if err := <-gatewayDone; err != nil {
		return err
	}
	return nil
}
