package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/verifailabs/verifai/config"
	"github.com/verifailabs/verifai/internal/service"
	"github.com/verifailabs/verifai/internal/tkv"
)

func main() {
	var configPath string
	var debug bool
	flag.StringVar(&configPath, "config", "server.yaml", "Path to the server configuration file")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "path", configPath, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	kv, err := tkv.New(tkv.Config{
		Logger:         logger.WithGroup("tkv"),
		BadgerLogLevel: slog.LevelError,
		Directory:      cfg.DataDir,
		AppCtx:         ctx,
		CacheTTL:       cfg.Cache.StandardTTL,
	})
	if err != nil {
		logger.Error("Failed to open value store", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer kv.Close()

	// Without a redis address the bridge degrades to single-process
	// delivery, which is fine for development.
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	} else {
		logger.Warn("No redis address configured; realtime events stay within this process")
	}

	svc, err := service.NewService(ctx, logger, cfg, kv, rdb)
	if err != nil {
		logger.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}

	svc.Run()
	logger.Info("Application exiting.")
}
