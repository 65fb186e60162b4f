package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/aria-labs/ariabridge/internal/bridge"
	"github.com/aria-labs/ariabridge/internal/cursor"
	"github.com/aria-labs/ariabridge/internal/matrix"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	homeserver := flag.String("homeserver", "", "Override homeserver URL")
	userID := flag.String("user", "", "Override bot user ID")
	accessToken := flag.String("token", "", "Override access token")
	roomID := flag.String("room", "", "Override room ID")
	instance := flag.String("instance", "", "Override instance name")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ariabridge %s (%s)\n", version, commit)
		os.Exit(0)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// .env is optional; real env vars win either way.
	godotenv.Load()

	cp := *configPath
	if cp == "" {
		cp = os.Getenv("BRIDGE_CONFIG_PATH")
	}
	if cp == "" {
		cp = "config/bridge.json"
	}

	cfg, err := bridge.LoadConfig(cp)
	if err != nil {
		slog.Error("failed to load config", "path", cp, "error", err)
		os.Exit(1)
	}

	// Command-line overrides take precedence over file-sourced values.
	if *homeserver != "" {
		cfg.HomeserverURL = *homeserver
	}
	if *userID != "" {
		cfg.BotUserID = *userID
	}
	if *accessToken != "" {
		cfg.AccessToken = *accessToken
	}
	if *roomID != "" {
		cfg.RoomID = *roomID
	}
	if *instance != "" {
		cfg.InstanceName = *instance
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	client, err := matrix.NewClient(cfg.HomeserverURL, cfg.BotUserID, cfg.AccessToken)
	if err != nil {
		slog.Error("failed to create matrix client", "error", err)
		os.Exit(1)
	}

	cursors, err := cursor.Open(filepath.Join(cfg.DataDir, "cursor.db"))
	if err != nil {
		slog.Error("failed to open cursor store", "error", err)
		os.Exit(1)
	}
	defer cursors.Close()

	b, err := bridge.New(cfg, client, cursors)
	if err != nil {
		slog.Error("failed to create bridge", "error", err)
		os.Exit(1)
	}

	slog.Info("ariabridge starting",
		"version", version,
		"instance", cfg.InstanceName,
		"homeserver", cfg.HomeserverURL,
		"room", cfg.RoomID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := b.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("bridge error", "error", err)
		os.Exit(1)
	}

	slog.Info("ariabridge stopped")
}
