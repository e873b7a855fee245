package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tabletdb/pkg/config"
	"tabletdb/pkg/manager"
	"tabletdb/pkg/rpcclient"
	"tabletdb/pkg/rpcserver"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfgPath := os.Getenv("TABLETDB_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logger)

	if endpoint := os.Getenv("TABLETDB_NODE_ENDPOINT"); endpoint != "" {
		cfg.Node.Endpoint = endpoint
	}

	dialer := rpcclient.NewDialer()
	mgr, err := manager.New(ctx, cfg, dialer)
	if err != nil {
		slog.Error("failed to start manager", "error", err)
		os.Exit(1)
	}
	defer mgr.Close()

	if len(cfg.ZooKeeper.Servers) > 0 {
		if err := mgr.ConnectZK(cfg.Node.Endpoint); err != nil {
			slog.Error("failed to connect to zookeeper", "error", err)
			os.Exit(1)
		}
		defer mgr.DisConnectZK()
	}

	srv := rpcserver.NewServer(mgr, fmt.Sprintf(":%d", cfg.Server.Port))
	if err := srv.Start(); err != nil {
		slog.Error("failed to start rpc server", "error", err)
		os.Exit(1)
	}

	slog.Info("tablet node started", "endpoint", cfg.Node.Endpoint, "port", cfg.Server.Port)

	<-ctx.Done()

	slog.Info("shutting down")
	if err := srv.Stop(); err != nil {
		slog.Error("error stopping rpc server", "error", err)
	}
}

func setupLogger(cfg config.LoggerConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
