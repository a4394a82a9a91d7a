// Command malaphor-server serves the malaphor HTTP and GraphQL API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/dd0wney/malaphor/pkg/config"
	"github.com/dd0wney/malaphor/pkg/logging"
	"github.com/dd0wney/malaphor/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	port := flag.Int("port", 0, "HTTP server port (default from server.addr, or set PORT)")
	archiveDir := flag.String("archive", "", "report archive directory (overrides storage.archive_dir)")
	flag.Parse()

	// Start-up and fatal errors go through slog; request logs use the
	// pipeline logger below.
	startup := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := config.LoadDotEnv(); err != nil {
		startup.Error("failed to load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		startup.Error("failed to load configuration", "error", err, "path", *configPath)
		os.Exit(1)
	}
	if *port == 0 {
		if envPort := os.Getenv("PORT"); envPort != "" {
			if p, err := strconv.Atoi(envPort); err == nil {
				*port = p
			} else {
				startup.Warn("ignoring invalid PORT", "value", envPort)
			}
		}
	}
	if *port != 0 {
		cfg.Server.Addr = fmt.Sprintf(":%d", *port)
	}
	if *archiveDir != "" {
		cfg.Storage.ArchiveDir = *archiveDir
	}

	startup.Info("malaphor server starting",
		"addr", cfg.Server.Addr,
		"max_path_length", cfg.Pipeline.MaxPathLength,
		"top_n", cfg.Pipeline.TopN,
		"archive_dir", cfg.Storage.ArchiveDir,
		"s3_bucket", cfg.Storage.S3.Bucket,
		"notify", cfg.Notify.PublishAddr != "",
		"auth", cfg.Server.JWTSecret != "" || len(cfg.Server.APIKeyHashes) > 0,
		"tls", cfg.Server.TLS.Enabled(),
		"audit_log", cfg.Storage.AuditLog,
	)

	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(cfg.Log.Level))
	logging.SetDefaultLogger(logger)

	ctx := context.Background()
	stack, err := server.Build(ctx, cfg, logger)
	if err != nil {
		startup.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}
	defer stack.Close()

	srv, err := stack.NewAPI()
	if err != nil {
		startup.Error("failed to create API server", "error", err)
		os.Exit(1)
	}

	g := server.NewGraceful(logger)
	g.SetReloadFunc(stack.ReloadLogLevel(*configPath))
	if err := g.Run(ctx, srv.ListenAndServe); err != nil {
		startup.Error("server error", "error", err)
		stack.Close()
		os.Exit(1)
	}
	startup.Info("server exited")
}
