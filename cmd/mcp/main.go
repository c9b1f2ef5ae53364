package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/ndmitriev/recollect/internal/adapters/mcp"
	"github.com/ndmitriev/recollect/internal/bootstrap"
	"github.com/ndmitriev/recollect/internal/config"
	"github.com/ndmitriev/recollect/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	// Stdout carries the MCP protocol; logs must go to stderr.
	slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, "mcp", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	server := mcpadapter.NewServer(mcpadapter.ServerConfig{
		Searcher: app.SearchUC,
		Ingestor: app.IngestUC,
		Related:  app.RelatedUC,
		Policy:   app.Policy,
	})

	slog.Info("mcp_serving_stdio")
	if err := mcpadapter.ServeStdio(server); err != nil {
		slog.Error("mcp_server_failed", "error", err)
		os.Exit(1)
	}
}
