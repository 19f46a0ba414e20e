// feedmesh runs the pipeline process: it loads a configuration directory,
// wires the dedup store, outbox, rate limiter, and handler registry, then
// starts the five-stage pipeline until told to shut down.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"go.feedmesh.dev/internal/common/health"
	"go.feedmesh.dev/internal/config"
	"go.feedmesh.dev/internal/dedup"
	"go.feedmesh.dev/internal/handler"
	"go.feedmesh.dev/internal/metrics"
	"go.feedmesh.dev/internal/outbox"
	"go.feedmesh.dev/internal/pipeline"
	"go.feedmesh.dev/internal/ratelimit"

	_ "go.feedmesh.dev/internal/handlers/fetchers"
	_ "go.feedmesh.dev/internal/handlers/modifiers"
	_ "go.feedmesh.dev/internal/handlers/parsers"
	_ "go.feedmesh.dev/internal/handlers/receivers"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var configDir string

	root := &cobra.Command{
		Use:   "feedmesh",
		Short: "Fetches, dedups, and fans out feed posts to configured receivers",
	}
	root.PersistentFlags().StringVar(&configDir, "config", "./config", "directory of YAML configuration files")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the pipeline and serve health/metrics until shutdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configDir)
		},
	}

	dumpCmd := &cobra.Command{
		Use:   "dump-config",
		Short: "Load the configuration directory and print its normalized YAML form",
		RunE: func(cmd *cobra.Command, args []string) error {
			return dumpConfig(cmd.Context(), configDir)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print build version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("feedmesh %s (built %s)\n", version, buildTime)
			return nil
		},
	}

	root.AddCommand(runCmd, dumpCmd, versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func dumpConfig(ctx context.Context, configDir string) error {
	cfg, err := config.Load(ctx, configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	out, err := config.DumpYAML(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	fmt.Print(string(out))
	return nil
}

func run(ctx context.Context, configDir string) error {
	logLevel := slog.LevelInfo
	if os.Getenv("FEEDMESH_DEV") == "true" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("starting feedmesh", "version", version, "build_time", buildTime)

	cfg, err := config.Load(ctx, configDir)
	if err != nil {
		slog.Error("loading configuration", "error", err)
		return err
	}

	dedupStore, err := openDedupStore(cfg.AppSettings)
	if err != nil {
		slog.Error("opening dedup store", "error", err)
		return err
	}
	defer dedupStore.Close()

	outboxStore, err := openOutboxStore(cfg.AppSettings)
	if err != nil {
		slog.Error("opening outbox store", "error", err)
		return err
	}
	defer outboxStore.Close()
	ob := outbox.New(outboxStore)

	bound, err := handler.DefaultRegistry.Init(ctx, cfg)
	if err != nil {
		slog.Error("initializing handler registry", "error", err)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := pipeline.New(pipeline.DefaultConfig(), cfg.Sources, bound, ratelimit.New(), dedupStore, ob, metrics.NoopErrorTracker{})
	p.Start(runCtx)

	var exporter *metrics.TextfileExporter
	if cfg.AppSettings.MetricsFile != "" {
		exporter = metrics.NewTextfileExporter(cfg.AppSettings.MetricsFile)
		exporter.Start()
	}

	healthChecker := health.NewChecker()
	healthChecker.AddReadinessCheck(health.StoreCheck("dedup", func() error {
		_, err := dedupStore.HasAny(ctx, dedup.Key{SourceID: "__health__", ReceiverType: "__health__"})
		return err
	}))
	healthChecker.AddReadinessCheck(health.StoreCheck("outbox", func() error {
		_, err := ob.Len(ctx)
		return err
	}))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/q/health", healthChecker.HandleHealth)
	r.Get("/q/health/live", healthChecker.HandleLive)
	r.Get("/q/health/ready", healthChecker.HandleReady)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	r.Handle("/q/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	httpPort := os.Getenv("FEEDMESH_HTTP_PORT")
	if httpPort == "" {
		httpPort = "8080"
	}
	server := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server forced to shutdown", "error", err)
	}

	if exporter != nil {
		exporter.Stop()
	}

	cancel()
	p.Stop()

	slog.Info("feedmesh stopped")
	return nil
}

func openDedupStore(settings config.AppSettings) (dedup.Store, error) {
	switch settings.PostStorage {
	case "sqlite":
		return dedup.OpenSQLiteStore(settings.SQLDBPath)
	default:
		return dedup.NewMemoryStore(), nil
	}
}

func openOutboxStore(settings config.AppSettings) (outbox.Store, error) {
	switch settings.OutboxStorage {
	case "sqlite":
		return outbox.OpenSQLiteStore(settings.SQLDBPath)
	default:
		return outbox.NewMemoryStore(), nil
	}
}
