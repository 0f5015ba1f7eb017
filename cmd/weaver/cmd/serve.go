package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alvmarrod/trust-weaver/internal/api"
	"github.com/alvmarrod/trust-weaver/internal/build"
	"github.com/alvmarrod/trust-weaver/internal/config"
	"github.com/alvmarrod/trust-weaver/internal/crawler"
	"github.com/alvmarrod/trust-weaver/internal/memory"
	"github.com/alvmarrod/trust-weaver/internal/source"
	"github.com/alvmarrod/trust-weaver/internal/storage"
	"github.com/alvmarrod/trust-weaver/internal/trust"
	"github.com/alvmarrod/trust-weaver/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var shutdownTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin API and trust lookup server",
	Long: `Serve loads the last committed graph snapshot, then exposes the admin API
(/admin/graph, /admin/seeders) and the trust lookup endpoint (/trust/{id}).

Graph builds are started from the admin API. On SIGINT/SIGTERM the server
stops accepting requests and waits for an in-flight build; a second signal
forces an immediate exit.

Example:
  weaver serve --config config.json`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second,
		"How long to wait for requests and an in-flight build on shutdown")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	logrus.Infof("Trust Weaver v%s starting...", version.Version)
	logrus.Infof("Configuration loaded: sources=%d, workers=%d, listen=%s",
		len(cfg.FollowSources), cfg.ConcurrentWorkers, cfg.ListenAddr)

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	logrus.Infof("Database initialized: %s", cfg.DBPath)

	graph := memory.NewStore(store)
	if err := graph.LoadFromStorage(ctx); err != nil {
		return err
	}

	manager, closeSource, err := newServeManager(ctx, cfg, store, graph)
	if err != nil {
		return err
	}
	defer closeSource()

	server := api.NewServer(api.ServerConfig{
		ListenAddr:  cfg.ListenAddr,
		AdminToken:  cfg.AdminToken,
		TrustRPS:    cfg.TrustRPS,
		ReadTimeout: 15 * time.Second,
		// POST /admin/graph holds the connection for the whole build
		WriteTimeout: cfg.BuildTimeout() + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}, manager, store, graph, trust.NewEngine(graph))

	if cfg.AdminToken == "" {
		logrus.Warn("admin_token is not set, admin endpoints are unauthenticated")
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logrus.Infof("Received signal: %v", sig)
	case err := <-serverErr:
		if err != nil {
			_ = manager.Shutdown(ctx)
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Second signal = force quit
	go func() {
		sig := <-sigChan
		logrus.Warnf("Received second signal (%v) - forcing immediate exit!", sig)
		os.Exit(1)
	}()

	logrus.Info("Initiating graceful shutdown...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logrus.Info("Step 1/3: Stopping HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("HTTP server shutdown: %v", err)
	}

	logrus.Info("Step 2/3: Waiting for in-flight graph build...")
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logrus.Warnf("In-flight build was cancelled: %v", err)
	}

	logrus.Info("Step 3/3: Closing database connection...")
	// Database is closed via defer store.Close()

	logrus.Info("Graceful shutdown complete. Goodbye!")
	return nil
}

// newServeManager wires the build manager for serve. Without follow sources the
// server still starts and builds are rejected.
func newServeManager(ctx context.Context, cfg *config.Config, store *storage.Storage, graph *memory.Store) (*build.Manager, source.Closer, error) {
	opts := build.Options{
		MetricsPath:      cfg.MetricsPath,
		ProgressInterval: cfg.ProgressInterval(),
	}
	closeSource := source.Closer(func() error { return nil })

	var graphCrawler build.GraphCrawler
	src, closer, err := source.New(ctx, cfg)
	switch {
	case errors.Is(err, source.ErrNoSources):
		logrus.Warn("follow_sources is empty, graph builds are disabled until sources are configured")
		opts.DisabledReason = err.Error()
	case err != nil:
		return nil, nil, err
	default:
		closeSource = closer
		graphCrawler = crawler.NewCrawler(cfg, src)
	}

	manager, err := build.NewManager(ctx, store, store, graphCrawler, graph, opts)
	if err != nil {
		_ = closeSource()
		return nil, nil, err
	}
	return manager, closeSource, nil
}
