package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alvmarrod/trust-weaver/internal/build"
	"github.com/alvmarrod/trust-weaver/internal/crawler"
	"github.com/alvmarrod/trust-weaver/internal/memory"
	"github.com/alvmarrod/trust-weaver/internal/source"
	"github.com/alvmarrod/trust-weaver/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Run one graph build and exit",
	Long: `Build crawls the follow graph from the current seeders, commits the
resulting snapshot and records the build in the history.

Interrupting the command cancels the crawl; the build is recorded as FAILED
and the previously committed snapshot stays active.

Example:
  weaver build --config config.json`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	src, closeSource, err := source.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	manager, err := build.NewManager(ctx, store, store, crawler.NewCrawler(cfg, src), memory.NewStore(store), build.Options{
		MetricsPath:      cfg.MetricsPath,
		ProgressInterval: cfg.ProgressInterval(),
	})
	if err != nil {
		return err
	}

	run, err := manager.StartBuild(ctx)
	if err != nil {
		return err
	}
	cmd.Printf("Build %s started with %d seeder(s)\n", run.Build().ID, run.Build().SeedersCount)

	finished, err := run.Wait(ctx)
	if err != nil {
		logrus.Warn("Interrupted, cancelling graph build...")
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		_ = manager.Shutdown(cancelled)
		finished, _ = run.Wait(context.Background())
	} else {
		_ = manager.Shutdown(context.Background())
	}

	return reportBuild(cmd, finished)
}

func reportBuild(cmd *cobra.Command, b *storage.GraphBuild) error {
	duration := "-"
	if b.CompletedAt != nil {
		duration = b.CompletedAt.Sub(b.StartedAt).Round(time.Millisecond).String()
	}

	if b.Status != storage.BuildCompleted {
		msg := "unknown error"
		if b.ErrorMessage != nil {
			msg = *b.ErrorMessage
		}
		cmd.Printf("Build %s FAILED after %s: %s\n", b.ID, duration, msg)
		return fmt.Errorf("graph build failed: %s", msg)
	}

	nodes := 0
	if b.NodesCount != nil {
		nodes = *b.NodesCount
	}
	cmd.Printf("Build %s COMPLETED in %s: %d node(s)\n", b.ID, duration, nodes)
	return nil
}
