package build

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alvmarrod/trust-weaver/internal/crawler"
	"github.com/alvmarrod/trust-weaver/internal/memory"
	"github.com/alvmarrod/trust-weaver/internal/metrics"
	"github.com/alvmarrod/trust-weaver/internal/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrBuildAlreadyRunning is returned by StartBuild while another build is in flight
var ErrBuildAlreadyRunning = errors.New("a graph build is already running")

// ErrBuildsDisabled is returned by StartBuild when the manager cannot crawl
var ErrBuildsDisabled = errors.New("graph builds are disabled")

// InterruptedReason is recorded on builds a previous process left RUNNING
const InterruptedReason = "interrupted: process restarted"

// BuildStore persists the build history
type BuildStore interface {
	CreateBuild(ctx context.Context, build *storage.GraphBuild) error
	FinishBuild(ctx context.Context, build *storage.GraphBuild) error
	ListBuilds(ctx context.Context, limit int) ([]storage.GraphBuild, error)
	LatestBuild(ctx context.Context) (*storage.GraphBuild, error)
	FailStaleBuilds(ctx context.Context, reason string, at time.Time) (int64, error)
}

// SeedLister reads the current seeder set
type SeedLister interface {
	ListSeeders(ctx context.Context) ([]storage.Seeder, error)
}

// GraphCrawler runs one crawl
type GraphCrawler interface {
	Crawl(ctx context.Context, seeders []string, tracker *metrics.Tracker) (*crawler.Result, error)
}

// SnapshotCommitter activates a finished crawl and records its build as COMPLETED atomically
type SnapshotCommitter interface {
	Commit(ctx context.Context, snapshot *memory.Snapshot, build *storage.GraphBuild) error
}

// Options tunes per-build bookkeeping
type Options struct {
	MetricsPath      string
	ProgressInterval time.Duration
	// DisabledReason, when set, makes StartBuild reject every build
	DisabledReason string
}

// Status is the cheap, non-blocking view polled by the admin surface
type Status struct {
	IsRunning bool                `json:"isRunning"`
	LastBuild *storage.GraphBuild `json:"lastBuild"`
}

// Run is one build in flight
type Run struct {
	record atomic.Pointer[storage.GraphBuild]
	result *storage.GraphBuild
	done   chan struct{}
}

// Build returns the RUNNING record created when the build started
func (r *Run) Build() storage.GraphBuild {
	if b := r.record.Load(); b != nil {
		return *b
	}
	return storage.GraphBuild{}
}

// Done is closed once the build reached a terminal state
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the build is COMPLETED or FAILED and returns the terminal record
func (r *Run) Wait(ctx context.Context) (*storage.GraphBuild, error) {
	select {
	case <-r.done:
		result := *r.result
		return &result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Manager runs at most one build at a time and owns the build lifecycle
type Manager struct {
	builds  BuildStore
	seeds   SeedLister
	crawler GraphCrawler
	graph   SnapshotCommitter
	opts    Options

	current atomic.Pointer[Run]
	last    atomic.Pointer[storage.GraphBuild]

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup

	newID func() string
	now   func() time.Time
}

// NewManager creates a manager. Builds left RUNNING by a previous process are marked FAILED.
func NewManager(ctx context.Context, builds BuildStore, seeds SeedLister, graphCrawler GraphCrawler,
	graph SnapshotCommitter, opts Options) (*Manager, error) {
	baseCtx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		builds:     builds,
		seeds:      seeds,
		crawler:    graphCrawler,
		graph:      graph,
		opts:       opts,
		baseCtx:    baseCtx,
		cancelBase: cancel,
		newID:      uuid.NewString,
		now:        func() time.Time { return time.Now().UTC() },
	}

	stale, err := builds.FailStaleBuilds(ctx, InterruptedReason, m.now())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to close interrupted builds: %w", err)
	}
	if stale > 0 {
		logrus.Warnf("Marked %d interrupted build(s) as FAILED", stale)
	}

	last, err := builds.LatestBuild(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to read last build: %w", err)
	}
	if last != nil {
		m.last.Store(last)
	}

	return m, nil
}

// Status reports whether a build is running and the most recent build. It never blocks.
func (m *Manager) Status() Status {
	if run := m.current.Load(); run != nil {
		status := Status{IsRunning: true}
		if b := run.record.Load(); b != nil {
			copied := *b
			status.LastBuild = &copied
		} else if last := m.last.Load(); last != nil {
			copied := *last
			status.LastBuild = &copied
		}
		return status
	}

	status := Status{}
	if last := m.last.Load(); last != nil {
		copied := *last
		status.LastBuild = &copied
	}
	return status
}

// StartBuild records a RUNNING build and crawls in the background.
// ctx bounds only the setup; the crawl itself is not tied to the caller.
func (m *Manager) StartBuild(ctx context.Context) (*Run, error) {
	if m.opts.DisabledReason != "" {
		return nil, fmt.Errorf("%w: %s", ErrBuildsDisabled, m.opts.DisabledReason)
	}

	run := &Run{done: make(chan struct{})}
	if !m.current.CompareAndSwap(nil, run) {
		return nil, ErrBuildAlreadyRunning
	}

	if err := m.baseCtx.Err(); err != nil {
		m.current.Store(nil)
		return nil, fmt.Errorf("build manager is shut down: %w", err)
	}

	seeders, err := m.seeds.ListSeeders(ctx)
	if err != nil {
		m.current.Store(nil)
		return nil, fmt.Errorf("failed to list seeders: %w", err)
	}

	ids := make([]string, 0, len(seeders))
	for _, s := range seeders {
		ids = append(ids, s.Identifier)
	}

	build := storage.GraphBuild{
		ID:           m.newID(),
		Status:       storage.BuildRunning,
		StartedAt:    m.now(),
		SeedersCount: len(seeders),
	}
	if err := m.builds.CreateBuild(ctx, &build); err != nil {
		m.current.Store(nil)
		return nil, fmt.Errorf("failed to record build: %w", err)
	}

	record := build
	run.record.Store(&record)
	m.last.Store(&record)

	logrus.WithFields(logrus.Fields{
		"build":   build.ID,
		"seeders": build.SeedersCount,
	}).Info("Graph build started")

	m.wg.Add(1)
	go m.execute(run, build, ids)

	return run, nil
}

// execute crawls, commits and finalizes the build record exactly once.
// A COMPLETED record is written by the snapshot commit itself; only failures
// are recorded here.
func (m *Manager) execute(run *Run, build storage.GraphBuild, seeders []string) {
	defer m.wg.Done()

	tracker := metrics.NewTracker(build.ID)
	stopProgress := m.startProgressLogger(tracker)

	finished, runErr := m.crawlAndCommit(build, seeders, tracker)
	stopProgress()

	reason := "completed"
	if runErr != nil {
		reason = "failed"
		completedAt := m.now()
		msg := runErr.Error()
		failed := build
		failed.Status = storage.BuildFailed
		failed.CompletedAt = &completedAt
		failed.ErrorMessage = &msg
		finished = &failed
		logrus.WithField("build", build.ID).Errorf("Graph build failed: %v", runErr)

		// The history row must be finalized even if the manager is shutting down
		if err := m.builds.FinishBuild(context.Background(), finished); err != nil {
			logrus.WithField("build", build.ID).Errorf("Failed to finalize build record: %v", err)
		}
	} else {
		logrus.WithFields(logrus.Fields{
			"build":    build.ID,
			"nodes":    *finished.NodesCount,
			"duration": finished.CompletedAt.Sub(build.StartedAt),
		}).Info("Graph build completed")
	}

	tracker.Finish(reason)
	logrus.Info("Final stats: " + tracker.LogProgress())
	if m.opts.MetricsPath != "" {
		if err := tracker.WriteToFile(m.opts.MetricsPath); err != nil {
			logrus.Errorf("Failed to write metrics: %v", err)
		}
	}

	m.last.Store(finished)
	run.result = finished
	m.current.Store(nil)
	close(run.done)
}

// crawlAndCommit returns the COMPLETED record once the snapshot is active
func (m *Manager) crawlAndCommit(build storage.GraphBuild, seeders []string, tracker *metrics.Tracker) (finished *storage.GraphBuild, err error) {
	defer func() {
		if r := recover(); r != nil {
			finished, err = nil, fmt.Errorf("build panicked: %v", r)
		}
	}()

	result, err := m.crawler.Crawl(m.baseCtx, seeders, tracker)
	if err != nil {
		return nil, err
	}

	snapshot, err := memory.NewSnapshot(build.ID, result.Nodes())
	if err != nil {
		return nil, fmt.Errorf("invalid crawl result: %w", err)
	}

	completedAt := m.now()
	nodes := result.TotalNodes()
	completed := build
	completed.Status = storage.BuildCompleted
	completed.CompletedAt = &completedAt
	completed.NodesCount = &nodes

	if err := m.graph.Commit(m.baseCtx, snapshot, &completed); err != nil {
		return nil, err
	}

	return &completed, nil
}

// startProgressLogger logs crawl progress periodically until the returned func is called
func (m *Manager) startProgressLogger(tracker *metrics.Tracker) func() {
	if m.opts.ProgressInterval <= 0 {
		return func() {}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(m.opts.ProgressInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				logrus.Info(tracker.LogProgress())
			case <-stop:
				return
			}
		}
	}()

	return func() {
		close(stop)
		wg.Wait()
	}
}

// History returns up to limit builds, most recent first
func (m *Manager) History(ctx context.Context, limit int) ([]storage.GraphBuild, error) {
	return m.builds.ListBuilds(ctx, limit)
}

// Shutdown waits for an in-flight build. When ctx expires first the crawl is
// cancelled and the build is recorded as FAILED before Shutdown returns.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancelBase()
		return nil
	case <-ctx.Done():
		logrus.Warn("Shutdown deadline reached, cancelling in-flight build")
		m.cancelBase()
		<-done
		return ctx.Err()
	}
}
