// Package jobs runs the background maintenance loops: instance health
// probes, execution cache retention sweeps and optional cache warmup.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Runner is a single background job executed on a fixed interval.
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

type task struct {
	runner   Runner
	interval time.Duration
}

// Scheduler drives the registered runners. Each runner gets its own
// goroutine with an immediate first run followed by ticker-paced runs.
type Scheduler struct {
	tasks   []task
	logger  *slog.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.With("component", "scheduler"),
		stopCh: make(chan struct{}),
	}
}

// Register adds a runner. Runners with a non-positive interval are
// ignored. Register must be called before Start.
func (s *Scheduler) Register(r Runner, interval time.Duration) {
	if interval <= 0 {
		s.logger.Warn("Skipping job with non-positive interval", "job", r.Name())
		return
	}
	s.tasks = append(s.tasks, task{runner: r, interval: interval})
}

// Start launches one goroutine per registered runner. A scheduler can
// be started at most once.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("scheduler already started")
	}
	s.logger.Info("Starting scheduler", "jobs", len(s.tasks))
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	return nil
}

// Stop signals every loop to exit and waits for them to drain.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, t task) {
	defer s.wg.Done()

	s.runOnce(ctx, t.runner)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx, t.runner)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Warn("Scheduler context cancelled, stopping job loop", "job", t.runner.Name())
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, r Runner) {
	start := time.Now()
	if err := r.Run(ctx); err != nil {
		s.logger.Error("Job run failed", "job", r.Name(), "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Debug("Job run completed", "job", r.Name(), "duration", time.Since(start))
}
