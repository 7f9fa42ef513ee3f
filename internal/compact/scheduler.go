package compact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lakegate/lakegate/internal/metrics"
)

// Scheduler lifecycle errors.
var (
	ErrSchedulerDisabled = errors.New("compact: scheduler is disabled")
	ErrSchedulerStarted  = errors.New("compact: scheduler already started")
	ErrMaintenanceActive = errors.New("compact: a maintenance cycle is already running")
)

// MaintenanceTask names the inputs of one cycle.
type MaintenanceTask struct {
	DeltaFileKeys []string
	OutputPrefix  string
	StoragePrefix string
}

// TaskProvider supplies the next cycle's task. A nil task means
// nothing to do this tick.
type TaskProvider func(ctx context.Context) (*MaintenanceTask, error)

// SchedulerConfig wires a Scheduler.
type SchedulerConfig struct {
	Interval time.Duration // default 60s
	Disabled bool
	Runner   *Runner
	Provider TaskProvider
	Metrics  *metrics.Scheduler // optional
	Logger   *slog.Logger
}

type schedulerState int

const (
	stateIdle schedulerState = iota
	stateRunning
	stateStopping
)

// Scheduler drives maintenance cycles on a timer, at most one in
// flight. Ticks landing while a cycle runs are dropped silently.
type Scheduler struct {
	cfg    SchedulerConfig
	logger *slog.Logger

	mu       sync.Mutex
	state    schedulerState
	cancel   context.CancelFunc
	loopDone chan struct{}

	busy     atomic.Bool
	inflight sync.WaitGroup
}

func NewScheduler(cfg *SchedulerConfig) (*Scheduler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("compact: scheduler config is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("compact: scheduler needs a runner")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("compact: scheduler needs a task provider")
	}

	resolved := *cfg
	if resolved.Interval <= 0 {
		resolved.Interval = time.Minute
	}
	if resolved.Logger == nil {
		resolved.Logger = slog.Default()
	}

	return &Scheduler{cfg: resolved, logger: resolved.Logger}, nil
}

// Start launches the tick loop. It fails when disabled or already
// running.
func (s *Scheduler) Start() error {
	if s.cfg.Disabled {
		return ErrSchedulerDisabled
	}

	s.mu.Lock()
	if s.state != stateIdle {
		s.mu.Unlock()
		return ErrSchedulerStarted
	}
	s.state = stateRunning

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("maintenance scheduler started", slog.Duration("interval", s.cfg.Interval))
	go s.loop(ctx)

	return nil
}

// Stop ends the tick loop and waits for any in-flight cycle. Stopping
// an idle scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return
	}
	s.state = stateStopping
	cancel := s.cancel
	done := s.loopDone
	s.mu.Unlock()

	cancel()
	<-done
	s.inflight.Wait()

	s.mu.Lock()
	s.state = stateIdle
	s.mu.Unlock()

	s.logger.Info("maintenance scheduler stopped")
}

// RunOnce drives one cycle outside the timer, for the admin surface.
// It fails when another cycle is live.
func (s *Scheduler) RunOnce(ctx context.Context) (*Report, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrMaintenanceActive
	}
	s.inflight.Add(1)
	defer s.inflight.Done()
	defer s.busy.Store(false)

	return s.execute(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts a cycle unless one is live. The cycle runs off the loop
// goroutine so a slow run never delays the skip decision.
func (s *Scheduler) tick(ctx context.Context) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.Ticks.Inc()
	}

	if !s.busy.CompareAndSwap(false, true) {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.Skips.Inc()
		}

		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.busy.Store(false)

		report, err := s.execute(ctx)
		if err != nil {
			s.logger.Error("maintenance cycle failed", slog.String("error", err.Error()))
			return
		}
		s.logger.Debug("maintenance tick completed",
			slog.Int("delta_files_compacted", report.Compaction.DeltaFilesCompacted),
			slog.Int("orphans_removed", report.OrphansRemoved))
	}()
}

func (s *Scheduler) execute(ctx context.Context) (*Report, error) {
	task, err := s.cfg.Provider(ctx)
	if err != nil {
		return nil, fmt.Errorf("compact: task provider: %w", err)
	}
	if task == nil {
		return &Report{Compaction: &Result{}}, nil
	}

	return s.cfg.Runner.Run(ctx, task.DeltaFileKeys, task.OutputPrefix, task.StoragePrefix)
}
