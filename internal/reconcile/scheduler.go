package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner is the unit of work a Scheduler triggers.
type Runner interface {
	Run(ctx context.Context) (*Report, error)
}

// Scheduler triggers a Runner on a cron schedule. Overlapping triggers are
// skipped while a run is still in progress.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler validates the five-field cron expression and registers runner.
// Schedules are evaluated in UTC.
func NewScheduler(schedule string, runner Runner, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		runner:  runner,
		timeout: time.Hour,
		logger:  logger,
	}

	if _, err := s.cron.AddFunc(schedule, s.trigger); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins scheduling in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.logger.Info("reconciliation scheduled", "next_run", e.Next)
	}
}

// Stop halts scheduling and waits for a running pass, or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) trigger() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("previous reconciliation still running, skipping trigger")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.runner.Run(ctx); err != nil {
		s.logger.Error("scheduled reconciliation failed", "error", err)
	}
}
