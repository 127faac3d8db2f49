// Package worker consumes reassessment requests from the event bus and runs
// assignment for the referenced cases.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/collector/internal/casework"
	"github.com/opensource-finance/collector/internal/domain"
)

// Assigner runs an assignment for one case.
type Assigner interface {
	Assign(ctx context.Context, caseID string, expectedVersion *int) (*casework.AssignResult, error)
}

// Worker fans reassessment requests out to a fixed pool of goroutines.
type Worker struct {
	bus      domain.EventBus
	assigner Assigner
	logger   *slog.Logger

	jobs          chan domain.ReassessRequest
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	changed   atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount is the number of concurrent assignment goroutines.
	WorkerCount int

	// QueueSize bounds requests accepted but not yet picked up.
	QueueSize int
}

// NewWorker creates a new reassessment worker.
func NewWorker(bus domain.EventBus, assigner Assigner, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		assigner: assigner,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to reassessment requests and launches the pool.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.WorkerCount * 16
	}
	w.jobs = make(chan domain.ReassessRequest, cfg.QueueSize)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicCaseReassess, w.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.TopicCaseReassess, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	for range cfg.WorkerCount {
		w.wg.Add(1)
		go w.loop()
	}

	w.logger.Info("workers started",
		"topic", domain.TopicCaseReassess,
		"worker_count", cfg.WorkerCount,
	)
	return nil
}

// handleMessage parses a request and queues it, blocking while the queue is full.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req domain.ReassessRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.logger.Error("failed to parse reassess request", "message_id", msg.ID, "error", err)
		return err
	}
	if req.CaseID == "" {
		return fmt.Errorf("message %s: caseId is required", msg.ID)
	}

	select {
	case w.jobs <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case req := <-w.jobs:
			w.process(req)
		}
	}
}

func (w *Worker) process(req domain.ReassessRequest) {
	start := time.Now()
	w.processed.Add(1)

	res, err := w.assigner.Assign(w.ctx, req.CaseID, nil)
	switch {
	case err == nil:
		if res.Changed {
			w.changed.Add(1)
		}
		w.logger.Info("case reassessed",
			"case_id", req.CaseID,
			"changed", res.Changed,
			"version", res.Version,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrValidation):
		w.logger.Warn("case reassessment rejected", "case_id", req.CaseID, "error", err)
	default:
		w.failed.Add(1)
		w.logger.Error("case reassessment failed", "case_id", req.CaseID, "error", err)
	}
}

// Stop unsubscribes and waits for in-flight assignments to finish.
func (w *Worker) Stop() error {
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil

	w.cancel()
	w.wg.Wait()

	w.logger.Info("workers stopped")
	return nil
}

// Stats reports subscriptions and processing counters.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Changed           int64    `json:"changed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Changed:           w.changed.Load(),
		Failed:            w.failed.Load(),
	}
}
