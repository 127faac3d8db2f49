// Package reconcile sweeps non-terminal cases, recomputes days-past-due and
// reapplies the assignment rules.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/collector/internal/casework"
	"github.com/opensource-finance/collector/internal/domain"
	"github.com/opensource-finance/collector/internal/rules"
)

var tracer = otel.Tracer("collector-reconcile")

// errLostRace aborts a case transaction whose conditional update matched no row.
var errLostRace = errors.New("case changed during reconciliation")

// Report summarises one pass.
type Report struct {
	StartedAt time.Time     `json:"startedAt"`
	Examined  int           `json:"examined"`
	Updated   int           `json:"updated"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"durationNs"`
}

// Job recomputes every active case. It is safe to run concurrently with
// interactive requests; a case changed underneath it is left to the next run.
type Job struct {
	repo   domain.Repository
	rules  casework.RuleSource
	bus    domain.EventBus
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Job.
type Option func(*Job)

// WithClock overrides the time source used for DPD.
func WithClock(now func() time.Time) Option {
	return func(j *Job) { j.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Job) { j.logger = l }
}

// WithEventBus publishes a completion event after each run.
func WithEventBus(bus domain.EventBus) Option {
	return func(j *Job) { j.bus = bus }
}

// NewJob creates a reconciliation job.
func NewJob(repo domain.Repository, src casework.RuleSource, opts ...Option) *Job {
	j := &Job{
		repo:   repo,
		rules:  src,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run performs one pass. Only a failure to load the rules or to list the
// cases fails the run; per-case errors are logged and counted.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	ctx, span := tracer.Start(ctx, "reconcile.Run")
	defer span.End()

	start := j.now()
	report := &Report{StartedAt: start.UTC()}
	j.logger.Info("reconciliation started")

	snap, err := j.rules.Snapshot()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load rules: %w", err)
	}

	cases, err := j.repo.ListActiveCases(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list active cases: %w", err)
	}

	for _, rec := range cases {
		if err := ctx.Err(); err != nil {
			j.logger.Warn("reconciliation interrupted", "error", err, "remaining", len(cases)-report.Examined)
			break
		}
		report.Examined++

		changed, err := j.reconcileCase(ctx, snap, rec)
		switch {
		case errors.Is(err, errLostRace):
			report.Skipped++
			j.logger.Info("case changed concurrently, deferring to next run", "case_id", rec.ID)
		case err != nil:
			report.Failed++
			j.logger.Error("failed to reconcile case", "case_id", rec.ID, "error", err)
		case changed:
			report.Updated++
		}
	}

	report.Duration = j.now().Sub(start)
	span.SetAttributes(
		attribute.Int("reconcile.examined", report.Examined),
		attribute.Int("reconcile.updated", report.Updated),
		attribute.Int("reconcile.failed", report.Failed),
	)
	j.logger.Info("reconciliation completed",
		"examined", report.Examined,
		"updated", report.Updated,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration_ms", report.Duration.Milliseconds(),
	)
	j.publish(ctx, report)
	return report, nil
}

// reconcileCase applies the current rules to one case in its own transaction
// and reports whether the case was mutated.
func (j *Job) reconcileCase(ctx context.Context, snap *rules.Snapshot, rec *domain.CaseRecord) (changed bool, err error) {
	now := j.now().UTC()
	dpd := casework.DaysPastDue(rec.Loan.DueDate, now)
	decision := snap.Evaluate(dpd, rec.Customer.RiskScore, rec.Stage)

	if dpd == rec.DPD && decision.SameAssignment(&rec.Case) {
		return false, nil
	}

	err = j.repo.InTx(ctx, func(ctx context.Context, st domain.Store) error {
		if _, _, err := casework.RecordDecision(ctx, st, rec.ID, dpd, rec.Customer.RiskScore, decision, now); err != nil {
			return err
		}

		n, err := st.UpdateCase(ctx, rec.ID, rec.Version, domain.CaseUpdate{
			DPD:             &dpd,
			Stage:           &decision.Stage,
			AssignmentGroup: &decision.AssignmentGroup,
			AssignedTo:      &decision.AssignedTo,
			UpdatedAt:       now,
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return errLostRace
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	j.logger.Debug("case reconciled",
		"case_id", rec.ID,
		"dpd", dpd,
		"stage", decision.Stage,
		"assigned_to", decision.AssignedTo,
	)
	return true, nil
}

func (j *Job) publish(ctx context.Context, report *Report) {
	if j.bus == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		j.logger.Warn("failed to encode reconcile report", "error", err)
		return
	}
	if err := j.bus.Publish(ctx, domain.TopicReconcileCompleted, payload); err != nil {
		j.logger.Warn("failed to publish reconcile report", "error", err)
	}
}
