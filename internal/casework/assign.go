package casework

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/collector/internal/domain"
)

// AssignResult is the outcome of an assignment run.
type AssignResult struct {
	CaseID      string           `json:"caseId"`
	Stage       domain.CaseStage `json:"stage"`
	AssignedTo  string           `json:"assignedTo"`
	Version     int              `json:"version"`
	Decision    DecisionSummary  `json:"decision"`
	DecisionKey string           `json:"-"`
	Changed     bool             `json:"-"`
}

// DecisionSummary is the explanation part of an assignment result.
type DecisionSummary struct {
	MatchedRules []string `json:"matchedRules"`
	Reason       string   `json:"reason"`
}

// Assign evaluates the rules for a case and applies the decision. Repeated
// runs with unchanged inputs record nothing new and leave the case alone.
// A non-nil expectedVersion must equal the stored version.
func (s *Service) Assign(ctx context.Context, caseID string, expectedVersion *int) (result *AssignResult, err error) {
	ctx, span := tracer.Start(ctx, "casework.Assign", trace.WithAttributes(
		attribute.String("case.id", caseID),
	))
	defer func() { endSpan(span, err) }()

	if err := validateIDs(map[string]string{"id": caseID}); err != nil {
		return nil, err
	}
	if expectedVersion != nil && *expectedVersion < 1 {
		return nil, domain.NewValidationError("expectedVersion", "must be at least 1")
	}

	snap, err := s.rules.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	var updated domain.Case
	err = s.repo.InTx(ctx, func(ctx context.Context, st domain.Store) error {
		rec, err := st.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		if rec.Status.Terminal() {
			return domain.NewConflict(domain.ConflictTerminalState,
				"Case %s is %s and cannot be reassigned", caseID, rec.Status)
		}
		if expectedVersion != nil && *expectedVersion != rec.Version {
			return domain.NewConflict(domain.ConflictVersionMismatch,
				"Case version mismatch: expected %d, current %d", *expectedVersion, rec.Version)
		}

		now := s.now().UTC()
		decision := snap.Evaluate(rec.DPD, rec.Customer.RiskScore, rec.Stage)

		key, outcome, err := RecordDecision(ctx, st, rec.ID, rec.DPD, rec.Customer.RiskScore, decision, now)
		if err != nil {
			return err
		}
		s.logger.Debug("assignment decision recorded",
			"case_id", rec.ID,
			"decision_key", key,
			"outcome", outcome.String(),
		)

		result = &AssignResult{
			CaseID:      rec.ID,
			Stage:       rec.Stage,
			AssignedTo:  rec.Assignee(),
			Version:     rec.Version,
			DecisionKey: key,
			Decision: DecisionSummary{
				MatchedRules: decision.MatchedRules,
				Reason:       decision.Reason,
			},
		}

		if decision.SameAssignment(&rec.Case) {
			return nil
		}

		upd := domain.CaseUpdate{
			Stage:           &decision.Stage,
			AssignmentGroup: &decision.AssignmentGroup,
			AssignedTo:      &decision.AssignedTo,
			UpdatedAt:       now,
		}
		status := rec.Status
		if status == domain.StatusOpen {
			status = domain.StatusInProgress
			upd.Status = &status
		}

		n, err := st.UpdateCase(ctx, rec.ID, rec.Version, upd)
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.NewConflict(domain.ConflictConcurrentUpdate,
				"Case was updated concurrently. Please retry with fresh data.")
		}

		updated = rec.Case
		updated.Stage = decision.Stage
		updated.AssignmentGroup = &decision.AssignmentGroup
		updated.AssignedTo = &decision.AssignedTo
		updated.Status = status
		updated.Version = rec.Version + 1
		updated.UpdatedAt = now

		result.Stage = updated.Stage
		result.AssignedTo = decision.AssignedTo
		result.Version = updated.Version
		result.Changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		s.publishCase(ctx, domain.TopicCaseAssigned, &updated, result.Decision.MatchedRules)
	}
	return result, nil
}
