package casework

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/collector/internal/domain"
)

// NewAction is a contact attempt to log against a case.
type NewAction struct {
	Type    domain.ActionType    `json:"type"`
	Outcome domain.ActionOutcome `json:"outcome"`
	Notes   *string              `json:"notes"`
}

// AddAction appends an action log. A PAID outcome resolves the case in the
// same transaction.
func (s *Service) AddAction(ctx context.Context, caseID string, in NewAction) (log *domain.ActionLog, err error) {
	ctx, span := tracer.Start(ctx, "casework.AddAction", trace.WithAttributes(
		attribute.String("case.id", caseID),
		attribute.String("action.outcome", string(in.Outcome)),
	))
	defer func() { endSpan(span, err) }()

	if err := validateIDs(map[string]string{"id": caseID}); err != nil {
		return nil, err
	}
	var errs []domain.FieldError
	if !in.Type.Valid() {
		errs = append(errs, domain.FieldError{Field: "type", Message: "must be one of CALL, SMS, EMAIL, WHATSAPP"})
	}
	if !in.Outcome.Valid() {
		errs = append(errs, domain.FieldError{Field: "outcome", Message: "must be one of NO_ANSWER, PROMISE_TO_PAY, PAID, WRONG_NUMBER"})
	}
	if len(errs) > 0 {
		return nil, domain.NewValidationErrors(errs)
	}
	notes, err := normalizeNotes(in.Notes)
	if err != nil {
		return nil, err
	}

	var resolved *domain.Case
	err = s.repo.InTx(ctx, func(ctx context.Context, st domain.Store) error {
		rec, err := st.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		if rec.Status.Terminal() {
			return domain.NewConflict(domain.ConflictTerminalState,
				"Case %s is %s and no longer accepts actions", caseID, rec.Status)
		}

		now := s.now().UTC()
		log = &domain.ActionLog{
			ID:        uuid.NewString(),
			CaseID:    rec.ID,
			Type:      in.Type,
			Outcome:   in.Outcome,
			Notes:     notes,
			CreatedAt: now,
		}
		if err := st.InsertActionLog(ctx, log); err != nil {
			return err
		}

		if in.Outcome != domain.OutcomePaid {
			return nil
		}

		status := domain.StatusResolved
		n, err := st.UpdateCase(ctx, rec.ID, rec.Version, domain.CaseUpdate{
			Status:     &status,
			ResolvedAt: &now,
			UpdatedAt:  now,
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.NewConflict(domain.ConflictConcurrentUpdate,
				"Case was updated concurrently. Please retry with fresh data.")
		}

		c := rec.Case
		c.Status = status
		c.ResolvedAt = &now
		c.UpdatedAt = now
		c.Version = rec.Version + 1
		resolved = &c
		return nil
	})
	if err != nil {
		return nil, err
	}

	if resolved != nil {
		s.publishCase(ctx, domain.TopicCaseResolved, resolved, nil)
	}
	return log, nil
}
