// Package casework implements the case workflow: creation, action logging,
// assignment runs and the read side of the case book.
package casework

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/collector/internal/domain"
	"github.com/opensource-finance/collector/internal/rules"
)

// recentDecisionLimit bounds the decisions returned with case details.
const recentDecisionLimit = 10

var tracer = otel.Tracer("collector-casework")

// RuleSource hands out the current rule snapshot.
type RuleSource interface {
	Snapshot() (*rules.Snapshot, error)
}

// Service runs workflow operations against the repository. Every mutating
// operation executes inside a single transaction.
type Service struct {
	repo   domain.Repository
	rules  RuleSource
	bus    domain.EventBus
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for DPD and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithEventBus publishes lifecycle events after each committed mutation.
func WithEventBus(bus domain.EventBus) Option {
	return func(s *Service) { s.bus = bus }
}

// NewService creates a workflow service.
func NewService(repo domain.Repository, src RuleSource, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		rules:  src,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateCase opens a case for an existing customer and loan.
func (s *Service) CreateCase(ctx context.Context, customerID, loanID string) (result *domain.CaseDetails, err error) {
	ctx, span := tracer.Start(ctx, "casework.CreateCase", trace.WithAttributes(
		attribute.String("customer.id", customerID),
		attribute.String("loan.id", loanID),
	))
	defer func() { endSpan(span, err) }()

	if err := validateIDs(map[string]string{"customerId": customerID, "loanId": loanID}); err != nil {
		return nil, err
	}

	snap, err := s.rules.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	err = s.repo.InTx(ctx, func(ctx context.Context, st domain.Store) error {
		customer, err := st.GetCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		loan, err := st.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.CustomerID != customer.ID {
			return domain.NewValidationError("loanId", "loan does not belong to customer")
		}

		result, err = s.openCase(ctx, st, customer, loan, snap)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publishCase(ctx, domain.TopicCaseCreated, &result.Case, firstDecisionRules(result))
	return result, nil
}

// CreateFull creates the customer, the loan and the case in one transaction.
func (s *Service) CreateFull(ctx context.Context, in NewCustomerLoan) (result *domain.CaseDetails, err error) {
	ctx, span := tracer.Start(ctx, "casework.CreateFull")
	defer func() { endSpan(span, err) }()

	if err := in.Validate(); err != nil {
		return nil, err
	}

	snap, err := s.rules.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	now := s.now().UTC()
	customer := &domain.Customer{
		ID:        uuid.NewString(),
		Name:      in.Customer.Name,
		Phone:     in.Customer.Phone,
		Email:     in.Customer.Email,
		Country:   in.Customer.Country,
		RiskScore: in.Customer.RiskScore,
		CreatedAt: now,
	}
	loan := &domain.Loan{
		ID:          uuid.NewString(),
		CustomerID:  customer.ID,
		Principal:   in.Loan.Principal,
		Outstanding: in.Loan.Outstanding,
		DueDate:     in.Loan.DueDate.UTC(),
		Status:      domain.LoanActive,
		CreatedAt:   now,
	}

	err = s.repo.InTx(ctx, func(ctx context.Context, st domain.Store) error {
		if err := st.CreateCustomer(ctx, customer); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				return domain.NewConflict(domain.ConflictDuplicateCustomer,
					"Customer with email %s already exists", customer.Email)
			}
			return err
		}
		if err := st.CreateLoan(ctx, loan); err != nil {
			return err
		}

		result, err = s.openCase(ctx, st, customer, loan, snap)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publishCase(ctx, domain.TopicCaseCreated, &result.Case, firstDecisionRules(result))
	return result, nil
}

// openCase inserts an OPEN case for loan plus its first decision and returns
// the details as seen inside the transaction.
func (s *Service) openCase(ctx context.Context, st domain.Store, customer *domain.Customer, loan *domain.Loan, snap *rules.Snapshot) (*domain.CaseDetails, error) {
	existing, err := st.FindActiveCaseByLoan(ctx, loan.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, duplicateActiveCase(loan.ID)
	}

	now := s.now().UTC()
	dpd := DaysPastDue(loan.DueDate, now)
	decision := snap.Evaluate(dpd, customer.RiskScore, domain.StageSoft)

	group := decision.AssignmentGroup
	assignee := decision.AssignedTo
	c := &domain.Case{
		ID:              uuid.NewString(),
		CustomerID:      customer.ID,
		LoanID:          loan.ID,
		DPD:             dpd,
		Stage:           decision.Stage,
		Status:          domain.StatusOpen,
		AssignmentGroup: &group,
		AssignedTo:      &assignee,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := st.InsertCase(ctx, c); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, duplicateActiveCase(loan.ID)
		}
		return nil, err
	}

	if _, _, err := RecordDecision(ctx, st, c.ID, dpd, customer.RiskScore, decision, now); err != nil {
		return nil, err
	}

	return loadDetails(ctx, st, c.ID)
}

func duplicateActiveCase(loanID string) error {
	return domain.NewConflict(domain.ConflictDuplicateActiveCase,
		"Loan %s already has an active case", loanID)
}

// GetCase returns a case with its customer, loan, action logs and most recent decisions.
func (s *Service) GetCase(ctx context.Context, caseID string) (*domain.CaseDetails, error) {
	if err := validateIDs(map[string]string{"id": caseID}); err != nil {
		return nil, err
	}
	return loadDetails(ctx, s.repo, caseID)
}

func loadDetails(ctx context.Context, st domain.Store, caseID string) (*domain.CaseDetails, error) {
	rec, err := st.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	logs, err := st.ListActionLogs(ctx, caseID)
	if err != nil {
		return nil, err
	}
	decisions, err := st.ListRuleDecisions(ctx, caseID, recentDecisionLimit)
	if err != nil {
		return nil, err
	}
	return &domain.CaseDetails{
		CaseRecord:    *rec,
		ActionLogs:    logs,
		RuleDecisions: decisions,
	}, nil
}

// ListCases returns one page of cases. Zero page and page size take defaults.
func (s *Service) ListCases(ctx context.Context, filter domain.CaseFilter) (*domain.CasePage, error) {
	filter, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCases(ctx, filter)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
