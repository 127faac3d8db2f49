package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/opensource-finance/collector/internal/domain"
)

var _ domain.Store = (*sqlStore)(nil)

// GetCustomer retrieves a customer by ID.
func (s *sqlStore) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	query := `
		SELECT id, name, phone, email, country, risk_score, created_at
		FROM customers
		WHERE id = ?
	`

	var c domain.Customer
	err := s.q.QueryRowContext(ctx, s.rebind(query), id).Scan(
		&c.ID, &c.Name, &c.Phone, &c.Email, &c.Country, &c.RiskScore, &c.CreatedAt,
	)
	if err != nil {
		return nil, mapError(err, "customer", id)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// GetLoan retrieves a loan by ID.
func (s *sqlStore) GetLoan(ctx context.Context, id string) (*domain.Loan, error) {
	query := `
		SELECT id, customer_id, principal, outstanding, due_date, status, created_at
		FROM loans
		WHERE id = ?
	`

	var l domain.Loan
	err := s.q.QueryRowContext(ctx, s.rebind(query), id).Scan(
		&l.ID, &l.CustomerID, &l.Principal, &l.Outstanding, &l.DueDate, &l.Status, &l.CreatedAt,
	)
	if err != nil {
		return nil, mapError(err, "loan", id)
	}
	l.DueDate = l.DueDate.UTC()
	l.CreatedAt = l.CreatedAt.UTC()
	return &l, nil
}

// CreateCustomer stores a new customer. A taken email yields ErrAlreadyExists.
func (s *sqlStore) CreateCustomer(ctx context.Context, c *domain.Customer) error {
	query := `
		INSERT INTO customers (id, name, phone, email, country, risk_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.q.ExecContext(ctx, s.rebind(query),
		c.ID, c.Name, c.Phone, c.Email, c.Country, c.RiskScore, c.CreatedAt.UTC(),
	)
	return mapError(err, "customer", c.Email)
}

// CreateLoan stores a new loan.
func (s *sqlStore) CreateLoan(ctx context.Context, l *domain.Loan) error {
	query := `
		INSERT INTO loans (id, customer_id, principal, outstanding, due_date, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.q.ExecContext(ctx, s.rebind(query),
		l.ID, l.CustomerID, l.Principal, l.Outstanding, l.DueDate.UTC(), string(l.Status), l.CreatedAt.UTC(),
	)
	return mapError(err, "loan", l.ID)
}

// caseRecordColumns selects a case joined with its customer and loan.
var caseRecordColumns = []string{
	"c.id", "c.customer_id", "c.loan_id", "c.dpd", "c.stage", "c.status",
	"c.assignment_group", "c.assigned_to", "c.version",
	"c.created_at", "c.updated_at", "c.resolved_at",
	"cu.id", "cu.name", "cu.phone", "cu.email", "cu.country", "cu.risk_score", "cu.created_at",
	"l.id", "l.customer_id", "l.principal", "l.outstanding", "l.due_date", "l.status", "l.created_at",
}

// caseRecordSelect starts a query over cases with customer and loan joined.
func (s *sqlStore) caseRecordSelect() sq.SelectBuilder {
	return s.builder.Select(caseRecordColumns...).
		From("cases c").
		Join("customers cu ON cu.id = c.customer_id").
		Join("loans l ON l.id = c.loan_id")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCaseRecord(row rowScanner) (*domain.CaseRecord, error) {
	var rec domain.CaseRecord
	var group, assignedTo sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&rec.Case.ID, &rec.Case.CustomerID, &rec.Case.LoanID, &rec.Case.DPD,
		&rec.Case.Stage, &rec.Case.Status, &group, &assignedTo, &rec.Case.Version,
		&rec.Case.CreatedAt, &rec.Case.UpdatedAt, &resolvedAt,
		&rec.Customer.ID, &rec.Customer.Name, &rec.Customer.Phone, &rec.Customer.Email,
		&rec.Customer.Country, &rec.Customer.RiskScore, &rec.Customer.CreatedAt,
		&rec.Loan.ID, &rec.Loan.CustomerID, &rec.Loan.Principal, &rec.Loan.Outstanding,
		&rec.Loan.DueDate, &rec.Loan.Status, &rec.Loan.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	applyCaseNullables(&rec.Case, group, assignedTo, resolvedAt)
	rec.Customer.CreatedAt = rec.Customer.CreatedAt.UTC()
	rec.Loan.DueDate = rec.Loan.DueDate.UTC()
	rec.Loan.CreatedAt = rec.Loan.CreatedAt.UTC()
	return &rec, nil
}

func applyCaseNullables(c *domain.Case, group, assignedTo sql.NullString, resolvedAt sql.NullTime) {
	if group.Valid {
		g := domain.AssignmentGroup(group.String)
		c.AssignmentGroup = &g
	}
	if assignedTo.Valid {
		a := assignedTo.String
		c.AssignedTo = &a
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		c.ResolvedAt = &t
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
}

// GetCase retrieves a case with its customer and loan.
func (s *sqlStore) GetCase(ctx context.Context, id string) (*domain.CaseRecord, error) {
	query, args, err := s.caseRecordSelect().Where(sq.Eq{"c.id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build case query: %w", err)
	}

	rec, err := scanCaseRecord(s.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, mapError(err, "case", id)
	}
	return rec, nil
}

// FindActiveCaseByLoan returns the OPEN or IN_PROGRESS case of a loan, or
// ErrNotFound when there is none.
func (s *sqlStore) FindActiveCaseByLoan(ctx context.Context, loanID string) (*domain.Case, error) {
	query := `
		SELECT id, customer_id, loan_id, dpd, stage, status, assignment_group, assigned_to,
			   version, created_at, updated_at, resolved_at
		FROM cases
		WHERE loan_id = ? AND status IN (?, ?)
		LIMIT 1
	`

	var c domain.Case
	var group, assignedTo sql.NullString
	var resolvedAt sql.NullTime

	err := s.q.QueryRowContext(ctx, s.rebind(query), loanID, string(domain.StatusOpen), string(domain.StatusInProgress)).Scan(
		&c.ID, &c.CustomerID, &c.LoanID, &c.DPD, &c.Stage, &c.Status, &group, &assignedTo,
		&c.Version, &c.CreatedAt, &c.UpdatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, mapError(err, "active case for loan", loanID)
	}

	applyCaseNullables(&c, group, assignedTo, resolvedAt)
	return &c, nil
}

// InsertCase stores a new case. A second active case for the same loan
// violates uq_cases_active_loan and yields ErrAlreadyExists.
func (s *sqlStore) InsertCase(ctx context.Context, c *domain.Case) error {
	query := `
		INSERT INTO cases (
			id, customer_id, loan_id, dpd, stage, status, assignment_group, assigned_to,
			version, created_at, updated_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.q.ExecContext(ctx, s.rebind(query),
		c.ID, c.CustomerID, c.LoanID, c.DPD, string(c.Stage), string(c.Status),
		nullGroup(c.AssignmentGroup), nullString(c.AssignedTo),
		c.Version, c.CreatedAt.UTC(), c.UpdatedAt.UTC(), nullTime(c.ResolvedAt),
	)
	return mapError(err, "case", c.ID)
}

// UpdateCase is a compare-and-swap on the case version. Zero affected rows
// means the case is missing or another writer got there first.
func (s *sqlStore) UpdateCase(ctx context.Context, id string, expectedVersion int, upd domain.CaseUpdate) (int64, error) {
	b := s.builder.Update("cases").
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", upd.UpdatedAt.UTC())

	if upd.DPD != nil {
		b = b.Set("dpd", *upd.DPD)
	}
	if upd.Stage != nil {
		b = b.Set("stage", string(*upd.Stage))
	}
	if upd.AssignmentGroup != nil {
		b = b.Set("assignment_group", string(*upd.AssignmentGroup))
	}
	if upd.AssignedTo != nil {
		b = b.Set("assigned_to", *upd.AssignedTo)
	}
	if upd.Status != nil {
		b = b.Set("status", string(*upd.Status))
	}
	if upd.ResolvedAt != nil {
		b = b.Set("resolved_at", upd.ResolvedAt.UTC())
	}

	query, args, err := b.Where(sq.Eq{"id": id, "version": expectedVersion}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build case update: %w", err)
	}

	result, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err, "case", id)
	}
	return result.RowsAffected()
}

// ListActiveCases returns every OPEN or IN_PROGRESS case, oldest first.
func (s *sqlStore) ListActiveCases(ctx context.Context) ([]*domain.CaseRecord, error) {
	query, args, err := s.caseRecordSelect().
		Where(sq.Eq{"c.status": activeStatusValues()}).
		OrderBy("c.created_at ASC", "c.id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build active case query: %w", err)
	}

	return s.queryCaseRecords(ctx, query, args...)
}

func (s *sqlStore) queryCaseRecords(ctx context.Context, query string, args ...any) ([]*domain.CaseRecord, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*domain.CaseRecord{}
	for rows.Next() {
		rec, err := scanCaseRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// InsertActionLog appends an action log.
func (s *sqlStore) InsertActionLog(ctx context.Context, log *domain.ActionLog) error {
	query := `
		INSERT INTO action_logs (id, case_id, type, outcome, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.q.ExecContext(ctx, s.rebind(query),
		log.ID, log.CaseID, string(log.Type), string(log.Outcome), nullString(log.Notes), log.CreatedAt.UTC(),
	)
	return mapError(err, "action log", log.ID)
}

// ListActionLogs returns a case's action logs, newest first.
func (s *sqlStore) ListActionLogs(ctx context.Context, caseID string) ([]domain.ActionLog, error) {
	query := `
		SELECT id, case_id, type, outcome, notes, created_at
		FROM action_logs
		WHERE case_id = ?
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.q.QueryContext(ctx, s.rebind(query), caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []domain.ActionLog{}
	for rows.Next() {
		var l domain.ActionLog
		var notes sql.NullString
		if err := rows.Scan(&l.ID, &l.CaseID, &l.Type, &l.Outcome, &notes, &l.CreatedAt); err != nil {
			return nil, err
		}
		if notes.Valid {
			n := notes.String
			l.Notes = &n
		}
		l.CreatedAt = l.CreatedAt.UTC()
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// GetRuleDecisionByKey retrieves a decision by its idempotency key.
func (s *sqlStore) GetRuleDecisionByKey(ctx context.Context, key string) (*domain.RuleDecision, error) {
	query := `
		SELECT id, case_id, matched_rules, reason, decision_key, created_at
		FROM rule_decisions
		WHERE decision_key = ?
	`

	d, err := scanRuleDecision(s.q.QueryRowContext(ctx, s.rebind(query), key))
	if err != nil {
		return nil, mapError(err, "rule decision", key)
	}
	return d, nil
}

// InsertRuleDecision records a decision unless its key is already present.
// A duplicate key, including one inserted concurrently, is reported as
// DecisionAlreadyRecorded rather than as an error.
func (s *sqlStore) InsertRuleDecision(ctx context.Context, d *domain.RuleDecision) (domain.DecisionInsertOutcome, error) {
	matched, err := json.Marshal(d.MatchedRules)
	if err != nil {
		return 0, fmt.Errorf("encode matched rules: %w", err)
	}

	query := `
		INSERT INTO rule_decisions (id, case_id, matched_rules, reason, decision_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (decision_key) DO NOTHING
	`

	result, err := s.q.ExecContext(ctx, s.rebind(query),
		d.ID, d.CaseID, string(matched), d.Reason, d.DecisionKey, d.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, mapError(err, "rule decision", d.DecisionKey)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return domain.DecisionAlreadyRecorded, nil
	}
	return domain.DecisionInserted, nil
}

// ListRuleDecisions returns up to limit decisions of a case, newest first.
func (s *sqlStore) ListRuleDecisions(ctx context.Context, caseID string, limit int) ([]domain.RuleDecision, error) {
	query := `
		SELECT id, case_id, matched_rules, reason, decision_key, created_at
		FROM rule_decisions
		WHERE case_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.q.QueryContext(ctx, s.rebind(query), caseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	decisions := []domain.RuleDecision{}
	for rows.Next() {
		d, err := scanRuleDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, *d)
	}
	return decisions, rows.Err()
}

func scanRuleDecision(row rowScanner) (*domain.RuleDecision, error) {
	var d domain.RuleDecision
	var matched string

	if err := row.Scan(&d.ID, &d.CaseID, &matched, &d.Reason, &d.DecisionKey, &d.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(matched), &d.MatchedRules); err != nil {
		return nil, fmt.Errorf("failed to parse matched rules for decision %s: %w", d.ID, err)
	}
	if d.MatchedRules == nil {
		d.MatchedRules = []string{}
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

// activeStatusValues returns the active statuses as plain strings for
// driver arguments.
func activeStatusValues() []string {
	out := make([]string, len(domain.ActiveStatuses))
	for i, st := range domain.ActiveStatuses {
		out[i] = string(st)
	}
	return out
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullGroup(v *domain.AssignmentGroup) any {
	if v == nil {
		return nil
	}
	return string(*v)
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC()
}
