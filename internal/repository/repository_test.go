package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/collector/internal/domain"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "collector-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

var testEpoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func seedCustomerLoan(t *testing.T, s domain.Store, risk float64) (*domain.Customer, *domain.Loan) {
	t.Helper()
	ctx := context.Background()

	cust := &domain.Customer{
		ID:        uuid.NewString(),
		Name:      "Ada Obi",
		Phone:     "+2348000000000",
		Email:     uuid.NewString() + "@example.com",
		Country:   "NG",
		RiskScore: risk,
		CreatedAt: testEpoch,
	}
	if err := s.CreateCustomer(ctx, cust); err != nil {
		t.Fatalf("CreateCustomer failed: %v", err)
	}

	loan := &domain.Loan{
		ID:          uuid.NewString(),
		CustomerID:  cust.ID,
		Principal:   1000,
		Outstanding: 750,
		DueDate:     testEpoch.AddDate(0, 0, -12),
		Status:      domain.LoanActive,
		CreatedAt:   testEpoch,
	}
	if err := s.CreateLoan(ctx, loan); err != nil {
		t.Fatalf("CreateLoan failed: %v", err)
	}
	return cust, loan
}

func newTestCase(cust *domain.Customer, loan *domain.Loan, createdAt time.Time) *domain.Case {
	group := domain.GroupTier2
	assignee := "Tier2Queue"
	return &domain.Case{
		ID:              uuid.NewString(),
		CustomerID:      cust.ID,
		LoanID:          loan.ID,
		DPD:             12,
		Stage:           domain.StageHard,
		Status:          domain.StatusOpen,
		AssignmentGroup: &group,
		AssignedTo:      &assignee,
		Version:         1,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("CustomerAndLoan", func(t *testing.T) {
		cust, loan := seedCustomerLoan(t, repo, 72.5)

		gotCust, err := repo.GetCustomer(ctx, cust.ID)
		if err != nil {
			t.Fatalf("GetCustomer failed: %v", err)
		}
		if gotCust.Email != cust.Email || gotCust.RiskScore != 72.5 {
			t.Errorf("unexpected customer %+v", gotCust)
		}

		gotLoan, err := repo.GetLoan(ctx, loan.ID)
		if err != nil {
			t.Fatalf("GetLoan failed: %v", err)
		}
		if !gotLoan.DueDate.Equal(loan.DueDate) {
			t.Errorf("expected due date %v, got %v", loan.DueDate, gotLoan.DueDate)
		}
		if gotLoan.Status != domain.LoanActive {
			t.Errorf("expected ACTIVE, got %s", gotLoan.Status)
		}
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		cust, _ := seedCustomerLoan(t, repo, 10)
		dup := *cust
		dup.ID = uuid.NewString()

		err := repo.CreateCustomer(ctx, &dup)
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetCustomer(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for customer, got %v", err)
		}
		if _, err := repo.GetLoan(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for loan, got %v", err)
		}
		if _, err := repo.GetCase(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for case, got %v", err)
		}
		if _, err := repo.FindActiveCaseByLoan(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for active case, got %v", err)
		}
		if _, err := repo.GetRuleDecisionByKey(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for decision, got %v", err)
		}
	})

	t.Run("InsertAndGetCase", func(t *testing.T) {
		cust, loan := seedCustomerLoan(t, repo, 92)
		c := newTestCase(cust, loan, testEpoch)

		if err := repo.InsertCase(ctx, c); err != nil {
			t.Fatalf("InsertCase failed: %v", err)
		}

		rec, err := repo.GetCase(ctx, c.ID)
		if err != nil {
			t.Fatalf("GetCase failed: %v", err)
		}
		if rec.Case.Group() != domain.GroupTier2 || rec.Case.Assignee() != "Tier2Queue" {
			t.Errorf("unexpected assignment %s/%s", rec.Case.Group(), rec.Case.Assignee())
		}
		if rec.Customer.ID != cust.ID || rec.Loan.ID != loan.ID {
			t.Errorf("customer/loan not joined: %+v", rec)
		}
		if rec.Case.ResolvedAt != nil {
			t.Errorf("expected nil resolvedAt, got %v", rec.Case.ResolvedAt)
		}
		if !rec.Case.CreatedAt.Equal(testEpoch) {
			t.Errorf("expected createdAt %v, got %v", testEpoch, rec.Case.CreatedAt)
		}

		active, err := repo.FindActiveCaseByLoan(ctx, loan.ID)
		if err != nil {
			t.Fatalf("FindActiveCaseByLoan failed: %v", err)
		}
		if active.ID != c.ID {
			t.Errorf("expected active case %s, got %s", c.ID, active.ID)
		}
	})

	t.Run("OneActiveCasePerLoan", func(t *testing.T) {
		cust, loan := seedCustomerLoan(t, repo, 50)
		first := newTestCase(cust, loan, testEpoch)
		if err := repo.InsertCase(ctx, first); err != nil {
			t.Fatalf("InsertCase failed: %v", err)
		}

		second := newTestCase(cust, loan, testEpoch.Add(time.Minute))
		if err := repo.InsertCase(ctx, second); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists for second active case, got %v", err)
		}

		resolved := domain.StatusResolved
		resolvedAt := testEpoch.Add(time.Hour)
		n, err := repo.UpdateCase(ctx, first.ID, 1, domain.CaseUpdate{
			Status: &resolved, ResolvedAt: &resolvedAt, UpdatedAt: resolvedAt,
		})
		if err != nil || n != 1 {
			t.Fatalf("resolve failed: n=%d err=%v", n, err)
		}

		if err := repo.InsertCase(ctx, second); err != nil {
			t.Errorf("insert after resolve should succeed, got %v", err)
		}
	})

	t.Run("UpdateCaseCompareAndSwap", func(t *testing.T) {
		cust, loan := seedCustomerLoan(t, repo, 50)
		c := newTestCase(cust, loan, testEpoch)
		if err := repo.InsertCase(ctx, c); err != nil {
			t.Fatalf("InsertCase failed: %v", err)
		}

		legal := domain.StageLegal
		group := domain.GroupLegal
		assignee := "LegalDesk"
		dpd := 45
		upd := domain.CaseUpdate{
			DPD: &dpd, Stage: &legal, AssignmentGroup: &group, AssignedTo: &assignee,
			UpdatedAt: testEpoch.Add(time.Hour),
		}

		n, err := repo.UpdateCase(ctx, c.ID, 1, upd)
		if err != nil || n != 1 {
			t.Fatalf("first CAS should win: n=%d err=%v", n, err)
		}

		n, err = repo.UpdateCase(ctx, c.ID, 1, upd)
		if err != nil {
			t.Fatalf("stale CAS errored: %v", err)
		}
		if n != 0 {
			t.Errorf("stale CAS should affect 0 rows, got %d", n)
		}

		rec, err := repo.GetCase(ctx, c.ID)
		if err != nil {
			t.Fatalf("GetCase failed: %v", err)
		}
		if rec.Case.Version != 2 {
			t.Errorf("expected version 2, got %d", rec.Case.Version)
		}
		if rec.Case.Stage != domain.StageLegal || rec.Case.DPD != 45 || rec.Case.Assignee() != "LegalDesk" {
			t.Errorf("update not applied: %+v", rec.Case)
		}
		if rec.Case.Status != domain.StatusOpen {
			t.Errorf("status should be untouched, got %s", rec.Case.Status)
		}
	})

	t.Run("ActionLogs", func(t *testing.T) {
		cust, loan := seedCustomerLoan(t, repo, 50)
		c := newTestCase(cust, loan, testEpoch)
		if err := repo.InsertCase(ctx, c); err != nil {
			t.Fatalf("InsertCase failed: %v", err)
		}

		notes := "promised Friday"
		for i, outcome := range []domain.ActionOutcome{domain.OutcomeNoAnswer, domain.OutcomePromiseToPay} {
			log := &domain.ActionLog{
				ID:        uuid.NewString(),
				CaseID:    c.ID,
				Type:      domain.ActionCall,
				Outcome:   outcome,
				CreatedAt: testEpoch.Add(time.Duration(i) * time.Minute),
			}
			if outcome == domain.OutcomePromiseToPay {
				log.Notes = &notes
			}
			if err := repo.InsertActionLog(ctx, log); err != nil {
				t.Fatalf("InsertActionLog failed: %v", err)
			}
		}

		logs, err := repo.ListActionLogs(ctx, c.ID)
		if err != nil {
			t.Fatalf("ListActionLogs failed: %v", err)
		}
		if len(logs) != 2 {
			t.Fatalf("expected 2 logs, got %d", len(logs))
		}
		if logs[0].Outcome != domain.OutcomePromiseToPay || logs[0].Notes == nil || *logs[0].Notes != notes {
			t.Errorf("expected newest log first with notes, got %+v", logs[0])
		}
		if logs[1].Notes != nil {
			t.Errorf("expected nil notes, got %q", *logs[1].Notes)
		}
	})

	t.Run("RuleDecisionsIdempotent", func(t *testing.T) {
		cust, loan := seedCustomerLoan(t, repo, 50)
		c := newTestCase(cust, loan, testEpoch)
		if err := repo.InsertCase(ctx, c); err != nil {
			t.Fatalf("InsertCase failed: %v", err)
		}

		d := &domain.RuleDecision{
			ID:           uuid.NewString(),
			CaseID:       c.ID,
			MatchedRules: []string{"DPD_8_30"},
			Reason:       "DPD_8_30 (dpd=12) -> stage=HARD, group=Tier2",
			DecisionKey:  "key-" + c.ID,
			CreatedAt:    testEpoch,
		}

		outcome, err := repo.InsertRuleDecision(ctx, d)
		if err != nil || outcome != domain.DecisionInserted {
			t.Fatalf("first insert: outcome=%s err=%v", outcome, err)
		}

		dup := *d
		dup.ID = uuid.NewString()
		outcome, err = repo.InsertRuleDecision(ctx, &dup)
		if err != nil {
			t.Fatalf("duplicate insert should not error: %v", err)
		}
		if outcome != domain.DecisionAlreadyRecorded {
			t.Errorf("expected already_recorded, got %s", outcome)
		}

		got, err := repo.GetRuleDecisionByKey(ctx, d.DecisionKey)
		if err != nil {
			t.Fatalf("GetRuleDecisionByKey failed: %v", err)
		}
		if got.ID != d.ID || len(got.MatchedRules) != 1 || got.MatchedRules[0] != "DPD_8_30" {
			t.Errorf("unexpected decision %+v", got)
		}

		list, err := repo.ListRuleDecisions(ctx, c.ID, 10)
		if err != nil {
			t.Fatalf("ListRuleDecisions failed: %v", err)
		}
		if len(list) != 1 {
			t.Errorf("expected exactly one audit row, got %d", len(list))
		}
	})
}

func TestInTx(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("CommitsOnSuccess", func(t *testing.T) {
		var custID string
		err := repo.InTx(ctx, func(ctx context.Context, s domain.Store) error {
			cust, _ := seedCustomerLoan(t, s, 10)
			custID = cust.ID
			return nil
		})
		if err != nil {
			t.Fatalf("InTx failed: %v", err)
		}
		if _, err := repo.GetCustomer(ctx, custID); err != nil {
			t.Errorf("committed customer not visible: %v", err)
		}
	})

	t.Run("RollsBackOnError", func(t *testing.T) {
		var custID string
		boom := errors.New("boom")
		err := repo.InTx(ctx, func(ctx context.Context, s domain.Store) error {
			cust, _ := seedCustomerLoan(t, s, 10)
			custID = cust.ID
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if _, err := repo.GetCustomer(ctx, custID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("rolled back customer should be gone, got %v", err)
		}
	})

	t.Run("RollsBackOnPanic", func(t *testing.T) {
		var custID string
		func() {
			defer func() {
				if recover() == nil {
					t.Error("expected panic to propagate")
				}
			}()
			_ = repo.InTx(ctx, func(ctx context.Context, s domain.Store) error {
				cust, _ := seedCustomerLoan(t, s, 10)
				custID = cust.ID
				panic("boom")
			})
		}()
		if _, err := repo.GetCustomer(ctx, custID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("customer from panicked tx should be gone, got %v", err)
		}
	})
}

func TestListCases(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	// 25 cases, one per loan, created a minute apart. Every fifth is HARD with DPD 40.
	var ids []string
	for i := 0; i < 25; i++ {
		cust, loan := seedCustomerLoan(t, repo, 50)
		c := newTestCase(cust, loan, testEpoch.Add(time.Duration(i)*time.Minute))
		c.DPD = i
		c.Stage = domain.StageSoft
		assignee := fmt.Sprintf("Agent_%02d", i)
		c.AssignedTo = &assignee
		if i%5 == 0 {
			c.Stage = domain.StageHard
			c.DPD = 40
		}
		if err := repo.InsertCase(ctx, c); err != nil {
			t.Fatalf("InsertCase failed: %v", err)
		}
		ids = append(ids, c.ID)
	}

	t.Run("PaginationWalk", func(t *testing.T) {
		seen := map[string]bool{}
		var order []string
		page := 1
		for {
			res, err := repo.ListCases(ctx, domain.CaseFilter{Page: page, PageSize: 10})
			if err != nil {
				t.Fatalf("ListCases failed: %v", err)
			}
			if res.Pagination.Total != 25 || res.Pagination.TotalPages != 3 {
				t.Fatalf("unexpected pagination %+v", res.Pagination)
			}
			for _, rec := range res.Data {
				if seen[rec.Case.ID] {
					t.Errorf("case %s returned twice", rec.Case.ID)
				}
				seen[rec.Case.ID] = true
				order = append(order, rec.Case.ID)
			}
			if page >= res.Pagination.TotalPages {
				break
			}
			page++
		}

		if len(order) != 25 {
			t.Fatalf("expected 25 cases, got %d", len(order))
		}
		for i, id := range order {
			if want := ids[len(ids)-1-i]; id != want {
				t.Errorf("position %d: expected %s, got %s", i, want, id)
			}
		}
	})

	t.Run("Filters", func(t *testing.T) {
		hard := domain.StageHard
		res, err := repo.ListCases(ctx, domain.CaseFilter{Stage: &hard, Page: 1, PageSize: 100})
		if err != nil {
			t.Fatalf("ListCases failed: %v", err)
		}
		if res.Pagination.Total != 5 {
			t.Errorf("expected 5 HARD cases, got %d", res.Pagination.Total)
		}

		lo, hi := 10, 14
		res, err = repo.ListCases(ctx, domain.CaseFilter{DPDMin: &lo, DPDMax: &hi, Page: 1, PageSize: 100})
		if err != nil {
			t.Fatalf("ListCases failed: %v", err)
		}
		// DPD 10 is replaced by 40 on the HARD case, leaving 11..14.
		if res.Pagination.Total != 4 {
			t.Errorf("expected 4 cases in DPD 10..14, got %d", res.Pagination.Total)
		}

		res, err = repo.ListCases(ctx, domain.CaseFilter{AssignedTo: "agent_1", Page: 1, PageSize: 100})
		if err != nil {
			t.Fatalf("ListCases failed: %v", err)
		}
		if res.Pagination.Total != 10 {
			t.Errorf("expected 10 cases for Agent_1x, got %d", res.Pagination.Total)
		}

		res, err = repo.ListCases(ctx, domain.CaseFilter{AssignedTo: "%", Page: 1, PageSize: 100})
		if err != nil {
			t.Fatalf("ListCases failed: %v", err)
		}
		if res.Pagination.Total != 0 {
			t.Errorf("wildcard should be matched literally, got %d", res.Pagination.Total)
		}

		resolved := domain.StatusResolved
		res, err = repo.ListCases(ctx, domain.CaseFilter{Status: &resolved, Page: 1, PageSize: 10})
		if err != nil {
			t.Fatalf("ListCases failed: %v", err)
		}
		if res.Pagination.Total != 0 || res.Pagination.TotalPages != 1 || len(res.Data) != 0 {
			t.Errorf("empty result should report one page, got %+v", res.Pagination)
		}
	})

	t.Run("ListActiveCases", func(t *testing.T) {
		active, err := repo.ListActiveCases(ctx)
		if err != nil {
			t.Fatalf("ListActiveCases failed: %v", err)
		}
		if len(active) != 25 {
			t.Errorf("expected 25 active cases, got %d", len(active))
		}
	})
}

func TestDashboardMetrics(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	dayStart := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	for i, dpd := range []int{5, 10, 16} {
		cust, loan := seedCustomerLoan(t, repo, 50)
		c := newTestCase(cust, loan, testEpoch.Add(time.Duration(i)*time.Second))
		c.DPD = dpd
		if err := repo.InsertCase(ctx, c); err != nil {
			t.Fatalf("InsertCase failed: %v", err)
		}
	}

	resolve := func(at time.Time) {
		cust, loan := seedCustomerLoan(t, repo, 50)
		c := newTestCase(cust, loan, testEpoch)
		c.DPD = 99
		c.Status = domain.StatusResolved
		c.ResolvedAt = &at
		if err := repo.InsertCase(ctx, c); err != nil {
			t.Fatalf("InsertCase failed: %v", err)
		}
	}
	resolve(dayStart.Add(2 * time.Hour))
	resolve(dayStart.Add(-time.Hour))

	m, err := repo.DashboardMetrics(ctx, dayStart, dayEnd)
	if err != nil {
		t.Fatalf("DashboardMetrics failed: %v", err)
	}
	if m.OpenCasesCount != 3 {
		t.Errorf("expected 3 open cases, got %d", m.OpenCasesCount)
	}
	if m.ResolvedTodayCount != 1 {
		t.Errorf("expected 1 resolved today, got %d", m.ResolvedTodayCount)
	}
	if m.AvgOpenDPD != 10.33 {
		t.Errorf("expected avg 10.33, got %v", m.AvgOpenDPD)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	s := newSQLStore(nil, "postgres")

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := s.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	if got := newSQLStore(nil, "sqlite").rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite should keep ? placeholders, got %q", got)
	}
}

func TestPostgresDSN(t *testing.T) {
	got := postgresDSN(domain.RepositoryConfig{PostgresUser: "u", PostgresPassword: "p"})
	want := "host=localhost port=5432 user=u password=p dbname=collector sslmode=disable"
	if got != want {
		t.Errorf("postgresDSN = %q, want %q", got, want)
	}
}
