//go:build integration

package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opensource-finance/collector/internal/domain"
)

var (
	pgOnce sync.Once
	pgCfg  domain.RepositoryConfig
	pgErr  error
)

// postgresConfig starts a shared PostgreSQL container once per test run.
func postgresConfig(t *testing.T) domain.RepositoryConfig {
	t.Helper()

	pgOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
		defer cancel()

		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "postgres:17-alpine",
				ExposedPorts: []string{"5432/tcp"},
				Env: map[string]string{
					"POSTGRES_USER":     "collector",
					"POSTGRES_PASSWORD": "collector",
					"POSTGRES_DB":       "collector",
				},
				WaitingFor: wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60 * time.Second),
			},
			Started: true,
		})
		if err != nil {
			pgErr = err
			return
		}

		host, err := container.Host(ctx)
		if err != nil {
			pgErr = err
			return
		}
		port, err := container.MappedPort(ctx, "5432")
		if err != nil {
			pgErr = err
			return
		}

		pgCfg = domain.RepositoryConfig{
			Driver:           "postgres",
			PostgresHost:     host,
			PostgresPort:     port.Int(),
			PostgresUser:     "collector",
			PostgresPassword: "collector",
			PostgresDB:       "collector",
			PostgresSSLMode:  "disable",
			MaxOpenConns:     10,
		}
	})
	if pgErr != nil {
		t.Fatalf("failed to start postgres: %v", pgErr)
	}
	return pgCfg
}

func TestPostgresRepository(t *testing.T) {
	repo, err := New(postgresConfig(t))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()

	t.Run("ActiveCaseIndexAndCAS", func(t *testing.T) {
		cust, loan := seedCustomerLoan(t, repo, 92)
		c := newTestCase(cust, loan, testEpoch)
		if err := repo.InsertCase(ctx, c); err != nil {
			t.Fatalf("InsertCase failed: %v", err)
		}

		dup := newTestCase(cust, loan, testEpoch)
		if err := repo.InsertCase(ctx, dup); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}

		stage := domain.StageLegal
		upd := domain.CaseUpdate{Stage: &stage, UpdatedAt: testEpoch.Add(time.Hour)}
		if n, err := repo.UpdateCase(ctx, c.ID, 1, upd); err != nil || n != 1 {
			t.Fatalf("CAS failed: n=%d err=%v", n, err)
		}
		if n, err := repo.UpdateCase(ctx, c.ID, 1, upd); err != nil || n != 0 {
			t.Errorf("stale CAS: n=%d err=%v", n, err)
		}
	})

	t.Run("DecisionInsertInsideTx", func(t *testing.T) {
		cust, loan := seedCustomerLoan(t, repo, 50)
		c := newTestCase(cust, loan, testEpoch)
		if err := repo.InsertCase(ctx, c); err != nil {
			t.Fatalf("InsertCase failed: %v", err)
		}

		key := "pg-" + uuid.NewString()
		err := repo.InTx(ctx, func(ctx context.Context, s domain.Store) error {
			for i := 0; i < 2; i++ {
				if _, err := s.InsertRuleDecision(ctx, &domain.RuleDecision{
					ID: uuid.NewString(), CaseID: c.ID, MatchedRules: []string{},
					Reason: "r", DecisionKey: key, CreatedAt: testEpoch,
				}); err != nil {
					return err
				}
			}
			// The duplicate must not have aborted the transaction.
			_, err := s.GetRuleDecisionByKey(ctx, key)
			return err
		})
		if err != nil {
			t.Fatalf("InTx failed: %v", err)
		}
	})

	t.Run("ListAndMetrics", func(t *testing.T) {
		if _, err := repo.ListCases(ctx, domain.CaseFilter{AssignedTo: "queue", Page: 1, PageSize: 10}); err != nil {
			t.Errorf("ListCases failed: %v", err)
		}
		if _, err := repo.DashboardMetrics(ctx, testEpoch, testEpoch.Add(24*time.Hour)); err != nil {
			t.Errorf("DashboardMetrics failed: %v", err)
		}
	})
}
