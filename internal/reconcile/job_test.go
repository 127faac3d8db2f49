package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/collector/internal/domain"
	"github.com/opensource-finance/collector/internal/repository"
	"github.com/opensource-finance/collector/internal/rules"
)

var testNow = time.Date(2025, 3, 20, 9, 30, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func defaultCatalog(t *testing.T) *rules.Catalog {
	t.Helper()
	snap, err := rules.LoadFile(filepath.Join("..", "..", "rules", "default-rules.json"))
	require.NoError(t, err)
	return rules.NewStaticCatalog(snap)
}

func newTestRepo(t *testing.T) *repository.SQLRepository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "reconcile-test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

// insertCase stores a case whose loan fell due dueDays before testNow but
// whose stored fields reflect storedDPD with the default routing.
func insertCase(t *testing.T, repo domain.Repository, risk float64, dueDays, storedDPD int, status domain.CaseStatus) *domain.Case {
	t.Helper()
	ctx := context.Background()

	cust := &domain.Customer{
		ID:        uuid.NewString(),
		Name:      "Chidi Eze",
		Phone:     "+2348022222222",
		Email:     uuid.NewString() + "@example.com",
		Country:   "NG",
		RiskScore: risk,
		CreatedAt: testNow,
	}
	require.NoError(t, repo.CreateCustomer(ctx, cust))

	midnight := time.Date(testNow.Year(), testNow.Month(), testNow.Day(), 0, 0, 0, 0, time.UTC)
	loan := &domain.Loan{
		ID:          uuid.NewString(),
		CustomerID:  cust.ID,
		Principal:   2000,
		Outstanding: 1500,
		DueDate:     midnight.AddDate(0, 0, -dueDays),
		Status:      domain.LoanActive,
		CreatedAt:   testNow,
	}
	require.NoError(t, repo.CreateLoan(ctx, loan))

	group := domain.GroupTier1
	assignee := "Tier1Queue"
	c := &domain.Case{
		ID:              uuid.NewString(),
		CustomerID:      cust.ID,
		LoanID:          loan.ID,
		DPD:             storedDPD,
		Stage:           domain.StageSoft,
		Status:          status,
		AssignmentGroup: &group,
		AssignedTo:      &assignee,
		Version:         1,
		CreatedAt:       testNow.Add(-48 * time.Hour),
		UpdatedAt:       testNow.Add(-48 * time.Hour),
	}
	require.NoError(t, repo.InsertCase(ctx, c))
	return c
}

func TestJobRun(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	clk := &clock{now: testNow}

	drifted := insertCase(t, repo, 40, 12, 5, domain.StatusOpen)
	current := insertCase(t, repo, 40, 3, 3, domain.StatusInProgress)
	legal := insertCase(t, repo, 95, 45, 40, domain.StatusOpen)
	resolved := insertCase(t, repo, 40, 60, 1, domain.StatusResolved)

	bus := &recordingBus{}
	job := NewJob(repo, defaultCatalog(t), WithClock(clk.Now), WithEventBus(bus))

	report, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Examined)
	assert.Equal(t, 2, report.Updated)
	assert.Zero(t, report.Skipped)
	assert.Zero(t, report.Failed)

	rec, err := repo.GetCase(ctx, drifted.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, rec.DPD)
	assert.Equal(t, domain.StageHard, rec.Stage)
	assert.Equal(t, domain.GroupTier2, rec.Group())
	assert.Equal(t, "Tier2Queue", rec.Assignee())
	assert.Equal(t, 2, rec.Version)
	assert.Equal(t, domain.StatusOpen, rec.Status)

	rec, err = repo.GetCase(ctx, legal.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageLegal, rec.Stage)
	assert.Equal(t, "SeniorAgent", rec.Assignee())

	rec, err = repo.GetCase(ctx, current.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)

	rec, err = repo.GetCase(ctx, resolved.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.DPD)

	decisions, err := repo.ListRuleDecisions(ctx, drifted.ID, 10)
	require.NoError(t, err)
	assert.Len(t, decisions, 1)

	assert.Equal(t, []string{domain.TopicReconcileCompleted}, bus.topics)
}

func TestJobSecondRunIsNoOp(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	clk := &clock{now: testNow}

	for _, dpd := range []int{2, 12, 45} {
		insertCase(t, repo, 60, dpd, 0, domain.StatusOpen)
	}

	job := NewJob(repo, defaultCatalog(t), WithClock(clk.Now))

	first, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Updated)

	second, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Examined)
	assert.Zero(t, second.Updated)

	// A day later the DPD moves again.
	clk.Advance(24 * time.Hour)
	third, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, third.Updated)
}

// faultyRepository fails or races selected operations.
type faultyRepository struct {
	domain.Repository
	failCase  string
	raceCase  string
	listError error
}

func (r *faultyRepository) ListActiveCases(ctx context.Context) ([]*domain.CaseRecord, error) {
	if r.listError != nil {
		return nil, r.listError
	}
	return r.Repository.ListActiveCases(ctx)
}

func (r *faultyRepository) InTx(ctx context.Context, fn func(ctx context.Context, s domain.Store) error) error {
	return r.Repository.InTx(ctx, func(ctx context.Context, s domain.Store) error {
		return fn(ctx, &faultyStore{Store: s, repo: r})
	})
}

type faultyStore struct {
	domain.Store
	repo *faultyRepository
}

func (s *faultyStore) UpdateCase(ctx context.Context, id string, expectedVersion int, upd domain.CaseUpdate) (int64, error) {
	switch id {
	case s.repo.failCase:
		return 0, errors.New("disk I/O error")
	case s.repo.raceCase:
		if _, err := s.Store.UpdateCase(ctx, id, expectedVersion, domain.CaseUpdate{UpdatedAt: upd.UpdatedAt}); err != nil {
			return 0, err
		}
	}
	return s.Store.UpdateCase(ctx, id, expectedVersion, upd)
}

func TestJobContinuesAfterCaseFailure(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	failing := insertCase(t, repo, 50, 12, 0, domain.StatusOpen)
	racing := insertCase(t, repo, 50, 12, 0, domain.StatusOpen)
	healthy := insertCase(t, repo, 50, 12, 0, domain.StatusOpen)

	faulty := &faultyRepository{Repository: repo, failCase: failing.ID, raceCase: racing.ID}
	job := NewJob(faulty, defaultCatalog(t), WithClock(func() time.Time { return testNow }))

	report, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Examined)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Failed)

	for _, id := range []string{failing.ID, racing.ID} {
		rec, err := repo.GetCase(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, rec.Version, "case %s should be untouched", id)
		decisions, err := repo.ListRuleDecisions(ctx, id, 10)
		require.NoError(t, err)
		assert.Empty(t, decisions)
	}

	rec, err := repo.GetCase(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Version)
}

func TestJobListFailureFailsRun(t *testing.T) {
	repo := newTestRepo(t)
	faulty := &faultyRepository{Repository: repo, listError: errors.New("connection refused")}
	job := NewJob(faulty, defaultCatalog(t))

	_, err := job.Run(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestJobCancelledContext(t *testing.T) {
	repo := newTestRepo(t)
	insertCase(t, repo, 50, 12, 0, domain.StatusOpen)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := NewJob(repo, defaultCatalog(t)).Run(ctx)
	if err != nil {
		// The listing itself may observe the cancellation first.
		assert.ErrorIs(t, err, context.Canceled)
		return
	}
	assert.Zero(t, report.Examined)
}

type recordingBus struct {
	topics []string
}

func (b *recordingBus) Publish(_ context.Context, topic string, _ []byte) error {
	b.topics = append(b.topics, topic)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string, domain.MessageHandler) (domain.Subscription, error) {
	return nil, nil
}

func (b *recordingBus) Ping(context.Context) error { return nil }

func (b *recordingBus) Close() error { return nil }
