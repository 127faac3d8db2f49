// Package domain defines the core interfaces and types for Collector.
package domain

import (
	"context"
	"time"
)

// Store is the set of persistence operations the workflow and the
// reconciliation job depend on. Implementations are bound either to a
// transaction (inside Repository.InTx) or to the connection pool.
type Store interface {
	// Customers and loans
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	GetLoan(ctx context.Context, id string) (*Loan, error)
	// CreateCustomer returns ErrAlreadyExists when the email is taken.
	CreateCustomer(ctx context.Context, c *Customer) error
	CreateLoan(ctx context.Context, l *Loan) error

	// Cases
	GetCase(ctx context.Context, id string) (*CaseRecord, error)
	FindActiveCaseByLoan(ctx context.Context, loanID string) (*Case, error)
	// InsertCase returns ErrAlreadyExists when the loan already has an active case.
	InsertCase(ctx context.Context, c *Case) error
	// UpdateCase applies upd only if the row still holds expectedVersion and
	// increments the version by one. It returns the number of affected rows.
	UpdateCase(ctx context.Context, id string, expectedVersion int, upd CaseUpdate) (int64, error)
	ListActiveCases(ctx context.Context) ([]*CaseRecord, error)
	ListCases(ctx context.Context, filter CaseFilter) (*CasePage, error)

	// Action logs
	InsertActionLog(ctx context.Context, log *ActionLog) error
	ListActionLogs(ctx context.Context, caseID string) ([]ActionLog, error)

	// Rule decisions
	GetRuleDecisionByKey(ctx context.Context, key string) (*RuleDecision, error)
	// InsertRuleDecision never fails on a duplicate key; it reports
	// DecisionAlreadyRecorded instead.
	InsertRuleDecision(ctx context.Context, d *RuleDecision) (DecisionInsertOutcome, error)
	ListRuleDecisions(ctx context.Context, caseID string, limit int) ([]RuleDecision, error)

	// Metrics
	DashboardMetrics(ctx context.Context, dayStart, dayEnd time.Time) (*DashboardMetrics, error)
}

// Repository defines the interface for data persistence.
type Repository interface {
	Store

	// InTx runs fn inside a single transaction. The transaction commits when
	// fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// DecisionInsertOutcome is the tagged result of a rule decision insert.
type DecisionInsertOutcome int

const (
	DecisionInserted DecisionInsertOutcome = iota + 1
	DecisionAlreadyRecorded
)

func (o DecisionInsertOutcome) String() string {
	switch o {
	case DecisionInserted:
		return "inserted"
	case DecisionAlreadyRecorded:
		return "already_recorded"
	default:
		return "unknown"
	}
}

// CaseUpdate is the field set written by a conditional case update.
// Nil fields are left untouched.
type CaseUpdate struct {
	DPD             *int
	Stage           *CaseStage
	AssignmentGroup *AssignmentGroup
	AssignedTo      *string
	Status          *CaseStatus
	ResolvedAt      *time.Time
	UpdatedAt       time.Time
}

// CaseFilter selects and paginates cases.
type CaseFilter struct {
	Status     *CaseStatus
	Stage      *CaseStage
	DPDMin     *int
	DPDMax     *int
	AssignedTo string // substring match
	Page       int
	PageSize   int
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// CasePage is a page of cases with their customer and loan.
type CasePage struct {
	Data       []*CaseRecord `json:"data"`
	Pagination Pagination    `json:"pagination"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver" env:"REPOSITORY_DRIVER" env-default:"sqlite"`

	// SQLite specific
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH" env-default:"./collector.db"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgres_host" env:"POSTGRES_HOST" env-default:"localhost"`
	PostgresPort     int    `yaml:"postgres_port" env:"POSTGRES_PORT" env-default:"5432"`
	PostgresUser     string `yaml:"postgres_user" env:"POSTGRES_USER"`
	PostgresPassword string `yaml:"postgres_password" env:"POSTGRES_PASSWORD"`
	PostgresDB       string `yaml:"postgres_db" env:"POSTGRES_DB" env-default:"collector"`
	PostgresSSLMode  string `yaml:"postgres_sslmode" env:"POSTGRES_SSLMODE" env-default:"disable"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME"`
}
