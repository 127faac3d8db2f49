// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strconv"

	sq "github.com/Masterminds/squirrel"
	"github.com/pressly/goose/v3"

	"github.com/opensource-finance/collector/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	*sqlStore
	db *sql.DB
}

var _ domain.Repository = (*SQLRepository)(nil)

// New creates a new repository based on configuration and applies pending
// migrations.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool. SQLite is pinned to a single writer in openSQLite.
	if cfg.Driver != "sqlite" {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := newSQLRepository(db, cfg.Driver)

	if err := repo.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func newSQLRepository(db *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{
		sqlStore: newSQLStore(db, driver),
		db:       db,
	}
}

func (r *SQLRepository) migrate(ctx context.Context) error {
	dialect := goose.DialectSQLite3
	if r.driver == "postgres" {
		dialect = goose.DialectPostgres
	}

	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(dialect, r.db, fsys)
	if err != nil {
		return fmt.Errorf("goose new provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// InTx runs fn inside one transaction. fn must use only the store it is
// given; SQLite holds a single connection, so touching the repository
// directly from inside fn would block.
func (r *SQLRepository) InTx(ctx context.Context, fn func(ctx context.Context, s domain.Store) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, newSQLStore(tx, r.driver)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// sqlStore implements domain.Store over a pool or a transaction.
type sqlStore struct {
	q       querier
	driver  string
	builder sq.StatementBuilderType
}

func newSQLStore(q querier, driver string) *sqlStore {
	var format sq.PlaceholderFormat = sq.Question
	if driver == "postgres" {
		format = sq.Dollar
	}
	return &sqlStore{
		q:       q,
		driver:  driver,
		builder: sq.StatementBuilder.PlaceholderFormat(format),
	}
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *sqlStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
