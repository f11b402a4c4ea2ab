// Package sqlstore implements the order, product and audit repositories on database/sql.
// Postgres is reached through the pgx stdlib driver; SQLite (modernc) backs local runs and tests.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/hanko-field/orderops/internal/repositories"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Config describes how to reach the database.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// Store bundles the SQL repositories and acts as their unit of work.
type Store struct {
	db      *sql.DB
	dialect dialect

	orders   *orderRepository
	items    *orderItemRepository
	products *productRepository
	audit    *auditLogRepository
}

var (
	_ repositories.Registry          = (*Store)(nil)
	_ repositories.TransactionalUnit = (*Store)(nil)
)

// Open connects to the configured database, verifies connectivity and optionally applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("sqlstore: dsn is required")
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", d.driver, err)
	}
	if d.singleConn {
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", d.driver, err)
	}

	store := newStore(db, d)
	if d.driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlstore: enable foreign keys: %w", err)
		}
	}
	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return store, nil
}

// New wraps an existing handle, typically a sqlmock connection in tests.
func New(db *sql.DB, driver string) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: db is required")
	}
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return newStore(db, d), nil
}

func newStore(db *sql.DB, d dialect) *Store {
	s := &Store{db: db, dialect: d}
	s.orders = &orderRepository{store: s}
	s.items = &orderItemRepository{store: s}
	s.products = &productRepository{store: s}
	s.audit = &auditLogRepository{store: s}
	return s
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	raw, err := schemaFS.ReadFile(s.dialect.schemaFile)
	if err != nil {
		return fmt.Errorf("sqlstore: read schema: %w", err)
	}
	for _, stmt := range strings.Split(string(raw), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: apply schema: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return wrapError("ping", s.db.PingContext(ctx))
}

// Close releases the connection pool.
func (s *Store) Close(context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Orders returns the order repository.
func (s *Store) Orders() repositories.OrderRepository { return s.orders }

// OrderItems returns the order item repository.
func (s *Store) OrderItems() repositories.OrderItemRepository { return s.items }

// Products returns the product repository.
func (s *Store) Products() repositories.ProductRepository { return s.products }

// AuditLogs returns the audit log repository.
func (s *Store) AuditLogs() repositories.AuditLogRepository { return s.audit }

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.conn(ctx).ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn(ctx).QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.conn(ctx).QueryRowContext(ctx, s.dialect.rebind(query), args...)
}
