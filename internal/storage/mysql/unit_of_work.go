// Package mysql implements the storage ports on MySQL 8 with database/sql.
// Ledger rows are locked with SELECT ... FOR UPDATE and counter writes go
// through a guarded UPDATE, so the 0 <= reserved <= total invariant is
// enforced by the database as well as by the services.
package mysql

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"stockkeeper/internal/storage"
)

//go:embed schema.sql
var schema string

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type UnitOfWork struct {
	db        *sql.DB
	txTimeout time.Duration
}

func NewUnitOfWork(db *sql.DB, txTimeout time.Duration) *UnitOfWork {
	return &UnitOfWork{db: db, txTimeout: txTimeout}
}

func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, repos storage.Repositories) error) error {
	txCtx := ctx
	if u.txTimeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, u.txTimeout)
		defer cancel()
	}

	tx, err := u.db.BeginTx(txCtx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", translate(err))
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback()

	if err := fn(txCtx, &repositories{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", translate(err))
	}
	return nil
}

func (u *UnitOfWork) Repositories() storage.Repositories {
	return &repositories{q: u.db}
}

type repositories struct {
	q querier
}

func (r *repositories) Inventories() storage.InventoryRepository {
	return &InventoryRepository{q: r.q}
}

func (r *repositories) Reservations() storage.ReservationRepository {
	return &ReservationRepository{q: r.q}
}

func (r *repositories) Outbox() storage.OutboxRepository {
	return &OutboxRepository{q: r.q}
}

// Migrate applies the embedded schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
	errCheckConstraint = 3819
)

// translate maps MySQL error numbers onto the storage sentinels while keeping
// the driver error in the chain.
func translate(err error) error {
	var mysqlErr *driver.MySQLError
	if !errors.As(err, &mysqlErr) {
		return err
	}

	switch mysqlErr.Number {
	case errDuplicateEntry:
		return fmt.Errorf("%w: %w", storage.ErrDuplicateKey, err)
	case errDeadlock, errLockWaitTimeout:
		return fmt.Errorf("%w: %w", storage.ErrDeadlock, err)
	case errCheckConstraint:
		return fmt.Errorf("%w: %w", storage.ErrGuardViolated, err)
	}
	return err
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
