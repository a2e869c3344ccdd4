package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"resumesync/internal/errs"
	"resumesync/internal/model"
	"resumesync/internal/repository"
)

// LedgerSQLite is a SQLite implementation of repository.LedgerRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type LedgerSQLite struct {
	db *sql.DB
}

// NewLedgerSQLite creates a new LedgerSQLite repository.
func NewLedgerSQLite(db *sql.DB) *LedgerSQLite {
	return &LedgerSQLite{db: db}
}

var _ repository.LedgerRepository = (*LedgerSQLite)(nil)

// ListExemptedIDs returns the set of all recorded applicant ids.
func (r *LedgerSQLite) ListExemptedIDs(ctx context.Context) (model.ExemptionSet, error) {
	const q = `SELECT id FROM applicants`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, errs.New(errs.ErrStorageUnavailable, "ledger.list_exempted", err)
	}
	defer rows.Close()

	set := make(model.ExemptionSet)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.New(errs.ErrStorageUnavailable, "ledger.list_exempted", err)
		}
		set[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.ErrStorageUnavailable, "ledger.list_exempted", err)
	}
	return set, nil
}

// RecordProcessed inserts a new ledger entry with sent = false.
func (r *LedgerSQLite) RecordProcessed(ctx context.Context, id, path string) error {
	const q = `INSERT INTO applicants (id, path, sent) VALUES (?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, q, id, path, false); err != nil {
		if isPrimaryKeyViolation(err) {
			return errs.New(errs.ErrDuplicateEntry, "ledger.record", err).WithApplicant(id)
		}
		return errs.New(errs.ErrStorageWrite, "ledger.record", err).WithApplicant(id)
	}
	return nil
}

// MarkSent flips the sent flag of id. It never resets a flag already set.
func (r *LedgerSQLite) MarkSent(ctx context.Context, id string) error {
	const q = `UPDATE applicants SET sent = 1 WHERE id = ? AND sent = 0`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return errs.New(errs.ErrStorageWrite, "ledger.mark_sent", err).WithApplicant(id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.New(errs.ErrStorageWrite, "ledger.mark_sent", err).WithApplicant(id)
	}
	if n == 1 {
		return nil
	}

	// Nothing updated: tell a missing entry from one that was already sent.
	var sent bool
	err = r.db.QueryRowContext(ctx, `SELECT sent FROM applicants WHERE id = ?`, id).Scan(&sent)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return errs.New(errs.ErrStorageWrite, "ledger.mark_sent", repository.ErrNotFound).WithApplicant(id)
	case err != nil:
		return errs.New(errs.ErrStorageWrite, "ledger.mark_sent", err).WithApplicant(id)
	default:
		return errs.New(errs.ErrStorageWrite, "ledger.mark_sent", repository.ErrAlreadySent).WithApplicant(id)
	}
}

// List returns every ledger entry ordered by id.
func (r *LedgerSQLite) List(ctx context.Context) ([]model.LedgerEntry, error) {
	const q = `SELECT id, path, sent FROM applicants ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, errs.New(errs.ErrStorageUnavailable, "ledger.list", err)
	}
	defer rows.Close()

	items := make([]model.LedgerEntry, 0)
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.ID, &e.Path, &e.Sent); err != nil {
			return nil, errs.New(errs.ErrStorageUnavailable, "ledger.list", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.ErrStorageUnavailable, "ledger.list", err)
	}
	return items, nil
}

// Ping checks that the ledger file is reachable.
func (r *LedgerSQLite) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ledger ping: %w", err)
	}
	return nil
}

func isPrimaryKeyViolation(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
