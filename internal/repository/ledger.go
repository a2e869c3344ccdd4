package repository

import (
	"context"
	"errors"

	"resumesync/internal/model"
)

var (
	// ErrNotFound is returned when a ledger entry does not exist.
	ErrNotFound = errors.New("ledger entry not found")
	// ErrAlreadySent is returned when the sent flag of an entry has already been set.
	ErrAlreadySent = errors.New("ledger entry already sent")
)

// LedgerRepository is the durable exemption ledger.
// It is the only persistence owned by the sync pipeline.
type LedgerRepository interface {
	// ListExemptedIDs returns every recorded applicant id.
	// Failures carry errs.ErrStorageUnavailable.
	ListExemptedIDs(ctx context.Context) (model.ExemptionSet, error)

	// RecordProcessed inserts a new entry with sent = false.
	// An existing id fails with errs.ErrDuplicateEntry, other failures with errs.ErrStorageWrite.
	RecordProcessed(ctx context.Context, id, path string) error

	// MarkSent flips the sent flag of an entry from false to true.
	// Unknown ids wrap ErrNotFound, already-sent ids wrap ErrAlreadySent; both carry errs.ErrStorageWrite.
	MarkSent(ctx context.Context, id string) error

	// List returns all entries ordered by id.
	List(ctx context.Context) ([]model.LedgerEntry, error)
}
