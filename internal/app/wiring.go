package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"resumesync/internal/ctxlog"
	"resumesync/internal/database"
	"resumesync/internal/database/migration"
	"resumesync/internal/errs"
	"resumesync/internal/mail"
	"resumesync/internal/repository"
	"resumesync/internal/repository/source"
	"resumesync/internal/repository/sqlite"
	"resumesync/internal/service"
	"resumesync/internal/storage"
)

// syncDeps are the connections of one sync run, released by Close.
type syncDeps struct {
	ledger   *sqlite.LedgerSQLite
	ledgerDB *sql.DB
	source   repository.ApplicantSource
	sourceDB *sql.DB
	fetcher  service.Fetcher
}

func (d *syncDeps) Close() {
	if d.sourceDB != nil {
		d.sourceDB.Close()
	}
	if d.ledgerDB != nil {
		d.ledgerDB.Close()
	}
}

func (a *App) openSyncDeps(ctx context.Context) (*syncDeps, error) {
	deps := &syncDeps{}

	ledger, ledgerDB, err := a.openLedger(ctx)
	if err != nil {
		return nil, err
	}
	deps.ledger, deps.ledgerDB = ledger, ledgerDB

	srcDB, err := database.NewSource(a.cfg.Source)
	if err != nil {
		deps.Close()
		return nil, errs.New(errs.ErrSourceUnavailable, "source.open", err)
	}
	deps.sourceDB = srcDB
	deps.source = source.NewApplicantSQL(srcDB, source.DialectFor(a.cfg.Source.Driver), a.cfg.Source.QueryTimeout)

	store, err := storage.New(ctx, a.cfg.Storage)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	fs, err := a.artifactFS()
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.fetcher = service.NewArtifactFetcher(fs, store, a.cfg.Sync)
	return deps, nil
}

// openLedger opens and migrates the ledger file.
func (a *App) openLedger(ctx context.Context) (*sqlite.LedgerSQLite, *sql.DB, error) {
	db, err := database.NewLedger(a.cfg.Ledger.Path)
	if err != nil {
		return nil, nil, errs.New(errs.ErrStorageUnavailable, "ledger.open", err)
	}
	if err := migration.EnsureMigrated(ctx, db, ctxlog.FromContext(ctx), a.cfg.Ledger.Path); err != nil {
		db.Close()
		return nil, nil, errs.New(errs.ErrStorageUnavailable, "ledger.migrate", err)
	}
	return sqlite.NewLedgerSQLite(db), db, nil
}

// artifactFS returns the artifact directory as a billy filesystem, creating it when missing.
func (a *App) artifactFS() (billy.Filesystem, error) {
	dir := a.cfg.Artifacts.Dir
	if dir == "" {
		return nil, errors.New("artifact directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return osfs.New(dir), nil
}

// openDispatcher builds the Dispatcher. The ledger is opened only when mark-sent is enabled.
func (a *App) openDispatcher(ctx context.Context) (*service.Dispatcher, func(), error) {
	closeFn := func() {}

	fs, err := a.artifactFS()
	if err != nil {
		return nil, closeFn, err
	}
	sender, err := mail.NewSMTPSender(a.cfg.Mail)
	if err != nil {
		return nil, closeFn, err
	}

	var ledger repository.LedgerRepository
	if a.cfg.Mail.MarkSent {
		l, db, err := a.openLedger(ctx)
		if err != nil {
			return nil, closeFn, err
		}
		ledger = l
		closeFn = func() { db.Close() }
	}

	return service.NewDispatcher(fs, sender, ledger, a.mailTemplate(), a.cfg.Mail.MarkSent, a.metrics), closeFn, nil
}
