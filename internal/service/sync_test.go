package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"resumesync/internal/config"
	"resumesync/internal/ctxlog"
	"resumesync/internal/database"
	"resumesync/internal/database/migration"
	"resumesync/internal/errs"
	"resumesync/internal/metrics"
	"resumesync/internal/model"
	repoMocks "resumesync/internal/repository/mocks"
	"resumesync/internal/repository/sqlite"
	"resumesync/internal/storage"
	storeMocks "resumesync/internal/storage/mocks"
)

func quietCtx() context.Context {
	return ctxlog.WithLogger(context.Background(), slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)))
}

func TestSyncService_Run(t *testing.T) {
	ctx := quietCtx()
	john := model.ApplicantRecord{UserID: "2", ResumeFile: "c/d.docx", GivenName: "John", AdditionalName: "Q", FamilyName: "Public"}
	noResume := model.ApplicantRecord{UserID: "3", GivenName: "Ann", FamilyName: "Lee"}

	t.Run("fetches and commits new applicants", func(t *testing.T) {
		ledger := new(repoMocks.MockLedgerRepository)
		source := new(repoMocks.MockApplicantSource)
		fetcher := new(mockFetcher)

		ledger.On("ListExemptedIDs", mock.Anything).Return(model.NewExemptionSet(), nil)
		source.On("FetchNewApplicants", mock.Anything, model.NewExemptionSet()).Return([]model.ApplicantRecord{jane, john}, nil)
		fetcher.On("FetchArtifact", mock.Anything, jane).Return("Jane  Doe.pdf", nil)
		fetcher.On("FetchArtifact", mock.Anything, john).Return("John Q Public.docx", nil)
		ledger.On("RecordProcessed", mock.Anything, "1", "Jane  Doe.pdf").Return(nil)
		ledger.On("RecordProcessed", mock.Anything, "2", "John Q Public.docx").Return(nil)

		res, err := NewSyncService(ledger, source, fetcher, config.LedgerPolicyAbort, nil).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, StateDone, res.State)
		assert.Equal(t, 2, res.Fetched)
		assert.Zero(t, res.Failed)
		assert.NotEmpty(t, res.RunID)
		assert.Empty(t, res.Failures)
		ledger.AssertExpectations(t)
		fetcher.AssertExpectations(t)
	})

	t.Run("record without resume is skipped without side effects", func(t *testing.T) {
		ledger := new(repoMocks.MockLedgerRepository)
		source := new(repoMocks.MockApplicantSource)
		fetcher := new(mockFetcher)

		ledger.On("ListExemptedIDs", mock.Anything).Return(model.NewExemptionSet(), nil)
		source.On("FetchNewApplicants", mock.Anything, mock.Anything).Return([]model.ApplicantRecord{noResume}, nil)

		res, err := NewSyncService(ledger, source, fetcher, config.LedgerPolicyAbort, nil).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Skipped)
		assert.Zero(t, res.Fetched)
		fetcher.AssertNotCalled(t, "FetchArtifact", mock.Anything, mock.Anything)
		ledger.AssertNotCalled(t, "RecordProcessed", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("failed fetch does not stop later records", func(t *testing.T) {
		ledger := new(repoMocks.MockLedgerRepository)
		source := new(repoMocks.MockApplicantSource)
		fetcher := new(mockFetcher)

		fetchErr := errs.New(errs.ErrDownload, "fetch.download", errors.New("NoSuchKey")).WithApplicant("1")
		ledger.On("ListExemptedIDs", mock.Anything).Return(model.NewExemptionSet(), nil)
		source.On("FetchNewApplicants", mock.Anything, mock.Anything).Return([]model.ApplicantRecord{jane, john}, nil)
		fetcher.On("FetchArtifact", mock.Anything, jane).Return("", fetchErr)
		fetcher.On("FetchArtifact", mock.Anything, john).Return("John Q Public.docx", nil)
		ledger.On("RecordProcessed", mock.Anything, "2", "John Q Public.docx").Return(nil)

		res, err := NewSyncService(ledger, source, fetcher, config.LedgerPolicyAbort, nil).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, StateDone, res.State)
		assert.Equal(t, 1, res.Fetched)
		assert.Equal(t, 1, res.Failed)
		require.Len(t, res.Failures, 1)
		assert.Equal(t, "1", res.Failures[0].ApplicantID)
		assert.Equal(t, StageFetch, res.Failures[0].Stage)
		assert.ErrorIs(t, res.Failures[0].Err, errs.ErrDownload)
		ledger.AssertNotCalled(t, "RecordProcessed", mock.Anything, "1", mock.Anything)
	})

	t.Run("commit failure is recorded and the artifact discarded", func(t *testing.T) {
		ledger := new(repoMocks.MockLedgerRepository)
		source := new(repoMocks.MockApplicantSource)
		fetcher := new(mockFetcher)

		ledger.On("ListExemptedIDs", mock.Anything).Return(model.NewExemptionSet(), nil)
		source.On("FetchNewApplicants", mock.Anything, mock.Anything).Return([]model.ApplicantRecord{jane}, nil)
		fetcher.On("FetchArtifact", mock.Anything, jane).Return("Jane  Doe.pdf", nil)
		fetcher.On("Discard", "Jane  Doe.pdf").Return(nil).Once()
		ledger.On("RecordProcessed", mock.Anything, "1", "Jane  Doe.pdf").
			Return(errs.New(errs.ErrDuplicateEntry, "ledger.record", errors.New("UNIQUE constraint failed")))

		res, err := NewSyncService(ledger, source, fetcher, config.LedgerPolicyAbort, nil).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)
		assert.Equal(t, StageCommit, res.Failures[0].Stage)
		assert.ErrorIs(t, res.Failures[0].Err, errs.ErrDuplicateEntry)
		fetcher.AssertExpectations(t)
	})

	t.Run("discard failure keeps the commit failure", func(t *testing.T) {
		ledger := new(repoMocks.MockLedgerRepository)
		source := new(repoMocks.MockApplicantSource)
		fetcher := new(mockFetcher)

		ledger.On("ListExemptedIDs", mock.Anything).Return(model.NewExemptionSet(), nil)
		source.On("FetchNewApplicants", mock.Anything, mock.Anything).Return([]model.ApplicantRecord{jane}, nil)
		fetcher.On("FetchArtifact", mock.Anything, jane).Return("Jane  Doe.pdf", nil)
		fetcher.On("Discard", "Jane  Doe.pdf").Return(errors.New("permission denied"))
		ledger.On("RecordProcessed", mock.Anything, "1", "Jane  Doe.pdf").
			Return(errs.New(errs.ErrStorageWrite, "ledger.record", errors.New("disk I/O error")))

		res, err := NewSyncService(ledger, source, fetcher, config.LedgerPolicyAbort, nil).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, StateDone, res.State)
		require.Len(t, res.Failures, 1)
		assert.ErrorIs(t, res.Failures[0].Err, errs.ErrStorageWrite)
	})

	t.Run("repeated candidate id is fetched once", func(t *testing.T) {
		ledger := new(repoMocks.MockLedgerRepository)
		source := new(repoMocks.MockApplicantSource)
		fetcher := new(mockFetcher)

		ledger.On("ListExemptedIDs", mock.Anything).Return(model.NewExemptionSet(), nil)
		source.On("FetchNewApplicants", mock.Anything, mock.Anything).Return([]model.ApplicantRecord{jane, john, jane}, nil)
		fetcher.On("FetchArtifact", mock.Anything, jane).Return("Jane  Doe.pdf", nil).Once()
		fetcher.On("FetchArtifact", mock.Anything, john).Return("John Q Public.docx", nil).Once()
		ledger.On("RecordProcessed", mock.Anything, "1", "Jane  Doe.pdf").Return(nil).Once()
		ledger.On("RecordProcessed", mock.Anything, "2", "John Q Public.docx").Return(nil).Once()

		res, err := NewSyncService(ledger, source, fetcher, config.LedgerPolicyAbort, nil).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Fetched)
		assert.Equal(t, 1, res.Skipped)
		assert.Zero(t, res.Failed)
		fetcher.AssertNumberOfCalls(t, "FetchArtifact", 2)
		ledger.AssertExpectations(t)
	})

	t.Run("repeated id after a failed fetch is not retried in the same run", func(t *testing.T) {
		ledger := new(repoMocks.MockLedgerRepository)
		source := new(repoMocks.MockApplicantSource)
		fetcher := new(mockFetcher)

		fetchErr := errs.New(errs.ErrDownload, "fetch.download", errors.New("timeout")).WithApplicant("1")
		ledger.On("ListExemptedIDs", mock.Anything).Return(model.NewExemptionSet(), nil)
		source.On("FetchNewApplicants", mock.Anything, mock.Anything).Return([]model.ApplicantRecord{jane, jane}, nil)
		fetcher.On("FetchArtifact", mock.Anything, jane).Return("", fetchErr).Once()

		res, err := NewSyncService(ledger, source, fetcher, config.LedgerPolicyAbort, nil).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)
		assert.Equal(t, 1, res.Skipped)
		fetcher.AssertNumberOfCalls(t, "FetchArtifact", 1)
	})

	t.Run("ledger failure aborts with abort policy", func(t *testing.T) {
		ledger := new(repoMocks.MockLedgerRepository)
		source := new(repoMocks.MockApplicantSource)

		ledger.On("ListExemptedIDs", mock.Anything).
			Return(nil, errs.New(errs.ErrStorageUnavailable, "ledger.list_exempted", errors.New("unable to open database file")))

		res, err := NewSyncService(ledger, source, new(mockFetcher), config.LedgerPolicyAbort, nil).Run(ctx)
		assert.ErrorIs(t, err, errs.ErrStorageUnavailable)
		require.NotNil(t, res)
		assert.Equal(t, StateAborted, res.State)
		source.AssertNotCalled(t, "FetchNewApplicants", mock.Anything, mock.Anything)
	})

	t.Run("ledger failure continues empty with empty policy", func(t *testing.T) {
		ledger := new(repoMocks.MockLedgerRepository)
		source := new(repoMocks.MockApplicantSource)

		ledger.On("ListExemptedIDs", mock.Anything).
			Return(nil, errs.New(errs.ErrStorageUnavailable, "ledger.list_exempted", errors.New("locked")))
		source.On("FetchNewApplicants", mock.Anything, model.NewExemptionSet()).Return([]model.ApplicantRecord{}, nil)

		res, err := NewSyncService(ledger, source, new(mockFetcher), config.LedgerPolicyEmpty, nil).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, StateDone, res.State)
		source.AssertExpectations(t)
	})

	t.Run("source failure aborts", func(t *testing.T) {
		ledger := new(repoMocks.MockLedgerRepository)
		source := new(repoMocks.MockApplicantSource)

		ledger.On("ListExemptedIDs", mock.Anything).Return(model.NewExemptionSet("1"), nil)
		source.On("FetchNewApplicants", mock.Anything, model.NewExemptionSet("1")).
			Return(nil, errs.New(errs.ErrSourceUnavailable, "source.query", errors.New("connection refused")))

		res, err := NewSyncService(ledger, source, new(mockFetcher), config.LedgerPolicyAbort, nil).Run(ctx)
		assert.ErrorIs(t, err, errs.ErrSourceUnavailable)
		assert.Equal(t, StateAborted, res.State)
	})

	t.Run("cancellation stops before the next record", func(t *testing.T) {
		ledger := new(repoMocks.MockLedgerRepository)
		source := new(repoMocks.MockApplicantSource)
		fetcher := new(mockFetcher)

		cctx, cancel := context.WithCancel(ctx)
		ledger.On("ListExemptedIDs", mock.Anything).Return(model.NewExemptionSet(), nil)
		source.On("FetchNewApplicants", mock.Anything, mock.Anything).Return([]model.ApplicantRecord{jane, john}, nil)
		fetcher.On("FetchArtifact", mock.Anything, jane).Return("Jane  Doe.pdf", nil)
		ledger.On("RecordProcessed", mock.Anything, "1", "Jane  Doe.pdf").Run(func(mock.Arguments) { cancel() }).Return(nil)

		res, err := NewSyncService(ledger, source, fetcher, config.LedgerPolicyAbort, nil).Run(cctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, StateAborted, res.State)
		assert.Equal(t, 1, res.Fetched)
		fetcher.AssertNotCalled(t, "FetchArtifact", mock.Anything, john)
	})

	t.Run("concurrent run is rejected", func(t *testing.T) {
		s := NewSyncService(new(repoMocks.MockLedgerRepository), new(repoMocks.MockApplicantSource), new(mockFetcher), config.LedgerPolicyAbort, nil)
		s.mu.Lock()
		defer s.mu.Unlock()

		res, err := s.Run(ctx)
		assert.ErrorIs(t, err, ErrRunInProgress)
		assert.Nil(t, res)
	})

	t.Run("metrics are recorded", func(t *testing.T) {
		ledger := new(repoMocks.MockLedgerRepository)
		source := new(repoMocks.MockApplicantSource)
		ledger.On("ListExemptedIDs", mock.Anything).Return(model.NewExemptionSet(), nil)
		source.On("FetchNewApplicants", mock.Anything, mock.Anything).Return([]model.ApplicantRecord{noResume}, nil)

		reg := prometheus.NewRegistry()
		m, err := metrics.New(reg)
		require.NoError(t, err)

		_, err = NewSyncService(ledger, source, new(mockFetcher), config.LedgerPolicyAbort, m).Run(ctx)
		require.NoError(t, err)

		families, err := reg.Gather()
		require.NoError(t, err)
		names := make([]string, 0, len(families))
		for _, f := range families {
			names = append(names, f.GetName())
		}
		assert.Contains(t, names, "resumesync_runs_total")
		assert.Contains(t, names, "resumesync_records_total")
	})
}

// memorySource serves a fixed dataset and honours the exemption set like the SQL reader.
type memorySource struct {
	records []model.ApplicantRecord
}

func (s *memorySource) FetchNewApplicants(_ context.Context, exempted model.ExemptionSet) ([]model.ApplicantRecord, error) {
	out := make([]model.ApplicantRecord, 0, len(s.records))
	for _, r := range s.records {
		if r.HasResume() && !exempted.Contains(r.UserID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestSyncService_IdempotentAcrossRuns(t *testing.T) {
	ctx := quietCtx()

	ledger := newSQLiteLedger(t, ctx)

	fs := memfs.New()
	st := new(storeMocks.MockStorage)
	st.On("Get", mock.Anything, "a/b.pdf").Return(func(context.Context, string) io.ReadCloser {
		return body(pdfBody)
	}, storage.ObjectInfo{}, nil)

	source := &memorySource{records: []model.ApplicantRecord{jane}}
	svc := NewSyncService(ledger, source, NewArtifactFetcher(fs, st, testSyncConfig), config.LedgerPolicyAbort, nil)

	first, err := svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Fetched)

	second, err := svc.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Fetched)
	assert.Zero(t, second.Failed)

	st.AssertNumberOfCalls(t, "Get", 1)

	entries, err := ledger.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.LedgerEntry{{ID: "1", Path: "Jane  Doe.pdf", Sent: false}}, entries)

	got, err := util.ReadFile(fs, "Jane  Doe.pdf")
	require.NoError(t, err)
	assert.Equal(t, pdfBody, string(got))
}

func newSQLiteLedger(t *testing.T, ctx context.Context) *sqlite.LedgerSQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := database.NewLedger(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migration.EnsureMigrated(ctx, db, ctxlog.FromContext(ctx), path))
	return sqlite.NewLedgerSQLite(db)
}

func TestSyncService_DuplicateSourceRows(t *testing.T) {
	ctx := quietCtx()
	ledger := newSQLiteLedger(t, ctx)

	fs := memfs.New()
	st := new(storeMocks.MockStorage)
	st.On("Get", mock.Anything, "a/b.pdf").Return(func(context.Context, string) io.ReadCloser {
		return body(pdfBody)
	}, storage.ObjectInfo{}, nil)

	// A LEFT JOIN with two personal_info rows yields the same applicant twice.
	source := &memorySource{records: []model.ApplicantRecord{jane, jane}}
	res, err := NewSyncService(ledger, source, NewArtifactFetcher(fs, st, testSyncConfig), config.LedgerPolicyAbort, nil).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Failed)
	assert.Empty(t, res.Failures)
	st.AssertNumberOfCalls(t, "Get", 1)
	assert.Equal(t, []string{"Jane  Doe.pdf"}, listNames(t, fs))

	entries, err := ledger.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.LedgerEntry{{ID: "1", Path: "Jane  Doe.pdf", Sent: false}}, entries)
}

func TestSyncService_CommitFailureLeavesNoArtifact(t *testing.T) {
	ctx := quietCtx()

	fs := memfs.New()
	st := new(storeMocks.MockStorage)
	st.On("Get", mock.Anything, "a/b.pdf").Return(body(pdfBody), storage.ObjectInfo{}, nil).Once()

	ledger := new(repoMocks.MockLedgerRepository)
	ledger.On("ListExemptedIDs", mock.Anything).Return(model.NewExemptionSet(), nil)
	ledger.On("RecordProcessed", mock.Anything, "1", "Jane  Doe.pdf").
		Return(errs.New(errs.ErrStorageWrite, "ledger.record", errors.New("database is locked")).WithApplicant("1"))

	source := &memorySource{records: []model.ApplicantRecord{jane}}
	res, err := NewSyncService(ledger, source, NewArtifactFetcher(fs, st, testSyncConfig), config.LedgerPolicyAbort, nil).Run(ctx)
	require.NoError(t, err)

	assert.Zero(t, res.Fetched)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, StageCommit, res.Failures[0].Stage)
	assert.Empty(t, listNames(t, fs))
}
