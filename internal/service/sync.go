package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"resumesync/internal/config"
	"resumesync/internal/ctxlog"
	"resumesync/internal/errs"
	"resumesync/internal/metrics"
	"resumesync/internal/model"
	"resumesync/internal/repository"
)

// ErrRunInProgress is returned when a sync or dispatch is triggered while another one is running.
var ErrRunInProgress = errors.New("run already in progress")

// State is a stage of a sync run.
type State string

const (
	StateIdle               State = "idle"
	StateLoadingExemptions  State = "loading_exemptions"
	StateQueryingCandidates State = "querying_candidates"
	StateProcessing         State = "processing"
	StateDone               State = "done"
	StateAborted            State = "aborted"
)

// Record stages reported in RecordFailure.
const (
	StageFetch  = "fetch"
	StageCommit = "commit"
)

// RecordFailure describes one applicant record that could not be processed.
type RecordFailure struct {
	ApplicantID string `json:"applicant_id"`
	Stage       string `json:"stage"`
	Err         error  `json:"-"`
	Error       string `json:"error"`
}

// SyncResult is the outcome of one sync run.
type SyncResult struct {
	RunID      string          `json:"run_id"`
	State      State           `json:"state"`
	Fetched    int             `json:"fetched"`
	Skipped    int             `json:"skipped"`
	Failed     int             `json:"failed"`
	Failures   []RecordFailure `json:"failures"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// SyncRunner triggers sync runs.
type SyncRunner interface {
	Run(ctx context.Context) (*SyncResult, error)
}

var _ SyncRunner = (*SyncService)(nil)

// SyncService runs the incremental sync: load exemptions, query candidates,
// then fetch and commit each candidate in order.
type SyncService struct {
	ledger  repository.LedgerRepository
	source  repository.ApplicantSource
	fetcher Fetcher
	policy  string
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	mu sync.Mutex
}

// NewSyncService constructs a SyncService. policy is config.LedgerPolicyAbort or config.LedgerPolicyEmpty.
func NewSyncService(ledger repository.LedgerRepository, source repository.ApplicantSource, fetcher Fetcher, policy string, m *metrics.Metrics) *SyncService {
	return &SyncService{
		ledger:  ledger,
		source:  source,
		fetcher: fetcher,
		policy:  policy,
		metrics: m,
		tracer:  otel.Tracer("resumesync/service"),
		now:     time.Now,
	}
}

// Run executes one sync run. It returns ErrRunInProgress when another run holds the lock.
// A run-fatal failure returns the partial result in state StateAborted together with the error.
func (s *SyncService) Run(ctx context.Context) (*SyncResult, error) {
	if !s.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.mu.Unlock()

	res := &SyncResult{
		RunID:     uuid.NewString(),
		State:     StateIdle,
		Failures:  make([]RecordFailure, 0),
		StartedAt: s.now().UTC(),
	}
	logger := ctxlog.FromContext(ctx).With("run_id", res.RunID)
	ctx = ctxlog.WithLogger(ctx, logger)

	ctx, span := s.tracer.Start(ctx, "sync.run", trace.WithAttributes(attribute.String("run.id", res.RunID)))
	defer span.End()

	err := s.run(ctx, res)

	res.FinishedAt = s.now().UTC()
	outcome := metrics.OutcomeDone
	if err != nil {
		res.State = StateAborted
		outcome = metrics.OutcomeAborted
		span.RecordError(err)
		span.SetStatus(codes.Error, "sync aborted")
		logger.Error("sync_aborted",
			"fetched", res.Fetched,
			"skipped", res.Skipped,
			"failed", res.Failed,
			"error", err.Error(),
		)
	} else {
		res.State = StateDone
		logger.Info("sync_done",
			"fetched", res.Fetched,
			"skipped", res.Skipped,
			"failed", res.Failed,
			"duration_ms", res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
		)
	}
	span.SetAttributes(
		attribute.String("run.state", string(res.State)),
		attribute.Int("run.fetched", res.Fetched),
		attribute.Int("run.skipped", res.Skipped),
		attribute.Int("run.failed", res.Failed),
	)
	s.metrics.ObserveRun(outcome, res.FinishedAt.Sub(res.StartedAt))
	return res, err
}

func (s *SyncService) run(ctx context.Context, res *SyncResult) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("sync_start", "policy", s.policy)

	res.State = StateLoadingExemptions
	exempted, err := s.ledger.ListExemptedIDs(ctx)
	if err != nil {
		if s.policy != config.LedgerPolicyEmpty {
			return fmt.Errorf("load exemptions: %w", err)
		}
		logger.Warn("exemptions_unavailable_continuing_empty", "stage", string(StateLoadingExemptions), "error", err.Error())
		exempted = model.NewExemptionSet()
	}

	res.State = StateQueryingCandidates
	candidates, err := s.source.FetchNewApplicants(ctx, exempted)
	if err != nil {
		return fmt.Errorf("query candidates: %w", err)
	}
	logger.Info("candidates_loaded", "exempted", len(exempted), "candidates", len(candidates))

	res.State = StateProcessing
	handled := make(map[string]struct{}, len(candidates))
	for _, rec := range candidates {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sync interrupted: %w", err)
		}
		s.processRecord(ctx, rec, res, handled)
	}
	return nil
}

// processRecord fetches and commits one candidate. handled holds the ids already
// attempted in this run; a repeated id is skipped so it is never downloaded twice.
func (s *SyncService) processRecord(ctx context.Context, rec model.ApplicantRecord, res *SyncResult, handled map[string]struct{}) {
	logger := ctxlog.FromContext(ctx)

	if !rec.HasResume() {
		s.skip(ctx, res, rec.UserID, "no_resume")
		return
	}
	if _, dup := handled[rec.UserID]; dup {
		s.skip(ctx, res, rec.UserID, "duplicate_candidate")
		return
	}
	handled[rec.UserID] = struct{}{}

	ctx, span := s.tracer.Start(ctx, "sync.record", trace.WithAttributes(attribute.String("applicant.id", rec.UserID)))
	defer span.End()

	path, err := s.fetcher.FetchArtifact(ctx, rec)
	if err != nil {
		s.recordFailure(ctx, span, res, rec.UserID, StageFetch, err)
		return
	}

	if err := s.ledger.RecordProcessed(ctx, rec.UserID, path); err != nil {
		s.recordFailure(ctx, span, res, rec.UserID, StageCommit, err)
		// No artifact may stay in the directory without a ledger entry.
		if derr := s.fetcher.Discard(path); derr != nil {
			logger.Error("artifact_discard_failed", "applicant_id", rec.UserID, "path", path, "error", derr.Error())
		}
		return
	}

	res.Fetched++
	s.metrics.ObserveRecord(metrics.ResultFetched)
	logger.Info("record_fetched", "applicant_id", rec.UserID, "path", path)
}

func (s *SyncService) skip(ctx context.Context, res *SyncResult, id, reason string) {
	res.Skipped++
	s.metrics.ObserveRecord(metrics.ResultSkipped)
	ctxlog.FromContext(ctx).Debug("record_skipped", "applicant_id", id, "reason", reason)
}

func (s *SyncService) recordFailure(ctx context.Context, span trace.Span, res *SyncResult, id, stage string, err error) {
	res.Failed++
	res.Failures = append(res.Failures, RecordFailure{ApplicantID: id, Stage: stage, Err: err, Error: err.Error()})
	s.metrics.ObserveRecord(metrics.ResultFailed)

	span.RecordError(err)
	span.SetStatus(codes.Error, stage)

	kind := ""
	if k := errs.KindOf(err); k != nil {
		kind = k.Error()
	}
	ctxlog.FromContext(ctx).Error("record_failed",
		"applicant_id", id,
		"stage", stage,
		"kind", kind,
		"error", err.Error(),
	)
}
