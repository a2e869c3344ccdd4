package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-billy/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"resumesync/internal/ctxlog"
	"resumesync/internal/errs"
	"resumesync/internal/mail"
	"resumesync/internal/metrics"
	"resumesync/internal/repository"
)

// Sender delivers a notification message.
type Sender interface {
	Send(ctx context.Context, m mail.Message) error
}

// DispatchResult is the outcome of one dispatch.
type DispatchResult struct {
	Sent        bool     `json:"sent"`
	Attachments []string `json:"attachments"`
	MarkedSent  int      `json:"marked_sent"`
	MarkFailed  int      `json:"mark_failed"`
}

// DispatchRunner triggers dispatches.
type DispatchRunner interface {
	Dispatch(ctx context.Context) (*DispatchResult, error)
}

var _ DispatchRunner = (*Dispatcher)(nil)

// Dispatcher mails every artifact of the artifact directory in a single message.
type Dispatcher struct {
	fs       billy.Filesystem
	sender   Sender
	ledger   repository.LedgerRepository
	template mail.Message
	markSent bool
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	mu sync.Mutex
}

// NewDispatcher constructs a Dispatcher. template carries the fixed message fields.
// When markSent is true the ledger entries of attached artifacts are flagged sent after delivery.
func NewDispatcher(fs billy.Filesystem, sender Sender, ledger repository.LedgerRepository, template mail.Message, markSent bool, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		fs:       fs,
		sender:   sender,
		ledger:   ledger,
		template: template,
		markSent: markSent,
		metrics:  m,
		tracer:   otel.Tracer("resumesync/service"),
	}
}

// Dispatch sends one message with all artifacts attached. With no artifacts nothing is sent.
func (d *Dispatcher) Dispatch(ctx context.Context) (*DispatchResult, error) {
	if !d.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer d.mu.Unlock()

	ctx, span := d.tracer.Start(ctx, "dispatch")
	defer span.End()
	logger := ctxlog.FromContext(ctx)

	res, err := d.dispatch(ctx)
	if err != nil {
		d.metrics.ObserveDispatch(metrics.DispatchFailed, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		logger.Error("dispatch_failed", "stage", "dispatch", "error", err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("dispatch.attachments", len(res.Attachments)))
	if !res.Sent {
		d.metrics.ObserveDispatch(metrics.DispatchEmpty, 0)
		logger.Info("dispatch_skipped", "reason", "no_artifacts")
		return res, nil
	}
	d.metrics.ObserveDispatch(metrics.DispatchSent, len(res.Attachments))
	logger.Info("dispatch_sent",
		"attachments", len(res.Attachments),
		"marked_sent", res.MarkedSent,
		"mark_failed", res.MarkFailed,
	)
	return res, nil
}

func (d *Dispatcher) dispatch(ctx context.Context) (*DispatchResult, error) {
	names, err := d.listArtifacts()
	if err != nil {
		return nil, errs.New(errs.ErrDispatch, "dispatch.read_dir", err)
	}
	res := &DispatchResult{Attachments: names}
	if len(names) == 0 {
		return res, nil
	}

	opened := make([]billy.File, 0, len(names))
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()

	msg := d.template
	msg.Attachments = make([]mail.Attachment, 0, len(names))
	for _, name := range names {
		f, err := d.fs.Open(name)
		if err != nil {
			return nil, errs.New(errs.ErrDispatch, "dispatch.open", err)
		}
		opened = append(opened, f)

		contentType := ""
		if mt, err := mimetype.DetectReader(f); err == nil {
			contentType = mt.String()
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, errs.New(errs.ErrDispatch, "dispatch.open", err)
		}
		msg.Attachments = append(msg.Attachments, mail.Attachment{Name: name, ContentType: contentType, Content: f})
	}

	if err := d.sender.Send(ctx, msg); err != nil {
		return nil, errs.New(errs.ErrDispatch, "dispatch.send", err)
	}
	res.Sent = true

	if d.markSent && d.ledger != nil {
		d.markAttached(ctx, res)
	}
	return res, nil
}

// listArtifacts returns the regular, non-hidden files of the artifact directory sorted by name.
func (d *Dispatcher) listArtifacts() ([]string, error) {
	infos, err := d.fs.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("read artifact dir: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		if !fi.Mode().IsRegular() || strings.HasPrefix(fi.Name(), ".") {
			continue
		}
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names, nil
}

// markAttached flags the ledger entries of attached artifacts as sent. Failures are counted, never returned.
func (d *Dispatcher) markAttached(ctx context.Context, res *DispatchResult) {
	logger := ctxlog.FromContext(ctx)

	entries, err := d.ledger.List(ctx)
	if err != nil {
		res.MarkFailed = len(res.Attachments)
		logger.Error("mark_sent_failed", "stage", "mark_sent", "error", err.Error())
		return
	}
	byPath := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.Sent {
			byPath[e.Path] = e.ID
		}
	}

	for _, name := range res.Attachments {
		id, ok := byPath[name]
		if !ok {
			continue
		}
		if err := d.ledger.MarkSent(ctx, id); err != nil {
			res.MarkFailed++
			logger.Error("mark_sent_failed", "applicant_id", id, "stage", "mark_sent", "error", err.Error())
			continue
		}
		res.MarkedSent++
	}
}
