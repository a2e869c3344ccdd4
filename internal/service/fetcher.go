package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-billy/v5"

	"resumesync/internal/config"
	"resumesync/internal/ctxlog"
	"resumesync/internal/errs"
	"resumesync/internal/model"
	"resumesync/internal/storage"
)

// TempFilePrefix marks in-progress downloads in the artifact directory.
// Files starting with a dot are never dispatched.
const TempFilePrefix = ".download-"

// Fetcher retrieves the resume artifact of an applicant into the artifact directory.
type Fetcher interface {
	// FetchArtifact downloads the resume of rec and returns its path relative to the artifact directory.
	FetchArtifact(ctx context.Context, rec model.ApplicantRecord) (string, error)
	// Discard removes an artifact returned by FetchArtifact that could not be recorded.
	Discard(path string) error
}

// ArtifactFetcher downloads resumes from object storage into a billy filesystem rooted at the artifact directory.
type ArtifactFetcher struct {
	fs             billy.Filesystem
	store          storage.Storage
	timeout        time.Duration
	maxAttempts    uint
	initialBackoff time.Duration
}

// NewArtifactFetcher constructs an ArtifactFetcher.
func NewArtifactFetcher(fs billy.Filesystem, store storage.Storage, cfg config.SyncConfig) *ArtifactFetcher {
	attempts := cfg.DownloadMaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &ArtifactFetcher{
		fs:             fs,
		store:          store,
		timeout:        cfg.DownloadTimeout,
		maxAttempts:    uint(attempts),
		initialBackoff: cfg.RetryInitialBackoff,
	}
}

var _ Fetcher = (*ArtifactFetcher)(nil)

// ArtifactName returns "{given} {additional} {family}.{ext}" for rec.
// The extension is everything after the last dot of the resume key, or the whole key when it has none.
func ArtifactName(rec model.ApplicantRecord) string {
	return fmt.Sprintf("%s %s %s.%s",
		sanitizeNamePart(rec.GivenName),
		sanitizeNamePart(rec.AdditionalName),
		sanitizeNamePart(rec.FamilyName),
		artifactExt(rec.ResumeFile),
	)
}

// collisionName is used when ArtifactName is already taken by another file.
// n > 1 disambiguates further when the id-suffixed name is taken too.
func collisionName(rec model.ApplicantRecord, n int) string {
	suffix := sanitizeNamePart(rec.UserID)
	if n > 1 {
		suffix = fmt.Sprintf("%s-%d", suffix, n)
	}
	return fmt.Sprintf("%s %s %s (%s).%s",
		sanitizeNamePart(rec.GivenName),
		sanitizeNamePart(rec.AdditionalName),
		sanitizeNamePart(rec.FamilyName),
		suffix,
		artifactExt(rec.ResumeFile),
	)
}

// maxCollisionSuffix bounds the search for a free artifact name.
const maxCollisionSuffix = 100

func artifactExt(key string) string {
	ext := key
	if i := strings.LastIndex(key, "."); i >= 0 {
		ext = key[i+1:]
	}
	return sanitizeNamePart(ext)
}

var namePartReplacer = strings.NewReplacer("/", "_", "\\", "_", "\x00", "")

func sanitizeNamePart(s string) string {
	return namePartReplacer.Replace(s)
}

// FetchArtifact downloads the resume of rec. Transient failures are retried with
// exponential backoff; a missing object is not retried. On any failure no file is
// left at the target path.
func (f *ArtifactFetcher) FetchArtifact(ctx context.Context, rec model.ApplicantRecord) (string, error) {
	logger := ctxlog.FromContext(ctx)

	name, err := f.freeName(rec)
	if err != nil {
		return "", errs.New(errs.ErrDownload, "fetch.stat", err).WithApplicant(rec.UserID)
	}
	if primary := ArtifactName(rec); name != primary {
		logger.Warn("artifact_name_collision", "applicant_id", rec.UserID, "path", primary, "renamed_to", name)
	}

	eb := backoff.NewExponentialBackOff()
	if f.initialBackoff > 0 {
		eb.InitialInterval = f.initialBackoff
	}

	attempt := 0
	tmpName, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		tmp, err := f.download(ctx, rec.ResumeFile)
		if errors.Is(err, storage.ErrObjectNotFound) {
			return "", backoff.Permanent(err)
		}
		return tmp, err
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(f.maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("download_retry",
				"applicant_id", rec.UserID,
				"key", rec.ResumeFile,
				"attempt", attempt,
				"next_in", next.String(),
				"error", err.Error(),
			)
		}),
	)
	if err != nil {
		return "", errs.New(errs.ErrDownload, "fetch.download", err).WithApplicant(rec.UserID)
	}

	contentType := f.detect(tmpName)
	if _, err := f.fs.Stat(name); err == nil {
		// Taken while downloading.
		if name, err = f.freeName(rec); err != nil {
			_ = f.fs.Remove(tmpName)
			return "", errs.New(errs.ErrDownload, "fetch.rename", err).WithApplicant(rec.UserID)
		}
	}
	if err := f.fs.Rename(tmpName, name); err != nil {
		_ = f.fs.Remove(tmpName)
		return "", errs.New(errs.ErrDownload, "fetch.rename", err).WithApplicant(rec.UserID)
	}

	logger.Debug("artifact_fetched",
		"applicant_id", rec.UserID,
		"path", name,
		"content_type", contentType,
		"attempts", attempt,
	)
	return name, nil
}

// freeName returns the first artifact name for rec that no file uses yet.
// Existing files are never overwritten.
func (f *ArtifactFetcher) freeName(rec model.ApplicantRecord) (string, error) {
	candidates := []string{ArtifactName(rec)}
	for n := 1; n <= maxCollisionSuffix; n++ {
		candidates = append(candidates, collisionName(rec, n))
	}
	for _, name := range candidates {
		_, err := f.fs.Stat(name)
		if errors.Is(err, os.ErrNotExist) {
			return name, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free artifact name for %q", ArtifactName(rec))
}

// Discard removes path from the artifact directory. A missing file is not an error.
func (f *ArtifactFetcher) Discard(path string) error {
	if err := f.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("discard artifact %q: %w", path, err)
	}
	return nil
}

// download copies one object into a fresh temporary file and returns its name.
// The temporary file is removed when the copy fails.
func (f *ArtifactFetcher) download(ctx context.Context, key string) (string, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	rc, _, err := f.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	tmp, err := f.fs.TempFile(".", TempFilePrefix)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		_ = f.fs.Remove(tmpName)
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = f.fs.Remove(tmpName)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tmpName, nil
}

func (f *ArtifactFetcher) detect(name string) string {
	file, err := f.fs.Open(name)
	if err != nil {
		return ""
	}
	defer file.Close()

	mt, err := mimetype.DetectReader(file)
	if err != nil {
		return ""
	}
	return mt.String()
}
