package repository

import (
	"context"

	"resumesync/internal/model"
)

// ApplicantSource reads the remote applicant dataset.
type ApplicantSource interface {
	// FetchNewApplicants returns the applicants with a non-empty resume reference
	// whose id is not in exempted. Failures carry errs.ErrSourceUnavailable.
	FetchNewApplicants(ctx context.Context, exempted model.ExemptionSet) ([]model.ApplicantRecord, error)
}
