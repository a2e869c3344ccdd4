package model

// ApplicantRecord is one row of the remote applicant dataset.
// It is read-only and produced fresh on every sync run; the pipeline never persists it.
type ApplicantRecord struct {
	UserID         string `json:"user_id"`
	ResumeFile     string `json:"resume_file"`
	GivenName      string `json:"given_name"`
	AdditionalName string `json:"additional_name"`
	FamilyName     string `json:"family_name"`
}

// HasResume reports whether the record references a remote resume artifact.
func (r ApplicantRecord) HasResume() bool {
	return r.ResumeFile != ""
}
