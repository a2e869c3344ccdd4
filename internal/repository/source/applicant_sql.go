package source

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"resumesync/internal/errs"
	"resumesync/internal/model"
	"resumesync/internal/repository"
)

// Dialect adapts the applicant query to the source database engine.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// DialectFor maps a configured driver name to its query dialect.
func DialectFor(driver string) Dialect {
	if driver == "mysql" {
		return DialectMySQL
	}
	return DialectPostgres
}

func (d Dialect) placeholder(n int) string {
	if d == DialectMySQL {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// idText renders the id column as text so integer and string ids compare the same way.
func (d Dialect) idText() string {
	if d == DialectMySQL {
		return "CAST(app.user_id AS CHAR)"
	}
	return "CAST(app.user_id AS TEXT)"
}

// maxIDsPerClause keeps each NOT IN list well below driver parameter limits.
const maxIDsPerClause = 1000

const baseQuery = `SELECT app.user_id, app.resume_file, pi.given_name, pi.additional_name, pi.family_name
FROM applications AS app
LEFT JOIN personal_info AS pi ON pi.user_id = app.user_id
WHERE app.resume_file > ''`

// ApplicantSQL is a database/sql implementation of repository.ApplicantSource.
type ApplicantSQL struct {
	db           *sql.DB
	dialect      Dialect
	queryTimeout time.Duration
}

// NewApplicantSQL creates a new ApplicantSQL reader. A zero timeout disables the query deadline.
func NewApplicantSQL(db *sql.DB, dialect Dialect, queryTimeout time.Duration) *ApplicantSQL {
	return &ApplicantSQL{db: db, dialect: dialect, queryTimeout: queryTimeout}
}

var _ repository.ApplicantSource = (*ApplicantSQL)(nil)

// BuildQuery returns the applicant query excluding the given ids and its bound arguments.
// With no ids the query carries no exclusion clause.
func (s *ApplicantSQL) BuildQuery(exempted model.ExemptionSet) (string, []any) {
	ids := exempted.IDs()
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString(baseQuery)
	args := make([]any, 0, len(ids))
	for start := 0; start < len(ids); start += maxIDsPerClause {
		end := min(start+maxIDsPerClause, len(ids))
		b.WriteString(" AND ")
		b.WriteString(s.dialect.idText())
		b.WriteString(" NOT IN (")
		for i, id := range ids[start:end] {
			if i > 0 {
				b.WriteString(", ")
			}
			args = append(args, id)
			b.WriteString(s.dialect.placeholder(len(args)))
		}
		b.WriteString(")")
	}
	return b.String(), args
}

// FetchNewApplicants returns applicants with a resume whose id is not exempted, in source order.
func (s *ApplicantSQL) FetchNewApplicants(ctx context.Context, exempted model.ExemptionSet) ([]model.ApplicantRecord, error) {
	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	q, args := s.BuildQuery(exempted)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errs.New(errs.ErrSourceUnavailable, "source.query", err)
	}
	defer rows.Close()

	items := make([]model.ApplicantRecord, 0)
	for rows.Next() {
		var (
			id, resume                    sql.NullString
			given, additional, familyName sql.NullString
		)
		if err := rows.Scan(&id, &resume, &given, &additional, &familyName); err != nil {
			return nil, errs.New(errs.ErrSourceUnavailable, "source.scan", err)
		}
		// The exclusion already happened in SQL; ids are checked again so a
		// textual mismatch can never re-admit a processed applicant.
		if exempted.Contains(id.String) {
			continue
		}
		items = append(items, model.ApplicantRecord{
			UserID:         id.String,
			ResumeFile:     resume.String,
			GivenName:      given.String,
			AdditionalName: additional.String,
			FamilyName:     familyName.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.ErrSourceUnavailable, "source.rows", err)
	}
	return items, nil
}
