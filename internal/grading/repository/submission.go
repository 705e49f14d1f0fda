package repository

import (
	"context"
	"errors"
	"time"

	"judgeflow/internal/common/db"
	"judgeflow/internal/grading/model"
	appErr "judgeflow/pkg/errors"
)

// attemptKey is the unique index on (user_id, sheet_id, problem_id, attempt_number).
const attemptKey = "uk_submissions_user_problem_attempt"

// SubmissionRepository stores graded submissions and answers history queries.
type SubmissionRepository interface {
	Create(ctx context.Context, tx db.Transaction, submission *model.Submission) error
	ExistsBySourceHash(ctx context.Context, userID int64, ref model.ProblemRef, sourceHash string) (bool, error)
	CountByUserProblem(ctx context.Context, userID int64, ref model.ProblemRef) (int, error)
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	db db.Database
}

// NewSubmissionRepository creates a submission repository.
func NewSubmissionRepository(database db.Database) *MySQLSubmissionRepository {
	return &MySQLSubmissionRepository{db: database}
}

// Create inserts a submission. A clash on the attempt number surfaces as RecordAlreadyExists.
// A clash on the primary key means an earlier retry already stored this row.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, tx db.Transaction, s *model.Submission) error {
	if err := validateSubmission(s); err != nil {
		return err
	}

	query := `
		INSERT INTO submissions
		(id, user_id, sheet_id, problem_id, language_id, source_code, source_hash, verdict,
		 total_time_ms, max_memory_kb, tests_passed, total_tests, compile_error, runtime_error,
		 attempt_number, tab_switches, paste_events, time_to_solve_seconds, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		s.ID,
		s.UserID,
		s.Problem.SheetID,
		s.Problem.ProblemID,
		s.LanguageID,
		s.SourceCode,
		s.SourceHash,
		s.Verdict,
		s.TotalTimeMs,
		s.MaxMemoryKb,
		s.TestsPassed,
		s.TotalTests,
		nullableString(s.CompileError),
		nullableString(s.RuntimeError),
		s.AttemptNumber,
		s.Telemetry.TabSwitches,
		s.Telemetry.PasteEvents,
		s.Telemetry.TimeToSolveSeconds,
		s.SubmittedAt.UTC(),
	)
	if err != nil {
		if db.IsUniqueViolationOn(err, "PRIMARY") {
			return nil
		}
		if db.IsUniqueViolationOn(err, attemptKey) {
			return appErr.Wrapf(err, appErr.RecordAlreadyExists, "attempt %d already recorded for %s", s.AttemptNumber, s.Problem.Key())
		}
		if key, ok := db.UniqueViolation(err); ok {
			return appErr.Wrapf(err, appErr.RecordAlreadyExists, "submission conflicts on %s", key)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "insert submission failed")
	}
	return nil
}

// ExistsBySourceHash reports whether the user already submitted this source for the problem.
func (r *MySQLSubmissionRepository) ExistsBySourceHash(ctx context.Context, userID int64, ref model.ProblemRef, sourceHash string) (bool, error) {
	query := `
		SELECT 1 FROM submissions
		WHERE user_id = ? AND sheet_id = ? AND problem_id = ? AND source_hash = ?
		LIMIT 1
	`
	var one int
	err := r.db.QueryRow(ctx, query, userID, ref.SheetID, ref.ProblemID, sourceHash).Scan(&one)
	if err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CountByUserProblem counts stored submissions of the user for the problem.
func (r *MySQLSubmissionRepository) CountByUserProblem(ctx context.Context, userID int64, ref model.ProblemRef) (int, error) {
	query := "SELECT COUNT(*) FROM submissions WHERE user_id = ? AND sheet_id = ? AND problem_id = ?"
	var count int
	if err := r.db.QueryRow(ctx, query, userID, ref.SheetID, ref.ProblemID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func validateSubmission(s *model.Submission) error {
	switch {
	case s == nil:
		return errors.New("submission is nil")
	case s.ID == "":
		return errors.New("submission id is required")
	case s.UserID <= 0:
		return errors.New("user id is required")
	case s.Problem.ProblemID == "":
		return errors.New("problem id is required")
	case s.SourceHash == "":
		return errors.New("source hash is required")
	case s.AttemptNumber <= 0:
		return errors.New("attempt number must be positive")
	}
	if s.SubmittedAt.IsZero() {
		s.SubmittedAt = time.Now()
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
