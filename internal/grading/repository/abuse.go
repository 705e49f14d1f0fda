package repository

import (
	"context"
	"database/sql"
	"time"

	"judgeflow/internal/common/db"
	"judgeflow/internal/grading/model"
	"judgeflow/internal/grading/verdict"
	appErr "judgeflow/pkg/errors"
)

// AbuseRepository reads acceptance history and mutates per-user abuse counters.
type AbuseRepository interface {
	LastAcceptedAt(ctx context.Context, userID int64, exclude model.ProblemRef, before time.Time) (time.Time, bool, error)
	UpdateAbuseState(ctx context.Context, userID int64, fn func(model.AbuseState) model.AbuseState) (model.AbuseState, error)
}

// MySQLAbuseRepository implements AbuseRepository with MySQL.
type MySQLAbuseRepository struct {
	db db.Database
}

// NewAbuseRepository creates an abuse repository.
func NewAbuseRepository(database db.Database) *MySQLAbuseRepository {
	return &MySQLAbuseRepository{db: database}
}

// LastAcceptedAt returns the newest accepted submission of the user on a problem
// other than exclude, strictly before the given time.
func (r *MySQLAbuseRepository) LastAcceptedAt(ctx context.Context, userID int64, exclude model.ProblemRef, before time.Time) (time.Time, bool, error) {
	query := `
		SELECT MAX(submitted_at) FROM submissions
		WHERE user_id = ? AND verdict = ? AND submitted_at < ?
		  AND NOT (sheet_id = ? AND problem_id = ?)
	`
	var last sql.NullTime
	err := r.db.QueryRow(ctx, query, userID, string(verdict.Accepted), before.UTC(), exclude.SheetID, exclude.ProblemID).Scan(&last)
	if err != nil {
		if db.IsNoRows(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return last.Time, true, nil
}

// UpdateAbuseState locks the user row, applies fn and writes the result back in one transaction.
func (r *MySQLAbuseRepository) UpdateAbuseState(ctx context.Context, userID int64, fn func(model.AbuseState) model.AbuseState) (model.AbuseState, error) {
	var next model.AbuseState
	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		current := model.AbuseState{UserID: userID}
		err := tx.QueryRow(ctx,
			"SELECT cheating_flags, is_shadow_banned FROM users WHERE id = ? FOR UPDATE",
			userID,
		).Scan(&current.CheatingFlags, &current.IsShadowBanned)
		if err != nil {
			if db.IsNoRows(err) {
				return appErr.Newf(appErr.AbuseStateNotFound, "user %d not found", userID)
			}
			return err
		}

		next = fn(current)
		next.UserID = userID
		if next == current {
			return nil
		}
		_, err = tx.Exec(ctx,
			"UPDATE users SET cheating_flags = ?, is_shadow_banned = ? WHERE id = ?",
			next.CheatingFlags, next.IsShadowBanned, userID,
		)
		return err
	})
	if err != nil {
		if appErr.Is(err, appErr.AbuseStateNotFound) {
			return model.AbuseState{}, err
		}
		if db.IsLockConflict(err) {
			return model.AbuseState{}, appErr.Wrapf(err, appErr.TransactionFailed, "abuse state for user %d is locked", userID)
		}
		return model.AbuseState{}, appErr.Wrapf(err, appErr.AbuseUpdateFailed, "update abuse state failed")
	}
	return next, nil
}
