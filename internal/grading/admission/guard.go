// Package admission decides whether a submission may enter the grading pipeline.
package admission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/grading/model"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultMinInterval  = 3 * time.Second
	defaultCacheTimeout = 500 * time.Millisecond
	lastSubmitKeyPrefix = "grader:submit:last:"
)

// History answers questions about a user's stored submissions.
type History interface {
	ExistsBySourceHash(ctx context.Context, userID int64, ref model.ProblemRef, sourceHash string) (bool, error)
	CountByUserProblem(ctx context.Context, userID int64, ref model.ProblemRef) (int, error)
}

// Config configures a Guard.
type Config struct {
	Cache   cache.BasicOps
	History History
	// MinInterval is the minimum gap between two submissions of one user. Default 3s.
	MinInterval  time.Duration
	CacheTimeout time.Duration
	Now          func() time.Time
}

// Guard enforces the per-user submission interval and rejects duplicate sources.
type Guard struct {
	cache        cache.BasicOps
	history      History
	minInterval  time.Duration
	cacheTimeout time.Duration
	now          func() time.Time
}

// Request is a submission asking for admission.
type Request struct {
	UserID     int64
	Problem    model.ProblemRef
	SourceCode string
}

// Admission is granted to a submission that passed every check.
type Admission struct {
	AttemptNumber int
	SourceHash    string
}

// NewGuard creates a Guard.
func NewGuard(cfg Config) (*Guard, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("submission history is required")
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaultMinInterval
	}
	if cfg.CacheTimeout <= 0 {
		cfg.CacheTimeout = defaultCacheTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Guard{
		cache:        cfg.Cache,
		history:      cfg.History,
		minInterval:  cfg.MinInterval,
		cacheTimeout: cfg.CacheTimeout,
		now:          cfg.Now,
	}, nil
}

// Admit runs the interval, duplicate and attempt checks in that order.
// Passing the interval check records the submission time even if a later check fails.
func (g *Guard) Admit(ctx context.Context, req Request) (*Admission, error) {
	if err := g.checkInterval(ctx, req.UserID); err != nil {
		return nil, err
	}

	hash := HashSource(req.SourceCode)
	dup, err := g.history.ExistsBySourceHash(ctx, req.UserID, req.Problem, hash)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "duplicate check failed")
	}
	if dup {
		return nil, appErr.New(appErr.DuplicateSubmission)
	}

	count, err := g.history.CountByUserProblem(ctx, req.UserID, req.Problem)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "count previous attempts failed")
	}
	return &Admission{AttemptNumber: count + 1, SourceHash: hash}, nil
}

// checkInterval claims the user's slot with SET NX PX. When the slot is taken the
// stored timestamp gives the remaining wait.
func (g *Guard) checkInterval(ctx context.Context, userID int64) error {
	cacheCtx, cancel := context.WithTimeout(ctx, g.cacheTimeout)
	defer cancel()

	key := lastSubmitKey(userID)
	nowMs := g.now().UnixMilli()
	acquired, err := g.cache.SetNX(cacheCtx, key, strconv.FormatInt(nowMs, 10), g.minInterval)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if acquired {
		return nil
	}

	raw, err := g.cache.Get(cacheCtx, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	last, parseErr := strconv.ParseInt(raw, 10, 64)
	intervalMs := g.minInterval.Milliseconds()
	elapsed := nowMs - last
	if raw == "" || parseErr != nil || elapsed >= intervalMs {
		// Record expired between calls or outlived its window.
		if err := g.cache.Set(cacheCtx, key, strconv.FormatInt(nowMs, 10), g.minInterval); err != nil {
			logger.Warn(ctx, "refresh submit interval record failed", zap.Int64("user_id", userID), zap.Error(err))
		}
		return nil
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return appErr.RateLimited(waitSeconds(intervalMs - elapsed))
}

// waitSeconds rounds a remaining wait up to whole seconds.
func waitSeconds(remainingMs int64) int64 {
	wait := (remainingMs + 999) / 1000
	if wait < 1 {
		wait = 1
	}
	return wait
}

func lastSubmitKey(userID int64) string {
	return lastSubmitKeyPrefix + strconv.FormatInt(userID, 10)
}

// HashSource returns the hex sha256 of the source with surrounding whitespace removed.
func HashSource(source string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(source)))
	return hex.EncodeToString(sum[:])
}
