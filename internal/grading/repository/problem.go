package repository

import (
	"context"
	"encoding/json"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	"judgeflow/internal/grading/model"
	appErr "judgeflow/pkg/errors"
)

const (
	defaultProblemCacheTTL      = 10 * time.Minute
	defaultProblemCacheEmptyTTL = time.Minute
	problemCacheKeyPrefix       = "grader:problem:"
)

// ProblemRepository resolves problems with their execution limits.
type ProblemRepository interface {
	Get(ctx context.Context, ref model.ProblemRef) (*model.Problem, error)
}

// MySQLProblemRepository implements ProblemRepository with MySQL and a cache-aside layer.
type MySQLProblemRepository struct {
	db       db.Database
	cache    cache.BasicOps
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewProblemRepository creates a problem repository with default TTLs. cacheClient may be nil.
func NewProblemRepository(database db.Database, cacheClient cache.BasicOps) *MySQLProblemRepository {
	return NewProblemRepositoryWithTTL(database, cacheClient, defaultProblemCacheTTL, defaultProblemCacheEmptyTTL)
}

// NewProblemRepositoryWithTTL creates a problem repository with custom TTLs.
func NewProblemRepositoryWithTTL(database db.Database, cacheClient cache.BasicOps, ttl, emptyTTL time.Duration) *MySQLProblemRepository {
	if ttl <= 0 {
		ttl = defaultProblemCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultProblemCacheEmptyTTL
	}
	return &MySQLProblemRepository{db: database, cache: cacheClient, ttl: ttl, emptyTTL: emptyTTL}
}

// Get returns the problem or a ProblemNotFound error.
func (r *MySQLProblemRepository) Get(ctx context.Context, ref model.ProblemRef) (*model.Problem, error) {
	if ref.ProblemID == "" {
		return nil, appErr.ValidationError("problemId", "required")
	}

	var (
		problem *model.Problem
		err     error
	)
	if r.cache == nil {
		problem, err = r.load(ctx, ref)
	} else {
		problem, err = cache.GetWithCached[*model.Problem](
			ctx,
			r.cache,
			problemCacheKey(ref),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(p *model.Problem) bool { return p == nil },
			marshalProblem,
			unmarshalProblem,
			func(ctx context.Context) (*model.Problem, error) { return r.load(ctx, ref) },
		)
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load problem failed")
	}
	if problem == nil {
		return nil, appErr.Newf(appErr.ProblemNotFound, "problem %s not found", ref.Key())
	}
	return problem, nil
}

// load returns nil, nil when the problem does not exist.
func (r *MySQLProblemRepository) load(ctx context.Context, ref model.ProblemRef) (*model.Problem, error) {
	query := `
		SELECT title, time_limit_ms, memory_limit_mb, fallback_tests
		FROM problems
		WHERE sheet_id = ? AND problem_id = ?
	`
	var (
		problem  = model.Problem{Ref: ref}
		fallback []byte
	)
	err := r.db.QueryRow(ctx, query, ref.SheetID, ref.ProblemID).Scan(
		&problem.Title,
		&problem.TimeLimitMs,
		&problem.MemoryLimitMB,
		&fallback,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(fallback) > 0 {
		if err := json.Unmarshal(fallback, &problem.FallbackTests); err != nil {
			return nil, err
		}
	}
	return &problem, nil
}

func problemCacheKey(ref model.ProblemRef) string {
	return problemCacheKeyPrefix + ref.CacheKey()
}

func marshalProblem(p *model.Problem) string {
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalProblem(data string) (*model.Problem, error) {
	var p model.Problem
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
