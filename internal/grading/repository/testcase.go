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
	defaultTestCaseCacheTTL      = 10 * time.Minute
	defaultTestCaseCacheEmptyTTL = time.Minute
	testCaseCacheKeyPrefix       = "grader:testcases:"
)

// TestCaseRepository lists the stored test cases of a problem.
type TestCaseRepository interface {
	// ListByProblem returns every test case ordered by ordinal. An empty slice is not an error.
	ListByProblem(ctx context.Context, ref model.ProblemRef) ([]model.TestCase, error)
}

// MySQLTestCaseRepository implements TestCaseRepository with MySQL and a cache-aside layer.
type MySQLTestCaseRepository struct {
	db       db.Database
	cache    cache.BasicOps
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewTestCaseRepository creates a test case repository. cacheClient may be nil.
func NewTestCaseRepository(database db.Database, cacheClient cache.BasicOps) *MySQLTestCaseRepository {
	return &MySQLTestCaseRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      defaultTestCaseCacheTTL,
		emptyTTL: defaultTestCaseCacheEmptyTTL,
	}
}

func (r *MySQLTestCaseRepository) ListByProblem(ctx context.Context, ref model.ProblemRef) ([]model.TestCase, error) {
	var (
		tests []model.TestCase
		err   error
	)
	if r.cache == nil {
		tests, err = r.load(ctx, ref)
	} else {
		tests, err = cache.GetWithCached[[]model.TestCase](
			ctx,
			r.cache,
			testCaseCacheKeyPrefix+ref.CacheKey(),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(t []model.TestCase) bool { return len(t) == 0 },
			marshalTestCases,
			unmarshalTestCases,
			func(ctx context.Context) ([]model.TestCase, error) { return r.load(ctx, ref) },
		)
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load test cases failed")
	}
	return tests, nil
}

func (r *MySQLTestCaseRepository) load(ctx context.Context, ref model.ProblemRef) ([]model.TestCase, error) {
	query := `
		SELECT ordinal, input, expected_output, is_sample
		FROM test_cases
		WHERE sheet_id = ? AND problem_id = ?
		ORDER BY ordinal ASC
	`
	rows, err := r.db.Query(ctx, query, ref.SheetID, ref.ProblemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tests []model.TestCase
	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(&tc.Ordinal, &tc.Input, &tc.ExpectedOutput, &tc.IsSample); err != nil {
			return nil, err
		}
		tests = append(tests, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tests, nil
}

// Samples returns the sample subset of tests, preserving order.
func Samples(tests []model.TestCase) []model.TestCase {
	var samples []model.TestCase
	for _, tc := range tests {
		if tc.IsSample {
			samples = append(samples, tc)
		}
	}
	return samples
}

func marshalTestCases(tests []model.TestCase) string {
	data, err := json.Marshal(tests)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalTestCases(data string) ([]model.TestCase, error) {
	var tests []model.TestCase
	if err := json.Unmarshal([]byte(data), &tests); err != nil {
		return nil, err
	}
	return tests, nil
}
