package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"judgeflow/internal/grading/abuse"
	"judgeflow/internal/grading/admission"
	"judgeflow/internal/grading/events"
	"judgeflow/internal/grading/judgeclient"
	"judgeflow/internal/grading/metrics"
	"judgeflow/internal/grading/model"
	"judgeflow/internal/grading/repository"
	"judgeflow/internal/grading/verdict"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxCodeBytes = 64 * 1024
	persistenceWarning  = "Your result was graded but could not be saved. It will not appear in your submission history."
)

// Judge executes test cases on the sandbox.
type Judge interface {
	BatchSubmit(ctx context.Context, sourceCode string, languageID int, tests []model.TestCase, timeLimitMs, memoryLimitMB int64) ([]string, error)
	Poll(ctx context.Context, tokens []string, profile judgeclient.Profile) ([]model.JudgeResult, error)
}

// Admitter decides whether a submission may be graded.
type Admitter interface {
	Admit(ctx context.Context, req admission.Request) (*admission.Admission, error)
}

// AbuseChecker runs post-acceptance heuristics.
type AbuseChecker interface {
	Check(ctx context.Context, in abuse.Input) abuse.Outcome
	IsShadowBanned(ctx context.Context, userID int64) bool
}

// SourceArchiver stores graded sources.
type SourceArchiver interface {
	Save(ctx context.Context, submissionID, source string) (string, error)
}

// GradedPublisher announces stored grading runs.
type GradedPublisher interface {
	PublishGraded(ctx context.Context, event events.GradedEvent) error
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB      time.Duration `yaml:"db"`
	Storage time.Duration `yaml:"storage"`
	MQ      time.Duration `yaml:"mq"`
}

// RetryConfig bounds the retry of submission persistence.
type RetryConfig struct {
	MaxRetries      uint64        `yaml:"maxRetries"`
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
}

// Config holds grading service dependencies and settings.
type Config struct {
	Judge          Judge
	Admission      Admitter
	Abuse          AbuseChecker
	ProblemRepo    repository.ProblemRepository
	TestCaseRepo   repository.TestCaseRepository
	SubmissionRepo repository.SubmissionRepository

	// Optional collaborators.
	Archive SourceArchiver
	Events  GradedPublisher
	Metrics *metrics.Metrics

	MaxCodeBytes int
	Timeouts     TimeoutConfig
	Retry        RetryConfig
	Now          func() time.Time
}

// GradingService runs submissions through the sandbox and grades them.
type GradingService struct {
	judge          Judge
	admission      Admitter
	abuse          AbuseChecker
	problemRepo    repository.ProblemRepository
	testCaseRepo   repository.TestCaseRepository
	submissionRepo repository.SubmissionRepository
	archive        SourceArchiver
	events         GradedPublisher
	metrics        *metrics.Metrics

	maxCodeBytes int
	timeouts     TimeoutConfig
	retry        RetryConfig
	now          func() time.Time
}

// SubmitInput describes a graded submission request.
type SubmitInput struct {
	UserID     int64
	Problem    model.ProblemRef
	LanguageID int
	SourceCode string
	Telemetry  model.Telemetry
}

// GradeResult is the outcome of a grading run.
type GradeResult struct {
	// SubmissionID and AttemptNumber are empty for sample runs.
	SubmissionID  string
	AttemptNumber int
	Summary       verdict.Summary
	Warning       string
	SubmittedAt   time.Time
}

// NewGradingService creates a grading service.
func NewGradingService(cfg Config) (*GradingService, error) {
	if cfg.Judge == nil {
		return nil, fmt.Errorf("judge client is required")
	}
	if cfg.Admission == nil {
		return nil, fmt.Errorf("admission guard is required")
	}
	if cfg.Abuse == nil {
		return nil, fmt.Errorf("abuse monitor is required")
	}
	if cfg.ProblemRepo == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.TestCaseRepo == nil {
		return nil, fmt.Errorf("test case repository is required")
	}
	if cfg.SubmissionRepo == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &GradingService{
		judge:          cfg.Judge,
		admission:      cfg.Admission,
		abuse:          cfg.Abuse,
		problemRepo:    cfg.ProblemRepo,
		testCaseRepo:   cfg.TestCaseRepo,
		submissionRepo: cfg.SubmissionRepo,
		archive:        cfg.Archive,
		events:         cfg.Events,
		metrics:        cfg.Metrics,
		maxCodeBytes:   cfg.MaxCodeBytes,
		timeouts:       cfg.Timeouts,
		retry:          cfg.Retry,
		now:            cfg.Now,
	}, nil
}

// Submit grades a submission against every test case of the problem and stores the result.
// A storage failure does not fail the call; the result then carries a warning.
func (s *GradingService) Submit(ctx context.Context, input SubmitInput) (*GradeResult, error) {
	if err := s.validate(input.UserID, input.Problem, input.LanguageID, input.SourceCode); err != nil {
		return nil, err
	}
	submittedAt := s.now()

	admitted, err := s.admission.Admit(ctx, admission.Request{
		UserID:     input.UserID,
		Problem:    input.Problem,
		SourceCode: input.SourceCode,
	})
	if err != nil {
		return nil, err
	}

	problem, tests, err := s.loadTests(ctx, input.Problem, false)
	if err != nil {
		return nil, err
	}

	summary, err := s.grade(ctx, input.SourceCode, input.LanguageID, problem, tests, judgeclient.SubmitProfile)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveVerdict(metrics.ModeSubmit, string(summary.Verdict))

	var outcome abuse.Outcome
	if summary.Passed() {
		outcome = s.abuse.Check(ctx, abuse.Input{
			UserID:             input.UserID,
			Problem:            input.Problem,
			Verdict:            summary.Verdict,
			SubmittedAt:        submittedAt,
			TimeToSolveSeconds: input.Telemetry.TimeToSolveSeconds,
		})
		if outcome.Suspicious {
			s.metrics.ObserveAbuse(outcome.Reasons, outcome.NewlyBanned)
		}
	}

	result := &GradeResult{
		SubmissionID:  uuid.NewString(),
		AttemptNumber: admitted.AttemptNumber,
		Summary:       summary,
		SubmittedAt:   submittedAt,
	}
	submission := buildSubmission(result, input, admitted.SourceHash)

	// The caller may already be gone; the graded result is still worth keeping.
	storeCtx := context.WithoutCancel(ctx)
	if err := s.persist(storeCtx, submission); err != nil {
		s.metrics.IncPersistenceFailure()
		logger.Error(ctx, "persist submission failed",
			zap.String("submission_id", submission.ID),
			zap.Int64("user_id", submission.UserID),
			zap.Error(err),
		)
		result.Warning = persistenceWarning
		return result, nil
	}

	s.archiveSource(storeCtx, submission)
	s.publishGraded(storeCtx, submission, outcome)
	return result, nil
}

// RunSamples grades the sample tests only. Nothing is stored and no abuse check runs.
func (s *GradingService) RunSamples(ctx context.Context, input SubmitInput) (*GradeResult, error) {
	if err := s.validate(input.UserID, input.Problem, input.LanguageID, input.SourceCode); err != nil {
		return nil, err
	}
	problem, tests, err := s.loadTests(ctx, input.Problem, true)
	if err != nil {
		return nil, err
	}
	summary, err := s.grade(ctx, input.SourceCode, input.LanguageID, problem, tests, judgeclient.SampleProfile)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveVerdict(metrics.ModeSample, string(summary.Verdict))
	return &GradeResult{Summary: summary, SubmittedAt: s.now()}, nil
}

func (s *GradingService) validate(userID int64, ref model.ProblemRef, languageID int, source string) error {
	if userID <= 0 {
		return appErr.New(appErr.Unauthorized)
	}
	if strings.TrimSpace(ref.SheetID) == "" {
		return appErr.ValidationError("sheetId", "required")
	}
	if strings.TrimSpace(ref.ProblemID) == "" {
		return appErr.ValidationError("problemId", "required")
	}
	if languageID <= 0 {
		return appErr.ValidationError("languageId", "required")
	}
	if strings.TrimSpace(source) == "" {
		return appErr.ValidationError("sourceCode", "required")
	}
	if len(source) > s.maxCodeBytes {
		return appErr.New(appErr.CodeTooLarge).WithMessage("source code too large")
	}
	return nil
}

// loadTests resolves the problem and its test cases. The problem's fallback tests are
// used only when none are stored.
func (s *GradingService) loadTests(ctx context.Context, ref model.ProblemRef, samplesOnly bool) (*model.Problem, []model.TestCase, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	problem, err := s.problemRepo.Get(ctxDB.ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	tests, err := s.testCaseRepo.ListByProblem(ctxDB.ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	if len(tests) == 0 {
		tests = problem.FallbackTests
	}
	if samplesOnly {
		tests = repository.Samples(tests)
		if len(tests) == 0 {
			return nil, nil, appErr.Newf(appErr.TestCaseNotFound, "problem %s has no sample tests", ref.Key())
		}
		return problem, tests, nil
	}
	if len(tests) == 0 {
		return nil, nil, appErr.Newf(appErr.TestCaseNotFound, "problem %s has no test cases", ref.Key())
	}
	return problem, tests, nil
}

func (s *GradingService) grade(ctx context.Context, source string, languageID int, problem *model.Problem, tests []model.TestCase, profile judgeclient.Profile) (verdict.Summary, error) {
	tokens, err := s.judge.BatchSubmit(ctx, source, languageID, tests, problem.TimeLimitMs, problem.MemoryLimitMB)
	if err != nil {
		return verdict.Summary{}, err
	}
	results, err := s.judge.Poll(ctx, tokens, profile)
	if err != nil {
		if ctx.Err() != nil {
			return verdict.Summary{}, appErr.Wrapf(err, appErr.Timeout, "grading was interrupted")
		}
		return verdict.Summary{}, err
	}
	summary, err := verdict.Aggregate(tests, results)
	if err != nil {
		return verdict.Summary{}, appErr.Wrapf(err, appErr.JudgeSystemError, "aggregate results failed")
	}
	return summary, nil
}

func (s *GradingService) archiveSource(ctx context.Context, submission *model.Submission) {
	if s.archive == nil {
		return
	}
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	if _, err := s.archive.Save(ctxStorage.ctx, submission.ID, submission.SourceCode); err != nil {
		s.metrics.IncArchiveFailure()
		logger.Warn(ctx, "archive source failed", zap.String("submission_id", submission.ID), zap.Error(err))
	}
}

func (s *GradingService) publishGraded(ctx context.Context, submission *model.Submission, outcome abuse.Outcome) {
	if s.events == nil {
		return
	}
	shadowBanned := outcome.ShadowBanned || s.abuse.IsShadowBanned(ctx, submission.UserID)
	event := events.GradedEvent{
		SubmissionID:  submission.ID,
		UserID:        submission.UserID,
		SheetID:       submission.Problem.SheetID,
		ProblemID:     submission.Problem.ProblemID,
		LanguageID:    submission.LanguageID,
		Verdict:       submission.Verdict,
		TestsPassed:   submission.TestsPassed,
		TotalTests:    submission.TotalTests,
		TotalTimeMs:   submission.TotalTimeMs,
		MaxMemoryKb:   submission.MaxMemoryKb,
		AttemptNumber: submission.AttemptNumber,
		Suspicious:    outcome.Suspicious,
		ShadowBanned:  shadowBanned,
		SubmittedAt:   submission.SubmittedAt.Unix(),
	}
	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	defer ctxMQ.cancel()
	if err := s.events.PublishGraded(ctxMQ.ctx, event); err != nil {
		logger.Warn(ctx, "publish graded event failed", zap.String("submission_id", submission.ID), zap.Error(err))
	}
}

func buildSubmission(result *GradeResult, input SubmitInput, sourceHash string) *model.Submission {
	summary := result.Summary
	return &model.Submission{
		ID:            result.SubmissionID,
		UserID:        input.UserID,
		Problem:       input.Problem,
		LanguageID:    input.LanguageID,
		SourceCode:    input.SourceCode,
		SourceHash:    sourceHash,
		Verdict:       string(summary.Verdict),
		TotalTimeMs:   summary.TotalTimeMs,
		MaxMemoryKb:   summary.MaxMemoryKb,
		TestsPassed:   summary.TestsPassed,
		TotalTests:    summary.TotalTests,
		CompileError:  summary.CompileError,
		RuntimeError:  summary.RuntimeError,
		AttemptNumber: result.AttemptNumber,
		Telemetry:     input.Telemetry,
		SubmittedAt:   result.SubmittedAt,
	}
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
