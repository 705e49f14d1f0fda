package service

import (
	"context"
	"time"

	"judgeflow/internal/grading/model"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	defaultPersistRetries  = 3
	defaultPersistInitial  = 100 * time.Millisecond
	defaultPersistInterval = time.Second
)

// persist stores the submission, retrying transient failures with exponential backoff.
// A conflicting attempt number is not retried.
func (s *GradingService) persist(ctx context.Context, submission *model.Submission) error {
	operation := func() error {
		ctxDB := withTimeout(ctx, s.timeouts.DB)
		defer ctxDB.cancel()
		err := s.submissionRepo.Create(ctxDB.ctx, nil, submission)
		if err == nil {
			return nil
		}
		if !appErr.Is(err, appErr.DatabaseError) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn(ctx, "persist submission retry",
			zap.String("submission_id", submission.ID),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	if err := backoff.RetryNotify(operation, s.persistBackOff(ctx), notify); err != nil {
		return appErr.Wrapf(err, appErr.PersistenceFailure, "store submission failed")
	}
	return nil
}

func (s *GradingService) persistBackOff(ctx context.Context) backoff.BackOff {
	cfg := s.retry
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultPersistRetries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultPersistInitial
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = defaultPersistInterval
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.InitialInterval
	exp.MaxInterval = cfg.MaxInterval
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, cfg.MaxRetries), ctx)
}
