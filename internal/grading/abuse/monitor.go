// Package abuse flags suspicious accepted submissions and escalates repeat
// offenders to a shadow ban.
package abuse

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/grading/model"
	"judgeflow/internal/grading/verdict"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	// ShadowBannedSetKey is the Redis set holding shadow-banned user ids.
	ShadowBannedSetKey = "grader:shadow_banned"

	defaultSolveWindow     = 45 * time.Second
	defaultMinSolveSeconds = 20
	defaultBanThreshold    = 5
	defaultTimeout         = 2 * time.Second
)

// Reasons reported in Outcome.
const (
	ReasonRapidSolve = "rapid_cross_problem_solve"
	ReasonFastSolve  = "declared_solve_time_too_short"
)

// Store reads submission history and mutates abuse counters.
type Store interface {
	// LastAcceptedAt returns the latest accepted submission time of the user on any
	// problem other than exclude, submitted before the given time.
	LastAcceptedAt(ctx context.Context, userID int64, exclude model.ProblemRef, before time.Time) (time.Time, bool, error)
	// UpdateAbuseState applies fn to the user's state atomically and returns the result.
	UpdateAbuseState(ctx context.Context, userID int64, fn func(model.AbuseState) model.AbuseState) (model.AbuseState, error)
}

// BanNotifier announces new shadow bans.
type BanNotifier interface {
	PublishShadowBan(ctx context.Context, userID int64, flags int) error
}

// Config configures a Monitor.
type Config struct {
	Store    Store
	Notifier BanNotifier
	BanSet   cache.SetOps

	SolveWindow     time.Duration
	MinSolveSeconds float64
	BanThreshold    int
	Timeout         time.Duration
}

// Monitor runs the post-acceptance abuse heuristics.
type Monitor struct {
	store           Store
	notifier        BanNotifier
	banSet          cache.SetOps
	solveWindow     time.Duration
	minSolveSeconds float64
	banThreshold    int
	timeout         time.Duration
}

// Input is one graded submission as seen by the monitor.
type Input struct {
	UserID             int64
	Problem            model.ProblemRef
	Verdict            verdict.Verdict
	SubmittedAt        time.Time
	TimeToSolveSeconds *float64
}

// Outcome reports what the monitor concluded. The zero value means nothing happened.
type Outcome struct {
	Suspicious    bool
	Reasons       []string
	CheatingFlags int
	ShadowBanned  bool
	NewlyBanned   bool
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg Config) (*Monitor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("abuse store is required")
	}
	if cfg.SolveWindow <= 0 {
		cfg.SolveWindow = defaultSolveWindow
	}
	if cfg.MinSolveSeconds <= 0 {
		cfg.MinSolveSeconds = defaultMinSolveSeconds
	}
	if cfg.BanThreshold <= 0 {
		cfg.BanThreshold = defaultBanThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Monitor{
		store:           cfg.Store,
		notifier:        cfg.Notifier,
		banSet:          cfg.BanSet,
		solveWindow:     cfg.SolveWindow,
		minSolveSeconds: cfg.MinSolveSeconds,
		banThreshold:    cfg.BanThreshold,
		timeout:         cfg.Timeout,
	}, nil
}

// Check inspects an accepted submission. Other verdicts are ignored.
// Every failure is logged and swallowed; Check never affects the grading result.
func (m *Monitor) Check(ctx context.Context, in Input) Outcome {
	if in.Verdict != verdict.Accepted {
		return Outcome{}
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var out Outcome
	if in.TimeToSolveSeconds != nil && *in.TimeToSolveSeconds < m.minSolveSeconds {
		out.Reasons = append(out.Reasons, ReasonFastSolve)
	}

	last, found, err := m.store.LastAcceptedAt(ctx, in.UserID, in.Problem, in.SubmittedAt)
	if err != nil {
		logger.Warn(ctx, "abuse history lookup failed", zap.Int64("user_id", in.UserID), zap.Error(err))
	} else if found && in.SubmittedAt.Sub(last) < m.solveWindow {
		out.Reasons = append(out.Reasons, ReasonRapidSolve)
	}

	if len(out.Reasons) == 0 {
		return out
	}
	out.Suspicious = true

	var wasBanned bool
	state, err := m.store.UpdateAbuseState(ctx, in.UserID, func(s model.AbuseState) model.AbuseState {
		wasBanned = s.IsShadowBanned
		return Escalate(s, m.banThreshold)
	})
	if err != nil {
		logger.Error(ctx, "increment cheating flags failed", zap.Int64("user_id", in.UserID), zap.Error(err))
		return out
	}
	out.CheatingFlags = state.CheatingFlags
	out.ShadowBanned = state.IsShadowBanned
	out.NewlyBanned = state.IsShadowBanned && !wasBanned

	logger.Warn(ctx, "suspicious accepted submission",
		zap.Int64("user_id", in.UserID),
		zap.String("problem", in.Problem.Key()),
		zap.Strings("reasons", out.Reasons),
		zap.Int("cheating_flags", state.CheatingFlags),
		zap.Bool("shadow_banned", state.IsShadowBanned),
	)

	if out.NewlyBanned {
		m.announceBan(ctx, in.UserID, state.CheatingFlags)
	}
	return out
}

// Escalate adds one cheating flag and bans once the count reaches threshold.
// A ban is never lifted here.
func Escalate(s model.AbuseState, threshold int) model.AbuseState {
	s.CheatingFlags++
	if s.CheatingFlags >= threshold {
		s.IsShadowBanned = true
	}
	return s
}

// announceBan publishes the ban event. When no notifier is configured or
// publishing fails, the ban set is updated directly.
func (m *Monitor) announceBan(ctx context.Context, userID int64, flags int) {
	if m.notifier != nil {
		err := m.notifier.PublishShadowBan(ctx, userID, flags)
		if err == nil {
			return
		}
		logger.Warn(ctx, "publish shadow ban failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	if m.banSet == nil {
		return
	}
	if err := m.banSet.SAdd(ctx, ShadowBannedSetKey, strconv.FormatInt(userID, 10)); err != nil {
		logger.Error(ctx, "mark shadow ban failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// IsShadowBanned reports whether the user is in the shadow ban set.
// Lookup errors are logged and treated as not banned.
func (m *Monitor) IsShadowBanned(ctx context.Context, userID int64) bool {
	if m.banSet == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	banned, err := m.banSet.SIsMember(ctx, ShadowBannedSetKey, strconv.FormatInt(userID, 10))
	if err != nil {
		logger.Warn(ctx, "shadow ban lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		return false
	}
	return banned
}
