package judgeclient

import (
	"context"
	"time"

	"judgeflow/internal/grading/model"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

// Sandbox status ids used by the poll loop.
const (
	StatusInQueue       = 1
	StatusInternalError = 13
	// firstTerminalStatus is the lowest status id that will not change anymore.
	firstTerminalStatus = 3
)

// Profile bounds a poll loop: at most MaxAttempts fetches, each preceded by Interval.
type Profile struct {
	Name        string
	MaxAttempts int
	Interval    time.Duration
}

var (
	// SubmitProfile is used for graded submissions: 30 x 1s.
	SubmitProfile = Profile{Name: "submit", MaxAttempts: 30, Interval: time.Second}
	// SampleProfile is used for sample runs: 20 x 500ms.
	SampleProfile = Profile{Name: "sample", MaxAttempts: 20, Interval: 500 * time.Millisecond}
)

// IsTerminal reports whether a sandbox status id is final.
func IsTerminal(statusID int) bool {
	return statusID >= firstTerminalStatus
}

// Poll waits for tokens to reach a terminal status and returns one result per token,
// in token order. When attempts run out the last snapshot is returned as is; results
// still pending keep a non-terminal status. An empty token yields an internal error
// result without being polled. A failed fetch keeps the previous snapshot and still
// counts as an attempt. Poll returns ctx.Err() if ctx ends while waiting.
func (c *Client) Poll(ctx context.Context, tokens []string, profile Profile) ([]model.JudgeResult, error) {
	start := time.Now()
	results := make([]model.JudgeResult, len(tokens))
	index := make(map[string]int, len(tokens))
	pending := make([]string, 0, len(tokens))
	for i, token := range tokens {
		if token == "" {
			results[i] = model.JudgeResult{StatusID: StatusInternalError, Stderr: "sandbox rejected this test case"}
			continue
		}
		results[i] = model.JudgeResult{Token: token, StatusID: StatusInQueue}
		index[token] = i
		pending = append(pending, token)
	}

	attempts := 0
	complete := len(pending) == 0
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for !complete && attempts < profile.MaxAttempts {
		timer.Reset(profile.Interval)
		select {
		case <-ctx.Done():
			c.observe(profile, attempts, false, start)
			return nil, ctx.Err()
		case <-timer.C:
		}

		attempts++
		snapshot, err := c.fetchStatus(ctx, pending)
		if err != nil {
			if ctx.Err() != nil {
				c.observe(profile, attempts, false, start)
				return nil, ctx.Err()
			}
			logger.Warn(ctx, "poll judge status failed",
				zap.String("profile", profile.Name),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			continue
		}
		for _, w := range snapshot {
			if i, ok := index[w.Token]; ok {
				results[i] = w.toModel()
			}
		}
		complete = allTerminal(results)
	}

	if !complete {
		logger.Warn(ctx, "judge poll attempts exhausted",
			zap.String("profile", profile.Name),
			zap.Int("attempts", attempts),
		)
	}
	c.observe(profile, attempts, complete, start)
	return results, nil
}

func (c *Client) observe(profile Profile, attempts int, complete bool, start time.Time) {
	if c.observer != nil {
		c.observer.ObservePoll(profile.Name, attempts, complete, time.Since(start))
	}
}

func allTerminal(results []model.JudgeResult) bool {
	for _, r := range results {
		if !IsTerminal(r.StatusID) {
			return false
		}
	}
	return true
}
