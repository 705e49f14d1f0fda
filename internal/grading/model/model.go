package model

import (
	"strconv"
	"time"
)

// ProblemRef identifies a problem inside a problem sheet.
type ProblemRef struct {
	SheetID   string `json:"sheet_id"`
	ProblemID string `json:"problem_id"`
}

// Key returns the human-readable "sheet/problem" form used in logs and messages.
// It is ambiguous when an id contains '/', so storage keys use CacheKey.
func (r ProblemRef) Key() string {
	return r.SheetID + "/" + r.ProblemID
}

// CacheKey is Key with the sheet id length prefixed, so ("a/b", "c") and ("a", "b/c")
// never share a key.
func (r ProblemRef) CacheKey() string {
	return strconv.Itoa(len(r.SheetID)) + ":" + r.SheetID + "/" + r.ProblemID
}

// Problem is the resolved problem with its execution limits.
type Problem struct {
	Ref           ProblemRef `json:"ref"`
	Title         string     `json:"title"`
	TimeLimitMs   int64      `json:"time_limit_ms"`
	MemoryLimitMB int64      `json:"memory_limit_mb"`
	// FallbackTests are used only when the test case store has none for this problem.
	FallbackTests []TestCase `json:"fallback_tests,omitempty"`
}

// TestCase is one input/expected-output pair. Ordinal defines execution order.
type TestCase struct {
	Ordinal        int    `json:"ordinal"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	IsSample       bool   `json:"is_sample"`
}

// Telemetry is caller-reported editor activity.
type Telemetry struct {
	TabSwitches int `json:"tabSwitches"`
	PasteEvents int `json:"pasteEvents"`
	// TimeToSolveSeconds is nil when the client did not report it.
	TimeToSolveSeconds *float64 `json:"timeToSolveSeconds"`
}

// JudgeResult is the sandbox outcome for one token. Text fields are already decoded.
type JudgeResult struct {
	Token         string
	Stdout        string
	Stderr        string
	CompileOutput string
	StatusID      int
	// TimeSeconds is CPU time in fractional seconds.
	TimeSeconds float64
	MemoryKb    int64
}

// Submission is the stored record of one grading run. It is never updated after insert.
type Submission struct {
	ID            string
	UserID        int64
	Problem       ProblemRef
	LanguageID    int
	SourceCode    string
	SourceHash    string
	Verdict       string
	TotalTimeMs   int64
	MaxMemoryKb   int64
	TestsPassed   int
	TotalTests    int
	CompileError  string
	RuntimeError  string
	AttemptNumber int
	Telemetry     Telemetry
	SubmittedAt   time.Time
}

// AbuseState is the persistent anti-abuse record of a user.
type AbuseState struct {
	UserID         int64
	CheatingFlags  int
	IsShadowBanned bool
}
