package verdict

import (
	"testing"

	"judgeflow/internal/grading/model"
)

func tc(expected string) model.TestCase {
	return model.TestCase{ExpectedOutput: expected}
}

func TestFromStatusIsTotal(t *testing.T) {
	tests := []struct {
		status int
		want   Verdict
	}{
		{1, Unknown}, {2, Unknown}, {3, Accepted}, {4, WrongAnswer},
		{5, TimeLimitExceeded}, {6, CompilationError}, {7, RuntimeError},
		{11, RuntimeError}, {12, RuntimeError}, {13, InternalError},
		{14, RuntimeError}, {0, Unknown}, {15, Unknown}, {-1, Unknown},
	}
	for _, tt := range tests {
		if got := FromStatus(tt.status); got != tt.want {
			t.Fatalf("FromStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestEvaluateUsesComparatorForCompletedRuns(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected string
		stdout   string
		want     Verdict
	}{
		{name: "sandbox accepted and equal", status: 3, expected: "3", stdout: "3\n", want: Accepted},
		{name: "sandbox accepted but different", status: 3, expected: "3", stdout: "4", want: WrongAnswer},
		{name: "sandbox strict mismatch within tolerance", status: 4, expected: "1", stdout: "1.0", want: Accepted},
		{name: "sandbox wrong answer", status: 4, expected: "1", stdout: "2", want: WrongAnswer},
		{name: "time limit", status: 5, expected: "1", stdout: "1", want: TimeLimitExceeded},
		{name: "still pending", status: 2, expected: "1", stdout: "", want: Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(1, tc(tt.expected), model.JudgeResult{StatusID: tt.status, Stdout: tt.stdout})
			if got.Verdict != tt.want {
				t.Fatalf("verdict = %q, want %q", got.Verdict, tt.want)
			}
		})
	}
}

func TestEvaluateCarriesErrorText(t *testing.T) {
	ce := Evaluate(1, tc(""), model.JudgeResult{StatusID: 6, CompileOutput: "missing ;", Stderr: "ignored"})
	if ce.CompileError != "missing ;" || ce.RuntimeError != "" {
		t.Fatalf("unexpected compile outcome %+v", ce)
	}
	re := Evaluate(2, tc(""), model.JudgeResult{StatusID: 11, Stderr: "panic"})
	if re.RuntimeError != "panic" || re.CompileError != "" || re.Index != 2 {
		t.Fatalf("unexpected runtime outcome %+v", re)
	}
}

func TestAggregateAllAccepted(t *testing.T) {
	tests := []model.TestCase{tc("1"), tc("2")}
	results := []model.JudgeResult{
		{StatusID: 3, Stdout: "1", TimeSeconds: 0.0104, MemoryKb: 1000},
		{StatusID: 3, Stdout: "2", TimeSeconds: 0.02, MemoryKb: 3000},
	}
	s, err := Aggregate(tests, results)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if s.Verdict != Accepted || !s.Passed() {
		t.Fatalf("expected accepted, got %q", s.Verdict)
	}
	if s.TestsPassed != 2 || s.TotalTests != 2 {
		t.Fatalf("unexpected counts %d/%d", s.TestsPassed, s.TotalTests)
	}
	if s.TotalTimeMs != 30 || s.MaxMemoryKb != 3000 {
		t.Fatalf("unexpected rollups time=%d mem=%d", s.TotalTimeMs, s.MaxMemoryKb)
	}
}

func TestAggregateTwoAcceptedThenWrong(t *testing.T) {
	tests := []model.TestCase{tc("1"), tc("2"), tc("3")}
	results := []model.JudgeResult{
		{StatusID: 3, Stdout: "1"},
		{StatusID: 3, Stdout: "2"},
		{StatusID: 4, Stdout: "4"},
	}
	s, err := Aggregate(tests, results)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if s.Verdict != WrongAnswer || s.Passed() {
		t.Fatalf("expected wrong answer, got %q", s.Verdict)
	}
	if s.TestsPassed != 2 || s.TotalTests != 3 {
		t.Fatalf("unexpected counts %d/%d", s.TestsPassed, s.TotalTests)
	}
}

func TestAggregateLastFailureWins(t *testing.T) {
	tests := []model.TestCase{tc("1"), tc("2"), tc("3")}
	results := []model.JudgeResult{
		{StatusID: 5},
		{StatusID: 3, Stdout: "2"},
		{StatusID: 11, Stderr: "boom"},
	}
	s, _ := Aggregate(tests, results)
	if s.Verdict != RuntimeError {
		t.Fatalf("expected the last failing verdict, got %q", s.Verdict)
	}
}

func TestAggregateTakesFirstErrorText(t *testing.T) {
	tests := []model.TestCase{tc("1"), tc("2"), tc("3")}
	results := []model.JudgeResult{
		{StatusID: 3, Stdout: "1"},
		{StatusID: 11, Stderr: "first"},
		{StatusID: 11, Stderr: "second"},
	}
	s, _ := Aggregate(tests, results)
	if s.RuntimeError != "first" {
		t.Fatalf("expected first runtime error, got %q", s.RuntimeError)
	}
}

func TestAggregatePendingCountsAsFailure(t *testing.T) {
	s, _ := Aggregate([]model.TestCase{tc("1"), tc("2")}, []model.JudgeResult{{StatusID: 3, Stdout: "1"}, {StatusID: 1}})
	if s.Verdict != Unknown || s.TestsPassed != 1 {
		t.Fatalf("expected pending test to fail as Unknown, got %q passed=%d", s.Verdict, s.TestsPassed)
	}
}

func TestAggregateRejectsMisalignedInput(t *testing.T) {
	if _, err := Aggregate([]model.TestCase{tc("1")}, nil); err == nil {
		t.Fatalf("expected error for length mismatch")
	}
}

func TestFormatters(t *testing.T) {
	if got := FormatTime(123); got != "123ms" {
		t.Fatalf("FormatTime = %q", got)
	}
	if got := FormatMemory(45 * 1024); got != "45MB" {
		t.Fatalf("FormatMemory = %q", got)
	}
	if got := FormatMemory(0); got != "0MB" {
		t.Fatalf("FormatMemory(0) = %q", got)
	}
}
