package verdict

import (
	"fmt"
	"math"

	"judgeflow/internal/grading/compare"
	"judgeflow/internal/grading/model"
)

// TestOutcome is the evaluated result of one test case.
type TestOutcome struct {
	// Index is the 1-based position in submission order.
	Index        int
	Verdict      Verdict
	TimeMs       int64
	MemoryKb     int64
	Output       string
	CompileError string
	RuntimeError string
}

// Summary is the aggregated outcome of a whole run.
type Summary struct {
	Verdict      Verdict
	TestsPassed  int
	TotalTests   int
	TotalTimeMs  int64
	MaxMemoryKb  int64
	CompileError string
	RuntimeError string
	Tests        []TestOutcome
}

// Passed reports whether every test was accepted.
func (s Summary) Passed() bool {
	return s.Verdict == Accepted
}

// Evaluate decides the verdict of one test from its sandbox result.
func Evaluate(index int, tc model.TestCase, res model.JudgeResult) TestOutcome {
	out := TestOutcome{
		Index:    index,
		TimeMs:   secondsToMs(res.TimeSeconds),
		MemoryKb: res.MemoryKb,
		Output:   res.Stdout,
	}

	if ranToCompletion(res.StatusID) {
		if compare.Equivalent(tc.ExpectedOutput, res.Stdout) {
			out.Verdict = Accepted
		} else {
			out.Verdict = WrongAnswer
		}
		return out
	}

	out.Verdict = FromStatus(res.StatusID)
	switch out.Verdict {
	case CompilationError:
		out.CompileError = res.CompileOutput
	case RuntimeError:
		out.RuntimeError = res.Stderr
	}
	return out
}

// Aggregate evaluates results against tests position by position.
//
// The overall verdict is Accepted only when every test is; otherwise it is the
// verdict of the last non-accepted test. Compile and runtime error text come from
// the first result that carries them.
func Aggregate(tests []model.TestCase, results []model.JudgeResult) (Summary, error) {
	if len(tests) != len(results) {
		return Summary{}, fmt.Errorf("result count %d does not match test count %d", len(results), len(tests))
	}

	s := Summary{
		Verdict:    Accepted,
		TotalTests: len(tests),
		Tests:      make([]TestOutcome, 0, len(tests)),
	}
	if len(tests) == 0 {
		s.Verdict = Unknown
		return s, nil
	}

	var totalSeconds float64
	for i, tc := range tests {
		res := results[i]
		outcome := Evaluate(i+1, tc, res)
		s.Tests = append(s.Tests, outcome)

		totalSeconds += res.TimeSeconds
		if res.MemoryKb > s.MaxMemoryKb {
			s.MaxMemoryKb = res.MemoryKb
		}
		if s.CompileError == "" && res.CompileOutput != "" {
			s.CompileError = res.CompileOutput
		}
		if s.RuntimeError == "" && res.Stderr != "" {
			s.RuntimeError = res.Stderr
		}

		if outcome.Verdict.Passed() {
			s.TestsPassed++
		} else {
			s.Verdict = outcome.Verdict
		}
	}
	s.TotalTimeMs = secondsToMs(totalSeconds)
	return s, nil
}

func secondsToMs(sec float64) int64 {
	return int64(math.Round(sec * 1000))
}

// FormatTime renders milliseconds the way the API reports them, e.g. "123ms".
func FormatTime(ms int64) string {
	return fmt.Sprintf("%dms", ms)
}

// FormatMemory renders kilobytes as whole megabytes, e.g. "45MB".
func FormatMemory(kb int64) string {
	return fmt.Sprintf("%dMB", int64(math.Round(float64(kb)/1024)))
}
