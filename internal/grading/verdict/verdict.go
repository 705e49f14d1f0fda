// Package verdict turns sandbox results into per-test and overall verdicts.
package verdict

// Verdict is the canonical outcome category of a test or a submission.
type Verdict string

const (
	Accepted          Verdict = "Accepted"
	WrongAnswer       Verdict = "Wrong Answer"
	TimeLimitExceeded Verdict = "Time Limit Exceeded"
	CompilationError  Verdict = "Compilation Error"
	RuntimeError      Verdict = "Runtime Error"
	InternalError     Verdict = "Internal Error"
	Unknown           Verdict = "Unknown"
)

// statusTable maps every known sandbox status id to a category.
// Ids 3 and 4 both mean the program ran to completion; the comparator decides.
var statusTable = map[int]Verdict{
	1:  Unknown, // In Queue
	2:  Unknown, // Processing
	3:  Accepted,
	4:  WrongAnswer,
	5:  TimeLimitExceeded,
	6:  CompilationError,
	7:  RuntimeError, // SIGSEGV
	8:  RuntimeError, // SIGXFSZ
	9:  RuntimeError, // SIGFPE
	10: RuntimeError, // SIGABRT
	11: RuntimeError, // NZEC
	12: RuntimeError, // Other
	13: InternalError,
	14: RuntimeError, // Exec Format Error
}

// FromStatus returns the category of a sandbox status id. Unlisted ids map to Unknown.
func FromStatus(statusID int) Verdict {
	if v, ok := statusTable[statusID]; ok {
		return v
	}
	return Unknown
}

// ranToCompletion reports whether the program exited normally and produced output to compare.
func ranToCompletion(statusID int) bool {
	return statusID == 3 || statusID == 4
}

// Passed reports whether v is Accepted.
func (v Verdict) Passed() bool {
	return v == Accepted
}
