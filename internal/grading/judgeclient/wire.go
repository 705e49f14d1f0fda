package judgeclient

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"judgeflow/internal/grading/model"
)

type batchSubmitRequest struct {
	Submissions []submissionPayload `json:"submissions"`
}

type submissionPayload struct {
	SourceCode     string  `json:"source_code"`
	LanguageID     int     `json:"language_id"`
	Stdin          string  `json:"stdin"`
	ExpectedOutput string  `json:"expected_output"`
	CPUTimeLimit   float64 `json:"cpu_time_limit,omitempty"`
	MemoryLimit    int64   `json:"memory_limit,omitempty"`
}

type tokenEntry struct {
	Token string `json:"token"`
}

type statusEnvelope struct {
	Submissions []wireResult `json:"submissions"`
}

type wireStatus struct {
	ID int `json:"id"`
}

// wireResult accepts both the flat status_id field and the nested status object.
type wireResult struct {
	Token         string      `json:"token"`
	Stdout        *string     `json:"stdout"`
	Stderr        *string     `json:"stderr"`
	CompileOutput *string     `json:"compile_output"`
	StatusID      *int        `json:"status_id"`
	Status        *wireStatus `json:"status"`
	Time          flexNumber  `json:"time"`
	Memory        flexNumber  `json:"memory"`
}

// flexNumber decodes numbers that may arrive as JSON numbers, numeric strings or null.
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	*f = flexNumber(v)
	return nil
}

func (w wireResult) toModel() model.JudgeResult {
	status := 0
	switch {
	case w.StatusID != nil:
		status = *w.StatusID
	case w.Status != nil:
		status = w.Status.ID
	}
	return model.JudgeResult{
		Token:         w.Token,
		Stdout:        decodeField(w.Stdout),
		Stderr:        decodeField(w.Stderr),
		CompileOutput: decodeField(w.CompileOutput),
		StatusID:      status,
		TimeSeconds:   float64(w.Time),
		MemoryKb:      int64(w.Memory),
	}
}

func encodeField(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// decodeField decodes a base64 text field. The sandbox wraps long values with
// newlines, so whitespace is dropped first. Undecodable values are returned as-is.
func decodeField(p *string) string {
	if p == nil {
		return ""
	}
	compact := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, *p)
	out, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return *p
	}
	return string(out)
}

// decodeStatusBody accepts {"submissions":[...]} and a bare array.
func decodeStatusBody(body []byte) ([]wireResult, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []wireResult
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var env statusEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, err
	}
	return env.Submissions, nil
}
