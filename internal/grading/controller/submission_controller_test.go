package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"judgeflow/internal/auth"
	commonmw "judgeflow/internal/common/http/middleware"
	"judgeflow/internal/grading/service"
	"judgeflow/internal/grading/verdict"
	appErr "judgeflow/pkg/errors"

	"github.com/gin-gonic/gin"
)

type fakeGrader struct {
	result *service.GradeResult
	err    error
	input  service.SubmitInput
	mode   string
}

func (f *fakeGrader) Submit(_ context.Context, in service.SubmitInput) (*service.GradeResult, error) {
	f.input, f.mode = in, "submit"
	return f.result, f.err
}

func (f *fakeGrader) RunSamples(_ context.Context, in service.SubmitInput) (*service.GradeResult, error) {
	f.input, f.mode = in, "run"
	return f.result, f.err
}

type staticAuthenticator struct{}

func (staticAuthenticator) Authenticate(_ context.Context, raw string) (auth.UserInfo, error) {
	if raw != "token" {
		return auth.UserInfo{}, appErr.New(appErr.TokenInvalid)
	}
	return auth.UserInfo{ID: 7}, nil
}

type envelope struct {
	Code    int                    `json:"code"`
	Data    GradeResponse          `json:"data"`
	Details map[string]interface{} `json:"details"`
}

func newRouter(grader Grader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewSubmissionController(grader)
	api := r.Group("/api/v1/submissions", commonmw.Auth(staticAuthenticator{}))
	api.POST("", h.Submit)
	api.POST("/run", h.Run)
	r.POST("/anonymous", h.Submit)
	return r
}

func post(r http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func validBody() map[string]interface{} {
	return map[string]interface{}{
		"sheetId":    "s1",
		"problemId":  "A",
		"sourceCode": "print(1)",
		"languageId": 71,
		"telemetry":  map[string]interface{}{"tabSwitches": 2, "pasteEvents": 1, "timeToSolveSeconds": 95.5},
	}
}

func gradedResult() *service.GradeResult {
	return &service.GradeResult{
		SubmissionID:  "sub-1",
		AttemptNumber: 2,
		Summary: verdict.Summary{
			Verdict:     verdict.WrongAnswer,
			TestsPassed: 1,
			TotalTests:  2,
			TotalTimeMs: 123,
			MaxMemoryKb: 46080,
			Tests: []verdict.TestOutcome{
				{Index: 1, Verdict: verdict.Accepted, TimeMs: 60, MemoryKb: 46080, Output: "1"},
				{Index: 2, Verdict: verdict.WrongAnswer, TimeMs: 63, MemoryKb: 2048, Output: "3"},
			},
		},
	}
}

func TestSubmitRendersResult(t *testing.T) {
	grader := &fakeGrader{result: gradedResult()}
	w := post(newRouter(grader), "/api/v1/submissions", validBody())

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp envelope
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	data := resp.Data
	if data.Verdict != "Wrong Answer" || data.Passed || data.TestsPassed != 1 || data.TotalTests != 2 {
		t.Fatalf("unexpected summary: %+v", data)
	}
	if data.Time != "123ms" || data.Memory != "45MB" || data.AttemptNumber != 2 || data.SubmissionID != "sub-1" {
		t.Fatalf("unexpected formatting: %+v", data)
	}
	if len(data.Results) != 2 || data.Results[0].TestCase != 1 || !data.Results[0].Passed || data.Results[1].Passed {
		t.Fatalf("unexpected per-test results: %+v", data.Results)
	}
	if grader.mode != "submit" || grader.input.UserID != 7 || grader.input.Problem.ProblemID != "A" {
		t.Fatalf("unexpected service input: %+v", grader.input)
	}
	if tts := grader.input.Telemetry.TimeToSolveSeconds; tts == nil || *tts != 95.5 || grader.input.Telemetry.TabSwitches != 2 {
		t.Fatalf("telemetry not forwarded: %+v", grader.input.Telemetry)
	}
}

func TestRunUsesSampleGrading(t *testing.T) {
	grader := &fakeGrader{result: &service.GradeResult{Summary: verdict.Summary{Verdict: verdict.Accepted, TestsPassed: 1, TotalTests: 1}}}
	w := post(newRouter(grader), "/api/v1/submissions/run", validBody())
	if w.Code != http.StatusOK || grader.mode != "run" {
		t.Fatalf("expected sample run, got %d mode=%s", w.Code, grader.mode)
	}
}

func TestSubmitWarningIsStillSuccess(t *testing.T) {
	result := gradedResult()
	result.Warning = "not saved"
	w := post(newRouter(&fakeGrader{result: result}), "/api/v1/submissions", validBody())

	var resp envelope
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != http.StatusOK || resp.Data.Warning != "not saved" {
		t.Fatalf("expected 200 with warning, got %d %+v", w.Code, resp.Data)
	}
}

func TestSubmitErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"duplicate", appErr.New(appErr.DuplicateSubmission), http.StatusBadRequest},
		{"validation", appErr.ValidationError("sourceCode", "required"), http.StatusBadRequest},
		{"not found", appErr.New(appErr.ProblemNotFound), http.StatusNotFound},
		{"judge down", appErr.Unavailable(nil, "judge is not configured"), http.StatusServiceUnavailable},
		{"partial", appErr.New(appErr.PartialJudgeFailure), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(newRouter(&fakeGrader{err: tt.err}), "/api/v1/submissions", validBody())
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestSubmitRateLimitedSetsRetryAfter(t *testing.T) {
	w := post(newRouter(&fakeGrader{err: appErr.RateLimited(2)}), "/api/v1/submissions", validBody())

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "2" {
		t.Fatalf("expected Retry-After 2, got %q", w.Header().Get("Retry-After"))
	}
	var resp envelope
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Details["wait_seconds"] != float64(2) {
		t.Fatalf("expected wait_seconds detail, got %v", resp.Details)
	}
}

func TestSubmitRejectsBadRequests(t *testing.T) {
	r := newRouter(&fakeGrader{result: gradedResult()})

	body := validBody()
	delete(body, "sourceCode")
	if w := post(r, "/api/v1/submissions", body); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing source, got %d", w.Code)
	}
	if w := post(r, "/anonymous", validBody()); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without user, got %d", w.Code)
	}
}

func TestSubmitIgnoresMalformedTelemetry(t *testing.T) {
	tests := []struct {
		name      string
		telemetry interface{}
		wantTTS   *float64
		wantTabs  int
		wantPaste int
	}{
		{name: "string time to solve", telemetry: map[string]interface{}{"timeToSolveSeconds": "0", "tabSwitches": 1}, wantTabs: 1},
		{name: "fractional tab switches", telemetry: map[string]interface{}{"tabSwitches": 1.5, "pasteEvents": 3}, wantTabs: 1, wantPaste: 3},
		{name: "negative counts", telemetry: map[string]interface{}{"tabSwitches": -4, "pasteEvents": true}},
		{name: "null time to solve", telemetry: map[string]interface{}{"timeToSolveSeconds": nil}},
		{name: "telemetry not an object", telemetry: "lots"},
		{name: "zero time to solve kept", telemetry: map[string]interface{}{"timeToSolveSeconds": 0}, wantTTS: new(float64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grader := &fakeGrader{result: gradedResult()}
			body := validBody()
			body["telemetry"] = tt.telemetry
			w := post(newRouter(grader), "/api/v1/submissions", body)

			if w.Code != http.StatusOK || grader.mode != "submit" {
				t.Fatalf("expected graded submission, got %d mode=%q: %s", w.Code, grader.mode, w.Body.String())
			}
			got := grader.input.Telemetry
			if (got.TimeToSolveSeconds == nil) != (tt.wantTTS == nil) {
				t.Fatalf("unexpected time to solve: %v", got.TimeToSolveSeconds)
			}
			if tt.wantTTS != nil && *got.TimeToSolveSeconds != *tt.wantTTS {
				t.Fatalf("expected time to solve %v, got %v", *tt.wantTTS, *got.TimeToSolveSeconds)
			}
			if got.TabSwitches != tt.wantTabs || got.PasteEvents != tt.wantPaste {
				t.Fatalf("unexpected counters: %+v", got)
			}
		})
	}
}
