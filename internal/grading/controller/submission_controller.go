package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"

	commonmw "judgeflow/internal/common/http/middleware"
	"judgeflow/internal/grading/model"
	"judgeflow/internal/grading/service"
	"judgeflow/internal/grading/verdict"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// Grader is the grading surface the controller needs.
type Grader interface {
	Submit(ctx context.Context, input service.SubmitInput) (*service.GradeResult, error)
	RunSamples(ctx context.Context, input service.SubmitInput) (*service.GradeResult, error)
}

// SubmissionController handles grading HTTP endpoints.
type SubmissionController struct {
	grader Grader
}

// NewSubmissionController creates a new SubmissionController.
func NewSubmissionController(grader Grader) *SubmissionController {
	return &SubmissionController{grader: grader}
}

// Submit grades a submission against the full test suite.
func (h *SubmissionController) Submit(c *gin.Context) {
	h.handle(c, h.grader.Submit)
}

// Run grades a submission against the sample tests only.
func (h *SubmissionController) Run(c *gin.Context) {
	h.handle(c, h.grader.RunSamples)
}

func (h *SubmissionController) handle(c *gin.Context, grade func(context.Context, service.SubmitInput) (*service.GradeResult, error)) {
	userID, ok := commonmw.UserID(c)
	if !ok {
		response.Unauthorized(c, "")
		return
	}

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	result, err := grade(c.Request.Context(), service.SubmitInput{
		UserID:     userID,
		Problem:    model.ProblemRef{SheetID: req.SheetID, ProblemID: req.ProblemID},
		LanguageID: req.LanguageID,
		SourceCode: req.SourceCode,
		Telemetry:  parseTelemetry(req.Telemetry),
	})
	if err != nil {
		setRetryAfter(c, err)
		response.Error(c, err)
		return
	}
	response.Success(c, newGradeResponse(result))
}

// setRetryAfter mirrors the rate limit wait into the Retry-After header.
func setRetryAfter(c *gin.Context, err error) {
	if !appErr.Is(err, appErr.SubmitTooFrequently) {
		return
	}
	if wait, ok := appErr.GetError(err).Details["wait_seconds"]; ok {
		c.Header("Retry-After", fmt.Sprint(wait))
	}
}

func newGradeResponse(result *service.GradeResult) GradeResponse {
	summary := result.Summary
	resp := GradeResponse{
		SubmissionID:  result.SubmissionID,
		Verdict:       string(summary.Verdict),
		Passed:        summary.Passed(),
		TestsPassed:   summary.TestsPassed,
		TotalTests:    summary.TotalTests,
		Time:          verdict.FormatTime(summary.TotalTimeMs),
		Memory:        verdict.FormatMemory(summary.MaxMemoryKb),
		AttemptNumber: result.AttemptNumber,
		Results:       make([]TestResult, 0, len(summary.Tests)),
		Warning:       result.Warning,
	}
	for _, t := range summary.Tests {
		resp.Results = append(resp.Results, TestResult{
			TestCase:     t.Index,
			Verdict:      string(t.Verdict),
			Passed:       t.Verdict.Passed(),
			Time:         verdict.FormatTime(t.TimeMs),
			Memory:       verdict.FormatMemory(t.MemoryKb),
			Output:       t.Output,
			CompileError: t.CompileError,
			RuntimeError: t.RuntimeError,
		})
	}
	return resp
}

// SubmitRequest defines the grading payload.
type SubmitRequest struct {
	SheetID    string          `json:"sheetId" binding:"required"`
	ProblemID  string          `json:"problemId" binding:"required"`
	SourceCode string          `json:"sourceCode" binding:"required"`
	LanguageID int             `json:"languageId" binding:"required"`
	Telemetry  json.RawMessage `json:"telemetry"`
}

type telemetryFields struct {
	TabSwitches        json.RawMessage `json:"tabSwitches"`
	PasteEvents        json.RawMessage `json:"pasteEvents"`
	TimeToSolveSeconds json.RawMessage `json:"timeToSolveSeconds"`
}

// parseTelemetry keeps numeric values only. Anything else counts as not reported.
func parseTelemetry(raw json.RawMessage) model.Telemetry {
	var t model.Telemetry
	var fields telemetryFields
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil {
		return t
	}
	t.TabSwitches = telemetryCount(fields.TabSwitches)
	t.PasteEvents = telemetryCount(fields.PasteEvents)
	if v, ok := telemetryNumber(fields.TimeToSolveSeconds); ok {
		t.TimeToSolveSeconds = &v
	}
	return t
}

func telemetryNumber(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

func telemetryCount(raw json.RawMessage) int {
	v, ok := telemetryNumber(raw)
	if !ok || v < 0 || v > math.MaxInt32 {
		return 0
	}
	return int(v)
}

// GradeResponse defines the grading response payload.
type GradeResponse struct {
	SubmissionID  string       `json:"submissionId,omitempty"`
	Verdict       string       `json:"verdict"`
	Passed        bool         `json:"passed"`
	TestsPassed   int          `json:"testsPassed"`
	TotalTests    int          `json:"totalTests"`
	Time          string       `json:"time"`
	Memory        string       `json:"memory"`
	AttemptNumber int          `json:"attemptNumber,omitempty"`
	Results       []TestResult `json:"results"`
	Warning       string       `json:"warning,omitempty"`
}

// TestResult is the per-test part of GradeResponse. TestCase is 1-based.
type TestResult struct {
	TestCase     int    `json:"testCase"`
	Verdict      string `json:"verdict"`
	Passed       bool   `json:"passed"`
	Time         string `json:"time"`
	Memory       string `json:"memory"`
	Output       string `json:"output"`
	CompileError string `json:"compileError,omitempty"`
	RuntimeError string `json:"runtimeError,omitempty"`
}
