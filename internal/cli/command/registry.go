package command

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Registry returns all grading commands keyed by name.
func Registry() map[string]Command {
	commands := []Command{
		{
			Name:         "submit",
			Usage:        "submit sheet=1500 problem=A language=54 file=./main.cpp [time_to_solve=120]",
			Method:       http.MethodPost,
			Path:         "/api/v1/submissions",
			RequiresAuth: true,
			Fields:       submissionFields(),
		},
		{
			Name:         "run",
			Usage:        "run sheet=1500 problem=A language=54 file=./main.cpp",
			Method:       http.MethodPost,
			Path:         "/api/v1/submissions/run",
			RequiresAuth: true,
			Fields:       submissionFields(),
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Name] = cmd
	}
	return result
}

func submissionFields() []Field {
	return []Field{
		{Name: "sheet_id", Aliases: []string{"sheet"}, Prompt: "sheet_id", Type: FieldString, Required: true},
		{Name: "problem_id", Aliases: []string{"problem"}, Prompt: "problem_id", Type: FieldString, Required: true},
		{Name: "language_id", Aliases: []string{"language", "lang"}, Prompt: "language_id", Type: FieldInt, Required: true},
		{Name: "source_code", Aliases: []string{"code"}, Prompt: "source_code", Type: FieldString, Required: true},
		{Name: "source_file", Aliases: []string{"file"}, Prompt: "source_file", Type: FieldFile},
		{Name: "time_to_solve", Prompt: "time_to_solve (seconds)", Type: FieldFloat},
		{Name: "tab_switches", Prompt: "tab_switches", Type: FieldInt},
		{Name: "paste_events", Prompt: "paste_events", Type: FieldInt},
	}
}

type telemetryPayload struct {
	TabSwitches        int      `json:"tabSwitches"`
	PasteEvents        int      `json:"pasteEvents"`
	TimeToSolveSeconds *float64 `json:"timeToSolveSeconds,omitempty"`
}

type submissionPayload struct {
	SheetID    string           `json:"sheetId"`
	ProblemID  string           `json:"problemId"`
	LanguageID int              `json:"languageId"`
	SourceCode string           `json:"sourceCode"`
	Telemetry  telemetryPayload `json:"telemetry"`
}

// BuildRequest turns a command and its params into an HTTP request.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	payload, err := buildSubmissionPayload(params)
	if err != nil {
		return RequestSpec{}, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
	}
	return RequestSpec{
		Method:  cmd.Method,
		Path:    cmd.Path,
		Headers: map[string]string{},
		Body:    body,
	}, nil
}

func buildSubmissionPayload(params Params) (submissionPayload, error) {
	var payload submissionPayload
	payload.SheetID = params.Get("sheet_id")
	payload.ProblemID = params.Get("problem_id")
	if payload.SheetID == "" || payload.ProblemID == "" {
		return payload, fmt.Errorf("sheet_id and problem_id are required")
	}

	languageID, err := ParseInt(params.Get("language_id"))
	if err != nil {
		return payload, fmt.Errorf("invalid language_id: %w", err)
	}
	payload.LanguageID = languageID

	sourceCode := params.Get("source_code")
	if sourceCode == "" && params.Get("source_file") != "" {
		sourceCode, err = ReadFile(params.Get("source_file"))
		if err != nil {
			return payload, err
		}
	}
	if sourceCode == "" {
		return payload, fmt.Errorf("source_code is required")
	}
	payload.SourceCode = sourceCode

	if raw := params.Get("time_to_solve"); raw != "" {
		seconds, err := ParseFloat(raw)
		if err != nil {
			return payload, fmt.Errorf("invalid time_to_solve: %w", err)
		}
		payload.Telemetry.TimeToSolveSeconds = &seconds
	}
	if raw := params.Get("tab_switches"); raw != "" {
		if payload.Telemetry.TabSwitches, err = ParseInt(raw); err != nil {
			return payload, fmt.Errorf("invalid tab_switches: %w", err)
		}
	}
	if raw := params.Get("paste_events"); raw != "" {
		if payload.Telemetry.PasteEvents, err = ParseInt(raw); err != nil {
			return payload, fmt.Errorf("invalid paste_events: %w", err)
		}
	}
	return payload, nil
}
