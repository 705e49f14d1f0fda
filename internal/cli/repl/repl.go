package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"judgeflow/internal/cli/command"
	httpclient "judgeflow/internal/cli/http"
	"judgeflow/internal/cli/state"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const (
	Prompt         = "judgeflow> "
	maxOutputChars = 200
)

// PromptFunc asks the user for a missing value.
type PromptFunc func(label string) (string, error)

// Session holds REPL state.
type Session struct {
	client    *httpclient.Client
	commands  map[string]command.Command
	state     *state.SessionState
	statePath string
	rawJSON   bool
	out       io.Writer
}

func New(client *httpclient.Client, commands map[string]command.Command, st *state.SessionState, statePath string, rawJSON bool, out io.Writer) *Session {
	return &Session{
		client:    client,
		commands:  commands,
		state:     st,
		statePath: statePath,
		rawJSON:   rawJSON,
		out:       out,
	}
}

// NewReadline builds a line editor with history and command completion.
func NewReadline(historyPath string, commands map[string]command.Command) (*readline.Instance, error) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	items := make([]readline.PrefixCompleterInterface, 0, len(names)+6)
	for _, name := range names {
		items = append(items, readline.PcItem(name))
	}
	items = append(items,
		readline.PcItem("login"),
		readline.PcItem("logout"),
		readline.PcItem("set",
			readline.PcItem("base"),
			readline.PcItem("timeout"),
			readline.PcItem("token"),
			readline.PcItem("sheet"),
			readline.PcItem("language"),
		),
		readline.PcItem("show", readline.PcItem("token"), readline.PcItem("config")),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
	return readline.NewEx(&readline.Config{
		Prompt:          Prompt,
		HistoryFile:     historyPath,
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
}

// Run reads lines until exit, EOF or ctx cancellation.
func (s *Session) Run(ctx context.Context, rl *readline.Instance) {
	prompt := func(label string) (string, error) {
		rl.SetPrompt(label + ": ")
		defer rl.SetPrompt(Prompt)
		line, err := rl.Readline()
		if err != nil {
			return "", fmt.Errorf("read input failed: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	for ctx.Err() == nil {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			s.printLine("read input failed: %v", err)
			return
		}
		quit, err := s.Execute(ctx, line, prompt)
		if err != nil {
			s.printLine("error: %v", err)
		}
		if quit {
			return
		}
	}
}

// Execute runs one input line. prompt may be nil, in which case missing
// required values are reported as errors.
func (s *Session) Execute(ctx context.Context, line string, prompt PromptFunc) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	tokens, err := shlex.Split(line)
	if err != nil {
		return false, fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return false, nil
	}

	switch tokens[0] {
	case "exit", "quit":
		s.printLine("bye")
		return true, nil
	case "help":
		s.printHelp()
		return false, nil
	case "login":
		return false, s.handleLogin(tokens[1:])
	case "logout":
		s.state.AccessToken = ""
		if err := state.Save(s.statePath, *s.state); err != nil {
			return false, err
		}
		s.printLine("token cleared")
		return false, nil
	case "set":
		return false, s.handleSet(tokens[1:])
	case "show":
		s.handleShow(tokens[1:])
		return false, nil
	}

	cmd, ok := s.commands[tokens[0]]
	if !ok {
		return false, fmt.Errorf("unknown command: %s (try help)", tokens[0])
	}
	return false, s.handleCommand(ctx, cmd, tokens[1:], prompt)
}

func (s *Session) handleLogin(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: login <access_token>")
	}
	s.state.AccessToken = args[0]
	if err := state.Save(s.statePath, *s.state); err != nil {
		return err
	}
	s.printLine("token saved")
	return nil
}

func (s *Session) handleSet(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set base|timeout|token|sheet|language <value>")
	}
	value := args[1]
	switch args[0] {
	case "base":
		s.client.SetBaseURL(value)
		s.printLine("base set to %s", value)
		return nil
	case "timeout":
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
		return nil
	case "token":
		s.state.AccessToken = value
	case "sheet":
		s.state.DefaultSheet = value
	case "language":
		if _, err := command.ParseInt(value); err != nil {
			return fmt.Errorf("invalid language id: %w", err)
		}
		s.state.DefaultLanguage = value
	default:
		return fmt.Errorf("unknown set target: %s", args[0])
	}
	if err := state.Save(s.statePath, *s.state); err != nil {
		return err
	}
	s.printLine("%s updated", args[0])
	return nil
}

func (s *Session) handleShow(args []string) {
	if len(args) == 0 {
		s.printLine("usage: show token|config")
		return
	}
	switch args[0] {
	case "token":
		s.printLine("token: %s", maskToken(s.state.AccessToken))
	case "config":
		s.printLine("statePath: %s", s.statePath)
		s.printLine("sheet: %s", orEmpty(s.state.DefaultSheet))
		s.printLine("language: %s", orEmpty(s.state.DefaultLanguage))
	default:
		s.printLine("usage: show token|config")
	}
}

func (s *Session) handleCommand(ctx context.Context, cmd command.Command, args []string, prompt PromptFunc) error {
	params, err := command.ParseParams(args)
	if err != nil {
		return err
	}
	params.Canonicalize(cmd.Fields)
	s.applyDefaults(params)
	if err := promptMissing(cmd, params, prompt); err != nil {
		return err
	}

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	env, info, err := s.client.Call(ctx, req.Method, req.Path, req.Body)
	var apiErr *httpclient.APIError
	switch {
	case errors.As(err, &apiErr):
		s.renderStatus(info)
		s.renderAPIError(apiErr)
		return nil
	case err != nil:
		if info.StatusCode != 0 && s.rawJSON {
			s.renderStatus(info)
			s.printLine("%s", string(info.Body))
		}
		return err
	}

	s.renderStatus(info)
	if s.rawJSON {
		s.printLine("%s", string(info.Body))
		return nil
	}
	var result gradeResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		s.printLine("%s", string(env.Data))
		return nil
	}
	s.renderGrade(result)
	return nil
}

func (s *Session) applyDefaults(params command.Params) {
	if params.Get("sheet_id") == "" && s.state.DefaultSheet != "" {
		params.Set("sheet_id", s.state.DefaultSheet)
	}
	if params.Get("language_id") == "" && s.state.DefaultLanguage != "" {
		params.Set("language_id", s.state.DefaultLanguage)
	}
}

func promptMissing(cmd command.Command, params command.Params, prompt PromptFunc) error {
	for _, field := range cmd.Fields {
		if !field.Required || params.Get(field.Name) != "" {
			continue
		}
		if field.Name == "source_code" && params.Get("source_file") != "" {
			continue
		}
		if prompt == nil {
			return fmt.Errorf("missing required field: %s", field.Name)
		}
		value, err := prompt(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

type gradeResult struct {
	SubmissionID  string       `json:"submissionId"`
	Verdict       string       `json:"verdict"`
	Passed        bool         `json:"passed"`
	TestsPassed   int          `json:"testsPassed"`
	TotalTests    int          `json:"totalTests"`
	Time          string       `json:"time"`
	Memory        string       `json:"memory"`
	AttemptNumber int          `json:"attemptNumber"`
	Results       []testResult `json:"results"`
	Warning       string       `json:"warning"`
}

type testResult struct {
	TestCase     int    `json:"testCase"`
	Verdict      string `json:"verdict"`
	Passed       bool   `json:"passed"`
	Time         string `json:"time"`
	Memory       string `json:"memory"`
	Output       string `json:"output"`
	CompileError string `json:"compileError"`
	RuntimeError string `json:"runtimeError"`
}

func (s *Session) renderStatus(info httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", info.StatusCode, info.Duration.Round(time.Millisecond))
}

func (s *Session) renderAPIError(e *httpclient.APIError) {
	s.printLine("%s", e.Error())
	if e.RetryAfter > 0 {
		s.printLine("retry in %s", e.RetryAfter)
	} else if wait, ok := e.Details["wait_seconds"]; ok {
		s.printLine("retry in %vs", wait)
	}
	if e.Unauthorized() {
		s.printLine("token rejected, use: login <access_token>")
	}
	if e.TraceID != "" {
		s.printLine("trace: %s", e.TraceID)
	}
}

func (s *Session) renderGrade(r gradeResult) {
	s.printLine("%s  %d/%d passed  time %s  memory %s", r.Verdict, r.TestsPassed, r.TotalTests, r.Time, r.Memory)
	if r.SubmissionID != "" {
		s.printLine("submission %s (attempt #%d)", r.SubmissionID, r.AttemptNumber)
	}
	for _, t := range r.Results {
		mark := "x"
		if t.Passed {
			mark = "ok"
		}
		s.printLine("  #%-3d %-2s %-22s %6s %6s", t.TestCase, mark, t.Verdict, t.Time, t.Memory)
		if t.CompileError != "" {
			s.printLine("       compile: %s", truncate(t.CompileError))
		}
		if t.RuntimeError != "" {
			s.printLine("       stderr: %s", truncate(t.RuntimeError))
		}
		if !t.Passed && t.Output != "" {
			s.printLine("       output: %s", truncate(t.Output))
		}
	}
	if r.Warning != "" {
		s.printLine("warning: %s", r.Warning)
	}
}

func (s *Session) printHelp() {
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	s.printLine("commands:")
	for _, name := range names {
		s.printLine("  %s", s.commands[name].Usage)
	}
	s.printLine("system: login <token> | logout | set base|timeout|token|sheet|language <value> | show token|config | help | exit")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}

func maskToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	if len(token) > 12 {
		return token[:6] + "..." + token[len(token)-4:]
	}
	return token
}

func truncate(value string) string {
	value = strings.ReplaceAll(strings.TrimSpace(value), "\n", "\\n")
	if len(value) > maxOutputChars {
		return value[:maxOutputChars] + "..."
	}
	return value
}

func orEmpty(value string) string {
	if value == "" {
		return "<empty>"
	}
	return value
}
