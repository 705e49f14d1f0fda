package judgeclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"judgeflow/internal/grading/model"
	appErr "judgeflow/pkg/errors"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

type fakeObserver struct {
	mu       sync.Mutex
	profile  string
	attempts int
	complete bool
}

func (o *fakeObserver) ObservePoll(profile string, attempts int, complete bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.profile, o.attempts, o.complete = profile, attempts, complete
}

func fastProfile(attempts int) Profile {
	return Profile{Name: "test", MaxAttempts: attempts, Interval: time.Millisecond}
}

func TestBatchSubmitEncodesPayload(t *testing.T) {
	var got batchSubmitRequest
	var auth, xauth, query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/submissions/batch" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		xauth = r.Header.Get("X-Auth-Token")
		query = r.URL.RawQuery
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`[{"token":"t1"},{"token":"t2"}]`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/", AuthToken: "secret"})
	tests := []model.TestCase{
		{Ordinal: 1, Input: "1 2\n", ExpectedOutput: "3\n"},
		{Ordinal: 2, Input: "5 5\n", ExpectedOutput: "10\n"},
	}
	tokens, err := c.BatchSubmit(context.Background(), "print(sum)", 71, tests, 1500, 256)
	if err != nil {
		t.Fatalf("BatchSubmit failed: %v", err)
	}
	if len(tokens) != 2 || tokens[0] != "t1" || tokens[1] != "t2" {
		t.Fatalf("unexpected tokens %v", tokens)
	}
	if auth != "Bearer secret" || xauth != "secret" {
		t.Fatalf("auth headers not sent: %q %q", auth, xauth)
	}
	if !strings.Contains(query, "base64_encoded=true") {
		t.Fatalf("expected base64 flag, got %q", query)
	}
	if len(got.Submissions) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(got.Submissions))
	}
	first := got.Submissions[0]
	if first.SourceCode != b64("print(sum)") || first.Stdin != b64("1 2\n") || first.ExpectedOutput != b64("3\n") {
		t.Fatalf("payload not base64 encoded: %+v", first)
	}
	if first.LanguageID != 71 || first.CPUTimeLimit != 1.5 || first.MemoryLimit != 256*1024 {
		t.Fatalf("unexpected limits: %+v", first)
	}
}

func TestBatchSubmitFailures(t *testing.T) {
	t.Run("unconfigured", func(t *testing.T) {
		c := New(Config{})
		_, err := c.BatchSubmit(context.Background(), "x", 1, []model.TestCase{{Ordinal: 1}}, 1000, 64)
		if !appErr.Is(err, appErr.JudgeUnavailable) {
			t.Fatalf("expected JudgeUnavailable, got %v", err)
		}
		if appErr.GetCode(err).HTTPStatus() != http.StatusServiceUnavailable {
			t.Fatalf("expected 503 mapping")
		}
	})

	t.Run("non-2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()
		_, err := New(Config{BaseURL: srv.URL}).BatchSubmit(context.Background(), "x", 1, []model.TestCase{{Ordinal: 1}}, 1000, 64)
		if !appErr.Is(err, appErr.JudgeUnavailable) {
			t.Fatalf("expected JudgeUnavailable, got %v", err)
		}
	})

	t.Run("no usable tokens", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[{"error":"language not found"},{"token":""}]`))
		}))
		defer srv.Close()
		_, err := New(Config{BaseURL: srv.URL}).BatchSubmit(context.Background(), "x", 1, []model.TestCase{{Ordinal: 1}, {Ordinal: 2}}, 1000, 64)
		if !appErr.Is(err, appErr.PartialJudgeFailure) {
			t.Fatalf("expected PartialJudgeFailure, got %v", err)
		}
		if appErr.GetCode(err).HTTPStatus() != http.StatusInternalServerError {
			t.Fatalf("expected 500 mapping")
		}
	})

	t.Run("partial tokens keep positions", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[{"error":"bad"},{"token":"t2"}]`))
		}))
		defer srv.Close()
		tokens, err := New(Config{BaseURL: srv.URL}).BatchSubmit(context.Background(), "x", 1, []model.TestCase{{Ordinal: 1}, {Ordinal: 2}}, 1000, 64)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tokens) != 2 || tokens[0] != "" || tokens[1] != "t2" {
			t.Fatalf("unexpected tokens %v", tokens)
		}
	})
}

func TestPollStopsOnceAllTerminal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		status := 2
		if n >= 2 {
			status = 3
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"submissions": []map[string]interface{}{
				{"token": "a", "status_id": status, "stdout": b64("3\n"), "time": "0.012", "memory": 1024},
				{"token": "b", "status": map[string]int{"id": status}, "stdout": b64("10\n"), "time": 0.02, "memory": 2048},
			},
		})
	}))
	defer srv.Close()

	obs := &fakeObserver{}
	c := New(Config{BaseURL: srv.URL}, WithObserver(obs))
	results, err := c.Poll(context.Background(), []string{"a", "b"}, fastProfile(10))
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 status calls, got %d", got)
	}
	if results[0].Stdout != "3\n" || results[1].Stdout != "10\n" {
		t.Fatalf("stdout not decoded: %+v", results)
	}
	if results[0].TimeSeconds != 0.012 || results[1].MemoryKb != 2048 {
		t.Fatalf("metrics not decoded: %+v", results)
	}
	if obs.attempts != 2 || !obs.complete || obs.profile != "test" {
		t.Fatalf("unexpected observation %+v", obs)
	}
}

func TestPollReturnsLastSnapshotWhenExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"submissions":[{"token":"a","status_id":3},{"token":"b","status_id":2}]}`))
	}))
	defer srv.Close()

	results, err := New(Config{BaseURL: srv.URL}).Poll(context.Background(), []string{"a", "b"}, fastProfile(3))
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 status calls, got %d", got)
	}
	if results[0].StatusID != 3 || results[1].StatusID != 2 {
		t.Fatalf("unexpected snapshot %+v", results)
	}
}

func TestPollReordersByTokenAndFillsGaps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens := r.URL.Query().Get("tokens")
		if tokens != "a,c" {
			t.Errorf("unexpected tokens query %q", tokens)
		}
		_, _ = w.Write([]byte(`[{"token":"c","status_id":4,"stdout":"` + b64("second") + `"},{"token":"a","status_id":3,"stdout":"` + b64("first") + `"}]`))
	}))
	defer srv.Close()

	results, err := New(Config{BaseURL: srv.URL}).Poll(context.Background(), []string{"a", "", "c"}, fastProfile(2))
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Stdout != "first" || results[2].Stdout != "second" {
		t.Fatalf("results not aligned with tokens: %+v", results)
	}
	if results[1].StatusID != StatusInternalError {
		t.Fatalf("expected internal error placeholder, got %+v", results[1])
	}
}

func TestPollKeepsSnapshotAfterFailedFetch(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			_, _ = w.Write([]byte(`{"submissions":[{"token":"a","status_id":2,"stdout":"` + b64("partial") + `"}]}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	results, err := New(Config{BaseURL: srv.URL}).Poll(context.Background(), []string{"a"}, fastProfile(3))
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("failed fetches must count as attempts, got %d calls", got)
	}
	if results[0].Stdout != "partial" || results[0].StatusID != 2 {
		t.Fatalf("expected previous snapshot, got %+v", results[0])
	}
}

func TestPollHonoursContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"submissions":[{"token":"a","status_id":1}]}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	profile := Profile{Name: "slow", MaxAttempts: 100, Interval: 10 * time.Millisecond}
	start := time.Now()
	_, err := New(Config{BaseURL: srv.URL}).Poll(ctx, []string{"a"}, profile)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("poll did not stop promptly")
	}
}

func TestRunSubmitsThenPolls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`[{"token":"only"}]`))
			return
		}
		_, _ = w.Write([]byte(`{"submissions":[{"token":"only","status_id":6,"compile_output":"` + b64("syntax error") + `"}]}`))
	}))
	defer srv.Close()

	results, err := New(Config{BaseURL: srv.URL}).Run(context.Background(), "x", 54, []model.TestCase{{Ordinal: 1}}, 1000, 64, fastProfile(5))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 1 || results[0].CompileOutput != "syntax error" {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestDecodeFieldToleratesWrappedBase64(t *testing.T) {
	raw := b64(strings.Repeat("abcdefghij", 10))
	wrapped := raw[:60] + "\n" + raw[60:] + "\n"
	if got := decodeField(&wrapped); got != strings.Repeat("abcdefghij", 10) {
		t.Fatalf("unexpected decode %q", got)
	}
	plain := "not base64!"
	if got := decodeField(&plain); got != plain {
		t.Fatalf("expected raw fallback, got %q", got)
	}
}
