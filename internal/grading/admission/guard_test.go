package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/grading/model"
	appErr "judgeflow/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeHistory struct {
	mu       sync.Mutex
	hashes   map[string]bool
	count    int
	countErr error
}

func (f *fakeHistory) ExistsBySourceHash(_ context.Context, _ int64, _ model.ProblemRef, hash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashes[hash], nil
}

func (f *fakeHistory) CountByUserProblem(_ context.Context, _ int64, _ model.ProblemRef) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, f.countErr
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newGuard(t *testing.T, history *fakeHistory, clock *fakeClock) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rc, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	g, err := NewGuard(Config{Cache: rc, History: history, Now: clock.Now})
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	return g, mr
}

var problemA = model.ProblemRef{SheetID: "s1", ProblemID: "A"}

func TestAdmitRejectsSubmissionWithinInterval(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g, _ := newGuard(t, &fakeHistory{}, clock)
	ctx := context.Background()

	if _, err := g.Admit(ctx, Request{UserID: 7, Problem: problemA, SourceCode: "a"}); err != nil {
		t.Fatalf("first admit failed: %v", err)
	}

	clock.Advance(2000 * time.Millisecond)
	_, err := g.Admit(ctx, Request{UserID: 7, Problem: problemA, SourceCode: "b"})
	if !appErr.Is(err, appErr.SubmitTooFrequently) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if got := appErr.GetError(err).Details["wait_seconds"]; got != int64(1) {
		t.Fatalf("expected wait 1s, got %v", got)
	}
	if appErr.GetCode(err).HTTPStatus() != 429 {
		t.Fatalf("expected 429 mapping")
	}
}

func TestAdmitWaitRoundsUp(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g, _ := newGuard(t, &fakeHistory{}, clock)
	ctx := context.Background()

	_, _ = g.Admit(ctx, Request{UserID: 1, Problem: problemA, SourceCode: "a"})
	clock.Advance(500 * time.Millisecond)
	_, err := g.Admit(ctx, Request{UserID: 1, Problem: problemA, SourceCode: "b"})
	if got := appErr.GetError(err).Details["wait_seconds"]; got != int64(3) {
		t.Fatalf("expected wait 3s, got %v", got)
	}
}

func TestAdmitIntervalIsPerUserAcrossProblems(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g, _ := newGuard(t, &fakeHistory{}, clock)
	ctx := context.Background()

	if _, err := g.Admit(ctx, Request{UserID: 1, Problem: problemA, SourceCode: "a"}); err != nil {
		t.Fatalf("user 1 admit: %v", err)
	}
	if _, err := g.Admit(ctx, Request{UserID: 2, Problem: problemA, SourceCode: "a"}); err != nil {
		t.Fatalf("other user must not be limited: %v", err)
	}
	other := model.ProblemRef{SheetID: "s1", ProblemID: "B"}
	if _, err := g.Admit(ctx, Request{UserID: 1, Problem: other, SourceCode: "a"}); !appErr.Is(err, appErr.SubmitTooFrequently) {
		t.Fatalf("interval must span problems, got %v", err)
	}
}

func TestAdmitAllowsAfterInterval(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g, mr := newGuard(t, &fakeHistory{}, clock)
	ctx := context.Background()

	_, _ = g.Admit(ctx, Request{UserID: 1, Problem: problemA, SourceCode: "a"})
	clock.Advance(3 * time.Second)
	// The record is still present in the store; the stored timestamp decides.
	if _, err := g.Admit(ctx, Request{UserID: 1, Problem: problemA, SourceCode: "b"}); err != nil {
		t.Fatalf("expected admission after interval, got %v", err)
	}

	clock.Advance(time.Second)
	mr.FastForward(3 * time.Second)
	if _, err := g.Admit(ctx, Request{UserID: 1, Problem: problemA, SourceCode: "c"}); err != nil {
		t.Fatalf("expected admission after expiry, got %v", err)
	}
}

func TestAdmitRejectsDuplicateSource(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	history := &fakeHistory{hashes: map[string]bool{HashSource("int main() {}"): true}}
	g, _ := newGuard(t, history, clock)

	_, err := g.Admit(context.Background(), Request{UserID: 1, Problem: problemA, SourceCode: "\n  int main() {}  \n"})
	if !appErr.Is(err, appErr.DuplicateSubmission) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if appErr.GetCode(err).HTTPStatus() != 400 {
		t.Fatalf("expected 400 mapping")
	}
}

func TestAdmitAssignsNextAttemptNumber(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g, _ := newGuard(t, &fakeHistory{count: 4}, clock)

	adm, err := g.Admit(context.Background(), Request{UserID: 1, Problem: problemA, SourceCode: "x"})
	if err != nil {
		t.Fatalf("admit failed: %v", err)
	}
	if adm.AttemptNumber != 5 {
		t.Fatalf("expected attempt 5, got %d", adm.AttemptNumber)
	}
	if adm.SourceHash != HashSource("x") {
		t.Fatalf("unexpected hash %s", adm.SourceHash)
	}
}

func TestAdmitSurfacesHistoryErrors(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g, _ := newGuard(t, &fakeHistory{countErr: errors.New("db down")}, clock)
	_, err := g.Admit(context.Background(), Request{UserID: 1, Problem: problemA, SourceCode: "x"})
	if !appErr.Is(err, appErr.DatabaseError) {
		t.Fatalf("expected database error, got %v", err)
	}
}

func TestHashSourceIgnoresSurroundingWhitespace(t *testing.T) {
	if HashSource("  code\n") != HashSource("code") {
		t.Fatalf("trimmed sources must hash equal")
	}
	if HashSource("code a") == HashSource("code  a") {
		t.Fatalf("inner whitespace must matter")
	}
}

func TestWaitSeconds(t *testing.T) {
	cases := map[int64]int64{1000: 1, 1001: 2, 2999: 3, 3000: 3, 1: 1, 0: 1}
	for in, want := range cases {
		if got := waitSeconds(in); got != want {
			t.Fatalf("waitSeconds(%d) = %d, want %d", in, got, want)
		}
	}
}
