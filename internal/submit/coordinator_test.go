package submit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/feedback"
	"github.com/spigell/jobhunter/internal/profile"
	"github.com/spigell/jobhunter/internal/tracker"
)

// scriptedExecutor replays a per-job sequence of errors, then succeeds.
type scriptedExecutor struct {
	mu        sync.Mutex
	script    map[string][]error
	calls     map[string]int
	artifacts map[string]string
}

func newScriptedExecutor(script map[string][]error) *scriptedExecutor {
	return &scriptedExecutor{
		script:    script,
		calls:     make(map[string]int),
		artifacts: make(map[string]string),
	}
}

func (e *scriptedExecutor) Submit(_ context.Context, jobID, artifact string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls[jobID]++
	e.artifacts[jobID] = artifact

	queue := e.script[jobID]
	if len(queue) == 0 {
		return nil
	}

	next := queue[0]
	e.script[jobID] = queue[1:]
	return next
}

func (e *scriptedExecutor) callCount(jobID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[jobID]
}

func testProfile() *profile.Profile {
	return &profile.Profile{
		CandidateID: "cand-1",
		Name:        "Test Candidate",
		Skills:      []string{"go"},
		ResumeTitle: "backend-resume",
	}
}

func newTestCoordinator(t *testing.T, cfg *Config, exec Executor) (*Coordinator, *tracker.Tracker, *feedback.CollectSink) {
	t.Helper()

	sink := feedback.NewCollectSink()
	tr := tracker.New(tracker.NewMemoryStore(), sink, zap.NewNop())
	coord := New(tr, exec, nil, testProfile(), cfg, zap.NewNop())

	return coord, tr, sink
}

func queueRecord(t *testing.T, tr *tracker.Tracker, jobID string) *tracker.Record {
	t.Helper()

	rec, err := tr.GetOrCreate(context.Background(), "cand-1", jobID)
	if err != nil {
		t.Fatalf("creating record for %s: %v", jobID, err)
	}
	return rec
}

func TestProcessSucceedsFirstAttempt(t *testing.T) {
	exec := newScriptedExecutor(nil)
	coord, tr, sink := newTestCoordinator(t, nil, exec)
	rec := queueRecord(t, tr, "job-1")

	got, err := coord.Process(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if got.Status != tracker.StatusSubmitted {
		t.Fatalf("expected submitted, got %s", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", got.Attempts)
	}
	if exec.artifacts["job-1"] != "backend-resume" {
		t.Fatalf("executor got artifact %q", exec.artifacts["job-1"])
	}
	if got.Artifact != "backend-resume" {
		t.Fatalf("record artifact %q", got.Artifact)
	}

	outcomes := sink.Outcomes()
	if len(outcomes) != 1 || outcomes[0].Status != string(tracker.StatusSubmitted) {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}
}

func TestProcessRetriesThenSucceeds(t *testing.T) {
	exec := newScriptedExecutor(map[string][]error{
		"job-1": {
			Retryable("rate limited", nil),
			Retryable("upstream flake", nil),
		},
	})
	cfg := &Config{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	coord, tr, _ := newTestCoordinator(t, cfg, exec)
	rec := queueRecord(t, tr, "job-1")

	got, err := coord.Process(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if got.Status != tracker.StatusSubmitted {
		t.Fatalf("expected submitted, got %s", got.Status)
	}
	if got.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", got.Attempts)
	}
	if exec.callCount("job-1") != 3 {
		t.Fatalf("executor called %d times", exec.callCount("job-1"))
	}
}

func TestProcessExhaustsRetryBudget(t *testing.T) {
	exec := newScriptedExecutor(map[string][]error{
		"job-1": {
			Retryable("rate limited", nil),
			Retryable("rate limited", nil),
		},
	})
	cfg := &Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	coord, tr, sink := newTestCoordinator(t, cfg, exec)
	rec := queueRecord(t, tr, "job-1")

	got, err := coord.Process(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if got.Status != tracker.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", got.Attempts)
	}
	if got.LastFailure == "" {
		t.Fatal("expected a recorded failure reason")
	}

	outcomes := sink.Outcomes()
	if len(outcomes) != 1 || outcomes[0].Status != string(tracker.StatusFailed) {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}
}

func TestProcessFatalErrorFailsImmediately(t *testing.T) {
	exec := newScriptedExecutor(map[string][]error{
		"job-1": {Fatal("authentication rejected", nil)},
	})
	coord, tr, _ := newTestCoordinator(t, nil, exec)
	rec := queueRecord(t, tr, "job-1")

	got, err := coord.Process(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if got.Status != tracker.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("fatal error should not retry, got %d attempts", got.Attempts)
	}
	if got.LastFailure != "authentication rejected" {
		t.Fatalf("unexpected failure reason %q", got.LastFailure)
	}
}

func TestProcessTimeoutIsRetried(t *testing.T) {
	blocker := executorFunc(func(ctx context.Context, _, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})
	cfg := &Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Timeout: 5 * time.Millisecond}
	coord, tr, _ := newTestCoordinator(t, cfg, blocker)
	rec := queueRecord(t, tr, "job-1")

	got, err := coord.Process(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if got.Status != tracker.StatusFailed {
		t.Fatalf("expected failed after exhausting timeouts, got %s", got.Status)
	}
	if got.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", got.Attempts)
	}
}

type executorFunc func(ctx context.Context, jobID, artifact string) error

func (f executorFunc) Submit(ctx context.Context, jobID, artifact string) error {
	return f(ctx, jobID, artifact)
}

func TestAttemptSubmissionClaimRejected(t *testing.T) {
	exec := newScriptedExecutor(nil)
	coord, tr, _ := newTestCoordinator(t, nil, exec)
	rec := queueRecord(t, tr, "job-1")

	if _, err := tr.Transition(context.Background(), rec.ID, tracker.EventClaim, nil); err != nil {
		t.Fatalf("claiming record: %v", err)
	}

	result, err := coord.AttemptSubmission(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if result.Outcome != OutcomeClaimRejected {
		t.Fatalf("expected claim rejection, got %s", result.Outcome)
	}
	if exec.callCount("job-1") != 0 {
		t.Fatal("executor must not run without a claim")
	}
}

func TestWithdrawCancelsPendingRetry(t *testing.T) {
	exec := newScriptedExecutor(map[string][]error{
		"job-1": {
			Retryable("rate limited", nil),
			Retryable("rate limited", nil),
			Retryable("rate limited", nil),
		},
	})
	// Long backoff keeps the task parked in the waiting state.
	cfg := &Config{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour}
	coord, tr, sink := newTestCoordinator(t, cfg, exec)
	rec := queueRecord(t, tr, "job-1")

	done := make(chan error, 1)
	go func() {
		_, err := coord.Process(context.Background(), rec.ID)
		done <- err
	}()

	waitForPendingRetry(t, coord.Scheduler(), rec.ID)

	got, err := coord.Withdraw(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got.Status != tracker.StatusWithdrawn {
		t.Fatalf("expected withdrawn, got %s", got.Status)
	}

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process did not stop after withdrawal")
	}

	outcomes := sink.Outcomes()
	if len(outcomes) != 1 || outcomes[0].Status != string(tracker.StatusWithdrawn) {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}
}

func waitForPendingRetry(t *testing.T, s *Scheduler, recordID string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, id := range s.PendingRetries() {
			if id == recordID {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("record %s never entered the waiting state", recordID)
}

func TestWithdrawAfterSubmissionIsRejected(t *testing.T) {
	exec := newScriptedExecutor(nil)
	coord, tr, _ := newTestCoordinator(t, nil, exec)
	rec := queueRecord(t, tr, "job-1")

	if _, err := coord.Process(context.Background(), rec.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	if _, err := coord.Withdraw(context.Background(), rec.ID); !errors.Is(err, tracker.ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}

	got, err := tr.Get(context.Background(), "cand-1", "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != tracker.StatusSubmitted {
		t.Fatalf("submitted state must be preserved, got %s", got.Status)
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	exec := newScriptedExecutor(map[string][]error{
		"job-bad": {Fatal("position closed", nil)},
	})
	cfg := &Config{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Workers: 2}
	coord, tr, _ := newTestCoordinator(t, cfg, exec)

	jobs := []string{"job-bad", "job-1", "job-2", "job-3"}
	ids := make([]string, 0, len(jobs))
	for _, jobID := range jobs {
		ids = append(ids, queueRecord(t, tr, jobID).ID)
	}

	coord.Run(context.Background(), ids)

	for _, jobID := range jobs {
		rec, err := tr.Get(context.Background(), "cand-1", jobID)
		if err != nil {
			t.Fatalf("get %s: %v", jobID, err)
		}

		want := tracker.StatusSubmitted
		if jobID == "job-bad" {
			want = tracker.StatusFailed
		}
		if rec.Status != want {
			t.Fatalf("job %s: expected %s, got %s", jobID, want, rec.Status)
		}
	}
}

func TestProcessDuplicateRegistration(t *testing.T) {
	exec := newScriptedExecutor(map[string][]error{
		"job-1": {Retryable("rate limited", nil)},
	})
	cfg := &Config{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour}
	coord, tr, _ := newTestCoordinator(t, cfg, exec)
	rec := queueRecord(t, tr, "job-1")

	go coord.Process(context.Background(), rec.ID) //nolint:errcheck

	waitForPendingRetry(t, coord.Scheduler(), rec.ID)

	if _, err := coord.Process(context.Background(), rec.ID); err == nil {
		t.Fatal("expected duplicate registration to be refused")
	}

	coord.Scheduler().Cancel(rec.ID)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := &Config{BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	coord, _, _ := newTestCoordinator(t, cfg, newScriptedExecutor(nil))

	checks := []struct {
		attempts int
		min, max time.Duration
	}{
		{1, 500 * time.Millisecond, 1500 * time.Millisecond},
		{2, time.Second, 3 * time.Second},
		{3, 2 * time.Second, 6 * time.Second},
		// 2^9 seconds well past the cap.
		{10, 5 * time.Second, 15 * time.Second},
	}

	for _, check := range checks {
		for range 50 {
			got := coord.backoff(check.attempts)
			if got < check.min || got > check.max {
				t.Fatalf("attempts=%d: backoff %s outside [%s, %s]", check.attempts, got, check.min, check.max)
			}
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		fatal  bool
		reason string
	}{
		{"fatal", Fatal("position closed", nil), true, "position closed"},
		{"retryable", Retryable("rate limited", nil), false, "rate limited"},
		{"deadline", context.DeadlineExceeded, false, "submission timed out"},
		{"unknown", errors.New("connection reset"), false, "connection reset"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fatal, reason := classify(tc.err)
			if fatal != tc.fatal {
				t.Fatalf("fatal = %v, want %v", fatal, tc.fatal)
			}
			if reason != tc.reason {
				t.Fatalf("reason = %q, want %q", reason, tc.reason)
			}
		})
	}
}
