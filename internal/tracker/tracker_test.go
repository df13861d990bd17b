package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/feedback"
)

func newTestTracker(t *testing.T) (*Tracker, *feedback.CollectSink) {
	t.Helper()

	sink := feedback.NewCollectSink()
	return New(NewMemoryStore(), sink, zap.NewNop()), sink
}

func TestGetOrCreateIdempotent(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	first, err := tr.GetOrCreate(ctx, "alex", "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := tr.GetOrCreate(ctx, "alex", "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected the same record, got %s and %s", first.ID, second.ID)
	}

	if first.Status != StatusQueued {
		t.Fatalf("expected new record queued, got %s", first.Status)
	}

	records, err := tr.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected a single record for the pair, got %d", len(records))
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	const callers = 16

	ids := make([]string, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			rec, err := tr.GetOrCreate(ctx, "alex", "job-1")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			ids[i] = rec.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("duplicate record observed: %s vs %s", ids[i], ids[0])
		}
	}
}

func TestLegalTransitionChain(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	rec, err := tr.GetOrCreate(ctx, "alex", "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, err = tr.Transition(ctx, rec.ID, EventClaim, nil)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if rec.Status != StatusSubmitting {
		t.Fatalf("expected submitting, got %s", rec.Status)
	}
	if rec.LastAttemptAt == nil {
		t.Fatalf("expected last attempt timestamp set on claim")
	}

	rec, err = tr.Transition(ctx, rec.ID, EventRetry, &TransitionOpts{Reason: "rate limited"})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if rec.Status != StatusQueued {
		t.Fatalf("expected queued after retryable failure, got %s", rec.Status)
	}
	if rec.Attempts != 1 {
		t.Fatalf("expected attempt count incremented, got %d", rec.Attempts)
	}
	if rec.LastFailure != "rate limited" {
		t.Fatalf("expected failure reason recorded, got %q", rec.LastFailure)
	}

	rec, err = tr.Transition(ctx, rec.ID, EventClaim, nil)
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}

	rec, err = tr.Transition(ctx, rec.ID, EventSucceed, &TransitionOpts{Artifact: "resume-v2"})
	if err != nil {
		t.Fatalf("succeed failed: %v", err)
	}
	if rec.Status != StatusSubmitted {
		t.Fatalf("expected submitted, got %s", rec.Status)
	}
	if rec.Artifact != "resume-v2" {
		t.Fatalf("expected artifact reference recorded, got %q", rec.Artifact)
	}
	if rec.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", rec.Attempts)
	}
}

func TestIllegalTransitionsLeaveRecordUnchanged(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	rec, _ := tr.GetOrCreate(ctx, "alex", "job-1")

	tests := []struct {
		name  string
		event Event
	}{
		{name: "succeed from queued", event: EventSucceed},
		{name: "retry from queued", event: EventRetry},
		{name: "fail from queued", event: EventFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tr.Transition(ctx, rec.ID, tt.event, nil); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}

			current, err := tr.Get(ctx, "alex", "job-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if current.Status != StatusQueued {
				t.Fatalf("record changed by illegal transition: %s", current.Status)
			}
		})
	}
}

func TestConcurrentClaimExactlyOneWins(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	rec, _ := tr.GetOrCreate(ctx, "alex", "job-1")

	const claimants = 8

	var wins, rejections int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(claimants)
	for i := 0; i < claimants; i++ {
		go func() {
			defer wg.Done()
			_, err := tr.Transition(ctx, rec.ID, EventClaim, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrInvalidTransition):
				rejections++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", wins)
	}
	if rejections != claimants-1 {
		t.Fatalf("expected %d rejections, got %d", claimants-1, rejections)
	}
}

func TestWithdrawOnTerminalRecord(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	rec, _ := tr.GetOrCreate(ctx, "alex", "job-1")
	if _, err := tr.Transition(ctx, rec.ID, EventClaim, nil); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := tr.Transition(ctx, rec.ID, EventSucceed, nil); err != nil {
		t.Fatalf("succeed failed: %v", err)
	}

	if _, err := tr.Transition(ctx, rec.ID, EventWithdraw, nil); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}

	current, _ := tr.Get(ctx, "alex", "job-1")
	if current.Status != StatusSubmitted {
		t.Fatalf("terminal state must win, got %s", current.Status)
	}
}

func TestWithdrawFromAnyNonTerminalState(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	// Queued.
	rec, _ := tr.GetOrCreate(ctx, "alex", "job-1")
	if _, err := tr.Transition(ctx, rec.ID, EventWithdraw, nil); err != nil {
		t.Fatalf("withdraw from queued failed: %v", err)
	}

	// Submitting.
	rec, _ = tr.GetOrCreate(ctx, "alex", "job-2")
	if _, err := tr.Transition(ctx, rec.ID, EventClaim, nil); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	updated, err := tr.Transition(ctx, rec.ID, EventWithdraw, nil)
	if err != nil {
		t.Fatalf("withdraw from submitting failed: %v", err)
	}
	if updated.Status != StatusWithdrawn {
		t.Fatalf("expected withdrawn, got %s", updated.Status)
	}
}

func TestTerminalTransitionsEmitOutcomes(t *testing.T) {
	tr, sink := newTestTracker(t)
	ctx := context.Background()

	rec, _ := tr.GetOrCreate(ctx, "alex", "job-1")
	tr.Transition(ctx, rec.ID, EventClaim, nil)
	tr.Transition(ctx, rec.ID, EventFail, &TransitionOpts{Reason: "authentication rejected"})

	outcomes := sink.Outcomes()
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(outcomes))
	}

	outcome := outcomes[0]
	if outcome.Status != string(StatusFailed) {
		t.Fatalf("unexpected outcome status: %s", outcome.Status)
	}
	if outcome.Reason != "authentication rejected" {
		t.Fatalf("unexpected outcome reason: %s", outcome.Reason)
	}
	if outcome.RecordID != rec.ID {
		t.Fatalf("unexpected outcome record: %s", outcome.RecordID)
	}
}

func TestRejectFromQueued(t *testing.T) {
	tr, sink := newTestTracker(t)
	ctx := context.Background()

	rec, _ := tr.GetOrCreate(ctx, "alex", "job-1")

	updated, err := tr.Transition(ctx, rec.ID, EventReject, &TransitionOpts{Reason: "position closed"})
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if updated.Status != StatusRejected {
		t.Fatalf("expected rejected, got %s", updated.Status)
	}

	if len(sink.Outcomes()) != 1 {
		t.Fatalf("expected outcome emitted for rejection")
	}
}

func TestMemoryStoreVersionConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec, _, err := store.GetOrCreate(ctx, &Record{ID: "rec-1", CandidateID: "alex", JobID: "job-1", Status: StatusQueued})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stale := rec.Clone()

	rec.Status = StatusSubmitting
	if _, err := store.Update(ctx, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stale.Status = StatusSubmitting
	if _, err := store.Update(ctx, stale); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}
