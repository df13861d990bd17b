// Package tracker owns the application record lifecycle: deduplication per
// (candidate, job) pair and the status state machine.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/feedback"
	"github.com/spigell/jobhunter/internal/logger"
)

// transitionRetries bounds the reload-and-retry loop on version conflicts.
// A conflict means another caller moved the record first; after a reload the
// legality check decides the outcome.
const transitionRetries = 3

// Store is the durable home of application records. Implementations must
// make GetOrCreate atomic with respect to concurrent callers for the same
// pair and must reject updates carrying a stale version.
type Store interface {
	// GetOrCreate inserts the record unless one already exists for its
	// (candidate, job) pair, returning the stored record and whether it was
	// created by this call.
	GetOrCreate(ctx context.Context, rec *Record) (*Record, bool, error)
	Get(ctx context.Context, candidateID, jobID string) (*Record, error)
	GetByID(ctx context.Context, id string) (*Record, error)
	// Update persists the record if its version still matches the stored
	// one, bumping the version. Returns ErrVersionConflict otherwise.
	Update(ctx context.Context, rec *Record) (*Record, error)
	List(ctx context.Context) ([]*Record, error)
	ListByStatus(ctx context.Context, status Status) ([]*Record, error)
}

// TransitionOpts carries optional attributes recorded with a transition.
type TransitionOpts struct {
	// Reason is stored as the last failure reason on retry, fail and reject
	// events and forwarded to the feedback sink on terminal events.
	Reason string
	// Artifact references the resume variant used for the attempt.
	Artifact string
}

// Tracker enforces the dedup invariant and legal status transitions. It is
// the only mutation path for application records.
type Tracker struct {
	store  Store
	sink   feedback.Sink
	logger *zap.Logger

	now func() time.Time
}

func New(store Store, sink feedback.Sink, log *zap.Logger) *Tracker {
	return &Tracker{
		store:  store,
		sink:   sink,
		logger: log,
		now:    time.Now,
	}
}

// GetOrCreate returns the single record for the pair, creating it in Queued
// if absent. Repeated and concurrent calls observe the same record.
func (t *Tracker) GetOrCreate(ctx context.Context, candidateID, jobID string) (*Record, error) {
	candidateID = strings.TrimSpace(candidateID)
	jobID = strings.TrimSpace(jobID)
	if candidateID == "" || jobID == "" {
		return nil, fmt.Errorf("candidate id and job id are required")
	}

	now := t.now().UTC()
	rec, created, err := t.store.GetOrCreate(ctx, &Record{
		ID:          uuid.NewString(),
		CandidateID: candidateID,
		JobID:       jobID,
		Status:      StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("get or create record: %w", err)
	}

	if created {
		t.logger.Info("application record created",
			logger.RecordFields(rec.ID, candidateID, jobID)...,
		)
	}

	return rec, nil
}

// Get returns the record for the pair or ErrNotFound.
func (t *Tracker) Get(ctx context.Context, candidateID, jobID string) (*Record, error) {
	return t.store.Get(ctx, candidateID, jobID)
}

// List returns all records.
func (t *Tracker) List(ctx context.Context) ([]*Record, error) {
	return t.store.List(ctx)
}

// ListByStatus returns all records currently in the given status.
func (t *Tracker) ListByStatus(ctx context.Context, status Status) ([]*Record, error) {
	return t.store.ListByStatus(ctx, status)
}

// Transition applies the event to the record identified by id, returning the
// updated record. Illegal moves return ErrInvalidTransition or
// ErrAlreadyTerminal and leave the record unchanged. Concurrent updates are
// resolved by the store's version check: the loser reloads and re-evaluates,
// so exactly one concurrent claim succeeds.
func (t *Tracker) Transition(ctx context.Context, id string, event Event, opts *TransitionOpts) (*Record, error) {
	if opts == nil {
		opts = &TransitionOpts{}
	}

	var conflict error
	for attempt := 0; attempt < transitionRetries; attempt++ {
		rec, err := t.store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		next, err := nextStatus(rec.Status, event)
		if err != nil {
			return nil, fmt.Errorf("%s -> %s for record %s: %w", rec.Status, event, rec.ID, err)
		}

		t.apply(rec, event, next, opts)

		updated, err := t.store.Update(ctx, rec)
		if errors.Is(err, ErrVersionConflict) {
			conflict = err
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update record %s: %w", rec.ID, err)
		}

		t.logger.Debug("status transition",
			zap.String("record_id", updated.ID),
			zap.String("event", string(event)),
			zap.String("status", string(updated.Status)),
			zap.Int("attempts", updated.Attempts),
		)

		if updated.Status.Terminal() {
			t.emit(ctx, updated, opts.Reason)
		}

		return updated, nil
	}

	return nil, fmt.Errorf("transition %s on record %s: %w", event, id, conflict)
}

// nextStatus is the transition table. Terminal records accept nothing:
// explicit user or platform signals get ErrAlreadyTerminal, automated moves
// get ErrInvalidTransition.
func nextStatus(current Status, event Event) (Status, error) {
	if current.Terminal() {
		if event == EventWithdraw || event == EventReject {
			return "", ErrAlreadyTerminal
		}
		return "", ErrInvalidTransition
	}

	switch event {
	case EventClaim:
		if current == StatusQueued {
			return StatusSubmitting, nil
		}
	case EventSucceed:
		if current == StatusSubmitting {
			return StatusSubmitted, nil
		}
	case EventRetry:
		if current == StatusSubmitting {
			return StatusQueued, nil
		}
	case EventFail:
		if current == StatusSubmitting {
			return StatusFailed, nil
		}
	case EventReject:
		return StatusRejected, nil
	case EventWithdraw:
		return StatusWithdrawn, nil
	}

	return "", ErrInvalidTransition
}

func (t *Tracker) apply(rec *Record, event Event, next Status, opts *TransitionOpts) {
	now := t.now().UTC()
	rec.Status = next
	rec.UpdatedAt = now

	switch event {
	case EventClaim:
		rec.LastAttemptAt = &now
	case EventSucceed, EventRetry, EventFail:
		rec.Attempts++
		rec.LastAttemptAt = &now
	}

	if opts.Reason != "" && (event == EventRetry || event == EventFail || event == EventReject) {
		rec.LastFailure = opts.Reason
	}

	if opts.Artifact != "" {
		rec.Artifact = opts.Artifact
	}
}

// emit publishes the terminal outcome. Sink failures are logged, not
// returned: the transition itself already committed.
func (t *Tracker) emit(ctx context.Context, rec *Record, reason string) {
	if t.sink == nil {
		return
	}

	outcome := feedback.Outcome{
		RecordID:    rec.ID,
		CandidateID: rec.CandidateID,
		JobID:       rec.JobID,
		Status:      string(rec.Status),
		Reason:      reason,
		Attempts:    rec.Attempts,
		At:          rec.UpdatedAt,
	}

	if err := t.sink.Publish(ctx, outcome); err != nil {
		logger.WithRecordFields(t.logger, rec.ID, rec.CandidateID, rec.JobID).Warn(
			"publishing outcome failed",
			zap.String(logger.FieldStatus, string(rec.Status)),
			zap.Error(err),
		)
	}
}
