package tracker

import "time"

// Status is the lifecycle state of an application record. The implicit
// NotApplied state is represented by record absence; records are created
// already Queued.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusSubmitting Status = "submitting"
	StatusSubmitted  Status = "submitted"
	StatusFailed     Status = "failed"
	StatusRejected   Status = "rejected"
	StatusWithdrawn  Status = "withdrawn"
)

// Terminal reports whether no further automated transition may leave this
// status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSubmitted, StatusFailed, StatusRejected, StatusWithdrawn:
		return true
	default:
		return false
	}
}

// Event names a requested state transition.
type Event string

const (
	// EventClaim moves Queued to Submitting. Exactly one concurrent claimant
	// per record may succeed.
	EventClaim Event = "claim"
	// EventSucceed moves Submitting to Submitted.
	EventSucceed Event = "succeed"
	// EventRetry moves Submitting back to Queued after a retryable failure.
	EventRetry Event = "retry"
	// EventFail moves Submitting to Failed on a fatal failure or an
	// exhausted retry budget.
	EventFail Event = "fail"
	// EventReject marks any non-terminal record Rejected on an external
	// platform signal.
	EventReject Event = "reject"
	// EventWithdraw marks any non-terminal record Withdrawn on explicit user
	// action.
	EventWithdraw Event = "withdraw"
)

// Record is the single mutable entity per (candidate, job) pair. At most one
// record ever exists for a pair; it is never deleted.
type Record struct {
	ID          string
	CandidateID string
	JobID       string
	Status      Status
	// Attempts counts completed submission attempts.
	Attempts int
	// Version guards concurrent updates: every successful update increments
	// it, and stores reject updates carrying a stale version.
	Version       int64
	LastAttemptAt *time.Time
	LastFailure   string
	// Artifact references the resume variant used for submission.
	Artifact  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy of the record so callers cannot alias store state.
func (r *Record) Clone() *Record {
	clone := *r
	if r.LastAttemptAt != nil {
		at := *r.LastAttemptAt
		clone.LastAttemptAt = &at
	}
	return &clone
}
