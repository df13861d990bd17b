// Package feedback carries terminal application outcomes to the learning
// loop. Delivery is at-least-once; consumers must be idempotent on
// (record id, terminal status).
package feedback

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/ranking"
)

// Outcome describes a terminal state transition of an application record.
type Outcome struct {
	RecordID    string
	CandidateID string
	JobID       string
	Status      string
	Reason      string
	Attempts    int
	At          time.Time
}

// Sink consumes terminal outcomes.
type Sink interface {
	Publish(ctx context.Context, outcome Outcome) error
}

// Tuner is the learning-loop boundary: it folds observed outcomes into a new
// weight set version for future ranking passes.
type Tuner interface {
	Tune(ctx context.Context, current ranking.WeightSet, outcomes []Outcome) (ranking.WeightSet, error)
}

// LogSink publishes outcomes as structured log entries.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, outcome Outcome) error {
	s.logger.Info("application outcome",
		zap.String("record_id", outcome.RecordID),
		zap.String("candidate_id", outcome.CandidateID),
		zap.String("job_id", outcome.JobID),
		zap.String("status", outcome.Status),
		zap.String("reason", outcome.Reason),
		zap.Int("attempts", outcome.Attempts),
	)
	return nil
}

// CollectSink accumulates outcomes in memory, for tests and for feeding a
// Tuner at the end of a run.
type CollectSink struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func NewCollectSink() *CollectSink {
	return &CollectSink{}
}

func (s *CollectSink) Publish(_ context.Context, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
	return nil
}

func (s *CollectSink) Outcomes() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]Outcome, len(s.outcomes))
	copy(result, s.outcomes)
	return result
}

// FanOut publishes each outcome to every sink. All sinks are attempted even
// when one fails; the last error wins.
type FanOut struct {
	sinks []Sink
}

func NewFanOut(sinks ...Sink) *FanOut {
	return &FanOut{sinks: sinks}
}

func (f *FanOut) Publish(ctx context.Context, outcome Outcome) error {
	var last error
	for _, sink := range f.sinks {
		if err := sink.Publish(ctx, outcome); err != nil {
			last = err
		}
	}
	return last
}
