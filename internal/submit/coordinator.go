// Package submit drives application submission: claiming records, invoking
// the external executor under a timeout, and applying the retry/backoff
// policy.
package submit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/jobhunter/internal/profile"
	"github.com/spigell/jobhunter/internal/tracker"
	"github.com/spigell/jobhunter/internal/utils"
)

// Executor performs the actual submission for a job: a browser-automation
// bot or an ATS API call. It must honor the context deadline and report
// failures as RetryableError or FatalError.
type Executor interface {
	Submit(ctx context.Context, jobID, artifact string) error
}

// ArtifactProvider resolves the resume variant to submit for a job. The
// coordinator treats the returned reference as opaque.
type ArtifactProvider interface {
	Artifact(ctx context.Context, jobID string, p *profile.Profile) (string, error)
}

// StaticArtifacts always hands out the profile's configured resume variant.
type StaticArtifacts struct{}

func (StaticArtifacts) Artifact(_ context.Context, _ string, p *profile.Profile) (string, error) {
	if p.ResumeTitle == "" {
		return "", fmt.Errorf("profile %s has no resume variant configured", p.CandidateID)
	}
	return p.ResumeTitle, nil
}

// Config holds the tunable submission policy.
type Config struct {
	MaxAttempts int           `mapstructure:"max-attempts"`
	BaseDelay   time.Duration `mapstructure:"base-delay"`
	MaxDelay    time.Duration `mapstructure:"max-delay"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Workers     int           `mapstructure:"workers"`
}

func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 4,
		BaseDelay:   30 * time.Second,
		MaxDelay:    30 * time.Minute,
		Timeout:     2 * time.Minute,
		Workers:     3,
	}
}

func (c *Config) withDefaults() *Config {
	defaults := DefaultConfig()
	if c == nil {
		return defaults
	}

	cfg := *c
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaults.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaults.MaxDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	return &cfg
}

// Outcome classifies the result of a single submission attempt.
type Outcome string

const (
	OutcomeSubmitted     Outcome = "submitted"
	OutcomeRequeued      Outcome = "requeued"
	OutcomeFailed        Outcome = "failed"
	OutcomeClaimRejected Outcome = "claim_rejected"
)

// AttemptResult reports what a single attempt did to the record.
type AttemptResult struct {
	Outcome Outcome
	Record  *tracker.Record
	// Delay is the backoff to wait before the next attempt when the outcome
	// is OutcomeRequeued.
	Delay time.Duration
}

// Coordinator owns the submission protocol for application records. All
// record mutations go through the tracker; the coordinator itself holds no
// record state.
type Coordinator struct {
	tracker   *tracker.Tracker
	executor  Executor
	artifacts ArtifactProvider
	profile   *profile.Profile
	cfg       *Config
	scheduler *Scheduler
	logger    *zap.Logger
}

func New(tr *tracker.Tracker, executor Executor, artifacts ArtifactProvider, p *profile.Profile, cfg *Config, logger *zap.Logger) *Coordinator {
	if artifacts == nil {
		artifacts = StaticArtifacts{}
	}

	return &Coordinator{
		tracker:   tr,
		executor:  executor,
		artifacts: artifacts,
		profile:   p,
		cfg:       cfg.withDefaults(),
		scheduler: NewScheduler(),
		logger:    logger,
	}
}

// Scheduler exposes the delayed-task registry, letting callers enumerate and
// cancel pending retries.
func (c *Coordinator) Scheduler() *Scheduler { return c.scheduler }

// AttemptSubmission performs one submission attempt for the record: claim,
// submit under timeout, transition per the failure classification. A failed
// claim means another worker holds the record; the attempt is aborted
// without touching it.
func (c *Coordinator) AttemptSubmission(ctx context.Context, recordID string) (*AttemptResult, error) {
	rec, err := c.tracker.Transition(ctx, recordID, tracker.EventClaim, nil)
	if err != nil {
		if errors.Is(err, tracker.ErrInvalidTransition) || errors.Is(err, tracker.ErrAlreadyTerminal) {
			c.logger.Debug("claim rejected",
				zap.String("record_id", recordID),
				zap.Error(err),
			)
			return &AttemptResult{Outcome: OutcomeClaimRejected}, nil
		}
		return nil, fmt.Errorf("claim record %s: %w", recordID, err)
	}

	c.logger.Info("submission attempt started",
		zap.String("record_id", rec.ID),
		zap.String("job_id", rec.JobID),
		zap.Int("attempt", rec.Attempts+1),
		zap.Int("max_attempts", c.cfg.MaxAttempts),
	)

	submitErr := c.submit(ctx, rec)
	if submitErr == nil {
		return c.complete(ctx, rec)
	}

	// The task context is cancelled by withdrawal or shutdown. Leave the
	// record as is: the withdrawing caller transitions it.
	if ctx.Err() != nil && errors.Is(submitErr, context.Canceled) {
		return nil, submitErr
	}

	return c.failed(ctx, rec, submitErr)
}

func (c *Coordinator) submit(ctx context.Context, rec *tracker.Record) error {
	artifact, err := c.artifacts.Artifact(ctx, rec.JobID, c.profile)
	if err != nil {
		return Retryable("resolving resume artifact", err)
	}

	rec.Artifact = artifact

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	return c.executor.Submit(attemptCtx, rec.JobID, artifact)
}

func (c *Coordinator) complete(ctx context.Context, rec *tracker.Record) (*AttemptResult, error) {
	updated, err := c.tracker.Transition(ctx, rec.ID, tracker.EventSucceed, &tracker.TransitionOpts{
		Artifact: rec.Artifact,
	})
	if err != nil {
		// A concurrent withdrawal may have landed first; the terminal state
		// on the record wins either way.
		return nil, fmt.Errorf("record %s succeeded but could not be marked submitted: %w", rec.ID, err)
	}

	c.logger.Info("application submitted",
		zap.String("record_id", updated.ID),
		zap.String("job_id", updated.JobID),
		zap.Int("attempts", updated.Attempts),
	)

	return &AttemptResult{Outcome: OutcomeSubmitted, Record: updated}, nil
}

func (c *Coordinator) failed(ctx context.Context, rec *tracker.Record, submitErr error) (*AttemptResult, error) {
	fatal, reason := classify(submitErr)

	if fatal {
		return c.fail(ctx, rec, reason)
	}

	// This attempt is the rec.Attempts+1'th. Once it reaches the budget the
	// failure is terminal instead of queueing another retry.
	if rec.Attempts+1 >= c.cfg.MaxAttempts {
		return c.fail(ctx, rec, fmt.Sprintf("retry budget exhausted: %s", reason))
	}

	updated, err := c.tracker.Transition(ctx, rec.ID, tracker.EventRetry, &tracker.TransitionOpts{Reason: reason})
	if err != nil {
		return nil, fmt.Errorf("requeue record %s: %w", rec.ID, err)
	}

	delay := c.backoff(updated.Attempts)
	c.logger.Warn("submission attempt failed, retrying",
		zap.String("record_id", updated.ID),
		zap.String("job_id", updated.JobID),
		zap.String("reason", reason),
		zap.Int("attempts", updated.Attempts),
		zap.Duration("retry_in", delay),
	)

	return &AttemptResult{Outcome: OutcomeRequeued, Record: updated, Delay: delay}, nil
}

func (c *Coordinator) fail(ctx context.Context, rec *tracker.Record, reason string) (*AttemptResult, error) {
	updated, err := c.tracker.Transition(ctx, rec.ID, tracker.EventFail, &tracker.TransitionOpts{Reason: reason})
	if err != nil {
		return nil, fmt.Errorf("fail record %s: %w", rec.ID, err)
	}

	c.logger.Error("application failed",
		zap.String("record_id", updated.ID),
		zap.String("job_id", updated.JobID),
		zap.String("reason", reason),
		zap.Int("attempts", updated.Attempts),
	)

	return &AttemptResult{Outcome: OutcomeFailed, Record: updated}, nil
}

// Process drives the record to a settled state: it attempts submission and
// sleeps through backoff delays until the record is submitted, failed, or
// the task is cancelled. The whole lifecycle runs as one cancellable task
// keyed by record ID.
func (c *Coordinator) Process(ctx context.Context, recordID string) (*tracker.Record, error) {
	taskCtx, err := c.scheduler.Register(ctx, recordID)
	if err != nil {
		return nil, err
	}
	defer c.scheduler.Release(recordID)

	for {
		result, err := c.AttemptSubmission(taskCtx, recordID)
		if err != nil {
			return nil, err
		}

		if result.Outcome != OutcomeRequeued {
			return result.Record, nil
		}

		c.scheduler.MarkWaiting(recordID, time.Now().Add(result.Delay))
		if err := utils.WaitFor(taskCtx, result.Delay); err != nil {
			return result.Record, err
		}
		c.scheduler.MarkRunning(recordID)
	}
}

// Run processes the given records on a bounded worker pool. Failures are
// isolated per record: one job failing never blocks the others.
func (c *Coordinator) Run(ctx context.Context, recordIDs []string) {
	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Workers)

	for _, recordID := range recordIDs {
		g.Go(func() error {
			if _, err := c.Process(ctx, recordID); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("processing record",
					zap.String("record_id", recordID),
					zap.Error(err),
				)
			}
			return nil
		})
	}

	g.Wait()
}

// Withdraw cancels any pending retry or in-flight attempt for the record and
// marks it withdrawn. If the attempt already reached a terminal state the
// withdrawal is rejected with ErrAlreadyTerminal and that state is kept.
func (c *Coordinator) Withdraw(ctx context.Context, recordID string) (*tracker.Record, error) {
	if c.scheduler.Cancel(recordID) {
		c.logger.Info("cancelled active submission task", zap.String("record_id", recordID))
	}

	return c.tracker.Transition(ctx, recordID, tracker.EventWithdraw, nil)
}

// backoff returns the delay before the next attempt: base doubled per
// completed attempt, capped, with jitter spreading the value between 50% and
// 150%.
func (c *Coordinator) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	delay := float64(c.cfg.BaseDelay) * math.Pow(2, float64(attempts-1))
	if capped := float64(c.cfg.MaxDelay); delay > capped {
		delay = capped
	}

	jittered := delay/2 + rand.Float64()*delay
	return time.Duration(jittered)
}
