// Package worker drains the retry queue: it claims due jobs and replays
// each one as a single provider attempt.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/piquet/courier/internal/dispatch"
	"github.com/piquet/courier/internal/metrics"
	"github.com/piquet/courier/internal/scheduler"
)

const (
	DefaultClaimLimit   = 15
	DefaultPollInterval = 30 * time.Second
)

// Worker processes deferred retry jobs. Multiple workers can run against
// the same queue; claiming is atomic so each job is attempted by exactly
// one of them.
type Worker struct {
	dispatcher *dispatch.Dispatcher
	scheduler  *scheduler.Scheduler
	metrics    *metrics.Metrics
	logger     *slog.Logger

	claimLimit   int
	pollInterval time.Duration
}

func New(d *dispatch.Dispatcher, s *scheduler.Scheduler, m *metrics.Metrics, logger *slog.Logger, claimLimit int, pollInterval time.Duration) *Worker {
	if claimLimit <= 0 {
		claimLimit = DefaultClaimLimit
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Worker{
		dispatcher:   d,
		scheduler:    s,
		metrics:      m,
		logger:       logger.With("component", "worker"),
		claimLimit:   claimLimit,
		pollInterval: pollInterval,
	}
}

// RunSummary reports the outcome of one queue pass.
type RunSummary struct {
	Claimed     int `json:"claimed"`
	Completed   int `json:"completed"`
	Rescheduled int `json:"rescheduled"`
	Failed      int `json:"failed"`
}

// RunOnce claims one batch of due jobs and processes each. Job-level
// failures are absorbed into the summary; only claiming itself can error.
func (w *Worker) RunOnce(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{}

	jobs, err := w.scheduler.ClaimDue(ctx, w.claimLimit)
	if err != nil {
		return summary, err
	}
	summary.Claimed = len(jobs)
	if w.metrics != nil {
		w.metrics.RetryJobsClaimedTotal.Add(float64(len(jobs)))
	}

	for _, job := range jobs {
		w.process(ctx, job, summary)
	}

	if w.metrics != nil {
		if pending, err := w.scheduler.PendingCount(ctx); err == nil {
			w.metrics.RetryQueueDepth.Set(float64(pending))
		}
	}

	if summary.Claimed > 0 {
		w.logger.Info("retry pass finished",
			"claimed", summary.Claimed,
			"completed", summary.Completed,
			"rescheduled", summary.Rescheduled,
			"failed", summary.Failed,
		)
	}
	return summary, nil
}

// process replays one claimed job. The job's attempt counter was bumped at
// claim time, so the logical attempt number is the initial send plus every
// claim so far; a job whose budget is already spent is failed without
// touching the provider.
func (w *Worker) process(ctx context.Context, job *scheduler.RetryJob, summary *RunSummary) {
	if job.Message == nil {
		if err := w.scheduler.Fail(ctx, job.ID, "unreadable job payload"); err != nil {
			w.logger.Error("failed to fail job", "job_id", job.ID, "error", err)
		}
		summary.Failed++
		return
	}

	budget := job.Message.AttemptBudget()
	attempt := job.Attempts + 1
	if attempt > budget {
		if err := w.scheduler.Fail(ctx, job.ID, dispatch.AttemptsExhaustedMessage); err != nil {
			w.logger.Error("failed to fail job", "job_id", job.ID, "error", err)
		}
		summary.Failed++
		return
	}

	result, transient := w.dispatcher.Attempt(ctx, job.Message, attempt)

	switch {
	case result.Success:
		if err := w.scheduler.Complete(ctx, job.ID, result); err != nil {
			w.logger.Error("failed to complete job", "job_id", job.ID, "error", err)
		}
		summary.Completed++
	case transient && attempt < budget:
		if err := w.scheduler.Reschedule(ctx, job.ID, attempt+1, result.Error); err != nil {
			w.logger.Error("failed to reschedule job", "job_id", job.ID, "error", err)
		}
		summary.Rescheduled++
	default:
		if err := w.scheduler.Fail(ctx, job.ID, result.Error); err != nil {
			w.logger.Error("failed to fail job", "job_id", job.ID, "error", err)
		}
		summary.Failed++
	}
}

// Start polls the queue until the context is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("retry worker started", "poll_interval", w.pollInterval, "claim_limit", w.claimLimit)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("retry worker stopped")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("retry pass failed", "error", err)
			}
		}
	}
}
