// Package scheduler persists deferred retry jobs and claims due ones with an
// atomic conditional state transition, so a job is processed by at most one
// worker.
package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/piquet/courier/internal/mail"
	"github.com/piquet/courier/internal/store"
)

// JobTypeRetryEmail is the only job type this pipeline schedules.
const JobTypeRetryEmail = "retry_email"

// Job statuses. Terminal jobs are kept for audit and backoff history.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// retryDelays is the backoff ladder in seconds: the first retry goes out a
// minute later, the second five minutes, the third and beyond fifteen.
var retryDelays = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
}

// RetryJob is one claimable unit of deferred re-send work.
type RetryJob struct {
	ID           string
	JobType      string
	Message      *mail.Message
	Status       string
	Attempts     int
	Priority     int
	ScheduledFor time.Time
	ErrorMessage string
	CreatedAt    time.Time
}

type Scheduler struct {
	db     *store.DB
	logger *slog.Logger
	now    func() time.Time
}

func New(db *store.DB, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		db:     db,
		logger: logger.With("component", "scheduler"),
		now:    time.Now,
	}
}

// Delay returns how far out the retry for the given attempt number is
// scheduled. attempt is the number of the attempt being scheduled (2 for the
// first retry).
func Delay(attempt int) time.Duration {
	idx := attempt - 2
	if idx < 0 {
		idx = 0
	}
	if idx >= len(retryDelays) {
		idx = len(retryDelays) - 1
	}
	return retryDelays[idx]
}

// Priority ranks a retry job; earlier attempts get higher priority.
func Priority(attempt int) int {
	p := 10 - attempt
	if p < 1 {
		p = 1
	}
	return p
}

// Schedule enqueues a deferred retry for msg. attempt is the attempt number
// the job will perform when claimed.
func (s *Scheduler) Schedule(ctx context.Context, msg *mail.Message, attempt int) error {
	payload := *msg
	payload.MaxAttempts = msg.AttemptBudget()

	data, err := json.Marshal(&payload)
	if err != nil {
		return fmt.Errorf("failed to marshal retry payload: %w", err)
	}

	id := uuid.New().String()
	scheduledFor := s.now().UTC().Add(Delay(attempt))

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_queue (id, job_type, payload, status, attempts, priority, scheduled_for, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
		id, JobTypeRetryEmail, string(data), JobPending, Priority(attempt), scheduledFor, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}

	s.logger.Info("retry scheduled",
		"job_id", id,
		"to", msg.FirstRecipient(),
		"attempt", attempt,
		"scheduled_for", scheduledFor,
	)
	return nil
}

// ClaimDue returns up to limit due pending jobs, each claimed by a single
// conditional UPDATE guarded on status = pending. A job that another worker
// claimed between the select and the update affects zero rows and is
// silently skipped; losing that race is not an error.
func (s *Scheduler) ClaimDue(ctx context.Context, limit int) ([]*RetryJob, error) {
	if limit <= 0 {
		limit = 15
	}

	now := s.now().UTC()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_type, payload, status, attempts, priority, scheduled_for, created_at
		FROM job_queue
		WHERE job_type = ? AND status = ? AND scheduled_for <= ?
		ORDER BY scheduled_for ASC
		LIMIT ?`,
		JobTypeRetryEmail, JobPending, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select due jobs: %w", err)
	}

	candidates := []*RetryJob{}
	for rows.Next() {
		job := &RetryJob{}
		var payload string
		if err := rows.Scan(&job.ID, &job.JobType, &payload, &job.Status,
			&job.Attempts, &job.Priority, &job.ScheduledFor, &job.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		job.Message = &mail.Message{}
		if err := json.Unmarshal([]byte(payload), job.Message); err != nil {
			s.logger.Error("unreadable retry payload", "job_id", job.ID, "error", err)
			job.Message = nil
		}
		candidates = append(candidates, job)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	claimed := []*RetryJob{}
	for _, job := range candidates {
		res, err := s.db.ExecContext(ctx, `
			UPDATE job_queue
			SET status = ?, attempts = attempts + 1, started_at = ?
			WHERE id = ? AND status = ?`,
			JobProcessing, s.now().UTC(), job.ID, JobPending,
		)
		if err != nil {
			return claimed, fmt.Errorf("failed to claim job %s: %w", job.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return claimed, err
		}
		if n == 0 {
			s.logger.Debug("job already claimed", "job_id", job.ID)
			continue
		}
		job.Status = JobProcessing
		job.Attempts++
		claimed = append(claimed, job)
	}

	return claimed, nil
}

// Complete finalizes a claimed job after a successful retry, attaching the
// send result for the audit trail.
func (s *Scheduler) Complete(ctx context.Context, jobID string, result *mail.SendResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE job_queue SET status = ?, result = ?, completed_at = ? WHERE id = ?`,
		JobCompleted, string(data), s.now().UTC(), jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// Reschedule returns a claimed job to the pending pool for a later attempt,
// with the backoff delay and priority of that attempt.
func (s *Scheduler) Reschedule(ctx context.Context, jobID string, attempt int, lastError string) error {
	scheduledFor := s.now().UTC().Add(Delay(attempt))

	_, err := s.db.ExecContext(ctx, `
		UPDATE job_queue
		SET status = ?, scheduled_for = ?, priority = ?, error_message = ?, started_at = NULL
		WHERE id = ?`,
		JobPending, scheduledFor, Priority(attempt), lastError, jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}

	s.logger.Info("retry rescheduled", "job_id", jobID, "attempt", attempt, "scheduled_for", scheduledFor)
	return nil
}

// Fail finalizes a claimed job whose retry did not succeed.
func (s *Scheduler) Fail(ctx context.Context, jobID, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE job_queue SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		JobFailed, message, s.now().UTC(), jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// PendingCount reports how many retry jobs are waiting, for queue depth
// metrics.
func (s *Scheduler) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM job_queue WHERE job_type = ? AND status = ?`,
		JobTypeRetryEmail, JobPending,
	).Scan(&n)
	return n, err
}

// Get returns a job by id, or nil.
func (s *Scheduler) Get(ctx context.Context, id string) (*RetryJob, error) {
	job := &RetryJob{}
	var payload string
	var errorMessage *string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, job_type, payload, status, attempts, priority, scheduled_for, error_message, created_at
		FROM job_queue WHERE id = ?`, id,
	).Scan(&job.ID, &job.JobType, &payload, &job.Status, &job.Attempts,
		&job.Priority, &job.ScheduledFor, &errorMessage, &job.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if errorMessage != nil {
		job.ErrorMessage = *errorMessage
	}
	job.Message = &mail.Message{}
	if err := json.Unmarshal([]byte(payload), job.Message); err != nil {
		job.Message = nil
	}
	return job, nil
}
