package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/piquet/courier/internal/mail"
	"github.com/piquet/courier/internal/store"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()

	db, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(db, logger)
}

func TestDelay(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 60 * time.Second},
		{2, 60 * time.Second},
		{3, 300 * time.Second},
		{4, 900 * time.Second},
		{5, 900 * time.Second},
		{9, 900 * time.Second},
	}

	for _, tt := range tests {
		if got := Delay(tt.attempt); got != tt.expected {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestPriority(t *testing.T) {
	tests := []struct {
		attempt  int
		expected int
	}{
		{2, 8},
		{3, 7},
		{9, 1},
		{15, 1},
	}

	for _, tt := range tests {
		if got := Priority(tt.attempt); got != tt.expected {
			t.Errorf("Priority(%d) = %d, want %d", tt.attempt, got, tt.expected)
		}
	}
}

func TestScheduleAndClaimDue(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }

	msg := &mail.Message{
		To:          []string{"a@example.com"},
		Subject:     "hi",
		Text:        "body",
		MaxAttempts: 9, // clamps to 5 in the stored payload
	}
	if err := s.Schedule(ctx, msg, 2); err != nil {
		t.Fatal(err)
	}

	// Not due yet.
	jobs, err := s.ClaimDue(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Fatalf("claimed %d jobs before due time", len(jobs))
	}

	// After the backoff delay the job is claimable exactly once.
	s.now = func() time.Time { return base.Add(Delay(2) + time.Second) }

	jobs, err = s.ClaimDue(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("claimed %d jobs, want 1", len(jobs))
	}

	job := jobs[0]
	if job.Status != JobProcessing {
		t.Errorf("status = %s, want processing", job.Status)
	}
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", job.Attempts)
	}
	if job.Priority != Priority(2) {
		t.Errorf("priority = %d, want %d", job.Priority, Priority(2))
	}
	if job.Message == nil || job.Message.Subject != "hi" {
		t.Fatalf("payload not preserved: %+v", job.Message)
	}
	if job.Message.MaxAttempts != 5 {
		t.Errorf("payload max attempts = %d, want clamped 5", job.Message.MaxAttempts)
	}

	// A second pass finds nothing: the claim flipped the status.
	jobs, err = s.ClaimDue(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Errorf("job claimed twice")
	}
}

func TestClaimDueRespectsLimit(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }

	for i := 0; i < 4; i++ {
		msg := &mail.Message{To: []string{"a@example.com"}, Subject: "hi"}
		if err := s.Schedule(ctx, msg, 2); err != nil {
			t.Fatal(err)
		}
	}

	s.now = func() time.Time { return base.Add(Delay(2) + time.Second) }

	jobs, err := s.ClaimDue(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 3 {
		t.Errorf("claimed %d jobs, want 3", len(jobs))
	}
}

func TestCompleteAndFail(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }

	for i := 0; i < 2; i++ {
		if err := s.Schedule(ctx, &mail.Message{To: []string{"a@example.com"}, Subject: "hi"}, 2); err != nil {
			t.Fatal(err)
		}
	}

	s.now = func() time.Time { return base.Add(Delay(2) + time.Second) }
	jobs, err := s.ClaimDue(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Fatalf("claimed %d jobs", len(jobs))
	}

	if err := s.Complete(ctx, jobs[0].ID, &mail.SendResult{Success: true, MessageID: "m-1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Fail(ctx, jobs[1].ID, "provider rejected"); err != nil {
		t.Fatal(err)
	}

	done, err := s.Get(ctx, jobs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != JobCompleted {
		t.Errorf("status = %s, want completed", done.Status)
	}

	failed, err := s.Get(ctx, jobs[1].ID)
	if err != nil {
		t.Fatal(err)
	}
	if failed.Status != JobFailed {
		t.Errorf("status = %s, want failed", failed.Status)
	}
	if failed.ErrorMessage != "provider rejected" {
		t.Errorf("error_message = %q", failed.ErrorMessage)
	}
}

func TestReschedule(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }

	if err := s.Schedule(ctx, &mail.Message{To: []string{"a@example.com"}, Subject: "hi"}, 2); err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return base.Add(Delay(2) + time.Second) }
	jobs, err := s.ClaimDue(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("claimed %d jobs", len(jobs))
	}

	if err := s.Reschedule(ctx, jobs[0].ID, 3, "transient failure"); err != nil {
		t.Fatal(err)
	}

	// Pending again, but not due until the next backoff step elapses.
	pending, err := s.PendingCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if pending != 1 {
		t.Errorf("pending = %d, want 1", pending)
	}

	jobs, err = s.ClaimDue(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Error("rescheduled job claimable before its backoff elapsed")
	}

	s.now = func() time.Time { return base.Add(Delay(2) + Delay(3) + 2*time.Second) }
	jobs, err = s.ClaimDue(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("claimed %d jobs after backoff", len(jobs))
	}
	if jobs[0].Attempts != 2 {
		t.Errorf("attempts = %d, want 2", jobs[0].Attempts)
	}
	if jobs[0].Priority != Priority(3) {
		t.Errorf("priority = %d, want %d", jobs[0].Priority, Priority(3))
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestScheduler(t)

	job, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if job != nil {
		t.Error("expected nil for missing job")
	}
}
