package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agensia/notify-dispatch/internal/domain/dispatch"
)

// NotificationJobRepository is an in-memory queue of record, mostly for tests
// and local development. The claim semantics mirror the conditional UPDATE of
// the postgres implementation.
type NotificationJobRepository struct {
	mu    sync.Mutex
	items map[string]dispatch.Job
}

func NewNotificationJobRepository(jobs []dispatch.Job) *NotificationJobRepository {
	items := make(map[string]dispatch.Job, len(jobs))
	for _, job := range jobs {
		if job.Status == "" {
			job.Status = dispatch.StatusPending
		}
		items[job.ID] = job
	}

	return &NotificationJobRepository{items: items}
}

func (r *NotificationJobRepository) Insert(_ context.Context, job dispatch.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if _, exists := r.items[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if job.Status == "" {
		job.Status = dispatch.StatusPending
	}
	r.items[job.ID] = job

	return nil
}

func (r *NotificationJobRepository) ListDue(_ context.Context, now time.Time, limit int) ([]dispatch.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit < 1 {
		return nil, nil
	}

	var due []dispatch.Job
	for _, job := range r.items {
		if job.Status == dispatch.StatusPending && !job.ScheduledAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (r *NotificationJobRepository) Claim(_ context.Context, jobID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.items[jobID]
	if !ok || job.Status != dispatch.StatusPending {
		return false, nil
	}

	stamp := now
	job.Status = dispatch.StatusProcessing
	job.Attempts++
	job.LastAttemptAt = &stamp
	job.UpdatedAt = stamp
	r.items[jobID] = job

	return true, nil
}

func (r *NotificationJobRepository) MarkOutcome(_ context.Context, jobID string, status dispatch.Status, outcome dispatch.Outcome, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if status != dispatch.StatusSent && status != dispatch.StatusFailed {
		return fmt.Errorf("terminal status must be sent or failed, got %q", status)
	}
	job, ok := r.items[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}

	job.Status = status
	job.Result = map[string]any{
		"success":          outcome.Success,
		"status":           outcome.Status,
		"endpoint":         outcome.Endpoint,
		"attempt_used":     outcome.AttemptUsed,
		"response_time_ms": outcome.ResponseTimeMs,
		"body":             outcome.Body,
		"error":            outcome.Error,
	}
	job.UpdatedAt = now
	r.items[jobID] = job

	return nil
}

// Get returns a snapshot of one job, for assertions.
func (r *NotificationJobRepository) Get(jobID string) (dispatch.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.items[jobID]
	return job, ok
}
