package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"

	"github.com/agensia/notify-dispatch/internal/domain/dispatch"
	qb "github.com/agensia/notify-dispatch/internal/platform/querybuilder"
)

// NotificationJobRepository persists dispatch jobs in the notification_jobs
// table, the queue of record for outbound sends.
type NotificationJobRepository struct {
	db *sqlx.DB
}

func NewNotificationJobRepository(db *sqlx.DB) *NotificationJobRepository {
	return &NotificationJobRepository{db: db}
}

func (r *NotificationJobRepository) Insert(ctx context.Context, job dispatch.Job) error {
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("job id is required")
	}
	if strings.TrimSpace(job.TargetReference) == "" {
		return fmt.Errorf("target reference is required")
	}

	status := job.Status
	if status == "" {
		status = dispatch.StatusPending
	}

	model := notificationJobInsertModel{
		ID:              job.ID,
		TargetReference: job.TargetReference,
		ScheduledAt:     job.ScheduledAt.UTC(),
		Status:          string(status),
		Attempts:        job.Attempts,
		CreatedAt:       job.CreatedAt.UTC(),
		UpdatedAt:       job.UpdatedAt.UTC(),
	}

	query, args, err := qb.InsertModel("notification_jobs", model)
	if err != nil {
		return fmt.Errorf("build insert notification job query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert notification job: %w", err)
	}

	return nil
}

func (r *NotificationJobRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]dispatch.Job, error) {
	if limit < 1 {
		return nil, nil
	}

	query, args, err := qb.Select("*").From("notification_jobs").
		Where(
			qb.EqLiteral("status", string(dispatch.StatusPending)),
			qb.Expr("scheduled_at <= ?", now.UTC()),
		).
		OrderBy("scheduled_at ASC", "id ASC").
		Limit(limit).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select due jobs query: %w", err)
	}

	var rows []notificationJobTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select due jobs: %w", err)
	}

	out := make([]dispatch.Job, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}

	return out, nil
}

// Claim is the pending -> processing transition. The status predicate makes
// the update conditional, so exactly one concurrent invocation wins; losers
// see zero rows affected.
func (r *NotificationJobRepository) Claim(ctx context.Context, jobID string, now time.Time) (bool, error) {
	stamp := now.UTC()
	query, args, err := qb.Update("notification_jobs").
		Set("status", string(dispatch.StatusProcessing)).
		SetExpr("attempts", "attempts + 1").
		Set("last_attempt_at", stamp).
		Set("updated_at", stamp).
		Where(
			qb.Eq("id", jobID),
			qb.EqLiteral("status", string(dispatch.StatusPending)),
		).
		ToSQL()
	if err != nil {
		return false, fmt.Errorf("build claim job query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim job rows affected: %w", err)
	}

	return affected == 1, nil
}

func (r *NotificationJobRepository) MarkOutcome(ctx context.Context, jobID string, status dispatch.Status, outcome dispatch.Outcome, now time.Time) error {
	if status != dispatch.StatusSent && status != dispatch.StatusFailed {
		return fmt.Errorf("terminal status must be sent or failed, got %q", status)
	}

	resultJSON, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(outcome)
	if err != nil {
		return fmt.Errorf("marshal job outcome: %w", err)
	}

	stamp := now.UTC()
	query, args, err := qb.Update("notification_jobs").
		Set("status", string(status)).
		Set("result", resultJSON).
		Set("updated_at", stamp).
		Where(qb.Eq("id", jobID)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build mark outcome query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark job outcome: %w", err)
	}

	return nil
}
