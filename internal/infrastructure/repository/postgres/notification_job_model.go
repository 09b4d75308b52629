package postgres

import (
	"database/sql"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/agensia/notify-dispatch/internal/domain/dispatch"
)

type notificationJobTableModel struct {
	ID              string         `db:"id"`
	TargetReference string         `db:"target_reference"`
	ScheduledAt     time.Time      `db:"scheduled_at"`
	Status          string         `db:"status"`
	Attempts        int            `db:"attempts"`
	LastAttemptAt   *time.Time     `db:"last_attempt_at"`
	Result          sql.NullString `db:"result"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

type notificationJobInsertModel struct {
	ID              string    `db:"id"`
	TargetReference string    `db:"target_reference"`
	ScheduledAt     time.Time `db:"scheduled_at"`
	Status          string    `db:"status"`
	Attempts        int       `db:"attempts"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (m notificationJobTableModel) toDomain() dispatch.Job {
	job := dispatch.Job{
		ID:              m.ID,
		TargetReference: m.TargetReference,
		ScheduledAt:     m.ScheduledAt,
		Status:          dispatch.Status(m.Status),
		Attempts:        m.Attempts,
		LastAttemptAt:   m.LastAttemptAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if m.Result.Valid && m.Result.String != "" {
		var result map[string]any
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(m.Result.String, &result); err == nil {
			job.Result = result
		}
	}

	return job
}
