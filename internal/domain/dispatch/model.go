package dispatch

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Job is one unit of outbound-notification work tied to a business entity.
type Job struct {
	ID              string
	TargetReference string
	ScheduledAt     time.Time
	Status          Status
	Attempts        int
	LastAttemptAt   *time.Time
	Result          map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Outcome is the terminal record of one delivery attempt, persisted into the
// job's result column.
type Outcome struct {
	Success        bool   `json:"success"`
	Status         int    `json:"status,omitempty"`
	Endpoint       string `json:"endpoint,omitempty"`
	AttemptUsed    int    `json:"attempt_used,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms,omitempty"`
	Body           string `json:"body,omitempty"`
	Error          string `json:"error,omitempty"`
}
