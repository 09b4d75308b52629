package dispatch

import (
	"context"
	"time"
)

// Repository is the queue of record for dispatch jobs. The conditional Claim
// is the only mutual-exclusion mechanism shared across worker invocations.
type Repository interface {
	Insert(ctx context.Context, job Job) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]Job, error)
	// Claim transitions pending -> processing, bumps attempts and stamps
	// last_attempt_at. It reports false when another invocation already owns
	// the job (zero rows affected); that is not an error.
	Claim(ctx context.Context, jobID string, now time.Time) (bool, error)
	// MarkOutcome records the terminal status written by the claim winner.
	MarkOutcome(ctx context.Context, jobID string, status Status, outcome Outcome, now time.Time) error
}
