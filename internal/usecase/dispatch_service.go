package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/agensia/notify-dispatch/external/wagateway"
	"github.com/agensia/notify-dispatch/internal/domain/channel"
	"github.com/agensia/notify-dispatch/internal/domain/dispatch"
	"github.com/agensia/notify-dispatch/internal/platform/id"
	"github.com/agensia/notify-dispatch/internal/platform/logging"
)

// MessageSender is the outbound side of the dispatch worker. Implemented by
// the gateway client; kept as an interface so tests can observe sends.
type MessageSender interface {
	SendText(ctx context.Context, inst wagateway.Instance, recipient, text string) (wagateway.SendResult, error)
	HasAPIKey() bool
}

type DispatchConfig struct {
	// BatchCap is the per-run claim ceiling. It is clamped so a single run
	// can never hold more than a couple of jobs at once.
	BatchCap        int
	Concurrency     int
	MessageTemplate string
}

type RunInput struct {
	Limit int
}

type RunSummary struct {
	Processed int         `json:"processed"`
	Sent      int         `json:"sent"`
	Failed    int         `json:"failed"`
	Skipped   int         `json:"skipped"`
	Picked    int         `json:"picked"`
	Limit     int         `json:"limit"`
	Results   []JobResult `json:"results"`
}

type JobResult struct {
	JobID           string            `json:"job_id"`
	TargetReference string            `json:"target_reference"`
	Status          string            `json:"status"`
	DurationMs      int64             `json:"duration_ms"`
	Outcome         *dispatch.Outcome `json:"outcome,omitempty"`
	Message         string            `json:"message,omitempty"`
}

const (
	jobResultSent    = "sent"
	jobResultFailed  = "failed"
	jobResultSkipped = "skipped"

	hardBatchCap = 2
)

type EnqueueInput struct {
	TargetReference string
	ScheduledAt     time.Time
}

type SendInput struct {
	Recipient string
	Text      string
}

// DispatchService drains due notification jobs from the queue of record and
// delivers them through the messaging gateway.
type DispatchService struct {
	jobs     dispatch.Repository
	targets  dispatch.TargetResolver
	settings channel.Repository
	sender   MessageSender
	ids      id.Generator
	cfg      DispatchConfig
	logger   *logging.Logger
	now      func() time.Time
}

func NewDispatchService(
	jobs dispatch.Repository,
	targets dispatch.TargetResolver,
	settings channel.Repository,
	sender MessageSender,
	ids id.Generator,
	cfg DispatchConfig,
	logger *logging.Logger,
) *DispatchService {
	if logger == nil {
		logger = logging.Default()
	}
	if ids == nil {
		ids = id.NewRandomGenerator()
	}
	if cfg.BatchCap < 1 || cfg.BatchCap > hardBatchCap {
		cfg.BatchCap = hardBatchCap
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Concurrency > cfg.BatchCap {
		cfg.Concurrency = cfg.BatchCap
	}

	return &DispatchService{
		jobs:     jobs,
		targets:  targets,
		settings: settings,
		sender:   sender,
		ids:      ids,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Run picks due jobs, claims each one conditionally and delivers the claimed
// ones. A lost claim is a skip, not an error; one failing job never aborts the
// rest of the batch.
func (s *DispatchService) Run(ctx context.Context, input RunInput) (RunSummary, error) {
	ctx, span := startUsecaseSpan(ctx, "DispatchService.Run")
	defer span.End()

	limit := input.Limit
	if limit < 1 || limit > s.cfg.BatchCap {
		limit = s.cfg.BatchCap
	}
	summary := RunSummary{Limit: limit, Results: []JobResult{}}

	settings, err := s.activeSettings(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	now := s.now()
	due, err := s.jobs.ListDue(ctx, now, limit)
	if err != nil {
		return RunSummary{}, fmt.Errorf("list due jobs: %w", err)
	}
	summary.Picked = len(due)
	if len(due) == 0 {
		return summary, nil
	}

	claimed := make([]dispatch.Job, 0, len(due))
	claimErrors := 0
	for _, job := range due {
		won, err := s.jobs.Claim(ctx, job.ID, now)
		if err != nil {
			// A store error on one claim must not abort the run: the jobs
			// claimed before it would be stuck in processing forever.
			s.logger.WarnContext(ctx, "claim job failed", "job_id", job.ID, "error", err)
			claimErrors++
			summary.Results = append(summary.Results, JobResult{
				JobID:           job.ID,
				TargetReference: job.TargetReference,
				Status:          jobResultFailed,
				Message:         fmt.Sprintf("claim job: %v", err),
			})
			continue
		}
		if !won {
			summary.Skipped++
			summary.Results = append(summary.Results, JobResult{
				JobID:           job.ID,
				TargetReference: job.TargetReference,
				Status:          jobResultSkipped,
				Message:         "claimed by a concurrent invocation",
			})
			continue
		}
		claimed = append(claimed, job)
	}
	summary.Failed = claimErrors
	if len(claimed) == 0 {
		return summary, nil
	}

	workerCount := s.cfg.Concurrency
	if workerCount > len(claimed) {
		workerCount = len(claimed)
	}

	pool, err := ants.NewPool(workerCount)
	if err != nil {
		return RunSummary{}, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	results := make(chan JobResult, len(claimed))

	var sentCount atomic.Int32
	var failedCount atomic.Int32

	var workers sync.WaitGroup
	for _, job := range claimed {
		job := job
		run := func() {
			defer workers.Done()

			start := time.Now()
			row := s.processJob(ctx, job, settings)
			row.DurationMs = time.Since(start).Milliseconds()

			if row.Status == jobResultSent {
				sentCount.Add(1)
			} else {
				failedCount.Add(1)
			}

			results <- row
		}
		workers.Add(1)
		if err := pool.Submit(run); err != nil {
			// The job is already claimed: process it inline so it still
			// reaches a terminal status. The results channel is buffered to
			// len(claimed), so the send never blocks.
			s.logger.WarnContext(ctx, "worker pool rejected job, running inline", "job_id", job.ID, "error", err)
			run()
		}
	}

	workers.Wait()
	close(results)

	for row := range results {
		summary.Results = append(summary.Results, row)
	}
	sort.SliceStable(summary.Results, func(i, j int) bool {
		return summary.Results[i].JobID < summary.Results[j].JobID
	})

	summary.Sent = int(sentCount.Load())
	summary.Failed = int(failedCount.Load()) + claimErrors
	summary.Processed = len(claimed)

	s.logger.InfoContext(ctx, "dispatch run finished",
		"picked", summary.Picked,
		"processed", summary.Processed,
		"sent", summary.Sent,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)
	return summary, nil
}

// processJob delivers one claimed job and writes its terminal status. The
// failed state is terminal: failed jobs are never re-queued automatically.
func (s *DispatchService) processJob(ctx context.Context, job dispatch.Job, settings channel.Settings) JobResult {
	row := JobResult{
		JobID:           job.ID,
		TargetReference: job.TargetReference,
	}

	outcome := s.deliver(ctx, job, settings)
	status := dispatch.StatusFailed
	row.Status = jobResultFailed
	if outcome.Success {
		status = dispatch.StatusSent
		row.Status = jobResultSent
	}
	row.Outcome = &outcome

	if err := s.jobs.MarkOutcome(ctx, job.ID, status, outcome, s.now()); err != nil {
		s.logger.WarnContext(ctx, "mark job outcome failed", "job_id", job.ID, "error", err)
		row.Message = fmt.Sprintf("store outcome: %v", err)
	}

	return row
}

func (s *DispatchService) deliver(ctx context.Context, job dispatch.Job, settings channel.Settings) dispatch.Outcome {
	target, ok, err := s.targets.Resolve(ctx, job.TargetReference)
	if err != nil {
		return dispatch.Outcome{Error: fmt.Sprintf("resolve target: %v", err)}
	}
	if !ok {
		return dispatch.Outcome{Error: fmt.Sprintf("unknown target reference %q", job.TargetReference)}
	}

	recipient := dispatch.NormalizePhone(target.Phone, settings.DefaultCountryCode)
	text := renderMessage(s.cfg.MessageTemplate, target)

	result, err := s.sender.SendText(ctx, wagateway.Instance{
		ServerURL: settings.ServerURL,
		Name:      settings.InstanceName,
	}, recipient, text)

	outcome := dispatch.Outcome{
		Success:        result.Success,
		Status:         result.Status,
		Endpoint:       result.Endpoint,
		AttemptUsed:    result.AttemptUsed,
		ResponseTimeMs: result.ResponseTimeMs,
		Body:           result.Body,
		Error:          result.Error,
	}
	if err != nil && outcome.Error == "" {
		outcome.Error = err.Error()
	}

	return outcome
}

// Enqueue appends a new pending job to the queue of record. Re-scheduling a
// failed notification means enqueuing a fresh job; terminal rows stay put.
func (s *DispatchService) Enqueue(ctx context.Context, input EnqueueInput) (dispatch.Job, error) {
	ctx, span := startUsecaseSpan(ctx, "DispatchService.Enqueue")
	defer span.End()

	reference := strings.TrimSpace(input.TargetReference)
	if reference == "" {
		return dispatch.Job{}, fmt.Errorf("%w: target reference is required", ErrInvalidInput)
	}

	jobID, err := s.ids.NewID()
	if err != nil {
		return dispatch.Job{}, fmt.Errorf("generate job id: %w", err)
	}

	now := s.now()
	scheduledAt := input.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = now
	}

	job := dispatch.Job{
		ID:              jobID,
		TargetReference: reference,
		ScheduledAt:     scheduledAt,
		Status:          dispatch.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.jobs.Insert(ctx, job); err != nil {
		return dispatch.Job{}, fmt.Errorf("insert job: %w", err)
	}

	s.logger.InfoContext(ctx, "notification job enqueued", "job_id", job.ID, "target_reference", reference, "scheduled_at", scheduledAt)
	return job, nil
}

// SendDirect delivers one ad-hoc message outside the queue. Validation
// failures classify as invalid input; gateway rejections as an unavailable
// dependency. The normalized result is returned either way.
func (s *DispatchService) SendDirect(ctx context.Context, input SendInput) (wagateway.SendResult, error) {
	ctx, span := startUsecaseSpan(ctx, "DispatchService.SendDirect")
	defer span.End()

	settings, err := s.activeSettings(ctx)
	if err != nil {
		return wagateway.SendResult{}, err
	}

	result, err := s.sender.SendText(ctx, wagateway.Instance{
		ServerURL: settings.ServerURL,
		Name:      settings.InstanceName,
	}, strings.TrimSpace(input.Recipient), input.Text)
	if err != nil {
		if wagateway.IsValidationError(err) {
			return result, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return result, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}

	return result, nil
}

// activeSettings is the preflight shared by every delivery path: both the
// channel record and the API key must be present before any unit of work.
func (s *DispatchService) activeSettings(ctx context.Context) (channel.Settings, error) {
	if !s.sender.HasAPIKey() {
		return channel.Settings{}, fmt.Errorf("%w: gateway api key is not configured", ErrConfigMissing)
	}

	settings, exists, err := s.settings.GetActive(ctx)
	if err != nil {
		return channel.Settings{}, fmt.Errorf("load channel settings: %w", err)
	}
	if !exists || !settings.Active {
		return channel.Settings{}, fmt.Errorf("%w: no active channel settings", ErrConfigMissing)
	}

	return settings, nil
}

func renderMessage(template string, target dispatch.Target) string {
	text := strings.ReplaceAll(template, "{name}", strings.TrimSpace(target.Name))
	return strings.TrimSpace(text)
}
