package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agensia/notify-dispatch/external/wagateway"
	"github.com/agensia/notify-dispatch/internal/domain/channel"
	"github.com/agensia/notify-dispatch/internal/domain/dispatch"
	"github.com/agensia/notify-dispatch/internal/infrastructure/repository/memory"
)

type fakeSender struct {
	mu      sync.Mutex
	calls   []fakeSendCall
	hasKey  bool
	failFor map[string]bool
	sendErr error
}

type fakeSendCall struct {
	inst      wagateway.Instance
	recipient string
	text      string
}

func newFakeSender() *fakeSender {
	return &fakeSender{hasKey: true, failFor: map[string]bool{}}
}

func (f *fakeSender) SendText(_ context.Context, inst wagateway.Instance, recipient, text string) (wagateway.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fakeSendCall{inst: inst, recipient: recipient, text: text})
	if f.sendErr != nil {
		return wagateway.SendResult{Endpoint: inst.ServerURL, Error: "message delivery failed after all payload shapes", Status: 500}, f.sendErr
	}
	if f.failFor[recipient] {
		return wagateway.SendResult{
			Endpoint: inst.ServerURL + "/message/sendText/" + inst.Name,
			Status:   500,
			Error:    "message delivery failed after all payload shapes",
		}, errors.New("gateway send failed")
	}

	return wagateway.SendResult{
		Success:        true,
		Status:         201,
		Endpoint:       inst.ServerURL + "/message/sendText/" + inst.Name,
		AttemptUsed:    1,
		ResponseTimeMs: 12,
	}, nil
}

func (f *fakeSender) HasAPIKey() bool { return f.hasKey }

func (f *fakeSender) sentRecipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.calls))
	for _, call := range f.calls {
		out = append(out, call.recipient)
	}
	return out
}

func activeSettingsRepo() *memory.ChannelSettingsRepository {
	return memory.NewChannelSettingsRepository(channel.Settings{
		ServerURL:          "http://gw.local",
		InstanceName:       "main",
		DefaultCountryCode: "62",
		Active:             true,
	}, true)
}

func pendingJob(id, reference string, scheduledAt time.Time) dispatch.Job {
	return dispatch.Job{
		ID:              id,
		TargetReference: reference,
		ScheduledAt:     scheduledAt,
		Status:          dispatch.StatusPending,
	}
}

func TestDispatchRun_ClampsLimitToHardCap(t *testing.T) {
	t.Parallel()

	past := time.Now().Add(-time.Minute)
	jobs := memory.NewNotificationJobRepository([]dispatch.Job{
		pendingJob("job-1", "lead-1", past),
		pendingJob("job-2", "lead-2", past),
		pendingJob("job-3", "lead-3", past),
	})
	targets := memory.NewRecipientResolver([]dispatch.Target{
		{Reference: "lead-1", Name: "Ana", Phone: "628111111111"},
		{Reference: "lead-2", Name: "Ben", Phone: "628222222222"},
		{Reference: "lead-3", Name: "Cam", Phone: "628333333333"},
	})
	sender := newFakeSender()

	svc := NewDispatchService(jobs, targets, activeSettingsRepo(), sender, nil, DispatchConfig{MessageTemplate: "hi {name}"}, nil)
	summary, err := svc.Run(context.Background(), RunInput{Limit: 50})
	require.NoError(t, err)

	require.Equal(t, 2, summary.Limit)
	require.Equal(t, 2, summary.Picked)
	require.Equal(t, 2, summary.Processed)
	require.Equal(t, 2, summary.Sent)
	require.Len(t, sender.sentRecipients(), 2)

	job3, ok := jobs.Get("job-3")
	require.True(t, ok)
	require.Equal(t, dispatch.StatusPending, job3.Status)
}

func TestDispatchRun_AbortsBeforeWorkWhenConfigMissing(t *testing.T) {
	t.Parallel()

	past := time.Now().Add(-time.Minute)
	jobs := memory.NewNotificationJobRepository([]dispatch.Job{pendingJob("job-1", "lead-1", past)})
	sender := newFakeSender()
	sender.hasKey = false

	svc := NewDispatchService(jobs, memory.NewRecipientResolver(nil), activeSettingsRepo(), sender, nil, DispatchConfig{}, nil)
	_, err := svc.Run(context.Background(), RunInput{})
	require.ErrorIs(t, err, ErrConfigMissing)

	job, ok := jobs.Get("job-1")
	require.True(t, ok)
	require.Equal(t, dispatch.StatusPending, job.Status)
	require.Zero(t, job.Attempts)
}

func TestDispatchRun_InactiveSettingsIsConfigMissing(t *testing.T) {
	t.Parallel()

	settings := memory.NewChannelSettingsRepository(channel.Settings{Active: false}, true)
	svc := NewDispatchService(memory.NewNotificationJobRepository(nil), memory.NewRecipientResolver(nil), settings, newFakeSender(), nil, DispatchConfig{}, nil)

	_, err := svc.Run(context.Background(), RunInput{})
	require.ErrorIs(t, err, ErrConfigMissing)
}

type racingClaimRepo struct {
	*memory.NotificationJobRepository
	stolen map[string]bool
}

func (r *racingClaimRepo) Claim(ctx context.Context, jobID string, now time.Time) (bool, error) {
	if r.stolen[jobID] {
		return false, nil
	}
	return r.NotificationJobRepository.Claim(ctx, jobID, now)
}

func TestDispatchRun_LostClaimIsSkippedNotFailed(t *testing.T) {
	t.Parallel()

	past := time.Now().Add(-time.Minute)
	base := memory.NewNotificationJobRepository([]dispatch.Job{
		pendingJob("job-1", "lead-1", past),
		pendingJob("job-2", "lead-2", past),
	})
	jobs := &racingClaimRepo{NotificationJobRepository: base, stolen: map[string]bool{"job-1": true}}
	targets := memory.NewRecipientResolver([]dispatch.Target{
		{Reference: "lead-2", Name: "Ben", Phone: "628222222222"},
	})
	sender := newFakeSender()

	svc := NewDispatchService(jobs, targets, activeSettingsRepo(), sender, nil, DispatchConfig{MessageTemplate: "hi {name}"}, nil)
	summary, err := svc.Run(context.Background(), RunInput{})
	require.NoError(t, err)

	require.Equal(t, 1, summary.Skipped)
	require.Equal(t, 1, summary.Processed)
	require.Equal(t, 1, summary.Sent)
	require.Zero(t, summary.Failed)

	var skipped *JobResult
	for i := range summary.Results {
		if summary.Results[i].Status == jobResultSkipped {
			skipped = &summary.Results[i]
		}
	}
	require.NotNil(t, skipped)
	require.Equal(t, "job-1", skipped.JobID)
	require.Len(t, sender.sentRecipients(), 1)
}

type brokenClaimRepo struct {
	*memory.NotificationJobRepository
	broken map[string]bool
}

func (r *brokenClaimRepo) Claim(ctx context.Context, jobID string, now time.Time) (bool, error) {
	if r.broken[jobID] {
		return false, errors.New("pq: connection reset")
	}
	return r.NotificationJobRepository.Claim(ctx, jobID, now)
}

func TestDispatchRun_ClaimErrorDoesNotAbortRun(t *testing.T) {
	t.Parallel()

	past := time.Now().Add(-time.Minute)
	base := memory.NewNotificationJobRepository([]dispatch.Job{
		pendingJob("job-1", "lead-1", past),
		pendingJob("job-2", "lead-2", past),
	})
	jobs := &brokenClaimRepo{NotificationJobRepository: base, broken: map[string]bool{"job-1": true}}
	targets := memory.NewRecipientResolver([]dispatch.Target{
		{Reference: "lead-2", Name: "Ben", Phone: "628222222222"},
	})
	sender := newFakeSender()

	svc := NewDispatchService(jobs, targets, activeSettingsRepo(), sender, nil, DispatchConfig{MessageTemplate: "hi {name}"}, nil)
	summary, err := svc.Run(context.Background(), RunInput{})
	require.NoError(t, err)

	require.Equal(t, 1, summary.Processed)
	require.Equal(t, 1, summary.Sent)
	require.Equal(t, 1, summary.Failed)
	require.Zero(t, summary.Skipped)

	var claimRow *JobResult
	for i := range summary.Results {
		if summary.Results[i].JobID == "job-1" {
			claimRow = &summary.Results[i]
		}
	}
	require.NotNil(t, claimRow)
	require.Equal(t, jobResultFailed, claimRow.Status)
	require.Contains(t, claimRow.Message, "claim job")

	job1, ok := base.Get("job-1")
	require.True(t, ok)
	require.Equal(t, dispatch.StatusPending, job1.Status)

	job2, ok := base.Get("job-2")
	require.True(t, ok)
	require.Equal(t, dispatch.StatusSent, job2.Status)
	require.Len(t, sender.sentRecipients(), 1)
}

func TestDispatchRun_FailureIsTerminalAndDoesNotAbortBatch(t *testing.T) {
	t.Parallel()

	past := time.Now().Add(-time.Minute)
	jobs := memory.NewNotificationJobRepository([]dispatch.Job{
		pendingJob("job-1", "lead-1", past),
		pendingJob("job-2", "lead-2", past),
	})
	targets := memory.NewRecipientResolver([]dispatch.Target{
		{Reference: "lead-1", Name: "Ana", Phone: "628111111111"},
		{Reference: "lead-2", Name: "Ben", Phone: "628222222222"},
	})
	sender := newFakeSender()
	sender.failFor["628111111111"] = true

	svc := NewDispatchService(jobs, targets, activeSettingsRepo(), sender, nil, DispatchConfig{MessageTemplate: "hi {name}"}, nil)
	summary, err := svc.Run(context.Background(), RunInput{})
	require.NoError(t, err)

	require.Equal(t, 2, summary.Processed)
	require.Equal(t, 1, summary.Sent)
	require.Equal(t, 1, summary.Failed)

	failed, ok := jobs.Get("job-1")
	require.True(t, ok)
	require.Equal(t, dispatch.StatusFailed, failed.Status)
	require.Equal(t, 1, failed.Attempts)
	require.NotNil(t, failed.Result)

	// terminal rows stay put: nothing is due on the next run
	again, err := svc.Run(context.Background(), RunInput{})
	require.NoError(t, err)
	require.Zero(t, again.Picked)
}

func TestDispatchRun_NormalizesPhoneAndRendersTemplate(t *testing.T) {
	t.Parallel()

	past := time.Now().Add(-time.Minute)
	jobs := memory.NewNotificationJobRepository([]dispatch.Job{pendingJob("job-1", "lead-1", past)})
	targets := memory.NewRecipientResolver([]dispatch.Target{
		{Reference: "lead-1", Name: "Ana", Phone: "0812-3456-789"},
	})
	sender := newFakeSender()

	svc := NewDispatchService(jobs, targets, activeSettingsRepo(), sender, nil, DispatchConfig{MessageTemplate: "Hello {name}, your campaign report is ready."}, nil)
	summary, err := svc.Run(context.Background(), RunInput{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Sent)

	require.Len(t, sender.calls, 1)
	require.Equal(t, "628123456789", sender.calls[0].recipient)
	require.Equal(t, "Hello Ana, your campaign report is ready.", sender.calls[0].text)
	require.Equal(t, "http://gw.local", sender.calls[0].inst.ServerURL)
	require.Equal(t, "main", sender.calls[0].inst.Name)
}

func TestDispatchRun_UnknownTargetFailsJob(t *testing.T) {
	t.Parallel()

	past := time.Now().Add(-time.Minute)
	jobs := memory.NewNotificationJobRepository([]dispatch.Job{pendingJob("job-1", "ghost", past)})
	sender := newFakeSender()

	svc := NewDispatchService(jobs, memory.NewRecipientResolver(nil), activeSettingsRepo(), sender, nil, DispatchConfig{}, nil)
	summary, err := svc.Run(context.Background(), RunInput{})
	require.NoError(t, err)

	require.Equal(t, 1, summary.Failed)
	require.Empty(t, sender.sentRecipients())

	job, ok := jobs.Get("job-1")
	require.True(t, ok)
	require.Equal(t, dispatch.StatusFailed, job.Status)
	require.Contains(t, fmt.Sprint(job.Result["error"]), "unknown target reference")
}

func TestSendDirect_ClassifiesErrors(t *testing.T) {
	t.Parallel()

	sender := newFakeSender()
	sender.sendErr = fmt.Errorf("%w: recipient must be 8-15 digits", wagateway.ErrValidation)
	svc := NewDispatchService(memory.NewNotificationJobRepository(nil), memory.NewRecipientResolver(nil), activeSettingsRepo(), sender, nil, DispatchConfig{}, nil)

	_, err := svc.SendDirect(context.Background(), SendInput{Recipient: "abc", Text: "hi"})
	require.ErrorIs(t, err, ErrInvalidInput)

	sender.sendErr = errors.New("gateway send failed")
	result, err := svc.SendDirect(context.Background(), SendInput{Recipient: "628123456789", Text: "hi"})
	require.ErrorIs(t, err, ErrDependencyUnavailable)
	require.Equal(t, 500, result.Status)
}

func TestEnqueue_DefaultsAndValidation(t *testing.T) {
	t.Parallel()

	jobs := memory.NewNotificationJobRepository(nil)
	svc := NewDispatchService(jobs, memory.NewRecipientResolver(nil), activeSettingsRepo(), newFakeSender(), nil, DispatchConfig{}, nil)

	_, err := svc.Enqueue(context.Background(), EnqueueInput{TargetReference: "  "})
	require.ErrorIs(t, err, ErrInvalidInput)

	job, err := svc.Enqueue(context.Background(), EnqueueInput{TargetReference: "lead-1"})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	require.Equal(t, dispatch.StatusPending, job.Status)
	require.False(t, job.ScheduledAt.IsZero())

	stored, ok := jobs.Get(job.ID)
	require.True(t, ok)
	require.Equal(t, "lead-1", stored.TargetReference)
}
