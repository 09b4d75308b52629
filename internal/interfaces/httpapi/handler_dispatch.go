package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/agensia/notify-dispatch/external/wagateway"
	"github.com/agensia/notify-dispatch/internal/usecase"
)

type runDispatchRequest struct {
	Limit int `json:"limit" validate:"omitempty,min=1"`
}

type runDispatchResponse struct {
	Success   bool                `json:"success"`
	Processed int                 `json:"processed"`
	Sent      int                 `json:"sent"`
	Failed    int                 `json:"failed"`
	Skipped   int                 `json:"skipped"`
	Picked    int                 `json:"picked"`
	Limit     int                 `json:"limit"`
	Results   []usecase.JobResult `json:"results"`
	Error     string              `json:"error,omitempty"`
	RequestID string              `json:"requestId"`
}

// RunDispatch triggers one worker pass over the queue. This endpoint answers
// 200 no matter what happened; schedulers treat the call itself as
// fire-and-observe and read the success flag from the body.
func (h *Handler) RunDispatch(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.RunDispatch")
	defer span.End()

	var req runDispatchRequest
	decoder := jsoniter.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(ctx, w, http.StatusOK, runDispatchResponse{
			Success:   false,
			Results:   []usecase.JobResult{},
			Error:     fmt.Sprintf("decode request body: %v", err),
			RequestID: requestIDFromContext(ctx),
		})
		return
	}
	if err := h.validator.StructCtx(ctx, req); err != nil {
		writeJSON(ctx, w, http.StatusOK, runDispatchResponse{
			Success:   false,
			Results:   []usecase.JobResult{},
			Error:     fmt.Sprintf("invalid request body: %v", err),
			RequestID: requestIDFromContext(ctx),
		})
		return
	}

	summary, err := h.dispatchService.Run(ctx, usecase.RunInput{Limit: req.Limit})
	if err != nil {
		h.logger.WarnContext(ctx, "dispatch run failed", "error", err)
		writeJSON(ctx, w, http.StatusOK, runDispatchResponse{
			Success:   false,
			Results:   []usecase.JobResult{},
			Error:     err.Error(),
			RequestID: requestIDFromContext(ctx),
		})
		return
	}

	writeJSON(ctx, w, http.StatusOK, runDispatchResponse{
		Success:   true,
		Processed: summary.Processed,
		Sent:      summary.Sent,
		Failed:    summary.Failed,
		Skipped:   summary.Skipped,
		Picked:    summary.Picked,
		Limit:     summary.Limit,
		Results:   summary.Results,
		RequestID: requestIDFromContext(ctx),
	})
}

type enqueueJobRequest struct {
	TargetReference string     `json:"target_reference" validate:"required"`
	ScheduledAt     *time.Time `json:"scheduled_at"`
}

type enqueueJobResponse struct {
	Success   bool        `json:"success"`
	Job       enqueuedJob `json:"job"`
	RequestID string      `json:"requestId"`
}

type enqueuedJob struct {
	ID              string    `json:"id"`
	TargetReference string    `json:"target_reference"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	Status          string    `json:"status"`
}

func (h *Handler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.EnqueueJob")
	defer span.End()

	var req enqueueJobRequest
	decoder := jsoniter.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(ctx, w, fmt.Errorf("%w: decode request body: %v", usecase.ErrInvalidInput, err))
		return
	}
	if err := h.validator.StructCtx(ctx, req); err != nil {
		writeError(ctx, w, fmt.Errorf("%w: %v", usecase.ErrInvalidInput, err))
		return
	}

	input := usecase.EnqueueInput{TargetReference: req.TargetReference}
	if req.ScheduledAt != nil {
		input.ScheduledAt = *req.ScheduledAt
	}

	job, err := h.dispatchService.Enqueue(ctx, input)
	if err != nil {
		h.logger.WarnContext(ctx, "enqueue job failed", "target_reference", req.TargetReference, "error", err)
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusCreated, enqueueJobResponse{
		Success: true,
		Job: enqueuedJob{
			ID:              job.ID,
			TargetReference: job.TargetReference,
			ScheduledAt:     job.ScheduledAt,
			Status:          string(job.Status),
		},
		RequestID: requestIDFromContext(ctx),
	})
}

type sendNotificationRequest struct {
	Number  string `json:"number"`
	Phone   string `json:"phone"`
	Text    string `json:"text"`
	Message string `json:"message"`
}

type sendNotificationResponse struct {
	Success   bool                  `json:"success"`
	Result    *wagateway.SendResult `json:"result,omitempty"`
	Error     string                `json:"error,omitempty"`
	RequestID string                `json:"requestId"`
}

// SendNotification delivers one ad-hoc message outside the queue. The request
// accepts both field dialects the gateway knows: number/text and
// phone/message.
func (h *Handler) SendNotification(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.SendNotification")
	defer span.End()

	var req sendNotificationRequest
	decoder := jsoniter.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(ctx, w, fmt.Errorf("%w: decode request body: %v", usecase.ErrInvalidInput, err))
		return
	}

	recipient := strings.TrimSpace(req.Number)
	if recipient == "" {
		recipient = strings.TrimSpace(req.Phone)
	}
	text := req.Text
	if strings.TrimSpace(text) == "" {
		text = req.Message
	}
	if recipient == "" {
		writeError(ctx, w, fmt.Errorf("%w: recipient is required (number or phone)", usecase.ErrInvalidInput))
		return
	}
	if strings.TrimSpace(text) == "" {
		writeError(ctx, w, fmt.Errorf("%w: message text is required (text or message)", usecase.ErrInvalidInput))
		return
	}

	result, err := h.dispatchService.SendDirect(ctx, usecase.SendInput{Recipient: recipient, Text: text})
	if err != nil {
		h.logger.WarnContext(ctx, "direct send failed", "error", err)
		body := sendNotificationResponse{
			Success:   false,
			Error:     err.Error(),
			RequestID: requestIDFromContext(ctx),
		}
		if result.Status != 0 || result.Error != "" {
			body.Result = &result
		}
		writeJSON(ctx, w, errorStatus(err), body)
		return
	}

	writeJSON(ctx, w, http.StatusOK, sendNotificationResponse{
		Success:   true,
		Result:    &result,
		RequestID: requestIDFromContext(ctx),
	})
}
