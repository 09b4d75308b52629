package httpapi

import (
	"net/http"

	"github.com/agensia/notify-dispatch/external/wagateway"
)

type channelCallResponse struct {
	Success   bool                  `json:"success"`
	Call      *wagateway.CallResult `json:"call,omitempty"`
	Error     string                `json:"error,omitempty"`
	RequestID string                `json:"requestId"`
}

type channelConnectResponse struct {
	Success   bool                   `json:"success"`
	Call      *wagateway.CallResult  `json:"call,omitempty"`
	State     *wagateway.StateResult `json:"state,omitempty"`
	Error     string                 `json:"error,omitempty"`
	RequestID string                 `json:"requestId"`
}

type channelStateResponse struct {
	Success   bool                   `json:"success"`
	State     *wagateway.StateResult `json:"state,omitempty"`
	Error     string                 `json:"error,omitempty"`
	RequestID string                 `json:"requestId"`
}

type channelDiagnosticsResponse struct {
	Success   bool              `json:"success"`
	Report    *wagateway.Report `json:"report,omitempty"`
	Error     string            `json:"error,omitempty"`
	RequestID string            `json:"requestId"`
}

func (h *Handler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.CreateChannel")
	defer span.End()

	result, err := h.channelService.Create(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "channel create failed", "error", err)
		body := channelCallResponse{Success: false, Error: err.Error(), RequestID: requestIDFromContext(ctx)}
		if result.Status != 0 {
			body.Call = &result
		}
		writeJSON(ctx, w, errorStatus(err), body)
		return
	}

	writeJSON(ctx, w, http.StatusOK, channelCallResponse{
		Success:   true,
		Call:      &result,
		RequestID: requestIDFromContext(ctx),
	})
}

func (h *Handler) ConnectChannel(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ConnectChannel")
	defer span.End()

	out, err := h.channelService.Connect(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "channel connect failed", "error", err)
		body := channelConnectResponse{Success: false, Error: err.Error(), RequestID: requestIDFromContext(ctx)}
		if out.Call.Status != 0 {
			body.Call = &out.Call
		}
		if out.State.Status != 0 {
			body.State = &out.State
		}
		writeJSON(ctx, w, errorStatus(err), body)
		return
	}

	writeJSON(ctx, w, http.StatusOK, channelConnectResponse{
		Success:   true,
		Call:      &out.Call,
		State:     &out.State,
		RequestID: requestIDFromContext(ctx),
	})
}

func (h *Handler) ChannelState(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ChannelState")
	defer span.End()

	result, err := h.channelService.State(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "channel state query failed", "error", err)
		body := channelStateResponse{Success: false, Error: err.Error(), RequestID: requestIDFromContext(ctx)}
		if result.Status != 0 {
			body.State = &result
		}
		writeJSON(ctx, w, errorStatus(err), body)
		return
	}

	writeJSON(ctx, w, http.StatusOK, channelStateResponse{
		Success:   true,
		State:     &result,
		RequestID: requestIDFromContext(ctx),
	})
}

func (h *Handler) ChannelDiagnostics(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ChannelDiagnostics")
	defer span.End()

	report, err := h.channelService.Diagnostics(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "channel diagnostics failed", "error", err)
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, channelDiagnosticsResponse{
		Success:   true,
		Report:    &report,
		RequestID: requestIDFromContext(ctx),
	})
}
