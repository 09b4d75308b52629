package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/agensia/notify-dispatch/internal/usecase"
)

type Handler struct {
	dispatchService *usecase.DispatchService
	channelService  *usecase.ChannelService
	logger          *slog.Logger
	validator       *validator.Validate
}

func NewHandler(
	dispatchService *usecase.DispatchService,
	channelService *usecase.ChannelService,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		dispatchService: dispatchService,
		channelService:  channelService,
		logger:          logger,
		validator:       validator.New(),
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.Healthz")
	defer span.End()

	writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "ok"})
}
