package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/agensia/notify-dispatch/internal/platform/id"
)

func NewRouter(
	handler *Handler,
	logger *slog.Logger,
	corsAllowedOrigins []string,
	internalJobToken string,
) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	registerSystemRoutes(mux, handler)
	registerInternalRoutes(mux, handler, internalJobToken)

	chain := recoverPanic(logger, mux)
	chain = CORS(corsAllowedOrigins, chain)
	chain = RequestLogging(logger, chain)
	chain = RequestID(id.NewRandomGenerator(), chain)
	return RequestTracing(chain)
}

func recoverPanic(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := startSpan(r.Context(), "httpapi.recoverPanic")
		defer span.End()

		defer func() {
			if rec := recover(); rec != nil {
				logger.ErrorContext(ctx, "panic recovered", "panic", rec)
				writeInternalError(ctx, w)
			}
		}()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
