package httpapi

import "net/http"

func registerSystemRoutes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("GET /healthz", handler.Healthz)
}

func registerInternalRoutes(mux *http.ServeMux, handler *Handler, internalJobToken string) {
	mux.Handle("POST /v1/internal/dispatch/run", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.RunDispatch)))
	mux.Handle("POST /v1/internal/dispatch/enqueue", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.EnqueueJob)))
	mux.Handle("POST /v1/internal/notifications/send", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.SendNotification)))
	mux.Handle("POST /v1/internal/channel/create", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.CreateChannel)))
	mux.Handle("POST /v1/internal/channel/connect", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.ConnectChannel)))
	mux.Handle("GET /v1/internal/channel/state", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.ChannelState)))
	mux.Handle("GET /v1/internal/channel/diagnostics", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.ChannelDiagnostics)))
}
