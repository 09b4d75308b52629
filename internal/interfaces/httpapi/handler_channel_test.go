package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agensia/notify-dispatch/external/wagateway"
	"github.com/agensia/notify-dispatch/internal/domain/channel"
	"github.com/agensia/notify-dispatch/internal/infrastructure/repository/memory"
	"github.com/agensia/notify-dispatch/internal/usecase"
)

func TestChannelState_ReportsNormalizedState(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"instance":{"state":"open"}}`))
	}))
	defer gateway.Close()

	router, _ := newTestRouter(t, gateway.URL, "key-1", nil, nil)

	rec := doInternalRequest(t, router, http.MethodGet, "/v1/internal/channel/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	body := decodeBody(t, rec)
	state, ok := body["state"].(map[string]any)
	if !ok {
		t.Fatalf("expected state object, body=%v", body)
	}
	if got, _ := state["state"].(string); got != "connected" {
		t.Fatalf("expected normalized connected, got %v", state["state"])
	}
	if raw, _ := state["raw_state"].(string); raw != "open" {
		t.Fatalf("expected raw provider vocabulary preserved, got %v", state["raw_state"])
	}
}

func TestCreateChannel_IdempotentOnExistingInstance(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"This name is already in use"}`))
	}))
	defer gateway.Close()

	router, _ := newTestRouter(t, gateway.URL, "key-1", nil, nil)

	rec := doInternalRequest(t, router, http.MethodPost, "/v1/internal/channel/create", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected idempotent 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if success, _ := body["success"].(bool); !success {
		t.Fatalf("expected success=true, body=%v", body)
	}
}

func TestConnectChannel_ReturnsObservedState(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/instance/connect/") {
			_, _ = w.Write([]byte(`{"pairingCode":"ABCD"}`))
			return
		}
		_, _ = w.Write([]byte(`{"instance":{"state":"open"}}`))
	}))
	defer gateway.Close()

	router, _ := newTestRouter(t, gateway.URL, "key-1", nil, nil)

	rec := doInternalRequest(t, router, http.MethodPost, "/v1/internal/channel/connect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	state, ok := body["state"].(map[string]any)
	if !ok {
		t.Fatalf("expected state object, body=%v", body)
	}
	if got, _ := state["state"].(string); got != "connected" {
		t.Fatalf("expected connected, got %v", state["state"])
	}
}

func TestChannelDiagnostics_ReturnsFullReport(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer gateway.Close()

	router, _ := newTestRouter(t, gateway.URL, "key-1", nil, nil)

	rec := doInternalRequest(t, router, http.MethodGet, "/v1/internal/channel/diagnostics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	body := decodeBody(t, rec)
	report, ok := body["report"].(map[string]any)
	if !ok {
		t.Fatalf("expected report object, body=%v", body)
	}
	checks, ok := report["checks"].([]any)
	if !ok || len(checks) != 6 {
		t.Fatalf("expected 6 checks in report, got %v", report["checks"])
	}
}

func TestChannelState_NoActiveSettingsIs503(t *testing.T) {
	settings := memory.NewChannelSettingsRepository(channel.Settings{}, false)
	client := wagateway.NewClient(wagateway.Config{APIKey: "key-1"}, nil)
	channelService := usecase.NewChannelService(settings, client, nil, nil)
	handler := NewHandler(nil, channelService, nil)
	router := NewRouter(handler, nil, []string{"*"}, testInternalToken)

	rec := doInternalRequest(t, router, http.MethodGet, "/v1/internal/channel/state", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d body=%s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, body=%v", body)
	}
}
