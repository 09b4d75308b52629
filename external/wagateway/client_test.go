package wagateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sonic "github.com/bytedance/sonic"

	"github.com/agensia/notify-dispatch/internal/platform/resilience"
)

func newTestClient(t *testing.T, apiKey string) *Client {
	t.Helper()

	return NewClient(Config{
		APIKey:       apiKey,
		Timeout:      2 * time.Second,
		VerifyWait:   100 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Enabled: false,
		},
	}, nil)
}

func TestSendText_RejectsInvalidRecipientWithoutNetworkCall(t *testing.T) {
	t.Parallel()

	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := newTestClient(t, "key-1")
	inst := Instance{ServerURL: server.URL, Name: "main"}

	cases := []struct {
		name      string
		recipient string
		text      string
	}{
		{name: "too short", recipient: "1234567", text: "hello"},
		{name: "too long", recipient: "1234567890123456", text: "hello"},
		{name: "non-digits", recipient: "+6281234567", text: "hello"},
		{name: "empty text", recipient: "628123456789", text: "   "},
	}
	for _, tc := range cases {
		_, err := client.SendText(context.Background(), inst, tc.recipient, tc.text)
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if !IsValidationError(err) {
			t.Fatalf("%s: expected validation classification, got %v", tc.name, err)
		}
	}
	if called {
		t.Fatalf("validation failure must not reach the gateway")
	}
}

func TestSendText_FirstShapeWins(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotAPIKey string
	var gotPayload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("apikey")
		if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"PENDING"}`))
	}))
	defer server.Close()

	client := newTestClient(t, "key-1")
	result, err := client.SendText(context.Background(), Instance{ServerURL: server.URL + "/", Name: "main"}, "628123456789", "hello")
	if err != nil {
		t.Fatalf("send text: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success")
	}
	if result.AttemptUsed != 1 {
		t.Fatalf("expected attempt 1, got %d", result.AttemptUsed)
	}
	if result.Status != http.StatusCreated {
		t.Fatalf("unexpected status: %d", result.Status)
	}
	if gotPath != "/message/sendText/main" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotAPIKey != "key-1" {
		t.Fatalf("expected apikey header to be set")
	}
	if gotPayload["number"] != "628123456789" || gotPayload["text"] != "hello" {
		t.Fatalf("unexpected first payload shape: %v", gotPayload)
	}
	if !strings.HasSuffix(result.Endpoint, "/message/sendText/main") {
		t.Fatalf("unexpected endpoint: %s", result.Endpoint)
	}
}

func TestSendText_FallsBackToSecondShape(t *testing.T) {
	t.Parallel()

	var payloads []map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		payloads = append(payloads, payload)
		if _, ok := payload["number"]; ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"unknown field number"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"SENT"}`))
	}))
	defer server.Close()

	client := newTestClient(t, "key-1")
	result, err := client.SendText(context.Background(), Instance{ServerURL: server.URL, Name: "main"}, "628123456789", "hello")
	if err != nil {
		t.Fatalf("send text: %v", err)
	}
	if result.AttemptUsed != 2 {
		t.Fatalf("expected second shape to win, got attempt %d", result.AttemptUsed)
	}
	if len(payloads) != 2 {
		t.Fatalf("expected two attempts, got %d", len(payloads))
	}
	if payloads[1]["phone"] != "628123456789" || payloads[1]["message"] != "hello" {
		t.Fatalf("unexpected second payload shape: %v", payloads[1])
	}
}

func TestSendText_SurfacesLastFailureAfterAllShapes(t *testing.T) {
	t.Parallel()

	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"rejected"}`))
	}))
	defer server.Close()

	client := newTestClient(t, "key-1")
	result, err := client.SendText(context.Background(), Instance{ServerURL: server.URL, Name: "main"}, "628123456789", "hello")
	if err == nil {
		t.Fatalf("expected error after all shapes rejected")
	}
	if IsValidationError(err) {
		t.Fatalf("gateway rejection must not classify as local validation")
	}
	if attempts != 2 {
		t.Fatalf("expected both shapes tried, got %d", attempts)
	}
	if result.Success {
		t.Fatalf("expected failure result")
	}
	if result.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected last status surfaced, got %d", result.Status)
	}
	if !strings.Contains(result.Body, "rejected") {
		t.Fatalf("expected last body surfaced, got %q", result.Body)
	}
	if result.Error == "" {
		t.Fatalf("expected generic failure message")
	}
}

func TestSendText_SlowGatewayHitsConfiguredTimeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(Config{
		APIKey:  "key-1",
		Timeout: 100 * time.Millisecond,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Enabled: false,
		},
	}, nil)

	start := time.Now()
	result, err := client.SendText(context.Background(), Instance{ServerURL: server.URL, Name: "main"}, "628123456789", "hello")
	elapsed := time.Since(start)

	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if result.Success {
		t.Fatalf("expected failure result")
	}
	// Two payload shapes at 100ms each must stay well under a second.
	if elapsed > time.Second {
		t.Fatalf("timeout not enforced, call took %s", elapsed)
	}
}

func TestSendText_CircuitOpensAfterTransientFailures(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(Config{
		APIKey:  "key-1",
		Timeout: 2 * time.Second,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 1,
			OpenTimeout:      time.Minute,
			HalfOpenMaxReq:   1,
		},
	}, nil)
	inst := Instance{ServerURL: server.URL, Name: "main"}

	if _, err := client.SendText(context.Background(), inst, "628123456789", "hello"); err == nil {
		t.Fatalf("expected first call to fail")
	}
	_, err := client.SendText(context.Background(), inst, "628123456789", "hello")
	if err == nil || !strings.Contains(err.Error(), "temporarily unavailable") {
		t.Fatalf("expected circuit rejection, got %v", err)
	}
}
