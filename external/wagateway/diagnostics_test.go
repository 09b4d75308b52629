package wagateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDiagnose_RunsFullBattery(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/":
			_, _ = w.Write([]byte(`{"message":"Welcome"}`))
		case strings.HasPrefix(r.URL.Path, "/instance/connectionState/"):
			_, _ = w.Write([]byte(`{"instance":{"state":"open"}}`))
		case strings.HasPrefix(r.URL.Path, "/instance/connect/"):
			_, _ = w.Write([]byte(`{"pairingCode":"ABCD"}`))
		case r.URL.Path == "/instance/create":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"already in use"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(t, "key-1")
	report, err := client.Diagnose(context.Background(), Instance{ServerURL: server.URL, Name: "main"})
	if err != nil {
		t.Fatalf("diagnose: %v", err)
	}
	if len(report.Checks) != 6 {
		t.Fatalf("expected 6 checks, got %d", len(report.Checks))
	}
	for _, check := range report.Checks {
		if check.Skipped {
			t.Fatalf("check %s skipped with api key present", check.Name)
		}
		if check.Status == 0 {
			t.Fatalf("check %s missing status", check.Name)
		}
	}
}

func TestDiagnose_SkipsAuthenticatedChecksWithoutAPIKey(t *testing.T) {
	t.Parallel()

	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, "")
	report, err := client.Diagnose(context.Background(), Instance{ServerURL: server.URL, Name: "main"})
	if err != nil {
		t.Fatalf("diagnose: %v", err)
	}

	skipped := 0
	for _, check := range report.Checks {
		if check.Skipped {
			skipped++
		}
	}
	if skipped != 5 {
		t.Fatalf("expected 5 authenticated checks skipped, got %d", skipped)
	}
	if len(paths) != 1 || paths[0] != "/" {
		t.Fatalf("expected only the base-url probe to hit the gateway, got %v", paths)
	}

	found := false
	for _, suggestion := range report.Suggestions {
		if strings.Contains(suggestion, "GATEWAY_API_KEY") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected missing-api-key suggestion, got %v", report.Suggestions)
	}
}

func TestDiagnose_SuggestsGetVariantWhenPostRejected(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/instance/connect/") && r.Method == http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, "key-1")
	report, err := client.Diagnose(context.Background(), Instance{ServerURL: server.URL, Name: "main"})
	if err != nil {
		t.Fatalf("diagnose: %v", err)
	}

	found := false
	for _, suggestion := range report.Suggestions {
		if strings.Contains(suggestion, "GET") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected GET-variant suggestion, got %v", report.Suggestions)
	}
}

func TestDiagnose_FlagsDatabaseLayerFailures(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/instance/create" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"Invalid prisma.instance.create() invocation"}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, "key-1")
	report, err := client.Diagnose(context.Background(), Instance{ServerURL: server.URL, Name: "main"})
	if err != nil {
		t.Fatalf("diagnose: %v", err)
	}

	found := false
	for _, suggestion := range report.Suggestions {
		if strings.Contains(suggestion, "storage backend") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected storage-layer suggestion, got %v", report.Suggestions)
	}
}
