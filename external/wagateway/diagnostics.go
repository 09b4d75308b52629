package wagateway

import (
	"context"
	"net/http"
	"strings"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/sourcegraph/conc"
)

// CheckResult is one probe in the diagnostics battery.
type CheckResult struct {
	Name      string `json:"name"`
	Method    string `json:"method"`
	Endpoint  string `json:"endpoint"`
	Status    int    `json:"status,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Body      string `json:"body,omitempty"`
	Error     string `json:"error,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
}

// Report aggregates the battery plus heuristic suggestions derived from it.
type Report struct {
	Checks      []CheckResult `json:"checks"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

const diagBodySnippet = 512

// Diagnose runs a fixed battery of read-only probes against the gateway in
// parallel and returns every observation, good or bad. It never touches the
// notification queue. Checks that require authentication are skipped entirely
// when no API key is configured.
func (c *Client) Diagnose(ctx context.Context, inst Instance) (Report, error) {
	baseURL, err := validateHTTPBaseURL(inst.ServerURL)
	if err != nil {
		return Report{}, crerr.Wrap(err, "invalid gateway server url")
	}
	if strings.TrimSpace(inst.Name) == "" {
		return Report{}, crerr.New("gateway instance name is required")
	}

	hasKey := c.HasAPIKey()
	createPayload, err := sonic.Marshal(map[string]any{
		"instanceName": inst.Name,
		"qrcode":       true,
	})
	if err != nil {
		return Report{}, crerr.Wrap(err, "marshal create payload")
	}

	checks := []struct {
		name          string
		method        string
		endpoint      string
		body          []byte
		authenticated bool
	}{
		{name: "base-url", method: http.MethodGet, endpoint: baseURL + "/"},
		{name: "connection-state", method: http.MethodGet, endpoint: baseURL + "/instance/connectionState/" + inst.Name, authenticated: true},
		{name: "connect-post", method: http.MethodPost, endpoint: baseURL + "/instance/connect/" + inst.Name, authenticated: true},
		{name: "connect-get", method: http.MethodGet, endpoint: baseURL + "/instance/connect/" + inst.Name, authenticated: true},
		{name: "create-post", method: http.MethodPost, endpoint: baseURL + "/instance/create", body: createPayload, authenticated: true},
		{name: "create-get", method: http.MethodGet, endpoint: baseURL + "/instance/create", authenticated: true},
	}

	results := make([]CheckResult, len(checks))
	var wg conc.WaitGroup
	for i, check := range checks {
		i, check := i, check
		wg.Go(func() {
			result := CheckResult{
				Name:     check.name,
				Method:   check.method,
				Endpoint: check.endpoint,
			}
			if check.authenticated && !hasKey {
				result.Skipped = true
				results[i] = result
				return
			}

			started := c.now()
			var (
				status int
				body   string
				err    error
			)
			if check.body != nil {
				status, body, err = c.postJSON(ctx, check.endpoint, check.body)
			} else {
				status, body, err = c.doRaw(ctx, check.method, check.endpoint)
			}
			result.ElapsedMs = c.now().Sub(started).Milliseconds()
			result.Status = status
			result.Body = truncateForLog(body, diagBodySnippet)
			if err != nil {
				result.Error = err.Error()
			}
			results[i] = result
		})
	}
	wg.Wait()

	return Report{
		Checks:      results,
		Suggestions: buildSuggestions(results, hasKey),
	}, nil
}

func buildSuggestions(checks []CheckResult, hasKey bool) []string {
	var out []string
	if !hasKey {
		out = append(out, "no gateway API key is configured; set GATEWAY_API_KEY to run authenticated checks")
	}

	byName := make(map[string]CheckResult, len(checks))
	for _, check := range checks {
		byName[check.Name] = check
	}

	if base, ok := byName["base-url"]; ok && base.Error != "" {
		out = append(out, "gateway base url is unreachable; verify the channel server url and network path")
	}
	if post, ok := byName["connect-post"]; ok && !post.Skipped {
		if post.Status == http.StatusMethodNotAllowed || post.Status == http.StatusNotFound {
			if get, ok := byName["connect-get"]; ok && get.Status/100 == 2 {
				out = append(out, "connect rejected POST but accepted GET; this gateway build exposes connect as GET")
			} else {
				out = append(out, "connect rejected POST; try the GET variant of the connect endpoint")
			}
		}
	}
	for _, name := range []string{"create-post", "create-get"} {
		check, ok := byName[name]
		if !ok || check.Skipped || check.Status/100 == 2 {
			continue
		}
		if hasDatabaseSignature(check.Body) {
			out = append(out, "instance create failed with a database-layer error; check the gateway's own storage backend")
			break
		}
	}

	return out
}

func hasDatabaseSignature(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range []string{"sqlstate", "prisma", "database", "relation \"", "constraint", "duplicate key"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
