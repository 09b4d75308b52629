package wagateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"

	"github.com/agensia/notify-dispatch/internal/domain/channel"
)

// CallResult carries the gateway's raw answer to a lifecycle call so the
// caller always sees what the provider said, even on failure.
type CallResult struct {
	Status int    `json:"status"`
	Body   string `json:"body,omitempty"`
}

// StateResult is a connection-state observation with the provider vocabulary
// normalized once at this boundary.
type StateResult struct {
	Status int           `json:"status"`
	Body   string        `json:"body,omitempty"`
	Raw    string        `json:"raw_state,omitempty"`
	State  channel.State `json:"state"`
}

// CreateInstance registers the named session on the gateway. A response
// saying the name already exists counts as success: create is idempotent.
func (c *Client) CreateInstance(ctx context.Context, inst Instance) (CallResult, error) {
	baseURL, err := validateHTTPBaseURL(inst.ServerURL)
	if err != nil {
		return CallResult{}, crerr.Wrap(err, "invalid gateway server url")
	}
	if strings.TrimSpace(inst.Name) == "" {
		return CallResult{}, crerr.New("gateway instance name is required")
	}

	endpoint := baseURL + "/instance/create"
	payload, err := sonic.Marshal(map[string]any{
		"instanceName": inst.Name,
		"qrcode":       true,
	})
	if err != nil {
		return CallResult{}, crerr.Wrap(err, "marshal create payload")
	}

	status, body, err := c.postJSON(ctx, endpoint, payload)
	if err != nil {
		c.recordCircuitResult(err)
		return CallResult{}, fmt.Errorf("create instance via %s: %w", endpoint, err)
	}

	result := CallResult{Status: status, Body: body}
	if status/100 == 2 || isAlreadyExistsBody(body) {
		c.recordCircuitResult(nil)
		c.logger.InfoContext(ctx, "gateway instance ready", "endpoint", endpoint, "status", status)
		return result, nil
	}

	callErr := fmt.Errorf("create instance status=%d body=%s", status, body)
	if isRetryableStatus(status) {
		callErr = fmt.Errorf("%w: %v", errGatewayTransient, callErr)
	}
	c.recordCircuitResult(callErr)
	return result, callErr
}

// Connect asks the gateway to start connecting the session. Some gateway builds
// expose the connect operation as GET, some as POST; the GET is tried first and
// a method-shaped rejection falls through to POST.
func (c *Client) Connect(ctx context.Context, inst Instance) (CallResult, error) {
	baseURL, err := validateHTTPBaseURL(inst.ServerURL)
	if err != nil {
		return CallResult{}, crerr.Wrap(err, "invalid gateway server url")
	}
	if strings.TrimSpace(inst.Name) == "" {
		return CallResult{}, crerr.New("gateway instance name is required")
	}

	endpoint := baseURL + "/instance/connect/" + inst.Name
	status, body, err := c.doRaw(ctx, http.MethodGet, endpoint)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotFound) {
		status, body, err = c.doRaw(ctx, http.MethodPost, endpoint)
	}
	if err != nil {
		c.recordCircuitResult(err)
		return CallResult{}, fmt.Errorf("connect instance via %s: %w", endpoint, err)
	}

	result := CallResult{Status: status, Body: body}
	if status/100 != 2 {
		callErr := fmt.Errorf("connect instance status=%d body=%s", status, body)
		if isRetryableStatus(status) {
			callErr = fmt.Errorf("%w: %v", errGatewayTransient, callErr)
		}
		c.recordCircuitResult(callErr)
		return result, callErr
	}

	c.recordCircuitResult(nil)
	return result, nil
}

// ConnectionState observes the current session state. The provider's
// vocabulary ("open", "close", "connecting", ...) is normalized here and
// nowhere else.
func (c *Client) ConnectionState(ctx context.Context, inst Instance) (StateResult, error) {
	baseURL, err := validateHTTPBaseURL(inst.ServerURL)
	if err != nil {
		return StateResult{}, crerr.Wrap(err, "invalid gateway server url")
	}
	if strings.TrimSpace(inst.Name) == "" {
		return StateResult{}, crerr.New("gateway instance name is required")
	}

	endpoint := baseURL + "/instance/connectionState/" + inst.Name
	status, body, err := c.doRaw(ctx, http.MethodGet, endpoint)
	if err != nil {
		c.recordCircuitResult(err)
		return StateResult{}, fmt.Errorf("query connection state via %s: %w", endpoint, err)
	}

	raw := parseStateToken(body)
	result := StateResult{
		Status: status,
		Body:   body,
		Raw:    raw,
		State:  channel.NormalizeState(raw),
	}
	if status/100 != 2 {
		callErr := fmt.Errorf("connection state status=%d body=%s", status, body)
		if isRetryableStatus(status) {
			callErr = fmt.Errorf("%w: %v", errGatewayTransient, callErr)
		}
		c.recordCircuitResult(callErr)
		return result, callErr
	}

	c.recordCircuitResult(nil)
	return result, nil
}

// WaitForConnection polls the connection state until it reaches connected or
// the wait budget runs out. The deadline is computed once before the first
// poll; on expiry the last observed state is returned without error, since
// not-yet-connected is an observation, not a failure.
func (c *Client) WaitForConnection(ctx context.Context, inst Instance) (StateResult, error) {
	deadline := c.now().Add(c.verifyWait)
	last := StateResult{State: channel.StateDisconnected}

	for {
		res, err := c.ConnectionState(ctx, inst)
		if err == nil || res.Status != 0 {
			last = res
		}
		if last.State == channel.StateConnected {
			return last, nil
		}
		if !c.now().Before(deadline) {
			return last, nil
		}
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return last, err
		}
	}
}

func isAlreadyExistsBody(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "already in use") || strings.Contains(lower, "already exists")
}

// parseStateToken digs the state token out of the bodies the gateway is known
// to produce: {"state":"open"} and {"instance":{"state":"open"}}.
func parseStateToken(body string) string {
	var envelope struct {
		State    string `json:"state"`
		Instance struct {
			State string `json:"state"`
		} `json:"instance"`
	}
	if err := sonic.Unmarshal([]byte(body), &envelope); err != nil {
		return ""
	}
	if envelope.Instance.State != "" {
		return envelope.Instance.State
	}
	return envelope.State
}
