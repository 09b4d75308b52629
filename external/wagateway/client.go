// Package wagateway talks to the WhatsApp messaging gateway that delivers
// outbound notifications. The gateway address and instance name come from the
// active channel settings; the API key is injected from process environment
// and is never included in any result or log output.
package wagateway

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/valyala/bytebufferpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agensia/notify-dispatch/internal/platform/resilience"
)

var (
	errGatewayTransient = crerr.New("gateway transient failure")

	// ErrValidation marks local payload rejection; no HTTP call was made.
	ErrValidation = crerr.New("gateway payload validation failed")

	recipientPattern = regexp.MustCompile(`^[0-9]{8,15}$`)
)

const maxBodyCapture = 4096

type Config struct {
	APIKey         string
	Timeout        time.Duration
	VerifyWait     time.Duration
	PollInterval   time.Duration
	CircuitBreaker resilience.CircuitBreakerConfig
}

// Instance identifies one gateway deployment plus the named session on it.
type Instance struct {
	ServerURL string
	Name      string
}

type Client struct {
	client         *http.Client
	apiKey         string
	timeout        time.Duration
	verifyWait     time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger
	breaker        *resilience.CircuitBreaker
	circuitEnabled bool
	sleep          func(ctx context.Context, d time.Duration) error
	now            func() time.Time
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	verifyWait := cfg.VerifyWait
	if verifyWait <= 0 {
		verifyWait = 20 * time.Second
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 1500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	breakerCfg := resilience.NormalizeCircuitBreakerConfig(cfg.CircuitBreaker)

	return &Client{
		client: &http.Client{
			Timeout: timeout,
		},
		apiKey:         strings.TrimSpace(cfg.APIKey),
		timeout:        timeout,
		verifyWait:     verifyWait,
		pollInterval:   pollInterval,
		logger:         logger,
		breaker:        resilience.NewCircuitBreaker(breakerCfg.FailureThreshold, breakerCfg.OpenTimeout, breakerCfg.HalfOpenMaxReq),
		circuitEnabled: breakerCfg.Enabled,
		sleep:          sleepContext,
		now:            time.Now,
	}
}

// HasAPIKey reports whether an API key was configured. Authenticated
// diagnostics checks are skipped when it returns false.
func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}

// SendResult is the normalized outcome of one send, success or failure.
type SendResult struct {
	Success        bool   `json:"success"`
	Status         int    `json:"status"`
	Endpoint       string `json:"endpoint"`
	AttemptUsed    int    `json:"attempt_used"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Body           string `json:"body,omitempty"`
	Error          string `json:"error,omitempty"`
}

// SendText posts a text message for the recipient, trying the gateway's known
// payload dialects in order until one is accepted. AttemptUsed records which
// dialect won (1-based). The recipient must already be a bare national-format
// number: digits only, 8 to 15 of them.
func (c *Client) SendText(ctx context.Context, inst Instance, recipient, text string) (SendResult, error) {
	if !recipientPattern.MatchString(recipient) {
		return SendResult{}, crerr.Wrapf(ErrValidation, "recipient %q must be 8-15 digits", redactRecipient(recipient))
	}
	if strings.TrimSpace(text) == "" {
		return SendResult{}, crerr.Wrap(ErrValidation, "message text is empty")
	}

	if c.circuitEnabled {
		if err := c.breaker.Allow(); err != nil {
			c.logger.WarnContext(ctx, "gateway circuit breaker rejected request", "state", c.breaker.State())
			return SendResult{}, fmt.Errorf("gateway is temporarily unavailable: %w", err)
		}
	}

	baseURL, err := validateHTTPBaseURL(inst.ServerURL)
	if err != nil {
		return SendResult{}, crerr.Wrap(err, "invalid gateway server url")
	}
	if strings.TrimSpace(inst.Name) == "" {
		return SendResult{}, crerr.New("gateway instance name is required")
	}

	endpoint := baseURL + "/message/sendText/" + inst.Name
	shapes := []map[string]string{
		{"number": recipient, "text": text},
		{"phone": recipient, "message": text},
	}

	result := SendResult{Endpoint: endpoint}
	started := c.now()
	var lastErr error

	for idx, shape := range shapes {
		body, err := sonic.Marshal(shape)
		if err != nil {
			return SendResult{}, crerr.Wrap(err, "marshal send payload")
		}

		span := trace.SpanFromContext(ctx)
		if span.IsRecording() {
			span.SetAttributes(
				attribute.String("gateway.endpoint", endpoint),
				attribute.Int("gateway.payload_shape", idx+1),
				attribute.String("gateway.request_curl_preview", buildCurlPreview(http.MethodPost, endpoint, truncateForLog(string(body), maxBodyCapture), c.apiKey != "")),
			)
		}

		status, respBody, err := c.postJSON(ctx, endpoint, body)
		elapsed := c.now().Sub(started).Milliseconds()
		result.ResponseTimeMs = elapsed

		if err != nil {
			lastErr = err
			c.logger.WarnContext(ctx, "gateway send attempt failed", "endpoint", endpoint, "shape", idx+1, "error", err)
			continue
		}

		result.Status = status
		result.Body = respBody
		if status/100 == 2 {
			result.Success = true
			result.AttemptUsed = idx + 1
			c.recordCircuitResult(nil)
			c.logger.InfoContext(ctx, "gateway message sent", "endpoint", endpoint, "shape", idx+1, "status", status, "elapsed_ms", elapsed)
			return result, nil
		}

		lastErr = fmt.Errorf("gateway rejected payload shape %d status=%d body=%s", idx+1, status, respBody)
		c.logger.WarnContext(ctx, "gateway rejected send payload", "endpoint", endpoint, "shape", idx+1, "status", status)
	}

	result.Error = "message delivery failed after all payload shapes"
	callErr := lastErr
	if callErr == nil {
		callErr = crerr.New("gateway send failed")
	}
	if result.Status == 0 || isRetryableStatus(result.Status) {
		callErr = fmt.Errorf("%w: %v", errGatewayTransient, callErr)
	}
	c.recordCircuitResult(callErr)

	return result, fmt.Errorf("send text via %s: %w", endpoint, callErr)
}

// postJSON issues one POST attempt bounded by the per-attempt timeout.
// The returned body is already truncated for capture.
func (c *Client) postJSON(ctx context.Context, endpoint string, body []byte) (int, string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return 0, "", crerr.Wrap(err, "create gateway request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("%w: call %s: %v", errGatewayTransient, endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyCapture))
	return resp.StatusCode, strings.TrimSpace(string(raw)), nil
}

// doRaw issues one request with no body, used by session and diagnostics calls.
func (c *Client) doRaw(ctx context.Context, method, endpoint string) (int, string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, method, endpoint, nil)
	if err != nil {
		return 0, "", crerr.Wrap(err, "create gateway request")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("%w: call %s: %v", errGatewayTransient, endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyCapture))
	return resp.StatusCode, strings.TrimSpace(string(raw)), nil
}

func (c *Client) recordCircuitResult(err error) {
	if !c.circuitEnabled || c.breaker == nil {
		return
	}
	if err == nil {
		c.breaker.RecordSuccess()
		return
	}
	if stderrors.Is(err, errGatewayTransient) {
		c.breaker.RecordFailure()
		return
	}
	c.breaker.RecordSuccess()
}

// IsValidationError reports whether err is a local payload rejection,
// meaning no network call happened.
func IsValidationError(err error) bool {
	return stderrors.Is(err, ErrValidation)
}

func isRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusRequestTimeout ||
		statusCode == http.StatusTooManyRequests ||
		statusCode >= http.StatusInternalServerError
}

func validateHTTPBaseURL(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", crerr.New("value is empty")
	}
	if !strings.HasPrefix(candidate, "http://") && !strings.HasPrefix(candidate, "https://") {
		return "", crerr.Newf("%q must use http or https", candidate)
	}

	return strings.TrimRight(candidate, "/"), nil
}

func buildCurlPreview(method, endpoint, body string, withAPIKey bool) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	appendPart := func(part string) {
		if buf.Len() > 0 {
			_ = buf.WriteByte(' ')
		}
		_, _ = buf.WriteString(part)
	}

	appendPart("curl")
	appendPart("-X")
	appendPart(method)
	appendPart(shellQuote(endpoint))
	if withAPIKey {
		appendPart("-H")
		appendPart(shellQuote("apikey: ***"))
	}
	if body != "" {
		appendPart("-H")
		appendPart(shellQuote("Content-Type: application/json"))
		appendPart("-d")
		appendPart(shellQuote(body))
	}

	return buf.String()
}

func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "'\"'\"'") + "'"
}

func truncateForLog(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	return value[:max] + "...(truncated)"
}

// redactRecipient keeps the last two digits so logs stay correlatable
// without exposing a full phone number.
func redactRecipient(value string) string {
	if len(value) <= 2 {
		return "***"
	}
	return "***" + value[len(value)-2:]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
