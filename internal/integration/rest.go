package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// ErrRateLimited matches any StatusError carrying HTTP 429
var ErrRateLimited = errors.New("rate limited")

// StatusError is a non-2xx answer from an external service
type StatusError struct {
	Service    ServiceType
	Code       int
	RetryAfter time.Duration
	Body       string
}

func (e *StatusError) Error() string {
	if e.Code == http.StatusTooManyRequests {
		return fmt.Sprintf("%s rate limited: retry after %s", e.Service, e.RetryAfter)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.Code, e.Body)
}

// Is lets errors.Is(err, ErrRateLimited) match 429 responses
func (e *StatusError) Is(target error) bool {
	return target == ErrRateLimited && e.Code == http.StatusTooManyRequests
}

// restClient is the JSON-over-HTTP plumbing shared by the connectors.
// Every request is paced by the rate limiter and recorded in the audit log.
type restClient struct {
	service  ServiceType
	limitKey string
	baseURL  string
	token    string
	http     *http.Client
	limiter  RateLimiter
	auditor  AuditLogger
	logger   *slog.Logger
}

// restCall describes one request. Channel is recorded in the audit log.
// Check, if set, inspects the decoded Result for in-band API errors.
type restCall struct {
	Method   string
	Endpoint string
	Channel  string
	Body     interface{}
	Result   interface{}
	Check    func() error
}

func (c *restClient) do(ctx context.Context, call restCall) error {
	if c.token == "" {
		return fmt.Errorf("%s credentials not configured", c.service)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.limitKey); err != nil {
			return fmt.Errorf("%s rate limiter: %w", c.service, err)
		}
	}

	audit := &APICall{
		At:       time.Now(),
		Service:  c.service,
		Method:   call.Method,
		Endpoint: call.Endpoint,
		Channel:  call.Channel,
	}
	err := c.send(ctx, call, audit)
	audit.Latency = time.Since(audit.At)
	if err != nil {
		audit.Err = err.Error()
	}
	c.record(ctx, audit)
	return err
}

func (c *restClient) send(ctx context.Context, call restCall, audit *APICall) error {
	var body io.Reader
	if call.Body != nil {
		data, err := json.Marshal(call.Body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, call.Method, c.baseURL+call.Endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if call.Body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", c.service, err)
	}
	defer resp.Body.Close()
	audit.Status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		retry, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &StatusError{
			Service:    c.service,
			Code:       resp.StatusCode,
			RetryAfter: time.Duration(retry) * time.Second,
			Body:       string(snippet),
		}
	}

	if call.Result != nil {
		if err := json.NewDecoder(resp.Body).Decode(call.Result); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", c.service, err)
		}
	}
	if call.Check != nil {
		return call.Check()
	}
	return nil
}

func (c *restClient) record(ctx context.Context, call *APICall) {
	recordCall(ctx, c.auditor, c.logger, call)
}

// auditedTransport paces and audits requests made by SDK clients the same
// way restClient does for hand-built ones.
type auditedTransport struct {
	base     http.RoundTripper
	service  ServiceType
	limitKey string
	limiter  RateLimiter
	auditor  AuditLogger
	logger   *slog.Logger
}

func (t *auditedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx, t.limitKey); err != nil {
			return nil, fmt.Errorf("%s rate limiter: %w", t.service, err)
		}
	}

	call := &APICall{At: time.Now(), Service: t.service, Method: req.Method, Endpoint: req.URL.Path}
	resp, err := t.base.RoundTrip(req)
	call.Latency = time.Since(call.At)
	switch {
	case err != nil:
		call.Err = err.Error()
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		call.Status = resp.StatusCode
		call.Err = http.StatusText(resp.StatusCode)
	default:
		call.Status = resp.StatusCode
	}
	recordCall(ctx, t.auditor, t.logger, call)
	return resp, err
}

func recordCall(ctx context.Context, auditor AuditLogger, logger *slog.Logger, call *APICall) {
	if auditor == nil {
		return
	}
	if err := auditor.Log(ctx, call); err != nil {
		logger.Debug("audit log write failed", "service", call.Service, "endpoint", call.Endpoint, "error", err)
	}
}
