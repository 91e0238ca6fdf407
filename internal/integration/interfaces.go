package integration

import (
	"context"
	"time"
)

// ServiceType names an external service supportflow calls
type ServiceType string

const (
	ServiceTypeSlack    ServiceType = "slack"
	ServiceTypeCalendar ServiceType = "google_calendar"
	ServiceTypeKafka    ServiceType = "kafka"
)

// RateLimiter paces outbound calls per service
type RateLimiter interface {
	Allow(ctx context.Context, service string) (bool, error)
	Wait(ctx context.Context, service string) error
	GetStatus(service string) *RateLimitStatus
}

// RateLimitStatus is a service's hourly quota. Limit is -1 for services
// without a quota.
type RateLimitStatus struct {
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// AuditLogger records outbound API calls
type AuditLogger interface {
	Log(ctx context.Context, call *APICall) error
}

// APICall is one audited request to an external service
type APICall struct {
	ID       int64
	At       time.Time
	Service  ServiceType
	Method   string
	Endpoint string
	Channel  string // Slack channel the call was made for, if any
	Status   int    // 0 when no response was received
	Latency  time.Duration
	Err      string
}

// OK reports whether the call got a 2xx response and decoded cleanly
func (c *APICall) OK() bool {
	return c.Err == "" && c.Status >= 200 && c.Status < 300
}

// CallFilter narrows an audit query. Zero fields match everything.
type CallFilter struct {
	Service    ServiceType
	Channel    string
	Since      time.Time
	Until      time.Time
	FailedOnly bool
	Limit      int
}
