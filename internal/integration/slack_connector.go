package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quantumflow/supportflow/internal/agent"
	"github.com/quantumflow/supportflow/internal/config"
	"github.com/quantumflow/supportflow/internal/models"
)

// SlackConnector posts pipeline output to Slack. It implements the
// workflow's notifier.
type SlackConnector struct {
	client            *restClient
	escalationChannel string
	logger            *slog.Logger
}

// NewSlackConnector creates a new Slack connector. rateLimiter and auditor
// may be nil.
func NewSlackConnector(cfg config.SlackConfig, rateLimiter RateLimiter, auditor AuditLogger, logger *slog.Logger) *SlackConnector {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://slack.com/api"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackConnector{
		client: &restClient{
			service:  ServiceTypeSlack,
			limitKey: "slack",
			baseURL:  cfg.APIURL,
			token:    cfg.BotToken,
			http:     &http.Client{Timeout: 30 * time.Second},
			limiter:  rateLimiter,
			auditor:  auditor,
			logger:   logger,
		},
		escalationChannel: cfg.EscalationChannel,
		logger:            logger,
	}
}

// PostedMessage is the part of a chat.postMessage reply we keep
type PostedMessage struct {
	Channel   string `json:"channel"`
	Timestamp string `json:"ts"`
}

// PostMessage posts text to a channel, in a thread when threadTS is set
func (s *SlackConnector) PostMessage(ctx context.Context, channel, text, threadTS string) (*PostedMessage, error) {
	if channel == "" {
		return nil, fmt.Errorf("slack: no channel given")
	}

	payload := map[string]interface{}{
		"channel": channel,
		"text":    text,
	}
	if threadTS != "" {
		payload["thread_ts"] = threadTS
	}

	var result struct {
		slackStatus
		Channel string `json:"channel"`
		TS      string `json:"ts"`
	}

	err := s.client.do(ctx, restCall{
		Method:   http.MethodPost,
		Endpoint: "/chat.postMessage",
		Channel:  channel,
		Body:     payload,
		Result:   &result,
		Check:    result.check,
	})
	if err != nil {
		return nil, err
	}
	return &PostedMessage{Channel: result.Channel, Timestamp: result.TS}, nil
}

// AuthTest verifies the bot token
func (s *SlackConnector) AuthTest(ctx context.Context) (string, error) {
	var result struct {
		slackStatus
		UserID string `json:"user_id"`
	}
	err := s.client.do(ctx, restCall{
		Method:   http.MethodPost,
		Endpoint: "/auth.test",
		Result:   &result,
		Check:    result.check,
	})
	if err != nil {
		return "", err
	}
	return result.UserID, nil
}

// slackStatus is the envelope every Web API reply carries
type slackStatus struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *slackStatus) check() error {
	if !s.OK {
		return fmt.Errorf("slack API error: %s", s.Error)
	}
	return nil
}

// SendAck replies in the customer's thread with the intake acknowledgement
func (s *SlackConnector) SendAck(ctx context.Context, msg *models.Message, text string) error {
	_, err := s.PostMessage(ctx, msg.ChannelID, text, msg.ReplyThread())
	return err
}

// SendAnswer replies in the customer's thread with the answer and its sources
func (s *SlackConnector) SendAnswer(ctx context.Context, msg *models.Message, text string, sources []string) error {
	_, err := s.PostMessage(ctx, msg.ChannelID, formatAnswer(text, sources), msg.ReplyThread())
	return err
}

// SendEscalation alerts the escalation channel and tells the customer a
// human will follow up. The customer notice is sent even when the alert
// fails.
func (s *SlackConnector) SendEscalation(ctx context.Context, msg *models.Message, reason string) error {
	var errs []error

	if s.escalationChannel != "" {
		if _, err := s.PostMessage(ctx, s.escalationChannel, formatEscalation(msg, reason), ""); err != nil {
			errs = append(errs, fmt.Errorf("escalation alert: %w", err))
		}
	} else {
		s.logger.Warn("no escalation channel configured", "message_id", msg.ID)
	}

	notice := fmt.Sprintf("I've passed this to our %s team. Someone will get back to you shortly.", agent.EscalationTeam(msg.Category))
	if _, err := s.PostMessage(ctx, msg.ChannelID, notice, msg.ReplyThread()); err != nil {
		errs = append(errs, fmt.Errorf("customer notice: %w", err))
	}

	return errors.Join(errs...)
}

func formatAnswer(text string, sources []string) string {
	if len(sources) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\n*Sources:*")
	for _, src := range sources {
		b.WriteString("\n• ")
		b.WriteString(src)
	}
	return b.String()
}

func formatEscalation(msg *models.Message, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":rotating_light: *Escalation for %s*\n", agent.EscalationTeam(msg.Category))
	fmt.Fprintf(&b, "*From:* <@%s> in <#%s>\n", msg.UserID, msg.ChannelID)
	fmt.Fprintf(&b, "*Category:* %s | *Urgency:* %s\n", msg.Category, msg.Urgency)
	fmt.Fprintf(&b, "*Reason:* %s\n", reason)
	for _, line := range strings.Split(msg.Content, "\n") {
		b.WriteString("> ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
