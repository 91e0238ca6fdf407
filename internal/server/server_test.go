package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumflow/supportflow/internal/integration"
	"github.com/quantumflow/supportflow/internal/models"
)

const testSecret = "8f742231b10e8888abcd99yyyzzz85a5"

type recordingProcessor struct {
	mu      sync.Mutex
	msgs    []*models.Message
	release chan struct{}
}

func (p *recordingProcessor) Process(ctx context.Context, msg *models.Message) *models.WorkflowState {
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
	return models.NewWorkflowState(msg, time.Now())
}

func (p *recordingProcessor) received() []*models.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.Message(nil), p.msgs...)
}

type fixedCheck struct{ err error }

func (c fixedCheck) Health(context.Context) error { return c.err }

func newTestServer(p Processor, checks map[string]HealthChecker, maxConcurrent int) *Server {
	return New(Config{
		SigningSecret: testSecret,
		MaxConcurrent: maxConcurrent,
		Version:       "test",
		Processor:     p,
		Checks:        checks,
	})
}

func slackRequest(t *testing.T, secret string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", integration.Sign([]byte(secret), ts, body))
	return req
}

func messageEvent(eventID, text string) integration.EventEnvelope {
	return integration.EventEnvelope{
		Type:    integration.EnvelopeEventCallback,
		EventID: eventID,
		Event: &integration.SlackEvent{
			Type:    "message",
			User:    "U456",
			Text:    text,
			Channel: "C123",
			TS:      "1775037600.000100",
		},
	}
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func waitIdle(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.handlers.Wait(ctx))
}

func TestURLVerificationEchoesChallenge(t *testing.T) {
	s := newTestServer(&recordingProcessor{}, nil, 0)

	rec := serve(s, slackRequest(t, testSecret, integration.EventEnvelope{
		Type:      integration.EnvelopeURLVerification,
		Challenge: "3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P",
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P", body["challenge"])
}

func TestSlackEventsRejectsBadSignature(t *testing.T) {
	p := &recordingProcessor{}
	s := newTestServer(p, nil, 0)

	rec := serve(s, slackRequest(t, "wrong-secret", messageEvent("Ev1", "hello")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	unsigned := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewReader([]byte(`{}`)))
	rec = serve(s, unsigned)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	waitIdle(t, s)
	assert.Empty(t, p.received())
}

func TestSlackEventsRunsPipeline(t *testing.T) {
	p := &recordingProcessor{}
	s := newTestServer(p, nil, 0)

	rec := serve(s, slackRequest(t, testSecret, messageEvent("Ev1", "How do I configure SSO?")))
	require.Equal(t, http.StatusOK, rec.Code)

	waitIdle(t, s)
	msgs := p.received()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Ev1", msgs[0].ID)
	assert.Equal(t, "C123", msgs[0].ChannelID)
	assert.Equal(t, "U456", msgs[0].UserID)
	assert.Equal(t, "How do I configure SSO?", msgs[0].Content)
	assert.Equal(t, "1775037600.000100", msgs[0].ReplyThread())
}

func TestSlackEventsSkipsNonCustomerMessages(t *testing.T) {
	p := &recordingProcessor{}
	s := newTestServer(p, nil, 0)

	bot := messageEvent("Ev1", "I am a bot")
	bot.Event.BotID = "B999"
	edited := messageEvent("Ev2", "edited text")
	edited.Event.Subtype = "message_changed"
	reaction := messageEvent("Ev3", "")
	reaction.Event.Type = "reaction_added"

	for _, env := range []integration.EventEnvelope{bot, edited, reaction} {
		rec := serve(s, slackRequest(t, testSecret, env))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	waitIdle(t, s)
	assert.Empty(t, p.received())
}

func TestSlackEventsDeduplicatesDeliveries(t *testing.T) {
	p := &recordingProcessor{}
	s := newTestServer(p, nil, 0)

	require.Equal(t, http.StatusOK, serve(s, slackRequest(t, testSecret, messageEvent("Ev1", "hello"))).Code)
	require.Equal(t, http.StatusOK, serve(s, slackRequest(t, testSecret, messageEvent("Ev1", "hello"))).Code)

	retry := slackRequest(t, testSecret, messageEvent("Ev1", "hello"))
	retry.Header.Set("X-Slack-Retry-Num", "1")
	retry.Header.Set("X-Slack-Retry-Reason", "http_timeout")
	require.Equal(t, http.StatusOK, serve(s, retry).Code)

	waitIdle(t, s)
	assert.Len(t, p.received(), 1)
}

func TestSlackEventsRetryAfterSheddingIsProcessed(t *testing.T) {
	p := &recordingProcessor{release: make(chan struct{})}
	s := newTestServer(p, nil, 1)

	require.Equal(t, http.StatusOK, serve(s, slackRequest(t, testSecret, messageEvent("Ev1", "first"))).Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(s, slackRequest(t, testSecret, messageEvent("Ev2", "second"))).Code)

	close(p.release)
	waitIdle(t, s)

	retry := slackRequest(t, testSecret, messageEvent("Ev2", "second"))
	retry.Header.Set("X-Slack-Retry-Num", "1")
	retry.Header.Set("X-Slack-Retry-Reason", "http_error")
	require.Equal(t, http.StatusOK, serve(s, retry).Code)

	again := slackRequest(t, testSecret, messageEvent("Ev2", "second"))
	again.Header.Set("X-Slack-Retry-Num", "2")
	require.Equal(t, http.StatusOK, serve(s, again).Code)

	waitIdle(t, s)
	got := p.received()
	require.Len(t, got, 2)
	assert.Equal(t, "Ev2", got[1].ID)
}

func TestSlackEventsSheddingWhenBusy(t *testing.T) {
	p := &recordingProcessor{release: make(chan struct{})}
	s := newTestServer(p, nil, 1)

	require.Equal(t, http.StatusOK, serve(s, slackRequest(t, testSecret, messageEvent("Ev1", "first"))).Code)
	rec := serve(s, slackRequest(t, testSecret, messageEvent("Ev2", "second")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	close(p.release)
	waitIdle(t, s)
	assert.Len(t, p.received(), 1)
}

func TestHealthz(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		s := newTestServer(&recordingProcessor{}, map[string]HealthChecker{"llm": fixedCheck{}}, 0)
		rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Data HealthResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body.Data.Status)
		assert.Equal(t, "ok", body.Data.Checks["llm"])
	})

	t.Run("unhealthy", func(t *testing.T) {
		s := newTestServer(&recordingProcessor{}, map[string]HealthChecker{
			"llm":       fixedCheck{err: errors.New("ollama unreachable")},
			"knowledge": fixedCheck{},
		}, 0)
		rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body struct {
			Data HealthResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "unhealthy", body.Data.Status)
		assert.Equal(t, "ollama unreachable", body.Data.Checks["llm"])
		assert.Equal(t, "ok", body.Data.Checks["knowledge"])
	})
}

func TestRequestIDPropagation(t *testing.T) {
	s := newTestServer(&recordingProcessor{}, nil, 0)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := serve(s, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSlackEventsRequiresPost(t *testing.T) {
	s := newTestServer(&recordingProcessor{}, nil, 0)
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/slack/events", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEventDedupExpires(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	d := newEventDedup(time.Minute)
	d.now = func() time.Time { return now }

	assert.True(t, d.firstSeen("Ev1"))
	assert.False(t, d.firstSeen("Ev1"))
	assert.True(t, d.firstSeen(""))
	assert.True(t, d.firstSeen(""))

	now = now.Add(2 * time.Minute)
	assert.True(t, d.firstSeen("Ev1"))

	d.forget("Ev1")
	assert.True(t, d.firstSeen("Ev1"))
}
